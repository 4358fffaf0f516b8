package cachestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is one recorded client mutation awaiting replay. Actions are only
// ever appended or cleared as a drained prefix; they are never updated in
// place.
type Action struct {
	Seq        int64
	ID         string
	Kind       string // "cart", "wishlist", "order"
	Payload    json.RawMessage
	EnqueuedAt time.Time
}

// EnqueueAction durably records a deferred action and returns it with its
// assigned sequence number. Within a kind, sequence order is replay order.
func (s *Store) EnqueueAction(kind string, payload json.RawMessage) (Action, error) {
	a := Action{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	res, err := s.db.Exec(
		`INSERT INTO actions (id, kind, payload, enqueued_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.Kind, string(a.Payload), a.EnqueuedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Action{}, &StorageError{Op: "enqueueing " + kind + " action", Err: err}
	}
	if a.Seq, err = res.LastInsertId(); err != nil {
		return Action{}, &StorageError{Op: "reading action seq", Err: err}
	}
	return a, nil
}

// PendingActions returns all queued actions for kind in enqueue order.
func (s *Store) PendingActions(kind string) ([]Action, error) {
	rows, err := s.db.Query(
		`SELECT seq, id, kind, payload, enqueued_at FROM actions WHERE kind = ? ORDER BY seq ASC`,
		kind,
	)
	if err != nil {
		return nil, &StorageError{Op: "listing " + kind + " actions", Err: err}
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		var payload, enqueuedAt string
		if err := rows.Scan(&a.Seq, &a.ID, &a.Kind, &payload, &enqueuedAt); err != nil {
			return nil, &StorageError{Op: "scanning action", Err: err}
		}
		a.Payload = json.RawMessage(payload)
		if a.EnqueuedAt, err = time.Parse(time.RFC3339, enqueuedAt); err != nil {
			return nil, fmt.Errorf("parsing enqueued_at for action %s: %w", a.ID, err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// ClearActionsThrough deletes every action of kind with seq <= through.
// Clearing only acknowledged prefixes keeps the failed action and all of
// its successors queued for the next sync cycle.
func (s *Store) ClearActionsThrough(kind string, through int64) error {
	if _, err := s.db.Exec(
		`DELETE FROM actions WHERE kind = ? AND seq <= ?`, kind, through,
	); err != nil {
		return &StorageError{Op: "clearing " + kind + " actions", Err: err}
	}
	return nil
}

// ActionCount returns the number of queued actions for kind.
func (s *Store) ActionCount(kind string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM actions WHERE kind = ?`, kind).Scan(&n); err != nil {
		return 0, &StorageError{Op: "counting " + kind + " actions", Err: err}
	}
	return n, nil
}
