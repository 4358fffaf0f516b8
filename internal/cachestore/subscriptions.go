package cachestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Subscription is a push subscription posted by the host page: the push
// service endpoint plus its crypto keys, kept so the send fan-out can
// target this client later.
type Subscription struct {
	ID        string
	Endpoint  string
	Keys      json.RawMessage
	CreatedAt time.Time
}

// SaveSubscription records a subscription. Re-subscribing the same endpoint
// keeps the original id.
func (s *Store) SaveSubscription(endpoint string, keys json.RawMessage) (Subscription, error) {
	if keys == nil {
		keys = json.RawMessage("{}")
	}
	sub := Subscription{
		ID:        uuid.New().String(),
		Endpoint:  endpoint,
		Keys:      keys,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO subscriptions (id, endpoint, keys_json, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (endpoint) DO UPDATE SET keys_json = excluded.keys_json`,
		sub.ID, sub.Endpoint, string(sub.Keys), sub.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return Subscription{}, &StorageError{Op: "saving subscription", Err: err}
	}

	// On conflict the stored row keeps its id; read it back.
	var id, createdAt string
	err = s.db.QueryRow(`SELECT id, created_at FROM subscriptions WHERE endpoint = ?`, endpoint).
		Scan(&id, &createdAt)
	if err != nil {
		return Subscription{}, &StorageError{Op: "reading subscription", Err: err}
	}
	sub.ID = id
	if sub.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Subscription{}, fmt.Errorf("parsing subscription created_at: %w", err)
	}
	return sub, nil
}

// Subscriptions returns all stored subscriptions, oldest first.
func (s *Store) Subscriptions() ([]Subscription, error) {
	rows, err := s.db.Query(`SELECT id, endpoint, keys_json, created_at FROM subscriptions ORDER BY created_at ASC`)
	if err != nil {
		return nil, &StorageError{Op: "listing subscriptions", Err: err}
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var keys, createdAt string
		if err := rows.Scan(&sub.ID, &sub.Endpoint, &keys, &createdAt); err != nil {
			return nil, &StorageError{Op: "scanning subscription", Err: err}
		}
		sub.Keys = json.RawMessage(keys)
		if sub.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing subscription created_at: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteSubscription removes a subscription by id.
func (s *Store) DeleteSubscription(id string) error {
	res, err := s.db.Exec(`DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return &StorageError{Op: "deleting subscription", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StorageError{Op: "checking deleted subscription", Err: err}
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
