package cachestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// dataKeyPrefix namespaces the generic JSON records the worker keeps
// alongside response snapshots (latest prices, inventory status, ...).
// The prefix cannot collide with real request URLs, which are absolute paths.
const dataKeyPrefix = "sw-data:"

// Partition is a named, versioned store of response snapshots. Opening the
// same name twice yields handles onto the same rows; the partition API is
// atomic per operation and callers must tolerate interleaving.
type Partition struct {
	store *Store
	name  string
}

// Name returns the partition's versioned name, e.g. "mufc-static-v2.1".
func (p *Partition) Name() string { return p.name }

// Open creates the named partition if absent and returns a handle to it.
// Idempotent: a second Open of the same name never duplicates the partition.
func (s *Store) Open(name string) (*Partition, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.Exec(
		`INSERT INTO partitions (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		name, now,
	); err != nil {
		return nil, &StorageError{Op: "opening partition " + name, Err: err}
	}
	return &Partition{store: s, name: name}, nil
}

// Names enumerates all existing partition names.
func (s *Store) Names() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM partitions ORDER BY name`)
	if err != nil {
		return nil, &StorageError{Op: "listing partitions", Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, &StorageError{Op: "scanning partition name", Err: err}
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// PurgeStale deletes every partition whose name is not in activeNames,
// together with all of its entries. Called exactly once during activation,
// before the new worker version starts serving requests.
func (s *Store) PurgeStale(activeNames map[string]bool) ([]string, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}

	var purged []string
	for _, name := range names {
		if activeNames[name] {
			continue
		}
		if err := s.Delete(name); err != nil {
			return purged, err
		}
		purged = append(purged, name)
	}
	return purged, nil
}

// Delete removes a partition and all of its entries. Deleting a partition
// that does not exist is a no-op.
func (s *Store) Delete(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &StorageError{Op: "beginning delete of " + name, Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM entries WHERE partition = ?`, name); err != nil {
		return &StorageError{Op: "deleting entries of " + name, Err: err}
	}
	if _, err := tx.Exec(`DELETE FROM partitions WHERE name = ?`, name); err != nil {
		return &StorageError{Op: "deleting partition " + name, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "committing delete of " + name, Err: err}
	}
	return nil
}

// Put stores a response snapshot, overwriting any previous entry for the
// same URL. An overwritten entry counts as a fresh insertion for eviction
// purposes. Entries with a non-200 status are rejected by callers via
// Entry.Cacheable; Put itself stores whatever it is given.
func (p *Partition) Put(e Entry) error {
	headers, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	tx, err := p.store.db.Begin()
	if err != nil {
		return &StorageError{Op: "beginning put", Err: err}
	}
	defer tx.Rollback()

	// Delete-then-insert so the replacement takes a new seq.
	if _, err := tx.Exec(`DELETE FROM entries WHERE partition = ? AND url = ?`, p.name, e.URL); err != nil {
		return &StorageError{Op: "replacing entry " + e.URL, Err: err}
	}
	if _, err := tx.Exec(
		`INSERT INTO entries (partition, url, status, headers, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.name, e.URL, e.Status, string(headers), e.Body, storedAt.Format(time.RFC3339),
	); err != nil {
		return &StorageError{Op: "inserting entry " + e.URL, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "committing put", Err: err}
	}
	return nil
}

// Get returns the snapshot for url, or ErrNotFound.
func (p *Partition) Get(url string) (Entry, error) {
	return p.store.match(`partition = ? AND url = ?`, p.name, url)
}

// Match looks for url across all partitions, newest insertion first. Used
// as the last-resort fallback when a strategy fails unexpectedly.
func (s *Store) Match(url string) (Entry, error) {
	return s.match(`url = ?`, url)
}

func (s *Store) match(where string, args ...any) (Entry, error) {
	var e Entry
	var headers, storedAt string
	err := s.db.QueryRow(
		`SELECT url, status, headers, body, stored_at FROM entries WHERE `+where+` ORDER BY seq DESC LIMIT 1`,
		args...,
	).Scan(&e.URL, &e.Status, &headers, &e.Body, &storedAt)
	if err == sql.ErrNoRows {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, &StorageError{Op: "reading entry", Err: err}
	}
	e.Header = http.Header{}
	if err := json.Unmarshal([]byte(headers), &e.Header); err != nil {
		return Entry{}, fmt.Errorf("decoding headers: %w", err)
	}
	if e.StoredAt, err = time.Parse(time.RFC3339, storedAt); err != nil {
		return Entry{}, fmt.Errorf("parsing stored_at: %w", err)
	}
	return e, nil
}

// DeleteEntry removes a single snapshot. Missing entries are a no-op.
func (p *Partition) DeleteEntry(url string) error {
	if _, err := p.store.db.Exec(
		`DELETE FROM entries WHERE partition = ? AND url = ?`, p.name, url,
	); err != nil {
		return &StorageError{Op: "deleting entry " + url, Err: err}
	}
	return nil
}

// Keys returns all entry URLs in insertion order, oldest first. Data
// records are excluded.
func (p *Partition) Keys() ([]string, error) {
	rows, err := p.store.db.Query(
		`SELECT url FROM entries WHERE partition = ? AND url NOT LIKE ? ORDER BY seq ASC`,
		p.name, dataKeyPrefix+"%",
	)
	if err != nil {
		return nil, &StorageError{Op: "listing entries", Err: err}
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, &StorageError{Op: "scanning entry url", Err: err}
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// Count returns the number of response snapshots in the partition.
func (p *Partition) Count() (int, error) {
	var n int
	err := p.store.db.QueryRow(
		`SELECT COUNT(*) FROM entries WHERE partition = ? AND url NOT LIKE ?`,
		p.name, dataKeyPrefix+"%",
	).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "counting entries", Err: err}
	}
	return n, nil
}

// Evict trims the partition to at most maxEntries snapshots, deleting the
// oldest insertions first. Safe to run concurrently with reads: a read of
// an evicted key simply misses.
func (p *Partition) Evict(maxEntries int) (int, error) {
	if maxEntries < 0 {
		return 0, nil
	}
	res, err := p.store.db.Exec(
		`DELETE FROM entries WHERE partition = ? AND url NOT LIKE ? AND seq NOT IN (
			SELECT seq FROM entries WHERE partition = ? AND url NOT LIKE ? ORDER BY seq DESC LIMIT ?
		)`,
		p.name, dataKeyPrefix+"%", p.name, dataKeyPrefix+"%", maxEntries,
	)
	if err != nil {
		return 0, &StorageError{Op: "evicting entries", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "counting evictions", Err: err}
	}
	return int(n), nil
}

// --- Data records ---
//
// The worker keeps a handful of JSON documents (latest prices, inventory
// status) in the dynamic partition. They share the entries table but are
// namespaced so they never collide with response snapshots and are never
// swept by Evict.

// PutData stores v as a JSON record under key.
func (p *Partition) PutData(key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding data record %s: %w", key, err)
	}
	return p.Put(Entry{
		URL:    dataKeyPrefix + key,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	})
}

// GetData decodes the JSON record under key into v, or returns ErrNotFound.
func (p *Partition) GetData(key string, v any) error {
	e, err := p.Get(dataKeyPrefix + key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decoding data record %s: %w", key, err)
	}
	return nil
}

// DeleteData removes the record under key. Missing records are a no-op.
func (p *Partition) DeleteData(key string) error {
	return p.DeleteEntry(dataKeyPrefix + key)
}
