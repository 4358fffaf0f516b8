package cachestore

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound is returned when a requested entry or record does not exist.
var ErrNotFound = errors.New("not found")

// StorageError wraps failures of the underlying partition storage (quota,
// corruption, unavailable database). Strategies treat it as a cache miss.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Entry is one response snapshot keyed by request URL inside a partition:
// status, headers, and body bytes. Entries are written whole and never
// partially updated.
type Entry struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Cacheable reports whether the entry may be written into a partition.
// Only status 200 responses are stored; redirects, errors, and opaque
// responses would poison the cache with unservable content.
func (e Entry) Cacheable() bool {
	return e.Status == http.StatusOK
}

// Write replays the snapshot onto an HTTP response.
func (e Entry) Write(w http.ResponseWriter) error {
	for k, vals := range e.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(e.Status)
	_, err := w.Write(e.Body)
	return err
}
