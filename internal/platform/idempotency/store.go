// Package idempotency replays the first response of a POST that is retried
// with the same Idempotency-Key header.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInFlight is returned by Begin while another request holds the key.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

// Record is a stored response.
type Record struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// Store claims keys and keeps finished responses for a TTL.
//
// Begin returns (nil, nil) when the caller now owns key, the finished
// Record when one exists, or ErrInFlight when the key is claimed but not
// yet finished.
type Store interface {
	Begin(ctx context.Context, key string, ttl time.Duration) (*Record, error)
	Finish(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Abort(ctx context.Context, key string) error
}

type memoryEntry struct {
	rec     *Record
	expires time.Time
}

// MemoryStore is a process-local Store for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Begin(_ context.Context, key string, ttl time.Duration) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		if e.rec == nil {
			return nil, ErrInFlight
		}
		rec := *e.rec
		return &rec, nil
	}
	s.entries[key] = memoryEntry{expires: now.Add(ttl)}
	s.sweep(now)
	return nil, nil
}

func (s *MemoryStore) Finish(_ context.Context, key string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{rec: &rec, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// sweep drops expired entries. Callers hold s.mu.
func (s *MemoryStore) sweep(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
}
