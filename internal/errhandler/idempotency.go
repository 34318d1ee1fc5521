package errhandler

import (
	"sync"
	"time"
)

type idemKey struct {
	queryID   string
	errorCode string
}

type idemEntry struct {
	record   *Record
	storedAt time.Time
}

// idempotencyStore remembers handled errors for the TTL so duplicate reports
// return the identical record.
type idempotencyStore struct {
	mu      sync.Mutex
	entries map[idemKey]idemEntry
	ttl     time.Duration
	now     func() time.Time
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &idempotencyStore{
		entries: make(map[idemKey]idemEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *idempotencyStore) get(queryID, errorCode string) (*Record, bool) {
	key := idemKey{queryID, errorCode}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().Sub(entry.storedAt) >= s.ttl {
		delete(s.entries, key)
		return nil, false
	}
	return entry.record, true
}

func (s *idempotencyStore) put(queryID, errorCode string, rec *Record) {
	s.mu.Lock()
	s.entries[idemKey{queryID, errorCode}] = idemEntry{record: rec, storedAt: s.now()}
	s.mu.Unlock()
}
