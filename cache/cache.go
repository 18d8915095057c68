// Package cache is the in-memory artifact store for the progress-streaming
// flow: finished PDFs wait here, keyed by task id, until retrieved or
// evicted after the retention window.
package cache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type entry struct {
	pdf       []byte
	expiresAt time.Time
}

// Store maps task ids to finished PDFs with a fixed TTL.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	log     zerolog.Logger

	// test seam for the eviction timer
	afterFunc func(time.Duration, func()) *time.Timer
}

// New creates a store whose entries live for ttl after insertion.
func New(ttl time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		ttl:       ttl,
		entries:   make(map[string]entry),
		log:       logger.With().Str("component", "artifact-cache").Logger(),
		afterFunc: time.AfterFunc,
	}
}

// Put stores a finished PDF and schedules its eviction.
func (s *Store) Put(id string, pdf []byte) {
	s.mu.Lock()
	s.entries[id] = entry{pdf: pdf, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	s.afterFunc(s.ttl, func() {
		s.Delete(id)
	})

	s.log.Debug().Str("task_id", id).Int("bytes", len(pdf)).Msg("artifact cached")
}

// Get returns the PDF for id if it is still retrievable. An entry past
// its expiry is treated as gone even if the eviction timer has not fired.
func (s *Store) Get(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.pdf, true
}

// Delete removes an entry. Safe to call for ids that were never stored or
// were already evicted.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	_, existed := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if existed {
		s.log.Debug().Str("task_id", id).Msg("artifact evicted")
	}
}

// Len reports how many artifacts are currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
