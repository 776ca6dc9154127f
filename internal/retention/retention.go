// Package retention tracks links that have already been handled so they are
// not published twice.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"socialbot/internal/model"
)

// Backend persists retention entries.
type Backend interface {
	LoadRetention(ctx context.Context) ([]model.RetentionEntry, error)
	InsertRetention(ctx context.Context, entry model.RetentionEntry) error
	PurgeRetention(ctx context.Context, cutoff time.Time) (int, error)
}

// Store is an in-memory index of handled links, written through to a Backend.
type Store struct {
	backend Backend
	log     *slog.Logger

	mu    sync.RWMutex
	links map[string]time.Time
}

// New creates an empty Store. Call Load to populate it from the backend.
func New(backend Backend, log *slog.Logger) *Store {
	return &Store{
		backend: backend,
		log:     log,
		links:   make(map[string]time.Time),
	}
}

// Load replaces the in-memory index with the backend contents.
func (s *Store) Load(ctx context.Context) error {
	entries, err := s.backend.LoadRetention(ctx)
	if err != nil {
		return fmt.Errorf("load retention: %w", err)
	}

	links := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		links[e.Link] = e.FirstSeenAt
	}

	s.mu.Lock()
	s.links = links
	s.mu.Unlock()
	return nil
}

// Contains reports whether link has already been recorded.
func (s *Store) Contains(link string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.links[link]
	return ok
}

// Record adds link with the given first-seen time. It returns false if the
// link was already present, in which case the original time is kept.
func (s *Store) Record(ctx context.Context, link string, observedAt time.Time) bool {
	s.mu.Lock()
	if _, ok := s.links[link]; ok {
		s.mu.Unlock()
		return false
	}
	s.links[link] = observedAt
	s.mu.Unlock()

	entry := model.RetentionEntry{Link: link, FirstSeenAt: observedAt}
	if err := s.backend.InsertRetention(ctx, entry); err != nil {
		s.log.Error("persist retention entry", "link", link, "error", err)
	}
	return true
}

// PurgeOlderThan removes every entry first seen before cutoff and returns how
// many in-memory entries were dropped.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	purged := 0
	for link, seen := range s.links {
		if seen.Before(cutoff) {
			delete(s.links, link)
			purged++
		}
	}
	s.mu.Unlock()

	if _, err := s.backend.PurgeRetention(ctx, cutoff); err != nil {
		return purged, fmt.Errorf("purge retention: %w", err)
	}
	return purged, nil
}

// Flush persists pending writes. Entries are written through on Record, so
// there is nothing to do.
func (s *Store) Flush(context.Context) error {
	return nil
}

// Len returns the number of retained links.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}
