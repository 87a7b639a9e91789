package app

import (
	"context"
	"fmt"
	"sync"

	"virtual-lab-service/internal/domain"
)

// ProfileStore owns the in-memory profile. Every mutation is written to the
// local cache first so memory and cache never disagree.
type ProfileStore struct {
	local LocalStore

	mu          sync.Mutex
	current     *domain.Profile
	subscribers map[chan *domain.Profile]struct{}
}

func NewProfileStore(local LocalStore) *ProfileStore {
	return &ProfileStore{
		local:       local,
		subscribers: make(map[chan *domain.Profile]struct{}),
	}
}

// Get returns a snapshot of the current profile.
func (s *ProfileStore) Get() (domain.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Profile{}, false
	}
	return s.current.Clone(), true
}

// Publish replaces the profile in memory and in the local cache.
func (s *ProfileStore) Publish(ctx context.Context, p domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishLocked(ctx, p.Clone())
}

// Update applies fn to the current profile under the store lock.
// It returns domain.ErrUnauthenticated when no profile is published.
func (s *ProfileStore) Update(ctx context.Context, fn func(domain.Profile) domain.Profile) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return domain.Profile{}, domain.ErrUnauthenticated
	}
	next := fn(s.current.Clone())
	if err := s.publishLocked(ctx, next); err != nil {
		return domain.Profile{}, err
	}
	return next.Clone(), nil
}

// Clear drops the profile from memory and from the local cache.
// Memory is cleared even when the cache delete fails.
func (s *ProfileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.broadcastLocked()
	if err := s.local.ClearProfile(ctx); err != nil {
		return fmt.Errorf("clear cached profile: %w", err)
	}
	return nil
}

// restore publishes a profile that was just read from the cache.
func (s *ProfileStore) restore(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p.Clone()
	s.current = &cp
	s.broadcastLocked()
}

// Subscribe returns a channel of profile snapshots (nil means signed out).
// The caller must invoke the returned cancel function to avoid leaks.
func (s *ProfileStore) Subscribe() (<-chan *domain.Profile, func()) {
	ch := make(chan *domain.Profile, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *ProfileStore) publishLocked(ctx context.Context, p domain.Profile) error {
	if err := s.local.SaveProfile(ctx, p); err != nil {
		return fmt.Errorf("cache profile: %w", err)
	}
	s.current = &p
	s.broadcastLocked()
	return nil
}

func (s *ProfileStore) broadcastLocked() {
	snapshot := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Slow subscriber: replace the oldest queued snapshot with the newest.
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}

func (s *ProfileStore) snapshotLocked() *domain.Profile {
	if s.current == nil {
		return nil
	}
	cp := s.current.Clone()
	return &cp
}
