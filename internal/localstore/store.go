// Package localstore keeps device-local state: the cached profile, pending
// submissions and draft answer sets, each in its own key namespace.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"virtual-lab-service/internal/domain"
)

const (
	profileKey    = "virtualLabUser"
	pendingPrefix = "pending-submission-"
	draftPrefix   = "exercise-draft-"
)

// KV is the raw key/value backend (memory, SQLite file, Redis).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Store maps the three namespaces onto a KV backend. Values are JSON.
// Malformed entries read as absent.
type Store struct {
	kv  KV
	log *slog.Logger
}

func New(kv KV, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{kv: kv, log: log}
}

// PendingKey returns the key holding the pending submission for a challenge.
func PendingKey(challengeID string) string { return pendingPrefix + challengeID }

// DraftKey returns the key holding the draft answers for a challenge.
func DraftKey(challengeID string) string { return draftPrefix + challengeID }

// ProfileKey returns the singleton key of the cached profile.
func ProfileKey() string { return profileKey }

// LoadProfile returns the cached profile, or nil if none is cached.
func (s *Store) LoadProfile(ctx context.Context) (*domain.Profile, error) {
	var p domain.Profile
	ok, err := s.read(ctx, profileKey, &p)
	if err != nil || !ok {
		return nil, err
	}
	if p.ID == "" {
		s.log.Warn("discarding cached profile without id", "key", profileKey)
		return nil, nil
	}
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p domain.Profile) error {
	return s.write(ctx, profileKey, p)
}

func (s *Store) ClearProfile(ctx context.Context) error {
	if err := s.kv.Delete(ctx, profileKey); err != nil {
		return fmt.Errorf("clear profile: %w", err)
	}
	return nil
}

func (s *Store) PutPending(ctx context.Context, p domain.PendingSubmission) error {
	return s.write(ctx, PendingKey(p.ChallengeID), p)
}

func (s *Store) DeletePending(ctx context.Context, challengeID string) error {
	if err := s.kv.Delete(ctx, PendingKey(challengeID)); err != nil {
		return fmt.Errorf("delete pending %s: %w", challengeID, err)
	}
	return nil
}

// ListPending returns every readable pending submission ordered by challenge ID.
func (s *Store) ListPending(ctx context.Context) ([]domain.PendingSubmission, error) {
	keys, err := s.kv.Keys(ctx, pendingPrefix)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	sort.Strings(keys)
	out := make([]domain.PendingSubmission, 0, len(keys))
	for _, key := range keys {
		var p domain.PendingSubmission
		ok, err := s.read(ctx, key, &p)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if p.ChallengeID == "" {
			p.ChallengeID = strings.TrimPrefix(key, pendingPrefix)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) PutDraft(ctx context.Context, d domain.DraftAnswerSet) error {
	return s.write(ctx, DraftKey(d.ChallengeID), d)
}

// LoadDraft returns the draft for challengeID, or nil if there is none.
func (s *Store) LoadDraft(ctx context.Context, challengeID string) (*domain.DraftAnswerSet, error) {
	var d domain.DraftAnswerSet
	ok, err := s.read(ctx, DraftKey(challengeID), &d)
	if err != nil || !ok {
		return nil, err
	}
	d.ChallengeID = challengeID
	if d.Answers == nil {
		d.Answers = map[string]string{}
	}
	return &d, nil
}

func (s *Store) DeleteDraft(ctx context.Context, challengeID string) error {
	if err := s.kv.Delete(ctx, DraftKey(challengeID)); err != nil {
		return fmt.Errorf("delete draft %s: %w", challengeID, err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.log.Warn("ignoring malformed local entry", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
