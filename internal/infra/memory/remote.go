package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"virtual-lab-service/internal/domain"
	"github.com/google/uuid"
)

// Tables is an in-process stand-in for the remote users and
// user_challenge_submissions tables.
type Tables struct {
	atomicUpsert bool

	mu          sync.RWMutex
	users       map[string]domain.UserRecord
	submissions map[submissionKey]domain.SubmissionRecord
}

type submissionKey struct {
	userID      string
	challengeID string
}

// NewTables creates empty tables. With atomicUpsert=false, UpsertSubmission
// behaves like a plain insert and reports domain.ErrConflict for existing rows.
func NewTables(atomicUpsert bool) *Tables {
	return &Tables{
		atomicUpsert: atomicUpsert,
		users:        make(map[string]domain.UserRecord),
		submissions:  make(map[submissionKey]domain.SubmissionRecord),
	}
}

func (t *Tables) GetUser(_ context.Context, id string) (domain.UserRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.users[id]
	if !ok {
		return domain.UserRecord{}, domain.ErrNotFound
	}
	return u, nil
}

func (t *Tables) InsertUser(_ context.Context, u domain.UserRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.users[u.ID]; ok {
		return domain.ErrConflict
	}
	t.users[u.ID] = u
	return nil
}

func (t *Tables) UpsertSubmission(_ context.Context, rec domain.SubmissionRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := submissionKey{rec.UserID, rec.ChallengeID}
	if _, ok := t.submissions[key]; ok && !t.atomicUpsert {
		return domain.ErrConflict
	}
	t.submissions[key] = rec
	return nil
}

func (t *Tables) UpdateSubmission(_ context.Context, rec domain.SubmissionRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := submissionKey{rec.UserID, rec.ChallengeID}
	if _, ok := t.submissions[key]; !ok {
		return domain.ErrNotFound
	}
	t.submissions[key] = rec
	return nil
}

func (t *Tables) ListSubmissions(_ context.Context, userID string) ([]domain.SubmissionRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.SubmissionRecord, 0)
	for key, rec := range t.submissions {
		if key.userID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

// ErrNoDevUser is returned when dev sign-in is requested without a configured user.
var ErrNoDevUser = errors.New("no development user configured")

// Identity is a development identity provider: sign-in immediately issues a
// session for the configured user instead of redirecting to a real provider.
type Identity struct {
	devUser *domain.RemoteUser
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	session  *domain.RemoteSession
	handlers map[int]func(domain.AuthEvent, *domain.RemoteSession)
	nextID   int
}

func NewIdentity(devUser *domain.RemoteUser, ttl time.Duration) *Identity {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Identity{
		devUser:  devUser,
		ttl:      ttl,
		now:      time.Now,
		handlers: make(map[int]func(domain.AuthEvent, *domain.RemoteSession)),
	}
}

// SignInWithOAuth signs the development user in and returns redirectTo.
func (i *Identity) SignInWithOAuth(_ context.Context, _, redirectTo, _ string) (string, error) {
	if i.devUser == nil {
		return "", ErrNoDevUser
	}
	i.SignIn(*i.devUser)
	return redirectTo, nil
}

// SignIn issues a session for user and notifies listeners.
func (i *Identity) SignIn(user domain.RemoteUser) {
	i.mu.Lock()
	session := &domain.RemoteSession{
		AccessToken: uuid.NewString(),
		ExpiresAt:   i.now().Add(i.ttl),
		User:        user,
	}
	i.session = session
	i.mu.Unlock()

	cp := *session
	i.notify(domain.AuthSignedIn, &cp)
}

func (i *Identity) GetSession(context.Context) (*domain.RemoteSession, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.session == nil || !i.session.ExpiresAt.After(i.now()) {
		return nil, nil
	}
	cp := *i.session
	return &cp, nil
}

func (i *Identity) OnAuthStateChange(handler func(domain.AuthEvent, *domain.RemoteSession)) func() {
	i.mu.Lock()
	defer i.mu.Unlock()
	id := i.nextID
	i.nextID++
	i.handlers[id] = handler
	return func() {
		i.mu.Lock()
		delete(i.handlers, id)
		i.mu.Unlock()
	}
}

func (i *Identity) SignOut(context.Context) error {
	i.mu.Lock()
	had := i.session != nil
	i.session = nil
	i.mu.Unlock()
	if had {
		i.notify(domain.AuthSignedOut, nil)
	}
	return nil
}

func (i *Identity) notify(event domain.AuthEvent, session *domain.RemoteSession) {
	i.mu.Lock()
	handlers := make([]func(domain.AuthEvent, *domain.RemoteSession), 0, len(i.handlers))
	for _, h := range i.handlers {
		handlers = append(handlers, h)
	}
	i.mu.Unlock()
	for _, h := range handlers {
		h(event, session)
	}
}
