package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"virtual-lab-service/internal/app"
	"virtual-lab-service/internal/domain"
	"virtual-lab-service/internal/infra/memory"
	"virtual-lab-service/internal/localstore"
)

var errRemoteDown = errors.New("remote unavailable")

type fakeIdentity struct {
	mu       sync.Mutex
	session  *domain.RemoteSession
	handlers map[int]func(domain.AuthEvent, *domain.RemoteSession)
	nextID   int

	signOuts     atomic.Int32
	signOutGate  chan struct{} // when set, SignOut blocks until closed
	signOutEnter chan struct{}
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{handlers: make(map[int]func(domain.AuthEvent, *domain.RemoteSession))}
}

func (f *fakeIdentity) SignInWithOAuth(_ context.Context, provider, redirectTo, domainHint string) (string, error) {
	return "https://accounts.example.test/auth?provider=" + provider + "&hd=" + domainHint + "&redirect=" + redirectTo, nil
}

func (f *fakeIdentity) GetSession(context.Context) (*domain.RemoteSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, nil
	}
	s := *f.session
	return &s, nil
}

func (f *fakeIdentity) OnAuthStateChange(handler func(domain.AuthEvent, *domain.RemoteSession)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.handlers[id] = handler
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.signOuts.Add(1)
	if f.signOutEnter != nil {
		f.signOutEnter <- struct{}{}
	}
	if f.signOutGate != nil {
		<-f.signOutGate
	}
	f.setSession(nil)
	return nil
}

func (f *fakeIdentity) setSession(s *domain.RemoteSession) {
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
}

func (f *fakeIdentity) emit(event domain.AuthEvent, s *domain.RemoteSession) {
	f.mu.Lock()
	handlers := make([]func(domain.AuthEvent, *domain.RemoteSession), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(event, s)
	}
}

type fakeUsers struct {
	mu      sync.Mutex
	rows    map[string]domain.UserRecord
	getErr  error
	insErr  error
	inserts atomic.Int32

	lookupEnter chan struct{} // signalled when GetUser starts
	lookupGate  chan struct{} // when set, GetUser blocks until closed
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{rows: make(map[string]domain.UserRecord)}
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (domain.UserRecord, error) {
	if f.lookupEnter != nil {
		f.lookupEnter <- struct{}{}
	}
	if f.lookupGate != nil {
		<-f.lookupGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.UserRecord{}, f.getErr
	}
	u, ok := f.rows[id]
	if !ok {
		return domain.UserRecord{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) InsertUser(_ context.Context, u domain.UserRecord) error {
	f.inserts.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insErr != nil {
		return f.insErr
	}
	if _, ok := f.rows[u.ID]; ok {
		return domain.ErrConflict
	}
	f.rows[u.ID] = u
	return nil
}

// fakeSubmissions models the remote table. With atomic=false a second insert
// for the same key returns domain.ErrConflict.
type fakeSubmissions struct {
	mu        sync.Mutex
	atomic    bool
	rows      map[[2]string]domain.SubmissionRecord
	failNext  int // number of upcoming write calls that fail
	failAll   bool
	listErr   error
	upserts   int
	updates   int
	listCalls int
}

func newFakeSubmissions(atomic bool) *fakeSubmissions {
	return &fakeSubmissions{atomic: atomic, rows: make(map[[2]string]domain.SubmissionRecord)}
}

func (f *fakeSubmissions) UpsertSubmission(_ context.Context, rec domain.SubmissionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if err := f.failLocked(); err != nil {
		return err
	}
	key := [2]string{rec.UserID, rec.ChallengeID}
	if _, ok := f.rows[key]; ok && !f.atomic {
		return domain.ErrConflict
	}
	f.rows[key] = rec
	return nil
}

func (f *fakeSubmissions) UpdateSubmission(_ context.Context, rec domain.SubmissionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if err := f.failLocked(); err != nil {
		return err
	}
	key := [2]string{rec.UserID, rec.ChallengeID}
	if _, ok := f.rows[key]; !ok {
		return domain.ErrNotFound
	}
	f.rows[key] = rec
	return nil
}

func (f *fakeSubmissions) ListSubmissions(_ context.Context, userID string) ([]domain.SubmissionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.SubmissionRecord
	for key, rec := range f.rows {
		if key[0] == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeSubmissions) failLocked() error {
	if f.failAll {
		return errRemoteDown
	}
	if f.failNext > 0 {
		f.failNext--
		return errRemoteDown
	}
	return nil
}

func (f *fakeSubmissions) rowsFor(userID, challengeID string) []domain.SubmissionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.SubmissionRecord
	for key, rec := range f.rows {
		if key[0] == userID && key[1] == challengeID {
			out = append(out, rec)
		}
	}
	return out
}

type harness struct {
	identity    *fakeIdentity
	users       *fakeUsers
	submissions *fakeSubmissions
	kv          *memory.KV
	local       *localstore.Store
	profiles    *app.ProfileStore
	recorder    *app.Recorder
	reconciler  *app.Reconciler
}

const allowedDomain = "allowed.edu"

func newHarness(atomicUpsert bool) *harness {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		identity:    newFakeIdentity(),
		users:       newFakeUsers(),
		submissions: newFakeSubmissions(atomicUpsert),
		kv:          memory.NewKV(),
	}
	h.local = localstore.New(h.kv, log)
	h.profiles = app.NewProfileStore(h.local)
	h.recorder = app.NewRecorder(h.identity, h.submissions, h.local, h.profiles, app.RetryPolicy{MaxAttempts: 3}, log)
	h.reconciler = app.NewReconciler(app.ReconcilerConfig{
		AllowedDomain: allowedDomain,
		RedirectTo:    "http://localhost:5173/dashboard",
	}, h.identity, h.users, h.submissions, h.local, h.profiles, h.recorder, log)
	return h
}

// signIn gives the harness a live session and a reconciled profile.
func (h *harness) signIn(ctx context.Context, user domain.RemoteUser) (domain.Profile, error) {
	h.identity.setSession(&domain.RemoteSession{AccessToken: "token-" + user.ID, User: user})
	return h.reconciler.Reconcile(ctx, user)
}

func student(id string) domain.RemoteUser {
	return domain.RemoteUser{ID: id, Email: id + "@" + allowedDomain, FullName: "Student " + id}
}
