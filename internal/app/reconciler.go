package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"virtual-lab-service/internal/domain"
)

// State is the authentication state of the client.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateReconciling     State = "reconciling"
	StateAuthenticated   State = "authenticated"
	StateTerminating     State = "terminating"
)

// ReconcilerConfig carries the environment-supplied inputs of the reconciler.
type ReconcilerConfig struct {
	AllowedDomain string
	RedirectTo    string
	Provider      string
}

// Reconciler merges the remote session with the cached profile and keeps
// exactly one consistent profile published.
type Reconciler struct {
	identity    Identity
	users       UserTable
	submissions SubmissionTable
	local       LocalStore
	profiles    *ProfileStore
	recorder    *Recorder
	cfg         ReconcilerConfig
	log         *slog.Logger
	now         func() time.Time

	mu          sync.Mutex
	inflight    map[string]struct{}
	terminating bool

	// signOutMu orders sign-out clears against reconcile publishes; epoch
	// counts sign-outs so a reconcile that outlived one publishes nothing.
	signOutMu sync.Mutex
	epoch     uint64
}

func NewReconciler(cfg ReconcilerConfig, identity Identity, users UserTable, submissions SubmissionTable,
	local LocalStore, profiles *ProfileStore, recorder *Recorder, log *slog.Logger) *Reconciler {
	if cfg.Provider == "" {
		cfg.Provider = "google"
	}
	cfg.AllowedDomain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cfg.AllowedDomain)), "@")
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		identity:    identity,
		users:       users,
		submissions: submissions,
		local:       local,
		profiles:    profiles,
		recorder:    recorder,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
		inflight:    make(map[string]struct{}),
	}
}

// Bootstrap publishes the cached profile before any remote verification.
func (r *Reconciler) Bootstrap(ctx context.Context) {
	cached, err := r.local.LoadProfile(ctx)
	if err != nil {
		r.log.Warn("failed to read cached profile", "error", err)
		return
	}
	if cached == nil {
		return
	}
	r.profiles.restore(*cached)
	r.log.Info("restored cached profile", "user_id", cached.ID)
}

// Start subscribes to auth state changes and reconciles any live session.
// The returned function unsubscribes.
func (r *Reconciler) Start(ctx context.Context) func() {
	unsubscribe := r.identity.OnAuthStateChange(func(event domain.AuthEvent, session *domain.RemoteSession) {
		r.handleAuthEvent(ctx, event, session)
	})

	session, err := r.identity.GetSession(ctx)
	if err != nil {
		r.log.Warn("failed to check current session", "error", err)
	} else if session != nil {
		r.reconcileLogged(ctx, session.User)
	}
	return unsubscribe
}

// Login starts the OAuth flow restricted to the allowed domain and returns the provider URL.
func (r *Reconciler) Login(ctx context.Context) (string, error) {
	url, err := r.identity.SignInWithOAuth(ctx, r.cfg.Provider, r.cfg.RedirectTo, r.cfg.AllowedDomain)
	if err != nil {
		return "", fmt.Errorf("start %s sign-in: %w", r.cfg.Provider, err)
	}
	return url, nil
}

// State reports where the client is in its authentication lifecycle.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.terminating:
		return StateTerminating
	case len(r.inflight) > 0:
		return StateReconciling
	}
	if _, ok := r.profiles.Get(); ok {
		return StateAuthenticated
	}
	return StateUnauthenticated
}

// Reconcile turns a verified remote identity into the published profile.
// A second call for an identity that is already being reconciled returns
// domain.ErrReconcileInProgress without side effects.
func (r *Reconciler) Reconcile(ctx context.Context, user domain.RemoteUser) (domain.Profile, error) {
	if !r.acquire(user.ID) {
		return domain.Profile{}, domain.ErrReconcileInProgress
	}
	defer r.release(user.ID)
	started := r.currentEpoch()

	if !r.allowed(user.Email) {
		r.log.Warn("rejecting sign-in outside allowed domain", "email", user.Email, "allowed_domain", r.cfg.AllowedDomain)
		if err := r.profiles.Clear(ctx); err != nil {
			r.log.Warn("failed to clear profile after rejection", "error", err)
		}
		r.signOut(ctx)
		return domain.Profile{}, fmt.Errorf("%w: only @%s emails are allowed", domain.ErrDomainRejected, r.cfg.AllowedDomain)
	}

	cached, _ := r.profiles.Get()
	if cached.ID != user.ID {
		cached = domain.Profile{}
	}

	name := user.DisplayName()
	existing, err := r.users.GetUser(ctx, user.ID)
	switch {
	case err == nil:
		if existing.Name != "" {
			name = existing.Name
		}
	case errors.Is(err, domain.ErrNotFound):
		r.provision(ctx, user, name)
	default:
		r.log.Warn("user lookup failed, continuing with local defaults", "user_id", user.ID, "error", err)
	}

	completed, err := r.fetchCompleted(ctx, user.ID)
	if err != nil {
		r.log.Warn("failed to fetch completed challenges", "user_id", user.ID, "error", err)
		completed = cached.CompletedChallenges
	}

	profile := domain.Profile{
		ID:                  user.ID,
		Name:                name,
		Email:               user.Email,
		Role:                domain.RoleStudent,
		EnrolledClasses:     cached.EnrolledClasses,
		CompletedChallenges: completed,
	}

	report, err := r.recorder.Drain(ctx, user.ID)
	if err != nil {
		r.log.Warn("failed to drain pending submissions", "user_id", user.ID, "error", err)
	}
	for _, p := range report.Drained {
		profile = profile.WithCompleted(p.Completed())
	}
	for _, p := range report.Remaining {
		profile = profile.WithCompleted(p.Completed())
	}

	r.signOutMu.Lock()
	if r.epoch != started {
		r.signOutMu.Unlock()
		r.log.Info("signed out during reconcile, discarding profile", "user_id", user.ID)
		return domain.Profile{}, fmt.Errorf("%w: signed out during reconcile", domain.ErrUnauthenticated)
	}
	err = r.profiles.Publish(ctx, profile)
	r.signOutMu.Unlock()
	if err != nil {
		return domain.Profile{}, err
	}
	r.log.Info("profile reconciled", "user_id", user.ID, "completed", len(profile.CompletedChallenges),
		"drained", len(report.Drained), "still_pending", len(report.Remaining))
	return profile.Clone(), nil
}

// Terminate clears local state and signs out remotely. Calls made while a
// terminate is already running return immediately.
func (r *Reconciler) Terminate(ctx context.Context) error {
	r.mu.Lock()
	if r.terminating {
		r.mu.Unlock()
		return nil
	}
	r.terminating = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.terminating = false
		r.mu.Unlock()
	}()

	err := r.clearSignedOut(ctx)
	r.signOut(ctx)
	r.log.Info("signed out")
	return err
}

// clearSignedOut drops the profile and invalidates reconciles still in flight.
func (r *Reconciler) clearSignedOut(ctx context.Context) error {
	r.signOutMu.Lock()
	defer r.signOutMu.Unlock()
	r.epoch++
	return r.profiles.Clear(ctx)
}

func (r *Reconciler) currentEpoch() uint64 {
	r.signOutMu.Lock()
	defer r.signOutMu.Unlock()
	return r.epoch
}

func (r *Reconciler) handleAuthEvent(ctx context.Context, event domain.AuthEvent, session *domain.RemoteSession) {
	switch event {
	case domain.AuthSignedIn:
		if session != nil {
			r.reconcileLogged(ctx, session.User)
		}
	case domain.AuthSignedOut:
		if err := r.clearSignedOut(ctx); err != nil {
			r.log.Warn("failed to clear profile on sign-out", "error", err)
		}
	}
}

func (r *Reconciler) reconcileLogged(ctx context.Context, user domain.RemoteUser) {
	_, err := r.Reconcile(ctx, user)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrReconcileInProgress):
		r.log.Debug("skipping duplicate reconcile", "user_id", user.ID)
	case errors.Is(err, domain.ErrUnauthenticated):
	default:
		r.log.Error("reconcile failed", "user_id", user.ID, "error", err)
	}
}

func (r *Reconciler) provision(ctx context.Context, user domain.RemoteUser, name string) {
	now := r.now().UTC()
	record := domain.UserRecord{
		ID:        user.ID,
		Email:     user.Email,
		Name:      name,
		Role:      domain.RoleStudent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.users.InsertUser(ctx, record); err != nil {
		r.log.Warn("failed to create remote user, continuing with local profile", "user_id", user.ID, "error", err)
		return
	}
	r.log.Info("created remote user", "user_id", user.ID)
}

// fetchCompleted lists remote submissions, keeping the newest row per challenge.
func (r *Reconciler) fetchCompleted(ctx context.Context, userID string) ([]domain.CompletedChallenge, error) {
	rows, err := r.submissions.ListSubmissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]domain.SubmissionRecord, len(rows))
	for _, row := range rows {
		if prev, ok := latest[row.ChallengeID]; !ok || row.SubmittedAt.After(prev.SubmittedAt) {
			latest[row.ChallengeID] = row
		}
	}
	out := make([]domain.CompletedChallenge, 0, len(latest))
	for _, row := range latest {
		out = append(out, row.Completed())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ChallengeID < out[j].ChallengeID
	})
	return out, nil
}

func (r *Reconciler) allowed(email string) bool {
	if r.cfg.AllowedDomain == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(email)), "@"+r.cfg.AllowedDomain)
}

// signOut is best effort: its result never blocks or undoes the local clear.
func (r *Reconciler) signOut(ctx context.Context) {
	if err := r.identity.SignOut(context.WithoutCancel(ctx)); err != nil {
		r.log.Warn("remote sign-out failed", "error", err)
	}
}

func (r *Reconciler) acquire(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Reconciler) release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}
