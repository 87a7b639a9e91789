package app

import (
	"context"

	"virtual-lab-service/internal/domain"
)

// Identity is the remote identity provider (OAuth sign-in and session issuance).
type Identity interface {
	// SignInWithOAuth starts a redirect-based sign-in and returns the URL to send the user to.
	SignInWithOAuth(ctx context.Context, provider, redirectTo, domainHint string) (string, error)
	// GetSession returns the live session, or nil when there is none (signed out or expired).
	GetSession(ctx context.Context) (*domain.RemoteSession, error)
	// OnAuthStateChange registers handler for session lifecycle events and returns an unsubscribe func.
	// Handlers are never invoked while the identity provider holds internal locks.
	OnAuthStateChange(handler func(domain.AuthEvent, *domain.RemoteSession)) func()
	// SignOut invalidates the remote session.
	SignOut(ctx context.Context) error
}

// SessionSource is the part of Identity the recorder needs.
type SessionSource interface {
	GetSession(ctx context.Context) (*domain.RemoteSession, error)
}

// UserTable is the remote users table. It is never updated by this client.
type UserTable interface {
	// GetUser returns domain.ErrNotFound when the row does not exist.
	GetUser(ctx context.Context, id string) (domain.UserRecord, error)
	InsertUser(ctx context.Context, user domain.UserRecord) error
}

// SubmissionTable is the remote user_challenge_submissions table keyed by (user id, challenge id).
type SubmissionTable interface {
	// UpsertSubmission inserts or overwrites the row. Stores without atomic
	// overwrite return domain.ErrConflict when the row exists.
	UpsertSubmission(ctx context.Context, rec domain.SubmissionRecord) error
	// UpdateSubmission overwrites an existing row.
	UpdateSubmission(ctx context.Context, rec domain.SubmissionRecord) error
	ListSubmissions(ctx context.Context, userID string) ([]domain.SubmissionRecord, error)
}

// LocalStore is the device-local persistence shim.
type LocalStore interface {
	LoadProfile(ctx context.Context) (*domain.Profile, error)
	SaveProfile(ctx context.Context, p domain.Profile) error
	ClearProfile(ctx context.Context) error

	PutPending(ctx context.Context, p domain.PendingSubmission) error
	ListPending(ctx context.Context) ([]domain.PendingSubmission, error)
	DeletePending(ctx context.Context, challengeID string) error

	PutDraft(ctx context.Context, d domain.DraftAnswerSet) error
	LoadDraft(ctx context.Context, challengeID string) (*domain.DraftAnswerSet, error)
	DeleteDraft(ctx context.Context, challengeID string) error
}

// Catalog loads challenge content (from cache/backing store).
type Catalog interface {
	GetChallenge(ctx context.Context, id string) (domain.Challenge, error)
	ListChallenges(ctx context.Context) ([]domain.Challenge, error)
}
