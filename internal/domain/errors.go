package domain

import "errors"

var (
	// ErrDomainRejected is returned when a signed-in email is outside the allowed domain.
	ErrDomainRejected = errors.New("email domain not allowed")
	// ErrUnauthenticated is returned when an operation needs a profile and none is published.
	ErrUnauthenticated = errors.New("not signed in")
	// ErrReconcileInProgress is returned when a reconcile for the same identity is already running.
	ErrReconcileInProgress = errors.New("reconcile already in progress")
	// ErrNotFound is returned by remote tables when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by remote tables when a unique key already exists.
	ErrConflict = errors.New("record already exists")
	// ErrRemoteWriteExhausted means every remote write attempt failed and the score was only kept locally.
	ErrRemoteWriteExhausted = errors.New("remote write failed, saved locally only")
	// ErrChallengeNotFound indicates the challenge is not in the catalog.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrIncompleteAttempt is returned when a challenge is submitted before every question is answered.
	ErrIncompleteAttempt = errors.New("all questions must be answered before submitting")
	// ErrUnsupportedProvider is returned for OAuth providers other than the configured one.
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
)
