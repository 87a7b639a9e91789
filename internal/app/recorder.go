package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"virtual-lab-service/internal/domain"
)

// Outcome tells callers where a recorded score ended up.
type Outcome string

const (
	// OutcomeRemote means the remote store confirmed the write.
	OutcomeRemote Outcome = "remote"
	// OutcomeLocalOnly means there was no live session; the score is queued for the next sign-in.
	OutcomeLocalOnly Outcome = "local_only"
	// OutcomeFailed means every remote attempt failed; the score is queued and shown locally.
	OutcomeFailed Outcome = "failed"
)

// RecordResult describes a finished Record call.
type RecordResult struct {
	Outcome Outcome                   `json:"outcome"`
	Record  domain.CompletedChallenge `json:"record"`
}

// DrainReport lists which pending submissions were committed and which stay queued.
type DrainReport struct {
	Drained   []domain.PendingSubmission
	Remaining []domain.PendingSubmission
}

// Recorder persists finished attempts remotely and keeps the local profile in step.
type Recorder struct {
	sessions    SessionSource
	submissions SubmissionTable
	local       LocalStore
	profiles    *ProfileStore
	policy      RetryPolicy
	log         *slog.Logger
	now         func() time.Time
}

func NewRecorder(sessions SessionSource, submissions SubmissionTable, local LocalStore, profiles *ProfileStore,
	policy RetryPolicy, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		sessions:    sessions,
		submissions: submissions,
		local:       local,
		profiles:    profiles,
		policy:      policy,
		log:         log,
		now:         time.Now,
	}
}

// Record stores the score of a finished challenge. The local profile is
// updated whatever happens remotely; the result tells the caller whether
// the remote store has it. An in-flight Record is not cancelled by ctx.
func (r *Recorder) Record(ctx context.Context, challengeID string, score, totalPoints int) (RecordResult, error) {
	profile, ok := r.profiles.Get()
	if !ok {
		return RecordResult{}, domain.ErrUnauthenticated
	}
	ctx = context.WithoutCancel(ctx)

	now := r.now().UTC()
	completed := domain.CompletedChallenge{ChallengeID: challengeID, Score: score, Date: now}

	session, err := r.sessions.GetSession(ctx)
	if err != nil {
		r.log.Warn("session check failed, recording locally", "challenge_id", challengeID, "error", err)
		session = nil
	}
	if session == nil {
		if err := r.local.PutPending(ctx, r.pending(profile.ID, challengeID, score, totalPoints, now)); err != nil {
			return RecordResult{}, fmt.Errorf("queue submission: %w", err)
		}
		if err := r.applyLocal(ctx, completed); err != nil {
			return RecordResult{}, err
		}
		r.log.Info("no live session, submission queued", "challenge_id", challengeID, "score", score)
		return RecordResult{Outcome: OutcomeLocalOnly, Record: completed}, nil
	}

	profileID := profile.ID
	if session.User.ID != "" && session.User.ID != profile.ID {
		r.log.Info("adopting session identity", "profile_id", profile.ID, "session_id", session.User.ID)
		updated, err := r.profiles.Update(ctx, func(p domain.Profile) domain.Profile {
			p.ID = session.User.ID
			return p
		})
		if err != nil {
			return RecordResult{}, err
		}
		profileID = updated.ID
	}

	row := domain.SubmissionRecord{
		UserID:      profileID,
		ChallengeID: challengeID,
		Score:       score,
		TotalPoints: totalPoints,
		SubmittedAt: now,
	}
	writeErr := WithRetry(ctx, r.policy, func(ctx context.Context) error {
		return r.write(ctx, row)
	})
	if writeErr != nil {
		r.log.Warn("remote write exhausted, queueing submission", "challenge_id", challengeID, "error", writeErr)
		if err := r.local.PutPending(ctx, r.pending(profileID, challengeID, score, totalPoints, now)); err != nil {
			r.log.Error("failed to queue submission", "challenge_id", challengeID, "error", err)
		}
	}

	if err := r.applyLocal(ctx, completed); err != nil {
		return RecordResult{}, err
	}

	if writeErr != nil {
		return RecordResult{Outcome: OutcomeFailed, Record: completed},
			fmt.Errorf("%w: %w", domain.ErrRemoteWriteExhausted, writeErr)
	}
	r.log.Info("submission saved", "challenge_id", challengeID, "score", score, "total_points", totalPoints)
	return RecordResult{Outcome: OutcomeRemote, Record: completed}, nil
}

// Drain commits the pending submissions owned by profileID. Each entry gets
// one write; entries that fail stay queued for the next reconcile.
func (r *Recorder) Drain(ctx context.Context, profileID string) (DrainReport, error) {
	var report DrainReport
	pending, err := r.local.ListPending(ctx)
	if err != nil {
		return report, err
	}
	for _, p := range pending {
		if p.ProfileID != profileID {
			continue
		}
		err := r.write(ctx, domain.SubmissionRecord{
			UserID:      profileID,
			ChallengeID: p.ChallengeID,
			Score:       p.Score,
			TotalPoints: p.TotalPoints,
			SubmittedAt: p.Timestamp,
		})
		if err != nil {
			r.log.Warn("pending submission still not accepted", "challenge_id", p.ChallengeID, "error", err)
			report.Remaining = append(report.Remaining, p)
			continue
		}
		if err := r.local.DeletePending(ctx, p.ChallengeID); err != nil {
			r.log.Warn("failed to remove drained submission", "challenge_id", p.ChallengeID, "error", err)
		}
		report.Drained = append(report.Drained, p)
	}
	return report, nil
}

// write is the insert-or-overwrite by (user id, challenge id); a conflict
// falls back to an explicit update within the same attempt.
func (r *Recorder) write(ctx context.Context, row domain.SubmissionRecord) error {
	err := r.submissions.UpsertSubmission(ctx, row)
	if errors.Is(err, domain.ErrConflict) {
		return r.submissions.UpdateSubmission(ctx, row)
	}
	return err
}

func (r *Recorder) applyLocal(ctx context.Context, completed domain.CompletedChallenge) error {
	_, err := r.profiles.Update(ctx, func(p domain.Profile) domain.Profile {
		return p.WithCompleted(completed)
	})
	if errors.Is(err, domain.ErrUnauthenticated) {
		// Signed out mid-call; the score is already remote or queued.
		r.log.Warn("profile cleared before local update", "challenge_id", completed.ChallengeID)
		return nil
	}
	return err
}

func (r *Recorder) pending(profileID, challengeID string, score, totalPoints int, at time.Time) domain.PendingSubmission {
	return domain.PendingSubmission{
		ChallengeID: challengeID,
		Score:       score,
		TotalPoints: totalPoints,
		ProfileID:   profileID,
		Timestamp:   at,
	}
}
