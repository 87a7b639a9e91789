package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"virtual-lab-service/internal/domain"
)

// Grade buckets a percentage the way the results screen reports it.
type Grade string

const (
	GradePerfect        Grade = "perfect"
	GradeGreat          Grade = "great"
	GradeKeepPracticing Grade = "keep-practicing"
)

// AttemptResult is the scored outcome of a submitted challenge.
type AttemptResult struct {
	ChallengeID string  `json:"challengeId"`
	Score       int     `json:"score"`
	TotalPoints int     `json:"totalPoints"`
	Percentage  float64 `json:"percentage"`
	Grade       Grade   `json:"grade"`
	Outcome     Outcome `json:"outcome"`
}

// Attempts drives an in-progress challenge: draft answers, scoring and submission.
type Attempts struct {
	catalog  Catalog
	local    LocalStore
	recorder *Recorder
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	drafts map[string]*sync.Mutex
}

func NewAttempts(catalog Catalog, local LocalStore, recorder *Recorder, log *slog.Logger) *Attempts {
	if log == nil {
		log = slog.Default()
	}
	return &Attempts{
		catalog:  catalog,
		local:    local,
		recorder: recorder,
		log:      log,
		now:      time.Now,
		drafts:   make(map[string]*sync.Mutex),
	}
}

// lockDraft serializes read-modify-write cycles on one challenge draft.
func (a *Attempts) lockDraft(challengeID string) func() {
	a.mu.Lock()
	m, ok := a.drafts[challengeID]
	if !ok {
		m = &sync.Mutex{}
		a.drafts[challengeID] = m
	}
	a.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Answer records the selected option for a question in the challenge draft.
func (a *Attempts) Answer(ctx context.Context, challengeID, questionID, optionID string) (domain.DraftAnswerSet, error) {
	challenge, err := a.catalog.GetChallenge(ctx, challengeID)
	if err != nil {
		return domain.DraftAnswerSet{}, err
	}
	question, ok := challenge.Question(questionID)
	if !ok {
		return domain.DraftAnswerSet{}, domain.ErrQuestionNotFound
	}
	if !hasOption(question, optionID) {
		return domain.DraftAnswerSet{}, domain.ErrOptionNotFound
	}

	unlock := a.lockDraft(challengeID)
	defer unlock()
	draft, err := a.Draft(ctx, challengeID)
	if err != nil {
		return domain.DraftAnswerSet{}, err
	}
	draft.Answers[questionID] = optionID
	draft.Timestamp = a.now().UTC()
	if err := a.local.PutDraft(ctx, draft); err != nil {
		return domain.DraftAnswerSet{}, err
	}
	return draft, nil
}

// Draft returns the saved answers for a challenge, empty when nothing is saved.
func (a *Attempts) Draft(ctx context.Context, challengeID string) (domain.DraftAnswerSet, error) {
	draft, err := a.local.LoadDraft(ctx, challengeID)
	if err != nil {
		return domain.DraftAnswerSet{}, err
	}
	if draft == nil {
		return domain.DraftAnswerSet{ChallengeID: challengeID, Answers: map[string]string{}}, nil
	}
	if draft.Answers == nil {
		draft.Answers = map[string]string{}
	}
	return *draft, nil
}

// Reset discards the draft so the challenge can be retried from scratch.
func (a *Attempts) Reset(ctx context.Context, challengeID string) error {
	unlock := a.lockDraft(challengeID)
	defer unlock()
	return a.local.DeleteDraft(ctx, challengeID)
}

// Submit scores the draft and records it. The draft is kept only when the
// caller is not signed in; a failed remote write still finalizes the attempt.
// A signed-out caller gets domain.ErrUnauthenticated before the draft is checked.
func (a *Attempts) Submit(ctx context.Context, challengeID string) (AttemptResult, error) {
	if _, ok := a.recorder.profiles.Get(); !ok {
		return AttemptResult{}, domain.ErrUnauthenticated
	}
	challenge, err := a.catalog.GetChallenge(ctx, challengeID)
	if err != nil {
		return AttemptResult{}, err
	}

	unlock := a.lockDraft(challengeID)
	defer unlock()
	draft, err := a.Draft(ctx, challengeID)
	if err != nil {
		return AttemptResult{}, err
	}

	score, err := scoreAttempt(challenge, draft.Answers)
	if err != nil {
		return AttemptResult{}, err
	}
	total := challenge.MaxPoints()

	recorded, recErr := a.recorder.Record(ctx, challengeID, score, total)
	if errors.Is(recErr, domain.ErrUnauthenticated) {
		return AttemptResult{}, recErr
	}
	if recorded.Outcome != "" {
		if err := a.local.DeleteDraft(ctx, challengeID); err != nil {
			a.log.Warn("failed to clear draft after submit", "challenge_id", challengeID, "error", err)
		}
	}

	result := AttemptResult{
		ChallengeID: challengeID,
		Score:       score,
		TotalPoints: total,
		Percentage:  percentage(score, total),
		Outcome:     recorded.Outcome,
	}
	result.Grade = gradeFor(result.Percentage)
	return result, recErr
}

// scoreAttempt sums the points of correctly answered questions. Every question must be answered.
func scoreAttempt(challenge domain.Challenge, answers map[string]string) (int, error) {
	score := 0
	for _, q := range challenge.Questions {
		optionID, ok := answers[q.ID]
		if !ok {
			return 0, fmt.Errorf("%w: question %s unanswered", domain.ErrIncompleteAttempt, q.ID)
		}
		for _, opt := range q.Options {
			if opt.ID == optionID && opt.Correct {
				score += q.PointValue()
				break
			}
		}
	}
	return score, nil
}

func hasOption(q domain.Question, optionID string) bool {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

func percentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(score) / float64(total) * 100
}

func gradeFor(pct float64) Grade {
	switch {
	case pct >= 100:
		return GradePerfect
	case pct >= 70:
		return GradeGreat
	default:
		return GradeKeepPracticing
	}
}
