package app_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"virtual-lab-service/internal/app"
	"virtual-lab-service/internal/domain"
	"virtual-lab-service/internal/infra/memory"
)

func quizChallenge() domain.Challenge {
	return domain.Challenge{
		ID:    "ch-1",
		Title: "Linux Basics",
		Questions: []domain.Question{
			{ID: "q1", Prompt: "List files?", Points: 30, Options: []domain.Option{
				{ID: "a", Text: "ls", Correct: true},
				{ID: "b", Text: "cd"},
			}},
			{ID: "q2", Prompt: "Change dir?", Points: 20, Options: []domain.Option{
				{ID: "a", Text: "ls"},
				{ID: "b", Text: "cd", Correct: true},
			}},
		},
	}
}

func newAttempts(h *harness) *app.Attempts {
	catalog := memory.NewCatalog(memory.NewStaticCatalogLoader([]domain.Challenge{quizChallenge()}), time.Minute)
	return app.NewAttempts(catalog, h.local, h.recorder, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAnswerValidatesQuestionAndOption(t *testing.T) {
	ctx := context.Background()
	attempts := newAttempts(newHarness(true))

	if _, err := attempts.Answer(ctx, "missing", "q1", "a"); !errors.Is(err, domain.ErrChallengeNotFound) {
		t.Fatalf("expected challenge not found, got %v", err)
	}
	if _, err := attempts.Answer(ctx, "ch-1", "q9", "a"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
	if _, err := attempts.Answer(ctx, "ch-1", "q1", "z"); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected option not found, got %v", err)
	}

	draft, err := attempts.Answer(ctx, "ch-1", "q1", "b")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if draft.Answers["q1"] != "b" {
		t.Fatalf("unexpected draft %+v", draft)
	}
	// Changing an answer overwrites the previous choice.
	draft, _ = attempts.Answer(ctx, "ch-1", "q1", "a")
	if len(draft.Answers) != 1 || draft.Answers["q1"] != "a" {
		t.Fatalf("expected overwritten answer, got %+v", draft.Answers)
	}
}

func TestSubmitRejectsIncompleteAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(true)
	if _, err := h.signIn(ctx, student("u1")); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	attempts := newAttempts(h)
	_, _ = attempts.Answer(ctx, "ch-1", "q1", "a")

	if _, err := attempts.Submit(ctx, "ch-1"); !errors.Is(err, domain.ErrIncompleteAttempt) {
		t.Fatalf("expected incomplete attempt, got %v", err)
	}
	if draft, _ := attempts.Draft(ctx, "ch-1"); len(draft.Answers) != 1 {
		t.Fatalf("draft should survive a rejected submit, got %+v", draft)
	}
}

func TestSubmitScoresAndClearsDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(true)
	if _, err := h.signIn(ctx, student("u1")); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	attempts := newAttempts(h)
	_, _ = attempts.Answer(ctx, "ch-1", "q1", "a")
	_, _ = attempts.Answer(ctx, "ch-1", "q2", "a")

	result, err := attempts.Submit(ctx, "ch-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Score != 30 || result.TotalPoints != 50 || result.Percentage != 60 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Grade != app.GradeKeepPracticing || result.Outcome != app.OutcomeRemote {
		t.Fatalf("unexpected grade/outcome %+v", result)
	}
	if rows := h.submissions.rowsFor("u1", "ch-1"); len(rows) != 1 || rows[0].Score != 30 {
		t.Fatalf("expected remote row, got %+v", rows)
	}
	if draft, _ := attempts.Draft(ctx, "ch-1"); len(draft.Answers) != 0 {
		t.Fatalf("expected draft cleared, got %+v", draft)
	}
	profile, _ := h.profiles.Get()
	if rec, ok := profile.Completed("ch-1"); !ok || rec.Score != 30 {
		t.Fatalf("expected completion in profile, got %+v", profile.CompletedChallenges)
	}
}

func TestSubmitFailedWriteStillFinalizes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(true)
	if _, err := h.signIn(ctx, student("u1")); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	h.submissions.mu.Lock()
	h.submissions.failAll = true
	h.submissions.mu.Unlock()

	attempts := newAttempts(h)
	_, _ = attempts.Answer(ctx, "ch-1", "q1", "a")
	_, _ = attempts.Answer(ctx, "ch-1", "q2", "b")

	result, err := attempts.Submit(ctx, "ch-1")
	if !errors.Is(err, domain.ErrRemoteWriteExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if result.Outcome != app.OutcomeFailed || result.Grade != app.GradePerfect {
		t.Fatalf("unexpected result %+v", result)
	}
	if draft, _ := attempts.Draft(ctx, "ch-1"); len(draft.Answers) != 0 {
		t.Fatalf("expected draft cleared after queueing, got %+v", draft)
	}
}

func TestSubmitWithoutProfileKeepsDraft(t *testing.T) {
	ctx := context.Background()
	attempts := newAttempts(newHarness(true))
	_, _ = attempts.Answer(ctx, "ch-1", "q1", "a")
	_, _ = attempts.Answer(ctx, "ch-1", "q2", "b")

	if _, err := attempts.Submit(ctx, "ch-1"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if draft, _ := attempts.Draft(ctx, "ch-1"); len(draft.Answers) != 2 {
		t.Fatalf("expected draft kept, got %+v", draft)
	}

	if err := attempts.Reset(ctx, "ch-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if draft, _ := attempts.Draft(ctx, "ch-1"); len(draft.Answers) != 0 {
		t.Fatalf("expected empty draft after reset, got %+v", draft)
	}
}

func TestSubmitSignedOutWinsOverIncompleteDraft(t *testing.T) {
	ctx := context.Background()
	attempts := newAttempts(newHarness(true))
	_, _ = attempts.Answer(ctx, "ch-1", "q1", "a")

	if _, err := attempts.Submit(ctx, "ch-1"); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for signed-out incomplete submit, got %v", err)
	}
	if draft, _ := attempts.Draft(ctx, "ch-1"); len(draft.Answers) != 1 {
		t.Fatalf("expected draft kept, got %+v", draft)
	}
}

func TestConcurrentAnswersAreAllKept(t *testing.T) {
	ctx := context.Background()
	h := newHarness(true)

	wide := domain.Challenge{ID: "wide", Title: "Many questions"}
	for i := 0; i < 32; i++ {
		wide.Questions = append(wide.Questions, domain.Question{
			ID:      fmt.Sprintf("q%d", i),
			Prompt:  "pick",
			Points:  1,
			Options: []domain.Option{{ID: "a", Text: "a", Correct: true}, {ID: "b", Text: "b"}},
		})
	}
	catalog := memory.NewCatalog(memory.NewStaticCatalogLoader([]domain.Challenge{wide}), time.Minute)
	attempts := app.NewAttempts(catalog, h.local, h.recorder, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var wg sync.WaitGroup
	for _, q := range wide.Questions {
		wg.Add(1)
		go func(questionID string) {
			defer wg.Done()
			if _, err := attempts.Answer(ctx, "wide", questionID, "a"); err != nil {
				t.Errorf("answer %s: %v", questionID, err)
			}
		}(q.ID)
	}
	wg.Wait()

	draft, err := attempts.Draft(ctx, "wide")
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if len(draft.Answers) != len(wide.Questions) {
		t.Fatalf("expected %d answers, got %d", len(wide.Questions), len(draft.Answers))
	}
}
