package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"virtual-lab-service/internal/domain"
)

func TestTablesConflictWithoutAtomicUpsert(t *testing.T) {
	ctx := context.Background()
	tables := NewTables(false)
	rec := domain.SubmissionRecord{UserID: "u1", ChallengeID: "ch-2", Score: 100, TotalPoints: 100}

	if err := tables.UpsertSubmission(ctx, rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := tables.UpsertSubmission(ctx, rec); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	rec.Score = 90
	if err := tables.UpdateSubmission(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	rows, _ := tables.ListSubmissions(ctx, "u1")
	if len(rows) != 1 || rows[0].Score != 90 {
		t.Fatalf("expected one updated row, got %+v", rows)
	}
}

func TestTablesUserLookup(t *testing.T) {
	ctx := context.Background()
	tables := NewTables(true)
	if _, err := tables.GetUser(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_ = tables.InsertUser(ctx, domain.UserRecord{ID: "u1", Role: domain.RoleStudent})
	if err := tables.InsertUser(ctx, domain.UserRecord{ID: "u1"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected duplicate insert to conflict, got %v", err)
	}
}

func TestIdentitySessionLifecycle(t *testing.T) {
	ctx := context.Background()
	user := domain.RemoteUser{ID: "dev", Email: "dev@std.example.edu"}
	id := NewIdentity(&user, time.Hour)

	var events []domain.AuthEvent
	unsubscribe := id.OnAuthStateChange(func(e domain.AuthEvent, _ *domain.RemoteSession) {
		events = append(events, e)
	})
	defer unsubscribe()

	target, err := id.SignInWithOAuth(ctx, "google", "/dashboard", "std.example.edu")
	if err != nil || target != "/dashboard" {
		t.Fatalf("unexpected sign-in result %q err=%v", target, err)
	}
	if s, _ := id.GetSession(ctx); s == nil || s.User.ID != "dev" {
		t.Fatalf("expected live session, got %+v", s)
	}

	now := time.Now().Add(2 * time.Hour)
	id.now = func() time.Time { return now }
	if s, _ := id.GetSession(ctx); s != nil {
		t.Fatalf("expected expired session to read as absent")
	}

	_ = id.SignOut(ctx)
	_ = id.SignOut(ctx)
	if len(events) != 2 || events[0] != domain.AuthSignedIn || events[1] != domain.AuthSignedOut {
		t.Fatalf("unexpected events %v", events)
	}
}
