package domain

import (
	"testing"
	"time"
)

func TestWithCompletedOverwritesInPlace(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p := Profile{ID: "u1", CompletedChallenges: []CompletedChallenge{
		{ChallengeID: "1", Score: 40, Date: base},
		{ChallengeID: "2", Score: 70, Date: base},
	}}

	updated := p.WithCompleted(CompletedChallenge{ChallengeID: "1", Score: 90, Date: base.Add(time.Hour)})
	if len(updated.CompletedChallenges) != 2 || updated.CompletedChallenges[0].Score != 90 {
		t.Fatalf("expected overwrite in place, got %+v", updated.CompletedChallenges)
	}
	if p.CompletedChallenges[0].Score != 40 {
		t.Fatalf("original profile must not change")
	}

	updated = updated.WithCompleted(CompletedChallenge{ChallengeID: "3", Score: 10})
	if _, ok := updated.Completed("3"); !ok || len(updated.CompletedChallenges) != 3 {
		t.Fatalf("expected appended record, got %+v", updated.CompletedChallenges)
	}
}

func TestCloneNeverReturnsNilSlices(t *testing.T) {
	c := Profile{ID: "u1"}.Clone()
	if c.EnrolledClasses == nil || c.CompletedChallenges == nil {
		t.Fatalf("expected empty slices, got %+v", c)
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[RemoteUser]string{
		{Email: "ani.wijaya@std.example.edu", FullName: "Ani Wijaya"}: "Ani Wijaya",
		{Email: "ani.wijaya@std.example.edu", FullName: "  "}:         "ani.wijaya",
		{Email: "ani.wijaya@std.example.edu"}:                         "ani.wijaya",
	}
	for user, want := range cases {
		if got := user.DisplayName(); got != want {
			t.Fatalf("DisplayName(%+v) = %q, want %q", user, got, want)
		}
	}
}

func TestChallengeMaxPoints(t *testing.T) {
	c := Challenge{Questions: []Question{{ID: "q1", Points: 25}, {ID: "q2"}}}
	if got := c.MaxPoints(); got != 26 {
		t.Fatalf("expected question points with default of 1, got %d", got)
	}
	c.TotalPoints = 100
	if got := c.MaxPoints(); got != 100 {
		t.Fatalf("expected explicit total, got %d", got)
	}
	if _, ok := c.Question("q2"); !ok {
		t.Fatalf("expected question lookup to succeed")
	}
}
