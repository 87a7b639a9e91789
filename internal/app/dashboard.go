package app

import (
	"context"
	"math"
	"sort"

	"virtual-lab-service/internal/domain"
)

// CompletedDetail pairs a completed record with its catalog entry.
type CompletedDetail struct {
	domain.CompletedChallenge
	Title       string            `json:"title"`
	Category    string            `json:"category"`
	Difficulty  domain.Difficulty `json:"difficulty"`
	TotalPoints int               `json:"totalPoints"`
}

// ChallengeSummary is a catalog entry without its questions.
type ChallengeSummary struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Category    string            `json:"category"`
	Difficulty  domain.Difficulty `json:"difficulty"`
	TotalPoints int               `json:"totalPoints"`
}

// Dashboard aggregates the progress of one profile over the catalog.
type Dashboard struct {
	TotalScore         int                `json:"totalScore"`
	CompletedCount     int                `json:"completedCount"`
	TotalChallenges    int                `json:"totalChallenges"`
	AverageScore       int                `json:"averageScore"`
	ProgressPercentage float64            `json:"progressPercentage"`
	MaxPossibleScore   int                `json:"maxPossibleScore"`
	Recent             []CompletedDetail  `json:"recent"`
	Remaining          []ChallengeSummary `json:"remaining"`
}

// Summarize builds the dashboard. Records for challenges missing from the
// catalog count towards the totals but are left out of Recent.
func Summarize(profile domain.Profile, challenges []domain.Challenge) Dashboard {
	byID := make(map[string]domain.Challenge, len(challenges))
	maxScore := 0
	for _, c := range challenges {
		byID[c.ID] = c
		maxScore += c.MaxPoints()
	}

	d := Dashboard{
		TotalChallenges:  len(challenges),
		MaxPossibleScore: maxScore,
		CompletedCount:   len(profile.CompletedChallenges),
		Recent:           []CompletedDetail{},
		Remaining:        []ChallengeSummary{},
	}
	done := make(map[string]bool, len(profile.CompletedChallenges))
	for _, cc := range profile.CompletedChallenges {
		d.TotalScore += cc.Score
		done[cc.ChallengeID] = true
		if c, ok := byID[cc.ChallengeID]; ok {
			d.Recent = append(d.Recent, CompletedDetail{
				CompletedChallenge: cc,
				Title:              c.Title,
				Category:           c.Category,
				Difficulty:         c.Difficulty,
				TotalPoints:        c.MaxPoints(),
			})
		}
	}
	if d.CompletedCount > 0 {
		d.AverageScore = int(math.Round(float64(d.TotalScore) / float64(d.CompletedCount)))
	}
	if d.TotalChallenges > 0 {
		d.ProgressPercentage = float64(d.CompletedCount) / float64(d.TotalChallenges) * 100
	}
	sort.SliceStable(d.Recent, func(i, j int) bool {
		return d.Recent[i].Date.After(d.Recent[j].Date)
	})
	for _, c := range challenges {
		if !done[c.ID] {
			d.Remaining = append(d.Remaining, Summary(c))
		}
	}
	return d
}

// Summary strips the questions from a challenge.
func Summary(c domain.Challenge) ChallengeSummary {
	return ChallengeSummary{
		ID:          c.ID,
		Title:       c.Title,
		Category:    c.Category,
		Difficulty:  c.Difficulty,
		TotalPoints: c.MaxPoints(),
	}
}

// DashboardFor loads the catalog and summarizes the current profile.
func DashboardFor(ctx context.Context, profiles *ProfileStore, catalog Catalog) (Dashboard, error) {
	profile, ok := profiles.Get()
	if !ok {
		return Dashboard{}, domain.ErrUnauthenticated
	}
	challenges, err := catalog.ListChallenges(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	return Summarize(profile, challenges), nil
}
