package domain

import (
	"strings"
	"time"
)

// Role is the access level of a profile.
type Role string

const (
	RoleStudent  Role = "student"
	RoleLecturer Role = "lecturer"
)

// CompletedChallenge is the persisted score of one challenge for one profile.
type CompletedChallenge struct {
	ChallengeID string    `json:"challengeId"`
	Score       int       `json:"score"`
	Date        time.Time `json:"date"`
}

// Profile is the client's unified view of the signed-in user.
type Profile struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	Email               string               `json:"email"`
	Role                Role                 `json:"role"`
	EnrolledClasses     []string             `json:"enrolledClasses"`
	CompletedChallenges []CompletedChallenge `json:"completedChallenges"`
}

// Clone returns a deep copy so callers never share slices with the owner.
func (p Profile) Clone() Profile {
	out := p
	out.EnrolledClasses = append([]string(nil), p.EnrolledClasses...)
	out.CompletedChallenges = append([]CompletedChallenge(nil), p.CompletedChallenges...)
	if out.EnrolledClasses == nil {
		out.EnrolledClasses = []string{}
	}
	if out.CompletedChallenges == nil {
		out.CompletedChallenges = []CompletedChallenge{}
	}
	return out
}

// Completed returns the record for challengeID if the profile has one.
func (p Profile) Completed(challengeID string) (CompletedChallenge, bool) {
	for _, c := range p.CompletedChallenges {
		if c.ChallengeID == challengeID {
			return c, true
		}
	}
	return CompletedChallenge{}, false
}

// WithCompleted inserts rec or overwrites the existing record for the same challenge.
func (p Profile) WithCompleted(rec CompletedChallenge) Profile {
	out := p.Clone()
	for i := range out.CompletedChallenges {
		if out.CompletedChallenges[i].ChallengeID == rec.ChallengeID {
			out.CompletedChallenges[i] = rec
			return out
		}
	}
	out.CompletedChallenges = append(out.CompletedChallenges, rec)
	return out
}

// PendingSubmission is a score that could not be confirmed remotely yet.
type PendingSubmission struct {
	ChallengeID string    `json:"challengeId"`
	Score       int       `json:"score"`
	TotalPoints int       `json:"totalPoints"`
	ProfileID   string    `json:"userId"`
	Timestamp   time.Time `json:"timestamp"`
}

// Completed converts the pending entry into the record shown on the profile.
func (p PendingSubmission) Completed() CompletedChallenge {
	return CompletedChallenge{ChallengeID: p.ChallengeID, Score: p.Score, Date: p.Timestamp}
}

// DraftAnswerSet holds the options selected during an unfinished attempt.
type DraftAnswerSet struct {
	ChallengeID string            `json:"challengeId"`
	Answers     map[string]string `json:"answers"`
	Timestamp   time.Time         `json:"timestamp"`
}

// RemoteUser is a verified identity as reported by the identity provider.
type RemoteUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName,omitempty"`
}

// DisplayName falls back to the local part of the email when no full name was provided.
func (u RemoteUser) DisplayName() string {
	if name := strings.TrimSpace(u.FullName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(u.Email, "@")
	return local
}

// RemoteSession is a live session issued by the identity provider.
type RemoteSession struct {
	AccessToken string     `json:"-"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	User        RemoteUser `json:"user"`
}

// AuthEvent names a session lifecycle transition.
type AuthEvent string

const (
	AuthSignedIn       AuthEvent = "SIGNED_IN"
	AuthSignedOut      AuthEvent = "SIGNED_OUT"
	AuthTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// UserRecord is a row of the remote users table.
type UserRecord struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubmissionRecord is a row of the remote user_challenge_submissions table, unique by (UserID, ChallengeID).
type SubmissionRecord struct {
	UserID      string    `json:"user_id"`
	ChallengeID string    `json:"challenge_id"`
	Score       int       `json:"score"`
	TotalPoints int       `json:"total_points"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Completed converts the remote row into the record shown on the profile.
func (s SubmissionRecord) Completed() CompletedChallenge {
	return CompletedChallenge{ChallengeID: s.ChallengeID, Score: s.Score, Date: s.SubmittedAt}
}
