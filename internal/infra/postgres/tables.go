package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"virtual-lab-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const uniqueViolation = "23505"

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	ID        string    `bun:"id,pk"`
	Email     string    `bun:"email,notnull"`
	Name      string    `bun:"name,notnull"`
	Role      string    `bun:"role,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type submissionRow struct {
	bun.BaseModel `bun:"table:user_challenge_submissions"`

	UserID      string    `bun:"user_id,pk"`
	ChallengeID string    `bun:"challenge_id,pk"`
	Score       int       `bun:"score,notnull"`
	TotalPoints int       `bun:"total_points,notnull"`
	SubmittedAt time.Time `bun:"submitted_at,notnull"`
}

// UserTable reads and creates rows of the users table. Rows are never updated.
type UserTable struct {
	db *bun.DB
}

func NewUserTable(db *bun.DB) *UserTable {
	return &UserTable{db: db}
}

func (t *UserTable) GetUser(ctx context.Context, id string) (domain.UserRecord, error) {
	row := new(userRow)
	err := t.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("select user: %w", err)
	}
	return domain.UserRecord{
		ID:        row.ID,
		Email:     row.Email,
		Name:      row.Name,
		Role:      domain.Role(row.Role),
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func (t *UserTable) InsertUser(ctx context.Context, u domain.UserRecord) error {
	row := &userRow{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	if _, err := t.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return mapWriteError("insert user", err)
	}
	return nil
}

// SubmissionTable stores one row per (user, challenge). With atomicUpsert the
// insert overwrites in place; otherwise an existing row yields domain.ErrConflict
// and callers fall back to UpdateSubmission.
type SubmissionTable struct {
	db           *bun.DB
	atomicUpsert bool
}

func NewSubmissionTable(db *bun.DB, atomicUpsert bool) *SubmissionTable {
	return &SubmissionTable{db: db, atomicUpsert: atomicUpsert}
}

func (t *SubmissionTable) UpsertSubmission(ctx context.Context, rec domain.SubmissionRecord) error {
	q := t.db.NewInsert().Model(toSubmissionRow(rec))
	if t.atomicUpsert {
		q = q.On("CONFLICT (user_id, challenge_id) DO UPDATE").
			Set("score = EXCLUDED.score").
			Set("total_points = EXCLUDED.total_points").
			Set("submitted_at = EXCLUDED.submitted_at")
	}
	if _, err := q.Exec(ctx); err != nil {
		return mapWriteError("upsert submission", err)
	}
	return nil
}

func (t *SubmissionTable) UpdateSubmission(ctx context.Context, rec domain.SubmissionRecord) error {
	res, err := t.db.NewUpdate().
		Model(toSubmissionRow(rec)).
		Column("score", "total_points", "submitted_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return mapWriteError("update submission", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *SubmissionTable) ListSubmissions(ctx context.Context, userID string) ([]domain.SubmissionRecord, error) {
	var rows []submissionRow
	err := t.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Order("submitted_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select submissions: %w", err)
	}
	out := make([]domain.SubmissionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.SubmissionRecord{
			UserID:      r.UserID,
			ChallengeID: r.ChallengeID,
			Score:       r.Score,
			TotalPoints: r.TotalPoints,
			SubmittedAt: r.SubmittedAt,
		})
	}
	return out, nil
}

func toSubmissionRow(rec domain.SubmissionRecord) *submissionRow {
	return &submissionRow{
		UserID:      rec.UserID,
		ChallengeID: rec.ChallengeID,
		Score:       rec.Score,
		TotalPoints: rec.TotalPoints,
		SubmittedAt: rec.SubmittedAt,
	}
}

func mapWriteError(op string, err error) error {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
