package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"virtual-lab-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// CatalogLoader loads challenge JSONB documents from Postgres.
type CatalogLoader struct {
	pool *pgxpool.Pool
}

func NewCatalogLoader(pool *pgxpool.Pool) *CatalogLoader {
	return &CatalogLoader{pool: pool}
}

func (l *CatalogLoader) LoadChallenges(ctx context.Context) ([]domain.Challenge, error) {
	rows, err := l.pool.Query(ctx, `SELECT data FROM challenges ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("load challenges: %w", err)
	}
	defer rows.Close()

	challenges := make([]domain.Challenge, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		var ch domain.Challenge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, fmt.Errorf("unmarshal challenge: %w", err)
		}
		challenges = append(challenges, ch)
	}
	return challenges, rows.Err()
}

// ImportChallenges upserts challenges in one transaction, keeping their order.
func ImportChallenges(ctx context.Context, pool *pgxpool.Pool, challenges []domain.Challenge) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, ch := range challenges {
		data, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("marshal challenge %s: %w", ch.ID, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO challenges (id, position, data) VALUES ($1, $2, $3::jsonb)
			 ON CONFLICT (id) DO UPDATE SET position = EXCLUDED.position, data = EXCLUDED.data`,
			ch.ID, i, string(data))
		if err != nil {
			return fmt.Errorf("import challenge %s: %w", ch.ID, err)
		}
	}
	return tx.Commit(ctx)
}
