package score

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/reflex/internal/domain"
)

// PostgresStore keeps records in the scores table.
// Ties on score are returned most recent first, matching RedisStore (IDs are UUIDv7).
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the scores table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS scores (
	id         UUID PRIMARY KEY,
	score      INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS scores_score_idx ON scores (score DESC, id DESC);`

	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}

	return nil
}

func (s *PostgresStore) AddScore(ctx context.Context, r domain.ScoreRecord) error {
	const stmt = `INSERT INTO scores (id, score, created_at) VALUES ($1, $2, $3);`

	if _, err := s.db.Exec(ctx, stmt, r.ID, r.Score, r.Timestamp); err != nil {
		return fmt.Errorf("postgres: insert score: %w", err)
	}

	return nil
}

func (s *PostgresStore) TopScores(ctx context.Context, n int) ([]domain.ScoreRecord, error) {
	const stmt = `
SELECT id::text, score, created_at
FROM scores
ORDER BY score DESC, id DESC
LIMIT $1;`

	rows, err := s.db.Query(ctx, stmt, n)
	if err != nil {
		return nil, fmt.Errorf("postgres: query top scores: %w", err)
	}

	rs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.ScoreRecord, error) {
		var sr domain.ScoreRecord
		if err := r.Scan(&sr.ID, &sr.Score, &sr.Timestamp); err != nil {
			return domain.ScoreRecord{}, err
		}
		sr.Timestamp = sr.Timestamp.UTC()
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: collect top scores: %w", err)
	}

	return rs, nil
}
