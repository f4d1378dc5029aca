package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const schema = `CREATE TABLE IF NOT EXISTS goose_round_results (
    round_id      TEXT PRIMARY KEY,
    username      TEXT NOT NULL,
    start_at      TIMESTAMPTZ NOT NULL,
    end_at        TIMESTAMPTZ NOT NULL,
    total_points  INTEGER NOT NULL,
    my_points     INTEGER NOT NULL,
    winner        TEXT,
    winner_points INTEGER,
    recorded_at   TIMESTAMPTZ NOT NULL
)`

// Repository archives results in PostgreSQL.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts one finished round. A nil repository is a no-op.
func (r *Repository) SaveResult(ctx context.Context, res Result) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO goose_round_results (
        round_id, username, start_at, end_at, total_points, my_points, winner, winner_points, recorded_at
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
      ON CONFLICT (round_id) DO UPDATE SET
        username=EXCLUDED.username,
        total_points=GREATEST(goose_round_results.total_points, EXCLUDED.total_points),
        my_points=GREATEST(goose_round_results.my_points, EXCLUDED.my_points),
        winner=COALESCE(EXCLUDED.winner, goose_round_results.winner),
        winner_points=COALESCE(EXCLUDED.winner_points, goose_round_results.winner_points),
        recorded_at=EXCLUDED.recorded_at`

	_, err := r.db.ExecContext(ctx, q,
		res.RoundID, res.Username, res.StartAt, res.EndAt,
		res.TotalPoints, res.MyPoints,
		nullString(res.Winner), nullInt(res.Winner, res.WinnerPoints),
		res.RecordedAt,
	)
	return err
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(winner string, n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: strings.TrimSpace(winner) != ""}
}
