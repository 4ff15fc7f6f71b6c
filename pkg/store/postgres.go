package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skeinai/skein/pkg/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS execution_records (
    id          TEXT PRIMARY KEY,
    graph_id    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    record      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS execution_records_graph_idx ON execution_records (graph_id, inserted_at);
`

// PostgresStore persists execution records as JSONB rows. The primary key on
// the record id plus ON CONFLICT DO NOTHING keeps Append idempotent.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Append implements ExecutionStore.
func (s *PostgresStore) Append(ctx context.Context, record domain.ExecutionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO execution_records (id, graph_id, status, started_at, record)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		record.ID, record.GraphID, string(record.Status), record.StartedAt, payload,
	)
	if err != nil {
		return fmt.Errorf("store record %s: %w", record.ID, err)
	}
	return nil
}

// Get implements ExecutionStore.
func (s *PostgresStore) Get(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM execution_records WHERE id = $1`, id,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ExecutionRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("fetch record %s: %w", id, err)
	}
	var record domain.ExecutionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return record, nil
}

// List implements ExecutionStore.
func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]domain.ExecutionRecord, error) {
	query := `SELECT record FROM execution_records`
	args := []any{}
	if opts.GraphID != "" {
		query += ` WHERE graph_id = $1`
		args = append(args, opts.GraphID)
	}
	query += ` ORDER BY inserted_at`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var record domain.ExecutionRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Close implements ExecutionStore.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
