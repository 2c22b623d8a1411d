package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	name TEXT PRIMARY KEY,
	body TEXT NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps documents in the documents table of a postgres database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	if url == "" {
		return nil, errors.New("postgres driver requires DATABASE_URL")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, name string) ([]byte, error) {
	var body string
	err := s.pool.QueryRow(ctx, `SELECT body FROM documents WHERE name = $1`, name).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return []byte(body), nil
}

func (s *PostgresStore) Save(ctx context.Context, name string, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (name, body, version, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (name) DO UPDATE SET
			body = EXCLUDED.body,
			version = documents.version + 1,
			updated_at = now()
	`, name, string(data))
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
