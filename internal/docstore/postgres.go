package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mindloom/mindloom/internal/docname"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	public_id     TEXT NOT NULL,
	document_type TEXT NOT NULL,
	state         BYTEA NOT NULL,
	snapshot      JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (public_id, document_type)
)`

// PostgresStore persists documents in a relational table keyed by
// (public_id, document_type).
type PostgresStore struct {
	db *sql.DB
}

// Open connects to Postgres, bootstraps the schema, and returns the store.
func Open(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, ref docname.Ref, state, snapshot []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (public_id, document_type, state, snapshot)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (public_id, document_type)
		DO UPDATE SET state=EXCLUDED.state, snapshot=EXCLUDED.snapshot, updated_at=NOW()
	`, ref.PublicID, string(ref.Kind), state, snapshot)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", ref, err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, ref docname.Ref) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM documents WHERE public_id=$1 AND document_type=$2
	`, ref.PublicID, string(ref.Kind)).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", ref, err)
	}
	return state, nil
}

func (s *PostgresStore) Snapshot(ctx context.Context, ref docname.Ref) ([]byte, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM documents WHERE public_id=$1 AND document_type=$2
	`, ref.PublicID, string(ref.Kind)).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", ref, err)
	}
	return snapshot, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
