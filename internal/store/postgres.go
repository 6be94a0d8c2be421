package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the store_documents table. Execute it via
// [PostgresPersister.EnsureSchema] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS store_documents (
    name       TEXT PRIMARY KEY,
    body       BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the database interface used by [PostgresPersister]. Both
// *pgxpool.Pool and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresPersister is a [Persister] that keeps each document in one row of
// store_documents. A single upsert statement makes Save atomic.
type PostgresPersister struct {
	db DB
}

// Compile-time interface check.
var _ Persister = (*PostgresPersister)(nil)

// NewPostgresPersister returns a persister using db. Call
// [PostgresPersister.EnsureSchema] before first use.
func NewPostgresPersister(db DB) *PostgresPersister {
	return &PostgresPersister{db: db}
}

// EnsureSchema creates the store_documents table if it does not exist.
func (p *PostgresPersister) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// Load implements [Persister].
func (p *PostgresPersister) Load(ctx context.Context, name string) ([]byte, error) {
	const query = `SELECT body FROM store_documents WHERE name = $1`

	var body []byte
	if err := p.db.QueryRow(ctx, query, name).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load %q: %w", name, err)
	}
	return body, nil
}

// Save implements [Persister].
func (p *PostgresPersister) Save(ctx context.Context, name string, body []byte) error {
	const query = `
		INSERT INTO store_documents (name, body) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = now()`

	if _, err := p.db.Exec(ctx, query, name, body); err != nil {
		return fmt.Errorf("store: save %q: %w", name, err)
	}
	return nil
}
