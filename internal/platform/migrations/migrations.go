// Package migrations applies the credit layer schema. Statements are
// idempotent so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	// The user directory is owned by the perimeter service; the table is
	// created here only so local development and integration tests can run
	// against an empty database.
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_idx ON users (LOWER(email))`,
	`CREATE TABLE IF NOT EXISTS user_credits (
		user_id           TEXT PRIMARY KEY,
		credits_available INTEGER NOT NULL DEFAULT 0 CHECK (credits_available >= 0),
		credits_used      INTEGER NOT NULL DEFAULT 0 CHECK (credits_used >= 0),
		credits_total     INTEGER NOT NULL DEFAULT 0,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		amount        INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		type          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		tenant_id     TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS credit_transactions_user_idx ON credit_transactions (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS credit_transactions_created_idx ON credit_transactions (created_at)`,
}

// Apply executes all schema statements in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
