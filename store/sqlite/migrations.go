package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one versioned schema step. Versions apply in order and are
// recorded in accounting_migrations.
type migration struct {
	Name    string
	Version string
	Up      string
}

var migrations = []migration{
	{
		Name:    "create_accounting_assets",
		Version: "20240301000001",
		Up: `
CREATE TABLE IF NOT EXISTS accounting_assets (
    id                  TEXT PRIMARY KEY,
    code                TEXT NOT NULL,
    scale               INTEGER NOT NULL CHECK (scale BETWEEN 0 AND 255),
    ledger              INTEGER NOT NULL UNIQUE CHECK (ledger > 0),
    liquidity_threshold INTEGER,
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL
);
`,
	},
	{
		Name:    "create_accounting_accounts",
		Version: "20240301000002",
		Up: `
CREATE TABLE IF NOT EXISTS accounting_accounts (
    id          TEXT PRIMARY KEY,
    account_ref TEXT NOT NULL,
    type        TEXT NOT NULL,
    ledger      INTEGER NOT NULL REFERENCES accounting_assets (ledger),
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    UNIQUE (account_ref, type)
);

CREATE INDEX IF NOT EXISTS idx_accounting_accounts_ledger ON accounting_accounts (ledger, type);
`,
	},
	{
		Name:    "create_accounting_transfers",
		Version: "20240301000003",
		Up: `
CREATE TABLE IF NOT EXISTS accounting_transfers (
    id                TEXT PRIMARY KEY,
    debit_account_id  TEXT NOT NULL REFERENCES accounting_accounts (id),
    credit_account_id TEXT NOT NULL REFERENCES accounting_accounts (id),
    amount            INTEGER NOT NULL CHECK (amount > 0),
    ledger            INTEGER NOT NULL,
    type              TEXT NOT NULL,
    state             TEXT NOT NULL,
    expires_at        INTEGER,
    created_at        INTEGER NOT NULL,
    updated_at        INTEGER NOT NULL,
    CHECK (debit_account_id <> credit_account_id)
);

CREATE INDEX IF NOT EXISTS idx_accounting_transfers_debit ON accounting_transfers (debit_account_id, state);
CREATE INDEX IF NOT EXISTS idx_accounting_transfers_credit ON accounting_transfers (credit_account_id, state);
CREATE INDEX IF NOT EXISTS idx_accounting_transfers_expiry ON accounting_transfers (state, expires_at);
`,
	},
	{
		Name:    "create_accounting_events",
		Version: "20240301000004",
		Up: `
CREATE TABLE IF NOT EXISTS accounting_events (
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    data       TEXT NOT NULL DEFAULT '{}',
    attempts   INTEGER NOT NULL DEFAULT 0,
    process_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounting_events_process_at ON accounting_events (process_at);
CREATE INDEX IF NOT EXISTS idx_accounting_events_type ON accounting_events (type);
`,
	},
}

// Migrate applies every migration not yet recorded.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS accounting_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("accounting/sqlite: create migrations table: %w", err)
	}

	for _, m := range migrations {
		if err := s.inTx(ctx, func(tx *sql.Tx) error { return applyMigration(ctx, tx, m) }); err != nil {
			return fmt.Errorf("accounting/sqlite: migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, tx *sql.Tx, m migration) error {
	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounting_migrations WHERE version = ?`, m.Version,
	).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, m.Up); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO accounting_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, time.Now().UnixNano(),
	)
	return err
}
