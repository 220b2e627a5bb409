package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
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
    scale               SMALLINT NOT NULL CHECK (scale BETWEEN 0 AND 255),
    ledger              BIGINT NOT NULL UNIQUE CHECK (ledger > 0),
    liquidity_threshold BIGINT CHECK (liquidity_threshold >= 0),
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`,
	},
	{
		Name:    "create_accounting_accounts",
		Version: "20240301000002",
		Up: `
CREATE TABLE IF NOT EXISTS accounting_accounts (
    seq         BIGINT GENERATED ALWAYS AS IDENTITY,
    id          TEXT PRIMARY KEY,
    account_ref TEXT NOT NULL,
    type        TEXT NOT NULL,
    ledger      BIGINT NOT NULL REFERENCES accounting_assets (ledger),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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
    seq               BIGINT GENERATED ALWAYS AS IDENTITY,
    id                TEXT PRIMARY KEY,
    debit_account_id  TEXT NOT NULL REFERENCES accounting_accounts (id),
    credit_account_id TEXT NOT NULL REFERENCES accounting_accounts (id),
    amount            BIGINT NOT NULL CHECK (amount > 0),
    ledger            BIGINT NOT NULL,
    type              TEXT NOT NULL,
    state             TEXT NOT NULL CHECK (state IN ('PENDING', 'POSTED', 'VOIDED')),
    expires_at        TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (debit_account_id <> credit_account_id)
);

CREATE INDEX IF NOT EXISTS idx_accounting_transfers_debit ON accounting_transfers (debit_account_id, state);
CREATE INDEX IF NOT EXISTS idx_accounting_transfers_credit ON accounting_transfers (credit_account_id, state);
CREATE INDEX IF NOT EXISTS idx_accounting_transfers_expiry ON accounting_transfers (expires_at) WHERE state = 'PENDING';
`,
	},
	{
		Name:    "create_accounting_events",
		Version: "20240301000004",
		Up: `
CREATE TABLE IF NOT EXISTS accounting_events (
    seq        BIGINT GENERATED ALWAYS AS IDENTITY,
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    data       JSONB NOT NULL DEFAULT '{}',
    attempts   INTEGER NOT NULL DEFAULT 0,
    process_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_accounting_events_process_at ON accounting_events (process_at) WHERE process_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_accounting_events_type ON accounting_events (type);
`,
	},
}

// migrationLock keys the advisory lock that serializes concurrent migrators.
const migrationLock = 0x61636374 // "acct"

// Migrate applies every migration not yet recorded.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS accounting_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("accounting/postgres: create migrations table: %w", err)
	}

	for _, m := range migrations {
		err := s.inTx(ctx, func(tx pgx.Tx) error { return applyMigration(ctx, tx, m) })
		if err != nil {
			return fmt.Errorf("accounting/postgres: migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, tx pgx.Tx, m migration) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(migrationLock)); err != nil {
		return err
	}

	var applied bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounting_migrations WHERE version = $1)`, m.Version,
	).Scan(&applied); err != nil {
		return err
	}
	if applied {
		return nil
	}

	if _, err := tx.Exec(ctx, m.Up); err != nil {
		return err
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO accounting_migrations (version, name) VALUES ($1, $2)`,
		m.Version, m.Name,
	)
	return err
}
