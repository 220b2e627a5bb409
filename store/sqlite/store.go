// Package sqlite is a single-node relational backend on modernc.org/sqlite.
// Every mutation runs in a BEGIN IMMEDIATE transaction, so writers are
// serialized by the database lock and balances are read and checked inside
// the same transaction that inserts the transfer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/accounting"
	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/asset"
	"github.com/xraph/accounting/id"
	"github.com/xraph/accounting/store"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

// compile-time interface check
var (
	_ store.Store   = (*Store)(nil)
	_ store.Sidecar = (*Store)(nil)
)

// Store implements store.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database. The caller must have opened it
// with foreign keys on and immediate transactions; Open does both.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Store, error) {
	dsn := "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("accounting/sqlite: open %s: %w", path, err)
	}
	// SQLite has a single writer; queue in the pool rather than on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	return New(db), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ==================== Asset Store ====================

func (s *Store) CreateAsset(ctx context.Context, a *asset.Asset) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO accounting_assets (`+assetColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Code, int64(a.Scale), int64(a.Ledger), thresholdArg(a.LiquidityThreshold),
		nanos(a.CreatedAt), nanos(a.UpdatedAt),
	)
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
		return accounting.ErrAssetAlreadyExists
	}
	return err
}

func (s *Store) GetAsset(ctx context.Context, assetID string) (*asset.Asset, error) {
	a, err := scanAsset(s.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM accounting_assets WHERE id = ?`, assetID))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownAsset
	}
	return a, err
}

func (s *Store) GetAssetByLedger(ctx context.Context, ledger uint32) (*asset.Asset, error) {
	return getAssetByLedger(ctx, s.db, ledger)
}

func (s *Store) SetAssetThreshold(ctx context.Context, assetID string, threshold *uint64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounting_assets SET liquidity_threshold = ?, updated_at = ? WHERE id = ?`,
		thresholdArg(threshold), time.Now().UnixNano(), assetID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, accounting.ErrUnknownAsset)
}

func getAssetByLedger(ctx context.Context, q querier, ledger uint32) (*asset.Asset, error) {
	a, err := scanAsset(q.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM accounting_assets WHERE ledger = ?`, int64(ledger)))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownAsset
	}
	return a, err
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	if a.ID.IsNil() {
		a.ID = id.NewAccountID()
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := getAssetByLedger(ctx, tx, a.Ledger); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
INSERT INTO accounting_accounts (`+accountColumns+`)
VALUES (?, ?, ?, ?, ?, ?)`,
			idArg(a.ID), a.AccountRef, string(a.Type), int64(a.Ledger),
			nanos(a.CreatedAt), nanos(a.UpdatedAt),
		)
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return accounting.ErrAccountAlreadyExists
		}
		return err
	})
}

func (s *Store) GetAccount(ctx context.Context, ref string, t account.Type) (*account.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounting_accounts WHERE account_ref = ? AND type = ?`,
		ref, string(t)))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownAccount
	}
	return a, err
}

func (s *Store) GetAccountByID(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return getAccountByID(ctx, s.db, accountID)
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	var (
		where []string
		args  []any
	)
	if opts.Ledger != 0 {
		where = append(where, "ledger = ?")
		args = append(args, int64(opts.Ledger))
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}

	query := `SELECT ` + accountColumns + ` FROM accounting_accounts` +
		whereClause(where) + ` ORDER BY rowid` + limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func getAccountByID(ctx context.Context, q querier, accountID id.AccountID) (*account.Account, error) {
	a, err := scanAccount(q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounting_accounts WHERE id = ?`, idArg(accountID)))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownAccount
	}
	return a, err
}

// ==================== Transfer Store ====================

func (s *Store) CreateTransfer(ctx context.Context, t *transfer.Transfer, now time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := getTransfer(ctx, tx, t.ID); err == nil {
			return accounting.ErrTransferExists
		} else if !errors.Is(err, accounting.ErrUnknownTransfer) {
			return err
		}

		debit, err := getAccountByID(ctx, tx, t.DebitAccountID)
		if err != nil {
			return err
		}
		credit, err := getAccountByID(ctx, tx, t.CreditAccountID)
		if err != nil {
			return err
		}
		bal, err := balance(ctx, tx, debit.ID, now)
		if err != nil {
			return err
		}
		if err := accounting.CheckTransfer(t, debit, credit, bal); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO accounting_transfers (`+transferColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, idArg(t.DebitAccountID), idArg(t.CreditAccountID), int64(t.Amount), int64(t.Ledger),
			string(t.Type), string(t.State), nullNanos(t.ExpiresAt),
			nanos(t.CreatedAt), nanos(t.UpdatedAt),
		)
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return accounting.ErrTransferExists
		}
		return err
	})
}

func (s *Store) PostTransfer(ctx context.Context, transferID string, now time.Time, hook transfer.DebitHook) (*transfer.Transfer, error) {
	var (
		result   *transfer.Transfer
		rejected error
	)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		t, err := s.finalize(ctx, tx, transferID, transfer.StatePosted, now)
		if err != nil {
			if !accounting.IsDomainError(err) {
				return err
			}
			rejected = err
			return nil
		}
		result = t

		if hook == nil {
			return nil
		}
		debit, err := getAccountByID(ctx, tx, t.DebitAccountID)
		if err != nil {
			return err
		}
		bal, err := balance(ctx, tx, debit.ID, now)
		if err != nil {
			return err
		}
		if e := hook(debit, bal.Posted()); e != nil {
			return insertEvent(ctx, tx, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, rejected
}

func (s *Store) VoidTransfer(ctx context.Context, transferID string, now time.Time) (*transfer.Transfer, error) {
	var (
		result   *transfer.Transfer
		rejected error
	)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		result, rejected = s.finalize(ctx, tx, transferID, transfer.StateVoided, now)
		if rejected != nil && !accounting.IsDomainError(rejected) {
			return rejected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, rejected
}

// finalize moves a pending transfer to state. An expired transfer is
// voided instead and reported as rolled back; the caller commits that
// write before returning the error.
func (s *Store) finalize(ctx context.Context, tx *sql.Tx, transferID string, state transfer.State, now time.Time) (*transfer.Transfer, error) {
	t, err := getTransfer(ctx, tx, transferID)
	if err != nil {
		return nil, err
	}

	expired, err := accounting.CheckPending(t, now)
	if expired {
		if uerr := setState(ctx, tx, t, transfer.StateVoided, now); uerr != nil {
			return nil, uerr
		}
	}
	if err != nil {
		return nil, err
	}

	if err := setState(ctx, tx, t, state, now); err != nil {
		return nil, err
	}
	return t, nil
}

func setState(ctx context.Context, tx *sql.Tx, t *transfer.Transfer, state transfer.State, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE accounting_transfers SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), nanos(now), t.ID,
	)
	if err != nil {
		return err
	}
	t.State = state
	t.Touch(now)
	return nil
}

func (s *Store) ExpireTransfers(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = -1
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE accounting_transfers SET state = ?, updated_at = ?
WHERE id IN (
    SELECT id FROM accounting_transfers
    WHERE state = ? AND expires_at IS NOT NULL AND expires_at <= ?
    ORDER BY expires_at
    LIMIT ?
)`,
		string(transfer.StateVoided), nanos(now), string(transfer.StatePending), nanos(now), limit,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) GetTransfer(ctx context.Context, transferID string) (*transfer.Transfer, error) {
	return getTransfer(ctx, s.db, transferID)
}

func (s *Store) QueryTransfers(ctx context.Context, opts transfer.QueryOpts, now time.Time) ([]*transfer.Transfer, error) {
	var (
		where []string
		args  []any
	)
	if !opts.AccountID.IsNil() {
		where = append(where, "(debit_account_id = ? OR credit_account_id = ?)")
		args = append(args, idArg(opts.AccountID), idArg(opts.AccountID))
	}
	if opts.Ledger != 0 {
		where = append(where, "ledger = ?")
		args = append(args, int64(opts.Ledger))
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}
	switch opts.State {
	case "":
	case transfer.StatePending:
		where = append(where, "state = 'PENDING' AND (expires_at IS NULL OR expires_at > ?)")
		args = append(args, nanos(now))
	case transfer.StateVoided:
		where = append(where, "(state = 'VOIDED' OR (state = 'PENDING' AND expires_at <= ?))")
		args = append(args, nanos(now))
	default:
		where = append(where, "state = ?")
		args = append(args, string(opts.State))
	}

	query := `SELECT ` + transferColumns + ` FROM accounting_transfers` +
		whereClause(where) + ` ORDER BY rowid` + limitClause(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*transfer.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) Balance(ctx context.Context, accountID id.AccountID, now time.Time) (account.Balance, error) {
	if _, err := getAccountByID(ctx, s.db, accountID); err != nil {
		return account.Balance{}, err
	}
	return balance(ctx, s.db, accountID, now)
}

func getTransfer(ctx context.Context, q querier, transferID string) (*transfer.Transfer, error) {
	t, err := scanTransfer(q.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM accounting_transfers WHERE id = ?`, transferID))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownTransfer
	}
	return t, err
}

// balance aggregates the four totals of accountID. Pending reservations
// count only while their expiry is after now.
func balance(ctx context.Context, q querier, accountID id.AccountID, now time.Time) (account.Balance, error) {
	var cp, dp, cpend, dpend int64
	err := q.QueryRowContext(ctx, `
SELECT
    COALESCE(SUM(CASE WHEN credit_account_id = ?1 AND state = 'POSTED' THEN amount ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN debit_account_id = ?1 AND state = 'POSTED' THEN amount ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN credit_account_id = ?1 AND state = 'PENDING'
        AND (expires_at IS NULL OR expires_at > ?2) THEN amount ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN debit_account_id = ?1 AND state = 'PENDING'
        AND (expires_at IS NULL OR expires_at > ?2) THEN amount ELSE 0 END), 0)
FROM accounting_transfers
WHERE debit_account_id = ?1 OR credit_account_id = ?1`,
		idArg(accountID), nanos(now),
	).Scan(&cp, &dp, &cpend, &dpend)
	if err != nil {
		return account.Balance{}, err
	}

	return account.Balance{
		CreditsPosted:  uint64(cp),
		DebitsPosted:   uint64(dp),
		CreditsPending: uint64(cpend),
		DebitsPending:  uint64(dpend),
	}, nil
}

// ==================== Webhook Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, e *webhook.Event) error {
	return insertEvent(ctx, s.db, e)
}

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*webhook.Event, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM accounting_events WHERE id = ?`, idArg(eventID)))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownEvent
	}
	return e, err
}

func (s *Store) ListEvents(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Event, error) {
	var (
		where []string
		args  []any
	)
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, opts.Type)
	}

	query := `SELECT ` + eventColumns + ` FROM accounting_events` +
		whereClause(where) + ` ORDER BY rowid` + limitClause(opts.Limit, opts.Offset)

	return queryEvents(ctx, s.db, query, args...)
}

func (s *Store) ClaimEvents(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*webhook.Event, error) {
	if limit <= 0 {
		limit = -1
	}

	var result []*webhook.Event
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		due, err := queryEvents(ctx, tx, `
SELECT `+eventColumns+` FROM accounting_events
WHERE process_at IS NOT NULL AND process_at <= ?
ORDER BY process_at, rowid
LIMIT ?`, nanos(now), limit)
		if err != nil {
			return err
		}

		leased := now.Add(lease).UTC()
		for _, e := range due {
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounting_events SET process_at = ?, updated_at = ? WHERE id = ?`,
				nanos(leased), nanos(now), idArg(e.ID),
			); err != nil {
				return err
			}
			at := leased
			e.ProcessAt = &at
			e.Touch(now)
		}
		result = due
		return nil
	})
	return result, err
}

func (s *Store) UpdateEvent(ctx context.Context, e *webhook.Event) error {
	data, err := eventData(e)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE accounting_events
SET type = ?, data = ?, attempts = ?, process_at = ?, updated_at = ?
WHERE id = ?`,
		e.Type, data, e.Attempts, nullNanos(e.ProcessAt), nanos(e.UpdatedAt), idArg(e.ID),
	)
	if err != nil {
		return err
	}
	return requireAffected(res, accounting.ErrUnknownEvent)
}

func insertEvent(ctx context.Context, q querier, e *webhook.Event) error {
	data, err := eventData(e)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
INSERT INTO accounting_events (`+eventColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		idArg(e.ID), e.Type, data, e.Attempts, nullNanos(e.ProcessAt),
		nanos(e.CreatedAt), nanos(e.UpdatedAt),
	)
	return err
}

func queryEvents(ctx context.Context, q querier, query string, args ...any) ([]*webhook.Event, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*webhook.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// ==================== Helpers ====================

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func limitClause(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	default:
		return ""
	}
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isConstraint reports whether err is a SQLite constraint violation with
// one of the given extended codes.
func isConstraint(err error, codes ...int) bool {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.Code() == c {
			return true
		}
	}
	return false
}
