// Package postgres is the relational backend on PostgreSQL via pgx. Each
// mutation is one transaction; transfers lock the debit account row with
// SELECT ... FOR UPDATE so balance checks and inserts on the same account
// are serialized while unrelated accounts proceed in parallel.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

// Store implements store.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store over an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects a new pool to databaseURL.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("accounting/postgres: connect: %w", err)
	}
	return New(pool), nil
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ==================== Asset Store ====================

func (s *Store) CreateAsset(ctx context.Context, a *asset.Asset) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO accounting_assets (`+assetColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Code, int16(a.Scale), int64(a.Ledger), thresholdArg(a.LiquidityThreshold),
		a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return accounting.ErrAssetAlreadyExists
	}
	return err
}

func (s *Store) GetAsset(ctx context.Context, assetID string) (*asset.Asset, error) {
	a, err := scanAsset(s.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM accounting_assets WHERE id = $1`, assetID))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownAsset
	}
	return a, err
}

func (s *Store) GetAssetByLedger(ctx context.Context, ledger uint32) (*asset.Asset, error) {
	a, err := scanAsset(s.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM accounting_assets WHERE ledger = $1`, int64(ledger)))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownAsset
	}
	return a, err
}

func (s *Store) SetAssetThreshold(ctx context.Context, assetID string, threshold *uint64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounting_assets SET liquidity_threshold = $1, updated_at = NOW() WHERE id = $2`,
		thresholdArg(threshold), assetID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accounting.ErrUnknownAsset
	}
	return nil
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	if a.ID.IsNil() {
		a.ID = id.NewAccountID()
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO accounting_accounts (`+accountColumns+`)
VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.AccountRef, string(a.Type), int64(a.Ledger), a.CreatedAt, a.UpdatedAt,
	)
	switch {
	case isUniqueViolation(err):
		return accounting.ErrAccountAlreadyExists
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: no asset owns ledger %d", accounting.ErrUnknownAsset, a.Ledger)
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, ref string, t account.Type) (*account.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounting_accounts WHERE account_ref = $1 AND type = $2`,
		ref, string(t)))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownAccount
	}
	return a, err
}

func (s *Store) GetAccountByID(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return getAccountByID(ctx, s.pool, accountID, "")
}

func (s *Store) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	var w where
	if opts.Ledger != 0 {
		w.add("ledger = ?", int64(opts.Ledger))
	}
	if opts.Type != "" {
		w.add("type = ?", string(opts.Type))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounting_accounts`+w.sql()+` ORDER BY seq`+limitClause(opts.Limit, opts.Offset),
		w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAccount)
}

// getAccountByID reads one account; lock is appended verbatim (for example
// "FOR UPDATE").
func getAccountByID(ctx context.Context, q querier, accountID id.AccountID, lock string) (*account.Account, error) {
	a, err := scanAccount(q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounting_accounts WHERE id = $1 `+lock, accountID))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownAccount
	}
	return a, err
}

// ==================== Transfer Store ====================

func (s *Store) CreateTransfer(ctx context.Context, t *transfer.Transfer, now time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		debit, err := getAccountByID(ctx, tx, t.DebitAccountID, "")
		if err != nil {
			return err
		}
		credit, err := getAccountByID(ctx, tx, t.CreditAccountID, "")
		if err != nil {
			return err
		}

		// Settlement accounts are never balance-checked, so only liquidity
		// debits need the row lock.
		if !debit.Type.IsSettlement() {
			if _, err := getAccountByID(ctx, tx, debit.ID, "FOR UPDATE"); err != nil {
				return err
			}
		}

		if _, err := getTransfer(ctx, tx, t.ID, ""); err == nil {
			return accounting.ErrTransferExists
		} else if !errors.Is(err, accounting.ErrUnknownTransfer) {
			return err
		}

		bal, err := balance(ctx, tx, debit.ID, now)
		if err != nil {
			return err
		}
		if err := accounting.CheckTransfer(t, debit, credit, bal); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
INSERT INTO accounting_transfers (`+transferColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			t.ID, t.DebitAccountID, t.CreditAccountID, int64(t.Amount), int64(t.Ledger),
			string(t.Type), string(t.State), t.ExpiresAt, t.CreatedAt, t.UpdatedAt,
		)
		if isUniqueViolation(err) {
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

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		t, err := finalize(ctx, tx, transferID, transfer.StatePosted, now)
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
		debit, err := getAccountByID(ctx, tx, t.DebitAccountID, "FOR UPDATE")
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

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		result, rejected = finalize(ctx, tx, transferID, transfer.StateVoided, now)
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

// finalize locks a pending transfer and moves it to state. An expired
// transfer is voided instead and reported as rolled back; the caller
// commits that write before returning the error.
func finalize(ctx context.Context, tx pgx.Tx, transferID string, state transfer.State, now time.Time) (*transfer.Transfer, error) {
	t, err := getTransfer(ctx, tx, transferID, "FOR UPDATE")
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

func setState(ctx context.Context, tx pgx.Tx, t *transfer.Transfer, state transfer.State, now time.Time) error {
	if _, err := tx.Exec(ctx,
		`UPDATE accounting_transfers SET state = $1, updated_at = $2 WHERE id = $3`,
		string(state), now, t.ID,
	); err != nil {
		return err
	}
	t.State = state
	t.Touch(now)
	return nil
}

func (s *Store) ExpireTransfers(ctx context.Context, now time.Time, limit int) (int, error) {
	lim := nullLimit(limit)

	tag, err := s.pool.Exec(ctx, `
UPDATE accounting_transfers SET state = 'VOIDED', updated_at = $1
WHERE id IN (
    SELECT id FROM accounting_transfers
    WHERE state = 'PENDING' AND expires_at <= $1
    ORDER BY expires_at
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)`, now, lim)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) GetTransfer(ctx context.Context, transferID string) (*transfer.Transfer, error) {
	return getTransfer(ctx, s.pool, transferID, "")
}

func (s *Store) QueryTransfers(ctx context.Context, opts transfer.QueryOpts, now time.Time) ([]*transfer.Transfer, error) {
	query, args := transferQuery(opts, now)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransfer)
}

// transferQuery builds the SELECT for QueryTransfers. The state filter
// matches effective state at now, so LIMIT and OFFSET see only rows the
// caller will get back.
func transferQuery(opts transfer.QueryOpts, now time.Time) (string, []any) {
	var w where
	if !opts.AccountID.IsNil() {
		w.add("(debit_account_id = ? OR credit_account_id = ?)", opts.AccountID, opts.AccountID)
	}
	if opts.Ledger != 0 {
		w.add("ledger = ?", int64(opts.Ledger))
	}
	if opts.Type != "" {
		w.add("type = ?", string(opts.Type))
	}
	switch opts.State {
	case "":
	case transfer.StatePending:
		w.add("state = 'PENDING' AND (expires_at IS NULL OR expires_at > ?)", now)
	case transfer.StateVoided:
		w.add("(state = 'VOIDED' OR (state = 'PENDING' AND expires_at <= ?))", now)
	default:
		w.add("state = ?", string(opts.State))
	}

	return `SELECT ` + transferColumns + ` FROM accounting_transfers` + w.sql() +
		` ORDER BY seq` + limitClause(opts.Limit, opts.Offset), w.args
}

func (s *Store) Balance(ctx context.Context, accountID id.AccountID, now time.Time) (account.Balance, error) {
	if _, err := getAccountByID(ctx, s.pool, accountID, ""); err != nil {
		return account.Balance{}, err
	}
	return balance(ctx, s.pool, accountID, now)
}

func getTransfer(ctx context.Context, q querier, transferID, lock string) (*transfer.Transfer, error) {
	t, err := scanTransfer(q.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM accounting_transfers WHERE id = $1 `+lock, transferID))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownTransfer
	}
	return t, err
}

// balance aggregates the four totals of accountID. Pending reservations
// count only while their expiry is after now.
func balance(ctx context.Context, q querier, accountID id.AccountID, now time.Time) (account.Balance, error) {
	var cp, dp, cpend, dpend int64
	err := q.QueryRow(ctx, `
SELECT
    COALESCE(SUM(amount) FILTER (WHERE credit_account_id = $1 AND state = 'POSTED'), 0)::BIGINT,
    COALESCE(SUM(amount) FILTER (WHERE debit_account_id = $1 AND state = 'POSTED'), 0)::BIGINT,
    COALESCE(SUM(amount) FILTER (WHERE credit_account_id = $1 AND state = 'PENDING'
        AND (expires_at IS NULL OR expires_at > $2)), 0)::BIGINT,
    COALESCE(SUM(amount) FILTER (WHERE debit_account_id = $1 AND state = 'PENDING'
        AND (expires_at IS NULL OR expires_at > $2)), 0)::BIGINT
FROM accounting_transfers
WHERE debit_account_id = $1 OR credit_account_id = $1`,
		accountID, now,
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
	return insertEvent(ctx, s.pool, e)
}

func (s *Store) GetEvent(ctx context.Context, eventID id.EventID) (*webhook.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM accounting_events WHERE id = $1`, eventID))
	if isNoRows(err) {
		return nil, accounting.ErrUnknownEvent
	}
	return e, err
}

func (s *Store) ListEvents(ctx context.Context, opts webhook.ListOpts) ([]*webhook.Event, error) {
	var w where
	if opts.Type != "" {
		w.add("type = ?", opts.Type)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM accounting_events`+w.sql()+` ORDER BY seq`+limitClause(opts.Limit, opts.Offset),
		w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEvent)
}

func (s *Store) ClaimEvents(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*webhook.Event, error) {
	lim := nullLimit(limit)

	rows, err := s.pool.Query(ctx, `
UPDATE accounting_events SET process_at = $2, updated_at = $1
WHERE id IN (
    SELECT id FROM accounting_events
    WHERE process_at IS NOT NULL AND process_at <= $1
    ORDER BY process_at, seq
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
RETURNING `+eventColumns, now, now.Add(lease), lim)
	if err != nil {
		return nil, err
	}

	events, err := collect(rows, scanEvent)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

func (s *Store) UpdateEvent(ctx context.Context, e *webhook.Event) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE accounting_events
SET type = $1, data = $2, attempts = $3, process_at = $4, updated_at = $5
WHERE id = $6`,
		e.Type, eventData(e), e.Attempts, e.ProcessAt, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return accounting.ErrUnknownEvent
	}
	return nil
}

func insertEvent(ctx context.Context, q querier, e *webhook.Event) error {
	_, err := q.Exec(ctx, `
INSERT INTO accounting_events (`+eventColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Type, eventData(e), e.Attempts, e.ProcessAt, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

// ==================== Helpers ====================

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// where accumulates AND-ed conditions written with ? placeholders and
// renumbers them to $n.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// nullLimit binds limit as a LIMIT parameter; NULL means no limit.
func nullLimit(limit int) *int64 {
	if limit <= 0 {
		return nil
	}
	n := int64(limit)
	return &n
}

func limitClause(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
