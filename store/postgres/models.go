package postgres

import (
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/asset"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/types"
	"github.com/xraph/accounting/webhook"
)

// Column lists shared by every SELECT of an entity.
const (
	assetColumns    = `id, code, scale, ledger, liquidity_threshold, created_at, updated_at`
	accountColumns  = `id, account_ref, type, ledger, created_at, updated_at`
	transferColumns = `id, debit_account_id, credit_account_id, amount, ledger, type, state, expires_at, created_at, updated_at`
	eventColumns    = `id, type, data, attempts, process_at, created_at, updated_at`
)

// ==================== Asset ====================

func scanAsset(r pgx.Row) (*asset.Asset, error) {
	var (
		a         asset.Asset
		scale     int16
		ledger    int64
		threshold *int64
	)
	if err := r.Scan(&a.ID, &a.Code, &scale, &ledger, &threshold, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Scale = uint8(scale)
	a.Ledger = uint32(ledger)
	if threshold != nil {
		v := uint64(*threshold)
		a.LiquidityThreshold = &v
	}
	a.Entity = utcEntity(a.CreatedAt, a.UpdatedAt)
	return &a, nil
}

func thresholdArg(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

// ==================== Account ====================

func scanAccount(r pgx.Row) (*account.Account, error) {
	var (
		a      account.Account
		typ    string
		ledger int64
	)
	if err := r.Scan(&a.ID, &a.AccountRef, &typ, &ledger, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Type = account.Type(typ)
	a.Ledger = uint32(ledger)
	a.Entity = utcEntity(a.CreatedAt, a.UpdatedAt)
	return &a, nil
}

// ==================== Transfer ====================

func scanTransfer(r pgx.Row) (*transfer.Transfer, error) {
	var (
		t       transfer.Transfer
		amount  int64
		ledger  int64
		typ     string
		state   string
		expires *time.Time
	)
	if err := r.Scan(&t.ID, &t.DebitAccountID, &t.CreditAccountID, &amount, &ledger,
		&typ, &state, &expires, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Amount = uint64(amount)
	t.Ledger = uint32(ledger)
	t.Type = transfer.Type(typ)
	t.State = transfer.State(state)
	if expires != nil {
		exp := expires.UTC()
		t.ExpiresAt = &exp
	}
	t.Entity = utcEntity(t.CreatedAt, t.UpdatedAt)
	return &t, nil
}

// ==================== Event ====================

func scanEvent(r pgx.Row) (*webhook.Event, error) {
	var (
		e         webhook.Event
		processAt *time.Time
	)
	if err := r.Scan(&e.ID, &e.Type, &e.Data, &e.Attempts, &processAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if processAt != nil {
		at := processAt.UTC()
		e.ProcessAt = &at
	}
	e.Entity = utcEntity(e.CreatedAt, e.UpdatedAt)
	return &e, nil
}

func eventData(e *webhook.Event) map[string]any {
	if e.Data == nil {
		return map[string]any{}
	}
	return e.Data
}

// collect scans every row with scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func utcEntity(created, updated time.Time) types.Entity {
	return types.Entity{CreatedAt: created.UTC(), UpdatedAt: updated.UTC()}
}
