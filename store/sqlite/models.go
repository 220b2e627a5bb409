package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/asset"
	"github.com/xraph/accounting/id"
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

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ==================== Asset ====================

func scanAsset(r rowScanner) (*asset.Asset, error) {
	var (
		a         asset.Asset
		threshold sql.NullInt64
		created   int64
		updated   int64
	)
	if err := r.Scan(&a.ID, &a.Code, &a.Scale, &a.Ledger, &threshold, &created, &updated); err != nil {
		return nil, err
	}
	if threshold.Valid {
		v := uint64(threshold.Int64)
		a.LiquidityThreshold = &v
	}
	a.Entity = entityFrom(created, updated)
	return &a, nil
}

func thresholdArg(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

// ==================== Account ====================

func scanAccount(r rowScanner) (*account.Account, error) {
	var (
		a       account.Account
		typ     string
		created int64
		updated int64
	)
	if err := r.Scan(&a.ID, &a.AccountRef, &typ, &a.Ledger, &created, &updated); err != nil {
		return nil, err
	}
	a.Type = account.Type(typ)
	a.Entity = entityFrom(created, updated)
	return &a, nil
}

// ==================== Transfer ====================

func scanTransfer(r rowScanner) (*transfer.Transfer, error) {
	var (
		t       transfer.Transfer
		amount  int64
		typ     string
		state   string
		expires sql.NullInt64
		created int64
		updated int64
	)
	if err := r.Scan(&t.ID, &t.DebitAccountID, &t.CreditAccountID, &amount, &t.Ledger,
		&typ, &state, &expires, &created, &updated); err != nil {
		return nil, err
	}
	t.Amount = uint64(amount)
	t.Type = transfer.Type(typ)
	t.State = transfer.State(state)
	t.ExpiresAt = fromNullNanos(expires)
	t.Entity = entityFrom(created, updated)
	return &t, nil
}

// ==================== Event ====================

func scanEvent(r rowScanner) (*webhook.Event, error) {
	var (
		e         webhook.Event
		data      string
		processAt sql.NullInt64
		created   int64
		updated   int64
	)
	if err := r.Scan(&e.ID, &e.Type, &data, &e.Attempts, &processAt, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
		return nil, fmt.Errorf("accounting/sqlite: decode event %s data: %w", e.ID, err)
	}
	e.ProcessAt = fromNullNanos(processAt)
	e.Entity = entityFrom(created, updated)
	return &e, nil
}

func eventData(e *webhook.Event) (string, error) {
	if e.Data == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return "", fmt.Errorf("accounting/sqlite: encode event %s data: %w", e.ID, err)
	}
	return string(raw), nil
}

// ==================== Time ====================

// Times are stored as INTEGER unix nanoseconds so that expiry comparisons
// stay numeric.

func nanos(t time.Time) int64 { return t.UnixNano() }

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNullNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func entityFrom(created, updated int64) types.Entity {
	return types.Entity{
		CreatedAt: time.Unix(0, created).UTC(),
		UpdatedAt: time.Unix(0, updated).UTC(),
	}
}

func idArg(i id.ID) string { return i.String() }
