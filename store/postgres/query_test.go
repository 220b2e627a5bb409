package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xraph/accounting/id"
	"github.com/xraph/accounting/transfer"
)

func TestWhereRenumbersPlaceholders(t *testing.T) {
	var w where
	assert.Empty(t, w.sql())

	w.add("(debit_account_id = ? OR credit_account_id = ?)", "a", "a")
	w.add("ledger = ?", int64(7))
	w.add("state = 'POSTED'")

	assert.Equal(t, " WHERE (debit_account_id = $1 OR credit_account_id = $2) AND ledger = $3 AND state = 'POSTED'", w.sql())
	assert.Equal(t, []any{"a", "a", int64(7)}, w.args)
}

func TestLimitClause(t *testing.T) {
	tests := []struct {
		limit, offset int
		want          string
	}{
		{0, 0, ""},
		{10, 0, " LIMIT 10"},
		{0, 5, " OFFSET 5"},
		{10, 5, " LIMIT 10 OFFSET 5"},
		{-1, -1, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, limitClause(tt.limit, tt.offset), "limit=%d offset=%d", tt.limit, tt.offset)
	}
}

func TestNullLimit(t *testing.T) {
	assert.Nil(t, nullLimit(0))
	assert.Nil(t, nullLimit(-3))
	if got := nullLimit(25); assert.NotNil(t, got) {
		assert.Equal(t, int64(25), *got)
	}
}

func TestTransferQuery(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	acct := id.NewAccountID()
	const head = `SELECT ` + transferColumns + ` FROM accounting_transfers`

	tests := []struct {
		name  string
		opts  transfer.QueryOpts
		query string
		args  []any
	}{
		{
			name:  "everything",
			query: head + ` ORDER BY seq`,
		},
		{
			name:  "pending excludes expired rows before paging",
			opts:  transfer.QueryOpts{AccountID: acct, State: transfer.StatePending, Limit: 2, Offset: 1},
			query: head + ` WHERE (debit_account_id = $1 OR credit_account_id = $2) AND state = 'PENDING' AND (expires_at IS NULL OR expires_at > $3) ORDER BY seq LIMIT 2 OFFSET 1`,
			args:  []any{acct, acct, now},
		},
		{
			name:  "voided includes expired pending rows",
			opts:  transfer.QueryOpts{Ledger: 3, State: transfer.StateVoided},
			query: head + ` WHERE ledger = $1 AND (state = 'VOIDED' OR (state = 'PENDING' AND expires_at <= $2)) ORDER BY seq`,
			args:  []any{int64(3), now},
		},
		{
			name:  "posted by type",
			opts:  transfer.QueryOpts{Type: transfer.TypeDeposit, State: transfer.StatePosted, Limit: 5},
			query: head + ` WHERE type = $1 AND state = $2 ORDER BY seq LIMIT 5`,
			args:  []any{string(transfer.TypeDeposit), string(transfer.StatePosted)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := transferQuery(tt.opts, now)
			assert.Equal(t, tt.query, query)
			assert.Equal(t, tt.args, args)
		})
	}
}
