package transfer

import (
	"context"
	"time"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/id"
	"github.com/xraph/accounting/webhook"
)

// DebitHook is invoked inside the posting unit of work with the debit
// account and its posted balance after the debit. A non-nil event is
// persisted atomically with the balance change.
type DebitHook func(acct *account.Account, posted int64) *webhook.Event

// Store executes the transfer state machine. Every mutating method is one
// atomic unit that serializes against other mutations of the same accounts.
type Store interface {
	// CreateTransfer inserts t in t.State (POSTED for deposits, PENDING for
	// withdrawals). It fails with ErrTransferExists when t.ID is taken and
	// ErrInsufficientBalance when a non-settlement debit account cannot
	// cover t.Amount out of its available balance.
	CreateTransfer(ctx context.Context, t *Transfer, now time.Time) error

	// PostTransfer moves a pending transfer to POSTED and runs hook for the
	// debit account.
	PostTransfer(ctx context.Context, transferID string, now time.Time, hook DebitHook) (*Transfer, error)

	// VoidTransfer moves a pending transfer to VOIDED.
	VoidTransfer(ctx context.Context, transferID string, now time.Time) (*Transfer, error)

	// ExpireTransfers voids up to limit pending transfers whose expiry is at
	// or before now and returns how many it voided.
	ExpireTransfers(ctx context.Context, now time.Time, limit int) (int, error)

	GetTransfer(ctx context.Context, transferID string) (*Transfer, error)
	// QueryTransfers lists transfers matching opts. The State filter
	// matches effective state at now, and paging applies after it.
	QueryTransfers(ctx context.Context, opts QueryOpts, now time.Time) ([]*Transfer, error)

	// Balance aggregates the totals of accountID as of now.
	Balance(ctx context.Context, accountID id.AccountID, now time.Time) (account.Balance, error)
}

// QueryOpts filters QueryTransfers. Zero values match everything.
type QueryOpts struct {
	AccountID id.AccountID
	Ledger    uint32
	Type      Type
	State     State
	Limit     int
	Offset    int
}
