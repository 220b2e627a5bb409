// Package plugin provides an extensible plugin system for the accounting
// engine. Plugins hook into ledger lifecycle events to extend functionality.
// Hooks run after the ledger mutation is durable and can never undo it.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Directory hooks
// ──────────────────────────────────────────────────

// OnAccountCreated is called when a ledger account is created.
type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, a *account.Account) error
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnDepositPosted is called after a deposit is posted.
type OnDepositPosted interface {
	Plugin
	OnDepositPosted(ctx context.Context, t *transfer.Transfer) error
}

// OnWithdrawalReserved is called after a withdrawal is reserved as pending.
type OnWithdrawalReserved interface {
	Plugin
	OnWithdrawalReserved(ctx context.Context, t *transfer.Transfer) error
}

// OnWithdrawalCommitted is called after a pending withdrawal is posted.
type OnWithdrawalCommitted interface {
	Plugin
	OnWithdrawalCommitted(ctx context.Context, t *transfer.Transfer) error
}

// OnWithdrawalRolledBack is called after a pending withdrawal is voided
// on request.
type OnWithdrawalRolledBack interface {
	Plugin
	OnWithdrawalRolledBack(ctx context.Context, t *transfer.Transfer) error
}

// OnTransfersExpired is called after an expiry sweep voided transfers.
type OnTransfersExpired interface {
	Plugin
	OnTransfersExpired(ctx context.Context, count int, elapsed time.Duration) error
}

// OnTransferRejected is called when a transfer operation fails with a
// domain error.
type OnTransferRejected interface {
	Plugin
	OnTransferRejected(ctx context.Context, op, transferID string, err error) error
}

// ──────────────────────────────────────────────────
// Liquidity hooks
// ──────────────────────────────────────────────────

// OnLiquidityLow is called after a low-liquidity event was scheduled.
type OnLiquidityLow interface {
	Plugin
	OnLiquidityLow(ctx context.Context, e *webhook.Event) error
}
