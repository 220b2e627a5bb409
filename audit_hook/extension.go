// Package audithook bridges accounting lifecycle events to an audit trail
// backend.
//
// Backends implement Recorder, or wrap a function with RecorderFunc.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/plugin"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnAccountCreated       = (*Extension)(nil)
	_ plugin.OnDepositPosted        = (*Extension)(nil)
	_ plugin.OnWithdrawalReserved   = (*Extension)(nil)
	_ plugin.OnWithdrawalCommitted  = (*Extension)(nil)
	_ plugin.OnWithdrawalRolledBack = (*Extension)(nil)
	_ plugin.OnTransfersExpired     = (*Extension)(nil)
	_ plugin.OnTransferRejected     = (*Extension)(nil)
	_ plugin.OnLiquidityLow         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges accounting lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Directory hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, a *account.Account) error {
	return e.record(ctx, ActionAccountCreated, SeverityInfo, OutcomeSuccess,
		ResourceAccount, a.ID.String(), CategoryDirectory, nil,
		"account_ref", a.AccountRef,
		"type", string(a.Type),
		"ledger", a.Ledger,
	)
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnDepositPosted implements plugin.OnDepositPosted.
func (e *Extension) OnDepositPosted(ctx context.Context, t *transfer.Transfer) error {
	return e.recordTransfer(ctx, ActionDepositPosted, t)
}

// OnWithdrawalReserved implements plugin.OnWithdrawalReserved.
func (e *Extension) OnWithdrawalReserved(ctx context.Context, t *transfer.Transfer) error {
	return e.recordTransfer(ctx, ActionWithdrawalReserved, t)
}

// OnWithdrawalCommitted implements plugin.OnWithdrawalCommitted.
func (e *Extension) OnWithdrawalCommitted(ctx context.Context, t *transfer.Transfer) error {
	return e.recordTransfer(ctx, ActionWithdrawalCommitted, t)
}

// OnWithdrawalRolledBack implements plugin.OnWithdrawalRolledBack.
func (e *Extension) OnWithdrawalRolledBack(ctx context.Context, t *transfer.Transfer) error {
	return e.recordTransfer(ctx, ActionWithdrawalRolledBack, t)
}

// OnTransfersExpired implements plugin.OnTransfersExpired.
func (e *Extension) OnTransfersExpired(ctx context.Context, count int, elapsed time.Duration) error {
	return e.record(ctx, ActionTransfersExpired, SeverityInfo, OutcomeSuccess,
		ResourceTransfer, "", CategoryLedger, nil,
		"count", count,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnTransferRejected implements plugin.OnTransferRejected.
func (e *Extension) OnTransferRejected(ctx context.Context, op, transferID string, err error) error {
	return e.record(ctx, ActionTransferRejected, SeverityWarning, OutcomeFailure,
		ResourceTransfer, transferID, CategoryLedger, err,
		"op", op,
	)
}

// ──────────────────────────────────────────────────
// Liquidity hooks
// ──────────────────────────────────────────────────

// OnLiquidityLow implements plugin.OnLiquidityLow.
func (e *Extension) OnLiquidityLow(ctx context.Context, ev *webhook.Event) error {
	resourceID, _ := ev.Data["id"].(string)
	return e.record(ctx, ActionLiquidityLow, SeverityWarning, OutcomeSuccess,
		ResourceLiquidity, resourceID, CategoryTreasury, nil,
		"event_id", ev.ID.String(),
		"event_type", ev.Type,
		"balance", ev.Data["balance"],
	)
}

func (e *Extension) recordTransfer(ctx context.Context, action string, t *transfer.Transfer) error {
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceTransfer, t.ID, CategoryLedger, nil,
		"type", string(t.Type),
		"state", string(t.State),
		"amount", t.Amount,
		"ledger", t.Ledger,
		"debit_account_id", t.DebitAccountID.String(),
		"credit_account_id", t.CreditAccountID.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
