// Package observability provides a metrics extension for the accounting
// engine that records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/accounting"
	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/plugin"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated       = (*MetricsExtension)(nil)
	_ plugin.OnDepositPosted        = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawalReserved   = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawalCommitted  = (*MetricsExtension)(nil)
	_ plugin.OnWithdrawalRolledBack = (*MetricsExtension)(nil)
	_ plugin.OnTransfersExpired     = (*MetricsExtension)(nil)
	_ plugin.OnTransferRejected     = (*MetricsExtension)(nil)
	_ plugin.OnLiquidityLow         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a plugin to track ledger activity.
type MetricsExtension struct {
	factory MetricFactory

	// Directory metrics
	AccountsCreated Counter

	// Transfer metrics
	DepositsPosted        Counter
	DepositAmount         Histogram
	WithdrawalsReserved   Counter
	WithdrawalsCommitted  Counter
	WithdrawalsRolledBack Counter
	WithdrawalAmount      Histogram
	TransfersExpired      Counter
	ExpirySweepLatency    Histogram

	// Rejection metrics
	InsufficientBalance Counter
	DuplicateTransfers  Counter
	TransfersRejected   Counter

	// Liquidity metrics
	AssetLiquidityLow Counter
	PeerLiquidityLow  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		AccountsCreated: factory.Counter("accounting.account.created"),

		DepositsPosted:        factory.Counter("accounting.deposit.posted"),
		DepositAmount:         factory.Histogram("accounting.deposit.amount"),
		WithdrawalsReserved:   factory.Counter("accounting.withdrawal.reserved"),
		WithdrawalsCommitted:  factory.Counter("accounting.withdrawal.committed"),
		WithdrawalsRolledBack: factory.Counter("accounting.withdrawal.rolled_back"),
		WithdrawalAmount:      factory.Histogram("accounting.withdrawal.amount"),
		TransfersExpired:      factory.Counter("accounting.transfer.expired"),
		ExpirySweepLatency:    factory.Histogram("accounting.expiry.sweep.latency_ms"),

		InsufficientBalance: factory.Counter("accounting.transfer.rejected.insufficient_balance"),
		DuplicateTransfers:  factory.Counter("accounting.transfer.rejected.duplicate"),
		TransfersRejected:   factory.Counter("accounting.transfer.rejected"),

		AssetLiquidityLow: factory.Counter("accounting.liquidity.asset.low"),
		PeerLiquidityLow:  factory.Counter("accounting.liquidity.peer.low"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(context.Context, any) error { return nil }

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(context.Context, *account.Account) error {
	m.AccountsCreated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnDepositPosted implements plugin.OnDepositPosted.
func (m *MetricsExtension) OnDepositPosted(_ context.Context, t *transfer.Transfer) error {
	m.DepositsPosted.Inc()
	m.DepositAmount.Observe(float64(t.Amount))
	return nil
}

// OnWithdrawalReserved implements plugin.OnWithdrawalReserved.
func (m *MetricsExtension) OnWithdrawalReserved(_ context.Context, t *transfer.Transfer) error {
	m.WithdrawalsReserved.Inc()
	m.WithdrawalAmount.Observe(float64(t.Amount))
	return nil
}

// OnWithdrawalCommitted implements plugin.OnWithdrawalCommitted.
func (m *MetricsExtension) OnWithdrawalCommitted(context.Context, *transfer.Transfer) error {
	m.WithdrawalsCommitted.Inc()
	return nil
}

// OnWithdrawalRolledBack implements plugin.OnWithdrawalRolledBack.
func (m *MetricsExtension) OnWithdrawalRolledBack(context.Context, *transfer.Transfer) error {
	m.WithdrawalsRolledBack.Inc()
	return nil
}

// OnTransfersExpired implements plugin.OnTransfersExpired.
func (m *MetricsExtension) OnTransfersExpired(_ context.Context, count int, elapsed time.Duration) error {
	m.TransfersExpired.Add(float64(count))
	m.ExpirySweepLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnTransferRejected implements plugin.OnTransferRejected.
func (m *MetricsExtension) OnTransferRejected(_ context.Context, _, _ string, err error) error {
	m.TransfersRejected.Inc()
	switch {
	case errors.Is(err, accounting.ErrInsufficientBalance):
		m.InsufficientBalance.Inc()
	case errors.Is(err, accounting.ErrTransferExists):
		m.DuplicateTransfers.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Liquidity hooks
// ──────────────────────────────────────────────────

// OnLiquidityLow implements plugin.OnLiquidityLow.
func (m *MetricsExtension) OnLiquidityLow(_ context.Context, e *webhook.Event) error {
	switch e.Type {
	case webhook.EventAssetLiquidityLow:
		m.AssetLiquidityLow.Inc()
	case webhook.EventPeerLiquidityLow:
		m.PeerLiquidityLow.Inc()
	}
	return nil
}
