package observability_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/accounting"
	"github.com/xraph/accounting/observability"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

type fakeFactory struct {
	mu     sync.Mutex
	values map[string]float64
}

type fakeMetric struct {
	f    *fakeFactory
	name string
}

func (m fakeMetric) Inc()              { m.Add(1) }
func (m fakeMetric) Observe(v float64) { m.Add(v) }
func (m fakeMetric) Add(v float64) {
	m.f.mu.Lock()
	defer m.f.mu.Unlock()
	m.f.values[m.name] += v
}

func (f *fakeFactory) Counter(name string) observability.Counter     { return fakeMetric{f, name} }
func (f *fakeFactory) Histogram(name string) observability.Histogram { return fakeMetric{f, name} }

func TestMetricsExtension(t *testing.T) {
	f := &fakeFactory{values: make(map[string]float64)}
	m := observability.NewMetricsExtension(f)
	ctx := context.Background()

	_ = m.OnDepositPosted(ctx, &transfer.Transfer{Amount: 100})
	_ = m.OnWithdrawalReserved(ctx, &transfer.Transfer{Amount: 40})
	_ = m.OnWithdrawalCommitted(ctx, &transfer.Transfer{})
	_ = m.OnTransfersExpired(ctx, 3, 5*time.Millisecond)
	_ = m.OnTransferRejected(ctx, "withdrawal", "t1", fmt.Errorf("reserve: %w", accounting.ErrInsufficientBalance))
	_ = m.OnTransferRejected(ctx, "deposit", "t2", accounting.ErrTransferExists)
	_ = m.OnLiquidityLow(ctx, webhook.NewEvent(webhook.EventPeerLiquidityLow, nil, time.Now()))

	want := map[string]float64{
		"accounting.deposit.posted":                         1,
		"accounting.deposit.amount":                         100,
		"accounting.withdrawal.reserved":                    1,
		"accounting.withdrawal.amount":                      40,
		"accounting.withdrawal.committed":                   1,
		"accounting.transfer.expired":                       3,
		"accounting.expiry.sweep.latency_ms":                5,
		"accounting.transfer.rejected":                      2,
		"accounting.transfer.rejected.insufficient_balance": 1,
		"accounting.transfer.rejected.duplicate":            1,
		"accounting.liquidity.peer.low":                     1,
		"accounting.liquidity.asset.low":                    0,
	}
	for name, v := range want {
		if got := f.values[name]; got != v {
			t.Errorf("%s = %v, want %v", name, got, v)
		}
	}
}

func TestPrometheusFactory(t *testing.T) {
	f := observability.NewPrometheusFactory(nil)

	c := f.Counter("accounting.deposit.posted")
	c.Inc()
	c.Add(2)
	if again := f.Counter("accounting.deposit.posted"); again != c {
		t.Error("same name returned a different counter")
	}
	f.Histogram("accounting.deposit.amount").Observe(10)

	families, err := f.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := make(map[string]bool)
	for _, mf := range families {
		found[mf.GetName()] = true
		if mf.GetName() == "accounting_deposit_posted_total" {
			if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 3 {
				t.Errorf("counter = %v, want 3", v)
			}
		}
	}
	for _, name := range []string{"accounting_deposit_posted_total", "accounting_deposit_amount"} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}
