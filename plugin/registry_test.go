package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

type recorder struct {
	name string
	mu   sync.Mutex
	seen []string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
}

func (r *recorder) OnAccountCreated(_ context.Context, a *account.Account) error {
	r.add("account:" + a.AccountRef)
	return nil
}

func (r *recorder) OnDepositPosted(_ context.Context, t *transfer.Transfer) error {
	r.add("deposit:" + t.ID)
	return nil
}

func (r *recorder) OnLiquidityLow(_ context.Context, e *webhook.Event) error {
	r.add("low:" + e.Type)
	return errors.New("ignored")
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnDepositPosted(ctx context.Context, _ *transfer.Transfer) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{name: "rec"}
	if err := reg.Register(rec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(&recorder{name: "rec"}); err == nil {
		t.Error("expected duplicate registration error")
	}

	ctx := context.Background()
	reg.EmitAccountCreated(ctx, &account.Account{AccountRef: "a1"})
	reg.EmitDepositPosted(ctx, &transfer.Transfer{ID: "t1"})
	reg.EmitLiquidityLow(ctx, &webhook.Event{Type: webhook.EventAssetLiquidityLow})
	reg.EmitWithdrawalCommitted(ctx, &transfer.Transfer{ID: "ignored"})

	want := []string{"account:a1", "deposit:t1", "low:" + webhook.EventAssetLiquidityLow}
	if len(rec.seen) != len(want) {
		t.Fatalf("seen = %v, want %v", rec.seen, want)
	}
	for i := range want {
		if rec.seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, rec.seen[i], want[i])
		}
	}

	if reg.Count() != 1 || reg.Get("rec") != rec || reg.Get("missing") != nil {
		t.Error("registry lookup mismatch")
	}
	if len(reg.List()) != 1 {
		t.Error("List should return one plugin")
	}
}

func TestRegistryTimeout(t *testing.T) {
	reg := NewRegistry().WithTimeout(20 * time.Millisecond)
	if err := reg.Register(slowPlugin{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Now()
	reg.EmitDepositPosted(context.Background(), &transfer.Transfer{ID: "t1"})
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("emit blocked for %v", elapsed)
	}
}
