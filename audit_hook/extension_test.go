package audithook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	audithook "github.com/xraph/accounting/audit_hook"
	"github.com/xraph/accounting/id"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

func collect() (*[]*audithook.AuditEvent, audithook.RecorderFunc) {
	var got []*audithook.AuditEvent
	return &got, func(_ context.Context, e *audithook.AuditEvent) error {
		got = append(got, e)
		return nil
	}
}

func TestTransferEvents(t *testing.T) {
	got, rec := collect()
	ext := audithook.New(rec)
	ctx := context.Background()

	tr := &transfer.Transfer{
		ID:              "0b7f4c1e-2d1a-4a8e-9a47-0f7c3c1d2e11",
		DebitAccountID:  id.NewAccountID(),
		CreditAccountID: id.NewAccountID(),
		Amount:          42,
		Ledger:          1,
		Type:            transfer.TypeWithdrawal,
		State:           transfer.StatePosted,
	}
	if err := ext.OnWithdrawalCommitted(ctx, tr); err != nil {
		t.Fatal(err)
	}
	if err := ext.OnTransferRejected(ctx, "commit", tr.ID, errors.New("boom")); err != nil {
		t.Fatal(err)
	}

	if len(*got) != 2 {
		t.Fatalf("recorded %d events, want 2", len(*got))
	}
	committed := (*got)[0]
	if committed.Action != audithook.ActionWithdrawalCommitted || committed.ResourceID != tr.ID {
		t.Errorf("committed = %+v", committed)
	}
	if committed.Metadata["amount"] != uint64(42) {
		t.Errorf("amount = %v, want 42", committed.Metadata["amount"])
	}

	rejected := (*got)[1]
	if rejected.Outcome != audithook.OutcomeFailure || rejected.Reason != "boom" {
		t.Errorf("rejected = %+v", rejected)
	}
	if rejected.Metadata["op"] != "commit" {
		t.Errorf("op = %v, want commit", rejected.Metadata["op"])
	}
}

func TestLiquidityEvent(t *testing.T) {
	got, rec := collect()
	ext := audithook.New(rec)

	ev := webhook.NewEvent(webhook.EventPeerLiquidityLow, map[string]any{"id": "peer-1", "balance": "40"}, time.Now())
	if err := ext.OnLiquidityLow(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(*got) != 1 {
		t.Fatalf("recorded %d events, want 1", len(*got))
	}
	if e := (*got)[0]; e.ResourceID != "peer-1" || e.Metadata["balance"] != "40" {
		t.Errorf("event = %+v", e)
	}
}

func TestActionFilters(t *testing.T) {
	ctx := context.Background()

	got, rec := collect()
	ext := audithook.New(rec, audithook.WithEnabledActions(audithook.ActionTransfersExpired))
	_ = ext.OnTransfersExpired(ctx, 3, time.Second)
	_ = ext.OnTransferRejected(ctx, "deposit", "x", errors.New("no"))
	if len(*got) != 1 || (*got)[0].Action != audithook.ActionTransfersExpired {
		t.Errorf("enabled filter recorded %d events", len(*got))
	}

	got, rec = collect()
	ext = audithook.New(rec, audithook.WithDisabledActions(audithook.ActionTransfersExpired))
	_ = ext.OnTransfersExpired(ctx, 3, time.Second)
	_ = ext.OnTransferRejected(ctx, "deposit", "x", errors.New("no"))
	if len(*got) != 1 || (*got)[0].Action != audithook.ActionTransferRejected {
		t.Errorf("disabled filter recorded %d events", len(*got))
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("sink down")
	}))
	if err := ext.OnTransfersExpired(context.Background(), 1, time.Millisecond); err != nil {
		t.Errorf("OnTransfersExpired() = %v, want nil", err)
	}
}
