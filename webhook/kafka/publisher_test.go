package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xraph/accounting/webhook"
)

type fakeWriter struct {
	fails  int
	calls  int
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.calls++
	if w.calls <= w.fails {
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testEvent() *webhook.Event {
	return webhook.NewEvent(webhook.EventAssetLiquidityLow, map[string]any{
		"id":      "asset-1",
		"balance": "90",
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestMessage(t *testing.T) {
	e := testEvent()
	msg, err := message(e)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if string(msg.Key) != e.ID.String() {
		t.Errorf("key = %q, want %q", msg.Key, e.ID.String())
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != webhook.EventAssetLiquidityLow {
		t.Errorf("unexpected headers %+v", msg.Headers)
	}

	var got payload
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != webhook.EventAssetLiquidityLow || got.Data["balance"] != "90" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestPublishRetries(t *testing.T) {
	w := &fakeWriter{fails: 2}
	p := &Publisher{writer: w, maxTries: 3}

	if err := p.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if w.calls != 3 || len(w.msgs) != 1 {
		t.Errorf("calls = %d, msgs = %d; want 3 calls and 1 message", w.calls, len(w.msgs))
	}
}

func TestPublishGivesUp(t *testing.T) {
	w := &fakeWriter{fails: 10}
	p := &Publisher{writer: w, maxTries: 2}

	if err := p.Publish(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if w.calls != 2 {
		t.Errorf("calls = %d, want 2", w.calls)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close: err=%v closed=%v", err, w.closed)
	}
}
