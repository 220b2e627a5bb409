// Package webhook holds the event outbox written by the ledger and the relay
// that forwards due events to a downstream dispatcher.
package webhook

import (
	"encoding/json"
	"time"

	"github.com/xraph/accounting/id"
	"github.com/xraph/accounting/types"
)

// Event types scheduled by the liquidity monitor.
const (
	EventAssetLiquidityLow = "asset.liquidity_low"
	EventPeerLiquidityLow  = "peer.liquidity_low"
)

// Event is an outbox row. ProcessAt is the next delivery time; it is nil once
// the event has been handed off.
type Event struct {
	types.Entity
	ID        id.EventID     `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Attempts  int            `json:"attempts"`
	ProcessAt *time.Time     `json:"process_at,omitempty"`
}

// NewEvent creates an event due for delivery at now.
func NewEvent(typ string, data map[string]any, now time.Time) *Event {
	at := now.UTC()
	return &Event{
		Entity:    types.NewEntityAt(now),
		ID:        id.NewEventID(),
		Type:      typ,
		Data:      data,
		ProcessAt: &at,
	}
}

// Delivered reports whether the event no longer awaits delivery.
func (e *Event) Delivered() bool { return e.ProcessAt == nil }

// Clone returns a deep copy of e. Data is normalized through JSON so that
// callers observe the same shapes a database-backed store returns.
func (e *Event) Clone() *Event {
	c := *e
	if e.ProcessAt != nil {
		at := *e.ProcessAt
		c.ProcessAt = &at
	}
	c.Data = NormalizeData(e.Data)
	return &c
}

// NormalizeData round-trips data through JSON.
func NormalizeData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	out := make(map[string]any, len(data))
	if err := json.Unmarshal(raw, &out); err != nil {
		return data
	}
	return out
}
