package webhook

import (
	"context"
	"time"

	"github.com/xraph/accounting/id"
)

type Store interface {
	CreateEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, eventID id.EventID) (*Event, error)
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)

	// ClaimEvents returns up to limit events due at now and pushes their
	// ProcessAt to now+lease so concurrent relays skip them.
	ClaimEvents(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Event, error)
	UpdateEvent(ctx context.Context, e *Event) error
}

type ListOpts struct {
	Type   string
	Limit  int
	Offset int
}
