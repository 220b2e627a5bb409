package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Publisher hands an event to the downstream dispatcher.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// PublisherFunc is an adapter to use a plain function as a Publisher.
type PublisherFunc func(ctx context.Context, e *Event) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, e *Event) error { return f(ctx, e) }

// Relay drains due events from a Store into a Publisher. Failed deliveries
// are rescheduled with exponential backoff.
type Relay struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	interval        time.Duration
	batchSize       int
	lease           time.Duration
	initialInterval time.Duration
	maxInterval     time.Duration
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayLogger sets the logger.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

// WithRelayClock overrides the time source.
func WithRelayClock(now func() time.Time) RelayOption {
	return func(r *Relay) { r.now = now }
}

// WithRelayInterval sets how often Run polls for due events.
func WithRelayInterval(d time.Duration) RelayOption {
	return func(r *Relay) { r.interval = d }
}

// WithRelayBatchSize sets how many events one Flush claims.
func WithRelayBatchSize(n int) RelayOption {
	return func(r *Relay) { r.batchSize = n }
}

// WithRelayBackoff sets the retry schedule bounds.
func WithRelayBackoff(initial, maxInterval time.Duration) RelayOption {
	return func(r *Relay) {
		r.initialInterval = initial
		r.maxInterval = maxInterval
	}
}

// NewRelay creates a Relay.
func NewRelay(s Store, p Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		store:           s,
		publisher:       p,
		logger:          slog.Default(),
		now:             time.Now,
		interval:        time.Second,
		batchSize:       100,
		lease:           30 * time.Second,
		initialInterval: time.Second,
		maxInterval:     10 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run flushes on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.logger.Error("webhook relay flush failed", "error", err)
			}
		}
	}
}

// Flush claims one batch of due events and publishes them. It returns the
// number delivered.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	now := r.now().UTC()

	events, err := r.store.ClaimEvents(ctx, now, r.lease, r.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, e := range events {
		pubErr := r.publisher.Publish(ctx, e)
		e.Attempts++
		e.Touch(now)

		if pubErr == nil {
			e.ProcessAt = nil
			delivered++
		} else {
			next := now.Add(r.delay(e.Attempts))
			e.ProcessAt = &next
			r.logger.Warn("webhook publish failed",
				"event_id", e.ID.String(),
				"type", e.Type,
				"attempts", e.Attempts,
				"retry_at", next,
				"error", pubErr,
			)
		}

		if err := r.store.UpdateEvent(ctx, e); err != nil {
			return delivered, err
		}
	}

	if len(events) > 0 {
		r.logger.Debug("webhook relay flushed",
			"claimed", len(events),
			"delivered", delivered,
		)
	}

	return delivered, nil
}

// delay is the wait before the next attempt after attempts failures.
func (r *Relay) delay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	d := r.initialInterval
	for range attempts {
		d = b.NextBackOff()
	}
	return d
}
