package webhook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/accounting/store/memory"
	"github.com/xraph/accounting/webhook"
)

func TestRelayFlush(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s := memory.New()
	e := webhook.NewEvent(webhook.EventPeerLiquidityLow, map[string]any{"id": "peer"}, now)
	require.NoError(t, s.CreateEvent(ctx, e))

	fail := true
	var published []string
	pub := webhook.PublisherFunc(func(_ context.Context, e *webhook.Event) error {
		if fail {
			return errors.New("broker down")
		}
		published = append(published, e.ID.String())
		return nil
	})

	r := webhook.NewRelay(s, pub,
		webhook.WithRelayClock(clock),
		webhook.WithRelayLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		webhook.WithRelayBackoff(time.Second, time.Minute),
	)

	// Each failure doubles the wait before the next attempt.
	for attempt, wait := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		n, err := r.Flush(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		got, err := s.GetEvent(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt+1, got.Attempts)
		require.NotNil(t, got.ProcessAt)
		assert.True(t, got.ProcessAt.Equal(now.Add(wait)), "retry at %v", got.ProcessAt)

		// Not due yet.
		n, err = r.Flush(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		now = now.Add(wait)
	}

	fail = false
	n, err := r.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{e.ID.String()}, published)

	got, err := s.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.Delivered())
	assert.Equal(t, 4, got.Attempts)

	n, err = r.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelayRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := webhook.NewRelay(memory.New(), webhook.PublisherFunc(func(context.Context, *webhook.Event) error { return nil }),
		webhook.WithRelayInterval(time.Millisecond),
	)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
