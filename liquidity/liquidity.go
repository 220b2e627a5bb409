// Package liquidity decides when a debit leaves an asset or peer below its
// configured liquidity threshold. Check is pure; the caller persists the
// returned event in the same unit of work as the balance change.
package liquidity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/asset"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

// ThresholdSource resolves the liquidity threshold of a peer. A nil
// threshold means the peer has none.
type ThresholdSource interface {
	PeerThreshold(ctx context.Context, peerID string) (*uint64, error)
}

// ThresholdFunc is an adapter to use a plain function as a ThresholdSource.
type ThresholdFunc func(ctx context.Context, peerID string) (*uint64, error)

// PeerThreshold implements ThresholdSource.
func (f ThresholdFunc) PeerThreshold(ctx context.Context, peerID string) (*uint64, error) {
	return f(ctx, peerID)
}

// Input is everything Check needs about one debit.
type Input struct {
	Account   *account.Account
	Asset     *asset.Asset
	Threshold *uint64
	Posted    int64
	Now       time.Time
}

// Check returns the low-liquidity event for in, or nil when the account has
// no threshold, is not an asset or peer liquidity account, or is still above
// its threshold.
func Check(in Input) *webhook.Event {
	if in.Account == nil || in.Asset == nil || in.Threshold == nil {
		return nil
	}

	var typ string
	switch in.Account.Type {
	case account.TypeLiquidityAsset:
		typ = webhook.EventAssetLiquidityLow
	case account.TypeLiquidityPeer:
		typ = webhook.EventPeerLiquidityLow
	default:
		return nil
	}

	if in.Posted >= 0 && uint64(in.Posted) > *in.Threshold {
		return nil
	}

	return webhook.NewEvent(typ, map[string]any{
		"id": in.Account.AccountRef,
		"asset": map[string]any{
			"id":    in.Asset.ID,
			"code":  in.Asset.Code,
			"scale": in.Asset.Scale,
		},
		"liquidityThreshold": strconv.FormatUint(*in.Threshold, 10),
		"balance":            strconv.FormatInt(in.Posted, 10),
	}, in.Now)
}

// Monitor resolves thresholds and turns them into debit hooks.
type Monitor struct {
	peers ThresholdSource
}

// NewMonitor creates a Monitor. peers may be nil when no peer has a threshold.
func NewMonitor(peers ThresholdSource) *Monitor {
	return &Monitor{peers: peers}
}

// Threshold returns the threshold that applies to acct.
func (m *Monitor) Threshold(ctx context.Context, acct *account.Account, a *asset.Asset) (*uint64, error) {
	switch acct.Type {
	case account.TypeLiquidityAsset:
		return a.LiquidityThreshold, nil
	case account.TypeLiquidityPeer:
		if m.peers == nil {
			return nil, nil
		}
		th, err := m.peers.PeerThreshold(ctx, acct.AccountRef)
		if err != nil {
			return nil, fmt.Errorf("liquidity: peer %s threshold: %w", acct.AccountRef, err)
		}
		return th, nil
	default:
		return nil, nil
	}
}

// Hook resolves the threshold for acct up front and returns a pure debit
// hook, or nil when acct can never trigger an event.
func (m *Monitor) Hook(ctx context.Context, acct *account.Account, a *asset.Asset, now time.Time) (transfer.DebitHook, error) {
	th, err := m.Threshold(ctx, acct, a)
	if err != nil || th == nil {
		return nil, err
	}

	return func(debited *account.Account, posted int64) *webhook.Event {
		if debited.ID != acct.ID {
			return nil
		}
		return Check(Input{
			Account:   debited,
			Asset:     a,
			Threshold: th,
			Posted:    posted,
			Now:       now,
		})
	}, nil
}
