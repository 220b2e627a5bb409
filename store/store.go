// Package store defines the backend contract of the accounting engine.
// Backends live in subpackages and must pass the storetest suite.
package store

import (
	"context"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/asset"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

// Store is the unified storage interface for all accounting entities.
type Store interface {
	account.Store
	asset.Store
	transfer.Store
	webhook.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Sidecar is the relational part of a backend whose balances live elsewhere:
// the account directory, the asset catalog and the event outbox.
type Sidecar interface {
	account.Store
	asset.Store
	webhook.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Pagination applies limit/offset to n items and returns the bounds.
func Pagination(n, limit, offset int) (start, end int) {
	start = min(max(offset, 0), n)
	end = n
	if limit > 0 && start+limit < n {
		end = start + limit
	}
	return start, end
}
