package asset

import "context"

type Store interface {
	// CreateAsset fails with ErrAssetAlreadyExists when the id or ledger is taken.
	CreateAsset(ctx context.Context, a *Asset) error
	GetAsset(ctx context.Context, assetID string) (*Asset, error)
	GetAssetByLedger(ctx context.Context, ledger uint32) (*Asset, error)
	SetAssetThreshold(ctx context.Context, assetID string, threshold *uint64) error
}
