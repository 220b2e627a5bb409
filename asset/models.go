// Package asset describes the assets that own ledgers. Each asset maps to
// exactly one ledger number; accounts and transfers on that ledger are
// denominated in the asset's minor unit.
package asset

import "github.com/xraph/accounting/types"

type Asset struct {
	types.Entity
	ID     string `json:"id"`
	Code   string `json:"code"`
	Scale  uint8  `json:"scale"`
	Ledger uint32 `json:"ledger"`
	// LiquidityThreshold triggers an asset.liquidity_low event when the
	// asset's liquidity account posts at or below it. Nil disables it.
	LiquidityThreshold *uint64 `json:"liquidity_threshold,omitempty"`
}

// Format renders v minor units of this asset in major units.
func (a *Asset) Format(v uint64) string {
	return types.NewAmount(v, a.Scale).String()
}
