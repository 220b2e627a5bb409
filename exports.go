package accounting

import (
	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/types"
)

// Re-export common types so callers rarely need the model packages.

// Account types.
const (
	LiquidityAsset           = account.TypeLiquidityAsset
	LiquidityPeer            = account.TypeLiquidityPeer
	LiquidityIncoming        = account.TypeLiquidityIncoming
	LiquidityOutgoing        = account.TypeLiquidityOutgoing
	LiquidityWebMonetization = account.TypeLiquidityWebMonetization
	Settlement               = account.TypeSettlement
)

// Transfer states.
const (
	StatePending = transfer.StatePending
	StatePosted  = transfer.StatePosted
	StateVoided  = transfer.StateVoided
)

// Balance is re-exported from the account package.
type Balance = account.Balance

// Amount is re-exported from the types package.
type Amount = types.Amount

// Entity is re-exported from the types package.
type Entity = types.Entity

// Re-export Amount helpers
var (
	NewAmount   = types.NewAmount
	ParseAmount = types.ParseAmount
)
