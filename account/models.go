package account

import (
	"github.com/xraph/accounting/id"
	"github.com/xraph/accounting/types"
)

// Type is the role an account plays for its owning entity.
type Type string

const (
	TypeLiquidityAsset           Type = "LIQUIDITY_ASSET"
	TypeLiquidityPeer            Type = "LIQUIDITY_PEER"
	TypeLiquidityIncoming        Type = "LIQUIDITY_INCOMING"
	TypeLiquidityOutgoing        Type = "LIQUIDITY_OUTGOING"
	TypeLiquidityWebMonetization Type = "LIQUIDITY_WEB_MONETIZATION"
	TypeSettlement               Type = "SETTLEMENT"
)

// typeCodes maps account types to the numeric codes stored by the clustered
// backend. Codes are persisted and must never be renumbered.
var typeCodes = map[Type]uint16{
	TypeLiquidityAsset:           1,
	TypeLiquidityPeer:            2,
	TypeLiquidityIncoming:        3,
	TypeLiquidityOutgoing:        4,
	TypeLiquidityWebMonetization: 5,
	TypeSettlement:               6,
}

// Valid reports whether t is a known account type.
func (t Type) Valid() bool {
	_, ok := typeCodes[t]
	return ok
}

// IsSettlement reports whether t is the settlement role. Settlement accounts
// represent value held externally and may carry a negative posted balance.
func (t Type) IsSettlement() bool { return t == TypeSettlement }

// Code returns the numeric code for t, or 0 for an unknown type.
func (t Type) Code() uint16 { return typeCodes[t] }

// TypeFromCode is the inverse of Type.Code.
func TypeFromCode(code uint16) (Type, bool) {
	for t, c := range typeCodes {
		if c == code {
			return t, true
		}
	}
	return "", false
}

// Account is a ledger account owned by an external entity. The pair
// (AccountRef, Type) is unique. Accounts are never deleted.
type Account struct {
	types.Entity
	ID         id.AccountID `json:"id"`
	AccountRef string       `json:"account_ref"`
	Ledger     uint32       `json:"ledger"`
	Type       Type         `json:"type"`
}

// Balance holds the four running totals of an account. Pending totals only
// include reservations that have not expired.
type Balance struct {
	CreditsPosted  uint64 `json:"credits_posted"`
	DebitsPosted   uint64 `json:"debits_posted"`
	CreditsPending uint64 `json:"credits_pending"`
	DebitsPending  uint64 `json:"debits_pending"`
}

// Posted is posted credits minus posted debits.
func (b Balance) Posted() int64 {
	return int64(b.CreditsPosted) - int64(b.DebitsPosted)
}

// Available is the posted balance less outstanding debit reservations.
func (b Balance) Available() int64 {
	return b.Posted() - int64(b.DebitsPending)
}

// TotalReceived is the lifetime sum of posted credits.
func (b Balance) TotalReceived() uint64 { return b.CreditsPosted }

// CanDebit reports whether a new debit of amount keeps Available non-negative.
func (b Balance) CanDebit(amount uint64) bool {
	avail := b.Available()
	return avail >= 0 && uint64(avail) >= amount
}
