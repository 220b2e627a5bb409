package transfer

import (
	"time"

	"github.com/xraph/accounting/id"
	"github.com/xraph/accounting/types"
)

type Type string

const (
	TypeDeposit    Type = "DEPOSIT"
	TypeWithdrawal Type = "WITHDRAWAL"
)

// Code returns the numeric transfer code used by the clustered backend.
func (t Type) Code() uint16 {
	switch t {
	case TypeDeposit:
		return 1
	case TypeWithdrawal:
		return 2
	default:
		return 0
	}
}

// TypeFromCode is the inverse of Type.Code.
func TypeFromCode(code uint16) (Type, bool) {
	switch code {
	case 1:
		return TypeDeposit, true
	case 2:
		return TypeWithdrawal, true
	default:
		return "", false
	}
}

type State string

const (
	StatePending State = "PENDING"
	StatePosted  State = "POSTED"
	StateVoided  State = "VOIDED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool { return s == StatePosted || s == StateVoided }

// Transfer moves Amount from DebitAccountID to CreditAccountID on Ledger.
// ID is caller supplied and doubles as the idempotency key.
type Transfer struct {
	types.Entity
	ID              string       `json:"id"`
	DebitAccountID  id.AccountID `json:"debit_account_id"`
	CreditAccountID id.AccountID `json:"credit_account_id"`
	Amount          uint64       `json:"amount"`
	Ledger          uint32       `json:"ledger"`
	Type            Type         `json:"type"`
	State           State        `json:"state"`
	ExpiresAt       *time.Time   `json:"expires_at,omitempty"`
}

// Expired reports whether t is a pending reservation whose expiry has passed.
func (t *Transfer) Expired(now time.Time) bool {
	return t.State == StatePending && t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// EffectiveState is State with expiry applied.
func (t *Transfer) EffectiveState(now time.Time) State {
	if t.Expired(now) {
		return StateVoided
	}
	return t.State
}

// InState reports whether t has effective state want at now.
func (t *Transfer) InState(want State, now time.Time) bool {
	return t.EffectiveState(now) == want
}

// Clone returns a deep copy of t.
func (t *Transfer) Clone() *Transfer {
	c := *t
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}
