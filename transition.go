package accounting

import (
	"time"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/transfer"
)

// CheckPending reports whether t can still leave PENDING at now. Backends
// call it inside their unit of work before posting or voiding. When expired
// is true, t is a pending transfer past its expiry that the backend should
// persist as VOIDED before returning err.
func CheckPending(t *transfer.Transfer, now time.Time) (expired bool, err error) {
	switch t.State {
	case transfer.StatePosted:
		return false, ErrAlreadyCommitted
	case transfer.StateVoided:
		return false, ErrAlreadyRolledBack
	}
	if t.Expired(now) {
		return true, ErrAlreadyRolledBack
	}
	return false, nil
}

// CheckTransfer validates a new transfer against its two accounts. bal is
// the debit account's balance as of the insert, read under the backend's
// lock.
func CheckTransfer(t *transfer.Transfer, debit, credit *account.Account, bal account.Balance) error {
	switch {
	case t.Amount == 0:
		return ErrAmountZero
	case debit.ID == credit.ID:
		return ErrSameAccount
	case debit.Ledger != credit.Ledger || debit.Ledger != t.Ledger:
		return ErrLedgerMismatch
	case !debit.Type.IsSettlement() && !bal.CanDebit(t.Amount):
		return ErrInsufficientBalance
	}
	return nil
}
