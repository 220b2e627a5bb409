package accounting

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/id"
	"github.com/xraph/accounting/transfer"
)

func TestCheckPending(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Minute), now.Add(time.Minute)

	tests := []struct {
		name        string
		tr          transfer.Transfer
		wantExpired bool
		wantErr     error
	}{
		{"Pending", transfer.Transfer{State: transfer.StatePending, ExpiresAt: &future}, false, nil},
		{"Expired", transfer.Transfer{State: transfer.StatePending, ExpiresAt: &past}, true, ErrAlreadyRolledBack},
		{"Posted", transfer.Transfer{State: transfer.StatePosted}, false, ErrAlreadyCommitted},
		{"Voided", transfer.Transfer{State: transfer.StateVoided}, false, ErrAlreadyRolledBack},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expired, err := CheckPending(&tt.tr, now)
			if expired != tt.wantExpired || !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckPending() = %v, %v; want %v, %v", expired, err, tt.wantExpired, tt.wantErr)
			}
		})
	}
}

func TestCheckTransfer(t *testing.T) {
	liq := &account.Account{ID: id.NewAccountID(), Ledger: 1, Type: account.TypeLiquidityPeer}
	settle := &account.Account{ID: id.NewAccountID(), Ledger: 1, Type: account.TypeSettlement}
	other := &account.Account{ID: id.NewAccountID(), Ledger: 2, Type: account.TypeLiquidityPeer}
	funded := account.Balance{CreditsPosted: 100}

	tests := []struct {
		name   string
		tr     transfer.Transfer
		debit  *account.Account
		credit *account.Account
		bal    account.Balance
		want   error
	}{
		{"Deposit from empty settlement", transfer.Transfer{Amount: 50, Ledger: 1}, settle, liq, account.Balance{}, nil},
		{"Withdrawal within balance", transfer.Transfer{Amount: 100, Ledger: 1}, liq, settle, funded, nil},
		{"Withdrawal over balance", transfer.Transfer{Amount: 101, Ledger: 1}, liq, settle, funded, ErrInsufficientBalance},
		{"Zero amount", transfer.Transfer{Amount: 0, Ledger: 1}, liq, settle, funded, ErrAmountZero},
		{"Same account", transfer.Transfer{Amount: 1, Ledger: 1}, liq, liq, funded, ErrSameAccount},
		{"Cross ledger", transfer.Transfer{Amount: 1, Ledger: 1}, liq, other, funded, ErrLedgerMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckTransfer(&tt.tr, tt.debit, tt.credit, tt.bal); !errors.Is(err, tt.want) {
				t.Errorf("CheckTransfer() = %v, want %v", err, tt.want)
			}
		})
	}
}
