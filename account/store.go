package account

import (
	"context"

	"github.com/xraph/accounting/id"
)

// Store is the account directory.
type Store interface {
	// CreateAccount inserts a. It fails with ErrAccountAlreadyExists when
	// (AccountRef, Type) is taken and ErrUnknownAsset when no asset owns
	// a.Ledger. Backends may assign a.ID.
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, ref string, t Type) (*Account, error)
	GetAccountByID(ctx context.Context, accountID id.AccountID) (*Account, error)
	ListAccounts(ctx context.Context, opts ListOpts) ([]*Account, error)
}

type ListOpts struct {
	Ledger uint32
	Type   Type
	Limit  int
	Offset int
}
