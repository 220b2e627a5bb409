// Package accounting provides a double-entry ledger for payment platforms.
//
// The engine tracks value held by liquidity accounts and by the settlement
// account of each ledger, and moves it with transfers that always debit one
// account and credit another on the same ledger. It is a library, not a
// service: import it, pick a backend and call it directly. It provides:
//
//   - Conservation by construction: every transfer carries both sides
//   - Single-step deposits and two-phase withdrawals (reserve, then commit,
//     roll back or expire)
//   - Idempotent mutation keyed by the caller's transfer id
//   - Low-liquidity events written to an outbox in the same unit of work
//     as the debit that caused them
//   - Interchangeable backends: TigerBeetle, PostgreSQL, SQLite, memory
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/accounting"
//	    "github.com/xraph/accounting/store/postgres"
//	)
//
//	store, err := postgres.Open(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	svc := accounting.New(store)
//	if err := svc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop()
//
// # Transfers
//
// A deposit credits a liquidity account from the ledger's settlement
// account and is posted immediately:
//
//	err := svc.CreateDeposit(ctx, accounting.Deposit{
//	    ID:      uuid.NewString(),
//	    Account: accounting.AccountRef{Ref: peerID, Type: accounting.LiquidityPeer},
//	    Amount:  10_000,
//	})
//
// A withdrawal reserves funds first. The reservation lowers the available
// balance but not the posted one until it is committed:
//
//	err := svc.CreateWithdrawal(ctx, accounting.Withdrawal{
//	    ID:      withdrawalID,
//	    Account: accounting.AccountRef{Ref: peerID, Type: accounting.LiquidityPeer},
//	    Amount:  2_500,
//	    Timeout: time.Minute,
//	})
//	err = svc.CommitWithdrawal(ctx, withdrawalID) // or RollbackWithdrawal
//
// Withdrawals that are neither committed nor rolled back expire. Expiry is
// applied whenever a transfer is read and by a periodic sweep; whichever of
// a commit and an expiry lands first wins.
//
// # Errors
//
// Rejections are returned as sentinel errors (ErrInsufficientBalance,
// ErrTransferExists, ...). Code maps them to stable strings. Anything that
// is not a domain error is an infrastructure fault; after one, re-read the
// transfer with GetTransfer before retrying.
//
// All amounts are unsigned integers in the asset's minor unit.
package accounting
