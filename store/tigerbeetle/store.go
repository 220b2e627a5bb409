// Package tigerbeetle keeps balances and the transfer state machine in a
// TigerBeetle cluster. The cluster has no notion of string refs, assets or
// events, so those live in a relational sidecar (any store.Sidecar).
//
// Ids are derived, never stored: an account's cluster id is the UUIDv5 of
// its (ref, type) pair and is carried in the sidecar row's id, a withdrawal
// is the pending transfer with the caller's UUID, and its post or void is a
// second transfer whose id is derived from the first. A pending transfer's
// state is therefore read back by looking up all three ids.
package tigerbeetle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	tigerbeetle_go "github.com/tigerbeetle/tigerbeetle-go"
	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/xraph/accounting"
	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/id"
	"github.com/xraph/accounting/store"
	"github.com/xraph/accounting/transfer"
)

// Client is the subset of the TigerBeetle client the store uses.
type Client interface {
	CreateAccounts(accounts []types.Account) ([]types.AccountEventResult, error)
	CreateTransfers(transfers []types.Transfer) ([]types.TransferEventResult, error)
	LookupAccounts(accountIDs []types.Uint128) ([]types.Account, error)
	LookupTransfers(transferIDs []types.Uint128) ([]types.Transfer, error)
	GetAccountTransfers(filter types.AccountFilter) ([]types.Transfer, error)
	QueryTransfers(filter types.QueryFilter) ([]types.Transfer, error)
	Nop() error
	Close()
}

// compile-time interface checks
var (
	_ store.Store = (*Store)(nil)
	_ Client      = (tigerbeetle_go.Client)(nil)
)

// namespace seeds every derived id.
var namespace = uuid.MustParse("6f1c9a52-3b0e-4c77-9a64-2d9e8f1b7c31")

// maxBatch is the largest result set the cluster returns per query.
const maxBatch = 8189

// Store implements store.Store. Directory, asset and outbox methods are
// served by the embedded sidecar.
type Store struct {
	store.Sidecar
	client Client
}

// New creates a store over a connected client and a sidecar.
func New(client Client, sidecar store.Sidecar) *Store {
	return &Store{Sidecar: sidecar, client: client}
}

// Open connects to the cluster at addresses.
func Open(clusterID uint64, addresses []string, sidecar store.Sidecar) (*Store, error) {
	client, err := tigerbeetle_go.NewClient(types.ToUint128(clusterID), addresses)
	if err != nil {
		return nil, fmt.Errorf("accounting/tigerbeetle: connect: %w", err)
	}
	return New(client, sidecar), nil
}

// Ping checks the cluster and the sidecar.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Nop(); err != nil {
		return fmt.Errorf("accounting/tigerbeetle: ping: %w", err)
	}
	return s.Sidecar.Ping(ctx)
}

// Close closes the client and the sidecar.
func (s *Store) Close() error {
	s.client.Close()
	return s.Sidecar.Close()
}

// ==================== Account Store ====================

// CreateAccount creates the cluster account first and the directory row
// second. A crash in between leaves an orphan cluster account that the
// retried call adopts.
func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	if _, err := s.GetAssetByLedger(ctx, a.Ledger); err != nil {
		return err
	}
	if _, err := s.GetAccount(ctx, a.AccountRef, a.Type); err == nil {
		return accounting.ErrAccountAlreadyExists
	} else if !errors.Is(err, accounting.ErrUnknownAccount) {
		return err
	}

	u := AccountUUID(a.AccountRef, a.Type)
	acct := types.Account{
		ID:     types.Uint128(u),
		Ledger: a.Ledger,
		Code:   a.Type.Code(),
	}
	if !a.Type.IsSettlement() {
		acct.Flags = types.AccountFlags{DebitsMustNotExceedCredits: true}.ToUint16()
	}

	results, err := s.client.CreateAccounts([]types.Account{acct})
	if err != nil {
		return fmt.Errorf("accounting/tigerbeetle: create account: %w", err)
	}
	for _, r := range results {
		if r.Result != types.AccountExists {
			return fmt.Errorf("accounting/tigerbeetle: create account %s: %v", u, r.Result)
		}
	}

	accountID, err := id.FromUUID(id.PrefixAccount, u)
	if err != nil {
		return err
	}
	a.ID = accountID
	return s.Sidecar.CreateAccount(ctx, a)
}

// ==================== Transfer Store ====================

func (s *Store) CreateTransfer(ctx context.Context, t *transfer.Transfer, now time.Time) error {
	u, err := transferUUID(t.ID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	existing, err := s.client.LookupTransfers([]types.Uint128{types.Uint128(u)})
	if err != nil {
		return fmt.Errorf("accounting/tigerbeetle: lookup transfer: %w", err)
	}
	if len(existing) > 0 {
		return accounting.ErrTransferExists
	}

	debit, err := s.GetAccountByID(ctx, t.DebitAccountID)
	if err != nil {
		return err
	}
	credit, err := s.GetAccountByID(ctx, t.CreditAccountID)
	if err != nil {
		return err
	}
	debitID, err := clusterAccountID(debit.ID)
	if err != nil {
		return err
	}
	creditID, err := clusterAccountID(credit.ID)
	if err != nil {
		return err
	}

	// The cluster enforces the balance again when it applies the transfer;
	// this read only gives early callers the same error.
	bal, err := s.balance(debitID)
	if err != nil {
		return err
	}
	if err := accounting.CheckTransfer(t, debit, credit, bal); err != nil {
		return err
	}

	tr := types.Transfer{
		ID:              types.Uint128(u),
		DebitAccountID:  debitID,
		CreditAccountID: creditID,
		Amount:          types.ToUint128(t.Amount),
		Ledger:          t.Ledger,
		Code:            t.Type.Code(),
	}
	if t.State == transfer.StatePending {
		tr.Flags = types.TransferFlags{Pending: true}.ToUint16()
		tr.Timeout = timeoutSeconds(t.ExpiresAt, now)
	}

	return s.create(tr, transferErrors{exists: accounting.ErrTransferExists})
}

func (s *Store) PostTransfer(ctx context.Context, transferID string, now time.Time, hook transfer.DebitHook) (*transfer.Transfer, error) {
	t, err := s.resolvePending(ctx, transferID, now, types.TransferFlags{PostPendingTransfer: true}, accounting.ErrAlreadyCommitted)
	if err != nil {
		return nil, err
	}
	if hook == nil {
		return t, nil
	}

	// The cluster has acknowledged the post; the event goes to the sidecar
	// afterwards and is lost if this process dies in between.
	debit, err := s.GetAccountByID(ctx, t.DebitAccountID)
	if err != nil {
		return t, err
	}
	debitID, err := clusterAccountID(debit.ID)
	if err != nil {
		return t, err
	}
	bal, err := s.balance(debitID)
	if err != nil {
		return t, err
	}
	if e := hook(debit, bal.Posted()); e != nil {
		if err := s.CreateEvent(ctx, e); err != nil {
			return t, fmt.Errorf("accounting/tigerbeetle: persist event %s: %w", e.ID, err)
		}
	}
	return t, nil
}

func (s *Store) VoidTransfer(ctx context.Context, transferID string, now time.Time) (*transfer.Transfer, error) {
	return s.resolvePending(ctx, transferID, now, types.TransferFlags{VoidPendingTransfer: true}, accounting.ErrAlreadyRolledBack)
}

// resolvePending posts or voids (per flags) the pending transfer with
// transferID. exists is the error for a resolution that already landed.
func (s *Store) resolvePending(ctx context.Context, transferID string, now time.Time, flags types.TransferFlags, exists error) (*transfer.Transfer, error) {
	u, err := transferUUID(transferID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, pending, err := s.lookup(u)
	if err != nil {
		return nil, err
	}
	if _, err := accounting.CheckPending(t, now); err != nil {
		return nil, err
	}

	state := transfer.StatePosted
	resolutionID := postID(u)
	if flags.VoidPendingTransfer {
		state = transfer.StateVoided
		resolutionID = voidID(u)
	}

	err = s.create(types.Transfer{
		ID:              types.Uint128(resolutionID),
		PendingID:       pending.ID,
		DebitAccountID:  pending.DebitAccountID,
		CreditAccountID: pending.CreditAccountID,
		Amount:          pending.Amount,
		Ledger:          pending.Ledger,
		Code:            pending.Code,
		Flags:           flags.ToUint16(),
	}, transferErrors{exists: exists})
	if err != nil {
		return nil, err
	}

	t.State = state
	t.Touch(now)
	return t, nil
}

// ExpireTransfers is a no-op: the cluster voids pending transfers itself
// when their timeout elapses.
func (s *Store) ExpireTransfers(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *Store) GetTransfer(ctx context.Context, transferID string) (*transfer.Transfer, error) {
	u, err := uuid.Parse(transferID)
	if err != nil {
		return nil, accounting.ErrUnknownTransfer
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, _, err := s.lookup(u)
	return t, err
}

func (s *Store) QueryTransfers(ctx context.Context, opts transfer.QueryOpts, now time.Time) ([]*transfer.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		raw []types.Transfer
		err error
	)
	if !opts.AccountID.IsNil() {
		accountID, cerr := clusterAccountID(opts.AccountID)
		if cerr != nil {
			return nil, cerr
		}
		raw, err = s.client.GetAccountTransfers(types.AccountFilter{
			AccountID: accountID,
			Limit:     maxBatch,
			Flags:     types.AccountFilterFlags{Debits: true, Credits: true}.ToUint32(),
		})
	} else {
		raw, err = s.client.QueryTransfers(types.QueryFilter{
			Ledger: opts.Ledger,
			Code:   opts.Type.Code(),
			Limit:  maxBatch,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("accounting/tigerbeetle: query transfers: %w", err)
	}

	list, err := s.resolveAll(raw)
	if err != nil {
		return nil, err
	}

	var result []*transfer.Transfer
	for _, t := range list {
		if opts.Ledger != 0 && t.Ledger != opts.Ledger {
			continue
		}
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		if opts.State != "" && !t.InState(opts.State, now) {
			continue
		}
		result = append(result, t)
	}

	start, end := store.Pagination(len(result), opts.Limit, opts.Offset)
	return result[start:end], nil
}

func (s *Store) Balance(ctx context.Context, accountID id.AccountID, _ time.Time) (account.Balance, error) {
	if _, err := s.GetAccountByID(ctx, accountID); err != nil {
		return account.Balance{}, err
	}
	clusterID, err := clusterAccountID(accountID)
	if err != nil {
		return account.Balance{}, err
	}
	return s.balance(clusterID)
}

// ==================== Helpers ====================

func (s *Store) balance(accountID types.Uint128) (account.Balance, error) {
	accts, err := s.client.LookupAccounts([]types.Uint128{accountID})
	if err != nil {
		return account.Balance{}, fmt.Errorf("accounting/tigerbeetle: lookup account: %w", err)
	}
	if len(accts) == 0 {
		return account.Balance{}, accounting.ErrUnknownAccount
	}
	a := accts[0]
	return account.Balance{
		CreditsPosted:  lo64(a.CreditsPosted),
		DebitsPosted:   lo64(a.DebitsPosted),
		CreditsPending: lo64(a.CreditsPending),
		DebitsPending:  lo64(a.DebitsPending),
	}, nil
}

// lookup reads the transfer u together with its possible post and void.
func (s *Store) lookup(u uuid.UUID) (*transfer.Transfer, types.Transfer, error) {
	found, err := s.client.LookupTransfers([]types.Uint128{
		types.Uint128(u), types.Uint128(postID(u)), types.Uint128(voidID(u)),
	})
	if err != nil {
		return nil, types.Transfer{}, fmt.Errorf("accounting/tigerbeetle: lookup transfer: %w", err)
	}

	var (
		original   *types.Transfer
		resolution *types.Transfer
	)
	for i := range found {
		if found[i].ID == types.Uint128(u) {
			original = &found[i]
		} else {
			resolution = &found[i]
		}
	}
	if original == nil {
		return nil, types.Transfer{}, accounting.ErrUnknownTransfer
	}

	t, err := toTransfer(*original, resolution)
	return t, *original, err
}

// resolveAll maps raw query results to transfers, dropping post and void
// records and folding them into the state of their pending transfer.
func (s *Store) resolveAll(raw []types.Transfer) ([]*transfer.Transfer, error) {
	resolutions := make(map[types.Uint128]*types.Transfer)
	var originals []types.Transfer
	for i := range raw {
		f := raw[i].TransferFlags()
		if f.PostPendingTransfer || f.VoidPendingTransfer {
			resolutions[raw[i].PendingID] = &raw[i]
			continue
		}
		originals = append(originals, raw[i])
	}

	// Resolutions may fall outside the queried window; look up the rest.
	var missing []types.Uint128
	for _, o := range originals {
		if o.TransferFlags().Pending && resolutions[o.ID] == nil {
			u := uuid.UUID(o.ID)
			missing = append(missing, types.Uint128(postID(u)), types.Uint128(voidID(u)))
		}
	}
	for len(missing) > 0 {
		n := min(len(missing), maxBatch-1)
		found, err := s.client.LookupTransfers(missing[:n])
		if err != nil {
			return nil, fmt.Errorf("accounting/tigerbeetle: lookup transfers: %w", err)
		}
		for i := range found {
			resolutions[found[i].PendingID] = &found[i]
		}
		missing = missing[n:]
	}

	result := make([]*transfer.Transfer, 0, len(originals))
	for _, o := range originals {
		t, err := toTransfer(o, resolutions[o.ID])
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// create submits one transfer and maps its result.
func (s *Store) create(tr types.Transfer, errs transferErrors) error {
	results, err := s.client.CreateTransfers([]types.Transfer{tr})
	if err != nil {
		return fmt.Errorf("accounting/tigerbeetle: create transfer: %w", err)
	}
	if len(results) == 0 {
		return nil
	}
	return errs.of(results[0].Result)
}

// transferErrors maps cluster results to domain errors. exists is returned
// when the transfer id was already used.
type transferErrors struct {
	exists error
}

func (m transferErrors) of(r types.CreateTransferResult) error {
	switch r {
	case types.TransferOK:
		return nil
	case types.TransferExists,
		types.TransferExistsWithDifferentFlags,
		types.TransferExistsWithDifferentPendingID,
		types.TransferExistsWithDifferentTimeout,
		types.TransferExistsWithDifferentDebitAccountID,
		types.TransferExistsWithDifferentCreditAccountID,
		types.TransferExistsWithDifferentAmount,
		types.TransferExistsWithDifferentUserData128,
		types.TransferExistsWithDifferentUserData64,
		types.TransferExistsWithDifferentUserData32,
		types.TransferExistsWithDifferentLedger,
		types.TransferExistsWithDifferentCode:
		return m.exists
	case types.TransferExceedsCredits:
		return accounting.ErrInsufficientBalance
	case types.TransferDebitAccountNotFound, types.TransferCreditAccountNotFound:
		return accounting.ErrUnknownAccount
	case types.TransferAccountsMustBeDifferent:
		return accounting.ErrSameAccount
	case types.TransferAccountsMustHaveTheSameLedger, types.TransferTransferMustHaveTheSameLedgerAsAccounts:
		return accounting.ErrLedgerMismatch
	case types.TransferPendingTransferNotFound, types.TransferPendingTransferNotPending:
		return accounting.ErrUnknownTransfer
	case types.TransferPendingTransferAlreadyPosted:
		return accounting.ErrAlreadyCommitted
	case types.TransferPendingTransferAlreadyVoided, types.TransferPendingTransferExpired:
		return accounting.ErrAlreadyRolledBack
	default:
		return fmt.Errorf("accounting/tigerbeetle: transfer rejected: %v", r)
	}
}

func toTransfer(o types.Transfer, resolution *types.Transfer) (*transfer.Transfer, error) {
	debitID, err := id.FromUUID(id.PrefixAccount, uuid.UUID(o.DebitAccountID))
	if err != nil {
		return nil, err
	}
	creditID, err := id.FromUUID(id.PrefixAccount, uuid.UUID(o.CreditAccountID))
	if err != nil {
		return nil, err
	}
	typ, ok := transfer.TypeFromCode(o.Code)
	if !ok {
		return nil, fmt.Errorf("accounting/tigerbeetle: transfer %s has unknown code %d", uuid.UUID(o.ID), o.Code)
	}

	created := time.Unix(0, int64(o.Timestamp)).UTC()
	t := &transfer.Transfer{
		ID:              uuid.UUID(o.ID).String(),
		DebitAccountID:  debitID,
		CreditAccountID: creditID,
		Amount:          lo64(o.Amount),
		Ledger:          o.Ledger,
		Type:            typ,
		State:           transfer.StatePosted,
	}
	t.CreatedAt, t.UpdatedAt = created, created

	if o.TransferFlags().Pending {
		t.State = transfer.StatePending
		if o.Timeout > 0 {
			exp := created.Add(time.Duration(o.Timeout) * time.Second)
			t.ExpiresAt = &exp
		}
	}
	if resolution != nil {
		t.UpdatedAt = time.Unix(0, int64(resolution.Timestamp)).UTC()
		if resolution.TransferFlags().VoidPendingTransfer {
			t.State = transfer.StateVoided
		} else {
			t.State = transfer.StatePosted
		}
	}
	return t, nil
}

// AccountUUID is the cluster account id of (ref, t).
func AccountUUID(ref string, t account.Type) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(ref+"|"+string(t)))
}

func clusterAccountID(accountID id.AccountID) (types.Uint128, error) {
	u, err := accountID.UUID()
	if err != nil {
		return types.Uint128{}, fmt.Errorf("%w: %v", accounting.ErrUnknownAccount, err)
	}
	return types.Uint128(u), nil
}

func transferUUID(transferID string) (uuid.UUID, error) {
	u, err := uuid.Parse(transferID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", accounting.ErrInvalidID, transferID)
	}
	return u, nil
}

func postID(u uuid.UUID) uuid.UUID { return uuid.NewSHA1(u, []byte("post")) }
func voidID(u uuid.UUID) uuid.UUID { return uuid.NewSHA1(u, []byte("void")) }

// timeoutSeconds converts an absolute expiry to the cluster's relative
// timeout, rounded up to whole seconds and at least one.
func timeoutSeconds(expiresAt *time.Time, now time.Time) uint32 {
	if expiresAt == nil {
		return 0
	}
	d := expiresAt.Sub(now)
	secs := int64(math.Ceil(d.Seconds()))
	return uint32(min(max(secs, 1), math.MaxUint32))
}

// lo64 returns the low 64 bits of v. Amounts never exceed them.
func lo64(v types.Uint128) uint64 {
	return binary.LittleEndian.Uint64(v[:8])
}
