// Package storetest is the conformance suite every backend runs. It drives
// the backend through accounting.Service with a controllable clock and
// checks the ledger invariants after each scenario.
package storetest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/accounting"
	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/asset"
	"github.com/xraph/accounting/liquidity"
	"github.com/xraph/accounting/store"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

// Factory returns an empty, unmigrated backend. The suite migrates and
// closes it. now is the suite's clock, for backends whose balances live in a
// system that keeps its own time.
type Factory func(t *testing.T, now func() time.Time) store.Store

// Run executes the whole suite against backends built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Assets", func(t *testing.T) { testAssets(t, newStore) })
	t.Run("AccountDirectory", func(t *testing.T) { testAccountDirectory(t, newStore) })
	t.Run("Deposit", func(t *testing.T) { testDeposit(t, newStore) })
	t.Run("InvalidInput", func(t *testing.T) { testInvalidInput(t, newStore) })
	t.Run("WithdrawalCommit", func(t *testing.T) { testWithdrawalCommit(t, newStore) })
	t.Run("WithdrawalRollback", func(t *testing.T) { testWithdrawalRollback(t, newStore) })
	t.Run("InsufficientBalance", func(t *testing.T) { testInsufficientBalance(t, newStore) })
	t.Run("Expiry", func(t *testing.T) { testExpiry(t, newStore) })
	t.Run("ExpirySweep", func(t *testing.T) { testExpirySweep(t, newStore) })
	t.Run("AssetLiquidity", func(t *testing.T) { testAssetLiquidity(t, newStore) })
	t.Run("PeerLiquidity", func(t *testing.T) { testPeerLiquidity(t, newStore) })
	t.Run("DuplicateWithdrawals", func(t *testing.T) { testDuplicateWithdrawals(t, newStore) })
	t.Run("ConcurrentWithdrawals", func(t *testing.T) { testConcurrentWithdrawals(t, newStore) })
	t.Run("Conservation", func(t *testing.T) { testConservation(t, newStore) })
	t.Run("QueryTransfers", func(t *testing.T) { testQueryTransfers(t, newStore) })
	t.Run("QueryTransfersPaging", func(t *testing.T) { testQueryTransfersPaging(t, newStore) })
	t.Run("EventOutbox", func(t *testing.T) { testEventOutbox(t, newStore) })
}

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock set to start.
func NewClock(start time.Time) *Clock { return &Clock{now: start} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	ctx   context.Context
	svc   *accounting.Service
	store store.Store
	clock *Clock
	usd   *asset.Asset
}

func setup(t *testing.T, newStore Factory, opts ...accounting.Option) *harness {
	t.Helper()

	ctx := context.Background()
	clock := NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	s := newStore(t, clock.Now)

	opts = append([]accounting.Option{
		accounting.WithClock(clock.Now),
		accounting.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		accounting.WithSweepInterval(0),
	}, opts...)
	svc := accounting.New(s, opts...)
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(func() { _ = svc.Stop() })

	usd := &asset.Asset{ID: uuid.NewString(), Code: "USD", Scale: 2, Ledger: 1}
	require.NoError(t, svc.CreateAsset(ctx, usd))

	return &harness{ctx: ctx, svc: svc, store: s, clock: clock, usd: usd}
}

func (h *harness) account(t *testing.T, typ account.Type) accounting.AccountRef {
	t.Helper()
	ref := accounting.AccountRef{Ref: uuid.NewString(), Type: typ}
	_, err := h.svc.CreateAccount(h.ctx, ref.Ref, h.usd.Ledger, typ)
	require.NoError(t, err)
	return ref
}

func (h *harness) deposit(t *testing.T, ref accounting.AccountRef, amount uint64) string {
	t.Helper()
	transferID := uuid.NewString()
	require.NoError(t, h.svc.CreateDeposit(h.ctx, accounting.Deposit{ID: transferID, Account: ref, Amount: amount}))
	return transferID
}

func (h *harness) withdraw(t *testing.T, ref accounting.AccountRef, amount uint64, timeout time.Duration) string {
	t.Helper()
	transferID := uuid.NewString()
	require.NoError(t, h.svc.CreateWithdrawal(h.ctx, accounting.Withdrawal{
		ID: transferID, Account: ref, Amount: amount, Timeout: timeout,
	}))
	return transferID
}

func (h *harness) requireBalance(t *testing.T, ref accounting.AccountRef, posted, available int64) {
	t.Helper()
	b, err := h.svc.Balance(h.ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, posted, b.Posted(), "posted balance")
	assert.Equal(t, available, b.Available(), "available balance")
}

func (h *harness) settlement() accounting.AccountRef {
	return accounting.AccountRef{Ref: h.usd.ID, Type: account.TypeSettlement}
}

// requireInvariants checks that the ledger sums to zero and no liquidity
// account is overdrawn.
func (h *harness) requireInvariants(t *testing.T) {
	t.Helper()
	accts, err := h.svc.ListAccounts(h.ctx, account.ListOpts{Ledger: h.usd.Ledger})
	require.NoError(t, err)

	var sum int64
	for _, a := range accts {
		b, err := h.svc.Balance(h.ctx, accounting.AccountRef{Ref: a.AccountRef, Type: a.Type})
		require.NoError(t, err)
		sum += b.Posted()
		if !a.Type.IsSettlement() {
			assert.GreaterOrEqual(t, b.Available(), int64(0), "available of %s", a.AccountRef)
		}
	}
	assert.Zero(t, sum, "ledger does not balance")
}

// ──────────────────────────────────────────────────
// Directory
// ──────────────────────────────────────────────────

func testAssets(t *testing.T, newStore Factory) {
	h := setup(t, newStore)

	got, err := h.svc.GetAssetByLedger(h.ctx, h.usd.Ledger)
	require.NoError(t, err)
	assert.Equal(t, h.usd.ID, got.ID)
	assert.Equal(t, "USD", got.Code)
	assert.Equal(t, uint8(2), got.Scale)
	assert.Nil(t, got.LiquidityThreshold)

	err = h.svc.CreateAsset(h.ctx, &asset.Asset{ID: uuid.NewString(), Code: "EUR", Scale: 2, Ledger: h.usd.Ledger})
	require.ErrorIs(t, err, accounting.ErrAssetAlreadyExists)

	_, err = h.svc.GetAssetByLedger(h.ctx, 99)
	require.ErrorIs(t, err, accounting.ErrUnknownAsset)

	th := uint64(500)
	require.NoError(t, h.svc.SetAssetThreshold(h.ctx, h.usd.ID, &th))
	got, err = h.store.GetAsset(h.ctx, h.usd.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LiquidityThreshold)
	assert.Equal(t, th, *got.LiquidityThreshold)

	require.NoError(t, h.svc.SetAssetThreshold(h.ctx, h.usd.ID, nil))
	got, err = h.store.GetAsset(h.ctx, h.usd.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LiquidityThreshold)

	require.ErrorIs(t, h.svc.SetAssetThreshold(h.ctx, uuid.NewString(), &th), accounting.ErrUnknownAsset)
}

func testAccountDirectory(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	ref := uuid.NewString()

	a, err := h.svc.CreateAccount(h.ctx, ref, h.usd.Ledger, account.TypeLiquidityPeer)
	require.NoError(t, err)
	assert.False(t, a.ID.IsNil())
	assert.Equal(t, ref, a.AccountRef)

	_, err = h.svc.CreateAccount(h.ctx, ref, h.usd.Ledger, account.TypeLiquidityPeer)
	require.ErrorIs(t, err, accounting.ErrAccountAlreadyExists)

	// Same owner, different role.
	_, err = h.svc.CreateAccount(h.ctx, ref, h.usd.Ledger, account.TypeLiquidityIncoming)
	require.NoError(t, err)

	got, err := h.svc.GetAccount(h.ctx, ref, account.TypeLiquidityPeer)
	require.NoError(t, err)
	assert.Equal(t, a.ID.String(), got.ID.String())
	assert.Equal(t, h.usd.Ledger, got.Ledger)

	byID, err := h.store.GetAccountByID(h.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ref, byID.AccountRef)

	again, err := h.svc.GetOrCreateAccount(h.ctx, ref, h.usd.Ledger, account.TypeLiquidityPeer)
	require.NoError(t, err)
	assert.Equal(t, a.ID.String(), again.ID.String())

	fresh, err := h.svc.GetOrCreateAccount(h.ctx, uuid.NewString(), h.usd.Ledger, account.TypeLiquidityOutgoing)
	require.NoError(t, err)
	assert.False(t, fresh.ID.IsNil())

	_, err = h.svc.GetAccount(h.ctx, uuid.NewString(), account.TypeLiquidityPeer)
	require.ErrorIs(t, err, accounting.ErrUnknownAccount)

	_, err = h.svc.CreateAccount(h.ctx, uuid.NewString(), 99, account.TypeLiquidityPeer)
	require.ErrorIs(t, err, accounting.ErrUnknownAsset)

	_, err = h.svc.CreateAccount(h.ctx, uuid.NewString(), h.usd.Ledger, account.Type("BOGUS"))
	require.ErrorIs(t, err, accounting.ErrInvalidAccountType)

	eur := &asset.Asset{ID: uuid.NewString(), Code: "EUR", Scale: 2, Ledger: 2}
	require.NoError(t, h.svc.CreateAsset(h.ctx, eur))
	_, err = h.svc.GetOrCreateAccount(h.ctx, ref, eur.Ledger, account.TypeLiquidityPeer)
	require.ErrorIs(t, err, accounting.ErrLedgerMismatch)

	peers, err := h.svc.ListAccounts(h.ctx, account.ListOpts{Type: account.TypeLiquidityPeer})
	require.NoError(t, err)
	assert.Len(t, peers, 1)

	all, err := h.svc.ListAccounts(h.ctx, account.ListOpts{Ledger: h.usd.Ledger, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// ──────────────────────────────────────────────────
// Deposits and withdrawals
// ──────────────────────────────────────────────────

func testDeposit(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	peer := h.account(t, account.TypeLiquidityPeer)

	transferID := h.deposit(t, peer, 100)
	h.requireBalance(t, peer, 100, 100)
	h.requireBalance(t, h.settlement(), -100, -100)

	received, err := h.svc.GetTotalReceived(h.ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), received)

	tr, err := h.svc.GetTransfer(h.ctx, transferID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatePosted, tr.State)
	assert.Equal(t, transfer.TypeDeposit, tr.Type)
	assert.Equal(t, uint64(100), tr.Amount)
	assert.Nil(t, tr.ExpiresAt)

	// Replaying the id is rejected and moves nothing.
	err = h.svc.CreateDeposit(h.ctx, accounting.Deposit{ID: transferID, Account: peer, Amount: 100})
	require.ErrorIs(t, err, accounting.ErrTransferExists)
	h.requireBalance(t, peer, 100, 100)

	// Settlement account is created once per ledger.
	settlements, err := h.svc.ListAccounts(h.ctx, account.ListOpts{Type: account.TypeSettlement})
	require.NoError(t, err)
	assert.Len(t, settlements, 1)

	h.deposit(t, peer, 50)
	balance, err := h.svc.GetBalance(h.ctx, peer)
	require.NoError(t, err)
	assert.Equal(t, int64(150), balance)
	h.requireInvariants(t)
}

func testInvalidInput(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	peer := h.account(t, account.TypeLiquidityPeer)
	h.deposit(t, peer, 100)

	err := h.svc.CreateDeposit(h.ctx, accounting.Deposit{ID: "not-a-uuid", Account: peer, Amount: 1})
	require.ErrorIs(t, err, accounting.ErrInvalidID)

	err = h.svc.CreateDeposit(h.ctx, accounting.Deposit{ID: uuid.NewString(), Account: peer, Amount: 0})
	require.ErrorIs(t, err, accounting.ErrAmountZero)

	err = h.svc.CreateWithdrawal(h.ctx, accounting.Withdrawal{ID: uuid.NewString(), Account: peer, Amount: 0})
	require.ErrorIs(t, err, accounting.ErrAmountZero)

	unknown := accounting.AccountRef{Ref: uuid.NewString(), Type: account.TypeLiquidityPeer}
	err = h.svc.CreateDeposit(h.ctx, accounting.Deposit{ID: uuid.NewString(), Account: unknown, Amount: 1})
	require.ErrorIs(t, err, accounting.ErrUnknownAccount)

	require.ErrorIs(t, h.svc.CommitWithdrawal(h.ctx, uuid.NewString()), accounting.ErrUnknownTransfer)
	require.ErrorIs(t, h.svc.RollbackWithdrawal(h.ctx, uuid.NewString()), accounting.ErrUnknownTransfer)
	require.ErrorIs(t, h.svc.CommitWithdrawal(h.ctx, "nope"), accounting.ErrInvalidID)

	_, err = h.svc.GetTransfer(h.ctx, uuid.NewString())
	require.ErrorIs(t, err, accounting.ErrUnknownTransfer)

	h.requireBalance(t, peer, 100, 100)
}

func testWithdrawalCommit(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	peer := h.account(t, account.TypeLiquidityPeer)
	h.deposit(t, peer, 100)

	transferID := h.withdraw(t, peer, 60, time.Minute)
	h.requireBalance(t, peer, 100, 40)

	tr, err := h.svc.GetTransfer(h.ctx, transferID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatePending, tr.State)
	assert.Equal(t, transfer.TypeWithdrawal, tr.Type)
	require.NotNil(t, tr.ExpiresAt)
	assert.True(t, tr.ExpiresAt.Equal(h.clock.Now().Add(time.Minute)))

	require.NoError(t, h.svc.CommitWithdrawal(h.ctx, transferID))
	h.requireBalance(t, peer, 40, 40)
	h.requireBalance(t, h.settlement(), -40, -40)

	tr, err = h.svc.GetTransfer(h.ctx, transferID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatePosted, tr.State)

	require.ErrorIs(t, h.svc.CommitWithdrawal(h.ctx, transferID), accounting.ErrAlreadyCommitted)
	require.ErrorIs(t, h.svc.RollbackWithdrawal(h.ctx, transferID), accounting.ErrAlreadyCommitted)

	// Committing long after the original expiry changes nothing.
	h.clock.Advance(time.Hour)
	require.ErrorIs(t, h.svc.CommitWithdrawal(h.ctx, transferID), accounting.ErrAlreadyCommitted)
	h.requireBalance(t, peer, 40, 40)
	h.requireInvariants(t)
}

func testWithdrawalRollback(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	peer := h.account(t, account.TypeLiquidityPeer)
	h.deposit(t, peer, 100)

	transferID := h.withdraw(t, peer, 60, time.Minute)
	h.requireBalance(t, peer, 100, 40)

	require.NoError(t, h.svc.RollbackWithdrawal(h.ctx, transferID))
	h.requireBalance(t, peer, 100, 100)

	tr, err := h.svc.GetTransfer(h.ctx, transferID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StateVoided, tr.State)

	require.ErrorIs(t, h.svc.RollbackWithdrawal(h.ctx, transferID), accounting.ErrAlreadyRolledBack)
	require.ErrorIs(t, h.svc.CommitWithdrawal(h.ctx, transferID), accounting.ErrAlreadyRolledBack)

	// The id stays taken after a rollback.
	err = h.svc.CreateWithdrawal(h.ctx, accounting.Withdrawal{ID: transferID, Account: peer, Amount: 10})
	require.ErrorIs(t, err, accounting.ErrTransferExists)
	h.requireInvariants(t)
}

func testInsufficientBalance(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	peer := h.account(t, account.TypeLiquidityPeer)
	h.deposit(t, peer, 100)

	transferID := uuid.NewString()
	err := h.svc.CreateWithdrawal(h.ctx, accounting.Withdrawal{ID: transferID, Account: peer, Amount: 101, Timeout: time.Minute})
	require.ErrorIs(t, err, accounting.ErrInsufficientBalance)

	_, err = h.svc.GetTransfer(h.ctx, transferID)
	require.ErrorIs(t, err, accounting.ErrUnknownTransfer)

	// Reservations count against the available balance.
	h.withdraw(t, peer, 60, time.Minute)
	err = h.svc.CreateWithdrawal(h.ctx, accounting.Withdrawal{ID: uuid.NewString(), Account: peer, Amount: 41, Timeout: time.Minute})
	require.ErrorIs(t, err, accounting.ErrInsufficientBalance)
	h.withdraw(t, peer, 40, time.Minute)

	h.requireBalance(t, peer, 100, 0)

	// An empty account cannot be withdrawn from at all.
	empty := h.account(t, account.TypeLiquidityAsset)
	err = h.svc.CreateWithdrawal(h.ctx, accounting.Withdrawal{ID: uuid.NewString(), Account: empty, Amount: 1})
	require.ErrorIs(t, err, accounting.ErrInsufficientBalance)
	h.requireInvariants(t)
}

// ──────────────────────────────────────────────────
// Expiry
// ──────────────────────────────────────────────────

func testExpiry(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	peer := h.account(t, account.TypeLiquidityPeer)
	h.deposit(t, peer, 100)

	transferID := h.withdraw(t, peer, 60, 10*time.Second)
	h.requireBalance(t, peer, 100, 40)

	h.clock.Advance(11 * time.Second)

	// The reservation stops counting as soon as it expires.
	h.requireBalance(t, peer, 100, 100)

	tr, err := h.svc.GetTransfer(h.ctx, transferID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StateVoided, tr.State)

	require.ErrorIs(t, h.svc.CommitWithdrawal(h.ctx, transferID), accounting.ErrAlreadyRolledBack)
	require.ErrorIs(t, h.svc.RollbackWithdrawal(h.ctx, transferID), accounting.ErrAlreadyRolledBack)
	h.requireBalance(t, peer, 100, 100)

	// The released amount can be reserved again.
	h.withdraw(t, peer, 100, 10*time.Second)
	h.requireBalance(t, peer, 100, 0)
	h.requireInvariants(t)
}

func testExpirySweep(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	peer := h.account(t, account.TypeLiquidityPeer)
	h.deposit(t, peer, 100)

	expiring := h.withdraw(t, peer, 30, 10*time.Second)
	lasting := h.withdraw(t, peer, 30, time.Hour)

	h.clock.Advance(11 * time.Second)
	_, err := h.svc.ExpirePending(h.ctx)
	require.NoError(t, err)

	tr, err := h.svc.GetTransfer(h.ctx, expiring)
	require.NoError(t, err)
	assert.Equal(t, transfer.StateVoided, tr.State)
	require.ErrorIs(t, h.svc.CommitWithdrawal(h.ctx, expiring), accounting.ErrAlreadyRolledBack)

	tr, err = h.svc.GetTransfer(h.ctx, lasting)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatePending, tr.State)
	require.NoError(t, h.svc.CommitWithdrawal(h.ctx, lasting))

	h.requireBalance(t, peer, 70, 70)

	// A second sweep finds nothing left to void.
	n, err := h.svc.ExpirePending(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	h.requireInvariants(t)
}

// ──────────────────────────────────────────────────
// Liquidity
// ──────────────────────────────────────────────────

func testAssetLiquidity(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	th := uint64(100)
	require.NoError(t, h.svc.SetAssetThreshold(h.ctx, h.usd.ID, &th))

	liq := accounting.AccountRef{Ref: h.usd.ID, Type: account.TypeLiquidityAsset}
	_, err := h.svc.CreateAccount(h.ctx, liq.Ref, h.usd.Ledger, liq.Type)
	require.NoError(t, err)
	h.deposit(t, liq, 150)

	// Rollbacks and reservations never fire.
	rolled := h.withdraw(t, liq, 60, time.Minute)
	require.NoError(t, h.svc.RollbackWithdrawal(h.ctx, rolled))

	first := h.withdraw(t, liq, 60, time.Minute)
	events := listLiquidityEvents(t, h, webhook.EventAssetLiquidityLow)
	assert.Empty(t, events)

	require.NoError(t, h.svc.CommitWithdrawal(h.ctx, first))
	second := h.withdraw(t, liq, 40, time.Minute)
	require.NoError(t, h.svc.CommitWithdrawal(h.ctx, second))

	events = listLiquidityEvents(t, h, webhook.EventAssetLiquidityLow)
	require.Len(t, events, 2)

	balances := []string{events[0].Data["balance"].(string), events[1].Data["balance"].(string)}
	assert.ElementsMatch(t, []string{"90", "50"}, balances)

	e := events[0]
	assert.Equal(t, h.usd.ID, e.Data["id"])
	assert.Equal(t, "100", e.Data["liquidityThreshold"])
	assetData, ok := e.Data["asset"].(map[string]any)
	require.True(t, ok, "asset payload is %T", e.Data["asset"])
	assert.Equal(t, h.usd.ID, assetData["id"])
	assert.Equal(t, "USD", assetData["code"])
	assert.EqualValues(t, 2, assetData["scale"])
	assert.False(t, e.Delivered())
	assert.Zero(t, e.Attempts)

	h.requireBalance(t, liq, 50, 50)
}

func testPeerLiquidity(t *testing.T, newStore Factory) {
	th := uint64(50)
	var asked []string
	var mu sync.Mutex
	src := liquidity.ThresholdFunc(func(_ context.Context, peerID string) (*uint64, error) {
		mu.Lock()
		asked = append(asked, peerID)
		mu.Unlock()
		return &th, nil
	})

	h := setup(t, newStore, accounting.WithThresholdSource(src))
	peer := h.account(t, account.TypeLiquidityPeer)
	h.deposit(t, peer, 100)

	above := h.withdraw(t, peer, 40, time.Minute)
	require.NoError(t, h.svc.CommitWithdrawal(h.ctx, above))
	assert.Empty(t, listLiquidityEvents(t, h, webhook.EventPeerLiquidityLow))

	below := h.withdraw(t, peer, 20, time.Minute)
	require.NoError(t, h.svc.CommitWithdrawal(h.ctx, below))

	events := listLiquidityEvents(t, h, webhook.EventPeerLiquidityLow)
	require.Len(t, events, 1)
	assert.Equal(t, peer.Ref, events[0].Data["id"])
	assert.Equal(t, "40", events[0].Data["balance"])
	assert.Equal(t, "50", events[0].Data["liquidityThreshold"])
	assert.Empty(t, listLiquidityEvents(t, h, webhook.EventAssetLiquidityLow))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, asked, peer.Ref)
}

func listLiquidityEvents(t *testing.T, h *harness, typ string) []*webhook.Event {
	t.Helper()
	events, err := h.store.ListEvents(h.ctx, webhook.ListOpts{Type: typ})
	require.NoError(t, err)
	return events
}

// ──────────────────────────────────────────────────
// Concurrency
// ──────────────────────────────────────────────────

func testDuplicateWithdrawals(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	peer := h.account(t, account.TypeLiquidityPeer)
	h.deposit(t, peer, 100)

	transferID := uuid.NewString()
	errs := make([]error, 3)

	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.svc.CreateWithdrawal(h.ctx, accounting.Withdrawal{
				ID: transferID, Account: peer, Amount: 50, Timeout: time.Minute,
			})
		}()
	}
	wg.Wait()

	var ok, exists int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case accounting.IsConflict(err):
			require.ErrorIs(t, err, accounting.ErrTransferExists)
			exists++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 2, exists)

	tr, err := h.svc.GetTransfer(h.ctx, transferID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatePending, tr.State)
	h.requireBalance(t, peer, 100, 50)
}

func testConcurrentWithdrawals(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	peer := h.account(t, account.TypeLiquidityPeer)
	h.deposit(t, peer, 100)

	errs := make([]error, 10)

	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.svc.CreateWithdrawal(h.ctx, accounting.Withdrawal{
				ID: uuid.NewString(), Account: peer, Amount: 20, Timeout: time.Minute,
			})
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, accounting.ErrInsufficientBalance)
	}
	assert.Equal(t, 5, ok)
	h.requireBalance(t, peer, 100, 0)
	h.requireInvariants(t)
}

func testConservation(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	refs := []accounting.AccountRef{
		h.account(t, account.TypeLiquidityPeer),
		h.account(t, account.TypeLiquidityIncoming),
		h.account(t, account.TypeLiquidityOutgoing),
		h.account(t, account.TypeLiquidityWebMonetization),
	}

	for i, ref := range refs {
		h.deposit(t, ref, uint64(100*(i+1)))
		h.requireInvariants(t)

		committed := h.withdraw(t, ref, 30, time.Minute)
		rolled := h.withdraw(t, ref, 20, time.Minute)
		h.withdraw(t, ref, 10, time.Second)
		h.requireInvariants(t)

		require.NoError(t, h.svc.CommitWithdrawal(h.ctx, committed))
		require.NoError(t, h.svc.RollbackWithdrawal(h.ctx, rolled))
		h.requireInvariants(t)
	}

	h.clock.Advance(2 * time.Second)
	_, err := h.svc.ExpirePending(h.ctx)
	require.NoError(t, err)
	h.requireInvariants(t)

	for i, ref := range refs {
		want := int64(100*(i+1) - 30)
		h.requireBalance(t, ref, want, want)
	}
}

// ──────────────────────────────────────────────────
// Queries and outbox
// ──────────────────────────────────────────────────

func testQueryTransfers(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	a := h.account(t, account.TypeLiquidityPeer)
	b := h.account(t, account.TypeLiquidityPeer)

	h.deposit(t, a, 100)
	h.deposit(t, b, 100)
	pending := h.withdraw(t, a, 10, time.Minute)
	expiring := h.withdraw(t, a, 10, time.Second)
	h.clock.Advance(2 * time.Second)

	acct, err := h.svc.GetAccount(h.ctx, a.Ref, a.Type)
	require.NoError(t, err)

	list, err := h.svc.QueryTransfers(h.ctx, transfer.QueryOpts{AccountID: acct.ID})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	deposits, err := h.svc.QueryTransfers(h.ctx, transfer.QueryOpts{Ledger: h.usd.Ledger, Type: transfer.TypeDeposit})
	require.NoError(t, err)
	assert.Len(t, deposits, 2)

	open, err := h.svc.QueryTransfers(h.ctx, transfer.QueryOpts{AccountID: acct.ID, State: transfer.StatePending})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, pending, open[0].ID)

	voided, err := h.svc.QueryTransfers(h.ctx, transfer.QueryOpts{AccountID: acct.ID, State: transfer.StateVoided})
	require.NoError(t, err)
	require.Len(t, voided, 1)
	assert.Equal(t, expiring, voided[0].ID)
}

func testQueryTransfersPaging(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	peer := h.account(t, account.TypeLiquidityPeer)
	h.deposit(t, peer, 100)

	expired := h.withdraw(t, peer, 10, time.Second)
	h.clock.Advance(2 * time.Second)
	first := h.withdraw(t, peer, 10, time.Minute)
	second := h.withdraw(t, peer, 10, time.Minute)

	acct, err := h.svc.GetAccount(h.ctx, peer.Ref, peer.Type)
	require.NoError(t, err)

	ids := func(list []*transfer.Transfer) []string {
		out := make([]string, 0, len(list))
		for _, tr := range list {
			out = append(out, tr.ID)
		}
		return out
	}

	// The expired reservation is still stored as PENDING until a sweep
	// runs; it must not take a slot in the page.
	page, err := h.svc.QueryTransfers(h.ctx, transfer.QueryOpts{AccountID: acct.ID, State: transfer.StatePending, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, ids(page))

	page, err = h.svc.QueryTransfers(h.ctx, transfer.QueryOpts{AccountID: acct.ID, State: transfer.StatePending, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{second}, ids(page))

	page, err = h.svc.QueryTransfers(h.ctx, transfer.QueryOpts{AccountID: acct.ID, State: transfer.StateVoided, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, []string{expired}, ids(page))
	assert.Equal(t, transfer.StateVoided, page[0].State)
}

func testEventOutbox(t *testing.T, newStore Factory) {
	h := setup(t, newStore)
	now := h.clock.Now()

	first := webhook.NewEvent(webhook.EventAssetLiquidityLow, map[string]any{"id": "a", "balance": "1"}, now)
	second := webhook.NewEvent(webhook.EventPeerLiquidityLow, map[string]any{"id": "b", "balance": "2"}, now.Add(time.Minute))
	require.NoError(t, h.store.CreateEvent(h.ctx, first))
	require.NoError(t, h.store.CreateEvent(h.ctx, second))

	got, err := h.store.GetEvent(h.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.EventAssetLiquidityLow, got.Type)
	assert.Equal(t, "1", got.Data["balance"])

	claimed, err := h.store.ClaimEvents(h.ctx, now, 30*time.Second, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, first.ID.String(), claimed[0].ID.String())

	// Leased events are skipped until the lease runs out.
	claimed, err = h.store.ClaimEvents(h.ctx, now.Add(10*time.Second), 30*time.Second, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = h.store.ClaimEvents(h.ctx, now.Add(2*time.Minute), 30*time.Second, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	e := claimed[0]
	e.Attempts++
	e.ProcessAt = nil
	require.NoError(t, h.store.UpdateEvent(h.ctx, e))

	got, err = h.store.GetEvent(h.ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.Delivered())
	assert.Equal(t, 1, got.Attempts)

	all, err := h.store.ListEvents(h.ctx, webhook.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = h.store.GetEvent(h.ctx, webhook.NewEvent("x", nil, now).ID)
	require.ErrorIs(t, err, accounting.ErrUnknownEvent)
}
