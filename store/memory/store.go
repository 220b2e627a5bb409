// Package memory is an in-process backend. One mutex serializes every
// mutation, which makes it the reference implementation of the store
// contract and the default backend for tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xraph/accounting"
	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/asset"
	"github.com/xraph/accounting/id"
	"github.com/xraph/accounting/store"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

// Compile-time interface checks.
var (
	_ store.Store   = (*Store)(nil)
	_ store.Sidecar = (*Store)(nil)
)

type Store struct {
	mu     sync.RWMutex
	closed bool

	// Asset catalog
	assets  map[string]*asset.Asset
	ledgers map[uint32]string

	// Account directory
	accounts     map[string]*account.Account
	accountKeys  map[string]string
	accountOrder []string

	// Transfers and the per-account index used for balances
	transfers     map[string]*transfer.Transfer
	transferOrder []string
	byAccount     map[string][]string

	// Event outbox
	events     map[string]*webhook.Event
	eventOrder []string
}

func New() *Store {
	return &Store{
		assets:      make(map[string]*asset.Asset),
		ledgers:     make(map[uint32]string),
		accounts:    make(map[string]*account.Account),
		accountKeys: make(map[string]string),
		transfers:   make(map[string]*transfer.Transfer),
		byAccount:   make(map[string][]string),
		events:      make(map[string]*webhook.Event),
	}
}

// ==================== Asset Store ====================

func (s *Store) CreateAsset(_ context.Context, a *asset.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return accounting.ErrStoreClosed
	}
	if _, ok := s.assets[a.ID]; ok {
		return accounting.ErrAssetAlreadyExists
	}
	if _, ok := s.ledgers[a.Ledger]; ok {
		return fmt.Errorf("%w: ledger %d is taken", accounting.ErrAssetAlreadyExists, a.Ledger)
	}

	s.assets[a.ID] = cloneAsset(a)
	s.ledgers[a.Ledger] = a.ID
	return nil
}

func (s *Store) GetAsset(_ context.Context, assetID string) (*asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.assets[assetID]; ok {
		return cloneAsset(a), nil
	}
	return nil, accounting.ErrUnknownAsset
}

func (s *Store) GetAssetByLedger(_ context.Context, ledger uint32) (*asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if assetID, ok := s.ledgers[ledger]; ok {
		return cloneAsset(s.assets[assetID]), nil
	}
	return nil, accounting.ErrUnknownAsset
}

func (s *Store) SetAssetThreshold(_ context.Context, assetID string, threshold *uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[assetID]
	if !ok {
		return accounting.ErrUnknownAsset
	}
	a.LiquidityThreshold = copyThreshold(threshold)
	return nil
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return accounting.ErrStoreClosed
	}
	if _, ok := s.ledgers[a.Ledger]; !ok {
		return fmt.Errorf("%w: no asset owns ledger %d", accounting.ErrUnknownAsset, a.Ledger)
	}
	key := accountKey(a.AccountRef, a.Type)
	if _, ok := s.accountKeys[key]; ok {
		return accounting.ErrAccountAlreadyExists
	}
	if a.ID.IsNil() {
		a.ID = id.NewAccountID()
	}

	c := *a
	s.accounts[a.ID.String()] = &c
	s.accountKeys[key] = a.ID.String()
	s.accountOrder = append(s.accountOrder, a.ID.String())
	return nil
}

func (s *Store) GetAccount(_ context.Context, ref string, t account.Type) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if accountID, ok := s.accountKeys[accountKey(ref, t)]; ok {
		c := *s.accounts[accountID]
		return &c, nil
	}
	return nil, accounting.ErrUnknownAccount
}

func (s *Store) GetAccountByID(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[accountID.String()]; ok {
		c := *a
		return &c, nil
	}
	return nil, accounting.ErrUnknownAccount
}

func (s *Store) ListAccounts(_ context.Context, opts account.ListOpts) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*account.Account
	for _, accountID := range s.accountOrder {
		a := s.accounts[accountID]
		if opts.Ledger != 0 && a.Ledger != opts.Ledger {
			continue
		}
		if opts.Type != "" && a.Type != opts.Type {
			continue
		}
		c := *a
		result = append(result, &c)
	}

	start, end := store.Pagination(len(result), opts.Limit, opts.Offset)
	return result[start:end], nil
}

// ==================== Transfer Store ====================

func (s *Store) CreateTransfer(_ context.Context, t *transfer.Transfer, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return accounting.ErrStoreClosed
	}
	if _, ok := s.transfers[t.ID]; ok {
		return accounting.ErrTransferExists
	}

	debit, ok := s.accounts[t.DebitAccountID.String()]
	if !ok {
		return accounting.ErrUnknownAccount
	}
	credit, ok := s.accounts[t.CreditAccountID.String()]
	if !ok {
		return accounting.ErrUnknownAccount
	}
	if err := accounting.CheckTransfer(t, debit, credit, s.balanceLocked(debit.ID.String(), now)); err != nil {
		return err
	}

	s.transfers[t.ID] = t.Clone()
	s.transferOrder = append(s.transferOrder, t.ID)
	s.byAccount[debit.ID.String()] = append(s.byAccount[debit.ID.String()], t.ID)
	s.byAccount[credit.ID.String()] = append(s.byAccount[credit.ID.String()], t.ID)
	return nil
}

func (s *Store) PostTransfer(_ context.Context, transferID string, now time.Time, hook transfer.DebitHook) (*transfer.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.pendingLocked(transferID, now)
	if err != nil {
		return nil, err
	}

	t.State = transfer.StatePosted
	t.Touch(now)

	if hook != nil {
		debit := *s.accounts[t.DebitAccountID.String()]
		bal := s.balanceLocked(debit.ID.String(), now)
		if e := hook(&debit, bal.Posted()); e != nil {
			s.insertEventLocked(e)
		}
	}

	return t.Clone(), nil
}

func (s *Store) VoidTransfer(_ context.Context, transferID string, now time.Time) (*transfer.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.pendingLocked(transferID, now)
	if err != nil {
		return nil, err
	}

	t.State = transfer.StateVoided
	t.Touch(now)
	return t.Clone(), nil
}

func (s *Store) ExpireTransfers(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, accounting.ErrStoreClosed
	}

	n := 0
	for _, transferID := range s.transferOrder {
		if limit > 0 && n >= limit {
			break
		}
		t := s.transfers[transferID]
		if !t.Expired(now) {
			continue
		}
		t.State = transfer.StateVoided
		t.Touch(now)
		n++
	}
	return n, nil
}

func (s *Store) GetTransfer(_ context.Context, transferID string) (*transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.transfers[transferID]; ok {
		return t.Clone(), nil
	}
	return nil, accounting.ErrUnknownTransfer
}

func (s *Store) QueryTransfers(_ context.Context, opts transfer.QueryOpts, now time.Time) ([]*transfer.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.transferOrder
	if !opts.AccountID.IsNil() {
		ids = s.byAccount[opts.AccountID.String()]
	}

	var result []*transfer.Transfer
	for _, transferID := range ids {
		t := s.transfers[transferID]
		if opts.Ledger != 0 && t.Ledger != opts.Ledger {
			continue
		}
		if opts.Type != "" && t.Type != opts.Type {
			continue
		}
		if opts.State != "" && !t.InState(opts.State, now) {
			continue
		}
		result = append(result, t.Clone())
	}

	start, end := store.Pagination(len(result), opts.Limit, opts.Offset)
	return result[start:end], nil
}

func (s *Store) Balance(_ context.Context, accountID id.AccountID, now time.Time) (account.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID.String()]; !ok {
		return account.Balance{}, accounting.ErrUnknownAccount
	}
	return s.balanceLocked(accountID.String(), now), nil
}

// pendingLocked returns the stored transfer if it can still leave PENDING,
// voiding it first when its expiry has passed.
func (s *Store) pendingLocked(transferID string, now time.Time) (*transfer.Transfer, error) {
	if s.closed {
		return nil, accounting.ErrStoreClosed
	}
	t, ok := s.transfers[transferID]
	if !ok {
		return nil, accounting.ErrUnknownTransfer
	}

	expired, err := accounting.CheckPending(t, now)
	if expired {
		t.State = transfer.StateVoided
		t.Touch(now)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) balanceLocked(accountID string, now time.Time) account.Balance {
	var b account.Balance
	for _, transferID := range s.byAccount[accountID] {
		t := s.transfers[transferID]
		debit := t.DebitAccountID.String() == accountID

		switch t.EffectiveState(now) {
		case transfer.StatePosted:
			if debit {
				b.DebitsPosted += t.Amount
			} else {
				b.CreditsPosted += t.Amount
			}
		case transfer.StatePending:
			if debit {
				b.DebitsPending += t.Amount
			} else {
				b.CreditsPending += t.Amount
			}
		}
	}
	return b
}

// ==================== Webhook Event Store ====================

func (s *Store) CreateEvent(_ context.Context, e *webhook.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return accounting.ErrStoreClosed
	}
	if _, ok := s.events[e.ID.String()]; ok {
		return fmt.Errorf("memory: event %s already exists", e.ID)
	}
	s.insertEventLocked(e)
	return nil
}

func (s *Store) GetEvent(_ context.Context, eventID id.EventID) (*webhook.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.events[eventID.String()]; ok {
		return e.Clone(), nil
	}
	return nil, accounting.ErrUnknownEvent
}

func (s *Store) ListEvents(_ context.Context, opts webhook.ListOpts) ([]*webhook.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*webhook.Event
	for _, eventID := range s.eventOrder {
		e := s.events[eventID]
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		result = append(result, e.Clone())
	}

	start, end := store.Pagination(len(result), opts.Limit, opts.Offset)
	return result[start:end], nil
}

func (s *Store) ClaimEvents(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*webhook.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, accounting.ErrStoreClosed
	}

	var due []*webhook.Event
	for _, eventID := range s.eventOrder {
		e := s.events[eventID]
		if e.ProcessAt != nil && !e.ProcessAt.After(now) {
			due = append(due, e)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].ProcessAt.Before(*due[j].ProcessAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	leased := now.Add(lease).UTC()
	result := make([]*webhook.Event, 0, len(due))
	for _, e := range due {
		at := leased
		e.ProcessAt = &at
		e.Touch(now)
		result = append(result, e.Clone())
	}
	return result, nil
}

func (s *Store) UpdateEvent(_ context.Context, e *webhook.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.ID.String()]; !ok {
		return accounting.ErrUnknownEvent
	}
	s.events[e.ID.String()] = e.Clone()
	return nil
}

func (s *Store) insertEventLocked(e *webhook.Event) {
	s.events[e.ID.String()] = e.Clone()
	s.eventOrder = append(s.eventOrder, e.ID.String())
}

// ==================== Store management ====================

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return accounting.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Helper functions
func accountKey(ref string, t account.Type) string {
	return ref + "|" + string(t)
}

func cloneAsset(a *asset.Asset) *asset.Asset {
	c := *a
	c.LiquidityThreshold = copyThreshold(a.LiquidityThreshold)
	return &c
}

func copyThreshold(v *uint64) *uint64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
