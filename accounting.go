package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/asset"
	"github.com/xraph/accounting/id"
	"github.com/xraph/accounting/liquidity"
	"github.com/xraph/accounting/plugin"
	"github.com/xraph/accounting/store"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/types"
	"github.com/xraph/accounting/webhook"
)

// Config holds the engine settings.
type Config struct {
	// DefaultWithdrawalTimeout applies to withdrawals created with a zero
	// timeout (default: 30s).
	DefaultWithdrawalTimeout time.Duration `json:"default_withdrawal_timeout" mapstructure:"default_withdrawal_timeout" yaml:"default_withdrawal_timeout"`

	// OperationTimeout bounds every backend call (default: 10s).
	OperationTimeout time.Duration `json:"operation_timeout" mapstructure:"operation_timeout" yaml:"operation_timeout"`

	// SweepInterval is how often Start's worker voids expired withdrawals.
	// Zero disables the worker (default: 30s).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// ExpireBatchSize caps how many transfers one sweep batch voids
	// (default: 500).
	ExpireBatchSize int `json:"expire_batch_size" mapstructure:"expire_batch_size" yaml:"expire_batch_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultWithdrawalTimeout: 30 * time.Second,
		OperationTimeout:         10 * time.Second,
		SweepInterval:            30 * time.Second,
		ExpireBatchSize:          500,
	}
}

// AccountRef names a ledger account by its owner and role.
type AccountRef struct {
	Ref  string       `json:"ref"`
	Type account.Type `json:"type"`
}

// Deposit credits Account from the settlement account of its ledger.
type Deposit struct {
	ID      string
	Account AccountRef
	Amount  uint64
}

// Withdrawal reserves Amount on Account for Timeout. A zero Timeout uses
// Config.DefaultWithdrawalTimeout.
type Withdrawal struct {
	ID      string
	Account AccountRef
	Amount  uint64
	Timeout time.Duration
}

// Service is the accounting engine.
type Service struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	monitor *liquidity.Monitor
	guard   Guard
	now     func() time.Time
	config  Config
	migrate bool

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Service over s.
func New(s store.Store, opts ...Option) *Service {
	svc := &Service{
		store:    s,
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
		monitor:  liquidity.NewMonitor(nil),
		now:      time.Now,
		config:   DefaultConfig(),
		migrate:  true,
		stopChan: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
		s.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(s *Service) {
		_ = s.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithConfig replaces the whole configuration. Zero fields keep defaults.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.config = mergeConfig(cfg)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithThresholdSource sets where peer liquidity thresholds come from.
func WithThresholdSource(src liquidity.ThresholdSource) Option {
	return func(s *Service) { s.monitor = liquidity.NewMonitor(src) }
}

// WithSweepInterval sets the expiry sweep interval. Zero disables the worker.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) { s.config.SweepInterval = d }
}

// WithDefaultWithdrawalTimeout sets the timeout of withdrawals created
// without one.
func WithDefaultWithdrawalTimeout(d time.Duration) Option {
	return func(s *Service) { s.config.DefaultWithdrawalTimeout = d }
}

// WithOperationTimeout bounds every backend call.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Service) { s.config.OperationTimeout = d }
}

// WithAutoMigrate controls whether Start migrates the store (default: true).
func WithAutoMigrate(enabled bool) Option {
	return func(s *Service) { s.migrate = enabled }
}

func mergeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.DefaultWithdrawalTimeout <= 0 {
		cfg.DefaultWithdrawalTimeout = defaults.DefaultWithdrawalTimeout
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.ExpireBatchSize <= 0 {
		cfg.ExpireBatchSize = defaults.ExpireBatchSize
	}
	return cfg
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.config }

// Store returns the backend.
func (s *Service) Store() store.Store { return s.store }

// Start migrates the store, initializes plugins and starts the expiry sweep.
func (s *Service) Start(ctx context.Context) error {
	if s.migrate {
		if err := s.store.Migrate(ctx); err != nil {
			return err
		}
	}

	s.plugins.EmitInit(ctx, s)

	if s.config.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepWorker(context.WithoutCancel(ctx))
	}

	s.logger.Info("accounting started",
		"sweep_interval", s.config.SweepInterval,
		"default_withdrawal_timeout", s.config.DefaultWithdrawalTimeout,
		"operation_timeout", s.config.OperationTimeout,
	)

	return nil
}

// Stop shuts down the worker, notifies plugins and closes the store.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()

	s.plugins.EmitShutdown(context.Background())

	return s.store.Close()
}

// sweepWorker voids expired withdrawals on every tick.
func (s *Service) sweepWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if _, err := s.ExpirePending(ctx); err != nil {
				s.logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Assets
// ──────────────────────────────────────────────────

// CreateAsset registers the asset that owns a ledger.
func (s *Service) CreateAsset(ctx context.Context, a *asset.Asset) error {
	if a.ID == "" || a.Ledger == 0 {
		return fmt.Errorf("%w: asset needs an id and a non-zero ledger", ErrUnknownAsset)
	}
	a.Entity = types.NewEntityAt(s.now())

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return WrapStoreError("create asset", s.store.CreateAsset(ctx, a))
}

// GetAssetByLedger returns the asset owning ledger.
func (s *Service) GetAssetByLedger(ctx context.Context, ledger uint32) (*asset.Asset, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	a, err := s.store.GetAssetByLedger(ctx, ledger)
	return a, WrapStoreError("get asset", err)
}

// SetAssetThreshold sets or clears (nil) an asset's liquidity threshold.
func (s *Service) SetAssetThreshold(ctx context.Context, assetID string, threshold *uint64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return WrapStoreError("set asset threshold", s.store.SetAssetThreshold(ctx, assetID, threshold))
}

// ──────────────────────────────────────────────────
// Account Directory
// ──────────────────────────────────────────────────

// CreateAccount creates the account of ref in role t on ledger. A duplicate
// (ref, t) fails with ErrAccountAlreadyExists.
func (s *Service) CreateAccount(ctx context.Context, ref string, ledger uint32, t account.Type) (*account.Account, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty account ref", ErrInvalidID)
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccountType, t)
	}

	a := &account.Account{
		Entity:     types.NewEntityAt(s.now()),
		ID:         id.NewAccountID(),
		AccountRef: ref,
		Ledger:     ledger,
		Type:       t,
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.store.CreateAccount(opCtx, a); err != nil {
		return nil, WrapStoreError("create account", err)
	}

	s.logger.Debug("account created",
		"account_id", a.ID.String(),
		"account_ref", ref,
		"type", t,
		"ledger", ledger,
	)
	s.plugins.EmitAccountCreated(ctx, a)

	return a, nil
}

// GetOrCreateAccount returns the account of (ref, t), creating it on ledger
// when absent. Concurrent callers converge on one row.
func (s *Service) GetOrCreateAccount(ctx context.Context, ref string, ledger uint32, t account.Type) (*account.Account, error) {
	a, err := s.GetAccount(ctx, ref, t)
	switch {
	case err == nil:
		if a.Ledger != ledger {
			return nil, fmt.Errorf("%w: account %s/%s is on ledger %d", ErrLedgerMismatch, ref, t, a.Ledger)
		}
		return a, nil
	case !errors.Is(err, ErrUnknownAccount):
		return nil, err
	}

	a, err = s.CreateAccount(ctx, ref, ledger, t)
	if errors.Is(err, ErrAccountAlreadyExists) {
		return s.GetAccount(ctx, ref, t)
	}
	return a, err
}

// GetAccount returns the account of (ref, t) or ErrUnknownAccount.
func (s *Service) GetAccount(ctx context.Context, ref string, t account.Type) (*account.Account, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	a, err := s.store.GetAccount(ctx, ref, t)
	return a, WrapStoreError("get account", err)
}

// ListAccounts lists directory rows.
func (s *Service) ListAccounts(ctx context.Context, opts account.ListOpts) ([]*account.Account, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	accts, err := s.store.ListAccounts(ctx, opts)
	return accts, WrapStoreError("list accounts", err)
}

// CreateSettlementAccount returns the settlement account of ledger, creating
// it if needed. Its ref is the owning asset's id.
func (s *Service) CreateSettlementAccount(ctx context.Context, ledger uint32) (*account.Account, error) {
	a, err := s.GetAssetByLedger(ctx, ledger)
	if err != nil {
		return nil, err
	}
	return s.GetOrCreateAccount(ctx, a.ID, ledger, account.TypeSettlement)
}

// ──────────────────────────────────────────────────
// Transfers
// ──────────────────────────────────────────────────

// CreateDeposit credits d.Account from the settlement account in one posted
// transfer. Replaying d.ID fails with ErrTransferExists.
func (s *Service) CreateDeposit(ctx context.Context, d Deposit) error {
	const op = "deposit"

	transferID, err := validateTransfer(d.ID, d.Amount)
	if err != nil {
		return s.reject(ctx, op, d.ID, err)
	}

	acct, settlement, err := s.resolvePair(ctx, d.Account)
	if err != nil {
		return s.reject(ctx, op, transferID, err)
	}

	t := &transfer.Transfer{
		ID:              transferID,
		DebitAccountID:  settlement.ID,
		CreditAccountID: acct.ID,
		Amount:          d.Amount,
		Ledger:          acct.Ledger,
		Type:            transfer.TypeDeposit,
		State:           transfer.StatePosted,
	}

	if err := s.guard.Claim(transferID, func() error { return s.insert(ctx, t, 0) }); err != nil {
		return s.reject(ctx, op, transferID, err)
	}

	s.logger.Debug("deposit posted",
		"transfer_id", transferID,
		"account_ref", d.Account.Ref,
		"amount", d.Amount,
		"ledger", t.Ledger,
	)
	s.plugins.EmitDepositPosted(ctx, t)

	return nil
}

// CreateWithdrawal reserves w.Amount on w.Account as a pending transfer to
// the settlement account. The reservation lowers the available balance but
// not the posted one, and expires after w.Timeout.
func (s *Service) CreateWithdrawal(ctx context.Context, w Withdrawal) error {
	const op = "withdrawal"

	transferID, err := validateTransfer(w.ID, w.Amount)
	if err != nil {
		return s.reject(ctx, op, w.ID, err)
	}
	if w.Timeout < 0 {
		return s.reject(ctx, op, transferID, fmt.Errorf("%w: negative timeout", ErrInvalidAmount))
	}

	acct, settlement, err := s.resolvePair(ctx, w.Account)
	if err != nil {
		return s.reject(ctx, op, transferID, err)
	}

	timeout := w.Timeout
	if timeout == 0 {
		timeout = s.config.DefaultWithdrawalTimeout
	}

	t := &transfer.Transfer{
		ID:              transferID,
		DebitAccountID:  acct.ID,
		CreditAccountID: settlement.ID,
		Amount:          w.Amount,
		Ledger:          acct.Ledger,
		Type:            transfer.TypeWithdrawal,
		State:           transfer.StatePending,
	}

	if err := s.guard.Claim(transferID, func() error { return s.insert(ctx, t, timeout) }); err != nil {
		return s.reject(ctx, op, transferID, err)
	}

	s.logger.Debug("withdrawal reserved",
		"transfer_id", transferID,
		"account_ref", w.Account.Ref,
		"amount", w.Amount,
		"expires_at", t.ExpiresAt,
	)
	s.plugins.EmitWithdrawalReserved(ctx, t)

	return nil
}

// CommitWithdrawal posts a pending withdrawal. It fails with
// ErrAlreadyCommitted or ErrAlreadyRolledBack when the transfer is final,
// including when it expired before the commit landed.
func (s *Service) CommitWithdrawal(ctx context.Context, transferID string) error {
	const op = "commit"

	tid, err := parseTransferID(transferID)
	if err != nil {
		return s.reject(ctx, op, transferID, err)
	}

	existing, err := s.getTransfer(ctx, tid)
	if err != nil {
		return s.reject(ctx, op, tid, err)
	}

	now := s.now()

	var (
		hook      transfer.DebitHook
		debitAsst *asset.Asset
		scheduled *webhook.Event
		posted    int64
	)
	if existing.EffectiveState(now) == transfer.StatePending {
		hook, debitAsst, err = s.debitHook(ctx, existing, now)
		if err != nil {
			return s.reject(ctx, op, tid, err)
		}
	}
	if hook != nil {
		inner := hook
		hook = func(a *account.Account, p int64) *webhook.Event {
			scheduled, posted = inner(a, p), p
			return scheduled
		}
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	t, err := s.store.PostTransfer(opCtx, tid, now, hook)
	if err != nil {
		return s.reject(ctx, op, tid, WrapStoreError("post transfer", err))
	}

	s.logger.Debug("withdrawal committed",
		"transfer_id", tid,
		"amount", t.Amount,
	)
	s.plugins.EmitWithdrawalCommitted(ctx, t)

	if scheduled != nil {
		s.logger.Warn("liquidity low",
			"event_id", scheduled.ID.String(),
			"type", scheduled.Type,
			"account_ref", scheduled.Data["id"],
			"balance", types.FormatSigned(posted, debitAsst.Scale),
		)
		s.plugins.EmitLiquidityLow(ctx, scheduled)
	}

	return nil
}

// RollbackWithdrawal voids a pending withdrawal and releases its
// reservation.
func (s *Service) RollbackWithdrawal(ctx context.Context, transferID string) error {
	const op = "rollback"

	tid, err := parseTransferID(transferID)
	if err != nil {
		return s.reject(ctx, op, transferID, err)
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	t, err := s.store.VoidTransfer(opCtx, tid, s.now())
	if err != nil {
		return s.reject(ctx, op, tid, WrapStoreError("void transfer", err))
	}

	s.logger.Debug("withdrawal rolled back",
		"transfer_id", tid,
		"amount", t.Amount,
	)
	s.plugins.EmitWithdrawalRolledBack(ctx, t)

	return nil
}

// ExpirePending voids every pending transfer whose expiry has passed and
// returns how many it voided. It is safe to run from several workers.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	start := s.now()
	total := 0

	for {
		opCtx, cancel := s.opCtx(ctx)
		n, err := s.store.ExpireTransfers(opCtx, start, s.config.ExpireBatchSize)
		cancel()

		total += n
		if err != nil {
			return total, WrapStoreError("expire transfers", err)
		}
		if n < s.config.ExpireBatchSize {
			break
		}
	}

	if total > 0 {
		elapsed := s.now().Sub(start)
		s.logger.Info("expired pending transfers",
			"count", total,
			"elapsed_ms", elapsed.Milliseconds(),
		)
		s.plugins.EmitTransfersExpired(ctx, total, elapsed)
	}

	return total, nil
}

// GetTransfer returns a transfer with expiry applied to its state. It is
// the authoritative answer after an ambiguous failure.
func (s *Service) GetTransfer(ctx context.Context, transferID string) (*transfer.Transfer, error) {
	tid, err := parseTransferID(transferID)
	if err != nil {
		return nil, err
	}

	t, err := s.getTransfer(ctx, tid)
	if err != nil {
		return nil, err
	}

	t.State = t.EffectiveState(s.now())
	return t, nil
}

// QueryTransfers lists transfers matching opts with expiry applied.
func (s *Service) QueryTransfers(ctx context.Context, opts transfer.QueryOpts) ([]*transfer.Transfer, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	now := s.now()
	list, err := s.store.QueryTransfers(opCtx, opts, now)
	if err != nil {
		return nil, WrapStoreError("query transfers", err)
	}

	for _, t := range list {
		t.State = t.EffectiveState(now)
	}
	return list, nil
}

// ──────────────────────────────────────────────────
// Balances
// ──────────────────────────────────────────────────

// Balance returns the running totals of the account named by ref.
func (s *Service) Balance(ctx context.Context, ref AccountRef) (account.Balance, error) {
	a, err := s.GetAccount(ctx, ref.Ref, ref.Type)
	if err != nil {
		return account.Balance{}, err
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	b, err := s.store.Balance(opCtx, a.ID, s.now())
	return b, WrapStoreError("balance", err)
}

// GetBalance returns the posted balance.
func (s *Service) GetBalance(ctx context.Context, ref AccountRef) (int64, error) {
	b, err := s.Balance(ctx, ref)
	return b.Posted(), err
}

// GetAvailable returns the posted balance minus pending debit reservations.
func (s *Service) GetAvailable(ctx context.Context, ref AccountRef) (int64, error) {
	b, err := s.Balance(ctx, ref)
	return b.Available(), err
}

// GetTotalReceived returns the lifetime posted credits.
func (s *Service) GetTotalReceived(ctx context.Context, ref AccountRef) (uint64, error) {
	b, err := s.Balance(ctx, ref)
	return b.TotalReceived(), err
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (s *Service) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

// resolvePair returns the liquidity account named by ref and the settlement
// account of its ledger.
func (s *Service) resolvePair(ctx context.Context, ref AccountRef) (*account.Account, *account.Account, error) {
	acct, err := s.GetAccount(ctx, ref.Ref, ref.Type)
	if err != nil {
		return nil, nil, err
	}

	settlement, err := s.CreateSettlementAccount(ctx, acct.Ledger)
	if err != nil {
		return nil, nil, err
	}
	if settlement.ID == acct.ID {
		return nil, nil, ErrSameAccount
	}

	return acct, settlement, nil
}

// insert stamps t and hands it to the store. A positive timeout makes t
// expire that long after now.
func (s *Service) insert(ctx context.Context, t *transfer.Transfer, timeout time.Duration) error {
	now := s.now()
	t.Entity = types.NewEntityAt(now)
	if timeout > 0 {
		exp := now.Add(timeout).UTC()
		t.ExpiresAt = &exp
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return WrapStoreError("create transfer", s.store.CreateTransfer(ctx, t, now))
}

func (s *Service) getTransfer(ctx context.Context, tid string) (*transfer.Transfer, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	t, err := s.store.GetTransfer(ctx, tid)
	return t, WrapStoreError("get transfer", err)
}

// debitHook resolves the liquidity hook for the debit side of t before the
// store's unit of work begins.
func (s *Service) debitHook(ctx context.Context, t *transfer.Transfer, now time.Time) (transfer.DebitHook, *asset.Asset, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	acct, err := s.store.GetAccountByID(opCtx, t.DebitAccountID)
	if err != nil {
		return nil, nil, WrapStoreError("get debit account", err)
	}
	a, err := s.store.GetAssetByLedger(opCtx, t.Ledger)
	if err != nil {
		return nil, nil, WrapStoreError("get asset", err)
	}

	hook, err := s.monitor.Hook(opCtx, acct, a, now)
	if err != nil {
		return nil, nil, err
	}
	return hook, a, nil
}

// reject reports domain errors to plugins and returns err unchanged.
func (s *Service) reject(ctx context.Context, op, transferID string, err error) error {
	if IsDomainError(err) {
		s.plugins.EmitTransferRejected(ctx, op, transferID, err)
	} else {
		s.logger.Error("transfer operation failed",
			"op", op,
			"transfer_id", transferID,
			"error", err,
		)
	}
	return err
}

func parseTransferID(raw string) (string, error) {
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: transfer %q", ErrInvalidID, raw)
	}
	return u.String(), nil
}

func validateTransfer(raw string, amount uint64) (string, error) {
	tid, err := parseTransferID(raw)
	if err != nil {
		return "", err
	}
	if amount == 0 {
		return "", ErrAmountZero
	}
	if amount > math.MaxInt64 {
		return "", ErrInvalidAmount
	}
	return tid, nil
}
