package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/accounting/account"
	"github.com/xraph/accounting/transfer"
	"github.com/xraph/accounting/webhook"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and dispatches hooks to them.
// Implemented hook interfaces are cached at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                 []OnInit
	onShutdown             []OnShutdown
	onAccountCreated       []OnAccountCreated
	onDepositPosted        []OnDepositPosted
	onWithdrawalReserved   []OnWithdrawalReserved
	onWithdrawalCommitted  []OnWithdrawalCommitted
	onWithdrawalRolledBack []OnWithdrawalRolledBack
	onTransfersExpired     []OnTransfersExpired
	onTransferRejected     []OnTransferRejected
	onLiquidityLow         []OnLiquidityLow
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnAccountCreated); ok {
		r.onAccountCreated = append(r.onAccountCreated, v)
		hooks = append(hooks, "OnAccountCreated")
	}
	if v, ok := p.(OnDepositPosted); ok {
		r.onDepositPosted = append(r.onDepositPosted, v)
		hooks = append(hooks, "OnDepositPosted")
	}
	if v, ok := p.(OnWithdrawalReserved); ok {
		r.onWithdrawalReserved = append(r.onWithdrawalReserved, v)
		hooks = append(hooks, "OnWithdrawalReserved")
	}
	if v, ok := p.(OnWithdrawalCommitted); ok {
		r.onWithdrawalCommitted = append(r.onWithdrawalCommitted, v)
		hooks = append(hooks, "OnWithdrawalCommitted")
	}
	if v, ok := p.(OnWithdrawalRolledBack); ok {
		r.onWithdrawalRolledBack = append(r.onWithdrawalRolledBack, v)
		hooks = append(hooks, "OnWithdrawalRolledBack")
	}
	if v, ok := p.(OnTransfersExpired); ok {
		r.onTransfersExpired = append(r.onTransfersExpired, v)
		hooks = append(hooks, "OnTransfersExpired")
	}
	if v, ok := p.(OnTransferRejected); ok {
		r.onTransferRejected = append(r.onTransferRejected, v)
		hooks = append(hooks, "OnTransferRejected")
	}
	if v, ok := p.(OnLiquidityLow); ok {
		r.onLiquidityLow = append(r.onLiquidityLow, v)
		hooks = append(hooks, "OnLiquidityLow")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in hooks and logs failures.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, fn func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, hooks *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *hooks
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitAccountCreated emits an account created event.
func (r *Registry) EmitAccountCreated(ctx context.Context, a *account.Account) {
	emit(ctx, r, "OnAccountCreated", snapshot(r, &r.onAccountCreated), func(p OnAccountCreated) error {
		return p.OnAccountCreated(ctx, a)
	})
}

// EmitDepositPosted emits a deposit posted event.
func (r *Registry) EmitDepositPosted(ctx context.Context, t *transfer.Transfer) {
	emit(ctx, r, "OnDepositPosted", snapshot(r, &r.onDepositPosted), func(p OnDepositPosted) error {
		return p.OnDepositPosted(ctx, t)
	})
}

// EmitWithdrawalReserved emits a withdrawal reserved event.
func (r *Registry) EmitWithdrawalReserved(ctx context.Context, t *transfer.Transfer) {
	emit(ctx, r, "OnWithdrawalReserved", snapshot(r, &r.onWithdrawalReserved), func(p OnWithdrawalReserved) error {
		return p.OnWithdrawalReserved(ctx, t)
	})
}

// EmitWithdrawalCommitted emits a withdrawal committed event.
func (r *Registry) EmitWithdrawalCommitted(ctx context.Context, t *transfer.Transfer) {
	emit(ctx, r, "OnWithdrawalCommitted", snapshot(r, &r.onWithdrawalCommitted), func(p OnWithdrawalCommitted) error {
		return p.OnWithdrawalCommitted(ctx, t)
	})
}

// EmitWithdrawalRolledBack emits a withdrawal rolled back event.
func (r *Registry) EmitWithdrawalRolledBack(ctx context.Context, t *transfer.Transfer) {
	emit(ctx, r, "OnWithdrawalRolledBack", snapshot(r, &r.onWithdrawalRolledBack), func(p OnWithdrawalRolledBack) error {
		return p.OnWithdrawalRolledBack(ctx, t)
	})
}

// EmitTransfersExpired emits a sweep result.
func (r *Registry) EmitTransfersExpired(ctx context.Context, count int, elapsed time.Duration) {
	emit(ctx, r, "OnTransfersExpired", snapshot(r, &r.onTransfersExpired), func(p OnTransfersExpired) error {
		return p.OnTransfersExpired(ctx, count, elapsed)
	})
}

// EmitTransferRejected emits a rejected transfer operation.
func (r *Registry) EmitTransferRejected(ctx context.Context, op, transferID string, err error) {
	emit(ctx, r, "OnTransferRejected", snapshot(r, &r.onTransferRejected), func(p OnTransferRejected) error {
		return p.OnTransferRejected(ctx, op, transferID, err)
	})
}

// EmitLiquidityLow emits a scheduled low-liquidity event.
func (r *Registry) EmitLiquidityLow(ctx context.Context, e *webhook.Event) {
	emit(ctx, r, "OnLiquidityLow", snapshot(r, &r.onLiquidityLow), func(p OnLiquidityLow) error {
		return p.OnLiquidityLow(ctx, e)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the transfer pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
