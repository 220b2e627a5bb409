package extension

import (
	"time"

	"github.com/xraph/accounting"
	"github.com/xraph/accounting/plugin"
	"github.com/xraph/accounting/store"
)

// Option configures the accounting Forge extension.
type Option func(*Extension)

// WithStore sets the store for the accounting engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithServiceOption passes an accounting.Option through to the engine.
func WithServiceOption(opt accounting.Option) Option {
	return func(e *Extension) {
		e.serviceOpts = append(e.serviceOpts, opt)
	}
}

// WithPlugin registers an accounting plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.serviceOpts = append(e.serviceOpts, accounting.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithSweepInterval sets how often expired withdrawals are voided.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}

// WithDefaultWithdrawalTimeout sets the timeout of withdrawals created
// without one.
func WithDefaultWithdrawalTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.DefaultWithdrawalTimeout = d }
}
