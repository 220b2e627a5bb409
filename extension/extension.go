// Package extension provides the Forge extension adapter for the accounting
// engine.
//
// It implements the forge.Extension interface to integrate the engine
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.accounting" or
// "accounting" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/accounting"
	"github.com/xraph/accounting/store"
	"github.com/xraph/accounting/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "accounting"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Double-entry liquidity accounting engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the accounting engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config      Config
	service     *accounting.Service
	store       store.Store
	serviceOpts []accounting.Option
}

// New creates a new accounting Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Service returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Service() *accounting.Service { return e.service }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.service = accounting.New(e.store, e.serviceOptions()...)

	return vessel.Provide(fapp.Container(), func() (*accounting.Service, error) {
		return e.service, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.service == nil {
		return errors.New("accounting: extension not initialized")
	}

	if err := e.service.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.service != nil {
		if err := e.service.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("accounting: store not initialized")
	}
	return e.store.Ping(ctx)
}

// serviceOptions constructs accounting.Option values from the resolved
// config. Pass-through options come last and win.
func (e *Extension) serviceOptions() []accounting.Option {
	sweep := max(e.config.SweepInterval, 0)
	opts := []accounting.Option{
		accounting.WithConfig(accounting.Config{
			DefaultWithdrawalTimeout: e.config.DefaultWithdrawalTimeout,
			OperationTimeout:         e.config.OperationTimeout,
			SweepInterval:            sweep,
			ExpireBatchSize:          e.config.ExpireBatchSize,
		}),
		accounting.WithAutoMigrate(!e.config.DisableMigrate),
	}
	return append(opts, e.serviceOpts...)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("accounting: configuration is required but not found in config files; " +
				"ensure 'extensions.accounting' or 'accounting' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("accounting: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("default_withdrawal_timeout", e.config.DefaultWithdrawalTimeout),
		forge.F("operation_timeout", e.config.OperationTimeout),
		forge.F("sweep_interval", e.config.SweepInterval),
		forge.F("expire_batch_size", e.config.ExpireBatchSize),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.accounting", "accounting"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("accounting: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("accounting: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.DefaultWithdrawalTimeout == 0 {
		cfg.DefaultWithdrawalTimeout = defaults.DefaultWithdrawalTimeout
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.ExpireBatchSize == 0 {
		cfg.ExpireBatchSize = defaults.ExpireBatchSize
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if yamlConfig.DefaultWithdrawalTimeout == 0 {
		yamlConfig.DefaultWithdrawalTimeout = programmaticConfig.DefaultWithdrawalTimeout
	}
	if yamlConfig.OperationTimeout == 0 {
		yamlConfig.OperationTimeout = programmaticConfig.OperationTimeout
	}
	if yamlConfig.SweepInterval == 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}
	if yamlConfig.ExpireBatchSize == 0 {
		yamlConfig.ExpireBatchSize = programmaticConfig.ExpireBatchSize
	}
	return mergeWithDefaults(yamlConfig)
}
