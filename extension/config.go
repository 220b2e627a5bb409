package extension

import "time"

// Config holds the accounting extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.accounting" or "accounting" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DefaultWithdrawalTimeout applies to withdrawals created without a
	// timeout (default: 30s).
	DefaultWithdrawalTimeout time.Duration `json:"default_withdrawal_timeout" mapstructure:"default_withdrawal_timeout" yaml:"default_withdrawal_timeout"`

	// OperationTimeout bounds every backend call (default: 10s).
	OperationTimeout time.Duration `json:"operation_timeout" mapstructure:"operation_timeout" yaml:"operation_timeout"`

	// SweepInterval is how often expired withdrawals are voided in the
	// background (default: 30s). Negative disables the sweep.
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// ExpireBatchSize caps how many transfers one sweep batch voids
	// (default: 500).
	ExpireBatchSize int `json:"expire_batch_size" mapstructure:"expire_batch_size" yaml:"expire_batch_size"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
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
