package extension

import (
	"testing"
	"time"

	"github.com/xraph/accounting"
	"github.com/xraph/accounting/store/memory"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{SweepInterval: time.Minute})
	if cfg.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", cfg.SweepInterval)
	}
	if cfg.OperationTimeout != 10*time.Second {
		t.Errorf("OperationTimeout = %v, want 10s", cfg.OperationTimeout)
	}
	if cfg.ExpireBatchSize != 500 {
		t.Errorf("ExpireBatchSize = %d, want 500", cfg.ExpireBatchSize)
	}
}

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{OperationTimeout: 2 * time.Second}
	prog := Config{
		DisableMigrate:   true,
		OperationTimeout: 5 * time.Second,
		SweepInterval:    -1,
	}

	cfg := mergeConfigurations(yaml, prog)
	if !cfg.DisableMigrate {
		t.Error("DisableMigrate not carried over")
	}
	if cfg.OperationTimeout != 2*time.Second {
		t.Errorf("OperationTimeout = %v, want file value 2s", cfg.OperationTimeout)
	}
	if cfg.SweepInterval != -1 {
		t.Errorf("SweepInterval = %v, want programmatic -1", cfg.SweepInterval)
	}
	if cfg.DefaultWithdrawalTimeout != 30*time.Second {
		t.Errorf("DefaultWithdrawalTimeout = %v, want default 30s", cfg.DefaultWithdrawalTimeout)
	}
}

func TestServiceOptionsDisableSweep(t *testing.T) {
	e := New(WithSweepInterval(-time.Second), WithDisableMigrate())
	e.config = mergeWithDefaults(e.config)

	svc := accounting.New(memory.New(), e.serviceOptions()...)
	if got := svc.Config().SweepInterval; got != 0 {
		t.Errorf("SweepInterval = %v, want disabled", got)
	}
	if got := svc.Config().DefaultWithdrawalTimeout; got != 30*time.Second {
		t.Errorf("DefaultWithdrawalTimeout = %v, want 30s", got)
	}
}
