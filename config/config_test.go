package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("Backend = %q, want memory", cfg.Backend)
	}
	if cfg.Engine.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval = %v, want 30s", cfg.Engine.SweepInterval)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "ledgerd.yaml", `
backend: postgres
postgres:
  url: postgres://localhost/accounting
kafka:
  brokers: [a:9092, b:9092]
peer_thresholds:
  peer-1: 500
engine:
  sweep_interval: 5s
  default_withdrawal_timeout: 1m
`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != BackendPostgres || cfg.Postgres.URL != "postgres://localhost/accounting" {
		t.Errorf("postgres config = %q %q", cfg.Backend, cfg.Postgres.URL)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Brokers = %v, want 2 entries", cfg.Kafka.Brokers)
	}
	if cfg.PeerThresholds["peer-1"] != 500 {
		t.Errorf("peer-1 threshold = %d, want 500", cfg.PeerThresholds["peer-1"])
	}
	if cfg.Engine.SweepInterval != 5*time.Second || cfg.Engine.DefaultWithdrawalTimeout != time.Minute {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	// Untouched fields keep their defaults.
	if cfg.Engine.OperationTimeout != 10*time.Second {
		t.Errorf("OperationTimeout = %v, want 10s", cfg.Engine.OperationTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "ledgerd.yaml", "backend: sqlite\nsqlite:\n  path: from-file.db\n")
	t.Setenv("ACCOUNTING_SQLITE_PATH", "from-env.db")
	t.Setenv("ACCOUNTING_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ACCOUNTING_SWEEP_INTERVAL", "2s")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SQLite.Path != "from-env.db" {
		t.Errorf("SQLite.Path = %q, want from-env.db", cfg.SQLite.Path)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Engine.SweepInterval != 2*time.Second {
		t.Errorf("SweepInterval = %v, want 2s", cfg.Engine.SweepInterval)
	}
}

func TestDotEnv(t *testing.T) {
	envFile := writeFile(t, ".env", "ACCOUNTING_TIGERBEETLE_CLUSTER_ID=7\n")
	t.Setenv("ACCOUNTING_BACKEND", "tigerbeetle")
	// godotenv sets variables on the process; register cleanup for it.
	t.Setenv("ACCOUNTING_TIGERBEETLE_CLUSTER_ID", "")
	os.Unsetenv("ACCOUNTING_TIGERBEETLE_CLUSTER_ID")

	cfg, err := Load("", envFile)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TigerBeetle.ClusterID != 7 {
		t.Errorf("ClusterID = %d, want 7", cfg.TigerBeetle.ClusterID)
	}

	if _, err := Load("", filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing env file: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"memory", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Backend = "oracle" }, true},
		{"postgres without url", func(c *Config) { c.Backend = BackendPostgres }, true},
		{"tigerbeetle without sidecar", func(c *Config) {
			c.Backend = BackendTigerBeetle
			c.TigerBeetle.SidecarPath = ""
		}, true},
		{"zero relay interval", func(c *Config) { c.Relay.Interval = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBadEnvDuration(t *testing.T) {
	t.Setenv("ACCOUNTING_OPERATION_TIMEOUT", "soon")
	if _, err := Load("", ""); err == nil {
		t.Error("Load() accepted an invalid duration")
	}
}
