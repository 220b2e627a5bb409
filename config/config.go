// Package config loads the ledgerd daemon configuration from a YAML file,
// an optional .env file and ACCOUNTING_* environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/xraph/accounting"
)

// Backends selectable with Config.Backend.
const (
	BackendMemory      = "memory"
	BackendSQLite      = "sqlite"
	BackendPostgres    = "postgres"
	BackendTigerBeetle = "tigerbeetle"
)

// Config is the daemon configuration.
type Config struct {
	// Backend selects the store (default: memory).
	Backend    string `yaml:"backend"`
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	SQLite      SQLite      `yaml:"sqlite"`
	Postgres    Postgres    `yaml:"postgres"`
	TigerBeetle TigerBeetle `yaml:"tigerbeetle"`
	Kafka       Kafka       `yaml:"kafka"`
	Relay       Relay       `yaml:"relay"`

	// PeerThresholds are the liquidity thresholds of peer accounts keyed
	// by account ref.
	PeerThresholds map[string]uint64 `yaml:"peer_thresholds"`

	Engine accounting.Config `yaml:"engine"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

type Postgres struct {
	URL string `yaml:"url"`
}

// TigerBeetle configures the clustered backend. The directory, asset
// catalog and outbox go to the sidecar: Postgres when SidecarURL is set,
// SQLite at SidecarPath otherwise.
type TigerBeetle struct {
	ClusterID   uint64   `yaml:"cluster_id"`
	Addresses   []string `yaml:"addresses"`
	SidecarURL  string   `yaml:"sidecar_url"`
	SidecarPath string   `yaml:"sidecar_path"`
}

// Kafka enables the outbox relay when Brokers is non-empty.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Relay struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Backend:    BackendMemory,
		ListenAddr: ":8080",
		LogLevel:   "info",
		SQLite:     SQLite{Path: "accounting.db"},
		TigerBeetle: TigerBeetle{
			Addresses:   []string{"3000"},
			SidecarPath: "accounting-sidecar.db",
		},
		Relay: Relay{
			Interval:  time.Second,
			BatchSize: 100,
		},
		Engine: accounting.DefaultConfig(),
	}
}

// Load reads path (skipped when empty), then envFile (skipped when it does
// not exist), then the process environment.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Validate checks that the selected backend is fully configured.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return errors.New("config: sqlite.path is required")
		}
	case BackendPostgres:
		if c.Postgres.URL == "" {
			return errors.New("config: postgres.url is required")
		}
	case BackendTigerBeetle:
		if len(c.TigerBeetle.Addresses) == 0 {
			return errors.New("config: tigerbeetle.addresses is required")
		}
		if c.TigerBeetle.SidecarURL == "" && c.TigerBeetle.SidecarPath == "" {
			return errors.New("config: tigerbeetle needs sidecar_url or sidecar_path")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.Relay.Interval <= 0 {
		return errors.New("config: relay.interval must be positive")
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = splitList(v)
		}
	}

	str("ACCOUNTING_BACKEND", &c.Backend)
	str("ACCOUNTING_LISTEN_ADDR", &c.ListenAddr)
	str("ACCOUNTING_LOG_LEVEL", &c.LogLevel)
	str("ACCOUNTING_SQLITE_PATH", &c.SQLite.Path)
	str("ACCOUNTING_POSTGRES_URL", &c.Postgres.URL)
	list("ACCOUNTING_TIGERBEETLE_ADDRESSES", &c.TigerBeetle.Addresses)
	str("ACCOUNTING_TIGERBEETLE_SIDECAR_URL", &c.TigerBeetle.SidecarURL)
	str("ACCOUNTING_TIGERBEETLE_SIDECAR_PATH", &c.TigerBeetle.SidecarPath)
	list("ACCOUNTING_KAFKA_BROKERS", &c.Kafka.Brokers)
	str("ACCOUNTING_KAFKA_TOPIC", &c.Kafka.Topic)

	if v, ok := lookup("ACCOUNTING_TIGERBEETLE_CLUSTER_ID"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: ACCOUNTING_TIGERBEETLE_CLUSTER_ID: %w", err)
		}
		c.TigerBeetle.ClusterID = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ACCOUNTING_SWEEP_INTERVAL", &c.Engine.SweepInterval},
		{"ACCOUNTING_DEFAULT_WITHDRAWAL_TIMEOUT", &c.Engine.DefaultWithdrawalTimeout},
		{"ACCOUNTING_OPERATION_TIMEOUT", &c.Engine.OperationTimeout},
		{"ACCOUNTING_RELAY_INTERVAL", &c.Relay.Interval},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
