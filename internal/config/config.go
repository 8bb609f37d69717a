// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ClusterConfig holds consistent-hash ring and membership settings.
type ClusterConfig struct {
	SelfNode       string        `mapstructure:"self_node"`
	VirtualNodes   int           `mapstructure:"virtual_nodes"`
	MembershipPoll time.Duration `mapstructure:"membership_poll"`
	StaticNodes    []string      `mapstructure:"static_nodes"` // used when no external discovery is configured
}

// RelationalConfig holds the authoritative Postgres connection string.
type RelationalConfig struct {
	URL          string `mapstructure:"url"`
	MaxConns     int32  `mapstructure:"max_conns"`
	ConnAttempts int    `mapstructure:"conn_attempts"`
}

// DocumentConfig holds the legacy MongoDB connection settings. Leaving
// URI empty disables legacy reconciliation entirely.
type DocumentConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	Collection  string `mapstructure:"collection"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
}

// BusConfig holds the Redis Streams connection and consumer-group
// settings the event pipeline uses.
type BusConfig struct {
	URL               string        `mapstructure:"url"`
	Password          string        `mapstructure:"password"`
	DB                int           `mapstructure:"db"`
	EntitlementStream string        `mapstructure:"entitlement_stream"`
	JobCompleteStream string        `mapstructure:"job_complete_stream"`
	ChangeEventStream string        `mapstructure:"change_event_stream"`
	ConsumerGroup     string        `mapstructure:"consumer_group"`
	ClaimAfter        time.Duration `mapstructure:"claim_after"`
}

// PipelineConfig holds the processor pool's tunables.
type PipelineConfig struct {
	Workers   int           `mapstructure:"workers"`
	PollEvery time.Duration `mapstructure:"poll_every"`
	BatchSize int64         `mapstructure:"batch_size"`
}

// CapsConfig holds the per-job-type cost ceilings from spec §4.2,
// keyed by job type, with Default applying to any unlisted type.
type CapsConfig struct {
	ByType  map[string]int64 `mapstructure:"by_type"`
	Default int64            `mapstructure:"default"`
}

// LogConfig mirrors the teacher's zerolog setup knobs.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Config is the complete ledger service configuration.
type Config struct {
	Cluster     ClusterConfig    `mapstructure:"cluster"`
	Relational  RelationalConfig `mapstructure:"relational"`
	Document    DocumentConfig   `mapstructure:"document"`
	Bus         BusConfig        `mapstructure:"bus"`
	Pipeline    PipelineConfig   `mapstructure:"pipeline"`
	Caps        CapsConfig       `mapstructure:"caps"`
	IdleTimeout time.Duration    `mapstructure:"idle_timeout"`
	Log         LogConfig        `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cluster.virtual_nodes", 160)
	v.SetDefault("cluster.membership_poll", "5s")
	v.SetDefault("relational.max_conns", 10)
	v.SetDefault("relational.conn_attempts", 5)
	v.SetDefault("document.max_pool_size", 50)
	v.SetDefault("bus.db", 0)
	v.SetDefault("bus.entitlement_stream", "entitlements.credits")
	v.SetDefault("bus.job_complete_stream", "jobs.complete")
	v.SetDefault("bus.change_event_stream", "")
	v.SetDefault("bus.consumer_group", "ledger-workers")
	v.SetDefault("bus.claim_after", "30s")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.poll_every", "500ms")
	v.SetDefault("pipeline.batch_size", 16)
	v.SetDefault("caps.default", 300_000)
	v.SetDefault("idle_timeout", "1h")
	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml (if present), environment variables, and
// the -config flag. This is the application-level loader and enforces
// the invariants a production deployment must satisfy: a relational
// store and bus must be configured, and this node must know its own
// cluster identity.
func LoadConfig() (*Config, error) {
	cfgFile := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	v := viper.New()
	v.SetConfigFile(*cfgFile)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if cfg.Relational.URL == "" {
		return nil, errors.New("relational.url is required")
	}
	if cfg.Bus.URL == "" {
		return nil, errors.New("bus.url is required")
	}
	if cfg.Cluster.SelfNode == "" {
		return nil, errors.New("cluster.self_node is required")
	}

	return &cfg, nil
}

// LoadConfigFrom loads configuration from the provided YAML path, for
// tests and local tooling. Behavior:
//   - If the file exists, it is parsed (viper) and values are used.
//   - If the file does not exist, env vars are used (prefer
//     TEST_RELATIONAL_URL then RELATIONAL_URL).
//   - It is lenient: it only requires relational.url, leaving the bus
//     and cluster identity optional so arithmetic/gateway-only test
//     setups don't need a full cluster config.
func LoadConfigFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config from %s: %w", path, err)
	}

	if env := os.Getenv("TEST_RELATIONAL_URL"); env != "" {
		cfg.Relational.URL = env
	} else if env := os.Getenv("RELATIONAL_URL"); env != "" && cfg.Relational.URL == "" {
		cfg.Relational.URL = env
	}

	if cfg.Relational.URL == "" {
		return nil, errors.New("relational.url is required (set TEST_RELATIONAL_URL, RELATIONAL_URL, or provide it in the YAML)")
	}

	return &cfg, nil
}
