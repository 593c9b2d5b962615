// Package config defines the settlement coordinator's configuration
// surface and the viper-backed pipeline that resolves it from
// defaults, an optional config file, and environment variables.
package config

import (
	"fmt"
	"time"
)

// ServerConfig holds the coordinator's front-door listener settings.
type ServerConfig struct {
	GRPCAddress    string `mapstructure:"grpc_address"`
	MaxRecvMsgSize int    `mapstructure:"max_recv_msg_size"`
	MaxSendMsgSize int    `mapstructure:"max_send_msg_size"`
}

// LocksConfig mirrors internal/locks.Config for file/env configurability.
type LocksConfig struct {
	DefaultDuration             time.Duration `mapstructure:"default_duration"`
	MaxDuration                 time.Duration `mapstructure:"max_duration"`
	CleanupInterval             time.Duration `mapstructure:"cleanup_interval"`
	MaxConcurrentPerParticipant int           `mapstructure:"max_concurrent_per_participant"`
}

// FxConfig holds the FX engine's tunables.
type FxConfig struct {
	CacheSize          int           `mapstructure:"cache_size"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	MaxSpreadBps       int           `mapstructure:"max_spread_bps"`
	MaxDeviationBps    int           `mapstructure:"max_deviation_bps"`
	RateLockTTL        time.Duration `mapstructure:"rate_lock_ttl"`
	MaxRateLocksPerParticipant int   `mapstructure:"max_rate_locks_per_participant"`
	RateLockReapInterval time.Duration `mapstructure:"rate_lock_reap_interval"`
}

// ParticipantsConfig holds the participant registry's tunables.
type ParticipantsConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
}

// ProcessorConfig holds the settlement processor's tunables.
type ProcessorConfig struct {
	LockPollInterval    time.Duration `mapstructure:"lock_poll_interval"`
	LockAcquireDeadline time.Duration `mapstructure:"lock_acquire_deadline"`
}

// LedgerConfig selects and configures the durable ledger backend.
// Backend is one of "memory", "pebble", "sqlite".
type LedgerConfig struct {
	Backend  string `mapstructure:"backend"`
	DataPath string `mapstructure:"data_path"`
}

// LoggingConfig controls the coordinator's log output.
type LoggingConfig struct {
	Quiet bool `mapstructure:"quiet"`
}

// Config is the complete, resolved configuration for a coordinator
// process.
type Config struct {
	NodeId       string             `mapstructure:"node_id"`
	Server       ServerConfig       `mapstructure:"server"`
	Locks        LocksConfig        `mapstructure:"locks"`
	Fx           FxConfig           `mapstructure:"fx"`
	Participants ParticipantsConfig `mapstructure:"participants"`
	Processor    ProcessorConfig    `mapstructure:"processor"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	DrainTimeout time.Duration      `mapstructure:"drain_timeout"`

	configPath string
}

// ConfigPaths names the optional files LoadConfig may read.
type ConfigPaths struct {
	// Main is the path to the main TOML config file. Empty skips file
	// loading entirely and relies on defaults plus environment overrides.
	Main string
}

// ConfigPath returns the file this Config was loaded from, or "" if it
// was built entirely from defaults and environment variables.
func (c *Config) ConfigPath() string { return c.configPath }

// Validate checks the resolved configuration for internally
// inconsistent or out-of-range values.
func Validate(c *Config) error {
	if c.NodeId == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.Server.GRPCAddress == "" {
		return fmt.Errorf("server.grpc_address is required")
	}
	if c.Locks.MaxConcurrentPerParticipant <= 0 {
		return fmt.Errorf("locks.max_concurrent_per_participant must be positive")
	}
	if c.Locks.DefaultDuration <= 0 || c.Locks.MaxDuration <= 0 {
		return fmt.Errorf("locks.default_duration and locks.max_duration must be positive")
	}
	if c.Locks.DefaultDuration > c.Locks.MaxDuration {
		return fmt.Errorf("locks.default_duration cannot exceed locks.max_duration")
	}
	if c.Fx.MaxSpreadBps <= 0 || c.Fx.MaxDeviationBps <= 0 {
		return fmt.Errorf("fx.max_spread_bps and fx.max_deviation_bps must be positive")
	}
	switch c.Ledger.Backend {
	case "memory":
	case "pebble", "sqlite":
		if c.Ledger.DataPath == "" {
			return fmt.Errorf("ledger.data_path is required for backend %q", c.Ledger.Backend)
		}
	default:
		return fmt.Errorf("ledger.backend must be one of memory, pebble, sqlite (got %q)", c.Ledger.Backend)
	}
	return nil
}
