package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoadConfig resolves a Config from, in priority order: (1) built-in
// defaults, (2) an optional TOML file at paths.Main, (3) COORDINATOR_
// -prefixed environment variables, then validates the result.
func LoadConfig(paths ConfigPaths) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if paths.Main != "" {
		if err := loadMainConfig(v, paths.Main); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	v.SetEnvPrefix("COORDINATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.configPath = paths.Main

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func loadMainConfig(v *viper.Viper, configPath string) error {
	v.SetConfigFile(configPath)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", configPath)
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}
	return nil
}

// setDefaults installs DefaultConfig's values as viper defaults so
// that any field absent from both the file and the environment still
// resolves to a sane value.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("node_id", d.NodeId)

	v.SetDefault("server.grpc_address", d.Server.GRPCAddress)
	v.SetDefault("server.max_recv_msg_size", d.Server.MaxRecvMsgSize)
	v.SetDefault("server.max_send_msg_size", d.Server.MaxSendMsgSize)

	v.SetDefault("locks.default_duration", d.Locks.DefaultDuration)
	v.SetDefault("locks.max_duration", d.Locks.MaxDuration)
	v.SetDefault("locks.max_concurrent_per_participant", d.Locks.MaxConcurrentPerParticipant)
	v.SetDefault("locks.cleanup_interval", d.Locks.CleanupInterval)

	v.SetDefault("fx.cache_size", d.Fx.CacheSize)
	v.SetDefault("fx.cache_ttl", d.Fx.CacheTTL)
	v.SetDefault("fx.max_spread_bps", d.Fx.MaxSpreadBps)
	v.SetDefault("fx.max_deviation_bps", d.Fx.MaxDeviationBps)
	v.SetDefault("fx.rate_lock_ttl", d.Fx.RateLockTTL)
	v.SetDefault("fx.max_rate_locks_per_participant", d.Fx.MaxRateLocksPerParticipant)
	v.SetDefault("fx.rate_lock_reap_interval", d.Fx.RateLockReapInterval)

	v.SetDefault("participants.heartbeat_interval", d.Participants.HeartbeatInterval)
	v.SetDefault("participants.heartbeat_timeout", d.Participants.HeartbeatTimeout)

	v.SetDefault("processor.lock_poll_interval", d.Processor.LockPollInterval)
	v.SetDefault("processor.lock_acquire_deadline", d.Processor.LockAcquireDeadline)

	v.SetDefault("ledger.backend", d.Ledger.Backend)
	v.SetDefault("ledger.data_path", d.Ledger.DataPath)

	v.SetDefault("logging.quiet", d.Logging.Quiet)

	v.SetDefault("drain_timeout", d.DrainTimeout)
}

// DefaultConfig returns the coordinator's out-of-the-box configuration:
// an in-memory ledger, 30s lock and rate-lock lifetimes, and a
// same-host gRPC listener.
func DefaultConfig() *Config {
	return &Config{
		NodeId: "coordinator-1",
		Server: ServerConfig{
			GRPCAddress:    "127.0.0.1:50061",
			MaxRecvMsgSize: 4 * 1024 * 1024,
			MaxSendMsgSize: 4 * 1024 * 1024,
		},
		Locks: LocksConfig{
			DefaultDuration:             30 * time.Second,
			MaxDuration:                 60 * time.Second,
			MaxConcurrentPerParticipant: 1000,
			CleanupInterval:             time.Second,
		},
		Fx: FxConfig{
			CacheSize:                  10000,
			CacheTTL:                   100 * time.Millisecond,
			MaxSpreadBps:               200,
			MaxDeviationBps:            100,
			RateLockTTL:                30 * time.Second,
			MaxRateLocksPerParticipant: 100,
			RateLockReapInterval:       time.Second,
		},
		Participants: ParticipantsConfig{
			HeartbeatInterval: 5 * time.Second,
			HeartbeatTimeout:  15 * time.Second,
		},
		Processor: ProcessorConfig{
			LockPollInterval:    100 * time.Millisecond,
			LockAcquireDeadline: 10 * time.Second,
		},
		Ledger: LedgerConfig{
			Backend: "memory",
		},
		Logging:      LoggingConfig{Quiet: false},
		DrainTimeout: 30 * time.Second,
	}
}
