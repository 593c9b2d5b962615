package cli

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/settlecoord/coordinator/internal/config"
	"github.com/settlecoord/coordinator/internal/coordinator"
	"github.com/settlecoord/coordinator/internal/fx"
	"github.com/settlecoord/coordinator/internal/ledger"
	"github.com/settlecoord/coordinator/internal/logging"
	grpctransport "github.com/settlecoord/coordinator/internal/transport/grpc"
)

// serverCmd represents the server command (default action).
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the settlement coordinator daemon",
	Long: `Start the coordinatord server: the coordinator, which runs
settlements through the lock/FX/ledger pipeline and notifies participants
of the outcome, and a gRPC listener. No settlement service is registered
on the gRPC listener, so it does not accept settlement requests over the
network.`,
	Run: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.Run = runServer
}

func runServer(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadConfig(config.ConfigPaths{Main: configFile})
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger := logging.Default().Quiet(quiet || cfg.Logging.Quiet)

	sink, err := openLedgerSink(cfg.Ledger)
	if err != nil {
		log.Fatal("Failed to open ledger backend:", err)
	}

	aggCfg := fx.AggregatorConfig{MinProviders: 1, MaxDeviationBps: int64(cfg.Fx.MaxDeviationBps)}
	// No concrete market-data RateProvider ships with the coordinator
	// itself — a production deployment registers its own providers here
	// (e.g. a REST/websocket client against its banking network's rate
	// feed) before the aggregator can serve cross-currency settlements.
	aggregator := fx.NewAggregator(nil, aggCfg)

	fxEngine := fx.NewEngine(aggregator, fx.EngineConfig{
		Cache: fx.RateCacheConfig{
			DefaultTTL: cfg.Fx.CacheTTL,
			MaxEntries: cfg.Fx.CacheSize,
		},
		RateLock: fx.RateLockConfig{
			DefaultDuration:        cfg.Fx.RateLockTTL,
			MaxDuration:            cfg.Fx.RateLockTTL,
			MaxLocksPerParticipant: cfg.Fx.MaxRateLocksPerParticipant,
		},
		Aggregator:   aggCfg,
		MaxSpreadBps: int64(cfg.Fx.MaxSpreadBps),
		UseCache:     true,
	})

	coordCfg := coordinator.DefaultConfig()
	coordCfg.Locks.DefaultDuration = cfg.Locks.DefaultDuration
	coordCfg.Locks.MaxDuration = cfg.Locks.MaxDuration
	coordCfg.Locks.MaxConcurrentPerParticipant = cfg.Locks.MaxConcurrentPerParticipant
	coordCfg.Locks.CleanupInterval = cfg.Locks.CleanupInterval
	coordCfg.Participants.HeartbeatInterval = cfg.Participants.HeartbeatInterval
	coordCfg.Participants.HeartbeatTimeout = cfg.Participants.HeartbeatTimeout
	coordCfg.Processor.LockPollInterval = cfg.Processor.LockPollInterval
	coordCfg.Processor.LockAcquireDeadline = cfg.Processor.LockAcquireDeadline
	coordCfg.RateLockReapInterval = cfg.Fx.RateLockReapInterval
	coordCfg.DrainTimeout = cfg.DrainTimeout

	coord := coordinator.New(fxEngine, sink, logger, coordCfg)
	coord.Start()

	grpcCfg := grpctransport.DefaultServerConfig()
	grpcCfg.Address = cfg.Server.GRPCAddress
	grpcCfg.MaxRecvMsgSize = cfg.Server.MaxRecvMsgSize
	grpcCfg.MaxSendMsgSize = cfg.Server.MaxSendMsgSize

	srv, err := grpctransport.NewServer(grpcCfg, coord)
	if err != nil {
		log.Fatal("Failed to create gRPC server:", err)
	}
	if err := srv.StartAsync(); err != nil {
		log.Fatal("Failed to start gRPC server:", err)
	}

	if !quiet {
		fmt.Printf("coordinatord %s listening on %s (node %s, ledger backend %s)\n",
			rootCmd.Version, cfg.Server.GRPCAddress, cfg.NodeId, cfg.Ledger.Backend)
	}

	waitForShutdown()

	logger.Infof("shutting down")
	srv.Stop()
	coord.Stop()
}

// openLedgerSink builds the configured ledger.Sink backend.
func openLedgerSink(cfg config.LedgerConfig) (ledger.Sink, error) {
	switch cfg.Backend {
	case "pebble":
		return ledger.OpenPebbleSink(cfg.DataPath)
	case "sqlite":
		return ledger.OpenSQLiteSink(cfg.DataPath)
	default:
		return ledger.NewMemorySink(), nil
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
