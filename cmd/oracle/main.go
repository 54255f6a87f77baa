package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"swapOracle/internal/api"
	"swapOracle/internal/chain"
	"swapOracle/internal/config"
	"swapOracle/internal/decoder"
	"swapOracle/internal/fetcher"
	"swapOracle/internal/gateway"
	"swapOracle/internal/indexer"
	"swapOracle/internal/ledger"
	"swapOracle/internal/metrics"
	"swapOracle/internal/oracle"
	"swapOracle/internal/storage"
	"swapOracle/internal/storage/memory"
	"swapOracle/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "oracle",
		Short:        "Cross-chain HTLC swap oracle",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the oracle round loop",
		RunE:  runOracle,
	}

	runCmd.Flags().String("store", config.StoreMemory, "store backend (memory, postgres)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().Bool("migrate", true, "apply embedded migrations on start")
	runCmd.Flags().String("authority", "", "bridge authority written at start when the store has no settings")
	runCmd.Flags().String("custody", "", "custody account written at start when the store has no settings")
	runCmd.Flags().Duration("interval", 6*time.Second, "round interval")
	runCmd.Flags().Uint64("max-rounds", 0, "stop after this many rounds, 0 means forever")
	runCmd.Flags().Duration("fetch-timeout", 100*time.Second, "fetch deadline")
	runCmd.Flags().Int64("max-body", 32<<20, "maximum response body size in bytes")
	runCmd.Flags().Int("chunk-size", 1024, "response read chunk size in bytes")
	runCmd.Flags().String("user-agent", "swap-oracle", "User-Agent header of fetch requests")
	runCmd.Flags().String("contract", "", "only decode logs emitted by this contract")
	runCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	runCmd.Flags().String("notifications", "./data/notifications.jsonl", "ledger notifications JSONL, empty disables")
	runCmd.Flags().String("decode-errors", "./data/decode_errors.jsonl", "decode errors JSONL, empty disables")
	runCmd.Flags().String("api-listen", "", "HTTP API listen address, empty disables")
	runCmd.Flags().Bool("api-admin", false, "mount /admin routes, authenticated by the authority's signature")
	runCmd.Flags().Duration("api-admin-max-skew", 5*time.Minute, "accepted age of a signed admin request")
	runCmd.Flags().String("metrics-namespace", "swap_oracle", "prometheus metric namespace")
	runCmd.Flags().Bool("scheduler.enabled", false, "queue provider jobs from the remote chain head")
	runCmd.Flags().String("scheduler.rpc", "", "remote chain RPC URL used for the head and prechecks")
	runCmd.Flags().String("scheduler.provider-url", "", "provider URL the queued jobs post to, defaults to the RPC URL")
	runCmd.Flags().StringSlice("scheduler.address", nil, "bridge contract addresses (comma-separated)")
	runCmd.Flags().StringSlice("scheduler.topic0", nil, "topic0 filters (comma-separated), defaults to the bridge events")
	runCmd.Flags().Uint64("scheduler.from", 0, "first remote block to queue")
	runCmd.Flags().Uint64("scheduler.confirmations", 12, "blocks to stay behind the remote head")
	runCmd.Flags().Uint64("scheduler.batch-size", 1000, "blocks per queued job")
	runCmd.Flags().String("scheduler.checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("scheduler.checkpoint-enabled", true, "persist the scheduler checkpoint")
	runCmd.Flags().Bool("scheduler.precheck", true, "skip ranges without bridge logs")
	runCmd.Flags().Int("scheduler.max-retries", 5, "max retries for remote head reads")
	runCmd.Flags().Duration("scheduler.retry-backoff", 500*time.Millisecond, "base retry backoff")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a saved explorer or provider response into swap events",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("in", "", "response body file")
	decodeCmd.Flags().String("kind", "explorer", "response dialect (explorer, provider)")
	decodeCmd.Flags().String("out", "./data/swap_events.jsonl", "output swap events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("contract", "", "only decode logs emitted by this contract")
	decodeCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	addAdminCommands(root)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runOracle(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(cfg.MetricsNamespace)

	store, err := openStore(ctx, cfg.Store, cfg.PGDSN, cfg.Migrate)
	if err != nil {
		return err
	}
	defer store.Close()

	var notifier ledger.Notifier
	if cfg.Notifications != "" {
		notifier = storage.NewJSONLSink(cfg.Notifications)
	}
	var errSink oracle.DecodeErrorSink
	if cfg.DecodeErrors != "" {
		errSink = storage.NewJSONLSink(cfg.DecodeErrors)
	}

	events, err := decoder.NewHTLCDecoder(decoder.DecoderConfig{Contract: cfg.Contract, Topic0Map: cfg.Topic0Map})
	if err != nil {
		return err
	}

	l := ledger.New(store, nil, notifier, m, logger.Named("ledger"))
	o := oracle.New(
		store,
		fetcher.New(fetcher.Config{
			Timeout:     cfg.FetchTimeout,
			ChunkSize:   cfg.ChunkSize,
			MaxBodySize: cfg.MaxBodySize,
			UserAgent:   cfg.UserAgent,
		}, m, logger.Named("fetcher")),
		decoder.New(events, m, logger.Named("decoder")),
		gateway.New(logger.Named("gateway")),
		l,
		errSink,
		m,
		logger,
	)

	if cfg.Authority != "" || cfg.Custody != "" {
		if err := o.Init(ctx, cfg.Authority, cfg.Custody); err != nil {
			return fmt.Errorf("init settings: %w", err)
		}
	}

	var hooks []oracle.TickHook
	if cfg.Scheduler.Enabled {
		scheduler, closeChain, err := newScheduler(ctx, cfg, o, m, logger.Named("scheduler"))
		if err != nil {
			return err
		}
		defer closeChain()
		hooks = append(hooks, scheduler)
	}

	if cfg.APIListen != "" {
		deps := api.Deps{
			Swaps:        l,
			Heights:      store,
			Identities:   store,
			Metrics:      m,
			Logger:       logger.Named("api"),
			AdminMaxSkew: cfg.APIAdminMaxSkew,
		}
		if cfg.APIAdmin {
			deps.Admin = o
		}
		server := api.NewServer(deps)
		go func() {
			if err := server.ListenAndServe(ctx, cfg.APIListen); err != nil {
				logger.Error("api stopped", zap.Error(err))
			}
		}()
	}

	runner := oracle.NewRunner(oracle.RunConfig{
		Interval:  cfg.Interval,
		MaxRounds: cfg.MaxRounds,
	}, o, store, hooks, m, logger)

	logger.Info("oracle start",
		zap.String("store", cfg.Store),
		zap.Duration("interval", cfg.Interval),
		zap.Duration("fetch_timeout", cfg.FetchTimeout),
		zap.String("contract", cfg.Contract),
		zap.Bool("scheduler", cfg.Scheduler.Enabled),
		zap.String("api", cfg.APIListen),
		zap.Bool("api_admin", cfg.APIAdmin),
		zap.String("notifications", cfg.Notifications),
	)

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("oracle stopped")
	return nil
}

func newScheduler(ctx context.Context, cfg config.Config, o *oracle.Oracle, m *metrics.Metrics, logger *zap.Logger) (*indexer.Scheduler, func(), error) {
	settings, err := o.Settings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler needs bridge settings: %w", err)
	}

	addresses, err := indexer.ParseAddresses(cfg.Scheduler.Addresses)
	if err != nil {
		return nil, nil, err
	}
	topic0, err := indexer.ParseTopic0(cfg.Scheduler.Topic0)
	if err != nil {
		return nil, nil, err
	}

	chainClient, err := chain.NewClient(ctx, cfg.Scheduler.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rpc: %w", err)
	}
	if chainID, err := chainClient.GetChainID(ctx); err == nil {
		logger.Info("remote chain", zap.String("chain_id", chainID.String()))
	} else {
		logger.Warn("get chain id failed", zap.Error(err))
	}

	scheduler, err := indexer.NewScheduler(indexer.SchedulerConfig{
		ProviderURL:       cfg.Scheduler.ProviderURL,
		Headers:           cfg.Scheduler.ProviderHeaders,
		Authority:         settings.Authority,
		Addresses:         addresses,
		Topic0:            topic0,
		FromBlock:         cfg.Scheduler.FromBlock,
		Confirmations:     cfg.Scheduler.Confirmations,
		BatchSize:         cfg.Scheduler.BatchSize,
		CheckpointPath:    cfg.Scheduler.Checkpoint,
		CheckpointEnabled: cfg.Scheduler.CheckpointEnabled,
		Precheck:          cfg.Scheduler.Precheck,
		MaxRetries:        cfg.Scheduler.MaxRetries,
		RetryBackoff:      cfg.Scheduler.RetryBackoff,
	}, chainClient, o, m, logger)
	if err != nil {
		chainClient.Close()
		return nil, nil, err
	}
	return scheduler, chainClient.Close, nil
}

func openStore(ctx context.Context, backend, dsn string, migrate bool) (storage.Store, error) {
	switch backend {
	case config.StoreMemory:
		return memory.NewStore(), nil
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := postgres.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return postgres.NewStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown store %q", backend)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
