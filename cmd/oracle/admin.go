package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"swapOracle/internal/config"
	"swapOracle/internal/decoder"
	"swapOracle/internal/gateway"
	"swapOracle/internal/ledger"
	"swapOracle/internal/model"
	"swapOracle/internal/oracle"
	"swapOracle/internal/storage/postgres"
)

func addAdminCommands(root *cobra.Command) {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the bridge authority and custody account",
		RunE: withAdmin(func(ctx context.Context, env adminEnv) error {
			return env.oracle.Init(ctx, env.cfg.Authority, env.cfg.Custody)
		}),
	}
	initCmd.Flags().String("authority", "", "bridge authority")
	initCmd.Flags().String("custody", "", "custody account")

	kickoffCmd := &cobra.Command{
		Use:   "kickoff",
		Short: "Queue a fetch job for the next round",
		RunE: withAdmin(func(ctx context.Context, env adminEnv) error {
			return env.oracle.Kickoff(ctx, env.cfg.Caller, env.cfg.Job)
		}),
	}
	kickoffCmd.Flags().String("caller", "", "account issuing the command")
	kickoffCmd.Flags().String("kind", "explorer", "job dialect (explorer, provider)")
	kickoffCmd.Flags().String("url", "", "request URL")
	kickoffCmd.Flags().String("body", "", "request body, sent as POST when set")
	kickoffCmd.Flags().String("body-file", "", "read the request body from a file")
	kickoffCmd.Flags().String("header", "", "request headers (comma-separated key=value)")

	killallCmd := &cobra.Command{
		Use:   "killall",
		Short: "Drop the queued fetch job",
		RunE: withAdmin(func(ctx context.Context, env adminEnv) error {
			return env.oracle.Killall(ctx, env.cfg.Caller)
		}),
	}
	killallCmd.Flags().String("caller", "", "account issuing the command")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print settings, counters and the queued job",
		RunE:  withAdmin(printStatus),
	}

	registerCmd := &cobra.Command{
		Use:   "register <descriptor> <account>",
		Short: "Bind a receiver identity to a local account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := decoder.ParseReceiverIdentity(args[0])
			if err != nil {
				return err
			}
			return withAdmin(func(ctx context.Context, env adminEnv) error {
				if err := env.store.RegisterIdentity(ctx, identity, args[1]); err != nil {
					return err
				}
				env.logger.Info("identity registered", zap.String("identity", identity.Hex()), zap.String("account", args[1]))
				return nil
			})(cmd, args)
		},
	}

	creditCmd := &cobra.Command{
		Use:   "credit <account>",
		Short: "Mint local funds into an account",
		Args:  cobra.ExactArgs(1),
		RunE: withAdmin(func(ctx context.Context, env adminEnv) error {
			amount, err := env.flags.GetUint64("amount")
			if err != nil {
				return err
			}
			account := env.args[0]
			if err := env.store.Credit(ctx, account, amount); err != nil {
				return err
			}
			env.logger.Info("account credited", zap.String("account", account), zap.Uint64("amount", amount))
			return nil
		}),
	}
	creditCmd.Flags().Uint64("amount", 0, "amount in local units")

	for _, cmd := range []*cobra.Command{initCmd, kickoffCmd, killallCmd, statusCmd, registerCmd, creditCmd} {
		cmd.Flags().String("pg-dsn", "", "Postgres DSN")
		cmd.Flags().Bool("migrate", true, "apply embedded migrations first")
		cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
		root.AddCommand(cmd)
	}
}

type adminEnv struct {
	cfg    config.AdminConfig
	store  *postgres.Store
	oracle *oracle.Oracle
	logger *zap.Logger
	flags  *pflag.FlagSet
	args   []string
}

// withAdmin opens the postgres store and runs fn against an oracle that
// only serves admin commands.
func withAdmin(fn func(ctx context.Context, env adminEnv) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfgFile, _ := cmd.Flags().GetString("config")
		cfg, err := config.LoadAdmin(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		pool, err := postgres.NewPool(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if cfg.Migrate {
			if err := postgres.RunMigrations(ctx, pool); err != nil {
				return err
			}
		}

		store := postgres.NewStore(pool)
		l := ledger.New(store, nil, nil, nil, logger.Named("ledger"))
		o := oracle.New(store, nil, nil, gateway.New(logger.Named("gateway")), l, nil, nil, logger)

		return fn(ctx, adminEnv{cfg: cfg, store: store, oracle: o, logger: logger, flags: cmd.Flags(), args: args})
	}
}

type statusReport struct {
	Settings    *model.Settings `json:"settings"`
	SwapCount   uint64          `json:"swap_count"`
	LocalHeight uint64          `json:"local_height"`
	QueuedJob   *model.FetchJob `json:"queued_job"`
}

func printStatus(ctx context.Context, env adminEnv) error {
	var report statusReport

	settings, ok, err := env.store.Settings(ctx)
	if err != nil {
		return err
	}
	if ok {
		report.Settings = &settings
	}
	if report.SwapCount, err = env.store.SwapCount(ctx); err != nil {
		return err
	}
	if report.LocalHeight, err = env.store.LocalHeight(ctx); err != nil {
		return err
	}
	if report.QueuedJob, err = env.store.PeekJob(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}
