package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ohcarioca/ai-investor-v2-sub001/internal/aggregator"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/cache"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/config"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/httpx"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/pipeline"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/ratelimit"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/server"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/settlement"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/tools"
	"github.com/ohcarioca/ai-investor-v2-sub001/internal/version"
)

// Runner owns the CLI entry point.
type Runner struct {
	flags config.GlobalFlags
}

func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) Run(args []string) int {
	root := r.newRootCommand()
	root.SetArgs(args)
	root.SilenceUsage = true
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func (r *Runner) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.AppName,
		Short: "Swap quote-to-settlement pipeline service",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Local development convenience; a missing .env is not an error.
			_ = godotenv.Load()
		},
	}
	cmd.PersistentFlags().SetNormalizeFunc(normalizeFlagName)
	cmd.PersistentFlags().StringVarP(&r.flags.ConfigPath, "config", "c", "", "path to config.yaml")
	cmd.PersistentFlags().StringVar(&r.flags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&r.flags.Timeout, "timeout", "", "upstream request timeout, e.g. 10s")

	cmd.AddCommand(r.newServeCommand())
	cmd.AddCommand(r.newSettlementsCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func (r *Runner) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP tool-dispatch service",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(r.flags)
			if err != nil {
				return err
			}
			log, err := newLogger(settings.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			wired, err := wire(settings, log)
			if err != nil {
				return err
			}
			defer wired.close()

			srv := server.New(server.Options{
				Addr:         settings.ListenAddr,
				Dispatcher:   wired.dispatcher,
				Pipeline:     wired.pipe,
				QuoteCache:   wired.quoteCache,
				Limiter:      wired.limiter,
				QuoteTTL:     settings.QuoteTTL,
				AllowOrigins: settings.AllowOrigins,
				Log:          log,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				log.Info("shutting down", zap.String("signal", sig.String()))
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&r.flags.ListenAddr, "listen", "", "listen address, e.g. :8080")
	cmd.Flags().StringVar(&r.flags.LedgerURL, "ledger-url", "", "settlement ledger webhook URL")
	cmd.Flags().StringVar(&r.flags.RedisAddr, "redis-addr", "", "redis address for the shared rate limiter")
	cmd.Flags().StringVar(&r.flags.ApprovalGrant, "approval-policy", "", "approval grant policy: unlimited or exact_margin")
	return cmd
}

func (r *Runner) newSettlementsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settlements",
		Short: "Inspect and redrive settlement ledger deliveries",
	}

	list := &cobra.Command{
		Use:   "list [status]",
		Short: "List stored settlement records, optionally by delivery status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(r.flags)
			if err != nil {
				return err
			}
			store, err := settlement.OpenStore(settings.SettlementStorePath, settings.SettlementLockPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			status := ""
			if len(args) == 1 {
				status = args[0]
			}
			records, err := store.List(status, 50)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s->%s\t%s\tattempts=%d\n",
					rec.Record.ID, rec.DeliveryStatus,
					rec.Record.TokenIn, rec.Record.TokenOut,
					rec.Record.TxHash, rec.Attempts)
			}
			return nil
		},
	}

	redeliver := &cobra.Command{
		Use:   "redeliver <record-id>",
		Short: "Retry ledger delivery for a stored settlement record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(r.flags)
			if err != nil {
				return err
			}
			log, err := newLogger(settings.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			store, err := settlement.OpenStore(settings.SettlementStorePath, settings.SettlementLockPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			notifier := settlement.NewNotifier(settings.LedgerURL, settlement.RetryConfig{
				MaxAttempts: settings.LedgerMaxAttempts,
				BaseDelay:   settings.LedgerBaseDelay,
				MaxDelay:    settings.LedgerMaxDelay,
			}, store, log)

			if err := notifier.Redeliver(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "settlement %s delivered\n", args[0])
			return nil
		},
	}
	redeliver.Flags().StringVar(&r.flags.LedgerURL, "ledger-url", "", "settlement ledger webhook URL")

	cmd.AddCommand(list)
	cmd.AddCommand(redeliver)
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Long())
		},
	}
}

type wiring struct {
	pipe       *pipeline.Pipeline
	dispatcher *tools.Dispatcher
	quoteCache *cache.Store
	limiter    ratelimit.Limiter
	store      *settlement.Store
	rdb        *redis.Client
}

func (w *wiring) close() {
	if w.quoteCache != nil {
		_ = w.quoteCache.Close()
	}
	if w.store != nil {
		_ = w.store.Close()
	}
	if w.rdb != nil {
		_ = w.rdb.Close()
	}
}

func wire(settings config.Settings, log *zap.Logger) (*wiring, error) {
	store, err := settlement.OpenStore(settings.SettlementStorePath, settings.SettlementLockPath)
	if err != nil {
		return nil, err
	}
	quoteCache, err := cache.Open(settings.CachePath, settings.CacheLockPath, settings.CacheCapacity)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	notifier := settlement.NewNotifier(settings.LedgerURL, settlement.RetryConfig{
		MaxAttempts: settings.LedgerMaxAttempts,
		BaseDelay:   settings.LedgerBaseDelay,
		MaxDelay:    settings.LedgerMaxDelay,
	}, store, log)

	// Quote and build calls are never retried: a quote that failed once is
	// already stale, and the caller re-quotes explicitly.
	pipe := pipeline.New(pipeline.Config{
		Aggregator:     aggregator.New(httpx.New(settings.Timeout, 0), settings.AggregatorBaseURL),
		Readers:        pipeline.NewRPCReaderFactory(settings.RPCOverrides, settings.Timeout),
		ApprovalPolicy: settings.ApprovalPolicy,
		MarginPercent:  settings.ApprovalMarginPct,
		Notifier:       notifier,
		Log:            log,
	})

	w := &wiring{
		pipe:       pipe,
		dispatcher: tools.NewDispatcher(pipe, log),
		quoteCache: quoteCache,
		store:      store,
	}

	if settings.RedisAddr != "" {
		w.rdb = redis.NewClient(&redis.Options{
			Addr:     settings.RedisAddr,
			Password: settings.RedisPassword,
		})
		w.limiter = ratelimit.NewRedisLimiter(w.rdb, "aivestor:rl",
			settings.RateLimitRequests, settings.RateLimitWindow, log)
	} else {
		w.limiter = ratelimit.NewMemoryLimiter(settings.RateLimitRequests, settings.RateLimitWindow)
	}
	return w, nil
}

// normalizeFlagName lets callers spell multi-word flags with underscores.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}
