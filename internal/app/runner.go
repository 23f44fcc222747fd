package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alexvolkov/dexbot/internal/bot"
	"github.com/alexvolkov/dexbot/internal/bot/flow"
	"github.com/alexvolkov/dexbot/internal/chain"
	"github.com/alexvolkov/dexbot/internal/config"
	"github.com/alexvolkov/dexbot/internal/httpx"
	"github.com/alexvolkov/dexbot/internal/retry"
	"github.com/alexvolkov/dexbot/internal/router"
	"github.com/alexvolkov/dexbot/internal/session"
	"github.com/alexvolkov/dexbot/internal/store"
	"github.com/alexvolkov/dexbot/internal/telemetry"
	"github.com/alexvolkov/dexbot/internal/token"
	"github.com/alexvolkov/dexbot/internal/venue"
	"github.com/alexvolkov/dexbot/internal/venue/curve"
	"github.com/alexvolkov/dexbot/internal/venue/pooled"
	"github.com/alexvolkov/dexbot/internal/version"
	"github.com/alexvolkov/dexbot/internal/wallet"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return &Runner{stdout: os.Stdout, stderr: os.Stderr}
}

func (r *Runner) Run(args []string) int {
	var flags config.GlobalFlags

	root := &cobra.Command{
		Use:           version.Name,
		Short:         "Venue-aggregating token swap bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&flags.EnvFile, "env-file", "", "path to a .env file to load")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "address for the prometheus listener")
	root.PersistentFlags().StringVar(&flags.Timeout, "timeout", "", "outbound http timeout")
	root.PersistentFlags().IntVar(&flags.Retries, "retries", -1, "outbound http retries")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(flags)
			if err != nil {
				return err
			}
			log, err := newLogger(settings.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return runBot(cmd.Context(), settings, log)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(r.stdout, version.Long())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(r.stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func runBot(ctx context.Context, settings config.Settings, log *zap.Logger) error {
	httpClient := httpx.New(settings.Timeout, settings.Retries)
	policy := retry.Policy{
		MaxAttempts:  settings.Retries + 1,
		InitialDelay: 300 * time.Millisecond,
	}

	chainClient, err := chain.Dial(ctx, settings.RPCURL, log)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	registry := token.NewRegistry(httpClient, settings.RegistryURL, settings.RegistryRefreshInterval, log)
	registry.Start(ctx)

	// One unsigned venue client per venue serves metadata probes; signed
	// per-user clients are built inside the session builder.
	probers := make([]token.Prober, 0, len(settings.PooledVenues)+len(settings.CurveVenues))
	for _, vs := range settings.PooledVenues {
		probers = append(probers, pooled.New(httpClient, pooledConfig(vs, settings), nil, nil, ""))
	}
	for _, vs := range settings.CurveVenues {
		probers = append(probers, curve.New(httpClient, curveConfig(vs, settings), nil, nil, ""))
	}
	resolver := token.NewResolver(registry, probers, policy, log)

	db, err := store.Open(settings.StorePath, settings.StoreLockPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	cipher, err := wallet.NewCipher(settings.WalletSecret)
	if err != nil {
		return err
	}

	tracker := telemetry.Tracker(telemetry.Nop())
	if settings.MetricsAddr != "" {
		promTracker, handler := telemetry.New()
		tracker = promTracker
		srv := &http.Server{Addr: settings.MetricsAddr, Handler: handler}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics listener failed", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	builder := func(userID int64, w *wallet.Wallet, rec store.WalletRecord) *session.Session {
		pooledVenues := make([]venue.Venue, 0, len(settings.PooledVenues))
		for _, vs := range settings.PooledVenues {
			pooledVenues = append(pooledVenues, pooled.New(httpClient, pooledConfig(vs, settings), chainClient, w.Key, w.Address))
		}
		curveVenues := make([]venue.Venue, 0, len(settings.CurveVenues))
		for _, vs := range settings.CurveVenues {
			curveVenues = append(curveVenues, curve.New(httpClient, curveConfig(vs, settings), chainClient, w.Key, w.Address))
		}
		r := router.New(pooledVenues, curveVenues, resolver, chainClient, router.Config{
			Owner:         w.Address,
			TradeAsset:    settings.TradeAsset,
			StableAsset:   settings.StableAsset,
			ServiceFeeBps: settings.ServiceFeeBps,
			DustThreshold: settings.DustThreshold,
		}, policy, tracker, log)
		return session.New(session.Params{
			UserID:        userID,
			Wallet:        w,
			Router:        r,
			Transferer:    chainClient,
			Prefs:         db,
			TradeSymbol:   settings.TradeSymbol,
			SlippageBps:   rec.SlippageBps,
			Notifications: rec.Notifications,
			AcceptedTerms: rec.AcceptedTerms,
			Tracker:       tracker,
			Log:           log,
		})
	}

	sessions := session.NewStore(db, cipher, builder, session.StoreConfig{
		DefaultSlippageBps: settings.DefaultSlippageBps,
		IdleTTL:            settings.SessionIdleTTL,
		SweepInterval:      settings.SessionSweepInterval,
	}, tracker, log)
	sessions.StartSweeper(ctx)

	tg, err := bot.NewTelegram(settings.TelegramToken)
	if err != nil {
		return err
	}
	var messenger flow.Messenger = tg
	b := bot.New(messenger, tg, sessions, tracker, log)

	log.Info("bot starting",
		zap.Int("pooled_venues", len(settings.PooledVenues)),
		zap.Int("curve_venues", len(settings.CurveVenues)))
	err = b.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

func pooledConfig(vs config.VenueSettings, settings config.Settings) pooled.Config {
	return pooled.Config{
		Name:        vs.Name,
		BaseURL:     vs.BaseURL,
		BaseAsset:   settings.BaseAsset,
		StableAsset: settings.StableAsset,
	}
}

func curveConfig(vs config.VenueSettings, settings config.Settings) curve.Config {
	return curve.Config{
		Name:       vs.Name,
		BaseURL:    vs.BaseURL,
		TradeAsset: settings.TradeAsset,
	}
}
