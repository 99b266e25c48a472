// Package main runs the ledger HTTP service:
// - operations API and read endpoints
// - live operation feed
// - periodic liquidation sweep
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bondcurve-ledger/internal/api"
	"bondcurve-ledger/internal/config"
	custodymem "bondcurve-ledger/internal/custody/memory"
	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/engine"
	"bondcurve-ledger/internal/feed"
	"bondcurve-ledger/internal/observability"
	"bondcurve-ledger/internal/storage"
	chstore "bondcurve-ledger/internal/storage/clickhouse"
	"bondcurve-ledger/internal/storage/memory"
	"bondcurve-ledger/internal/storage/migrations"
	pgstore "bondcurve-ledger/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file")
	envFile := flag.String("env-file", ".env", "Optional KEY=VALUE file loaded before the config")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load env file: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *useMemory {
		cfg.Storage.UseMemory = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.NewLogger(os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	logger = logger.With().Str("service", "bondcurve-ledger").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("shutdown complete")
}

// stores holds the storage implementations selected by config.
type stores struct {
	ledger storage.LedgerStore
	ops    storage.OperationStore
	prices storage.PricePointStore
	close  func()
}

// openStores creates in-memory stores or connects and migrates PostgreSQL
// and, when configured, ClickHouse.
func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	if cfg.Storage.UseMemory {
		ls := memory.NewLedgerStore()
		return &stores{
			ledger: ls,
			ops:    ls.Operations(),
			prices: memory.NewPricePointStore(),
			close:  func() {},
		}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrations: %w", err)
	}
	ls := pgstore.NewLedgerStore(pool)
	s := &stores{
		ledger: ls,
		ops:    ls.Operations(),
		close:  pool.Close,
	}

	if cfg.Storage.ClickhouseDSN == "" {
		logger.Warn().Msg("clickhouse_dsn not set, price points kept in memory")
		s.prices = memory.NewPricePointStore()
		return s, nil
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	s.prices = chstore.NewPricePointStore(chConn)
	s.close = func() {
		chConn.Close()
		pool.Close()
	}
	return s, nil
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	addrs, err := cfg.Addresses()
	if err != nil {
		return err
	}
	wallets, err := cfg.Wallets()
	if err != nil {
		return err
	}
	accounts, err := domain.DeriveProtocolAccounts(addrs.ProgramID)
	if err != nil {
		return fmt.Errorf("derive protocol accounts: %w", err)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// Custody is process-local, so a ledger that already traded elsewhere
	// cannot be resumed against fresh balances.
	if g, err := st.ledger.GetGlobal(ctx); err == nil && g.Started {
		return fmt.Errorf("persisted ledger at version %d is started but custody balances are process-local; use a fresh database", g.Version)
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load global ledger: %w", err)
	}

	reserve := custodymem.NewReserve(accounts.ReserveVault, cfg.Protocol.Decimals)
	for a, amount := range wallets {
		reserve.Fund(a, amount)
	}

	hubCfg := feed.DefaultHubConfig()
	hubCfg.Buffer = cfg.Server.FeedBuffer
	hub := feed.NewHub(&hubCfg, logger)
	recorder := engine.NewPricePointRecorder(st.prices, nil, logger)

	eng, err := engine.New(engine.Options{
		Store:         st.ledger,
		Reserve:       reserve,
		Tokens:        custodymem.NewTokenLedger(),
		Accounts:      accounts,
		Admin:         addrs.Admin,
		FeeReceiver:   addrs.FeeReceiver,
		InitialFees:   cfg.FeeParams(),
		ReferralShare: cfg.Protocol.ReferralSharePercent,
		MaxSupply:     cfg.Protocol.MaxSupply,
		SweepLimit:    cfg.Protocol.SweepLimit,
		Logger:        logger,
		Observers: []engine.Observer{
			recorder,
			hub,
		},
	})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if err := eng.EnsureInit(ctx); err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	apiServer := api.NewServer(api.Options{
		Engine:     eng,
		Operations: st.ops,
		Prices:     st.prices,
		Feed:       hub,
		Decimals:   cfg.Protocol.Decimals,
		Logger:     logger,

		SignatureWindow:  cfg.Server.SignatureWindow,
		InsecureSkipAuth: cfg.Server.InsecureSkipAuth,
	})
	if cfg.Server.InsecureSkipAuth {
		logger.Warn().Msg("insecure_skip_auth set, operation requests are not authenticated")
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// The recorder outlives gctx so commits made while the HTTP server
	// drains are still written.
	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()
	g.Go(func() error {
		return recorder.Run(recCtx)
	})

	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Server.ListenAddr).
			Str("reserve_vault", accounts.ReserveVault.String()).
			Str("collateral_pool", accounts.CollateralPool.String()).
			Bool("memory", cfg.Storage.UseMemory).
			Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runSweeper(gctx, eng, addrs.Admin, cfg.Server.SweepInterval, logger)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		stopRecorder()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runSweeper drains pending bucket days every interval.
func runSweeper(ctx context.Context, eng *engine.Engine, caller domain.Address, interval time.Duration, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "sweeper").Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		days, err := eng.SweepPending(ctx, caller, 0)
		switch {
		case errors.Is(err, engine.ErrNotStarted), errors.Is(err, context.Canceled):
			continue
		case err != nil:
			logger.Warn().Err(err).Int("days", days).Msg("sweep stopped")
			continue
		}
		observability.RecordSuccessfulSweep(time.Now().Unix())
		if days > 0 {
			logger.Info().Int("days", days).Msg("swept pending buckets")
		}
	}
}
