// Package main inspects a ledger:
// - audit: check persisted totals against loans and buckets
// - report: summarize persisted activity as Markdown and CSV
// - reconcile: compare a running server's balances with the chain
// - follow: print a server's live operation feed
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bondcurve-ledger/internal/api"
	"bondcurve-ledger/internal/config"
	"bondcurve-ledger/internal/feed"
	"bondcurve-ledger/internal/ledger"
	"bondcurve-ledger/internal/reporting"
	"bondcurve-ledger/internal/solana"
	pgstore "bondcurve-ledger/internal/storage/postgres"
	"bondcurve-ledger/internal/verification"
)

const usage = `usage: inspect <command> [flags]

commands:
  audit      check persisted ledger totals against loans and buckets
  report     summarize persisted ledger activity as Markdown and CSV
  reconcile  compare a running server's balances with on-chain accounts
  follow     print a server's live operation feed
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "audit":
		err = runAudit(ctx, os.Args[2:])
	case "report":
		err = runReport(ctx, os.Args[2:])
	case "reconcile":
		err = runReconcile(ctx, os.Args[2:])
	case "follow":
		err = runFollow(ctx, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	configPath := fs.String("config", "", "Path to TOML config file")
	envFile := fs.String("env-file", ".env", "Optional KEY=VALUE file loaded before the config")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := config.LoadEnvFile(*envFile); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return config.Load(*configPath)
}

// connect opens the PostgreSQL ledger named by override or config.
func connect(ctx context.Context, cfg *config.Config, override string) (*pgstore.LedgerStore, func(), error) {
	dsn := cfg.Storage.PostgresDSN
	if override != "" {
		dsn = override
	}
	if dsn == "" {
		return nil, nil, fmt.Errorf("--postgres-dsn or storage.postgres_dsn is required")
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return pgstore.NewLedgerStore(pool), pool.Close, nil
}

func runAudit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	postgresDSN := fs.String("postgres-dsn", "", "PostgreSQL connection string (overrides config)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	store, closeFn, err := connect(ctx, cfg, *postgresDSN)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := ledger.Audit(ctx, store)
	if err != nil {
		return err
	}

	fmt.Println("=== Ledger audit ===")
	fmt.Printf("  Version:           %d\n", report.Version)
	fmt.Printf("  Live loans:        %d\n", report.LiveLoans)
	fmt.Printf("  Loan borrowed:     %d\n", report.LoanBorrowed)
	fmt.Printf("  Loan collateral:   %d\n", report.LoanCollateral)
	fmt.Printf("  Bucket borrowed:   %d\n", report.BucketBorrowed)
	fmt.Printf("  Bucket collateral: %d\n", report.BucketCollateral)

	journal, err := verification.NewJournalVerifier(store.Operations()).VerifyAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  Journal entries:   %d (%d divergent)\n", journal.TotalOperations, journal.DivergentOperations)

	if report.OK() && journal.OK() {
		fmt.Println("\nOK")
		return nil
	}
	if len(report.Violations) > 0 {
		fmt.Printf("\n%d violation(s):\n", len(report.Violations))
		for _, v := range report.Violations {
			fmt.Printf("  - %s\n", v)
		}
	}
	for _, r := range journal.Results {
		fmt.Printf("\nOperation %d %s %s:\n", r.Sequence, r.Kind, r.OperationID)
		for _, d := range r.Divergences {
			fmt.Printf("  - %s\n", d)
		}
	}
	return fmt.Errorf("audit failed")
}

func runReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	postgresDSN := fs.String("postgres-dsn", "", "PostgreSQL connection string (overrides config)")
	since := fs.Duration("since", 24*time.Hour, "Report window ending now")
	outDir := fs.String("output-dir", "", "Write report.md and operations.csv here instead of printing")
	top := fs.Int("top", reporting.DefaultTopUsers, "Number of users listed")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	store, closeFn, err := connect(ctx, cfg, *postgresDSN)
	if err != nil {
		return err
	}
	defer closeFn()

	now := time.Now().UTC()
	gen := reporting.NewGenerator(store, store.Operations()).WithTopUsers(*top)
	report, ops, err := gen.Generate(ctx, now.Add(-*since).Unix(), now.Unix())
	if err != nil {
		return err
	}
	md := reporting.RenderMarkdown(report, int32(cfg.Protocol.Decimals))

	if *outDir == "" {
		fmt.Print(md)
		return nil
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(*outDir, "report.md"), []byte(md), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(*outDir, "operations.csv"), []byte(reporting.RenderCSV(ops)), 0o644); err != nil {
		return fmt.Errorf("write operations: %w", err)
	}
	fmt.Printf("Report written to %s (%d operations)\n", *outDir, len(ops))
	return nil
}

func runReconcile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "Ledger server base URL")
	rpcEndpoint := fs.String("rpc-endpoint", "", "Solana RPC endpoint (overrides config)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	endpoint := cfg.Solana.RPCEndpoint
	if *rpcEndpoint != "" {
		endpoint = *rpcEndpoint
	}
	if endpoint == "" {
		return fmt.Errorf("--rpc-endpoint or solana.rpc_endpoint is required")
	}

	snap, err := fetchLedger(ctx, *server)
	if err != nil {
		return err
	}

	client := solana.NewHTTPClient(endpoint, solana.WithTimeout(15*time.Second))
	report, err := solana.Reconcile(ctx, client, solana.Accounts{
		ReserveVault:   snap.ReserveVault,
		CollateralPool: snap.CollateralPool,
		TokenMint:      cfg.Solana.TokenMint,
		ReserveIsToken: cfg.Solana.ReserveMint != "",
	}, solana.Balances{
		Reserve:    snap.ReserveBalance,
		Collateral: snap.PoolBalance,
		Supply:     snap.TokenSupply,
	})
	if err != nil {
		return err
	}

	fmt.Printf("=== Reconcile (ledger version %d) ===\n", snap.Version)
	if slot, err := client.GetSlot(ctx); err == nil {
		fmt.Printf("  Chain slot: %d\n", slot)
	}
	for _, c := range report.Checks {
		status := "ok"
		switch {
		case c.Err != nil:
			status = "error: " + c.Err.Error()
		case !c.Match():
			status = fmt.Sprintf("MISMATCH (diff %s)", decimal.NewFromUint64(c.Chain).Sub(decimal.NewFromUint64(c.Ledger)).String())
		}
		fmt.Printf("  %-16s %-44s ledger=%d chain=%d %s\n", c.Name, c.Address, c.Ledger, c.Chain, status)
	}

	if !report.OK() {
		return fmt.Errorf("reconcile found differences")
	}
	return nil
}

func fetchLedger(ctx context.Context, server string) (*api.LedgerResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/v1/ledger", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ledger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, fmt.Errorf("fetch ledger: status %d: %s", resp.StatusCode, e.Error)
	}
	var out api.LedgerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return &out, nil
}

func runFollow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("follow", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8080", "Ledger server base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u, err := url.Parse(strings.TrimRight(*server, "/") + "/v1/feed")
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	client, err := feed.Dial(ctx, u.String(), nil, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-client.Events():
			if !ok {
				return nil
			}
			fmt.Printf("%6d %s %-22s %-44s price=%s supply=%d borrowed=%d\n",
				ev.Sequence,
				time.UnixMilli(ev.TimestampMs).UTC().Format(time.RFC3339),
				ev.Kind,
				ev.User,
				api.FormatPrice(ev.Price),
				ev.TokenSupply,
				ev.TotalBorrowed,
			)
		}
	}
}
