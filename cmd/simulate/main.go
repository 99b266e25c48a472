// Package main runs a seeded random workload against an in-memory ledger
// and checks the ledger invariants after every step.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bondcurve-ledger/internal/domain"
	"bondcurve-ledger/internal/engine"
	"bondcurve-ledger/internal/reporting"
	"bondcurve-ledger/internal/simulation"
)

func main() {
	seed := flag.Int64("seed", 1, "Random seed")
	steps := flag.Int("steps", 1000, "Number of operations to attempt")
	users := flag.Int("users", 5, "Number of simulated users")
	sweepLimit := flag.Int("sweep-limit", 0, "Max bucket days swept per operation (0 = unlimited)")
	verbose := flag.Bool("verbose", false, "Log every operation")
	reportDir := flag.String("report-dir", "", "Write report.md and operations.csv to this directory")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	runner := simulation.NewRunner(simulation.RunnerOptions{
		Seed:       *seed,
		Steps:      *steps,
		Users:      *users,
		SweepLimit: *sweepLimit,
		Logger:     logger,
	})

	summary, err := runner.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Simulation failed: %v\n", err)
		os.Exit(1)
	}

	printSummary(summary)

	if *reportDir != "" {
		if err := writeReport(ctx, runner, *reportDir); err != nil {
			fmt.Fprintf(os.Stderr, "Report failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nReport written to %s\n", *reportDir)
	}
}

func writeReport(ctx context.Context, runner *simulation.Runner, dir string) error {
	store := runner.Store()
	report, ops, err := reporting.NewGenerator(store, store.Operations()).Generate(ctx, 0, math.MaxInt64)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(reporting.RenderMarkdown(report, 9)), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "operations.csv"), []byte(reporting.RenderCSV(ops)), 0o644); err != nil {
		return fmt.Errorf("write operations: %w", err)
	}
	return nil
}

func printSummary(s *simulation.Summary) {
	fmt.Println("=== Simulation ===")
	fmt.Printf("  Seed:      %d\n", s.Seed)
	fmt.Printf("  Steps:     %d\n", s.Steps)
	fmt.Printf("  Simulated: %.1f days\n", float64(s.SimulatedS)/float64(domain.SecondsPerDay))
	fmt.Printf("  Price:     %s -> %s\n", formatPrice(s.StartPrice), formatPrice(s.FinalPrice))

	fmt.Println("\nCommitted:")
	kinds := make([]string, 0, len(s.Committed))
	for k := range s.Committed {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-22s %d\n", k, s.Committed[domain.OperationKind(k)])
	}

	if len(s.Aborted) > 0 {
		fmt.Println("\nAborted:")
		cats := make([]string, 0, len(s.Aborted))
		for c := range s.Aborted {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		for _, c := range cats {
			fmt.Printf("  %-22s %d\n", c, s.Aborted[engine.Category(c)])
		}
	}

	if f := s.Final; f != nil {
		fmt.Println("\nFinal ledger:")
		fmt.Printf("  Version:          %d\n", f.Global.Version)
		fmt.Printf("  Token supply:     %d\n", f.Global.TokenSupply)
		fmt.Printf("  Reserve:          %d\n", f.ReserveBalance)
		fmt.Printf("  Total borrowed:   %d\n", f.Global.TotalBorrowed)
		fmt.Printf("  Total collateral: %d\n", f.Global.TotalCollateral)
		fmt.Printf("  Pending sweep:    %d days\n", f.PendingSweepDays)
	}

	fmt.Println("\nAll invariants held.")
}

func formatPrice(v uint64) string {
	return decimal.NewFromUint64(v).Shift(-9).StringFixed(9)
}
