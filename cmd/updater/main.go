package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"stock-datahub/src/config"
	datasource "stock-datahub/src/data_source"
	"stock-datahub/src/helpers"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"
	"stock-datahub/src/storage"
	"stock-datahub/src/updater"
	"stock-datahub/src/utils"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailures    = 1
	exitConfigError = 2
)

// -----------------------------------------------------------------------------

func main() {
	os.Exit(run())
}

func run() int {

	// Parse command line flags
	configPath := flag.String("config", "", "path to config file (defaults and environment only when empty)")
	stocks := flag.String("stock", "", "comma separated symbols to update instead of the watchlist, e.g. 600519.SH,000001.SZ")
	pricesOnly := flag.Bool("prices-only", false, "update daily prices only")
	newsOnly := flag.Bool("news-only", false, "update news only")
	infoOnly := flag.Bool("info-only", false, "update company info and financial indicators only")
	dbPath := flag.String("db-path", "", "sqlite database path, overrides config and DB_PATH")
	flag.Parse()

	scope, err := updater.ParseScope(*pricesOnly, *newsOnly, *infoOnly)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitConfigError
	}

	cfg, err := config.NewConfigWith(*configPath, func(c *config.Config) {
		if *dbPath != "" {
			c.Storage.DBType = "sqlite"
			c.Storage.DBPath = *dbPath
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitConfigError
	}

	symbols := cfg.DataSource.Watchlist
	if *stocks != "" {
		symbols = splitSymbols(*stocks)
	}

	appLogger := logger.NewLogger(cfg.MConfig, "updater")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Cache store
	db, err := storage.NewDatabase(cfg.MConfig, appLogger.Named("storage"))
	if err != nil {
		appLogger.Error("Failed to init db: %v", err)
		return exitCode(err)
	}
	defer db.Close()
	if err := db.Initialize(ctx); err != nil {
		appLogger.Error("Failed to migrate db: %v", err)
		return exitCode(err)
	}

	// 2. Providers and the unified source
	primary, secondary, err := datasource.NewProviders(cfg.MConfig, appLogger)
	if err != nil {
		appLogger.Error("Failed to init providers: %v", err)
		return exitCode(err)
	}
	scheduler := utils.NewMarketScheduler(symbols, appLogger.Named("scheduler"))
	source := datasource.NewUnifiedDataSource(cfg.MConfig, db, primary, secondary, appLogger.Named("unified")).
		WithCalendar(scheduler.CalendarFor)

	// 3. Run
	appLogger.Info("Updating %d symbols (%s, mode %s)", len(symbols), scope, cfg.DataSource.Mode)
	report := updater.NewIncrementalUpdater(cfg.MConfig, db, source, appLogger).
		WithCalendar(scheduler.CalendarFor).
		Run(ctx, symbols, scope)

	printReport(report)

	if stats, err := db.Stats(ctx); err == nil {
		appLogger.Info("Cache now holds %d symbols", stats.TotalStocks)
	}

	if len(report.Failed()) > 0 {
		return exitFailures
	}
	return exitOK
}

// -----------------------------------------------------------------------------

func splitSymbols(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, utils.NormalizeSymbol(s))
		}
	}
	return out
}

func exitCode(err error) int {
	if helpers.IsConfigurationError(err) {
		return exitConfigError
	}
	return exitFailures
}

func printReport(report models.MUpdateReport) {
	fmt.Printf("\n%-12s %-11s %-10s %6s  %s\n", "SYMBOL", "KIND", "STATUS", "ROWS", "REASON")
	for _, o := range report.Outcomes {
		fmt.Printf("%-12s %-11s %-10s %6d  %s\n", o.Symbol, o.Kind, o.Status, o.Rows, o.Reason)
	}
	fmt.Printf("\nupdated: %d  unchanged: %d  failed: %d\n",
		report.Count(models.OutcomeUpdated), report.Count(models.OutcomeUnchanged), report.Count(models.OutcomeFailed))
	if failed := report.FailedSymbols(); len(failed) > 0 {
		fmt.Printf("failed symbols: %s\n", strings.Join(failed, ", "))
	}
}
