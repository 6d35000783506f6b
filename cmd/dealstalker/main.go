package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rgaudreau/dealstalker/internal/config"
	"github.com/rgaudreau/dealstalker/internal/engine"
	"github.com/rgaudreau/dealstalker/internal/extract"
	"github.com/rgaudreau/dealstalker/internal/fetcher"
	"github.com/rgaudreau/dealstalker/internal/observability"
	"github.com/rgaudreau/dealstalker/internal/pacing"
	"github.com/rgaudreau/dealstalker/internal/storage"
)

var (
	cfgFile     string
	verbose     bool
	outputDir   string
	storageType string
	fetcherType string
	headless    bool
	maxPages    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dealstalker",
		Short: "DealStalker — e-commerce deal scraper",
		Long: `DealStalker walks e-commerce category and search result pages,
extracts discounted listings, and writes normalized deal records.

Features:
  • Browser (rod + stealth) and plain HTTP fetching
  • Challenge detection with patient waits and exponential backoff
  • Selector cascades with CSS and XPath fallbacks
  • Price, rating, and review count normalization
  • Per-run dedup across categories
  • JSON, JSONL, CSV, MongoDB, and Redis Stream sinks
  • Humanized pacing between pages
  • Prometheus metrics endpoint`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// scrapeCmd creates the "scrape" subcommand.
func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape [search terms...]",
		Short: "Scrape configured categories for deals",
		Long: `Walk every configured category page by page and write accepted
listings to storage. Positional arguments are treated as ad hoc search
terms and scraped in addition to the configured categories.`,
		RunE: runScrape,
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for file storage")
	cmd.Flags().StringVarP(&storageType, "storage", "s", "", "storage backend: json, jsonl, csv, mongodb, redis, multi")
	cmd.Flags().StringVarP(&fetcherType, "fetcher", "f", "", "fetcher type: browser or http")
	cmd.Flags().BoolVar(&headless, "headless", true, "run the browser headless")
	cmd.Flags().IntVarP(&maxPages, "max-pages", "p", 0, "max pages per category (0 = use config)")

	return cmd
}

// runScrape executes the scrape command.
func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	applyCLIOverrides(cmd, cfg)

	for _, term := range args {
		cfg.Categories = append(cfg.Categories, searchCategory(cfg.Site, term))
	}
	if len(cfg.Categories) == 0 {
		return fmt.Errorf("nothing to scrape: configure categories or pass search terms")
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	logger.Info("starting scrape",
		"site", cfg.Site.Key,
		"categories", len(cfg.Categories),
		"fetcher", cfg.Fetcher.Type,
		"storage", cfg.Storage.Type,
	)

	// Graceful shutdown: first signal cancels the run, the engine keeps
	// whatever it has extracted so far.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pacer := pacing.NewGovernor(cfg.Pacing, logger)

	f, err := fetcher.New(cfg, pacer, logger)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	defer f.Close()

	nav := fetcher.NewNavigator(f, fetcher.NewChallengeDetector(cfg.Selectors, logger), cfg.Engine, logger)

	store, err := storage.New(&cfg.Storage, cfg.Site.Key, logger)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close storage", "backend", store.Name(), "error", err)
		}
	}()

	eng := engine.New(cfg, logger)
	eng.SetNavigator(nav)
	eng.SetExtractor(extract.NewPageExtractor(cfg.Selectors, cfg.Site, logger))
	eng.SetStorage(store)
	eng.SetPacer(pacer)

	if cfg.Metrics.Enabled {
		metrics := observability.NewMetrics(logger)
		eng.SetMetrics(metrics)
		nav.SetMetrics(metrics)
		srv := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	report, err := eng.Run(ctx)
	if report != nil {
		printReport(report, cfg)
	}
	if err != nil {
		return fmt.Errorf("scrape: %w", err)
	}
	return nil
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("DealStalker %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Site:\n")
			fmt.Printf("  Key:               %s\n", cfg.Site.Key)
			fmt.Printf("  Base URL:          %s\n", cfg.Site.BaseURL)
			fmt.Printf("  Search Path:       %s\n", cfg.Site.SearchPath)
			fmt.Printf("\nEngine:\n")
			fmt.Printf("  Max Pages:         %d per category\n", cfg.Engine.MaxPagesPerCategory)
			fmt.Printf("  Max Retries:       %d\n", cfg.Engine.MaxRetries)
			fmt.Printf("  Nav Timeout:       %s\n", cfg.Engine.NavTimeout)
			fmt.Printf("  Backoff Base:      %s\n", cfg.Engine.BackoffBase)
			fmt.Printf("  Retry Delay:       %s\n", cfg.Engine.RetryDelay)
			fmt.Printf("  Challenge Wait:    %s\n", cfg.Engine.ChallengeWait)
			fmt.Printf("\nPacing:\n")
			fmt.Printf("  Page Delay:        %s to %s\n", cfg.Pacing.MinPageDelay, cfg.Pacing.MaxPageDelay)
			fmt.Printf("  Humanize:          %v\n", cfg.Pacing.Humanize)
			fmt.Printf("\nFetcher:\n")
			fmt.Printf("  Type:              %s\n", cfg.Fetcher.Type)
			fmt.Printf("  Headless:          %v\n", cfg.Fetcher.Headless)
			fmt.Printf("  User Agents:       %d configured\n", len(cfg.Fetcher.UserAgents))
			fmt.Printf("\nProxy:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Proxy.Enabled)
			fmt.Printf("  Rotation:          %s\n", cfg.Proxy.Rotation)
			fmt.Printf("  Count:             %d\n", len(cfg.Proxy.URLs))
			fmt.Printf("\nCategories:\n")
			for _, cat := range cfg.Categories {
				fmt.Printf("  %-16s %s\n", cat.Name, cat.URL)
			}
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:              %s\n", cfg.Storage.Type)
			fmt.Printf("  Output Dir:        %s\n", cfg.Storage.OutputDir)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:              %d\n", cfg.Metrics.Port)
			return nil
		},
	}
	return cmd
}

// setupLogger creates a structured logger from the logging config.
// The --verbose flag forces debug level regardless of config.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	out := os.Stderr
	if cfg.Output == "stdout" {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) {
	if outputDir != "" {
		cfg.Storage.OutputDir = outputDir
	}
	if storageType != "" {
		cfg.Storage.Type = strings.ToLower(storageType)
	}
	if fetcherType != "" {
		cfg.Fetcher.Type = strings.ToLower(fetcherType)
	}
	if cmd.Flags().Changed("headless") {
		cfg.Fetcher.Headless = headless
	}
	if maxPages > 0 {
		cfg.Engine.MaxPagesPerCategory = maxPages
	}
}

// searchCategory builds an ad hoc unit from a search term using the
// site's search path template.
func searchCategory(site config.SiteConfig, term string) config.CategoryConfig {
	return config.CategoryConfig{
		Name: "search:" + term,
		URL:  site.SearchURL(term),
	}
}

// printReport prints the end-of-run summary.
func printReport(report *engine.RunReport, cfg *config.Config) {
	fmt.Printf("\n✅ Scrape complete in %s\n", report.Duration.Round(time.Millisecond))
	for _, u := range report.Units {
		mark := "✓"
		if u.State == engine.StateFailed {
			mark = "✗"
		}
		fmt.Printf("   %s %-20s pages=%d kept=%d rejected=%d duplicates=%d\n",
			mark, u.Category, u.PagesAttempted, u.Extracted, u.Rejected, u.Duplicates)
	}
	fmt.Printf("   Listings:  %d kept\n", len(report.Listings))
	fmt.Printf("   Output:    %s (%s)\n", cfg.Storage.OutputDir, cfg.Storage.Type)

	if len(report.Listings) == 0 {
		fmt.Println("\n💡 No deals were kept. Check that the selector cascades match the")
		fmt.Println("   target markup, or run with -v to see why records were rejected.")
	}
}
