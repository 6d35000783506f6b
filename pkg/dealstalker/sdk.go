// Package dealstalker provides a public SDK for embedding DealStalker
// as a library.
//
// Example usage:
//
//	stalker := dealstalker.New(
//	    dealstalker.WithFetcher("http"),
//	    dealstalker.WithStorage("json", "./output/deals"),
//	    dealstalker.WithMaxPages(2),
//	)
//
//	report, err := stalker.Scrape(ctx, "wireless earbuds")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, deal := range report.Listings {
//	    fmt.Println(deal.Title)
//	}
//
// Each Scrape call runs a fresh engine with its own dedup scope.
// Canceling the context stops the run; listings extracted before the
// cancellation are still stored and returned.
package dealstalker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rgaudreau/dealstalker/internal/config"
	"github.com/rgaudreau/dealstalker/internal/engine"
	"github.com/rgaudreau/dealstalker/internal/extract"
	"github.com/rgaudreau/dealstalker/internal/fetcher"
	"github.com/rgaudreau/dealstalker/internal/pacing"
	"github.com/rgaudreau/dealstalker/internal/storage"
	"github.com/rgaudreau/dealstalker/internal/types"
)

// Report summarizes one scrape run.
type Report = engine.RunReport

// Unit summarizes one category within a run.
type Unit = engine.UnitReport

// Listing is one normalized deal record.
type Listing = types.Listing

// SelectorConfig holds the selector cascades used to locate fields on
// a result page.
type SelectorConfig = config.SelectorConfig

// Stalker is the high-level API for using DealStalker as a library.
type Stalker struct {
	cfg    *config.Config
	logger *slog.Logger
}

// Option configures a Stalker.
type Option func(*config.Config)

// WithFetcher selects the fetcher type: "http" or "browser".
func WithFetcher(typ string) Option {
	return func(c *config.Config) { c.Fetcher.Type = typ }
}

// WithHeadless controls whether the browser fetcher runs headless.
func WithHeadless(headless bool) Option {
	return func(c *config.Config) { c.Fetcher.Headless = headless }
}

// WithStorage sets a file storage backend ("json", "jsonl", "csv") and
// its output directory.
func WithStorage(format, dir string) Option {
	return func(c *config.Config) {
		c.Storage.Type = format
		c.Storage.OutputDir = dir
	}
}

// WithMongo stores listings in MongoDB, upserting on (asin, site).
func WithMongo(uri, database, collection string) Option {
	return func(c *config.Config) {
		c.Storage.Type = "mongodb"
		c.Storage.MongoURI = uri
		c.Storage.MongoDatabase = database
		c.Storage.MongoCollection = collection
	}
}

// WithRedis publishes listings to a Redis Stream for downstream
// consumers.
func WithRedis(addr, stream string) Option {
	return func(c *config.Config) {
		c.Storage.Type = "redis"
		c.Storage.RedisAddr = addr
		c.Storage.RedisStream = stream
	}
}

// WithSite replaces the site profile: record tag, base URL, and the
// search path template (must contain one %s for the escaped term).
func WithSite(key, baseURL, searchPath string) Option {
	return func(c *config.Config) {
		c.Site.Key = key
		c.Site.BaseURL = baseURL
		c.Site.SearchPath = searchPath
	}
}

// WithSelectors replaces the selector cascades.
func WithSelectors(sel SelectorConfig) Option {
	return func(c *config.Config) { c.Selectors = sel }
}

// WithCategory adds a category listing URL to walk.
func WithCategory(name, url string) Option {
	return func(c *config.Config) {
		c.Categories = append(c.Categories, config.CategoryConfig{Name: name, URL: url})
	}
}

// WithMaxPages caps the pages walked per category.
func WithMaxPages(n int) Option {
	return func(c *config.Config) { c.Engine.MaxPagesPerCategory = n }
}

// WithDelay sets the think-time window between result pages.
func WithDelay(min, max time.Duration) Option {
	return func(c *config.Config) {
		c.Pacing.MinPageDelay = min
		c.Pacing.MaxPageDelay = max
	}
}

// WithUserAgent sets a single custom User-Agent instead of the rotation.
func WithUserAgent(ua string) Option {
	return func(c *config.Config) { c.Fetcher.UserAgents = []string{ua} }
}

// WithProxy enables proxy rotation with the given proxy URLs.
func WithProxy(urls ...string) Option {
	return func(c *config.Config) {
		c.Proxy.Enabled = true
		c.Proxy.URLs = urls
	}
}

// WithAffiliateTag appends the tag query parameter to every product URL.
func WithAffiliateTag(tag string) Option {
	return func(c *config.Config) { c.Output.AffiliateTag = tag }
}

// WithVerbose enables debug-level logging.
func WithVerbose() Option {
	return func(c *config.Config) { c.Logging.Level = "debug" }
}

// New creates a Stalker with the given options applied over the
// default configuration.
func New(opts ...Option) *Stalker {
	cfg := config.DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	level := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return &Stalker{
		cfg:    cfg,
		logger: slog.New(handler),
	}
}

// Scrape walks the configured categories plus one ad hoc search unit
// per term and returns the run report. The report is non-nil whenever
// the run started, even if some units failed or storage errored.
func (s *Stalker) Scrape(ctx context.Context, terms ...string) (*Report, error) {
	// Shallow copy so ad hoc units never leak into the next call.
	cfg := *s.cfg
	cfg.Categories = append([]config.CategoryConfig{}, s.cfg.Categories...)
	for _, term := range terms {
		cfg.Categories = append(cfg.Categories, config.CategoryConfig{
			Name: "search:" + term,
			URL:  cfg.Site.SearchURL(term),
		})
	}
	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("nothing to scrape: add categories or pass search terms")
	}

	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	pacer := pacing.NewGovernor(cfg.Pacing, s.logger)

	f, err := fetcher.New(&cfg, pacer, s.logger)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}
	defer f.Close()

	store, err := storage.New(&cfg.Storage, cfg.Site.Key, s.logger)
	if err != nil {
		return nil, fmt.Errorf("create storage: %w", err)
	}

	eng := engine.New(&cfg, s.logger)
	eng.SetNavigator(fetcher.NewNavigator(f, fetcher.NewChallengeDetector(cfg.Selectors, s.logger), cfg.Engine, s.logger))
	eng.SetExtractor(extract.NewPageExtractor(cfg.Selectors, cfg.Site, s.logger))
	eng.SetStorage(store)
	eng.SetPacer(pacer)

	report, err := eng.Run(ctx)
	if cerr := store.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("close storage: %w", cerr)
	}
	return report, err
}
