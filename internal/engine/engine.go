package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/rgaudreau/dealstalker/internal/config"
	"github.com/rgaudreau/dealstalker/internal/observability"
	"github.com/rgaudreau/dealstalker/internal/pacing"
	"github.com/rgaudreau/dealstalker/internal/pipeline"
	"github.com/rgaudreau/dealstalker/internal/types"
)

// State is one stage of the per-category page walk.
type State int32

const (
	StateIdle       State = 0
	StateNavigating State = 1
	StateExtracting State = 2
	StatePaginating State = 3
	StateDone       State = 4
	StateFailed     State = 5
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNavigating:
		return "navigating"
	case StateExtracting:
		return "extracting"
	case StatePaginating:
		return "paginating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stats tracks run-wide counters.
type Stats struct {
	PagesAttempted atomic.Int64
	PagesFailed    atomic.Int64
	Extracted      atomic.Int64
	Rejected       atomic.Int64
	Duplicates     atomic.Int64
	StartTime      time.Time
}

// Snapshot returns a copy of stats safe for reading.
func (s *Stats) Snapshot() map[string]any {
	return map[string]any{
		"pages_attempted": s.PagesAttempted.Load(),
		"pages_failed":    s.PagesFailed.Load(),
		"extracted":       s.Extracted.Load(),
		"rejected":        s.Rejected.Load(),
		"duplicates":      s.Duplicates.Load(),
		"elapsed":         time.Since(s.StartTime).String(),
	}
}

// Navigator drives one page load with retries.
type Navigator interface {
	Navigate(ctx context.Context, req *types.PageRequest) (*types.Response, error)
}

// Extractor turns a result document into listings.
type Extractor interface {
	Extract(doc *goquery.Document, category string) ([]*types.Listing, int)
	HasNextPage(doc *goquery.Document) bool
}

// Storage is the sink for accepted listings.
type Storage interface {
	Store(listings []*types.Listing) error
}

// UnitReport summarizes one category's walk.
type UnitReport struct {
	Category       string
	URL            string
	PagesAttempted int
	Extracted      int
	Rejected       int
	Duplicates     int
	State          State
	Err            error
}

// RunReport aggregates a full run across all categories.
type RunReport struct {
	RunID     string
	Site      string
	StartedAt time.Time
	Duration  time.Duration
	Units     []UnitReport
	Listings  []*types.Listing
}

// TotalExtracted sums accepted records across units.
func (r *RunReport) TotalExtracted() int {
	total := 0
	for _, u := range r.Units {
		total += u.Extracted
	}
	return total
}

// Failed reports whether any unit ended in StateFailed.
func (r *RunReport) Failed() bool {
	for _, u := range r.Units {
		if u.State == StateFailed {
			return true
		}
	}
	return false
}

// Engine walks each configured category page by page: navigate,
// extract, paginate. Categories run sequentially on one session; a
// failed category ends that unit only, and records accumulated before
// the failure are kept.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	navigator Navigator
	extractor Extractor
	storage   Storage
	pacer     pacing.Governor
	metrics   *observability.Metrics

	pipe     *pipeline.Pipeline
	complete *pipeline.CompletenessMiddleware
	dedup    *pipeline.DedupMiddleware

	state atomic.Int32
	stats *Stats
}

// New creates an engine and assembles its record pipeline from cfg.
// Dedup is keyed per run, so one engine value serves one Run call.
func New(cfg *config.Config, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
		pacer:    pacing.NopGovernor{},
		complete: pipeline.NewCompletenessMiddleware(),
		dedup:    pipeline.NewDedupMiddleware(),
		stats:    &Stats{},
	}

	e.pipe = pipeline.New(logger)
	e.pipe.Use(&pipeline.TrimMiddleware{})
	e.pipe.Use(e.complete)
	e.pipe.Use(e.dedup)
	if cfg.Output.AffiliateTag != "" {
		e.pipe.Use(pipeline.NewAffiliateTagMiddleware(cfg.Output.AffiliateTag))
	}

	return e
}

// SetNavigator sets the page-load collaborator.
func (e *Engine) SetNavigator(n Navigator) { e.navigator = n }

// SetExtractor sets the document-to-listings collaborator.
func (e *Engine) SetExtractor(x Extractor) { e.extractor = x }

// SetStorage sets the listing sink. The caller owns its lifecycle.
func (e *Engine) SetStorage(s Storage) { e.storage = s }

// SetPacer sets the pacing governor. Defaults to no pacing.
func (e *Engine) SetPacer(g pacing.Governor) {
	if g != nil {
		e.pacer = g
	}
}

// SetMetrics sets the metrics collector. Nil disables metrics.
func (e *Engine) SetMetrics(m *observability.Metrics) { e.metrics = m }

// GetState returns the current walk state.
func (e *Engine) GetState() State { return State(e.state.Load()) }

// Stats returns the run counters.
func (e *Engine) Stats() *Stats { return e.stats }

// Run walks every configured category and returns the run report. The
// report is always non-nil: unit failures are recorded in it rather
// than returned, and an interrupt preserves everything accumulated so
// far. The error return is reserved for unusable wiring and storage
// failures.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	if e.navigator == nil || e.extractor == nil {
		return nil, fmt.Errorf("%w: engine needs a navigator and an extractor", types.ErrConfigInvalid)
	}
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateNavigating)) {
		return nil, fmt.Errorf("engine is in state %s, cannot start", e.GetState())
	}

	report := &RunReport{
		RunID:     uuid.NewString(),
		Site:      e.cfg.Site.Key,
		StartedAt: time.Now(),
	}
	e.stats.StartTime = report.StartedAt

	logger := e.logger.With("run_id", report.RunID)
	logger.Info("run starting",
		"site", report.Site,
		"categories", len(e.cfg.Categories),
		"fetcher", e.cfg.Fetcher.Type,
	)

	for i, cat := range e.cfg.Categories {
		if ctx.Err() != nil {
			logger.Info("run interrupted, skipping remaining categories",
				"completed", i,
				"remaining", len(e.cfg.Categories)-i,
			)
			break
		}
		if i > 0 {
			if err := e.pacer.BetweenPages(ctx); err != nil {
				logger.Info("run interrupted between categories", "completed", i)
				break
			}
		}

		unit, listings := e.runUnit(ctx, logger, cat)
		report.Units = append(report.Units, unit)
		report.Listings = append(report.Listings, listings...)
	}

	e.state.Store(int32(StateDone))
	report.Duration = time.Since(report.StartedAt)

	logger.Info("run finished",
		"duration", report.Duration,
		"listings", len(report.Listings),
		"stats", e.stats.Snapshot(),
	)

	if e.storage != nil && len(report.Listings) > 0 {
		if err := e.storage.Store(report.Listings); err != nil {
			logger.Error("storing run results failed", "error", err)
			return report, err
		}
		e.metrics.AddStored(len(report.Listings))
	}

	return report, nil
}

// runUnit walks one category up to its page budget. It returns the
// unit report and the records that survived the pipeline, whatever
// state the unit ended in.
func (e *Engine) runUnit(ctx context.Context, runLogger *slog.Logger, cat config.CategoryConfig) (UnitReport, []*types.Listing) {
	unit := UnitReport{Category: cat.Name, URL: cat.URL, State: StateDone}

	maxPages := cat.MaxPages
	if maxPages <= 0 {
		maxPages = e.cfg.Engine.MaxPagesPerCategory
	}

	logger := runLogger.With("category", cat.Name)
	logger.Info("category starting", "url", cat.URL, "max_pages", maxPages)

	var kept []*types.Listing

	for page := 1; page <= maxPages; page++ {
		if page > 1 {
			if err := e.pacer.BetweenPages(ctx); err != nil {
				unit.State = StateFailed
				unit.Err = types.ErrRunStopped
				break
			}
		}

		e.transition(logger, StateNavigating)
		req, err := types.NewPageRequest(cat.Name, cat.URL, page)
		if err != nil {
			unit.State = StateFailed
			unit.Err = err
			break
		}

		unit.PagesAttempted++
		e.stats.PagesAttempted.Add(1)

		start := time.Now()
		resp, err := e.navigator.Navigate(ctx, req)
		e.metrics.ObserveFetch(time.Since(start))
		if err != nil {
			e.stats.PagesFailed.Add(1)
			e.metrics.IncPage("failed")
			unit.State = StateFailed
			unit.Err = err
			logger.Error("category failed, keeping accumulated records",
				"page", page,
				"records", len(kept),
				"error", err,
			)
			break
		}
		e.metrics.IncPage("success")

		e.transition(logger, StateExtracting)
		doc, err := resp.Document()
		if err != nil {
			e.stats.PagesFailed.Add(1)
			unit.State = StateFailed
			unit.Err = &types.ParseError{URL: req.URLString(), Err: err}
			break
		}

		listings, rejectedCards := e.extractor.Extract(doc, cat.Name)
		unit.Rejected += rejectedCards
		e.metrics.AddDropped("invalid_card", rejectedCards)

		completeBefore := e.complete.Dropped()
		dupBefore := e.dedup.Dropped()

		accepted := 0
		for _, l := range listings {
			processed, perr := e.pipe.Process(l)
			if perr != nil {
				unit.Rejected++
				logger.Warn("pipeline rejected listing", "asin", l.ASIN, "error", perr)
				continue
			}
			if processed == nil {
				continue
			}
			kept = append(kept, processed)
			accepted++
		}

		incomplete := int(e.complete.Dropped() - completeBefore)
		duplicates := int(e.dedup.Dropped() - dupBefore)
		unit.Rejected += incomplete
		unit.Duplicates += duplicates
		unit.Extracted += accepted

		e.stats.Extracted.Add(int64(accepted))
		e.stats.Rejected.Add(int64(rejectedCards + incomplete))
		e.stats.Duplicates.Add(int64(duplicates))
		e.metrics.AddExtracted(accepted)
		e.metrics.AddDropped("incomplete", incomplete)
		e.metrics.AddDropped("duplicate", duplicates)

		logger.Info("page done",
			"page", page,
			"extracted", accepted,
			"rejected", rejectedCards+incomplete,
			"duplicates", duplicates,
		)

		e.transition(logger, StatePaginating)
		if page == maxPages {
			logger.Info("page budget reached", "pages", page)
			break
		}
		if !e.extractor.HasNextPage(doc) {
			logger.Info("no next page", "pages", page)
			break
		}
	}

	e.transition(logger, unit.State)
	logger.Info("category finished",
		"state", unit.State.String(),
		"pages", unit.PagesAttempted,
		"extracted", unit.Extracted,
		"rejected", unit.Rejected,
		"duplicates", unit.Duplicates,
	)

	return unit, kept
}

// transition records the walk state. States only move forward within a
// page iteration; the next iteration starts a fresh cycle.
func (e *Engine) transition(logger *slog.Logger, to State) {
	from := State(e.state.Swap(int32(to)))
	if from != to {
		logger.Debug("state", "from", from.String(), "to", to.String())
	}
}
