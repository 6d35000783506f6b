package pacing

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/rgaudreau/dealstalker/internal/config"
)

// Page is the subset of live-page behavior the governor drives. The
// browser fetcher adapts its page handle to this; tests use a fake.
type Page interface {
	MoveMouse(x, y float64) error
	ScrollBy(deltaY int) error
	ScrollTop() error
}

// Governor injects think-time between page iterations and simulates
// human behavior on a loaded page. Neither operation has a correctness
// contract; both are bounded and best-effort.
type Governor interface {
	// BetweenPages blocks for a uniformly sampled delay within the
	// configured range, or until ctx is cancelled.
	BetweenPages(ctx context.Context) error

	// Humanize performs a bounded sequence of pointer moves and
	// scrolls on the page. It never fails; page errors end it early.
	Humanize(ctx context.Context, page Page)
}

// Sleep blocks for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pageBudget caps the wall-clock time Humanize may spend on one page.
const pageBudget = 8 * time.Second

// HumanGovernor samples delays and gestures from ranges observed in
// real browsing sessions.
type HumanGovernor struct {
	minDelay    time.Duration
	maxDelay    time.Duration
	scrollDelay time.Duration
	gestures    bool
	logger      *slog.Logger

	// sleep is injectable so tests run without real timers.
	sleep func(context.Context, time.Duration) error
}

// NewGovernor creates a pacing governor from configuration.
func NewGovernor(cfg config.PacingConfig, logger *slog.Logger) *HumanGovernor {
	return &HumanGovernor{
		minDelay:    cfg.MinPageDelay,
		maxDelay:    cfg.MaxPageDelay,
		scrollDelay: cfg.ScrollDelayMax,
		gestures:    cfg.Humanize,
		logger:      logger.With("component", "pacing"),
		sleep:       Sleep,
	}
}

// BetweenPages implements Governor.
func (g *HumanGovernor) BetweenPages(ctx context.Context) error {
	d := uniform(g.minDelay, g.maxDelay)
	g.logger.Debug("pacing between pages", "delay", d)
	return g.sleep(ctx, d)
}

// Humanize implements Governor. The sequence mirrors casual reading:
// a few pointer moves, several scroll chunks down, a slight scroll
// back, then a return to the top so every card is in the DOM.
func (g *HumanGovernor) Humanize(ctx context.Context, page Page) {
	if !g.gestures || page == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, pageBudget)
	defer cancel()

	for i := 0; i < 2+rand.Intn(3); i++ {
		x := float64(100 + rand.Intn(1701))
		y := float64(100 + rand.Intn(801))
		if err := page.MoveMouse(x, y); err != nil {
			g.logger.Debug("mouse move failed", "error", err)
			return
		}
		if err := g.sleep(ctx, uniform(100*time.Millisecond, 300*time.Millisecond)); err != nil {
			return
		}
	}

	for i := 0; i < 3+rand.Intn(4); i++ {
		if err := page.ScrollBy(200 + rand.Intn(301)); err != nil {
			g.logger.Debug("scroll failed", "error", err)
			return
		}
		if err := g.sleep(ctx, uniform(500*time.Millisecond, g.scrollDelay)); err != nil {
			return
		}
	}

	if err := page.ScrollBy(-300); err != nil {
		return
	}
	if err := g.sleep(ctx, uniform(300*time.Millisecond, 800*time.Millisecond)); err != nil {
		return
	}

	if err := page.ScrollTop(); err != nil {
		return
	}
	_ = g.sleep(ctx, 500*time.Millisecond)
}

// uniform samples a duration in [lo, hi]. A hi below lo collapses to lo.
func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
}

// NopGovernor skips all pacing. Used by correctness tests and dry runs.
type NopGovernor struct{}

func (NopGovernor) BetweenPages(ctx context.Context) error { return ctx.Err() }

func (NopGovernor) Humanize(context.Context, Page) {}
