package pacing

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/rgaudreau/dealstalker/internal/config"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

// recordingSleeper captures requested delays without blocking.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

// fakePage records gestures in order.
type fakePage struct {
	moves   int
	scrolls []int
	topped  int
}

func (p *fakePage) MoveMouse(x, y float64) error {
	p.moves++
	return nil
}

func (p *fakePage) ScrollBy(deltaY int) error {
	p.scrolls = append(p.scrolls, deltaY)
	return nil
}

func (p *fakePage) ScrollTop() error {
	p.topped++
	return nil
}

func newTestGovernor(cfg config.PacingConfig) (*HumanGovernor, *recordingSleeper) {
	g := NewGovernor(cfg, testLogger)
	rec := &recordingSleeper{}
	g.sleep = rec.sleep
	return g, rec
}

func TestBetweenPagesSamplesRange(t *testing.T) {
	cfg := config.PacingConfig{
		MinPageDelay: 2 * time.Second,
		MaxPageDelay: 5 * time.Second,
	}
	g, rec := newTestGovernor(cfg)

	for i := 0; i < 50; i++ {
		if err := g.BetweenPages(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(rec.delays) != 50 {
		t.Fatalf("expected 50 sampled delays, got %d", len(rec.delays))
	}
	for _, d := range rec.delays {
		if d < 2*time.Second || d > 5*time.Second {
			t.Errorf("delay %v outside [2s, 5s]", d)
		}
	}
}

func TestBetweenPagesCollapsedRange(t *testing.T) {
	cfg := config.PacingConfig{
		MinPageDelay: time.Second,
		MaxPageDelay: time.Second,
	}
	g, rec := newTestGovernor(cfg)

	if err := g.BetweenPages(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.delays[0] != time.Second {
		t.Errorf("collapsed range should sample exactly 1s, got %v", rec.delays[0])
	}
}

func TestHumanizeGestureShape(t *testing.T) {
	cfg := config.PacingConfig{
		MinPageDelay:   time.Second,
		MaxPageDelay:   time.Second,
		ScrollDelayMax: 1500 * time.Millisecond,
		Humanize:       true,
	}

	for i := 0; i < 25; i++ {
		g, _ := newTestGovernor(cfg)
		page := &fakePage{}
		g.Humanize(context.Background(), page)

		if page.moves < 2 || page.moves > 4 {
			t.Errorf("mouse moves = %d, want 2..4", page.moves)
		}

		// Final two scroll actions are the -300 step-back and the top reset.
		n := len(page.scrolls)
		if n < 4 || n > 7 {
			t.Fatalf("scroll calls = %d, want chunks(3..6)+1", n)
		}
		for _, s := range page.scrolls[:n-1] {
			if s < 200 || s > 500 {
				t.Errorf("scroll chunk %d outside [200, 500]", s)
			}
		}
		if page.scrolls[n-1] != -300 {
			t.Errorf("last relative scroll = %d, want -300", page.scrolls[n-1])
		}
		if page.topped != 1 {
			t.Errorf("scroll-to-top called %d times, want 1", page.topped)
		}
	}
}

func TestHumanizeDisabled(t *testing.T) {
	cfg := config.PacingConfig{Humanize: false}
	g, rec := newTestGovernor(cfg)
	page := &fakePage{}

	g.Humanize(context.Background(), page)

	if page.moves != 0 || len(page.scrolls) != 0 || page.topped != 0 {
		t.Error("disabled governor should not touch the page")
	}
	if len(rec.delays) != 0 {
		t.Error("disabled governor should not sleep")
	}
}

func TestHumanizeStopsOnCancel(t *testing.T) {
	cfg := config.PacingConfig{ScrollDelayMax: time.Second, Humanize: true}
	g, _ := newTestGovernor(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := &fakePage{}
	g.Humanize(ctx, page)

	// The first gesture may land before the cancelled sleep is observed.
	if page.moves > 1 {
		t.Errorf("cancelled humanize should stop immediately, got %d moves", page.moves)
	}
	if page.topped != 0 {
		t.Error("cancelled humanize should never reach scroll-to-top")
	}
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, 5*time.Second)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled sleep should return promptly")
	}
}

func TestNopGovernor(t *testing.T) {
	var g Governor = NopGovernor{}

	if err := g.BetweenPages(context.Background()); err != nil {
		t.Errorf("nop governor should not error: %v", err)
	}

	page := &fakePage{}
	g.Humanize(context.Background(), page)
	if page.moves != 0 {
		t.Error("nop governor should not gesture")
	}
}
