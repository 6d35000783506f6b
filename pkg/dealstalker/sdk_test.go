package dealstalker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rgaudreau/dealstalker/internal/engine"
)

// card renders one result card in the shape the default selector
// cascades expect. The current price span precedes the strike price
// span, matching real result markup.
func card(asin, title, price, strike string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div data-component-type="s-search-result" data-asin=%q>`, asin)
	fmt.Fprintf(&b, `<h2><a href="/dp/%s"><span>%s</span></a></h2>`, asin, title)
	if price != "" {
		fmt.Fprintf(&b, `<span class="a-price"><span class="a-offscreen">%s</span></span>`, price)
	}
	if strike != "" {
		fmt.Fprintf(&b, `<span class="a-price a-text-price"><span class="a-offscreen">%s</span></span>`, strike)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// resultPage wraps cards in a full page, with or without an enabled
// next-page link.
func resultPage(next bool, cards ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="s-main-slot">`)
	for _, c := range cards {
		b.WriteString(c)
	}
	b.WriteString(`</div>`)
	if next {
		b.WriteString(`<a class="s-pagination-next" href="?page=2">Next</a>`)
	} else {
		b.WriteString(`<span class="s-pagination-next s-pagination-disabled">Next</span>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

const challengePage = `<html><body>
<h4>Enter the characters you see below</h4>
<form method="get" action="/errors/validateCaptcha">
  <input type="text" id="captchacharacters" name="field-keywords">
</form>
</body></html>`

// newTestStalker builds a Stalker pointed at the given server with all
// waits zeroed so tests run without real timers.
func newTestStalker(t *testing.T, srvURL string, opts ...Option) *Stalker {
	t.Helper()
	base := []Option{
		WithFetcher("http"),
		WithStorage("json", t.TempDir()),
		WithSite("testshop", srvURL, "/s?k=%s"),
		WithDelay(0, 0),
	}
	st := New(append(base, opts...)...)
	st.cfg.Engine.BackoffBase = 0
	st.cfg.Engine.RetryDelay = 0
	st.cfg.Engine.ChallengeWait = 0
	st.cfg.Session.CookiePath = filepath.Join(t.TempDir(), "cookies.json")
	return st
}

// --- end to end ---

func TestScrapeEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			fmt.Fprint(w, resultPage(true,
				card("B00DEAL001", "Sony WH-1000XM5 Headphones", "$248.00", "$399.99"),
				card("B00DEAL002", "Anker USB-C Charger", "$15.99", "$25.99"),
			))
		default:
			fmt.Fprint(w, resultPage(false,
				card("B00DEAL003", "Logitech MX Master 3S", "$89.99", ""),
			))
		}
	}))
	defer srv.Close()

	outDir := t.TempDir()
	st := newTestStalker(t, srv.URL,
		WithStorage("json", outDir),
		WithCategory("electronics", srv.URL+"/deals"),
		WithMaxPages(5),
	)

	report, err := st.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}

	if len(report.Units) != 1 {
		t.Fatalf("expected 1 unit, got %d", len(report.Units))
	}
	unit := report.Units[0]
	if unit.State != engine.StateDone {
		t.Errorf("unit state = %s, want done (err: %v)", unit.State, unit.Err)
	}
	if unit.PagesAttempted != 2 {
		t.Errorf("pages attempted = %d, want 2", unit.PagesAttempted)
	}
	if len(report.Listings) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(report.Listings))
	}

	first := report.Listings[0]
	if first.ASIN != "B00DEAL001" {
		t.Errorf("first ASIN = %q", first.ASIN)
	}
	if first.PriceCurrent == nil || *first.PriceCurrent != 248.00 {
		t.Errorf("first price = %v, want 248.00", first.PriceCurrent)
	}
	if first.DiscountPercent != 38 {
		t.Errorf("first discount = %d, want 38", first.DiscountPercent)
	}
	if first.Site != "testshop" {
		t.Errorf("site = %q, want testshop", first.Site)
	}

	// The JSON backend writes a stable latest file next to the
	// timestamped one.
	data, err := os.ReadFile(filepath.Join(outDir, "testshop_latest.json"))
	if err != nil {
		t.Fatalf("read latest file: %v", err)
	}
	var stored []*Listing
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("decode latest file: %v", err)
	}
	if len(stored) != 3 {
		t.Errorf("stored %d listings, want 3", len(stored))
	}
}

func TestScrapeRecoversFromChallenge(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, challengePage)
			return
		}
		fmt.Fprint(w, resultPage(false,
			card("B0CLEAR001", "Instant Pot Duo 7-in-1", "$79.99", "$119.99"),
		))
	}))
	defer srv.Close()

	st := newTestStalker(t, srv.URL, WithCategory("clearance", srv.URL+"/deals"))

	report, err := st.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2 (challenge then retry)", got)
	}
	if len(report.Listings) != 1 {
		t.Fatalf("expected 1 listing after challenge retry, got %d", len(report.Listings))
	}
	if report.Listings[0].ASIN != "B0CLEAR001" {
		t.Errorf("ASIN = %q", report.Listings[0].ASIN)
	}
}

func TestScrapeSearchTerms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/s" || r.URL.Query().Get("k") != "usb c hub" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, resultPage(false,
			card("B00HUB0001", "Anker 7-in-1 USB-C Hub", "$34.99", "$49.99"),
		))
	}))
	defer srv.Close()

	st := newTestStalker(t, srv.URL)

	report, err := st.Scrape(context.Background(), "usb c hub")
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(report.Units) != 1 || report.Units[0].Category != "search:usb c hub" {
		t.Fatalf("unexpected units: %+v", report.Units)
	}
	if len(report.Listings) != 1 {
		t.Fatalf("expected 1 listing, got %d", len(report.Listings))
	}

	// Ad hoc units must not accumulate on the Stalker between calls.
	if len(st.cfg.Categories) != 0 {
		t.Errorf("search term leaked into config: %+v", st.cfg.Categories)
	}
}

func TestScrapeNothingConfigured(t *testing.T) {
	st := New(WithFetcher("http"), WithStorage("json", t.TempDir()))
	if _, err := st.Scrape(context.Background()); err == nil {
		t.Fatal("expected error with no categories and no search terms")
	}
}

func TestScrapeCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, resultPage(false, card("B00DEAL009", "Echo Dot", "$29.99", "")))
	}))
	defer srv.Close()

	st := newTestStalker(t, srv.URL, WithCategory("devices", srv.URL+"/deals"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := st.Scrape(ctx)
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if len(report.Listings) != 0 {
		t.Errorf("expected no listings from a canceled run, got %d", len(report.Listings))
	}
}
