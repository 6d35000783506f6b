package fetcher

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"log/slog"

	"github.com/rgaudreau/dealstalker/internal/config"
	"github.com/rgaudreau/dealstalker/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelError,
}))

const resultPageHTML = `<html><body>
<div data-asin="B000TEST01">
  <h2>Sony WH-1000XM5 Wireless Headphones</h2>
  <span class="a-price"><span class="a-offscreen">$199.99</span></span>
</div>
</body></html>`

const challengePageHTML = `<html><body>
<h4>Type the characters you see in this image</h4>
<form method="get" action="/errors/validateCaptcha">
  <input type="text" id="captchacharacters" name="field-keywords">
</form>
</body></html>`

// scriptedFetcher returns canned results in order, repeating the last
// entry once the script runs out.
type scriptedFetcher struct {
	script []fetchResult
	calls  int
}

type fetchResult struct {
	resp *types.Response
	err  error
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ *types.PageRequest) (*types.Response, error) {
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	return f.script[i].resp, f.script[i].err
}

func (f *scriptedFetcher) Close() error { return nil }
func (f *scriptedFetcher) Type() string { return "scripted" }

func testSelectors() config.SelectorConfig {
	return config.SelectorConfig{
		ChallengeMarkers: []string{"captcha", "validateCaptcha"},
		ChallengeForms:   []string{`form[action*="captcha"]`},
		ChallengeInputs:  []string{"#captchacharacters"},
	}
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxPagesPerCategory: 3,
		MaxRetries:          3,
		NavTimeout:          30 * time.Second,
		BackoffBase:         5 * time.Second,
		RetryDelay:          2 * time.Second,
		ChallengeWait:       30 * time.Second,
	}
}

// newTestNavigator swaps the sleep func for a recorder so retry tests
// finish instantly.
func newTestNavigator(f Fetcher, ecfg config.EngineConfig, sleeps *[]time.Duration) *Navigator {
	nav := NewNavigator(f, NewChallengeDetector(testSelectors(), testLogger), ecfg, testLogger)
	nav.sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return nav
}

func pageRequest(t *testing.T) *types.PageRequest {
	t.Helper()
	req, err := types.NewPageRequest("electronics", "https://www.amazon.ca/s?k=deals", 1)
	if err != nil {
		t.Fatalf("NewPageRequest: %v", err)
	}
	return req
}

func okResponse() *types.Response {
	return &types.Response{
		StatusCode: 200,
		Body:       []byte(resultPageHTML),
		FinalURL:   "https://www.amazon.ca/s?k=deals",
	}
}

func challengeResponse() *types.Response {
	return &types.Response{
		StatusCode: 200,
		Body:       []byte(challengePageHTML),
		FinalURL:   "https://www.amazon.ca/s?k=deals",
	}
}

// --- Navigate ---

func TestNavigateSuccessFirstTry(t *testing.T) {
	var sleeps []time.Duration
	f := &scriptedFetcher{script: []fetchResult{{resp: okResponse()}}}
	nav := newTestNavigator(f, testEngineConfig(), &sleeps)

	resp, err := nav.Navigate(context.Background(), pageRequest(t))
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if resp == nil || resp.StatusCode != 200 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if f.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls)
	}
	if len(sleeps) != 0 {
		t.Errorf("expected no waits, got %v", sleeps)
	}
}

func TestNavigateRecoversAfterChallenges(t *testing.T) {
	var sleeps []time.Duration
	redirected := challengeResponse()
	redirected.Body = []byte("<html><body>loading</body></html>")
	redirected.FinalURL = "https://www.amazon.ca/errors/validateCaptcha"

	f := &scriptedFetcher{script: []fetchResult{
		{resp: challengeResponse()}, // detected from body selectors
		{resp: redirected},          // detected from the URL marker
		{resp: okResponse()},
	}}
	nav := newTestNavigator(f, testEngineConfig(), &sleeps)

	resp, err := nav.Navigate(context.Background(), pageRequest(t))
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if resp == nil {
		t.Fatal("expected a response after recovery")
	}
	if f.calls != 3 {
		t.Errorf("fetch calls = %d, want 3", f.calls)
	}
	want := []time.Duration{30 * time.Second, 30 * time.Second}
	if len(sleeps) != len(want) || sleeps[0] != want[0] || sleeps[1] != want[1] {
		t.Errorf("challenge waits = %v, want %v", sleeps, want)
	}
}

func TestNavigateTimeoutBackoffDoubles(t *testing.T) {
	var sleeps []time.Duration
	f := &scriptedFetcher{script: []fetchResult{
		{err: types.ErrNavigationTimeout},
		{err: types.ErrNavigationTimeout},
	}}
	ecfg := testEngineConfig()
	ecfg.MaxRetries = 2
	nav := newTestNavigator(f, ecfg, &sleeps)

	_, err := nav.Navigate(context.Background(), pageRequest(t))
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if !errors.Is(err, types.ErrNavigationTimeout) {
		t.Errorf("expected ErrNavigationTimeout, got %v", err)
	}

	var navErr *types.NavError
	if !errors.As(err, &navErr) {
		t.Fatalf("expected NavError, got %T", err)
	}
	if navErr.Attempts != 2 || navErr.Timeouts != 2 || navErr.Challenges != 0 {
		t.Errorf("NavError = %+v, want 2 attempts, 2 timeouts", navErr)
	}

	// Every timeout backs off, the final attempt included, and each
	// backoff doubles the last.
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 backoffs, got %v", sleeps)
	}
	if sleeps[0] != 5*time.Second || sleeps[1] != 10*time.Second {
		t.Errorf("backoffs = %v, want [5s 10s]", sleeps)
	}
}

func TestNavigateBackoffNeverOverflows(t *testing.T) {
	var sleeps []time.Duration
	f := &scriptedFetcher{script: []fetchResult{{err: types.ErrNavigationTimeout}}}
	ecfg := testEngineConfig()
	ecfg.MaxRetries = 40
	nav := newTestNavigator(f, ecfg, &sleeps)

	_, err := nav.Navigate(context.Background(), pageRequest(t))
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}

	if len(sleeps) != 40 {
		t.Fatalf("expected 40 backoffs, got %d", len(sleeps))
	}
	ceiling := ecfg.BackoffBase * (1 << maxBackoffShift)
	for i, d := range sleeps {
		if d <= 0 {
			t.Fatalf("backoff %d = %v, escalation overflowed", i+1, d)
		}
		if d > ceiling {
			t.Errorf("backoff %d = %v, want at most %v", i+1, d, ceiling)
		}
	}
	// Escalation doubles up to the cap, then holds.
	if sleeps[16] != ceiling || sleeps[39] != ceiling {
		t.Errorf("capped backoffs = %v / %v, want %v", sleeps[16], sleeps[39], ceiling)
	}
}

func TestNavigateRetryAfterStretchesDelay(t *testing.T) {
	var sleeps []time.Duration
	f := &scriptedFetcher{script: []fetchResult{
		{err: &types.FetchError{
			URL:        "https://www.amazon.ca/s?k=deals",
			StatusCode: 429,
			Err:        errors.New("too many requests"),
			Retryable:  true,
			RetryAfter: 45 * time.Second,
		}},
		{resp: okResponse()},
	}}
	nav := newTestNavigator(f, testEngineConfig(), &sleeps)

	_, err := nav.Navigate(context.Background(), pageRequest(t))
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if len(sleeps) != 1 || sleeps[0] != 45*time.Second {
		t.Errorf("expected the server-provided 45s wait, got %v", sleeps)
	}
}

func TestNavigateServerErrorRetriesFlatDelay(t *testing.T) {
	var sleeps []time.Duration
	flapping := okResponse()
	flapping.StatusCode = 503

	f := &scriptedFetcher{script: []fetchResult{
		{resp: flapping},
		{resp: okResponse()},
	}}
	nav := newTestNavigator(f, testEngineConfig(), &sleeps)

	resp, err := nav.Navigate(context.Background(), pageRequest(t))
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("expected the recovered response, got status %d", resp.StatusCode)
	}
	if len(sleeps) != 1 || sleeps[0] != 2*time.Second {
		t.Errorf("expected one flat retry delay, got %v", sleeps)
	}
}

func TestNavigateChallengeBehindServerError(t *testing.T) {
	var sleeps []time.Duration
	blocked := challengeResponse()
	blocked.StatusCode = 503

	f := &scriptedFetcher{script: []fetchResult{{resp: blocked}}}
	ecfg := testEngineConfig()
	ecfg.MaxRetries = 1
	nav := newTestNavigator(f, ecfg, &sleeps)

	_, err := nav.Navigate(context.Background(), pageRequest(t))
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, types.ErrBlockedPage) {
		t.Errorf("challenge body behind a 503 should classify as blocked, got %v", err)
	}

	var navErr *types.NavError
	if !errors.As(err, &navErr) {
		t.Fatalf("expected NavError, got %T", err)
	}
	if navErr.Challenges != 1 || navErr.Timeouts != 0 {
		t.Errorf("NavError = %+v, want 1 challenge", navErr)
	}
	if len(sleeps) != 1 || sleeps[0] != 30*time.Second {
		t.Errorf("expected one challenge wait, got %v", sleeps)
	}
}

func TestNavigateClientErrorPassesThrough(t *testing.T) {
	var sleeps []time.Duration
	gone := okResponse()
	gone.StatusCode = 404

	f := &scriptedFetcher{script: []fetchResult{{resp: gone}}}
	nav := newTestNavigator(f, testEngineConfig(), &sleeps)

	resp, err := nav.Navigate(context.Background(), pageRequest(t))
	if err != nil {
		t.Fatalf("Navigate: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want the 404 passed through", resp.StatusCode)
	}
	if f.calls != 1 || len(sleeps) != 0 {
		t.Errorf("4xx should not be retried: calls=%d sleeps=%v", f.calls, sleeps)
	}
}

func TestNavigateStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sleeps []time.Duration
	f := &scriptedFetcher{script: []fetchResult{{resp: okResponse()}}}
	nav := newTestNavigator(f, testEngineConfig(), &sleeps)

	_, err := nav.Navigate(ctx, pageRequest(t))
	if !errors.Is(err, types.ErrRunStopped) {
		t.Fatalf("expected ErrRunStopped, got %v", err)
	}
	if f.calls != 0 {
		t.Errorf("fetch should not run with a canceled context, calls=%d", f.calls)
	}
}

func TestNavigateAbortsWhenWaitInterrupted(t *testing.T) {
	f := &scriptedFetcher{script: []fetchResult{{err: types.ErrNavigationTimeout}}}
	nav := NewNavigator(f, NewChallengeDetector(testSelectors(), testLogger), testEngineConfig(), testLogger)
	nav.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	_, err := nav.Navigate(context.Background(), pageRequest(t))
	if !errors.Is(err, types.ErrRunStopped) {
		t.Fatalf("expected ErrRunStopped when the wait is interrupted, got %v", err)
	}

	var navErr *types.NavError
	if !errors.As(err, &navErr) {
		t.Fatalf("expected NavError, got %T", err)
	}
	if navErr.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", navErr.Attempts)
	}
}
