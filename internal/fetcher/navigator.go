package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"log/slog"

	"github.com/rgaudreau/dealstalker/internal/config"
	"github.com/rgaudreau/dealstalker/internal/observability"
	"github.com/rgaudreau/dealstalker/internal/pacing"
	"github.com/rgaudreau/dealstalker/internal/types"
)

// maxBackoffShift caps the exponential backoff doubling so a large
// retry budget cannot overflow the computed duration.
const maxBackoffShift = 16

// Outcome classifies a single navigation attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeBlocked
	OutcomeError
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeBlocked:
		return "blocked"
	default:
		return "error"
	}
}

// Navigator drives navigate-with-retry for single page requests. Each
// attempt is classified and gets its own recovery delay: timeouts back
// off exponentially, challenge pages wait a fixed cool-down, and other
// errors wait a flat retry delay.
type Navigator struct {
	fetcher       Fetcher
	detector      *ChallengeDetector
	maxRetries    int
	backoffBase   time.Duration
	retryDelay    time.Duration
	challengeWait time.Duration
	metrics       *observability.Metrics
	logger        *slog.Logger

	// injectable so tests run without real timers
	sleep func(context.Context, time.Duration) error
}

// NewNavigator wires the retry policy from the engine configuration.
func NewNavigator(f Fetcher, d *ChallengeDetector, ecfg config.EngineConfig, logger *slog.Logger) *Navigator {
	return &Navigator{
		fetcher:       f,
		detector:      d,
		maxRetries:    ecfg.MaxRetries,
		backoffBase:   ecfg.BackoffBase,
		retryDelay:    ecfg.RetryDelay,
		challengeWait: ecfg.ChallengeWait,
		logger:        logger.With("component", "navigator"),
		sleep:         pacing.Sleep,
	}
}

// SetMetrics enables the retry and challenge counters. Nil leaves them off.
func (n *Navigator) SetMetrics(m *observability.Metrics) { n.metrics = m }

// Navigate fetches req, retrying on timeouts, challenge pages, and
// transient errors. It returns the first clean response, or a NavError
// once the attempt budget is spent.
func (n *Navigator) Navigate(ctx context.Context, req *types.PageRequest) (*types.Response, error) {
	var timeouts, challenges int
	var lastErr error

	for attempt := 1; attempt <= n.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, n.failure(req, attempt-1, timeouts, challenges, types.ErrRunStopped)
		}

		resp, err := n.fetcher.Fetch(ctx, req)

		switch n.classify(resp, err) {
		case OutcomeSuccess:
			if attempt > 1 {
				n.logger.Info("navigation recovered",
					"url", req.URLString(),
					"attempt", attempt,
				)
			}
			return resp, nil

		case OutcomeBlocked:
			challenges++
			lastErr = types.ErrBlockedPage
			n.metrics.IncChallenge()
			n.metrics.IncRetry()
			n.logger.Warn("challenge page detected, waiting it out",
				"url", req.URLString(),
				"attempt", attempt,
				"wait", n.challengeWait,
			)
			if err := n.sleep(ctx, n.challengeWait); err != nil {
				return nil, n.failure(req, attempt, timeouts, challenges, types.ErrRunStopped)
			}

		case OutcomeTimeout:
			timeouts++
			backoff := n.backoffBase * (1 << min(timeouts-1, maxBackoffShift))
			lastErr = types.ErrNavigationTimeout
			n.metrics.IncRetry()
			n.logger.Warn("navigation timed out, backing off",
				"url", req.URLString(),
				"attempt", attempt,
				"timeouts", timeouts,
				"backoff", backoff,
			)
			if err := n.sleep(ctx, backoff); err != nil {
				return nil, n.failure(req, attempt, timeouts, challenges, types.ErrRunStopped)
			}

		case OutcomeError:
			if err == nil {
				err = fmt.Errorf("HTTP %d", resp.StatusCode)
			}
			lastErr = err
			delay := n.retryDelay
			var fe *types.FetchError
			if errors.As(err, &fe) && fe.RetryAfter > delay {
				delay = fe.RetryAfter
			}
			n.metrics.IncRetry()
			n.logger.Warn("navigation error, retrying",
				"url", req.URLString(),
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
			if err := n.sleep(ctx, delay); err != nil {
				return nil, n.failure(req, attempt, timeouts, challenges, types.ErrRunStopped)
			}
		}
	}

	return nil, n.failure(req, n.maxRetries, timeouts, challenges, lastErr)
}

// classify maps one attempt's result onto an Outcome. Responses with
// server error statuses count as errors so a flapping backend gets
// retried; other non-2xx pages pass through and simply extract nothing.
func (n *Navigator) classify(resp *types.Response, err error) Outcome {
	if err != nil {
		if isTimeoutErr(err) {
			return OutcomeTimeout
		}
		return OutcomeError
	}
	if n.detector.IsBlocked(resp) {
		return OutcomeBlocked
	}
	if resp.IsServerError() {
		return OutcomeError
	}
	return OutcomeSuccess
}

func (n *Navigator) failure(req *types.PageRequest, attempts, timeouts, challenges int, err error) error {
	return &types.NavError{
		URL:        req.URLString(),
		Attempts:   attempts,
		Timeouts:   timeouts,
		Challenges: challenges,
		Err:        err,
	}
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, types.ErrNavigationTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
