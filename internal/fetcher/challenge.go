package fetcher

import (
	"strings"

	"log/slog"

	"github.com/rgaudreau/dealstalker/internal/config"
	"github.com/rgaudreau/dealstalker/internal/extract"
	"github.com/rgaudreau/dealstalker/internal/types"
)

// ChallengeDetector decides whether a captured response is a bot
// challenge interstitial rather than a result page.
type ChallengeDetector struct {
	markers   []string
	selectors []extract.Locator
	res       *extract.Resolver
	logger    *slog.Logger
}

// NewChallengeDetector builds a detector from the configured URL
// markers and page selectors.
func NewChallengeDetector(sel config.SelectorConfig, logger *slog.Logger) *ChallengeDetector {
	markers := make([]string, 0, len(sel.ChallengeMarkers))
	for _, m := range sel.ChallengeMarkers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			markers = append(markers, m)
		}
	}

	locs := extract.ParseLocators(sel.ChallengeForms)
	locs = append(locs, extract.ParseLocators(sel.ChallengeInputs)...)

	return &ChallengeDetector{
		markers:   markers,
		selectors: locs,
		res:       extract.NewResolver(logger),
		logger:    logger.With("component", "challenge_detector"),
	}
}

// IsBlocked reports whether resp looks like a challenge page. The URL
// check runs first so a redirect to a challenge endpoint is caught even
// when the body failed to capture.
func (d *ChallengeDetector) IsBlocked(resp *types.Response) bool {
	if resp == nil {
		return false
	}

	finalURL := strings.ToLower(resp.FinalURL)
	for _, m := range d.markers {
		if strings.Contains(finalURL, m) {
			d.logger.Debug("challenge marker in URL", "url", resp.FinalURL, "marker", m)
			return true
		}
	}

	if len(d.selectors) == 0 || len(resp.Body) == 0 {
		return false
	}
	doc, err := resp.Document()
	if err != nil {
		d.logger.Warn("challenge check could not parse body", "error", err)
		return false
	}
	if d.res.Exists(doc.Selection, d.selectors) {
		d.logger.Debug("challenge selector matched", "url", resp.FinalURL)
		return true
	}
	return false
}
