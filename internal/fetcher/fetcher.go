package fetcher

import (
	"context"
	"fmt"

	"github.com/rgaudreau/dealstalker/internal/config"
	"github.com/rgaudreau/dealstalker/internal/pacing"
	"github.com/rgaudreau/dealstalker/internal/types"

	"log/slog"
)

// Fetcher loads a single result page and captures its document.
type Fetcher interface {
	// Fetch retrieves the content at the given request's URL.
	Fetch(ctx context.Context, req *types.PageRequest) (*types.Response, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}

// New builds the fetcher selected by cfg.Fetcher.Type.
func New(cfg *config.Config, gov pacing.Governor, logger *slog.Logger) (Fetcher, error) {
	switch cfg.Fetcher.Type {
	case "browser":
		return NewBrowserFetcher(cfg, gov, logger)
	case "http":
		return NewHTTPFetcher(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown fetcher type %q", types.ErrConfigInvalid, cfg.Fetcher.Type)
	}
}
