package pipeline

import (
	"log/slog"

	"github.com/rgaudreau/dealstalker/internal/types"
)

// Middleware processes a listing and returns the (possibly modified)
// listing. Return nil to drop the listing from the pipeline.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a listing. Return nil to drop it.
	Process(l *types.Listing) (*types.Listing, error)
}

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the listing through all middleware in order.
func (p *Pipeline) Process(l *types.Listing) (*types.Listing, error) {
	current := l

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage: mw.Name(),
				Err:   err,
			}
		}
		if result == nil {
			// Listing dropped by middleware
			p.logger.Debug("listing dropped", "stage", mw.Name(), "asin", l.ASIN)
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}
