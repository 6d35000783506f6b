package pipeline

import (
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rgaudreau/dealstalker/internal/types"
)

// TrimMiddleware trims whitespace from all string fields.
type TrimMiddleware struct{}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(l *types.Listing) (*types.Listing, error) {
	l.ASIN = strings.TrimSpace(l.ASIN)
	l.Title = strings.TrimSpace(l.Title)
	l.Brand = strings.TrimSpace(l.Brand)
	l.ImageURL = strings.TrimSpace(l.ImageURL)
	l.ProductURL = strings.TrimSpace(l.ProductURL)
	l.Category = strings.TrimSpace(l.Category)
	l.Site = strings.TrimSpace(l.Site)
	return l, nil
}

// CompletenessMiddleware drops listings that never resolved a current
// price. A card without an offer attached is not a deal.
type CompletenessMiddleware struct {
	dropped atomic.Int64
}

func NewCompletenessMiddleware() *CompletenessMiddleware {
	return &CompletenessMiddleware{}
}

func (m *CompletenessMiddleware) Name() string { return "completeness" }

func (m *CompletenessMiddleware) Process(l *types.Listing) (*types.Listing, error) {
	if !l.HasPrice() {
		m.dropped.Add(1)
		return nil, nil // Drop listing
	}
	return l, nil
}

// Dropped returns how many listings were dropped for a missing price.
func (m *CompletenessMiddleware) Dropped() int64 {
	return m.dropped.Load()
}

// DedupMiddleware drops listings whose identifier has been seen
// before. The first occurrence wins; later duplicates are dropped, so
// output order follows first arrivals.
type DedupMiddleware struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	dropped atomic.Int64
}

func NewDedupMiddleware() *DedupMiddleware {
	return &DedupMiddleware{
		seen: make(map[string]struct{}),
	}
}

func (m *DedupMiddleware) Name() string { return "dedup" }

func (m *DedupMiddleware) Process(l *types.Listing) (*types.Listing, error) {
	key := l.Key()
	if key == "" {
		return l, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.seen[key]; exists {
		m.dropped.Add(1)
		return nil, nil // Drop duplicate
	}
	m.seen[key] = struct{}{}
	return l, nil
}

// Dropped returns how many duplicate listings were dropped.
func (m *DedupMiddleware) Dropped() int64 {
	return m.dropped.Load()
}

// Seen returns how many distinct identifiers have passed through.
func (m *DedupMiddleware) Seen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// AffiliateTagMiddleware appends the affiliate tag to product URLs.
type AffiliateTagMiddleware struct {
	tag string
}

func NewAffiliateTagMiddleware(tag string) *AffiliateTagMiddleware {
	return &AffiliateTagMiddleware{tag: tag}
}

func (m *AffiliateTagMiddleware) Name() string { return "affiliate_tag" }

func (m *AffiliateTagMiddleware) Process(l *types.Listing) (*types.Listing, error) {
	if m.tag == "" || l.ProductURL == "" {
		return l, nil
	}

	u, err := url.Parse(l.ProductURL)
	if err != nil {
		// Leave malformed URLs as extracted.
		return l, nil
	}
	q := u.Query()
	q.Set("tag", m.tag)
	u.RawQuery = q.Encode()
	l.ProductURL = u.String()
	return l, nil
}
