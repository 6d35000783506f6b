package extract

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Resolver evaluates locator cascades against a document node. All
// resolution failures (invalid expression, missing element, missing
// attribute) degrade to a miss so the caller can fall through to the
// next candidate. A Resolver never returns an error.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a cascade resolver.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		logger: logger.With("component", "resolver"),
	}
}

// Text returns the trimmed text of the first locator in the cascade
// that resolves to an element with non-empty text.
func (r *Resolver) Text(sel *goquery.Selection, locs []Locator) (string, bool) {
	for _, loc := range locs {
		node, ok := r.first(sel, loc)
		if !ok {
			continue
		}
		if text := strings.TrimSpace(htmlquery.InnerText(node)); text != "" {
			return text, true
		}
	}
	return "", false
}

// Attr returns the trimmed value of the named attribute on the first
// locator that resolves to an element carrying it.
func (r *Resolver) Attr(sel *goquery.Selection, locs []Locator, attr string) (string, bool) {
	for _, loc := range locs {
		node, ok := r.first(sel, loc)
		if !ok {
			continue
		}
		if val := strings.TrimSpace(htmlquery.SelectAttr(node, attr)); val != "" {
			return val, true
		}
	}
	return "", false
}

// TextCandidates returns, in cascade order, the non-empty trimmed text of
// every locator that resolves. Callers that need to validate candidates
// (and fall through on rejection) iterate this instead of using Text.
func (r *Resolver) TextCandidates(sel *goquery.Selection, locs []Locator) []string {
	var out []string
	for _, loc := range locs {
		node, ok := r.first(sel, loc)
		if !ok {
			continue
		}
		if text := strings.TrimSpace(htmlquery.InnerText(node)); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// Exists reports whether any locator in the cascade resolves to at
// least one element.
func (r *Resolver) Exists(sel *goquery.Selection, locs []Locator) bool {
	for _, loc := range locs {
		if _, ok := r.first(sel, loc); ok {
			return true
		}
	}
	return false
}

// first resolves a single locator to its first matching node. Invalid
// CSS selectors match nothing (goquery's behavior); invalid XPath is
// logged and skipped.
func (r *Resolver) first(sel *goquery.Selection, loc Locator) (*html.Node, bool) {
	if sel == nil || len(sel.Nodes) == 0 || loc.Expr == "" {
		return nil, false
	}

	switch loc.Kind {
	case KindXPath:
		node, err := htmlquery.Query(sel.Nodes[0], loc.Expr)
		if err != nil {
			r.logger.Warn("invalid xpath", "selector", loc.Expr, "error", err)
			return nil, false
		}
		if node == nil {
			return nil, false
		}
		return node, true
	default:
		found := sel.Find(loc.Expr)
		if found.Length() == 0 {
			return nil, false
		}
		return found.Nodes[0], true
	}
}
