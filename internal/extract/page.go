package extract

import (
	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"

	"github.com/rgaudreau/dealstalker/internal/config"
	"github.com/rgaudreau/dealstalker/internal/types"
)

// PageExtractor walks one result document: finds the card nodes, parses
// each into a Listing, and answers whether a next page exists.
type PageExtractor struct {
	logger   *slog.Logger
	res      *Resolver
	parser   *CardParser
	card     Locator
	nextPage []Locator
}

// NewPageExtractor builds an extractor from the configured selectors.
func NewPageExtractor(selectors config.SelectorConfig, site config.SiteConfig, logger *slog.Logger) *PageExtractor {
	return &PageExtractor{
		logger:   logger.With("component", "extractor"),
		res:      NewResolver(logger),
		parser:   NewCardParser(selectors, site, logger),
		card:     ParseLocator(selectors.ProductCard),
		nextPage: ParseLocators(selectors.NextPage),
	}
}

// Extract parses every card node in the document. It returns the
// listings the card parser accepted (records without a price included)
// and the count of rejected nodes.
func (e *PageExtractor) Extract(doc *goquery.Document, category string) ([]*types.Listing, int) {
	cards := e.cardSelections(doc)

	var listings []*types.Listing
	rejected := 0
	for i, card := range cards {
		l := e.parser.ParseCard(card, category)
		if l == nil {
			rejected++
			e.logger.Debug("card rejected", "category", category, "index", i)
			continue
		}
		listings = append(listings, l)
	}

	e.logger.Debug("page extracted",
		"category", category,
		"cards", len(cards),
		"accepted", len(listings),
		"rejected", rejected)

	return listings, rejected
}

// HasNextPage reports whether an enabled next-page affordance exists.
func (e *PageExtractor) HasNextPage(doc *goquery.Document) bool {
	return e.res.Exists(doc.Selection, e.nextPage)
}

// cardSelections resolves the card locator to one selection per card.
func (e *PageExtractor) cardSelections(doc *goquery.Document) []*goquery.Selection {
	var cards []*goquery.Selection

	if e.card.Kind == KindXPath {
		if len(doc.Nodes) == 0 {
			return nil
		}
		nodes, err := htmlquery.QueryAll(doc.Nodes[0], e.card.Expr)
		if err != nil {
			e.logger.Warn("invalid xpath", "selector", e.card.Expr, "error", err)
			return nil
		}
		for _, n := range nodes {
			cards = append(cards, goquery.NewDocumentFromNode(n).Selection)
		}
		return cards
	}

	doc.Find(e.card.Expr).Each(func(_ int, s *goquery.Selection) {
		cards = append(cards, s)
	})
	return cards
}
