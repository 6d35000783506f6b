package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/rgaudreau/dealstalker/internal/config"
	"github.com/rgaudreau/dealstalker/internal/types"
)

// identifierPattern is the accepted shape of a product identifier.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9]{10}$`)

// CardParser turns one product card node into a Listing.
type CardParser struct {
	logger *slog.Logger
	res    *Resolver

	identifierAttr string
	siteKey        string
	baseURL        string

	title     []Locator
	image     []Locator
	priceCur  []Locator
	priceOrig []Locator
	badge     []Locator
	rating    []Locator
	reviews   []Locator
}

// NewCardParser compiles the selector cascades for card extraction.
func NewCardParser(selectors config.SelectorConfig, site config.SiteConfig, logger *slog.Logger) *CardParser {
	return &CardParser{
		logger:         logger.With("component", "card_parser"),
		res:            NewResolver(logger),
		identifierAttr: selectors.IdentifierAttr,
		siteKey:        site.Key,
		baseURL:        strings.TrimSuffix(site.BaseURL, "/"),
		title:          ParseLocators(selectors.Title),
		image:          ParseLocators(selectors.Image),
		priceCur:       ParseLocators(selectors.PriceCurrent),
		priceOrig:      ParseLocators(selectors.PriceOriginal),
		badge:          ParseLocators(selectors.DiscountBadge),
		rating:         ParseLocators(selectors.Rating),
		reviews:        ParseLocators(selectors.ReviewCount),
	}
}

// ParseCard extracts a Listing from one card node. Returns nil when the
// card has no usable identifier or no title. A missing price does not
// reject the card here; that filter belongs to the caller.
func (p *CardParser) ParseCard(card *goquery.Selection, category string) *types.Listing {
	asin := strings.TrimSpace(card.AttrOr(p.identifierAttr, ""))
	if !identifierPattern.MatchString(asin) {
		return nil
	}

	title, ok := p.res.Text(card, p.title)
	if !ok {
		return nil
	}

	imageURL, _ := p.res.Attr(card, p.image, "src")

	var priceCurrent, priceOriginal *float64
	if raw, ok := p.res.Text(card, p.priceCur); ok {
		priceCurrent = ParsePrice(raw)
	}
	if raw, ok := p.res.Text(card, p.priceOrig); ok {
		priceOriginal = ParsePrice(raw)
	}
	// A card without a strike-through price is simply not on sale.
	if priceOriginal == nil && priceCurrent != nil {
		v := *priceCurrent
		priceOriginal = &v
	}

	discount, known := 0, false
	if raw, ok := p.res.Text(card, p.badge); ok {
		discount, known = ParseDiscount(raw)
	}
	if !known {
		discount = DeriveDiscount(priceCurrent, priceOriginal)
	}

	var rating float64
	if label, ok := p.res.Attr(card, p.rating, "aria-label"); ok {
		rating = ParseRating(label)
	}

	var reviews int
	for _, cand := range p.res.TextCandidates(card, p.reviews) {
		if n, ok := ParseReviewCount(cand); ok {
			reviews = n
			break
		}
	}

	return &types.Listing{
		ASIN:            asin,
		Title:           title,
		Brand:           strings.Fields(title)[0],
		ImageURL:        imageURL,
		PriceCurrent:    priceCurrent,
		PriceOriginal:   priceOriginal,
		DiscountPercent: discount,
		Rating:          rating,
		ReviewCount:     reviews,
		ProductURL:      fmt.Sprintf("%s/dp/%s", p.baseURL, asin),
		Category:        category,
		Site:            p.siteKey,
		ScrapedAt:       time.Now().UTC(),
	}
}
