package types

import (
	"strconv"
	"time"
)

// Listing represents a single product listing extracted from a result page.
type Listing struct {
	// ASIN is the site-unique product identifier the listing was keyed on.
	ASIN string `json:"asin"`

	// Title is the full product title text.
	Title string `json:"title"`

	// Brand is derived from the first whitespace-delimited token of the title.
	Brand string `json:"brand"`

	// ImageURL is the primary product image, if present.
	ImageURL string `json:"image_url"`

	// PriceCurrent is the current offer price. Nil when no price could be
	// parsed from the card.
	PriceCurrent *float64 `json:"price_current"`

	// PriceOriginal is the list/strike-through price. Falls back to
	// PriceCurrent when the card shows no original price.
	PriceOriginal *float64 `json:"price_original"`

	// DiscountPercent is in [0,100]. Zero when no discount applies.
	DiscountPercent int `json:"discount_percent"`

	// Rating is the star rating out of 5. Zero when absent.
	Rating float64 `json:"rating"`

	// ReviewCount is the number of reviews. Zero when absent.
	ReviewCount int `json:"review_count"`

	// ProductURL is the canonical detail-page URL built from the ASIN.
	ProductURL string `json:"product_url"`

	// Category names the unit of work that produced this listing.
	Category string `json:"category,omitempty"`

	// Site identifies the target site key from configuration.
	Site string `json:"site,omitempty"`

	// ScrapedAt is when this listing was extracted.
	ScrapedAt time.Time `json:"scraped_at"`
}

// Key returns the deduplication key for the listing.
func (l *Listing) Key() string { return l.ASIN }

// HasPrice reports whether a current price was parsed.
func (l *Listing) HasPrice() bool { return l.PriceCurrent != nil }

// Clone creates a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	clone := *l
	if l.PriceCurrent != nil {
		v := *l.PriceCurrent
		clone.PriceCurrent = &v
	}
	if l.PriceOriginal != nil {
		v := *l.PriceOriginal
		clone.PriceOriginal = &v
	}
	return &clone
}

// ToFlatMap returns a flat string map suitable for CSV export.
func (l *Listing) ToFlatMap() map[string]string {
	flat := map[string]string{
		"asin":             l.ASIN,
		"title":            l.Title,
		"brand":            l.Brand,
		"image_url":        l.ImageURL,
		"price_current":    formatPrice(l.PriceCurrent),
		"price_original":   formatPrice(l.PriceOriginal),
		"discount_percent": strconv.Itoa(l.DiscountPercent),
		"rating":           strconv.FormatFloat(l.Rating, 'f', 1, 64),
		"review_count":     strconv.Itoa(l.ReviewCount),
		"product_url":      l.ProductURL,
		"category":         l.Category,
		"site":             l.Site,
		"scraped_at":       l.ScrapedAt.Format(time.RFC3339),
	}
	return flat
}

func formatPrice(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', 2, 64)
}
