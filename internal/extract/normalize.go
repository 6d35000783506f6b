package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// pricePrefix matches the first well-formed decimal at the start of a
// cleaned price string. Upstream rendering sometimes duplicates the
// numeral ("499.95499.95"); taking the anchored prefix repairs it.
var pricePrefix = regexp.MustCompile(`^\d+\.\d{2}`)

// digitRun matches the first run of digits in a discount badge.
var digitRun = regexp.MustCompile(`\d+`)

// ParsePrice converts raw price text ("CDN$ 1,234.56") to a numeric
// value. Returns nil when no usable numeral is present; a price is
// never negative, so a leading minus is a parse failure.
func ParsePrice(raw string) *float64 {
	s := strings.ReplaceAll(raw, "CDN$", "")
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil && v >= 0 {
		return &v
	}
	if m := pricePrefix.FindString(s); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			return &v
		}
	}
	return nil
}

// ParseDiscount extracts the percentage from a discount badge ("-33%",
// "Save 15%"). The boolean is false when no numeral survives, meaning
// the discount is unknown rather than zero.
func ParseDiscount(raw string) (int, bool) {
	m := digitRun.FindString(raw)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return n, true
}

// DeriveDiscount computes the discount percent from the two prices.
// Zero unless both prices are known and the original is higher; the
// result is clamped to [0,100] so out-of-range inputs cannot produce
// an impossible percentage.
func DeriveDiscount(current, original *float64) int {
	if current == nil || original == nil {
		return 0
	}
	if *original <= *current || *original <= 0 {
		return 0
	}
	d := int(math.Round((*original - *current) / *original * 100))
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}

// ParseRating reads the leading numeral of an accessibility label such
// as "4.5 out of 5 stars". Returns 0 on absence or parse failure; the
// result is clamped to the 0-5 star range.
func ParseRating(label string) float64 {
	fields := strings.Fields(label)
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

// ParseReviewCount converts review-count text ("(1,234)") to an int.
// The boolean is false when the cleaned text is not purely numeric, so
// the caller can fall through to the next selector candidate.
func ParseReviewCount(raw string) (int, bool) {
	s := strings.ReplaceAll(raw, ",", "")
	s = strings.ReplaceAll(s, "(", "")
	s = strings.ReplaceAll(s, ")", "")
	s = strings.TrimSpace(s)
	if s == "" || !isAllDigits(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
