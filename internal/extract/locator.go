package extract

import "strings"

// LocatorKind identifies how a locator expression is evaluated.
type LocatorKind int

const (
	// KindCSS evaluates the expression as a CSS selector via goquery.
	KindCSS LocatorKind = iota
	// KindXPath evaluates the expression as an XPath query via htmlquery.
	KindXPath
)

func (k LocatorKind) String() string {
	switch k {
	case KindCSS:
		return "css"
	case KindXPath:
		return "xpath"
	default:
		return "unknown"
	}
}

// xpathPrefix marks a locator expression as XPath in configuration.
const xpathPrefix = "xpath:"

// Locator is one typed entry of a selector cascade.
type Locator struct {
	Kind LocatorKind
	Expr string
}

// ParseLocator converts a configured selector string into a typed Locator.
// Expressions prefixed with "xpath:" become XPath locators, everything
// else is CSS.
func ParseLocator(s string) Locator {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, xpathPrefix); ok {
		return Locator{Kind: KindXPath, Expr: strings.TrimSpace(rest)}
	}
	return Locator{Kind: KindCSS, Expr: s}
}

// ParseLocators converts a selector cascade, dropping empty entries.
func ParseLocators(exprs []string) []Locator {
	locs := make([]Locator, 0, len(exprs))
	for _, e := range exprs {
		loc := ParseLocator(e)
		if loc.Expr == "" {
			continue
		}
		locs = append(locs, loc)
	}
	return locs
}
