package types

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// PageRequest identifies one result page of a category to fetch.
type PageRequest struct {
	// URL is the fully resolved page URL, pagination parameter applied.
	URL *url.URL

	// Method is the HTTP method. Defaults to GET.
	Method string

	// Headers are custom HTTP headers to send with the request.
	Headers http.Header

	// Category names the unit of work this page belongs to.
	Category string

	// Page is the 1-indexed result page number.
	Page int

	// Timeout overrides the global navigation timeout for this request.
	Timeout time.Duration

	// CreatedAt is when this request was created.
	CreatedAt time.Time
}

// NewPageRequest builds a request for one page of a category listing.
// Page 1 uses the base URL untouched; later pages set the page query
// parameter on a copy of the URL.
func NewPageRequest(category, baseURL string, page int) (*PageRequest, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid URL %q: %w", baseURL, ErrInvalidURL)
	}
	if page < 1 {
		page = 1
	}
	if page > 1 {
		q := u.Query()
		q.Set("page", strconv.Itoa(page))
		u.RawQuery = q.Encode()
	}

	return &PageRequest{
		URL:       u,
		Method:    http.MethodGet,
		Headers:   make(http.Header),
		Category:  category,
		Page:      page,
		CreatedAt: time.Now(),
	}, nil
}

// URLString returns the string representation of the request URL.
func (r *PageRequest) URLString() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.String()
}

// Domain returns the hostname of the request URL.
func (r *PageRequest) Domain() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.Hostname()
}

// Clone creates a deep copy of the request.
func (r *PageRequest) Clone() *PageRequest {
	clone := *r
	if r.URL != nil {
		u := *r.URL
		clone.URL = &u
	}
	clone.Headers = r.Headers.Clone()
	return &clone
}
