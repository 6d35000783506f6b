package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for DealStalker.
type Config struct {
	Engine     EngineConfig     `mapstructure:"engine"     yaml:"engine"`
	Pacing     PacingConfig     `mapstructure:"pacing"     yaml:"pacing"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"    yaml:"fetcher"`
	Proxy      ProxyConfig      `mapstructure:"proxy"      yaml:"proxy"`
	Session    SessionConfig    `mapstructure:"session"    yaml:"session"`
	Site       SiteConfig       `mapstructure:"site"       yaml:"site"`
	Categories []CategoryConfig `mapstructure:"categories" yaml:"categories"`
	Selectors  SelectorConfig   `mapstructure:"selectors"  yaml:"selectors"`
	Storage    StorageConfig    `mapstructure:"storage"    yaml:"storage"`
	Output     OutputConfig     `mapstructure:"output"     yaml:"output"`
	Logging    LoggingConfig    `mapstructure:"logging"    yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    yaml:"metrics"`
}

// EngineConfig controls the page loop and retry behavior.
type EngineConfig struct {
	MaxPagesPerCategory int           `mapstructure:"max_pages_per_category" yaml:"max_pages_per_category"`
	MaxRetries          int           `mapstructure:"max_retries"            yaml:"max_retries"`
	NavTimeout          time.Duration `mapstructure:"nav_timeout"            yaml:"nav_timeout"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"           yaml:"backoff_base"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"            yaml:"retry_delay"`
	ChallengeWait       time.Duration `mapstructure:"challenge_wait"         yaml:"challenge_wait"`
}

// PacingConfig controls delays between pages and in-page behavior simulation.
type PacingConfig struct {
	MinPageDelay   time.Duration `mapstructure:"min_page_delay"   yaml:"min_page_delay"`
	MaxPageDelay   time.Duration `mapstructure:"max_page_delay"   yaml:"max_page_delay"`
	ScrollDelayMax time.Duration `mapstructure:"scroll_delay_max" yaml:"scroll_delay_max"`
	Humanize       bool          `mapstructure:"humanize"         yaml:"humanize"`
}

// FetcherConfig controls how pages are fetched.
type FetcherConfig struct {
	Type            string        `mapstructure:"type"              yaml:"type"` // "browser" or "http"
	Headless        bool          `mapstructure:"headless"          yaml:"headless"`
	UserAgents      []string      `mapstructure:"user_agents"       yaml:"user_agents"`
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
}

// ProxyConfig controls proxy rotation.
type ProxyConfig struct {
	Enabled      bool     `mapstructure:"enabled"        yaml:"enabled"`
	Rotation     string   `mapstructure:"rotation"       yaml:"rotation"`
	URLs         []string `mapstructure:"urls"           yaml:"urls"`
	RotateOnFail bool     `mapstructure:"rotate_on_fail" yaml:"rotate_on_fail"`
}

// SessionConfig controls browser session persistence.
type SessionConfig struct {
	CookiePath string `mapstructure:"cookie_path" yaml:"cookie_path"`
}

// SiteConfig identifies the target site.
type SiteConfig struct {
	// Key tags every record with the site it came from, e.g. "amazon_ca".
	Key string `mapstructure:"key" yaml:"key"`

	// BaseURL is used to build canonical product detail links.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// SearchPath is the path template for ad hoc search units.
	SearchPath string `mapstructure:"search_path" yaml:"search_path"`
}

// SearchURL builds a search results URL for the given term by filling
// the search path template.
func (s SiteConfig) SearchURL(term string) string {
	return strings.TrimRight(s.BaseURL, "/") + fmt.Sprintf(s.SearchPath, url.QueryEscape(term))
}

// CategoryConfig is one unit of work: a named listing URL to walk.
type CategoryConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	URL  string `mapstructure:"url"  yaml:"url"`

	// MaxPages overrides engine.max_pages_per_category for this
	// category. Zero means use the engine default.
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`
}

// SelectorConfig holds the selector cascades for field extraction.
// Each list is tried in order; the first selector that resolves wins.
// Entries prefixed with "xpath:" are evaluated as XPath, the rest as CSS.
type SelectorConfig struct {
	ProductCard      string   `mapstructure:"product_card"      yaml:"product_card"`
	IdentifierAttr   string   `mapstructure:"identifier_attr"   yaml:"identifier_attr"`
	Title            []string `mapstructure:"title"             yaml:"title"`
	Image            []string `mapstructure:"image"             yaml:"image"`
	PriceCurrent     []string `mapstructure:"price_current"     yaml:"price_current"`
	PriceOriginal    []string `mapstructure:"price_original"    yaml:"price_original"`
	DiscountBadge    []string `mapstructure:"discount_badge"    yaml:"discount_badge"`
	Rating           []string `mapstructure:"rating"            yaml:"rating"`
	ReviewCount      []string `mapstructure:"review_count"      yaml:"review_count"`
	NextPage         []string `mapstructure:"next_page"         yaml:"next_page"`
	ChallengeMarkers []string `mapstructure:"challenge_markers" yaml:"challenge_markers"`
	ChallengeForms   []string `mapstructure:"challenge_forms"   yaml:"challenge_forms"`
	ChallengeInputs  []string `mapstructure:"challenge_inputs"  yaml:"challenge_inputs"`
}

// StorageConfig controls output/storage backends.
type StorageConfig struct {
	Type            string   `mapstructure:"type"             yaml:"type"` // json, jsonl, csv, mongodb, redis, multi
	Types           []string `mapstructure:"types"            yaml:"types"`
	OutputDir       string   `mapstructure:"output_dir"       yaml:"output_dir"`
	MongoURI        string   `mapstructure:"mongo_uri"        yaml:"mongo_uri"`
	MongoDatabase   string   `mapstructure:"mongo_database"   yaml:"mongo_database"`
	MongoCollection string   `mapstructure:"mongo_collection" yaml:"mongo_collection"`
	RedisAddr       string   `mapstructure:"redis_addr"       yaml:"redis_addr"`
	RedisDB         int      `mapstructure:"redis_db"         yaml:"redis_db"`
	RedisStream     string   `mapstructure:"redis_stream"     yaml:"redis_stream"`
	RedisMaxLen     int64    `mapstructure:"redis_max_len"    yaml:"redis_max_len"`
}

// OutputConfig controls post-processing of accepted records.
type OutputConfig struct {
	// AffiliateTag, when set, is appended as the tag query parameter
	// on every product URL.
	AffiliateTag string `mapstructure:"affiliate_tag" yaml:"affiliate_tag"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxPagesPerCategory: 5,
			MaxRetries:          3,
			NavTimeout:          30 * time.Second,
			BackoffBase:         5 * time.Second,
			RetryDelay:          5 * time.Second,
			ChallengeWait:       30 * time.Second,
		},
		Pacing: PacingConfig{
			MinPageDelay:   2 * time.Second,
			MaxPageDelay:   5 * time.Second,
			ScrollDelayMax: 1500 * time.Millisecond,
			Humanize:       true,
		},
		Fetcher: FetcherConfig{
			Type:     "browser",
			Headless: true,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
		},
		Proxy: ProxyConfig{
			Enabled:      false,
			Rotation:     "round_robin",
			RotateOnFail: true,
		},
		Session: SessionConfig{
			CookiePath: "data/cookies/session.json",
		},
		Site: SiteConfig{
			Key:        "amazon_ca",
			BaseURL:    "https://www.amazon.ca",
			SearchPath: "/s?k=%s&ref=nb_sb_noss",
		},
		Selectors: SelectorConfig{
			ProductCard:    `div[data-component-type="s-search-result"]`,
			IdentifierAttr: "data-asin",
			Title: []string{
				"h2 a span",
				"xpath://h2//span",
			},
			Image: []string{
				"img.s-image",
			},
			PriceCurrent: []string{
				".a-price > .a-offscreen",
				"span.a-price:not(.a-text-price) .a-offscreen",
			},
			PriceOriginal: []string{
				"span.a-price.a-text-price .a-offscreen",
				".a-text-price .a-offscreen",
			},
			DiscountBadge: []string{
				"span.savingsPercentage",
			},
			Rating: []string{
				`span[aria-label*="out of 5 stars"]`,
				"i.a-icon-star-small",
			},
			ReviewCount: []string{
				`[aria-label*="out of 5 stars"] + span`,
				".a-size-base.s-underline-text",
				`span[aria-label*="out of 5 stars"] ~ span`,
			},
			NextPage: []string{
				"a.s-pagination-next:not(.s-pagination-disabled)",
			},
			ChallengeMarkers: []string{"captcha"},
			ChallengeForms:   []string{`form[action*="captcha"]`},
			ChallengeInputs:  []string{"#captchacharacters"},
		},
		Storage: StorageConfig{
			Type:            "json",
			OutputDir:       "data/deals",
			MongoDatabase:   "dealstalker",
			MongoCollection: "listings",
			RedisStream:     "dealstalker:listings",
			RedisMaxLen:     10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
