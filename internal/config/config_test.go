package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rgaudreau/dealstalker/internal/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max pages", func(c *Config) { c.Engine.MaxPagesPerCategory = 0 }},
		{"zero max retries", func(c *Config) { c.Engine.MaxRetries = 0 }},
		{"zero nav timeout", func(c *Config) { c.Engine.NavTimeout = 0 }},
		{"negative backoff", func(c *Config) { c.Engine.BackoffBase = -time.Second }},
		{"negative challenge wait", func(c *Config) { c.Engine.ChallengeWait = -time.Second }},
		{"inverted page delay range", func(c *Config) {
			c.Pacing.MinPageDelay = 5 * time.Second
			c.Pacing.MaxPageDelay = 2 * time.Second
		}},
		{"unknown fetcher type", func(c *Config) { c.Fetcher.Type = "carrier_pigeon" }},
		{"zero body size", func(c *Config) { c.Fetcher.MaxBodySize = 0 }},
		{"proxy enabled without urls", func(c *Config) { c.Proxy.Enabled = true }},
		{"bad site base url", func(c *Config) { c.Site.BaseURL = "not a url" }},
		{"category without name", func(c *Config) {
			c.Categories = []CategoryConfig{{URL: "https://example.com/deals"}}
		}},
		{"category with bad url", func(c *Config) {
			c.Categories = []CategoryConfig{{Name: "deals", URL: "ftp://example.com"}}
		}},
		{"empty product card selector", func(c *Config) { c.Selectors.ProductCard = "" }},
		{"empty identifier attr", func(c *Config) { c.Selectors.IdentifierAttr = "" }},
		{"no title selectors", func(c *Config) { c.Selectors.Title = nil }},
		{"unknown storage type", func(c *Config) { c.Storage.Type = "clay_tablet" }},
		{"multi storage without types", func(c *Config) { c.Storage.Type = "multi" }},
		{"mongodb without uri", func(c *Config) { c.Storage.Type = "mongodb" }},
		{"redis without addr", func(c *Config) { c.Storage.Type = "redis" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"metrics port out of range", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = 70000
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, types.ErrConfigInvalid) {
				t.Errorf("error should wrap ErrConfigInvalid, got: %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
engine:
  max_pages_per_category: 2
  max_retries: 4
  nav_timeout: 45s
  challenge_wait: 10s
pacing:
  min_page_delay: 1s
  max_page_delay: 3s
fetcher:
  type: http
  headless: false
categories:
  - name: electronics
    url: https://www.amazon.ca/s?i=electronics&s=price-desc-rank
  - name: kitchen
    url: https://www.amazon.ca/s?i=kitchen&s=price-desc-rank
storage:
  type: jsonl
  output_dir: /tmp/deals
output:
  affiliate_tag: dealstalker-20
`
	path := filepath.Join(t.TempDir(), "dealstalker.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Engine.MaxPagesPerCategory != 2 {
		t.Errorf("max_pages_per_category = %d, want 2", cfg.Engine.MaxPagesPerCategory)
	}
	if cfg.Engine.MaxRetries != 4 {
		t.Errorf("max_retries = %d, want 4", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.NavTimeout != 45*time.Second {
		t.Errorf("nav_timeout = %v, want 45s", cfg.Engine.NavTimeout)
	}
	if cfg.Fetcher.Type != "http" {
		t.Errorf("fetcher.type = %q, want http", cfg.Fetcher.Type)
	}
	if cfg.Fetcher.Headless {
		t.Error("headless should be overridden to false")
	}
	if len(cfg.Categories) != 2 || cfg.Categories[1].Name != "kitchen" {
		t.Errorf("categories not loaded: %+v", cfg.Categories)
	}
	if cfg.Storage.Type != "jsonl" || cfg.Storage.OutputDir != "/tmp/deals" {
		t.Errorf("storage not loaded: %+v", cfg.Storage)
	}
	if cfg.Output.AffiliateTag != "dealstalker-20" {
		t.Errorf("affiliate_tag = %q", cfg.Output.AffiliateTag)
	}

	// Untouched keys keep defaults.
	if cfg.Engine.BackoffBase != 5*time.Second {
		t.Errorf("backoff_base default lost: %v", cfg.Engine.BackoffBase)
	}
	if cfg.Selectors.ProductCard == "" {
		t.Error("default selectors should survive partial config")
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for explicitly given missing file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DEALSTALKER_ENGINE_MAX_RETRIES", "7")
	t.Setenv("DEALSTALKER_FETCHER_TYPE", "http")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Engine.MaxRetries != 7 {
		t.Errorf("env override lost: max_retries = %d, want 7", cfg.Engine.MaxRetries)
	}
	if cfg.Fetcher.Type != "http" {
		t.Errorf("env override lost: fetcher.type = %q, want http", cfg.Fetcher.Type)
	}
}

func TestSiteSearchURL(t *testing.T) {
	site := SiteConfig{
		Key:        "amazon_ca",
		BaseURL:    "https://www.amazon.ca/",
		SearchPath: "/s?k=%s&ref=nb_sb_noss",
	}

	got := site.SearchURL("usb c hub")
	want := "https://www.amazon.ca/s?k=usb+c+hub&ref=nb_sb_noss"
	if got != want {
		t.Errorf("SearchURL = %q, want %q", got, want)
	}

	// The trailing base slash must not double up with the path.
	if got := site.SearchURL("tv"); got != "https://www.amazon.ca/s?k=tv&ref=nb_sb_noss" {
		t.Errorf("SearchURL = %q", got)
	}
}
