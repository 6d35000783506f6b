package config

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/rgaudreau/dealstalker/internal/types"
)

// invalidf builds a validation error wrapping types.ErrConfigInvalid.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{types.ErrConfigInvalid}, args...)...)
}

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.Engine.MaxPagesPerCategory < 1 {
		return invalidf("engine.max_pages_per_category must be >= 1, got %d", cfg.Engine.MaxPagesPerCategory)
	}
	if cfg.Engine.MaxRetries < 1 {
		return invalidf("engine.max_retries must be >= 1, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.NavTimeout <= 0 {
		return invalidf("engine.nav_timeout must be > 0")
	}
	if cfg.Engine.BackoffBase < 0 {
		return invalidf("engine.backoff_base must be >= 0")
	}
	if cfg.Engine.RetryDelay < 0 {
		return invalidf("engine.retry_delay must be >= 0")
	}
	if cfg.Engine.ChallengeWait < 0 {
		return invalidf("engine.challenge_wait must be >= 0")
	}

	if cfg.Pacing.MinPageDelay < 0 {
		return invalidf("pacing.min_page_delay must be >= 0")
	}
	if cfg.Pacing.MaxPageDelay < cfg.Pacing.MinPageDelay {
		return invalidf("pacing.max_page_delay must be >= pacing.min_page_delay")
	}
	if cfg.Pacing.ScrollDelayMax < 0 {
		return invalidf("pacing.scroll_delay_max must be >= 0")
	}

	if cfg.Fetcher.Type != "http" && cfg.Fetcher.Type != "browser" {
		return invalidf("fetcher.type must be 'http' or 'browser', got %q", cfg.Fetcher.Type)
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return invalidf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return invalidf("fetcher.max_redirects must be >= 0")
	}

	if cfg.Proxy.Enabled {
		if cfg.Proxy.Rotation != "round_robin" && cfg.Proxy.Rotation != "random" {
			return invalidf("proxy.rotation must be 'round_robin' or 'random', got %q", cfg.Proxy.Rotation)
		}
		if len(cfg.Proxy.URLs) == 0 {
			return invalidf("proxy.urls must not be empty when proxy is enabled")
		}
		for _, proxyURL := range cfg.Proxy.URLs {
			if _, err := url.Parse(proxyURL); err != nil {
				return invalidf("invalid proxy URL %q: %v", proxyURL, err)
			}
		}
	}

	if err := ValidateURL(cfg.Site.BaseURL); err != nil {
		return invalidf("site.base_url: %v", err)
	}

	for i, cat := range cfg.Categories {
		if cat.Name == "" {
			return invalidf("categories[%d].name must not be empty", i)
		}
		if err := ValidateURL(cat.URL); err != nil {
			return invalidf("categories[%d] (%s): %v", i, cat.Name, err)
		}
		if cat.MaxPages < 0 {
			return invalidf("categories[%d] (%s): max_pages must be >= 0", i, cat.Name)
		}
	}

	if cfg.Selectors.ProductCard == "" {
		return invalidf("selectors.product_card must not be empty")
	}
	if cfg.Selectors.IdentifierAttr == "" {
		return invalidf("selectors.identifier_attr must not be empty")
	}
	if len(cfg.Selectors.Title) == 0 {
		return invalidf("selectors.title must have at least one selector")
	}

	validStorageTypes := map[string]bool{
		"json": true, "jsonl": true, "csv": true,
		"mongodb": true, "redis": true, "multi": true,
	}
	if !validStorageTypes[cfg.Storage.Type] {
		return invalidf("storage.type %q is not supported (valid: json, jsonl, csv, mongodb, redis, multi)", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "multi" {
		if len(cfg.Storage.Types) == 0 {
			return invalidf("storage.types must not be empty when storage.type is 'multi'")
		}
		for _, t := range cfg.Storage.Types {
			if t == "multi" || !validStorageTypes[t] {
				return invalidf("storage.types entry %q is not supported", t)
			}
		}
	}
	if storageNeedsMongo(cfg.Storage) && cfg.Storage.MongoURI == "" {
		return invalidf("storage.mongo_uri must be set for the mongodb backend")
	}
	if storageNeedsRedis(cfg.Storage) && cfg.Storage.RedisAddr == "" {
		return invalidf("storage.redis_addr must be set for the redis backend")
	}
	if storageNeedsFiles(cfg.Storage) && cfg.Storage.OutputDir == "" {
		return invalidf("storage.output_dir must be set for file backends")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return invalidf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return invalidf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return invalidf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

func storageNeedsMongo(sc StorageConfig) bool {
	return sc.Type == "mongodb" || (sc.Type == "multi" && slices.Contains(sc.Types, "mongodb"))
}

func storageNeedsRedis(sc StorageConfig) bool {
	return sc.Type == "redis" || (sc.Type == "multi" && slices.Contains(sc.Types, "redis"))
}

func storageNeedsFiles(sc StorageConfig) bool {
	switch sc.Type {
	case "json", "jsonl", "csv":
		return true
	case "multi":
		for _, t := range sc.Types {
			if t == "json" || t == "jsonl" || t == "csv" {
				return true
			}
		}
	}
	return false
}

// ValidateURL checks if a URL string is usable as a scrape target.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
