package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults from struct
	setDefaults(v, cfg)

	// Environment variable support
	v.SetEnvPrefix("DEALSTALKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search default locations
		v.SetConfigName("dealstalker")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".dealstalker"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return Load(path)
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("engine.max_pages_per_category", cfg.Engine.MaxPagesPerCategory)
	v.SetDefault("engine.max_retries", cfg.Engine.MaxRetries)
	v.SetDefault("engine.nav_timeout", cfg.Engine.NavTimeout)
	v.SetDefault("engine.backoff_base", cfg.Engine.BackoffBase)
	v.SetDefault("engine.retry_delay", cfg.Engine.RetryDelay)
	v.SetDefault("engine.challenge_wait", cfg.Engine.ChallengeWait)

	v.SetDefault("pacing.min_page_delay", cfg.Pacing.MinPageDelay)
	v.SetDefault("pacing.max_page_delay", cfg.Pacing.MaxPageDelay)
	v.SetDefault("pacing.scroll_delay_max", cfg.Pacing.ScrollDelayMax)
	v.SetDefault("pacing.humanize", cfg.Pacing.Humanize)

	v.SetDefault("fetcher.type", cfg.Fetcher.Type)
	v.SetDefault("fetcher.headless", cfg.Fetcher.Headless)
	v.SetDefault("fetcher.user_agents", cfg.Fetcher.UserAgents)
	v.SetDefault("fetcher.follow_redirects", cfg.Fetcher.FollowRedirects)
	v.SetDefault("fetcher.max_redirects", cfg.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.idle_conn_timeout", cfg.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.max_idle_conns", cfg.Fetcher.MaxIdleConns)

	v.SetDefault("proxy.enabled", cfg.Proxy.Enabled)
	v.SetDefault("proxy.rotation", cfg.Proxy.Rotation)
	v.SetDefault("proxy.rotate_on_fail", cfg.Proxy.RotateOnFail)

	v.SetDefault("session.cookie_path", cfg.Session.CookiePath)

	v.SetDefault("site.key", cfg.Site.Key)
	v.SetDefault("site.base_url", cfg.Site.BaseURL)
	v.SetDefault("site.search_path", cfg.Site.SearchPath)

	v.SetDefault("selectors.product_card", cfg.Selectors.ProductCard)
	v.SetDefault("selectors.identifier_attr", cfg.Selectors.IdentifierAttr)
	v.SetDefault("selectors.title", cfg.Selectors.Title)
	v.SetDefault("selectors.image", cfg.Selectors.Image)
	v.SetDefault("selectors.price_current", cfg.Selectors.PriceCurrent)
	v.SetDefault("selectors.price_original", cfg.Selectors.PriceOriginal)
	v.SetDefault("selectors.discount_badge", cfg.Selectors.DiscountBadge)
	v.SetDefault("selectors.rating", cfg.Selectors.Rating)
	v.SetDefault("selectors.review_count", cfg.Selectors.ReviewCount)
	v.SetDefault("selectors.next_page", cfg.Selectors.NextPage)
	v.SetDefault("selectors.challenge_markers", cfg.Selectors.ChallengeMarkers)
	v.SetDefault("selectors.challenge_forms", cfg.Selectors.ChallengeForms)
	v.SetDefault("selectors.challenge_inputs", cfg.Selectors.ChallengeInputs)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.output_dir", cfg.Storage.OutputDir)
	v.SetDefault("storage.mongo_database", cfg.Storage.MongoDatabase)
	v.SetDefault("storage.mongo_collection", cfg.Storage.MongoCollection)
	v.SetDefault("storage.redis_stream", cfg.Storage.RedisStream)
	v.SetDefault("storage.redis_max_len", cfg.Storage.RedisMaxLen)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
