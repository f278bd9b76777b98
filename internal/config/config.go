package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"github.com/chenders/deadonfilm-sub014/internal/budget"
	"github.com/chenders/deadonfilm-sub014/internal/cost"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Budget     budget.Limits    `yaml:"budget" mapstructure:"budget"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Captcha    CaptchaConfig    `yaml:"captcha" mapstructure:"captcha"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Waterfall  WaterfallConfig  `yaml:"waterfall" mapstructure:"waterfall"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig configures the lookup cache backend.
type CacheConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	Path     string `yaml:"path" mapstructure:"path"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTL returns the entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int                        `yaml:"concurrency" mapstructure:"concurrency"`
	Breaker     resilience.BreakerSettings `yaml:"breaker" mapstructure:"breaker"`
}

// FetchConfig configures direct page fetches.
type FetchConfig struct {
	UserAgent    string                   `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs  int                      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBodyBytes int64                    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	Retry        resilience.RetrySettings `yaml:"retry" mapstructure:"retry"`
}

// ArchiveConfig configures the Wayback Machine fallback.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// BrowserConfig configures the headless browser fallback.
type BrowserConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	PoolSize       int    `yaml:"pool_size" mapstructure:"pool_size"`
	Headless       bool   `yaml:"headless" mapstructure:"headless"`
	Bin            string `yaml:"bin" mapstructure:"bin"`
	NavTimeoutSecs int    `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs"`
	ViewportWidth  int    `yaml:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height" mapstructure:"viewport_height"`
}

// CaptchaConfig configures the CAPTCHA solving service.
type CaptchaConfig struct {
	APIKey          string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxCostPerSolve float64 `yaml:"max_cost_per_solve" mapstructure:"max_cost_per_solve"`
}

// GoogleConfig holds Custom Search credentials.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	CX      string `yaml:"cx" mapstructure:"cx"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// WaterfallConfig points at the tier configuration file.
type WaterfallConfig struct {
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// MetricsConfig configures the end-of-run metrics export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEADONFILM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	rates := cost.DefaultRates()
	cfg.Pricing.Anthropic = fillModelRates(cfg.Pricing.Anthropic, rates.Anthropic)
	cfg.Pricing.Gemini = fillModelRates(cfg.Pricing.Gemini, rates.Gemini)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	rates := cost.DefaultRates()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "deadonfilm.db")
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "deadonfilm-cache.db")
	v.SetDefault("cache.ttl_hours", 24*30)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.breaker.failure_threshold", 5)
	v.SetDefault("batch.breaker.reset_timeout_secs", 300)
	v.SetDefault("budget.max_total_cost", 0)
	v.SetDefault("budget.max_subject_cost", 0)
	v.SetDefault("budget.warning_threshold", 0.8)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_body_bytes", 2<<20)
	v.SetDefault("fetch.retry.max_attempts", 2)
	v.SetDefault("fetch.retry.initial_backoff_ms", 500)
	v.SetDefault("fetch.retry.max_backoff_ms", 10000)
	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.base_url", "https://archive.org")
	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.pool_size", 2)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_secs", 90)
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 900)
	v.SetDefault("captcha.base_url", "https://2captcha.com")
	v.SetDefault("captcha.timeout_secs", 120)
	v.SetDefault("captcha.max_cost_per_solve", 0.005)
	// Credentials need a default so AutomaticEnv can see them on Unmarshal.
	for _, key := range []string{
		"captcha.api_key", "google.key", "google.cx", "jina.key",
		"perplexity.key", "anthropic.key", "gemini.key", "metrics.textfile", "log.file",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("google.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("pricing.jina.per_mtok", rates.Jina.PerMTok)
	v.SetDefault("pricing.jina.tokens_per_query", rates.Jina.TokensPerQuery)
	v.SetDefault("pricing.perplexity.per_query", rates.Perplexity.PerQuery)
	v.SetDefault("pricing.perplexity.tokens.input", rates.Perplexity.Tokens.Input)
	v.SetDefault("pricing.perplexity.tokens.output", rates.Perplexity.Tokens.Output)
	v.SetDefault("pricing.google_search.per_query", rates.GoogleSearch.PerQuery)
	v.SetDefault("pricing.captcha.per_solve", rates.Captcha.PerSolve)
	v.SetDefault("waterfall.config_path", "waterfall.yaml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
}

// fillModelRates adds the built-in per-model rates for models the file does
// not price. Model names such as gemini-2.5-flash contain viper's key
// delimiter, so they cannot be registered as viper defaults.
func fillModelRates(dst map[string]cost.TokenRate, defaults map[string]cost.TokenRate) map[string]cost.TokenRate {
	if dst == nil {
		dst = make(map[string]cost.TokenRate, len(defaults))
	}
	for name, r := range defaults {
		if _, ok := dst[name]; !ok {
			dst[name] = r
		}
	}
	return dst
}

// Validate checks settings that would otherwise fail mid-run. tiers are
// the tiers the operator enabled; an enabled tier with no usable
// credentials is a fatal configuration error.
func (c *Config) Validate(tiers []model.Tier) error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	switch c.Cache.Driver {
	case "memory", "sqlite", "badger":
	default:
		return eris.Errorf("config: unknown cache driver %q", c.Cache.Driver)
	}
	if c.Cache.Driver != "memory" && c.Cache.Path == "" {
		return eris.Errorf("config: cache.path is required for driver %s", c.Cache.Driver)
	}
	if c.Batch.Concurrency < 1 {
		return eris.Errorf("config: batch.concurrency must be at least 1, got %d", c.Batch.Concurrency)
	}
	if c.Budget.MaxTotalCost < 0 || c.Budget.MaxSubjectCost < 0 {
		return eris.New("config: budget ceilings must not be negative")
	}
	if c.Browser.Enabled && c.Browser.PoolSize < 1 {
		return eris.New("config: browser.pool_size must be at least 1 when the browser is enabled")
	}

	for _, t := range tiers {
		switch t {
		case model.TierPaid:
			if !c.HasPaidSearch() {
				return eris.New("config: paid tier enabled but neither google (key and cx) nor jina credentials are set")
			}
		case model.TierAI:
			if !c.HasAI() {
				return eris.New("config: ai tier enabled but no perplexity, anthropic or gemini key is set")
			}
		}
	}
	return nil
}

// HasPaidSearch reports whether any paid search source has credentials.
func (c *Config) HasPaidSearch() bool {
	return (c.Google.Key != "" && c.Google.CX != "") || c.Jina.Key != ""
}

// HasAI reports whether any AI source has credentials.
func (c *Config) HasAI() bool {
	return c.Perplexity.Key != "" || c.Anthropic.Key != "" || c.Gemini.Key != ""
}
