// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/webmonitor/internal/monitor"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MonitorConfig holds the capacity limits.
type MonitorConfig struct {
	MaxLinks     int `mapstructure:"max_links"`
	HistoryLimit int `mapstructure:"history_limit"`
}

// FetchConfig configures page retrieval and retry behavior.
type FetchConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int     `mapstructure:"max_body_bytes"`
	HostRPS          float64 `mapstructure:"host_rps"`
	HostBurst        int     `mapstructure:"host_burst"`
}

// NormalizeConfig sets the volatile-markup policy.
type NormalizeConfig struct {
	StripSelectors   []string `mapstructure:"strip_selectors"`
	VolatilePatterns []string `mapstructure:"volatile_patterns"`
	MaxChars         int      `mapstructure:"max_chars"`
}

// LLMConfig configures the OpenAI-compatible summarization endpoint.
type LLMConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	MaxDiffChars   int    `mapstructure:"max_diff_chars"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	Driver         string         `mapstructure:"driver"`
	TimeoutSeconds int            `mapstructure:"timeout_seconds"`
	SQLite         SQLiteConfig   `mapstructure:"sqlite"`
	Postgres       PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig points at the embedded database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to a Postgres server.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// ArchiveConfig selects where raw page bodies are archived.
type ArchiveConfig struct {
	Driver    string `mapstructure:"driver"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Supported backend names.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"

	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// DefaultUserAgent mimics a desktop browser; many sites refuse bare client agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// DefaultStripSelectors lists elements expected to vary independently of meaningful content.
var DefaultStripSelectors = []string{
	"script", "style", "noscript", "template", "iframe", "svg", "canvas",
	"nav", "footer",
	"[class*='cookie']", "[id*='cookie']",
	"[class*='advert']", "[id*='advert']", "[class*='ad-slot']", "ins.adsbygoogle",
	"time", "[class*='timestamp']", "[class*='last-updated']",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBMONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindFallbackEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		// Without an explicit file, look in the usual places; none is required.
		v.SetConfigName("webmonitor")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.webmonitor")
		v.AddConfigPath("/etc/webmonitor/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("monitor.max_links", monitor.DefaultMaxLinks)
	v.SetDefault("monitor.history_limit", monitor.DefaultHistoryLimit)
	v.SetDefault("fetch.user_agent", DefaultUserAgent)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 2000)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.host_rps", 0)
	v.SetDefault("fetch.host_burst", 1)
	v.SetDefault("normalize.strip_selectors", DefaultStripSelectors)
	v.SetDefault("normalize.volatile_patterns", []string{})
	v.SetDefault("normalize.max_chars", 50000)
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.max_tokens", 300)
	v.SetDefault("llm.max_diff_chars", 3000)
	v.SetDefault("llm.timeout_seconds", 20)
	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.timeout_seconds", 10)
	v.SetDefault("store.sqlite.path", "webmonitor.db")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("archive.driver", ArchiveNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// bindFallbackEnv accepts the conventional unprefixed variables used by hosting platforms.
func bindFallbackEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "WEBMONITOR_SERVER_PORT", "PORT")
	_ = v.BindEnv("llm.api_key", "WEBMONITOR_LLM_API_KEY", "GROQ_API_KEY")
	_ = v.BindEnv("store.postgres.dsn", "WEBMONITOR_STORE_POSTGRES_DSN", "DATABASE_URL")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Monitor.MaxLinks <= 0 {
		return fmt.Errorf("monitor.max_links must be > 0")
	}
	if c.Monitor.HistoryLimit <= 0 {
		return fmt.Errorf("monitor.history_limit must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0")
	}
	if c.Fetch.BackoffInitialMs < 0 || c.Fetch.BackoffMaxMs < c.Fetch.BackoffInitialMs {
		return fmt.Errorf("fetch.backoff_max_ms must be >= fetch.backoff_initial_ms >= 0")
	}
	if c.Normalize.MaxChars <= 0 {
		return fmt.Errorf("normalize.max_chars must be > 0")
	}
	for _, p := range c.Normalize.VolatilePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("normalize.volatile_patterns: %q: %w", p, err)
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("llm.timeout_seconds must be > 0")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path must be set when store.driver is sqlite")
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set when store.driver is postgres")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Archive.Driver {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set when archive.driver is local")
		}
	case ArchiveGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.driver is gcs")
		}
	default:
		return fmt.Errorf("archive.driver %q is not supported", c.Archive.Driver)
	}
	return nil
}

// FetchTimeout returns the per-attempt fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// LLMTimeout returns the summarization deadline.
func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

// StoreTimeout bounds each persistence call made by a check.
func (c Config) StoreTimeout() time.Duration {
	if c.Store.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}
