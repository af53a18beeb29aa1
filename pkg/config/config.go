// Package config loads the export tool configuration from a JSON or TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	// ErrConfigNotFound is returned when the config file does not exist.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid is returned when the config file cannot be parsed.
	ErrConfigInvalid = errors.New("config file is invalid")

	// ErrMissingValue is returned when a required key is absent or empty.
	ErrMissingValue = errors.New("missing required configuration values")
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "config.json"

// AssetsPathFormat is the project view assets endpoint, relative to BASE_URL.
const AssetsPathFormat = "/api/v2/project-views/%s/assets/"

// Config holds the export configuration. Keys match the upper snake case
// names used in config.json.
type Config struct {
	// API token sent as "Authorization: Token <token>".
	APIToken string `koanf:"KOBO_API_TOKEN"`
	// API origin, e.g. https://kf.kobotoolbox.org.
	BaseURL string `koanf:"BASE_URL"`
	// Project view whose assets are exported.
	ProjectViewUID string `koanf:"PROJECT_VIEW_UID"`

	// Spreadsheet path.
	OutputFile string `koanf:"OUTPUT_FILE"`
	// Pause between page requests.
	PageDelay time.Duration `koanf:"PAGE_DELAY"`
	// Upper bound on pages followed.
	MaxPages int `koanf:"MAX_PAGES"`
	// Timeout for a single page request.
	RequestTimeout time.Duration `koanf:"REQUEST_TIMEOUT"`
	// Overall fetch timeout, 0 for none.
	FetchTimeout time.Duration `koanf:"FETCH_TIMEOUT"`

	// Redis address for the page cache. Empty disables caching.
	RedisAddr string `koanf:"REDIS_ADDR"`
	// Lifetime of a cached page.
	CacheTTL time.Duration `koanf:"CACHE_TTL"`

	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"LOG_LEVEL"`
}

// Default returns a Config holding every optional default.
func Default() Config {
	return Config{
		OutputFile:     "project_metadata.xlsx",
		PageDelay:      500 * time.Millisecond,
		MaxPages:       10000,
		RequestTimeout: 30 * time.Second,
		CacheTTL:       10 * time.Minute,
		LogLevel:       "info",
	}
}

// Option overrides a loaded value before validation.
type Option func(*Config)

// WithToken overrides KOBO_API_TOKEN when token is non-empty.
func WithToken(token string) Option {
	return func(c *Config) {
		if token != "" {
			c.APIToken = token
		}
	}
}

// WithOutputFile overrides OUTPUT_FILE when path is non-empty.
func WithOutputFile(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.OutputFile = path
		}
	}
}

// WithLogLevel overrides LOG_LEVEL when level is non-empty.
func WithLogLevel(level string) Option {
	return func(c *Config) {
		if level != "" {
			c.LogLevel = level
		}
	}
}

// Load reads path, applies defaults for optional keys, then opts, and
// validates the required ones.
func Load(path string, opts ...Option) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, path, err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, path, err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, path, err)
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// parserFor picks the koanf parser by file extension. JSON is the default.
func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Parser()
	default:
		return json.Parser()
	}
}

// Validate checks the required keys and the optional numeric bounds.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.APIToken) == "" {
		missing = append(missing, "KOBO_API_TOKEN")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		missing = append(missing, "BASE_URL")
	}
	if strings.TrimSpace(c.ProjectViewUID) == "" {
		missing = append(missing, "PROJECT_VIEW_UID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingValue, strings.Join(missing, ", "))
	}

	if c.PageDelay < 0 {
		return fmt.Errorf("%w: PAGE_DELAY must be >= 0 (got %s)", ErrConfigInvalid, c.PageDelay)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("%w: MAX_PAGES must be >= 0 (got %d)", ErrConfigInvalid, c.MaxPages)
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("%w: FETCH_TIMEOUT must be >= 0 (got %s)", ErrConfigInvalid, c.FetchTimeout)
	}

	return nil
}

// AssetsURL returns the first page URL of the project view assets listing.
func (c *Config) AssetsURL() string {
	return strings.TrimRight(c.BaseURL, "/") + fmt.Sprintf(AssetsPathFormat, c.ProjectViewUID)
}
