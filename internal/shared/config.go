package shared

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"mcscout/internal/errors"
)

const (
	DefaultSearchURL = "https://api.shodan.io/shodan/host/search"
	DefaultQuery     = "Minecraft"

	MinPages = 1
	MaxPages = 10

	DefaultRequestTimeout  = 20 * time.Second
	DefaultMaxRetries      = 3
	DefaultRetryBackoff    = 1 * time.Second
	DefaultMaxRetryBackoff = 30 * time.Second

	envPrefix = "SCOUT"
)

// ScanConfig is the search configuration for one rescan. It is loaded fresh
// for every operation and passed by value; nothing holds on to it.
type ScanConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	MCVersion       string        `mapstructure:"mc_version"`
	Query           string        `mapstructure:"query"`
	Pages           int           `mapstructure:"pages"`
	SearchURL       string        `mapstructure:"search_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	ActiveOnly      bool          `mapstructure:"active_only"`
	OutputFile      string        `mapstructure:"output_file"`
}

// LoadScanConfig reads .env files, the optional config file at path (JSON or
// YAML, keys are case-insensitive so API_KEY and api_key both work) and
// SCOUT_* environment overrides. A missing file is not an error; the key may
// come from the environment.
func LoadScanConfig(path string) (ScanConfig, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetDefault("api_key", "")
	v.SetDefault("mc_version", "")
	v.SetDefault("query", DefaultQuery)
	v.SetDefault("pages", MinPages)
	v.SetDefault("search_url", DefaultSearchURL)
	v.SetDefault("request_timeout", DefaultRequestTimeout)
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("retry_backoff", DefaultRetryBackoff)
	v.SetDefault("max_retry_backoff", DefaultMaxRetryBackoff)
	v.SetDefault("active_only", false)
	v.SetDefault("output_file", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return ScanConfig{}, errors.NewConfigError("scan", "failed to read "+path, err)
			}
		} else if !os.IsNotExist(err) {
			return ScanConfig{}, errors.NewConfigError("scan", "cannot access "+path, err)
		}
	}

	var cfg ScanConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ScanConfig{}, errors.NewConfigError("scan", "invalid configuration", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *ScanConfig) applyDefaults() {
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.MCVersion = strings.TrimSpace(c.MCVersion)
	if strings.TrimSpace(c.Query) == "" {
		c.Query = DefaultQuery
	}
	c.Pages = ClampPages(c.Pages)
	if c.SearchURL == "" {
		c.SearchURL = DefaultSearchURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		c.MaxRetryBackoff = DefaultMaxRetryBackoff
	}
}

// Validate reports a ConfigError when no API key is set.
func (c ScanConfig) Validate() error {
	if c.APIKey == "" {
		return errors.NewConfigError("scan", "API key is not set", errors.ErrAPIKeyRequired)
	}
	return nil
}

// ClampPages maps anything outside [MinPages, MaxPages] to MinPages.
func ClampPages(n int) int {
	if n < MinPages || n > MaxPages {
		return MinPages
	}
	return n
}

// Auth modes for the HTTP API.
const (
	AuthDev      = "dev"
	AuthEnforced = "enforced"
)

// ServerConfig is read once at startup by scout-server.
type ServerConfig struct {
	Addr           string
	Database       string
	ScanConfigPath string
	AuthMode       string
	ServiceKey     string
	CacheTTL       time.Duration
	LogLevel       string
	LogFormat      string
}

// NewServerViper returns a viper instance wired for SCOUT_* environment
// variables, after loading .env files. Callers bind their flags to it.
func NewServerViper() *viper.Viper {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// ServerConfigFrom builds a ServerConfig from a viper instance whose keys are
// the scout-server flag names.
func ServerConfigFrom(v *viper.Viper) ServerConfig {
	cfg := ServerConfig{
		Addr:           v.GetString("addr"),
		Database:       v.GetString("db"),
		ScanConfigPath: v.GetString("config"),
		AuthMode:       strings.ToLower(v.GetString("auth")),
		ServiceKey:     v.GetString("service-key"),
		CacheTTL:       v.GetDuration("cache-ttl"),
		LogLevel:       v.GetString("log-level"),
		LogFormat:      v.GetString("log-format"),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8085"
	}
	if cfg.Database == "" {
		cfg.Database = "./data/servers.db"
	}
	if cfg.AuthMode != AuthEnforced {
		cfg.AuthMode = AuthDev
	}
	return cfg
}

// loadEnvFiles loads .env then .env.local; existing variables win.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}
