// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration: ambient settings
// (logger, browser) plus the source console, session store, export and
// destination sections that drive a migration run.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Source      SourceConfig      `mapstructure:"source" yaml:"source"`
	Export      ExportConfig      `mapstructure:"export" yaml:"export"`
	Destination DestinationConfig `mapstructure:"destination" yaml:"destination"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driven over CDP.
type BrowserConfig struct {
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	Args     []string `mapstructure:"args" yaml:"args"`
}

// SessionConfig controls where serialized browser sessions live and how
// long they are honored before a fresh login is forced. A TTL of zero
// or less means saved sessions never expire.
type SessionConfig struct {
	Dir string        `mapstructure:"dir" yaml:"dir"`
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// SourceConfig describes the console being scraped and the identity
// used to log in to it.
type SourceConfig struct {
	Username   string `mapstructure:"username" yaml:"username"`
	Password   string `mapstructure:"password" yaml:"-"`
	LoginURL   string `mapstructure:"login_url" yaml:"login_url"`
	ConsoleURL string `mapstructure:"console_url" yaml:"console_url"`
	// APIPrefix is the proxy path prefix under which the console's
	// backend endpoints live; the scrapers match responses against it.
	APIPrefix string `mapstructure:"api_prefix" yaml:"api_prefix"`
}

// ExportConfig controls where scraped artifacts are written.
type ExportConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DestinationConfig describes the GraphQL API artifacts are replayed into.
type DestinationConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	Email    string `mapstructure:"email" yaml:"email"`
	Password string `mapstructure:"password" yaml:"-"`
	TenantID string `mapstructure:"tenant_id" yaml:"tenant_id"`
	// RatePerSecond caps how fast create mutations are issued.
	RatePerSecond float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults initializes default values for all configuration sections.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pvmigrate")
	v.SetDefault("logger.log_file", "pvmigrate.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	// Interactive MFA needs a visible window; headless is opt-in.
	v.SetDefault("browser.headless", false)

	// -- Session --
	v.SetDefault("session.dir", ".sessions")
	v.SetDefault("session.ttl", 8*time.Hour)

	// -- Source --
	v.SetDefault("source.login_url", "https://login.microsoftonline.com")
	v.SetDefault("source.console_url", "https://purview.microsoft.com")
	v.SetDefault("source.api_prefix", "/api/proxy")

	// -- Export --
	v.SetDefault("export.dir", "exports")

	// -- Destination --
	v.SetDefault("destination.rate_per_second", 5.0)
	v.SetDefault("destination.timeout", 30*time.Second)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Unreachable with defaults only, but fail loudly if it ever happens.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper unmarshals and validates a configuration from a
// viper instance that has already read its file and environment.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves "~" in directory settings to the user's home.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Session.Dir, &c.Export.Dir} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("cannot expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration eagerly and reports every problem
// at once, rather than failing piecemeal deep inside a run.
func (c *Config) Validate() error {
	var problems []string

	if c.Session.Dir == "" {
		problems = append(problems, "session.dir must not be empty")
	}
	if c.Export.Dir == "" {
		problems = append(problems, "export.dir must not be empty")
	}
	if c.Source.LoginURL == "" {
		problems = append(problems, "source.login_url is required")
	}
	if c.Source.ConsoleURL == "" {
		problems = append(problems, "source.console_url is required")
	}
	if c.Destination.RatePerSecond <= 0 {
		problems = append(problems, "destination.rate_per_second must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ValidateForExport adds the checks only an export/login run needs.
func (c *Config) ValidateForExport() error {
	if err := c.Validate(); err != nil {
		return err
	}
	var problems []string
	if c.Source.Username == "" {
		problems = append(problems, "source.username is required (PVMIGRATE_SOURCE_USERNAME)")
	}
	if c.Source.Password == "" {
		problems = append(problems, "source.password is required (PVMIGRATE_SOURCE_PASSWORD)")
	}
	if len(problems) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// ValidateForReplay adds the checks only a replay run needs.
func (c *Config) ValidateForReplay() error {
	if err := c.Validate(); err != nil {
		return err
	}
	var problems []string
	if c.Destination.BaseURL == "" {
		problems = append(problems, "destination.base_url is required")
	}
	if c.Destination.Email == "" {
		problems = append(problems, "destination.email is required (PVMIGRATE_DESTINATION_EMAIL)")
	}
	if c.Destination.Password == "" {
		problems = append(problems, "destination.password is required (PVMIGRATE_DESTINATION_PASSWORD)")
	}
	if len(problems) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
