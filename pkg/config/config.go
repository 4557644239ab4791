package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the marketplace watcher.
type Config struct {
	Target    TargetConfig    `yaml:"target" json:"target"`
	Browser   BrowserConfig   `yaml:"browser" json:"browser"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Vault     VaultConfig     `yaml:"vault" json:"vault"`
	Scanner   ScannerConfig   `yaml:"scanner" json:"scanner"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Breakers  BreakersConfig  `yaml:"breakers" json:"breakers"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Alerts    AlertsConfig    `yaml:"alerts" json:"alerts"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// TargetConfig describes the marketplace site. Element locators are
// deliberately configuration, not code, so a markup change never needs
// a rebuild.
type TargetConfig struct {
	BaseURL    string         `yaml:"base_url" json:"base_url"`
	LoginURL   string         `yaml:"login_url" json:"login_url"`
	AccountURL string         `yaml:"account_url" json:"account_url"`
	Selectors  SelectorConfig `yaml:"selectors" json:"selectors"`
}

// SelectorConfig holds the CSS selectors used to drive the site UI.
type SelectorConfig struct {
	LoginUser     string `yaml:"login_user" json:"login_user"`
	LoginPassword string `yaml:"login_password" json:"login_password"`
	LoginSubmit   string `yaml:"login_submit" json:"login_submit"`
	ProfileMarker string `yaml:"profile_marker" json:"profile_marker"`
	UserID        string `yaml:"user_id" json:"user_id"`
	Username      string `yaml:"username" json:"username"`
	VerifiedBadge string `yaml:"verified_badge" json:"verified_badge"`
	ListingItem   string `yaml:"listing_item" json:"listing_item"`
	ListingID     string `yaml:"listing_id_attr" json:"listing_id_attr"`
	ListingTitle  string `yaml:"listing_title" json:"listing_title"`
	ListingPrice  string `yaml:"listing_price" json:"listing_price"`
	ListingStatus string `yaml:"listing_status" json:"listing_status"`
	MessageInput  string `yaml:"message_input" json:"message_input"`
	MessageSend   string `yaml:"message_send" json:"message_send"`
}

// BrowserConfig holds browser driver settings.
type BrowserConfig struct {
	Headless      bool          `yaml:"headless" json:"headless"`
	NavTimeout    time.Duration `yaml:"nav_timeout" json:"nav_timeout"`
	ActionTimeout time.Duration `yaml:"action_timeout" json:"action_timeout"`
	// ScreenshotDir receives full-page captures taken when a driven
	// operation fails; empty disables captures.
	ScreenshotDir string `yaml:"screenshot_dir" json:"screenshot_dir"`
}

// SessionConfig holds authentication settings.
type SessionConfig struct {
	// Method is one of "cookie", "credentials", "auto".
	Method           string        `yaml:"method" json:"method"`
	Account          string        `yaml:"account" json:"account"`
	TTL              time.Duration `yaml:"ttl" json:"ttl"`
	MaxLoginAttempts int           `yaml:"max_login_attempts" json:"max_login_attempts"`
	AttemptCooldown  time.Duration `yaml:"attempt_cooldown" json:"attempt_cooldown"`
}

// VaultConfig holds encrypted secret storage settings.
type VaultConfig struct {
	// Backend is "file" or "keyring".
	Backend       string        `yaml:"backend" json:"backend"`
	Dir           string        `yaml:"dir" json:"dir"`
	CookieTTL     time.Duration `yaml:"cookie_ttl" json:"cookie_ttl"`
	CredentialTTL time.Duration `yaml:"credential_ttl" json:"credential_ttl"`
}

// ScannerConfig holds change-detection scanner settings.
type ScannerConfig struct {
	Interval     time.Duration `yaml:"interval" json:"interval"`
	MinInterval  time.Duration `yaml:"min_interval" json:"min_interval"`
	BackoffCap   time.Duration `yaml:"backoff_cap" json:"backoff_cap"`
	RemovedGrace time.Duration `yaml:"removed_grace" json:"removed_grace"`
	// ActiveHoursStart/End bound scanning to a local-time hour window;
	// equal values disable the window.
	ActiveHoursStart int    `yaml:"active_hours_start" json:"active_hours_start"`
	ActiveHoursEnd   int    `yaml:"active_hours_end" json:"active_hours_end"`
	Timezone         string `yaml:"timezone" json:"timezone"`
	CachePath        string `yaml:"cache_path" json:"cache_path"`
}

// RateLimitConfig holds sliding-window rate limiter settings.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests" json:"max_requests"`
	Window      time.Duration `yaml:"window" json:"window"`
}

// BreakerConfig configures one circuit breaker class.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
}

// BreakersConfig configures the per-operation-class breakers.
type BreakersConfig struct {
	Login       BreakerConfig `yaml:"login" json:"login"`
	PageLoad    BreakerConfig `yaml:"page_load" json:"page_load"`
	SendMessage BreakerConfig `yaml:"send_message" json:"send_message"`
}

// RetryConfig holds retry/backoff settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
	Factor      float64       `yaml:"factor" json:"factor"`
}

// AlertsConfig holds alert sink settings.
type AlertsConfig struct {
	WebhookURL  string        `yaml:"webhook_url" json:"webhook_url"`
	Email       EmailConfig   `yaml:"email" json:"email"`
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
}

// EmailConfig holds SMTP settings for the email alert sink.
type EmailConfig struct {
	Host     string   `yaml:"host" json:"host"`
	Port     int      `yaml:"port" json:"port"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
	Username string   `yaml:"username" json:"username"`
	Password string   `yaml:"password" json:"password"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:      true,
			NavTimeout:    30 * time.Second,
			ActionTimeout: 10 * time.Second,
			ScreenshotDir: filepath.Join(defaultDataDir(), "screenshots"),
		},
		Session: SessionConfig{
			Method:           "auto",
			TTL:              30 * time.Minute,
			MaxLoginAttempts: 3,
			AttemptCooldown:  15 * time.Minute,
		},
		Vault: VaultConfig{
			Backend:       "file",
			Dir:           defaultDataDir(),
			CookieTTL:     24 * time.Hour,
			CredentialTTL: 90 * 24 * time.Hour,
		},
		Scanner: ScannerConfig{
			Interval:     5 * time.Minute,
			MinInterval:  time.Minute,
			BackoffCap:   30 * time.Minute,
			RemovedGrace: 24 * time.Hour,
			Timezone:     "Local",
			CachePath:    filepath.Join(defaultDataDir(), "scanner_cache.json"),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: 30,
			Window:      time.Minute,
		},
		Breakers: BreakersConfig{
			Login:       BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: 10 * time.Minute},
			PageLoad:    BreakerConfig{FailureThreshold: 10, SuccessThreshold: 2, Timeout: time.Minute},
			SendMessage: BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 5 * time.Minute},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    time.Minute,
			Factor:      2.0,
		},
		Alerts: AlertsConfig{
			MinInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration overrides from environment variables.
func (c *Config) LoadFromEnv() error {
	if url := os.Getenv("MARKETWATCHER_BASE_URL"); url != "" {
		c.Target.BaseURL = url
	}
	if url := os.Getenv("MARKETWATCHER_WEBHOOK_URL"); url != "" {
		c.Alerts.WebhookURL = url
	}
	if account := os.Getenv("MARKETWATCHER_ACCOUNT"); account != "" {
		c.Session.Account = account
	}
	if headless := os.Getenv("MARKETWATCHER_HEADLESS"); headless != "" {
		c.Browser.Headless = strings.ToLower(headless) == "true"
	}
	if interval := os.Getenv("MARKETWATCHER_SCAN_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid MARKETWATCHER_SCAN_INTERVAL: %w", err)
		}
		c.Scanner.Interval = d
	}
	if max := os.Getenv("MARKETWATCHER_MAX_REQUESTS"); max != "" {
		val, err := strconv.Atoi(max)
		if err != nil || val <= 0 {
			return fmt.Errorf("invalid MARKETWATCHER_MAX_REQUESTS: %q", max)
		}
		c.RateLimit.MaxRequests = val
	}
	if level := os.Getenv("MARKETWATCHER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // no config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for a config file in standard locations.
func (c *Config) findConfigFile() string {
	locations := []string{
		".marketwatcher.yaml",
		".marketwatcher.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "marketwatcher", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "marketwatcher", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Target.BaseURL == "" {
		errs = append(errs, errors.New("target base URL is required"))
	}

	switch c.Session.Method {
	case "cookie", "credentials", "auto":
	default:
		errs = append(errs, fmt.Errorf("invalid session method: %q", c.Session.Method))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.Session.MaxLoginAttempts <= 0 {
		errs = append(errs, errors.New("max login attempts must be positive"))
	}

	switch c.Vault.Backend {
	case "file", "keyring":
	default:
		errs = append(errs, fmt.Errorf("invalid vault backend: %q", c.Vault.Backend))
	}

	if c.Scanner.MinInterval <= 0 {
		errs = append(errs, errors.New("scanner min interval must be positive"))
	}
	if c.Scanner.ActiveHoursStart < 0 || c.Scanner.ActiveHoursStart > 23 {
		errs = append(errs, errors.New("active hours start must be in [0,23]"))
	}
	if c.Scanner.ActiveHoursEnd < 0 || c.Scanner.ActiveHoursEnd > 23 {
		errs = append(errs, errors.New("active hours end must be in [0,23]"))
	}
	if c.Scanner.Timezone != "" && c.Scanner.Timezone != "Local" {
		if _, err := time.LoadLocation(c.Scanner.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("invalid scanner timezone: %w", err))
		}
	}

	if c.RateLimit.MaxRequests <= 0 {
		errs = append(errs, errors.New("rate limit max requests must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}

	for name, b := range map[string]BreakerConfig{
		"login":        c.Breakers.Login,
		"page_load":    c.Breakers.PageLoad,
		"send_message": c.Breakers.SendMessage,
	} {
		if b.FailureThreshold <= 0 {
			errs = append(errs, fmt.Errorf("%s breaker failure threshold must be positive", name))
		}
		if b.SuccessThreshold <= 0 {
			errs = append(errs, fmt.Errorf("%s breaker success threshold must be positive", name))
		}
		if b.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("%s breaker timeout must be positive", name))
		}
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry max attempts cannot be negative"))
	}
	if c.Retry.Factor < 1.0 {
		errs = append(errs, errors.New("retry factor must be at least 1.0"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: environment variables > .env file > config file > defaults.
func Load(configPath string) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist).
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".marketwatcher.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// ActiveHoursLocation resolves the scanner timezone, falling back to the
// local zone on any problem.
func (c *ScannerConfig) ActiveHoursLocation() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// defaultDataDir returns the per-user data directory for persisted state.
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "marketwatcher")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".marketwatcher"
	}
	return filepath.Join(home, ".local", "share", "marketwatcher")
}
