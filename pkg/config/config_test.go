package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValidExceptTarget(t *testing.T) {
	cfg := DefaultConfig()

	// The target URL is the one thing a user must supply.
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target base URL")

	cfg.Target.BaseURL = "https://market.example"
	assert.NoError(t, cfg.Validate())
}

func TestDefaultBreakerSettings(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3, cfg.Breakers.Login.FailureThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Breakers.Login.Timeout)
	assert.Equal(t, 10, cfg.Breakers.PageLoad.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Breakers.PageLoad.Timeout)
	assert.Equal(t, 5, cfg.Breakers.SendMessage.FailureThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Breakers.SendMessage.Timeout)
}

func TestLoadFromFile(t *testing.T) {
	content := `
target:
  base_url: https://market.example
  login_url: https://market.example/login
  selectors:
    listing_item: ".listing"
    listing_id_attr: "data-id"
session:
  method: credentials
  account: alice
scanner:
  interval: 2m
  removed_grace: 48h
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "https://market.example", cfg.Target.BaseURL)
	assert.Equal(t, ".listing", cfg.Target.Selectors.ListingItem)
	assert.Equal(t, "data-id", cfg.Target.Selectors.ListingID)
	assert.Equal(t, "credentials", cfg.Session.Method)
	assert.Equal(t, 2*time.Minute, cfg.Scanner.Interval)
	assert.Equal(t, 48*time.Hour, cfg.Scanner.RemovedGrace)

	// Unset keys keep their defaults.
	assert.Equal(t, time.Minute, cfg.Scanner.MinInterval)
	assert.True(t, cfg.Browser.Headless)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("MARKETWATCHER_BASE_URL", "https://env.example")
	t.Setenv("MARKETWATCHER_ACCOUNT", "bob")
	t.Setenv("MARKETWATCHER_SCAN_INTERVAL", "90s")
	t.Setenv("MARKETWATCHER_HEADLESS", "false")
	t.Setenv("MARKETWATCHER_MAX_REQUESTS", "7")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "https://env.example", cfg.Target.BaseURL)
	assert.Equal(t, "bob", cfg.Session.Account)
	assert.Equal(t, 90*time.Second, cfg.Scanner.Interval)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 7, cfg.RateLimit.MaxRequests)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("MARKETWATCHER_SCAN_INTERVAL", "soon")

	cfg := DefaultConfig()
	assert.Error(t, cfg.LoadFromEnv())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.Method = "magic"
	cfg.Vault.Backend = "cloud"
	cfg.RateLimit.MaxRequests = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target base URL")
	assert.Contains(t, err.Error(), "session method")
	assert.Contains(t, err.Error(), "vault backend")
	assert.Contains(t, err.Error(), "rate limit")
}

func TestValidateActiveHours(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Target.BaseURL = "https://market.example"

	cfg.Scanner.ActiveHoursStart = 8
	cfg.Scanner.ActiveHoursEnd = 22
	assert.NoError(t, cfg.Validate())

	cfg.Scanner.ActiveHoursStart = 24
	assert.Error(t, cfg.Validate())
}

func TestActiveHoursLocation(t *testing.T) {
	sc := ScannerConfig{Timezone: "Europe/Berlin"}
	loc := sc.ActiveHoursLocation()
	require.NotNil(t, loc)
	assert.Equal(t, "Europe/Berlin", loc.String())

	local := ScannerConfig{Timezone: "Local"}
	assert.Equal(t, time.Local, local.ActiveHoursLocation())

	bogus := ScannerConfig{Timezone: "Nowhere/Nothing"}
	assert.Equal(t, time.Local, bogus.ActiveHoursLocation())
}
