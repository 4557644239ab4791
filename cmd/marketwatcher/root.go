package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"marketwatcher/pkg/alerts"
	"marketwatcher/pkg/config"
	"marketwatcher/pkg/logger"
	"marketwatcher/pkg/vault"
)

var (
	// Version information, overridden at build time.
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "marketwatcher",
	Short: "Resilient marketplace account watcher",
	Long: `marketwatcher drives a marketplace web UI through a real browser,
keeps the session alive across restarts and reports every change to
your listings.

Features:
  - Encrypted credential and cookie storage (keychain or file vault)
  - Circuit breakers and retry with backoff around every site operation
  - Fingerprint evasion with consistent device profiles
  - Polling change detection with alerting via webhook or email`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.marketwatcher.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`marketwatcher {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads configuration and initializes the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, nil
}

// newBlobStore opens the vault with the configured key backend.
func newBlobStore(cfg *config.Config) (*vault.BlobStore, error) {
	var provider vault.KeyProvider
	switch cfg.Vault.Backend {
	case "keyring":
		provider = vault.NewKeyringKeyProvider(cfg.Session.Account)
	default:
		p, err := vault.NewFileKeyProvider(cfg.Vault.Dir)
		if err != nil {
			return nil, err
		}
		provider = p
	}
	return vault.NewBlobStore(cfg.Vault.Dir, provider)
}

// newNotifier builds the alert notifier from the configured sinks. A
// nil return means alerting is disabled.
func newNotifier(cfg *config.Config, log logger.Logger) *alerts.Notifier {
	var sinks []alerts.Sink
	if cfg.Alerts.WebhookURL != "" {
		sinks = append(sinks, alerts.NewWebhookSink(cfg.Alerts.WebhookURL))
	}
	if cfg.Alerts.Email.Host != "" {
		sinks = append(sinks, alerts.NewEmailSink(cfg.Alerts.Email))
	}
	if len(sinks) == 0 {
		return nil
	}
	return alerts.NewNotifier(sinks, cfg.Alerts.MinInterval, log)
}
