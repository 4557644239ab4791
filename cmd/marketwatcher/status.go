package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"marketwatcher/pkg/browser"
	"marketwatcher/pkg/logger"
	"marketwatcher/pkg/scanner"
	"marketwatcher/pkg/session"
	"marketwatcher/pkg/vault"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault and cache state",
	Long: `Show what the watcher knows without touching the site: whether
credentials are vaulted, how fresh the cookie session is and how many
listings the change cache tracks.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	account := cfg.Session.Account
	fmt.Printf("Account:      %s\n", valueOr(account, "(not configured)"))
	fmt.Printf("Auth method:  %s\n", cfg.Session.Method)

	if store.Exists(session.CredentialsBlobName(account)) {
		fmt.Println("Credentials:  vaulted")
	} else {
		fmt.Println("Credentials:  absent (run `marketwatcher auth login`)")
	}

	var cookies []browser.Cookie
	savedAt, err := store.Open(session.CookieBlobName(account), &cookies)
	switch {
	case err != nil:
		fmt.Println("Cookie jar:   absent")
	case vault.IsValid(savedAt, cfg.Vault.CookieTTL, time.Now()):
		fmt.Printf("Cookie jar:   %d cookies, saved %s ago\n",
			len(cookies), time.Since(savedAt).Round(time.Minute))
	default:
		fmt.Printf("Cookie jar:   expired (saved %s ago)\n",
			time.Since(savedAt).Round(time.Minute))
	}

	cache, err := scanner.NewCache(cfg.Scanner.CachePath, logger.GetLogger())
	if err != nil {
		return err
	}
	fmt.Printf("Known items:  %d\n", len(cache.Load()))
	fmt.Printf("Cache path:   %s\n", cfg.Scanner.CachePath)

	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
