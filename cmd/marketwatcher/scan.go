package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"marketwatcher/pkg/browser"
	"marketwatcher/pkg/logger"
	"marketwatcher/pkg/scraper"
)

var scanJSON bool

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan and print the changes",
	Long: `Run a single scan outside the daemon cadence: authenticate, read the
account page once, diff against the persisted state and print what
changed. The session is torn down afterwards.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print the scan result as JSON")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	store, err := newBlobStore(cfg)
	if err != nil {
		return err
	}

	driver, err := browser.NewPlaywrightDriver(cfg.Browser)
	if err != nil {
		return err
	}

	s, err := scraper.New(cfg, driver, store, newNotifier(cfg, log), log)
	if err != nil {
		driver.Close()
		return err
	}
	// The manual scan opens and releases its own session; only the
	// driver is left to close.
	defer driver.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := s.ManualScan(ctx)
	if err != nil {
		return err
	}

	if scanJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Printf("Scan finished in %dms: %d added, %d changed, %d removed\n",
		result.DurationMs, len(result.Added), len(result.Changed), len(result.Removed))
	for _, e := range result.Added {
		fmt.Printf("  + %s  %s (%s)\n", e.ID, e.Title, e.Price)
	}
	for _, c := range result.Changed {
		fmt.Printf("  ~ %s  %s\n", c.New.ID, c.Summary)
	}
	for _, e := range result.Removed {
		fmt.Printf("  - %s  %s\n", e.ID, e.Title)
	}
	return nil
}
