package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"marketwatcher/pkg/browser"
	"marketwatcher/pkg/logger"
	"marketwatcher/pkg/scraper"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the account for listing changes",
	Long: `Start the watcher daemon: authenticate, then poll the account page on
the configured interval and alert on every added, changed or removed
listing. Stops cleanly on SIGINT/SIGTERM, flushing the change cache.`,
	Example: `  # Run with the default config
  marketwatcher run

  # Run with an explicit config file
  marketwatcher run --config ./marketwatcher.yaml`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		s.Stop()
		return err
	}

	<-ctx.Done()
	log.Info("shutdown signal received")
	s.Stop()
	return nil
}
