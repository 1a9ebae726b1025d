package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Runs a full extraction pass",
		Long: `Runs faction discovery followed by the army rule, detachment,
enhancement, unit, and wargear stages for the configured game version.
Every stage batch is published to the bus; the run is bracketed by
started and completed/failed status messages.`,
		RunE: runScrape,
	}
}

func runScrape(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := a.Pipeline().Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("scrape finished",
		zap.String("run_id", summary.RunID),
		zap.Int("factions", summary.Factions),
		zap.Int("army_rules", summary.ArmyRules),
		zap.Int("detachments", summary.Detachments),
		zap.Int("enhancements", summary.Enhancements),
		zap.Int("units", summary.Units),
		zap.Int("wargear", summary.Wargear),
		zap.Duration("duration", summary.Duration))
	return nil
}
