package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warmeta/wahapedia-crawler/internal/store"
)

var errDependenciesUnavailable = errors.New("one or more dependencies failed their checks")

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verifies connectivity to the bus and the database",
		Long: `Publishes a round-trip test message on the bus and performs a
reversible write against the scrape log, reporting which dependencies are
reachable before a real run is attempted.`,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := a.Logger()
	ctx := cmd.Context()

	failed := false
	if err := a.Bus().SelfTest(ctx); err != nil {
		logger.Error("bus check failed", zap.Error(err))
		failed = true
	} else {
		logger.Info("bus check passed")
	}

	if err := a.Store().Ping(ctx); err != nil {
		logger.Error("database ping failed", zap.Error(err))
		failed = true
	} else if err := store.SelfTest(ctx, a.Store(), a.Config().Bus.Source); err != nil {
		logger.Error("database write check failed", zap.Error(err))
		failed = true
	} else {
		logger.Info("database check passed")
	}

	if failed {
		return errDependenciesUnavailable
	}
	logger.Info("all checks passed")
	return nil
}
