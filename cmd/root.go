// Package cmd defines the CLI commands for the scraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warmeta/wahapedia-crawler/internal/app"
	"github.com/warmeta/wahapedia-crawler/internal/bus"
	"github.com/warmeta/wahapedia-crawler/internal/config"
	"github.com/warmeta/wahapedia-crawler/internal/pipeline"
	"github.com/warmeta/wahapedia-crawler/internal/store"
)

var cfgFile string

// appKeyType keys the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// App is the slice of *app.App the commands use. The indirection lets tests
// inject a fake container.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Bus() *bus.Bus
	Store() store.Store
	Pipeline() *pipeline.Pipeline
}

// newApp is the application factory, swappable in tests.
var newApp = func(ctx context.Context) (App, error) {
	return app.New(ctx, cfgFile)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wahapedia-crawler",
		Short: "Scrapes tabletop army rules and publishes them as structured events",
		Long: `wahapedia-crawler walks the Wahapedia rules wiki for one game version,
extracts factions, army rules, detachments, enhancements, units, and wargear
in a fixed stage order, and publishes every batch to the message bus.`,

		// Build the service container after flags parse and hand it to the
		// subcommand through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and SCRAPER_* env vars apply when omitted)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newCheckCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
