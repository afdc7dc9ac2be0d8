// Package cmd defines and implements the CLI commands for the digest-fetcher executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-fetcher/internal/app"
	"github.com/JakeFAU/digest-fetcher/internal/config"
	"github.com/JakeFAU/digest-fetcher/internal/fetch"
	"github.com/JakeFAU/digest-fetcher/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Fetch(ctx context.Context, urls []string, maxParallel int) fetch.Batch
	PruneCache() (int, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(_ context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "digest-fetcher",
		Short: "Fetch readable page content through browser, TLS-client, and archive tiers.",
		Long: `digest-fetcher retrieves the readable text of web pages. Each URL is tried
in a stealth headless browser, then with a browser-impersonating HTTP client,
and finally from the Wayback Machine when the origin blocks access.`,
		SilenceUsage: true,

		// Build the application once flags are parsed, before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				_ = appInstance.Logger().Sync()
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); FETCHER_* env vars override")

	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCacheCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}
