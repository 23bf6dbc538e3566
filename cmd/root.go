// Package cmd defines and implements the CLI commands for the notifier
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ftmlabs/bknmu-notifier/internal/app"
	"github.com/ftmlabs/bknmu-notifier/internal/config"
	"github.com/ftmlabs/bknmu-notifier/internal/logging"
	"github.com/ftmlabs/bknmu-notifier/internal/notices"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface that commands use. This allows us to
// inject a fake app during tests.
type App interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context) (notices.CycleReport, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Logger() *zap.Logger
	Close()
}

// newApp is the application factory. It's a variable so we can replace it
// with a fake factory in our tests.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bknmu-notifier",
		Short: "Watches the BKNMU circulars page and posts new notices to Telegram.",
		Long: `bknmu-notifier polls the B.K.N.M. University circulars page, translates
Gujarati notice titles to English, and announces each new circular in a
Telegram group exactly once. Delivered notices are recorded in a ledger so
restarts never repost old circulars.`,

		// This hook runs after config is loaded but before the subcommand's
		// RunE, so every command sees a fully wired application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// This hook ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (BKNMU_* environment variables apply on top)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newOnceCmd())
	cmd.AddCommand(newPurgeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command
// context so the running command drains cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "bknmu-notifier: %v\n", err)
		os.Exit(1)
	}
}
