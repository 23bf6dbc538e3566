package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newRunCmd creates and configures the 'run' subcommand, the long-lived
// daemon mode of the notifier.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Starts the notifier daemon",
		Long: `Polls the circulars page on the configured interval and dispatches new
notices to the Telegram group until interrupted. Also serves the HTTP API
and the /latest command listener when those are enabled.`,

		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	if err := appInstance.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run notifier: %w", err)
	}

	appInstance.Logger().Info("notifier stopped")
	return nil
}
