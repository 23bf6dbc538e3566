package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newOnceCmd creates the 'once' subcommand. It runs a single poll cycle and
// exits, which suits cron schedules and smoke checks. The exit code is
// non-zero when any notice failed to dispatch.
func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Runs a single poll cycle and exits",

		RunE: runOnceCommand,
	}
}

func runOnceCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	report, err := appInstance.RunOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("poll cycle: %w", err)
	}

	appInstance.Logger().Info("cycle finished",
		zap.String("cycle_id", report.CycleID),
		zap.Int("parsed", report.Parsed),
		zap.Int("known", report.Known),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("failed", report.Failed),
	)

	if report.Failed > 0 {
		return fmt.Errorf("%d notice(s) failed to dispatch", report.Failed)
	}
	return nil
}
