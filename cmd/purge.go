package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultRetention = 365 * 24 * time.Hour

// newPurgeCmd creates the 'purge' subcommand, which trims old rows from the
// delivery ledger. The ledger only needs to cover notices still listed on
// the circulars page, so anything older than the retention window is safe
// to drop.
func newPurgeCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Deletes delivery records older than the retention window",

		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			cutoff := time.Now().UTC().Add(-olderThan)
			removed, err := appInstance.PurgeOlderThan(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("purge delivery records: %w", err)
			}

			appInstance.Logger().Info("purge finished",
				zap.Int64("removed", removed),
				zap.Time("cutoff", cutoff),
			)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", defaultRetention,
		"drop records delivered earlier than now minus this duration")

	return cmd
}
