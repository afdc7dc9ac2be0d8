package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCacheCmd groups archive cache maintenance.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the archive snapshot cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired and unreadable cache entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := appInstance.PruneCache()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d cache entries\n", removed)
			return nil
		},
	})
	return cmd
}
