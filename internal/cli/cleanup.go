package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stored data older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupOlderThan <= 0 {
			return fmt.Errorf("--older-than must be greater than zero")
		}
		return getApp().Cleanup(cmd.Context(), cleanupOlderThan)
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Retention window; rows older than this are deleted")
}
