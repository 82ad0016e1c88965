package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/types"
)

var statusProbe bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openEngine(); err != nil {
			return err
		}

		if statusProbe {
			res := eng.CheckHealth(rootCtx)
			if !jsonOutput {
				if res.Healthy {
					fmt.Printf("Probe: healthy (%v)\n", res.Latency.Round(time.Millisecond))
				} else {
					fmt.Printf("Probe: unhealthy (%s)\n", res.Detail)
				}
			}
		}

		state := eng.SyncStatus()
		pending, err := eng.PendingCount()
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"mode":                    state.Mode,
				"consecutive_failures":    state.ConsecutiveFailures,
				"last_transition_at":      state.LastTransitionAt,
				"last_successful_sync_at": state.LastSuccessfulSyncAt,
				"pending_records":         pending,
			})
			return nil
		}

		fmt.Printf("Mode:            %s\n", state.Mode)
		fmt.Printf("Pending records: %d\n", pending)
		if state.Mode == types.ModeOffline && state.ConsecutiveFailures > 0 {
			fmt.Printf("Failed probes:   %d\n", state.ConsecutiveFailures)
		}
		if !state.LastSuccessfulSyncAt.IsZero() {
			fmt.Printf("Last sync:       %s\n", state.LastSuccessfulSyncAt.Format(time.RFC3339))
		} else {
			fmt.Println("Last sync:       never")
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusProbe, "probe", false, "run a connectivity probe before reporting")
	rootCmd.AddCommand(statusCmd)
}
