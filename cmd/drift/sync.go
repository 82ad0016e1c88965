package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openEngine(); err != nil {
			return err
		}

		res, err := eng.ForceSync(rootCtx)
		if err != nil {
			return err
		}

		if jsonOutput {
			errStrs := make([]string, 0, len(res.Errors))
			for _, e := range res.Errors {
				errStrs = append(errStrs, e.Error())
			}
			outputJSON(map[string]any{
				"uploaded":   res.Uploaded,
				"downloaded": res.Downloaded,
				"conflicts":  res.Conflicts,
				"errors":     errStrs,
				"duration":   res.Duration.String(),
			})
			if len(res.Errors) > 0 {
				cmd.SilenceUsage = true
				return fmt.Errorf("sync finished with %d error(s)", len(res.Errors))
			}
			return nil
		}

		fmt.Printf("Uploaded %d, downloaded %d, conflicts %d (%v)\n",
			res.Uploaded, res.Downloaded, res.Conflicts, res.Duration.Round(time.Millisecond))
		for _, e := range res.Errors {
			fmt.Printf("  error: %v\n", e)
		}
		if len(res.Errors) > 0 {
			cmd.SilenceUsage = true
			return fmt.Errorf("sync finished with %d error(s)", len(res.Errors))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
