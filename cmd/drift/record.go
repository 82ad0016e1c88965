package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/types"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage local records",
}

var recordGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openEngine(); err != nil {
			return err
		}
		rec, err := eng.GetRecord(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(rec)
			return nil
		}
		printRecord(rec)
		return nil
	},
}

var recordPutCmd = &cobra.Command{
	Use:   "put <key> <payload-json>",
	Short: "Create or update a record",
	Long: `Create or update a record with a JSON object payload.
The write is local and immediate; upload happens on the next sync pass.

Example:
  drift record put note-42 '{"title":"standup notes","done":false}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return fmt.Errorf("payload must be a JSON object: %w", err)
		}
		if err := openEngine(); err != nil {
			return err
		}
		rec, err := eng.PutRecord(args[0], payload)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(rec)
			return nil
		}
		fmt.Printf("Stored %s (revision %d, %s)\n", rec.Key, rec.Revision, rec.SyncStatus)
		return nil
	},
}

var (
	listStatus string
	listPrefix string
	listLimit  int
)

var recordListCmd = &cobra.Command{
	Use:   "list",
	Short: "List local records",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := types.RecordFilter{
			KeyPrefix: listPrefix,
			Limit:     listLimit,
		}
		if listStatus != "" {
			status := types.SyncStatus(listStatus)
			if !status.Valid() {
				return fmt.Errorf("invalid status %q (valid: pending, synced, conflict)", listStatus)
			}
			filter.Status = status
		}

		if err := openEngine(); err != nil {
			return err
		}
		recs, err := eng.ListRecords(filter)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(recs)
			return nil
		}
		if len(recs) == 0 {
			fmt.Println("No records.")
			return nil
		}
		for _, rec := range recs {
			fmt.Printf("%-30s rev %-4d %-9s %s\n", rec.Key, rec.Revision, rec.SyncStatus,
				time.UnixMilli(rec.ModifiedAt).Format(time.RFC3339))
		}
		return nil
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a record locally",
	Long: `Delete a record from the local store. The deletion is not propagated
to the remote: if the remote still holds the record, it reappears on the
next sync pass.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openEngine(); err != nil {
			return err
		}
		if err := eng.DeleteRecord(args[0]); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"deleted": args[0]})
			return nil
		}
		fmt.Printf("Deleted %s (local only)\n", args[0])
		return nil
	},
}

func printRecord(rec *types.Record) {
	fmt.Printf("Key:      %s\n", rec.Key)
	fmt.Printf("Revision: %d\n", rec.Revision)
	fmt.Printf("Status:   %s\n", rec.SyncStatus)
	fmt.Printf("Modified: %s\n", time.UnixMilli(rec.ModifiedAt).Format(time.RFC3339))
	payload, err := json.MarshalIndent(rec.Payload, "", "  ")
	if err == nil {
		fmt.Printf("Payload:  %s\n", payload)
	}
}

func init() {
	recordListCmd.Flags().StringVar(&listStatus, "status", "", "filter by sync status (pending, synced, conflict)")
	recordListCmd.Flags().StringVar(&listPrefix, "prefix", "", "filter by key prefix")
	recordListCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum records to show (0 = all)")

	recordCmd.AddCommand(recordGetCmd, recordPutCmd, recordListCmd, recordDeleteCmd)
	rootCmd.AddCommand(recordCmd)
}
