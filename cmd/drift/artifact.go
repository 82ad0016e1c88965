package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Store and retrieve binary artifacts",
}

var artifactPutCmd = &cobra.Command{
	Use:   "put <key> <file>",
	Short: "Persist a file across the configured storage backends",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1]) // #nosec G304 - user-supplied input file
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}
		if err := openEngine(); err != nil {
			return err
		}

		res, err := eng.PersistArtifact(rootCtx, args[0], data)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(res)
		} else {
			for _, a := range res.Attempts {
				line := fmt.Sprintf("  %-12s %s", a.Backend, a.Outcome)
				if a.Retries > 0 {
					line += fmt.Sprintf(" (%d retries)", a.Retries)
				}
				if a.ErrorKind != "" {
					line += fmt.Sprintf(" [%s]", a.ErrorKind)
				}
				fmt.Println(line)
			}
			switch {
			case res.Degraded:
				fmt.Printf("Stored %s on local disk only (degraded)\n", args[0])
			case res.OverallSuccess:
				fmt.Printf("Stored %s via %s\n", args[0], res.ChosenBackend)
			}
		}
		if !res.OverallSuccess {
			cmd.SilenceUsage = true
			return fmt.Errorf("artifact %s could not be stored on any backend", args[0])
		}
		return nil
	},
}

var artifactOutput string

var artifactGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Fetch an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openEngine(); err != nil {
			return err
		}
		data, err := eng.FetchArtifact(rootCtx, args[0])
		if err != nil {
			return err
		}
		if artifactOutput == "" || artifactOutput == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(artifactOutput, data, 0o644); err != nil { // #nosec G306 - regular artifact output
			return fmt.Errorf("writing %s: %w", artifactOutput, err)
		}
		if !jsonOutput {
			fmt.Printf("Wrote %d bytes to %s\n", len(data), artifactOutput)
		}
		return nil
	},
}

var artifactURLCmd = &cobra.Command{
	Use:   "url <key>",
	Short: "Print a shareable URL for an artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openEngine(); err != nil {
			return err
		}
		url, err := eng.ArtifactURL(rootCtx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": args[0], "url": url})
			return nil
		}
		fmt.Println(url)
		return nil
	},
}

var artifactDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete an artifact from every backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openEngine(); err != nil {
			return err
		}
		if err := eng.DeleteArtifact(rootCtx, args[0]); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(map[string]string{"deleted": args[0]})
			return nil
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	artifactGetCmd.Flags().StringVarP(&artifactOutput, "output", "o", "", "write to file instead of stdout")
	artifactCmd.AddCommand(artifactPutCmd, artifactGetCmd, artifactURLCmd, artifactDeleteCmd)
	rootCmd.AddCommand(artifactCmd)
}
