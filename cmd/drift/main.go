// drift is the driftline command-line interface: an offline-first record
// store that reconciles with a remote database when connectivity allows.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/core"
	"github.com/driftline/driftline/internal/telemetry"
)

// Version and Build are set at link time.
var (
	Version = "dev"
	Build   = "unknown"
)

var (
	configDir  string
	jsonOutput bool

	cfg *config.Config
	eng *core.Engine

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "drift",
	Short: "drift - offline-first record sync",
	Long: `Local-first record storage that keeps working without connectivity
and reconciles with a remote database in the background when it returns.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("drift version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRunE: rootSetup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if eng != nil {
			if err := eng.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
		rootCancel()
	},
}

// rootSetup is the shared startup path: signal handling, configuration,
// telemetry. Subcommands that define their own PersistentPreRunE (cobra
// runs only the closest one) must call it themselves.
func rootSetup(cmd *cobra.Command, args []string) error {
	setupSignalContext()

	var err error
	cfg, err = config.Load(configDir)
	if err != nil {
		return err
	}
	if err := telemetry.Init(rootCtx, "drift", Version); err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	return nil
}

// openEngine assembles the engine for commands that need one. Commands
// that only read config (or none at all) never pay the assembly cost.
func openEngine() error {
	var err error
	eng, err = core.New(rootCtx, cfg, slog.Default())
	return err
}

func setupSignalContext() {
	rootCtx, rootCancel = context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		rootCancel()
	}()
}

func outputJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "directory containing config.yaml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.Flags().BoolP("version", "v", false, "print version")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
