package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/driftline/driftline/internal/config"
)

var (
	daemonForeground bool
	daemonLogSink    *lumberjack.Logger
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync loop until interrupted",
	Long: `Run the connectivity probe and periodic sync loops in the foreground
until SIGINT or SIGTERM. Log output goes to a rotating file under the
data directory unless --foreground-log is set.`,
	// The daemon logs to its rotating file from the first instruction on,
	// a config.Load refusal included. The log path is read straight from
	// config.yaml before the full load runs.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(daemonLogger())
		if err := rootSetup(cmd, args); err != nil {
			slog.Error("daemon startup failed", "error", err)
			return err
		}
		if daemonLogSink != nil {
			daemonLogSink.MaxSize = cfg.LogMaxSizeMB
			daemonLogSink.MaxBackups = cfg.LogMaxBackups
			daemonLogSink.MaxAge = cfg.LogMaxAgeDays
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		log := slog.Default()

		if err := openEngine(); err != nil {
			return err
		}

		log.Info("daemon starting",
			"version", Version,
			"sync_interval", cfg.SyncInterval().String(),
			"probe_interval", cfg.ProbeInterval().String())

		eng.Start(rootCtx)
		fmt.Fprintf(os.Stderr, "drift daemon running (mode: %s), Ctrl-C to stop\n", eng.SyncStatus().Mode)

		<-rootCtx.Done()

		log.Info("daemon stopping")
		// Engine shutdown (scheduler drain included) happens in
		// PersistentPostRun with the rest of the teardown.
		return nil
	},
}

// daemonLogPath resolves the rotating log file location without loading
// the full configuration.
func daemonLogPath(dir string) string {
	def := config.Default()
	lc := config.LoadLocalConfigWithEnv(dir)
	dataDir := lc.DataDir
	if dataDir == "" {
		dataDir = def.DataDir
	}
	logFile := lc.LogFile
	if logFile == "" {
		logFile = def.LogFile
	}
	return filepath.Join(dataDir, logFile)
}

// daemonLogger builds the logger the daemon runs under. Rotation limits
// start at the defaults and pick up the loaded configuration once the
// full load has run.
func daemonLogger() *slog.Logger {
	if daemonForeground {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	def := config.Default()
	daemonLogSink = &lumberjack.Logger{
		Filename:   daemonLogPath(configDir),
		MaxSize:    def.LogMaxSizeMB,
		MaxBackups: def.LogMaxBackups,
		MaxAge:     def.LogMaxAgeDays,
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(daemonLogSink, nil))
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonForeground, "foreground-log", false, "log to stderr instead of the rotating file")
	rootCmd.AddCommand(daemonCmd)
}
