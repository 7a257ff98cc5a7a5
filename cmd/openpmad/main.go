package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"openpmad/engine"
)

var (
	verbose bool
	cfgPath string

	cfg    *engine.Config
	logger *zap.Logger
)

func init() {
	runtime.LockOSThread()

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Session config file (YAML)")
}

var rootCmd = &cobra.Command{
	Use:   "openpmad",
	Short: "Frame-locked visual stimulus presentation",
	Long: `openpmad presents visual stimuli on a vsync-locked display, marks events
with a photodiode signal patch, and writes per-session event metadata.

Probe requests come from an external tracking process through a flag file,
or from a simulated tracker.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgPath == "" {
			cfg = engine.DefaultConfig()
		} else if cfg, err = engine.Load(cfgPath); err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = engine.NewLogger(level, cfg.Logging.JSON)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
