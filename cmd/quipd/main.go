// quipd is the round and session coordinator daemon for the QuipFlip,
// Initial Reaction and ThoughtLink word games. The serve command runs the
// full stack (store, round engine, party controller, AI backup orchestrator,
// sweeper); the remaining commands are one-shot admin tasks against the same
// database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sheegaon/quipflip-sub002/internal/config"
	"github.com/sheegaon/quipflip-sub002/internal/logging"
)

var (
	// Global flags
	cfgPath string
	dataDir string
	verbose bool

	// Process logger; category file logs live under the data dir.
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "quipd",
	Short: "quipd - round and session coordinator",
	Long: `quipd coordinates rounds, party sessions, vote finalization and AI
backup play for the QuipFlip, Initial Reaction and ThoughtLink games.

All state lives in a single SQLite database under the data directory.
Run "quipd serve" to start the coordinator loop.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

// loadConfig reads the YAML config and applies the command-line overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return cfg, fmt.Errorf("creating data dir: %w", err)
	}
	err = logging.Initialize(cfg.DataDir, logging.Settings{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	})
	return cfg, err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "quipd.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory override (database and logs)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedPromptsCmd)
	rootCmd.AddCommand(pruneCorpusCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
