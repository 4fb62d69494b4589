// Command hybridctl is a CLI front-end over the public hybridstore.Client
// API: schema definition lives in Go, but everyday operational tasks
// (inspecting vector stats, compacting, retrying a stalled outbox) are
// more convenient from a shell than from a one-off program. It never
// reimplements engine logic, only drives Client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose bool
	dbPath  string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "hybridctl",
	Short: "Operate a hybridstore database directory from the shell",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
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

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/hybridstore", "database directory")

	rootCmd.AddCommand(statsCmd, compactCmd, retryOutboxCmd, reembedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
