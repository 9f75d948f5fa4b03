// Package commands wires the CLI surface: report generation, the HTTP
// server, the scheduler, and connection diagnostics.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/statuspulse/statuspulse/core/config"
)

var (
	configPath string
	debugMode  bool
)

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "statuspulse",
		Short: "Generate bi-weekly status reports from Jira",
		Long: `statuspulse fetches recently updated issues from a Jira deployment,
aggregates them into summary statistics, and renders a markdown status
report. It can run once, serve an HTTP API, or fire on a schedule.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debugMode {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(NewReportCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewScheduleCommand())
	rootCmd.AddCommand(NewTestConnectionCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}
