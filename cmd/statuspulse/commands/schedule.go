package commands

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/statuspulse/statuspulse/core/config"
	"github.com/statuspulse/statuspulse/core/pipeline"
	"github.com/statuspulse/statuspulse/core/report"
	"github.com/statuspulse/statuspulse/core/schedule"
)

// NewScheduleCommand creates the scheduler command.
func NewScheduleCommand() *cobra.Command {
	var runNow bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the report generator on a recurring schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			run := func(ctx context.Context) error {
				return generateOnce(ctx, cfg)
			}

			if runNow {
				return run(cmd.Context())
			}

			weekday, err := schedule.ParseWeekday(cfg.Schedule.DayOfWeek)
			if err != nil {
				return err
			}
			spec := schedule.Spec{
				Weekday:  weekday,
				Hour:     cfg.Schedule.HourOrDefault(),
				Minute:   cfg.Schedule.Minute,
				Biweekly: cfg.Schedule.Biweekly,
			}

			store := &schedule.FileRunStore{
				Path: filepath.Join(cfg.OutputDir, ".statuspulse", "last_run.json"),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			loop := &schedule.Loop{Spec: spec, Store: store, Run: run}
			return loop.Start(ctx)
		},
	}

	cmd.Flags().BoolVar(&runNow, "run-now", false, "Generate one report immediately instead of waiting for the slot")

	return cmd
}

func generateOnce(ctx context.Context, cfg *config.Config) error {
	result, err := pipeline.Run(ctx, pipeline.Options{
		BaseURL:          cfg.Jira.BaseURL,
		Credential:       cfg.Credential(),
		Projects:         cfg.Projects,
		DaysBack:         cfg.DaysBack,
		StoryPointsField: cfg.Jira.StoryPointsField,
		Buckets:          cfg.StatusBuckets,
	})
	if err != nil {
		return err
	}

	gen := &report.Generator{OutputDir: cfg.OutputDir}
	path, err := gen.Generate(result.Summary, result.GeneratedAt)
	if err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", path)
	return nil
}
