package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/statuspulse/statuspulse/core/pipeline"
	"github.com/statuspulse/statuspulse/core/report"
)

// NewReportCommand creates the one-shot report command.
func NewReportCommand() *cobra.Command {
	var (
		projects  []string
		daysBack  int
		outputDir string
		enhanced  bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch issues and write a status report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(projects) > 0 {
				cfg.Projects = projects
			}
			if daysBack > 0 {
				cfg.DaysBack = daysBack
			}
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			result, err := pipeline.Run(cmd.Context(), pipeline.Options{
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

			if enhanced {
				if _, err := report.WritePacket(cfg.OutputDir, result.Summary, result.Issues, result.GeneratedAt); err != nil {
					return err
				}
				insights, err := report.LoadLatestResponse(cfg.OutputDir)
				if err != nil {
					return err
				}
				if insights != nil && !insights.Empty() {
					content := report.RenderEnhanced(result.Summary, result.GeneratedAt, *insights)
					if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
						return err
					}
					fmt.Printf("Report enriched with analysis insights\n")
				} else {
					fmt.Printf("No analysis response found yet; drop one under %s/insights and re-run\n", cfg.OutputDir)
				}
			}

			fmt.Printf("Report written to %s\n", path)
			fmt.Printf("Issues: %d  failed scopes: %d  parse failures: %d\n",
				len(result.Issues), len(result.FetchErrors), result.ParseFailures)
			for _, fe := range result.FetchErrors {
				fmt.Printf("  %s: %s\n", fe.Project, fe.Diagnostic())
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&projects, "projects", nil, "Project keys to report on (overrides config)")
	cmd.Flags().IntVar(&daysBack, "days-back", 0, "How many days of updates to fetch (overrides config)")
	cmd.Flags().StringVar(&outputDir, "output", "", "Directory to write reports into (overrides config)")
	cmd.Flags().BoolVar(&enhanced, "enhanced", false, "Write an analysis packet and merge any saved response")

	return cmd
}
