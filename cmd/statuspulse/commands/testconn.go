package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/statuspulse/statuspulse/core/jira"
)

// NewTestConnectionCommand creates the connection diagnostics command.
func NewTestConnectionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Probe the configured Jira credentials and report what works",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Jira.BaseURL == "" {
				return fmt.Errorf("jira.base_url is required")
			}

			client := jira.NewClient(cfg.Jira.BaseURL, cfg.Credential())
			session, err := client.Negotiate(cmd.Context())
			if err != nil {
				var authErr *jira.AuthError
				if errors.As(err, &authErr) {
					fmt.Println("Connection failed.")
					fmt.Printf("  %s\n", authErr.Diagnostic())
					fmt.Println("Probe history:")
					for _, p := range authErr.Probes {
						fmt.Printf("  - %s\n", p.String())
					}
					return fmt.Errorf("no working authentication method found")
				}
				return err
			}

			fmt.Println("Connection OK.")
			fmt.Printf("  scheme:      %s\n", session.Scheme)
			fmt.Printf("  api version: %d\n", session.APIVersion)
			fmt.Printf("  api root:    %s\n", session.APIRoot)
			return nil
		},
	}
	return cmd
}
