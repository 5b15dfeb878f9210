// File: cmd/login.go
package cmd

import (
	"github.com/spf13/cobra"

	"pvmigrate/internal/observability"
	"pvmigrate/internal/pipeline"
)

// newLoginCmd creates the `login` command: run just the interactive
// authentication and save the session, without scraping anything.
func newLoginCmd() *cobra.Command {
	var (
		force     bool
		strictMFA bool
	)

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the identity provider and save the browser session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateForExport(); err != nil {
				return err
			}
			logger := observability.GetLogger()

			p, err := pipeline.New(cfg, logger)
			if err != nil {
				return err
			}
			p.StrictMFA = strictMFA
			return p.Login(cmd.Context(), force)
		},
	}

	loginCmd.Flags().BoolVar(&force, "force", false, "discard any existing session and authenticate from scratch")
	loginCmd.Flags().BoolVar(&strictMFA, "strict-mfa", false, "treat a timed-out second-factor wait as fatal")
	return loginCmd
}
