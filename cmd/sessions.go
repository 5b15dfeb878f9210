// File: cmd/sessions.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pvmigrate/internal/browser"
	"pvmigrate/internal/observability"
)

// newSessionsCmd creates the `sessions` command group for managing
// saved browser sessions.
func newSessionsCmd() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved browser sessions",
	}
	sessionsCmd.AddCommand(newSessionsClearCmd())
	return sessionsCmd
}

func newSessionsClearCmd() *cobra.Command {
	var all bool

	clearCmd := &cobra.Command{
		Use:   "clear [username]",
		Short: "Remove a saved session, or all of them with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			store, err := browser.NewSessionStore(cfg.Session, logger)
			if err != nil {
				return err
			}

			if all {
				if err := store.ClearAll(); err != nil {
					return err
				}
				logger.Info("All saved sessions cleared.")
				return nil
			}

			username := cfg.Source.Username
			if len(args) == 1 {
				username = args[0]
			}
			if username == "" {
				return cmd.Usage()
			}
			if err := store.Clear(username); err != nil {
				return err
			}
			logger.Info("Session cleared.", zap.String("username", username))
			return nil
		},
	}

	clearCmd.Flags().BoolVar(&all, "all", false, "remove every saved session")
	return clearCmd
}
