// File: cmd/export.go
package cmd

import (
	"github.com/spf13/cobra"

	"pvmigrate/internal/observability"
	"pvmigrate/internal/pipeline"
)

// newExportCmd creates the `export` command: the full scrape-and-export
// half of a migration.
func newExportCmd() *cobra.Command {
	var (
		skipTemplates      bool
		skipCases          bool
		skipCommunications bool
		strictMFA          bool
	)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Scrape templates, cases, and communications from the source console into export files",
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

			d := pipeline.Descriptor{
				Name:           "export",
				Templates:      !skipTemplates,
				Cases:          !skipCases,
				Communications: !skipCommunications,
			}
			return p.Run(cmd.Context(), d)
		},
	}

	exportCmd.Flags().BoolVar(&skipTemplates, "skip-templates", false, "do not scrape communication templates")
	exportCmd.Flags().BoolVar(&skipCases, "skip-cases", false, "do not export the case list")
	exportCmd.Flags().BoolVar(&skipCommunications, "skip-communications", false, "do not scrape per-case communications")
	exportCmd.Flags().BoolVar(&strictMFA, "strict-mfa", false, "treat a timed-out second-factor wait as fatal")
	return exportCmd
}
