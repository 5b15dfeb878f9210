// File: cmd/replay.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pvmigrate/internal/export"
	"pvmigrate/internal/observability"
	"pvmigrate/internal/replay"
)

// newReplayCmd creates the `replay` command: read previously exported
// templates and re-create them in the destination system.
func newReplayCmd() *cobra.Command {
	var kinds []string

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay exported templates into the destination GraphQL API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateForReplay(); err != nil {
				return err
			}
			logger := observability.GetLogger()

			store, err := export.NewStore(cfg.Export.Dir, logger)
			if err != nil {
				return err
			}
			templates, err := store.ReadTemplates()
			if err != nil {
				return fmt.Errorf("no usable template export found (run `pvmigrate export` first): %w", err)
			}

			selected, err := parseNoticeKinds(kinds)
			if err != nil {
				return err
			}

			client := replay.NewClient(
				cfg.Destination.BaseURL,
				cfg.Destination.RatePerSecond,
				cfg.Destination.Timeout,
				logger,
			)
			runner := replay.NewRunner(client, selected, logger)
			runner.TenantOverride = cfg.Destination.TenantID

			result, err := runner.Run(cmd.Context(), cfg.Destination.Email, cfg.Destination.Password, templates)
			if result != nil {
				logger.Info("Replay finished.", zap.Int("created", result.Created))
			}
			return err
		},
	}

	replayCmd.Flags().StringSliceVar(&kinds, "kinds", nil,
		"notice kinds to replay (issuance, reissuance, release); default all")
	return replayCmd
}

func parseNoticeKinds(raw []string) ([]replay.NoticeKind, error) {
	kinds := make([]replay.NoticeKind, 0, len(raw))
	for _, k := range raw {
		switch replay.NoticeKind(k) {
		case replay.NoticeIssuance, replay.NoticeReissuance, replay.NoticeRelease:
			kinds = append(kinds, replay.NoticeKind(k))
		default:
			return nil, fmt.Errorf("unknown notice kind %q", k)
		}
	}
	return kinds, nil
}
