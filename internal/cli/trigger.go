package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/composerbridge/pkg/pipeline"
)

// triggerCommand writes the reload marker, the local equivalent of
// GET /trigger-reload.
func (c *CLI) triggerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Request a rebuild on the next refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.resolveCacheDir()
			if err != nil {
				return err
			}
			if err := pipeline.Trigger(dir); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Reload triggered")
			printDetail(cmd.OutOrStdout(), "Directory: %s", dir)
			return nil
		},
	}
}
