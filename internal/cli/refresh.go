package cli

import (
	"github.com/spf13/cobra"
)

// refreshCommand runs one refresh and exits.
func (c *CLI) refreshCommand() *cobra.Command {
	var force, noCache bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Bring packages.json up to date once",
		Long: `Refresh lists the projects visible to the configured token and rebuilds
packages.json when it is missing, stale or a reload was triggered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			runner, err := c.newRunner(cfg, noCache)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if noCache {
				printWarning(out, "Project cache bypassed, every project is read from GitLab")
			}

			spin := newSpinner(cmd.Context(), cmd.ErrOrStderr(), "Refreshing packages.json")
			spin.Start()
			res, err := runner.Refresh(cmd.Context(), force || noCache)
			if err != nil {
				spin.StopWithError("Refresh failed")
				return err
			}
			spin.Stop()

			printResult(out, res)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "rebuild even if packages.json is up to date")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "ignore per-project cache records (implies --force)")
	return cmd
}
