package cli

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/composerbridge/internal/metrics"
	"github.com/matzehuels/composerbridge/internal/server"
	"github.com/matzehuels/composerbridge/pkg/pipeline"
)

// serveCommand runs the HTTP server until interrupted.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		listen   string
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve packages.json over HTTP",
		Long: `Serve answers GET / and GET /packages.json, refreshing the document on each
request when GitLab reports newer activity. With --watch a background
watcher rebuilds as soon as a reload is triggered, and --refresh-interval
adds periodic refreshes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			runner, err := c.newRunner(cfg, false)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			metrics.NewCollector(reg).Install()

			srv := server.New(runner, server.Options{
				Addr:        cfg.Listen,
				ReloadToken: cfg.ReloadToken,
				Metrics:     metrics.Handler(reg),
				Logger:      c.Logger,
			})

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return srv.Run(ctx) })
			if watch || interval > 0 {
				w := pipeline.NewWatcher(runner, interval)
				g.Go(func() error { return w.Run(ctx) })
			}

			printInfo(cmd.OutOrStdout(), "Serving %s on %s", pipeline.OutputFile, StyleValue.Render(cfg.Listen))
			printDetail(cmd.OutOrStdout(), "Cache: %s", cfg.CacheDir)
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides config)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "rebuild in the background when a reload is triggered")
	cmd.Flags().DurationVar(&interval, "refresh-interval", 0, "also refresh periodically (e.g. 5m), implies --watch")
	return cmd
}
