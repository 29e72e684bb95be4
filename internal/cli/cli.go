package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/composerbridge/pkg/buildinfo"
	"github.com/matzehuels/composerbridge/pkg/cache"
	"github.com/matzehuels/composerbridge/pkg/config"
	"github.com/matzehuels/composerbridge/pkg/integrations/gitlab"
	"github.com/matzehuels/composerbridge/pkg/pipeline"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	cacheDir   string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          buildinfo.Name,
		Short:        "Serve GitLab projects as a Composer repository",
		Long:         `composerbridge publishes the composer.json of every branch and tag of the GitLab projects you can see as a Composer packages.json, rebuilt only when project activity says it is out of date.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(buildinfo.Template())

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultPath, "configuration file (JSON, or TOML by extension)")
	root.PersistentFlags().StringVar(&c.cacheDir, "cache-dir", "", "cache directory (overrides config)")

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.refreshCommand())
	root.AddCommand(c.triggerCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// loadConfig reads the configuration file and applies flag overrides.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath, c.Logger)
	if err != nil {
		return nil, err
	}
	if c.cacheDir != "" {
		cfg.CacheDir = c.cacheDir
	}
	return cfg, nil
}

// resolveCacheDir returns the cache directory without requiring a full
// configuration when --cache-dir is given.
func (c *CLI) resolveCacheDir() (string, error) {
	if c.cacheDir != "" {
		return c.cacheDir, nil
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.CacheDir, nil
}

// newRunner wires a GitLab client and a pipeline runner from cfg.
// With noCache every project is resolved from upstream.
func (c *CLI) newRunner(cfg *config.Config, noCache bool) (*pipeline.Runner, error) {
	client := gitlab.NewClient(gitlab.Options{
		BaseURL:   cfg.APIURL,
		APIKey:    cfg.APIKey,
		Timeout:   cfg.RequestTimeout,
		RateLimit: cfg.RateLimit,
		Retries:   cfg.Retries,
		Logger:    c.Logger,
	})

	opts := pipeline.Options{
		Dir:         cfg.CacheDir,
		URLType:     cfg.Method,
		Concurrency: cfg.Concurrency,
		Logger:      c.Logger,
	}
	if noCache {
		opts.Store = cache.NullStore{}
	}
	return pipeline.NewRunner(client, opts)
}
