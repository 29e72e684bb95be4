// Package config loads the bridge configuration.
//
// Configuration is read once at startup from a JSON file, or a TOML file when
// the name ends in .toml, and then overlaid with COMPOSER_BRIDGE_* environment
// variables. Command-line flags are applied on top by the CLI.
//
//	{
//	    "apiUrl": "https://gitlab.example.com/api/v4",
//	    "apiKey": "glpat-...",
//	    "method": "ssh"
//	}
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	errs "github.com/matzehuels/composerbridge/pkg/errors"
	"github.com/matzehuels/composerbridge/pkg/integrations/gitlab"
)

// Defaults for optional settings.
const (
	DefaultPath        = "config/gitlab.json"
	DefaultCacheDir    = "cache"
	DefaultListen      = ":8080"
	DefaultReloadToken = "GITLAB_COMPOSER_BRIDGE_RELOAD"
)

// Environment variables that override file settings.
const (
	EnvAPIURL      = "COMPOSER_BRIDGE_API_URL"
	EnvAPIKey      = "COMPOSER_BRIDGE_API_KEY"
	EnvMethod      = "COMPOSER_BRIDGE_METHOD"
	EnvCacheDir    = "COMPOSER_BRIDGE_CACHE_DIR"
	EnvListen      = "COMPOSER_BRIDGE_LISTEN"
	EnvReloadToken = "COMPOSER_BRIDGE_RELOAD_TOKEN"
)

// Config is the resolved configuration. Treat it as immutable after Load.
type Config struct {
	APIURL string         // GitLab API base, e.g. https://gitlab.example.com/api/v4
	APIKey string         // private token
	Method gitlab.URLType // repository URL published as package source

	CacheDir    string
	Listen      string
	ReloadToken string

	Concurrency    int
	RequestTimeout time.Duration
	RateLimit      float64
	Retries        int
}

// file is the on-disk shape shared by JSON and TOML.
type file struct {
	APIURL         string  `json:"apiUrl" toml:"apiUrl"`
	APIKey         string  `json:"apiKey" toml:"apiKey"`
	Method         string  `json:"method" toml:"method"`
	CacheDir       string  `json:"cacheDir" toml:"cacheDir"`
	Listen         string  `json:"listen" toml:"listen"`
	ReloadToken    string  `json:"reloadToken" toml:"reloadToken"`
	Concurrency    int     `json:"concurrency" toml:"concurrency"`
	RequestTimeout string  `json:"requestTimeout" toml:"requestTimeout"`
	RateLimit      float64 `json:"rateLimit" toml:"rateLimit"`
	Retries        int     `json:"retries" toml:"retries"`
}

// Load reads the configuration at path, an empty path meaning [DefaultPath].
// Every failure is a CONFIG_ERROR. An unknown method is not fatal: it is
// logged and the http URL is used.
func Load(path string, logger *log.Logger) (*Config, error) {
	if logger == nil {
		logger = log.Default()
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeConfig, err, "read config %s", path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errs.New(errs.ErrCodeConfig, "config %s is empty", path)
	}

	var f file
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &f)
	} else {
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeConfig, err, "parse config %s", path)
	}

	f.applyEnv()
	return f.resolve(logger)
}

func (f *file) applyEnv() {
	override(&f.APIURL, EnvAPIURL)
	override(&f.APIKey, EnvAPIKey)
	override(&f.Method, EnvMethod)
	override(&f.CacheDir, EnvCacheDir)
	override(&f.Listen, EnvListen)
	override(&f.ReloadToken, EnvReloadToken)
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (f *file) resolve(logger *log.Logger) (*Config, error) {
	var missing []string
	if f.APIURL == "" {
		missing = append(missing, "apiUrl")
	}
	if f.APIKey == "" {
		missing = append(missing, "apiKey")
	}
	if f.Method == "" {
		missing = append(missing, "method")
	}
	if len(missing) > 0 {
		return nil, errs.New(errs.ErrCodeConfig, "missing required keys: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		APIURL:      strings.TrimRight(f.APIURL, "/"),
		APIKey:      f.APIKey,
		Method:      gitlab.URLTypeHTTP,
		CacheDir:    orDefault(f.CacheDir, DefaultCacheDir),
		Listen:      orDefault(f.Listen, DefaultListen),
		ReloadToken: orDefault(f.ReloadToken, DefaultReloadToken),
		Concurrency: f.Concurrency,
		RateLimit:   f.RateLimit,
		Retries:     f.Retries,
	}
	if err := errs.ValidateURL(cfg.APIURL); err != nil {
		return nil, err
	}

	if m, ok := gitlab.ParseURLType(f.Method); ok {
		cfg.Method = m
	} else {
		logger.Warn("unknown method, using http", "method", f.Method)
	}

	if f.RequestTimeout != "" {
		d, err := time.ParseDuration(f.RequestTimeout)
		if err != nil || d <= 0 {
			return nil, errs.New(errs.ErrCodeConfig, "invalid requestTimeout %q", f.RequestTimeout)
		}
		cfg.RequestTimeout = d
	}
	if f.Concurrency < 0 || f.Retries < 0 || f.RateLimit < 0 {
		return nil, errs.New(errs.ErrCodeConfig, "numeric settings must not be negative")
	}
	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
