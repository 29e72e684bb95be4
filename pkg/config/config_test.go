package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	errs "github.com/matzehuels/composerbridge/pkg/errors"
	"github.com/matzehuels/composerbridge/pkg/integrations/gitlab"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "gitlab.json", `{
		"apiUrl": "https://gitlab.example.com/api/v4/",
		"apiKey": "secret",
		"method": "ssh"
	}`)

	cfg, err := Load(path, log.New(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIURL != "https://gitlab.example.com/api/v4" {
		t.Errorf("APIURL = %q, want trailing slash stripped", cfg.APIURL)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("APIKey = %q, want secret", cfg.APIKey)
	}
	if cfg.Method != gitlab.URLTypeSSH {
		t.Errorf("Method = %q, want ssh", cfg.Method)
	}
	if cfg.CacheDir != DefaultCacheDir || cfg.Listen != DefaultListen || cfg.ReloadToken != DefaultReloadToken {
		t.Errorf("defaults = %q %q %q", cfg.CacheDir, cfg.Listen, cfg.ReloadToken)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "gitlab.toml", `
apiUrl = "https://gitlab.example.com/api/v4"
apiKey = "secret"
method = "http"
cacheDir = "/var/cache/bridge"
concurrency = 8
requestTimeout = "30s"
rateLimit = 5.5
retries = 3
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.CacheDir != "/var/cache/bridge" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.Concurrency != 8 || cfg.Retries != 3 || cfg.RateLimit != 5.5 {
		t.Errorf("numeric settings = %d %d %v", cfg.Concurrency, cfg.Retries, cfg.RateLimit)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
}

func TestLoadInvalidMethodFallsBackToHTTP(t *testing.T) {
	path := writeConfig(t, "gitlab.json", `{"apiUrl":"https://gitlab.test","apiKey":"k","method":"ftp"}`)
	var buf bytes.Buffer

	cfg, err := Load(path, log.New(&buf))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Method != gitlab.URLTypeHTTP {
		t.Errorf("Method = %q, want http", cfg.Method)
	}
	if !strings.Contains(buf.String(), "unknown method") {
		t.Errorf("no warning logged: %q", buf.String())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"empty", "gitlab.json", "  \n", "empty"},
		{"malformed json", "gitlab.json", `{"apiUrl":`, "parse"},
		{"malformed toml", "gitlab.toml", `apiUrl = `, "parse"},
		{"missing key", "gitlab.json", `{"apiUrl":"https://gitlab.test","method":"ssh"}`, "apiKey"},
		{"missing all", "gitlab.json", `{}`, "apiUrl, apiKey, method"},
		{"bad scheme", "gitlab.json", `{"apiUrl":"gitlab.test","apiKey":"k","method":"ssh"}`, "scheme"},
		{"bad timeout", "gitlab.json", `{"apiUrl":"https://gitlab.test","apiKey":"k","method":"ssh","requestTimeout":"soon"}`, "requestTimeout"},
		{"negative retries", "gitlab.json", `{"apiUrl":"https://gitlab.test","apiKey":"k","method":"ssh","retries":-1}`, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content), log.New(&bytes.Buffer{}))
			if !errs.Is(err, errs.ErrCodeConfig) {
				t.Fatalf("Load() error = %v, want CONFIG_ERROR", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), nil)
	if !errs.Is(err, errs.ErrCodeConfig) {
		t.Errorf("Load() error = %v, want CONFIG_ERROR", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "gitlab.json", `{"apiUrl":"https://gitlab.test","method":"http"}`)
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvMethod, "ssh")
	t.Setenv(EnvCacheDir, "/tmp/bridge")
	t.Setenv(EnvListen, "127.0.0.1:9000")
	t.Setenv(EnvReloadToken, "token")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIKey != "from-env" || cfg.Method != gitlab.URLTypeSSH {
		t.Errorf("APIKey, Method = %q, %q", cfg.APIKey, cfg.Method)
	}
	if cfg.CacheDir != "/tmp/bridge" || cfg.Listen != "127.0.0.1:9000" || cfg.ReloadToken != "token" {
		t.Errorf("overrides = %q %q %q", cfg.CacheDir, cfg.Listen, cfg.ReloadToken)
	}
}
