package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrMissingRequired is returned by Load when a required setting is absent.
var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	GitHub    GitHubConfig    `koanf:"github"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	AllowedOrigin  string        `koanf:"allowed_origin"`
	RequestTimeout time.Duration `koanf:"request_timeout"` // 0 disables the deadline
	MaxBodyBytes   int64         `koanf:"max_body_bytes"`
}

// GitHubConfig identifies the workflow to dispatch and the credential used to do it.
type GitHubConfig struct {
	Token        string `koanf:"token"`
	Owner        string `koanf:"owner"`
	Repo         string `koanf:"repo"`
	WorkflowFile string `koanf:"workflow_file"`
	Ref          string `koanf:"ref"`
	BaseURL      string `koanf:"base_url"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or text
}

type TelemetryConfig struct {
	Tracing bool `koanf:"tracing"`
}

// envKeys maps the deployment's environment variable names onto config keys.
// Variables not listed here are ignored.
var envKeys = map[string]string{
	"GITHUB_TOKEN":    "github.token",
	"REPO_OWNER":      "github.owner",
	"REPO_NAME":       "github.repo",
	"WORKFLOW_FILE":   "github.workflow_file",
	"REF":             "github.ref",
	"GITHUB_API_URL":  "github.base_url",
	"PORT":            "server.port",
	"ALLOWED_ORIGIN":  "server.allowed_origin",
	"REQUEST_TIMEOUT": "server.request_timeout",
	"MAX_BODY_BYTES":  "server.max_body_bytes",
	"LOG_LEVEL":       "log.level",
	"LOG_FORMAT":      "log.format",
	"TRACING_ENABLED": "telemetry.tracing",
}

// requiredKeys lists the settings without which the relay cannot start,
// alongside the variable an operator sets for each.
var requiredKeys = []struct {
	key string
	env string
}{
	{"github.token", "GITHUB_TOKEN"},
	{"github.owner", "REPO_OWNER"},
	{"github.repo", "REPO_NAME"},
}

var defaults = map[string]interface{}{
	"server.port":            3000,
	"server.allowed_origin":  "*",
	"server.request_timeout": "30s",
	"server.max_body_bytes":  100 << 10,
	"github.workflow_file":   "build-apk.yml",
	"github.ref":             "main",
	"github.base_url":        "https://api.github.com/",
	"log.level":              "info",
	"log.format":             "json",
}

// Load reads the optional YAML file named by CONFIG_FILE (config.yaml by
// default), overlays the environment, applies defaults and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// A missing file is fine, the environment alone is enough
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// An empty variable does not mask a value from the file
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if strings.TrimSpace(value) == "" {
			return "", nil
		}
		return envKeys[key], value
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) || strings.TrimSpace(k.String(key)) == "" {
			k.Set(key, value)
		}
	}

	var missing []string
	for _, req := range requiredKeys {
		if strings.TrimSpace(k.String(req.key)) == "" {
			missing = append(missing, req.env)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s must be set", ErrMissingRequired, strings.Join(missing, ", "))
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Server.Port)
	}
	if !strings.HasSuffix(cfg.GitHub.BaseURL, "/") {
		cfg.GitHub.BaseURL += "/"
	}

	return &cfg, nil
}

// Addr returns the listen address for the server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
