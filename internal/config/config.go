package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config mirrors the YAML schema. Paths support ~ and ${ENV} expansion.
// Minimal validation occurs in Validate().
type Config struct {
	Version   int       `yaml:"version"`
	General   General   `yaml:"general"`
	Service   Service   `yaml:"service"`
	Download  Download  `yaml:"download"`
	Inference Inference `yaml:"inference"`
	Logging   Logging   `yaml:"logging"`
	Metrics   Metrics   `yaml:"metrics"`
}

type General struct {
	DataRoot     string `yaml:"data_root"`
	DownloadRoot string `yaml:"download_root"`
}

// Service describes the model distribution endpoint.
type Service struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
	TokenEnv       string `yaml:"token_env"`
}

type Download struct {
	DefaultPolicy string `yaml:"default_policy"` // local | background | latest
}

type Inference struct {
	// SampleInput is the file fed into input slot 0 after a successful download.
	// Empty disables the post-download inference run.
	SampleInput string `yaml:"sample_input"`
}

type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // human|json
}

type Metrics struct {
	PrometheusTextfile PromTextfile `yaml:"prometheus_textfile"`
}

type PromTextfile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads, parses, expands, and validates a YAML config file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	expanded, err := expandTilde(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes YAML bytes, expanding ${ENV} placeholders first.
func Parse(b []byte) (*Config, error) {
	b = []byte(os.ExpandEnv(string(b)))
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	if err := c.expandPaths(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// DefaultPath resolves the config path from MLDOWNLOADER_CONFIG or ~/.config/mldownloader/config.yml.
func DefaultPath() string {
	if env := os.Getenv("MLDOWNLOADER_CONFIG"); env != "" {
		return env
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return filepath.Join(h, ".config", "mldownloader", "config.yml")
	}
	return ""
}

func (c *Config) expandPaths() error {
	var err error
	if c.General.DataRoot, err = expandTilde(c.General.DataRoot); err != nil {
		return err
	}
	if c.General.DownloadRoot, err = expandTilde(c.General.DownloadRoot); err != nil {
		return err
	}
	if c.Inference.SampleInput, err = expandTilde(c.Inference.SampleInput); err != nil {
		return err
	}
	if c.Metrics.PrometheusTextfile.Path, err = expandTilde(c.Metrics.PrometheusTextfile.Path); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", c.Version)
	}
	if c.General.DataRoot == "" {
		return errors.New("general.data_root is required")
	}
	if c.General.DownloadRoot == "" {
		return errors.New("general.download_root is required")
	}
	if c.Service.BaseURL == "" {
		return errors.New("service.base_url is required")
	}
	u, err := url.Parse(c.Service.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("service.base_url invalid: %s", c.Service.BaseURL)
	}
	if c.Service.TimeoutSeconds < 0 {
		return fmt.Errorf("service.timeout_seconds must be >= 0")
	}
	switch strings.ToLower(c.Download.DefaultPolicy) {
	case "", "local", "background", "latest":
		// ok
	default:
		return fmt.Errorf("download.default_policy invalid: %s", c.Download.DefaultPolicy)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
		// ok
	default:
		return fmt.Errorf("logging.level invalid: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "human", "json":
		// ok
	default:
		return fmt.Errorf("logging.format invalid: %s", c.Logging.Format)
	}
	if c.Metrics.PrometheusTextfile.Enabled && c.Metrics.PrometheusTextfile.Path == "" {
		return errors.New("metrics.prometheus_textfile.path is required when enabled")
	}
	return nil
}

// Token returns the bearer token named by service.token_env, if any.
func (c *Config) Token() string {
	env := strings.TrimSpace(c.Service.TokenEnv)
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}

func expandTilde(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p[0] != '~' {
		return p, nil
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if p == "~" {
		return h, nil
	}
	return filepath.Join(h, p[2:]), nil
}
