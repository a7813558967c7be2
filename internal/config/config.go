package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/wcsync/internal/retry"
	"github.com/schaermu/wcsync/internal/wcpath"
)

// Config represents the complete wcsync configuration
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Remote    RemoteConfig    `yaml:"remote"`
	Auth      AuthConfig      `yaml:"auth"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Serve     ServeConfig     `yaml:"serve"`
}

// WorkspaceConfig configures the working copy being tracked
type WorkspaceConfig struct {
	Root         string   `yaml:"root"`
	InternalDirs []string `yaml:"internal_dirs"`
	Ignore       []string `yaml:"ignore"`
}

// RemoteConfig configures the repository side of the comparison
type RemoteConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	Ref  string `yaml:"ref"`
	// FetchInterval is the minimum time between fetches of the remote. A
	// negative interval disables fetching.
	FetchInterval time.Duration `yaml:"fetch_interval"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// RefreshConfig configures how remote status is refreshed
type RefreshConfig struct {
	// Deep fetches remote status before classifying. Defaults to true.
	Deep             *bool        `yaml:"deep"`
	Depth            string       `yaml:"depth"`
	BatchSize        int          `yaml:"batch_size"`
	FetchConcurrency int          `yaml:"fetch_concurrency"`
	Retry            retry.Config `yaml:"retry"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool          `yaml:"enabled"`
	ListenAddr              string        `yaml:"listen_addr"`
	GitHubWebhookSecretFile string        `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string      `yaml:"allowed_event_types"`
	AllowedRefs             []string      `yaml:"allowed_refs"`
	Debounce                time.Duration `yaml:"debounce"`
	MetricsPath             string        `yaml:"metrics_path"`
	WatchWorkspace          bool          `yaml:"watch_workspace"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Workspace.Root = os.ExpandEnv(c.Workspace.Root)
	c.Remote.Name = os.ExpandEnv(c.Remote.Name)
	c.Remote.URL = os.ExpandEnv(c.Remote.URL)
	c.Remote.Ref = os.ExpandEnv(c.Remote.Ref)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Workspace.InternalDirs == nil {
		c.Workspace.InternalDirs = []string{".git", ".svn"}
	}
	if c.Remote.Name == "" {
		c.Remote.Name = "origin"
	}
	if c.Remote.FetchInterval == 0 {
		c.Remote.FetchInterval = time.Second
	}
	if c.Refresh.Deep == nil {
		deep := true
		c.Refresh.Deep = &deep
	}
	if c.Refresh.Depth == "" {
		c.Refresh.Depth = wcpath.DepthInfinite.String()
	}
	if c.Refresh.BatchSize == 0 {
		c.Refresh.BatchSize = 64
	}
	if c.Refresh.FetchConcurrency == 0 {
		c.Refresh.FetchConcurrency = 4
	}
	if c.Refresh.Retry == (retry.Config{}) {
		c.Refresh.Retry = retry.DefaultConfig()
	}
	if c.Refresh.Retry.Multiplier == 0 {
		c.Refresh.Retry.Multiplier = 2.0
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = "127.0.0.1:8787"
	}
	if c.Serve.Debounce == 0 {
		c.Serve.Debounce = 2 * time.Second
	}
	if c.Serve.MetricsPath == "" {
		c.Serve.MetricsPath = "/metrics"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate workspace
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}
	if !filepath.IsAbs(c.Workspace.Root) {
		return fmt.Errorf("workspace.root must be an absolute path: %s", c.Workspace.Root)
	}
	for _, pattern := range c.Workspace.Ignore {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("invalid workspace.ignore pattern %q: %w", pattern, err)
		}
	}

	// Validate remote
	if c.Remote.Ref == "" {
		return fmt.Errorf("remote.ref is required")
	}

	// Validate refresh
	if _, err := wcpath.ParseDepth(c.Refresh.Depth); err != nil {
		return fmt.Errorf("invalid refresh.depth: %w", err)
	}
	if c.Refresh.BatchSize < 1 {
		return fmt.Errorf("refresh.batch_size must be positive: %d", c.Refresh.BatchSize)
	}
	if c.Refresh.FetchConcurrency < 1 {
		return fmt.Errorf("refresh.fetch_concurrency must be positive: %d", c.Refresh.FetchConcurrency)
	}
	if c.Refresh.Retry.MaxAttempts < 0 {
		return fmt.Errorf("refresh.retry.max_attempts must not be negative: %d", c.Refresh.Retry.MaxAttempts)
	}
	if c.Refresh.Retry.Multiplier < 1 {
		return fmt.Errorf("refresh.retry.multiplier must be at least 1: %g", c.Refresh.Retry.Multiplier)
	}
	if c.Refresh.Retry.Jitter < 0 || c.Refresh.Retry.Jitter > 1 {
		return fmt.Errorf("refresh.retry.jitter must be between 0 and 1: %g", c.Refresh.Retry.Jitter)
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth is configured, the URL scheme must match
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but remote.url does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but remote.url does not use HTTPS scheme")
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}
	if !strings.HasPrefix(c.Serve.MetricsPath, "/") {
		return fmt.Errorf("serve.metrics_path must start with /: %s", c.Serve.MetricsPath)
	}
	if c.Serve.Debounce < 0 {
		return fmt.Errorf("serve.debounce must not be negative: %s", c.Serve.Debounce)
	}

	return nil
}

// DeepRefresh reports whether refreshes fetch remote status first.
func (c *Config) DeepRefresh() bool {
	return c.Refresh.Deep == nil || *c.Refresh.Deep
}

// RefreshDepth returns the parsed refresh depth. Validate guarantees it
// parses.
func (c *Config) RefreshDepth() wcpath.Depth {
	d, err := wcpath.ParseDepth(c.Refresh.Depth)
	if err != nil {
		return wcpath.DepthInfinite
	}
	return d
}

// TrackingRef returns the remote-tracking ref the working copy is compared
// against, e.g. "origin/main".
func (c *Config) TrackingRef() string {
	ref := strings.TrimPrefix(c.Remote.Ref, "refs/heads/")
	return c.Remote.Name + "/" + ref
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the remote URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Remote.URL, "https://")
}

// IsSSH returns true if the remote URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Remote.URL, "git@") || strings.HasPrefix(c.Remote.URL, "ssh://")
}
