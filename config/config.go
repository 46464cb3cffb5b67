// Package config loads lazygit settings from a YAML file and turns them into
// repository options.
//
// Example file:
//
//	repo:
//	  url: https://github.com/org/repo.git
//	  branch: main
//	  dir: /var/cache/lazygit/repo
//	clone:
//	  lazy: required
//	  transport: cli
//	sparse:
//	  include: ["docs/**", "*.md"]
//	  exclude: ["docs/archive/**"]
//	auth:
//	  username: bot
//	  password_env: GIT_TOKEN
//	log:
//	  level: debug
//	metrics:
//	  listen: ":9090"
//
// String values may reference environment variables as $VAR or ${VAR}.
package config

import (
	"fmt"
	"os"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

// Transport names.
const (
	TransportGoGit = "gogit"
	TransportCLI   = "cli"
)

// Config is the root of a lazygit configuration file.
type Config struct {
	Repo    RepoConfig    `yaml:"repo"`
	Clone   CloneConfig   `yaml:"clone"`
	Sparse  SparseConfig  `yaml:"sparse"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// RepoConfig identifies the repository and where its working tree lives.
type RepoConfig struct {
	URL    string `yaml:"url"`
	Branch string `yaml:"branch"`

	// Dir is the working tree directory. Empty keeps the tree in memory.
	Dir string `yaml:"dir"`
}

// CloneConfig controls how the repository is cloned.
type CloneConfig struct {
	Lazy          LazyMode `yaml:"lazy"`
	Depth         int      `yaml:"depth"`
	BlobExclusion *bool    `yaml:"blob_exclusion"`
	Transport     string   `yaml:"transport"`
}

// SparseConfig limits the working tree. Patterns use glob syntax where "*"
// stays within one path segment and "**" crosses segments.
type SparseConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// AuthConfig holds credentials. Secrets are read from the environment or a
// key file, never from the configuration itself.
type AuthConfig struct {
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
	TokenEnv    string `yaml:"token_env"`
	SSHKeyFile  string `yaml:"ssh_key_file"`
	SSHAgent    bool   `yaml:"ssh_agent"`
	KnownHosts  string `yaml:"known_hosts"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads, expands, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "failed to read config %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "invalid config %s", path)
	}
	return cfg, nil
}

// Parse decodes a configuration document and prepares it for use.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "failed to parse config")
	}

	cfg.expandEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandEnv() {
	for _, s := range []*string{
		&c.Repo.URL,
		&c.Repo.Branch,
		&c.Repo.Dir,
		&c.Auth.Username,
		&c.Auth.SSHKeyFile,
		&c.Auth.KnownHosts,
		&c.Metrics.Listen,
	} {
		*s = os.ExpandEnv(*s)
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Clone.Lazy == "" {
		c.Clone.Lazy = LazyOn
	}
	if c.Clone.Transport == "" {
		c.Clone.Transport = TransportGoGit
	}
	if c.Clone.BlobExclusion == nil {
		on := true
		c.Clone.BlobExclusion = &on
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks the configuration for semantic errors. The returned error
// carries INVALID_CONFIGURATION and wraps a *ValidationError.
func (c *Config) Validate() error {
	var errs []string

	if c.Repo.URL == "" {
		errs = append(errs, "repo.url is required")
	}

	switch c.Clone.Lazy {
	case LazyOn, LazyOff, LazyRequired:
	default:
		errs = append(errs, fmt.Sprintf("clone.lazy: invalid value %q (must be true, false or required)", c.Clone.Lazy))
	}

	if c.Clone.Depth < 0 {
		errs = append(errs, "clone.depth must not be negative")
	}

	switch c.Clone.Transport {
	case TransportGoGit:
	case TransportCLI:
		if c.Repo.Dir == "" {
			errs = append(errs, "clone.transport 'cli' requires repo.dir")
		}
	default:
		errs = append(errs, fmt.Sprintf("clone.transport: unknown transport %q (must be gogit or cli)", c.Clone.Transport))
	}

	for _, p := range append(append([]string(nil), c.Sparse.Include...), c.Sparse.Exclude...) {
		if _, err := compilePattern(p); err != nil {
			errs = append(errs, fmt.Sprintf("sparse: invalid pattern %q: %v", p, err))
		}
	}

	methods := 0
	for _, set := range []bool{c.Auth.PasswordEnv != "", c.Auth.TokenEnv != "", c.Auth.SSHKeyFile != "", c.Auth.SSHAgent} {
		if set {
			methods++
		}
	}
	if methods > 1 {
		errs = append(errs, "auth: password_env, token_env, ssh_key_file and ssh_agent are mutually exclusive")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return platformerrors.Wrap(&ValidationError{Errors: errs}, platformerrors.CodeInvalidConfig, "invalid configuration")
	}
	return nil
}
