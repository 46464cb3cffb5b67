package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/jmgilman/go/lazygit"
	"github.com/jmgilman/go/lazygit/remote"
)

var errPatternTooLong = fmt.Errorf("pattern exceeds %d characters", maxPatternLength)

// SlogLevel converts the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level: unknown level %q", l.Level)
	}
}

// Logger returns a text logger writing to stderr at the configured level.
func (c *Config) Logger() *slog.Logger {
	level, err := c.Log.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// AuthMethod builds the credentials described by the auth section. It
// returns nil when no credentials are configured.
func (c *Config) AuthMethod() (remote.Auth, error) {
	a := c.Auth
	user := a.Username
	if user == "" {
		user = "git"
	}

	var sshOpts []remote.SSHKeyOption
	if a.KnownHosts != "" {
		sshOpts = append(sshOpts, remote.WithKnownHosts(a.KnownHosts))
	}

	switch {
	case a.SSHKeyFile != "":
		return remote.SSHKeyFile(user, a.SSHKeyFile, sshOpts...)
	case a.SSHAgent:
		return remote.SSHAgentAuth(user)
	case a.TokenEnv != "":
		token, err := lookupSecret("auth.token_env", a.TokenEnv)
		if err != nil {
			return nil, err
		}
		return remote.TokenAuth(token), nil
	case a.PasswordEnv != "":
		password, err := lookupSecret("auth.password_env", a.PasswordEnv)
		if err != nil {
			return nil, err
		}
		return remote.BasicAuth(a.Username, password), nil
	default:
		return nil, nil
	}
}

func lookupSecret(field, name string) (string, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", platformerrors.Newf(platformerrors.CodeInvalidConfig, "%s: %s is not set", field, name)
	}
	return value, nil
}

// Options converts the configuration into repository options. logger is
// passed through to every component.
func (c *Config) Options(logger *slog.Logger) ([]lazygit.Option, error) {
	opts := []lazygit.Option{
		lazygit.WithLazy(c.Clone.Lazy.Enabled()),
		lazygit.WithDepth(c.Clone.Depth),
		lazygit.WithLogger(logger),
	}
	if c.Clone.Lazy == LazyRequired {
		opts = append(opts, lazygit.WithRequireLazy())
	}
	if c.Clone.BlobExclusion != nil {
		opts = append(opts, lazygit.WithBlobExclusion(*c.Clone.BlobExclusion))
	}
	if c.Clone.Transport == TransportCLI {
		opts = append(opts, lazygit.WithGitCLI())
	}
	if c.Repo.Branch != "" {
		opts = append(opts, lazygit.WithBranch(c.Repo.Branch))
	}
	if c.Repo.Dir != "" {
		opts = append(opts, lazygit.WithDir(c.Repo.Dir))
	}
	if c.Metrics.Listen != "" {
		opts = append(opts, lazygit.WithMetrics())
	}

	filter, err := c.Sparse.Filter()
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "invalid sparse pattern")
	}
	if filter != nil {
		opts = append(opts, lazygit.WithSparseFilter(filter))
	}

	auth, err := c.AuthMethod()
	if err != nil {
		return nil, err
	}
	if auth != nil {
		opts = append(opts, lazygit.WithAuth(auth))
	}

	return opts, nil
}
