package remote

import (
	"io"
	"log/slog"

	"github.com/jmgilman/go/exec"
)

// Option configures an Engine or a Transport.
type Option func(*options)

type options struct {
	auth     Auth
	logger   *slog.Logger
	executor exec.Executor
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// WithAuth sets the credentials used for fetches after an Attach. Clone uses
// CloneOptions.Auth and remembers it for later fetches.
func WithAuth(auth Auth) Option {
	return func(o *options) {
		o.auth = auth
	}
}

// WithLogger sets the logger. Logging is discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithExecutor sets the executor the CLI transport runs git through.
// Mainly useful for tests.
func WithExecutor(executor exec.Executor) Option {
	return func(o *options) {
		o.executor = executor
	}
}
