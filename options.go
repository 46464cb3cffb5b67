package lazygit

import (
	"log/slog"

	"github.com/go-git/go-billy/v5"

	"github.com/jmgilman/go/lazygit/remote"
)

// SparseFilter decides whether a tree entry belongs to the working tree.
// Returning an error aborts Open.
type SparseFilter func(entry remote.TreeEntry) (bool, error)

// Option configures Open.
type Option func(*options)

type options struct {
	fs            billy.Filesystem
	dir           string
	lazy          bool
	requireLazy   bool
	depth         int
	blobExclusion bool
	sparse        SparseFilter
	branch        string
	auth          remote.Auth
	transport     remote.Transport
	cli           bool
	logger        *slog.Logger
	metrics       bool
}

func defaultOptions() *options {
	return &options{
		lazy:          true,
		blobExclusion: true,
	}
}

// WithLazy enables or disables lazy materialization. Lazy is the default.
func WithLazy(lazy bool) Option {
	return func(o *options) {
		o.lazy = lazy
	}
}

// WithRequireLazy makes Open fail instead of degrading to an eager clone when
// the filesystem cannot hold placeholders. It implies WithLazy(true).
func WithRequireLazy() Option {
	return func(o *options) {
		o.lazy = true
		o.requireLazy = true
	}
}

// WithDepth sets the clone depth for eager clones. Lazy clones are always
// shallow.
func WithDepth(depth int) Option {
	return func(o *options) {
		o.depth = depth
	}
}

// WithBlobExclusion controls whether lazy clones ask the server to omit blobs.
// Only the git CLI transport honors it.
func WithBlobExclusion(exclude bool) Option {
	return func(o *options) {
		o.blobExclusion = exclude
	}
}

// WithSparseFilter limits the working tree of a lazy clone to the entries
// filter accepts. Rejected paths get no placeholder and never materialize.
func WithSparseFilter(filter SparseFilter) Option {
	return func(o *options) {
		o.sparse = filter
	}
}

// WithBranch selects the branch to clone. The remote default is used otherwise.
func WithBranch(branch string) Option {
	return func(o *options) {
		o.branch = branch
	}
}

// WithAuth sets the credentials used for clone and fetch.
func WithAuth(auth remote.Auth) Option {
	return func(o *options) {
		o.auth = auth
	}
}

// WithFilesystem sets the working tree filesystem. Lazy mode requires it to
// implement placeholder.Capable.
//
// Example:
//
//	pfs, err := placeholder.NewFilesystem(memfs.New(), "")
//	repo, err := lazygit.Open(ctx, url, lazygit.WithFilesystem(pfs))
func WithFilesystem(fs billy.Filesystem) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithDir roots the working tree at an OS directory, with placeholder
// support. It is ignored when WithFilesystem is also given.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithTransport replaces the transport. Auth and CLI selection do not apply
// to a supplied transport.
func WithTransport(t remote.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithGitCLI selects the git binary as transport. The working tree must live
// on the OS filesystem.
func WithGitCLI() Option {
	return func(o *options) {
		o.cli = true
	}
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records Prometheus metrics for transport operations and
// batches. Collectors are registered with the default registry.
func WithMetrics() Option {
	return func(o *options) {
		o.metrics = true
	}
}
