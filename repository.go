package lazygit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	platformerrors "github.com/jmgilman/go/errors"

	"github.com/jmgilman/go/lazygit/intercept"
	"github.com/jmgilman/go/lazygit/placeholder"
	"github.com/jmgilman/go/lazygit/preload"
	"github.com/jmgilman/go/lazygit/remote"
	"github.com/jmgilman/go/lazygit/scheduler"
)

// Repository is an open working tree whose files materialize on first use.
// It is safe for concurrent use.
type Repository struct {
	url    string
	raw    billy.Filesystem
	fs     billy.Filesystem
	store  *placeholder.Store
	engine *remote.Engine
	sched  *scheduler.Scheduler
	lazy   bool
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.RWMutex
	ref           string
	branch        string
	defaultBranch string
	matcher       gitignore.Matcher
}

// Open clones url, or reattaches to the clone already present in the working
// tree filesystem, and returns a handle to it.
//
// A fresh lazy open lists the tree, registers one placeholder per file and
// seeds the ignore files into the first batch. Reattaching reloads the
// persisted placeholder index and treats every other tracked file as already
// materialized.
func Open(ctx context.Context, url string, opts ...Option) (*Repository, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("repo", remote.RepoName(url))

	if err := remote.ValidateURL(url); err != nil {
		return nil, err
	}

	fs, err := workingTree(o)
	if err != nil {
		return nil, err
	}

	store := placeholder.NewStore(fs)
	lazy := o.lazy
	if lazy && !store.Supported() {
		if o.requireLazy {
			return nil, platformerrors.Wrap(placeholder.ErrUnsupported, platformerrors.CodeInvalidConfig,
				"lazy mode is required but the filesystem cannot hold placeholders")
		}
		logger.Warn("filesystem does not support placeholders, cloning eagerly")
		lazy = false
	}

	transport, err := newTransport(fs, o, logger)
	if err != nil {
		return nil, err
	}

	engine := remote.NewEngine(transport, remote.WithLogger(logger))

	lifetime, cancel := context.WithCancel(context.Background())
	r := &Repository{
		url:    url,
		raw:    fs,
		fs:     fs,
		store:  store,
		engine: engine,
		lazy:   lazy,
		logger: logger,
		ctx:    lifetime,
		cancel: cancel,
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithRef(r.CurrentRef),
	}
	if o.metrics {
		schedOpts = append(schedOpts, scheduler.WithMetrics())
	}
	r.sched = scheduler.New(lifetime, engine, store, schedOpts...)

	if err := r.open(ctx, o); err != nil {
		cancel()
		return nil, err
	}

	if lazy {
		r.fs = intercept.New(fs, materializer{r}, intercept.WithContext(lifetime), intercept.WithLogger(logger))
	}
	return r, nil
}

// workingTree returns the filesystem the working tree lives on.
func workingTree(o *options) (billy.Filesystem, error) {
	if o.fs != nil {
		return o.fs, nil
	}

	base := memfs.New()
	if o.dir != "" {
		if err := os.MkdirAll(o.dir, 0o755); err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to create working tree directory")
		}
		base = osfs.New(o.dir)
	}

	fs, err := placeholder.NewFilesystem(base, "")
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to load placeholder index")
	}
	return fs, nil
}

// newTransport builds the transport selected by o, wrapped for metrics when
// requested.
func newTransport(fs billy.Filesystem, o *options, logger *slog.Logger) (remote.Transport, error) {
	var t remote.Transport
	switch {
	case o.transport != nil:
		t = o.transport
	case o.cli:
		if isMemoryFilesystem(fs) {
			return nil, platformerrors.New(platformerrors.CodeInvalidConfig,
				"the git CLI transport requires an OS-backed filesystem")
		}
		t = remote.NewCLI(fs.Root(), remote.WithAuth(o.auth), remote.WithLogger(logger))
	default:
		t = remote.NewGoGit(fs, remote.WithAuth(o.auth), remote.WithLogger(logger))
	}

	if o.metrics {
		t = remote.NewMetricsTransport(t)
	}
	return t, nil
}

func (r *Repository) open(ctx context.Context, o *options) error {
	_, err := r.raw.Stat(intercept.MetadataDir)
	switch {
	case err == nil:
		return r.reattach(ctx, o)
	case os.IsNotExist(err):
		return r.clone(ctx, o)
	default:
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to inspect working tree")
	}
}

func (r *Repository) clone(ctx context.Context, o *options) error {
	err := r.engine.Clone(ctx, remote.CloneOptions{
		URL:           r.url,
		Ref:           o.branch,
		Depth:         o.depth,
		Lazy:          r.lazy,
		BlobExclusion: o.blobExclusion,
		Auth:          o.auth,
	})
	if err != nil {
		return err
	}

	if err := r.resolve(ctx); err != nil {
		return err
	}

	if !r.lazy {
		if o.sparse != nil {
			r.logger.Warn("sparse filter ignored for eager clone")
		}
		return nil
	}

	entries, err := r.engine.ListTree(ctx, r.CurrentRef())
	if err != nil {
		return err
	}

	var excluded []string
	for _, e := range entries {
		if o.sparse != nil {
			keep, err := o.sparse(e)
			if err != nil {
				return platformerrors.Wrapf(err, platformerrors.CodeInvalidConfig, "sparse filter rejected %s", e.Path)
			}
			if !keep {
				excluded = append(excluded, e.Path)
				continue
			}
		}

		if err := r.store.Create(placeholder.Entry{Path: e.Path, OID: e.Hash, RootHash: e.RootHash, Mode: e.Mode}); err != nil {
			return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to create placeholder")
		}
	}
	if err := r.store.Flush(); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to persist placeholder index")
	}

	// Excluded paths count as resolved so that access reports them missing.
	r.sched.MarkCheckedOut(excluded...)

	r.logger.Info("lazy clone ready", "placeholders", r.store.Len(), "excluded", len(excluded))
	return r.seedIgnoreFiles(ctx, entries)
}

func (r *Repository) reattach(ctx context.Context, o *options) error {
	if err := r.engine.Attach(ctx); err != nil {
		return err
	}
	if err := r.resolve(ctx); err != nil {
		return err
	}
	if o.branch != "" && o.branch != r.BranchName() {
		r.logger.Warn("existing checkout is on a different branch", "requested", o.branch, "branch", r.BranchName())
	}

	if !r.lazy {
		return r.resolveStubs(ctx)
	}

	entries, err := r.engine.ListTree(ctx, r.CurrentRef())
	if err != nil {
		return err
	}

	var materialized []string
	for _, e := range entries {
		if !r.store.IsPlaceholder(e.Path) {
			materialized = append(materialized, e.Path)
		}
	}
	r.sched.MarkCheckedOut(materialized...)

	r.logger.Info("reattached to lazy checkout", "placeholders", r.store.Len(), "materialized", len(materialized))
	return r.seedIgnoreFiles(ctx, entries)
}

// resolveStubs checks out every placeholder left by an earlier lazy session,
// so an eager handle never serves a stub as file content.
func (r *Repository) resolveStubs(ctx context.Context) error {
	stubs := r.store.Under("")
	if len(stubs) == 0 {
		return nil
	}

	r.logger.Info("materializing placeholders left by a lazy checkout", "placeholders", len(stubs))
	paths := make([]string, 0, len(stubs))
	for _, e := range stubs {
		paths = append(paths, e.Path)
	}
	r.sched.Seed(paths...)
	if err := r.sched.EnsureFirstBatch(ctx); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to materialize placeholders")
	}
	return nil
}

// seedIgnoreFiles queues the unmaterialized ignore files for the first batch.
func (r *Repository) seedIgnoreFiles(ctx context.Context, entries []remote.TreeEntry) error {
	paths, err := preload.New(listing(entries)).Run(ctx, r.CurrentRef())
	if err != nil {
		r.logger.Warn("failed to locate ignore files", "error", err)
		return nil
	}

	var seeds []string
	for _, p := range paths {
		if r.store.IsPlaceholder(p) {
			seeds = append(seeds, p)
		}
	}
	r.sched.Seed(seeds...)
	return nil
}

func (r *Repository) resolve(ctx context.Context) error {
	info, err := r.engine.Resolve(ctx, "HEAD")
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ref = info.Name
	r.branch = info.Branch
	r.defaultBranch = info.DefaultBranch
	return nil
}

// FS returns the working tree. In lazy mode every call on an unmaterialized
// path blocks until the path is checked out.
func (r *Repository) FS() billy.Filesystem {
	return r.fs
}

// Lazy reports whether files materialize on demand.
func (r *Repository) Lazy() bool {
	return r.lazy
}

// URL returns the remote the repository was opened from.
func (r *Repository) URL() string {
	return r.url
}

// CurrentRef returns the full name of the checked out ref, or HEAD when
// detached.
func (r *Repository) CurrentRef() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ref
}

// BranchName returns the short name of the checked out branch.
func (r *Repository) BranchName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.branch
}

// DefaultBranch returns the remote's default branch reference.
func (r *Repository) DefaultBranch() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultBranch
}

// CheckedOut returns the paths materialized so far, sorted.
func (r *Repository) CheckedOut() []string {
	return r.sched.CheckedOut()
}

// Placeholders returns the number of files not yet materialized.
func (r *Repository) Placeholders() int {
	return r.store.Len()
}

// IsPlaceholder reports whether path has not been materialized yet.
func (r *Repository) IsPlaceholder(path string) bool {
	return r.store.IsPlaceholder(path)
}

// EnsureFirstBatch materializes the ignore files seeded at open. It is a
// no-op for eager repositories.
func (r *Repository) EnsureFirstBatch(ctx context.Context) error {
	if !r.lazy {
		return nil
	}
	if err := r.sched.EnsureFirstBatch(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.matcher = nil
	r.mu.Unlock()
	return nil
}

// Ignored reports whether path matches the repository's ignore rules. Rules
// come from ignore files already materialized, so call it after
// EnsureFirstBatch.
func (r *Repository) Ignored(path string) bool {
	m, err := r.ignoreMatcher()
	if err != nil {
		r.logger.Warn("failed to read ignore rules", "error", err)
		return false
	}

	p := placeholder.Clean(path)
	if p == "" {
		return false
	}
	info, err := r.raw.Stat(p)
	isDir := err == nil && info.IsDir()
	return m.Match(strings.Split(p, "/"), isDir)
}

func (r *Repository) ignoreMatcher() (gitignore.Matcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.matcher == nil {
		m, err := preload.Matcher(r.raw)
		if err != nil {
			return nil, err
		}
		r.matcher = m
	}
	return r.matcher, nil
}

// Reset forgets which paths were materialized. The next access to any path
// checks it out again from the current ref.
func (r *Repository) Reset() {
	r.sched.Reset()

	r.mu.Lock()
	r.matcher = nil
	r.mu.Unlock()
}

// Close releases blocked callers and persists the placeholder index.
func (r *Repository) Close() error {
	r.cancel()
	if err := r.store.Flush(); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to persist placeholder index")
	}
	return nil
}

// materializer adapts a Repository to intercept.Materializer.
type materializer struct {
	r *Repository
}

func (m materializer) IsCheckedOut(p string) bool {
	return m.r.sched.IsCheckedOut(p)
}

func (m materializer) Request(ctx context.Context, p string) error {
	return m.r.sched.Request(ctx, p)
}

func (m materializer) Await(ctx context.Context) error {
	return m.r.sched.Await(ctx)
}

// EnsureObject fetches id with the next batch, ahead of its checkout.
func (m materializer) EnsureObject(ctx context.Context, id plumbing.Hash) error {
	var fetchErr error
	err := m.r.sched.Prefetch(ctx, func(ctx context.Context) error {
		fetchErr = m.r.engine.EnsureObject(ctx, id, m.r.CurrentRef())
		return fetchErr
	})
	if err != nil {
		return err
	}
	return fetchErr
}

// listing serves a tree listing that was already read.
type listing []remote.TreeEntry

func (l listing) ListTree(context.Context, string) ([]remote.TreeEntry, error) {
	return l, nil
}

var _ intercept.Materializer = materializer{}
