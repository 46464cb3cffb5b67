package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	platformerrors "github.com/jmgilman/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/go/lazygit/placeholder"
	"github.com/jmgilman/go/lazygit/remote"
)

// Engine performs the remote side of a batch.
type Engine interface {
	Fetch(ctx context.Context, ids []plumbing.Hash, ref string) error
	Checkout(ctx context.Context, paths []string, ref string) (remote.CheckoutResult, error)
}

// Placeholders is the placeholder state a batch consumes.
type Placeholders interface {
	ResolveObjectID(path string) (plumbing.Hash, error)
	Under(prefix string) []placeholder.Entry
	Remove(path string) error
	Flush() error
}

// PrefetchFunc is queued work that must finish before a batch's checkout,
// such as making an object available for a direct object read.
type PrefetchFunc func(ctx context.Context) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Logging is discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithRef sets the function that supplies the ref batches are checked out
// from. The default is the empty ref, meaning HEAD.
func WithRef(ref func() string) Option {
	return func(s *Scheduler) {
		s.ref = ref
	}
}

// WithMetrics registers the scheduler metrics with the default Prometheus
// registry.
func WithMetrics() Option {
	return func(*Scheduler) {
		registerMetrics()
	}
}

// Scheduler serializes materialization of one working tree. At most one
// drain runs at a time.
type Scheduler struct {
	engine   Engine
	store    Placeholders
	lifetime context.Context
	logger   *slog.Logger
	ref      func() string

	mu         sync.Mutex
	checkedOut map[string]struct{}
	queue      []string
	queued     map[string]struct{}
	prefetch   []PrefetchFunc
	seeds      []string
	pending    *Future
}

// New returns a Scheduler. Drains run on lifetime, so cancelling it stops
// further materialization and releases every waiter.
func New(lifetime context.Context, engine Engine, store Placeholders, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:     engine,
		store:      store,
		lifetime:   lifetime,
		ref:        func() string { return "" },
		checkedOut: make(map[string]struct{}),
		queued:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Request schedules p for materialization and waits for the batch that
// contains it. Paths that are already checked out return immediately.
// A failed checkout is not reported here; the path simply stays absent.
func (s *Scheduler) Request(ctx context.Context, p string) error {
	p = placeholder.Clean(p)

	s.mu.Lock()
	if s.isCheckedOutLocked(p) {
		s.mu.Unlock()
		return nil
	}
	if _, ok := s.queued[p]; !ok {
		s.queued[p] = struct{}{}
		s.queue = append(s.queue, p)
	}
	f := s.scheduleLocked()
	s.mu.Unlock()

	return f.Wait(ctx)
}

// Prefetch queues fn to run at the start of the next batch and waits for that
// batch. Errors from fn are logged, not returned.
func (s *Scheduler) Prefetch(ctx context.Context, fn PrefetchFunc) error {
	s.mu.Lock()
	s.prefetch = append(s.prefetch, fn)
	f := s.scheduleLocked()
	s.mu.Unlock()

	return f.Wait(ctx)
}

// Seed adds paths that join the next batch without anyone waiting on them.
func (s *Scheduler) Seed(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range paths {
		s.seeds = append(s.seeds, placeholder.Clean(p))
	}
}

// EnsureFirstBatch materializes the seeded paths now, or waits for an
// in-flight batch. It returns immediately when there is nothing to do.
func (s *Scheduler) EnsureFirstBatch(ctx context.Context) error {
	s.mu.Lock()
	var f *Future
	switch {
	case len(s.seeds) > 0:
		f = s.scheduleLocked()
	case s.pending != nil:
		f = s.pending
	}
	s.mu.Unlock()

	if f == nil {
		return nil
	}
	return f.Wait(ctx)
}

// Await waits for the in-flight batch, if any, without scheduling anything.
func (s *Scheduler) Await(ctx context.Context) error {
	s.mu.Lock()
	f := s.pending
	s.mu.Unlock()

	if f == nil {
		return nil
	}
	return f.Wait(ctx)
}

// Pending returns the in-flight future, or nil when idle.
func (s *Scheduler) Pending() *Future {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// IsCheckedOut reports whether p, or any directory above it, has been
// materialized. The root always counts as checked out.
func (s *Scheduler) IsCheckedOut(p string) bool {
	p = placeholder.Clean(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isCheckedOutLocked(p)
}

func (s *Scheduler) isCheckedOutLocked(p string) bool {
	if p == "" {
		return true
	}
	for {
		if _, ok := s.checkedOut[p]; ok {
			return true
		}
		i := strings.LastIndexByte(p, '/')
		if i < 0 {
			return false
		}
		p = p[:i]
	}
}

// CheckedOut returns the checked out paths, sorted.
func (s *Scheduler) CheckedOut() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.checkedOut))
	for p := range s.checkedOut {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// MarkCheckedOut records paths as materialized without a batch, for content
// written by other means such as an eager clone.
func (s *Scheduler) MarkCheckedOut(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range paths {
		s.checkedOut[placeholder.Clean(p)] = struct{}{}
	}
}

// Reset forgets every checked out path. Placeholders that were already
// resolved are not recreated.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkedOut = make(map[string]struct{})
}

// scheduleLocked returns the in-flight future, starting a drain if none is
// running. s.mu must be held.
func (s *Scheduler) scheduleLocked() *Future {
	if s.pending != nil {
		return s.pending
	}

	f := newFuture()
	if err := s.lifetime.Err(); err != nil {
		f.resolve(err)
		return f
	}

	s.pending = f
	go s.run(f)
	return f
}

type batch struct {
	paths    []string
	prefetch []PrefetchFunc
}

// takeLocked empties the queue into a batch. Paths already checked out are
// dropped; seeds are appended after requested paths. s.mu must be held.
func (s *Scheduler) takeLocked() batch {
	var b batch
	seen := make(map[string]struct{}, len(s.queue)+len(s.seeds))
	for _, p := range append(s.queue, s.seeds...) {
		if _, ok := seen[p]; ok || s.isCheckedOutLocked(p) {
			continue
		}
		seen[p] = struct{}{}
		b.paths = append(b.paths, p)
	}
	b.prefetch = s.prefetch

	s.queue = nil
	s.queued = make(map[string]struct{})
	s.seeds = nil
	s.prefetch = nil
	return b
}

func (s *Scheduler) run(f *Future) {
	for {
		s.mu.Lock()
		if err := s.lifetime.Err(); err != nil {
			s.takeLocked()
			s.pending = nil
			s.mu.Unlock()
			f.resolve(err)
			return
		}

		b := s.takeLocked()
		if len(b.paths) == 0 && len(b.prefetch) == 0 {
			s.pending = nil
			s.mu.Unlock()
			f.resolve(nil)
			return
		}
		s.mu.Unlock()

		s.drain(b)
	}
}

func (s *Scheduler) drain(b batch) {
	ctx := s.lifetime
	ref := s.ref()

	if len(b.prefetch) > 0 {
		var g errgroup.Group
		for _, fn := range b.prefetch {
			g.Go(func() error {
				if err := fn(ctx); err != nil {
					s.logger.Warn("prefetch failed", "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	if len(b.paths) == 0 {
		return
	}

	var ids []plumbing.Hash
	for _, p := range b.paths {
		for _, q := range s.stubs(p) {
			id, err := s.store.ResolveObjectID(q)
			if err != nil {
				if !errors.Is(err, placeholder.ErrNotAPlaceholder) {
					s.logger.Warn("failed to resolve placeholder", "path", q, "error", err)
				}
				continue
			}
			ids = append(ids, id)
			if err := s.store.Remove(q); err != nil {
				s.logger.Warn("failed to remove placeholder", "path", q, "error", err)
			}
		}
	}

	if len(ids) > 0 {
		if err := s.engine.Fetch(ctx, ids, ref); err != nil {
			s.logger.Warn("bulk fetch failed, continuing with checkout", "objects", len(ids), "error", err)
		}
	}

	result, err := s.engine.Checkout(ctx, b.paths, ref)
	if err != nil {
		s.logger.Error("checkout failed", "paths", len(b.paths), "error", err)
	}
	failed := result.Failed()
	for _, p := range failed {
		// Paths absent from the tree are usually files about to be created.
		if platformerrors.GetCode(result[p]) == platformerrors.CodeNotFound {
			s.logger.Debug("path not in tree", "path", p)
			continue
		}
		s.logger.Warn("path could not be checked out", "path", p, "error", result[p])
	}

	s.mu.Lock()
	for _, p := range b.paths {
		s.checkedOut[p] = struct{}{}
	}
	s.mu.Unlock()

	if err := s.store.Flush(); err != nil {
		s.logger.Warn("failed to persist placeholder index", "error", err)
	}

	schedulerBatchesTotal.Inc()
	schedulerBatchPaths.Observe(float64(len(b.paths)))
	schedulerFailedPathsTotal.Add(float64(len(failed)))

	s.logger.Debug("batch complete",
		"paths", len(b.paths),
		"objects", len(ids),
		"failed", len(failed),
	)
}

// stubs returns the placeholder paths a batch entry covers: p itself, or
// the placeholders below it when p is a directory.
func (s *Scheduler) stubs(p string) []string {
	below := s.store.Under(p)
	if len(below) == 0 {
		return []string{p}
	}

	paths := make([]string, 0, len(below))
	for _, e := range below {
		paths = append(paths, e.Path)
	}
	return paths
}
