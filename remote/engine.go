package remote

import (
	"context"
	"log/slog"

	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/sync/singleflight"
)

// Engine coordinates a Transport on behalf of the materialization layer. It
// validates and normalizes requests before handing them to the transport.
type Engine struct {
	transport Transport
	logger    *slog.Logger
	objects   singleflight.Group
}

// NewEngine returns an Engine driving t.
func NewEngine(t Transport, opts ...Option) *Engine {
	o := applyOptions(opts)
	return &Engine{
		transport: t,
		logger:    o.logger,
	}
}

// Clone initializes the repository. Lazy clones are always shallow with a
// depth of one.
func (e *Engine) Clone(ctx context.Context, opts CloneOptions) error {
	if err := ValidateURL(opts.URL); err != nil {
		return err
	}

	if opts.Lazy {
		opts.Depth = 1
	}

	e.logger.Info("cloning repository",
		"url", opts.URL,
		"ref", opts.Ref,
		"depth", opts.Depth,
		"lazy", opts.Lazy,
		"blob_exclusion", opts.BlobExclusion,
	)

	//nolint:wrapcheck // Transports classify their own errors
	return e.transport.Clone(ctx, opts)
}

// Attach opens an existing repository.
func (e *Engine) Attach(ctx context.Context) error {
	//nolint:wrapcheck // Transports classify their own errors
	return e.transport.Attach(ctx)
}

// Fetch requests ids from the remote. Zero and duplicate ids are dropped
// before transmission and an empty set is a no-op.
func (e *Engine) Fetch(ctx context.Context, ids []plumbing.Hash, ref string) error {
	unique := dedupeHashes(ids)
	if len(unique) == 0 {
		return nil
	}

	e.logger.Debug("fetching objects", "count", len(unique), "ref", ref)

	//nolint:wrapcheck // Transports classify their own errors
	return e.transport.Fetch(ctx, unique, ref)
}

// Checkout writes paths at ref into the working tree. Duplicate paths are
// dropped and an empty set succeeds without touching the transport.
func (e *Engine) Checkout(ctx context.Context, paths []string, ref string) (CheckoutResult, error) {
	unique := dedupeStrings(paths)
	if len(unique) == 0 {
		return CheckoutResult{}, nil
	}

	e.logger.Debug("checking out paths", "count", len(unique), "ref", ref)

	//nolint:wrapcheck // Transports classify their own errors
	return e.transport.Checkout(ctx, unique, ref)
}

// EnsureObject makes id available locally, fetching it when missing.
// Concurrent calls for the same id share one fetch.
func (e *Engine) EnsureObject(ctx context.Context, id plumbing.Hash, ref string) error {
	if id.IsZero() {
		return nil
	}

	_, err, _ := e.objects.Do(id.String(), func() (any, error) {
		has, err := e.transport.HasObject(ctx, id)
		if err != nil {
			return nil, err
		}
		if has {
			return nil, nil
		}

		e.logger.Debug("fetching object on read", "id", id.String())
		return nil, e.transport.Fetch(ctx, []plumbing.Hash{id}, ref)
	})

	//nolint:wrapcheck // Transports classify their own errors
	return err
}

// ListTree lists the files of ref.
func (e *Engine) ListTree(ctx context.Context, ref string) ([]TreeEntry, error) {
	//nolint:wrapcheck // Transports classify their own errors
	return e.transport.ListTree(ctx, ref)
}

// Resolve resolves ref, or HEAD when ref is empty.
func (e *Engine) Resolve(ctx context.Context, ref string) (RefInfo, error) {
	//nolint:wrapcheck // Transports classify their own errors
	return e.transport.Resolve(ctx, ref)
}

func dedupeHashes(ids []plumbing.Hash) []plumbing.Hash {
	seen := make(map[plumbing.Hash]struct{}, len(ids))
	result := make([]plumbing.Hash, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
