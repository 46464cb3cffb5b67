package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// DefaultRemoteName is the remote every clone is configured with.
const DefaultRemoteName = "origin"

// Auth represents authentication credentials for remote operations.
// It aliases go-git's transport.AuthMethod so callers can pass any of
// go-git's auth implementations directly.
type Auth = transport.AuthMethod

// CloneOptions configures Clone.
type CloneOptions struct {
	// URL is the remote repository location.
	URL string

	// Ref is the branch to clone. Empty selects the remote HEAD.
	Ref string

	// Depth limits history. Zero means full history. Lazy clones are always
	// depth 1.
	Depth int

	// Lazy initializes repository metadata only, leaving the working tree
	// empty.
	Lazy bool

	// BlobExclusion asks the server to omit blob content entirely. Only
	// honored by transports that support partial clones.
	BlobExclusion bool

	// Auth is optional; nil means anonymous access.
	Auth Auth
}

// TreeEntry is one file in a tree listing.
type TreeEntry struct {
	Path     string
	Hash     plumbing.Hash
	Mode     filemode.FileMode
	RootHash plumbing.Hash
}

// RefInfo describes a resolved reference.
type RefInfo struct {
	// Name is the full reference name, or "HEAD" when detached.
	Name string

	// Branch is the short branch name. Empty when detached.
	Branch string

	// DefaultBranch is the remote's default branch reference.
	DefaultBranch string

	Commit plumbing.Hash
	Tree   plumbing.Hash
}

// CheckoutResult maps each requested path to its outcome. A nil error means
// the path was written.
type CheckoutResult map[string]error

// Failed returns the paths that could not be checked out, sorted.
func (r CheckoutResult) Failed() []string {
	var failed []string
	for p, err := range r {
		if err != nil {
			failed = append(failed, p)
		}
	}
	sort.Strings(failed)
	return failed
}

// Err joins the per-path failures into one error, or returns nil.
func (r CheckoutResult) Err() error {
	var errs []error
	for _, p := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", p, r[p]))
	}
	return errors.Join(errs...)
}

// Transport performs git operations against a single working tree.
// Implementations serialize their own storage mutation.
type Transport interface {
	// Clone initializes the repository from a remote.
	Clone(ctx context.Context, opts CloneOptions) error

	// Attach opens an existing repository in place of Clone.
	Attach(ctx context.Context) error

	// Fetch makes the given objects available locally. Ids already present
	// are skipped.
	Fetch(ctx context.Context, ids []plumbing.Hash, ref string) error

	// Checkout writes the content of paths at ref into the working tree.
	// Directory paths include their whole subtree.
	Checkout(ctx context.Context, paths []string, ref string) (CheckoutResult, error)

	// ListTree returns every file in the tree of ref without reading blob
	// content.
	ListTree(ctx context.Context, ref string) ([]TreeEntry, error)

	// HasObject reports whether id is stored locally.
	HasObject(ctx context.Context, id plumbing.Hash) (bool, error)

	// Resolve resolves ref. An empty ref resolves HEAD.
	Resolve(ctx context.Context, ref string) (RefInfo, error)
}
