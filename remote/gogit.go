package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	platformerrors "github.com/jmgilman/go/errors"
)

// GoGit is an in-process Transport built on go-git. The repository metadata
// lives in ".git" inside fs and working tree content is written directly into
// fs, so fs must not be a filesystem that intercepts its own reads.
type GoGit struct {
	fs     billy.Filesystem
	logger *slog.Logger

	mu    sync.Mutex
	repo  *gogit.Repository
	auth  Auth
	depth int
}

// NewGoGit returns a go-git transport rooted at fs.
func NewGoGit(fs billy.Filesystem, opts ...Option) *GoGit {
	o := applyOptions(opts)
	return &GoGit{
		fs:     fs,
		logger: o.logger,
		auth:   o.auth,
	}
}

// Repository returns the underlying go-git repository, or nil before Clone
// or Attach.
func (g *GoGit) Repository() *gogit.Repository {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.repo
}

func (g *GoGit) storage() (*filesystem.Storage, error) {
	dotGit, err := g.fs.Chroot(gogit.GitDirName)
	if err != nil {
		return nil, wrapError(err, "failed to scope filesystem to .git")
	}
	return filesystem.NewStorage(dotGit, cache.NewObjectLRUDefault()), nil
}

// Clone implements Transport. Lazy clones skip the working tree checkout.
func (g *GoGit) Clone(ctx context.Context, opts CloneOptions) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	storage, err := g.storage()
	if err != nil {
		return err
	}

	cloneOpts := &gogit.CloneOptions{
		URL:          opts.URL,
		RemoteName:   DefaultRemoteName,
		Depth:        opts.Depth,
		SingleBranch: true,
		NoCheckout:   opts.Lazy,
		Tags:         gogit.NoTags,
		Auth:         opts.Auth,
	}
	if opts.Ref != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(opts.Ref)
	}
	if opts.BlobExclusion {
		g.logger.Debug("blob exclusion is not supported by the go-git transport, ignoring")
	}

	repo, err := gogit.CloneContext(ctx, storage, g.fs, cloneOpts)
	if err != nil {
		return wrapError(err, "failed to clone repository")
	}

	g.repo = repo
	g.depth = opts.Depth
	if opts.Auth != nil {
		g.auth = opts.Auth
	}
	return nil
}

// Attach implements Transport.
func (g *GoGit) Attach(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	storage, err := g.storage()
	if err != nil {
		return err
	}

	repo, err := gogit.Open(storage, g.fs)
	if err != nil {
		return wrapError(err, "failed to open repository")
	}

	g.repo = repo
	if shallow, err := storage.Shallow(); err == nil && len(shallow) > 0 {
		g.depth = 1
	}
	return nil
}

func (g *GoGit) repository() (*gogit.Repository, error) {
	if g.repo == nil {
		return nil, platformerrors.New(platformerrors.CodeInternal, "repository is not open")
	}
	return g.repo, nil
}

// HasObject implements Transport.
func (g *GoGit) HasObject(_ context.Context, id plumbing.Hash) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := g.repository()
	if err != nil {
		return false, err
	}
	return repo.Storer.HasEncodedObject(id) == nil, nil
}

// Fetch implements Transport. go-git cannot request individual objects, so
// missing ids are fetched by re-fetching ref at the clone depth.
func (g *GoGit) Fetch(ctx context.Context, ids []plumbing.Hash, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.fetchLocked(ctx, ids, ref)
}

func (g *GoGit) fetchLocked(ctx context.Context, ids []plumbing.Hash, ref string) error {
	repo, err := g.repository()
	if err != nil {
		return err
	}

	missing := g.missing(repo, ids)
	if len(missing) == 0 {
		return nil
	}

	fetchOpts := &gogit.FetchOptions{
		RemoteName: DefaultRemoteName,
		Depth:      g.depth,
		Tags:       gogit.NoTags,
		Auth:       g.auth,
		Force:      true,
	}
	if branch := g.branchFor(repo, ref); branch != "" {
		fetchOpts.RefSpecs = []config.RefSpec{
			config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, DefaultRemoteName, branch)),
		}
	}

	err = repo.FetchContext(ctx, fetchOpts)
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return wrapError(err, "failed to fetch from remote")
	}

	if still := g.missing(repo, missing); len(still) > 0 {
		return platformerrors.Newf(platformerrors.CodeNotFound,
			"%d object(s) not available from remote, first %s", len(still), still[0])
	}
	return nil
}

func (g *GoGit) missing(repo *gogit.Repository, ids []plumbing.Hash) []plumbing.Hash {
	var missing []plumbing.Hash
	for _, id := range ids {
		if repo.Storer.HasEncodedObject(id) != nil {
			missing = append(missing, id)
		}
	}
	return missing
}

// branchFor returns the short branch name ref refers to, falling back to the
// checked out branch.
func (g *GoGit) branchFor(repo *gogit.Repository, ref string) string {
	if ref != "" && ref != "HEAD" {
		name := plumbing.ReferenceName(ref)
		if name.IsBranch() {
			return name.Short()
		}
		if _, err := repo.Reference(plumbing.NewBranchReferenceName(ref), false); err == nil {
			return ref
		}
	}

	head, err := repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return ""
	}
	return head.Name().Short()
}

// Resolve implements Transport.
func (g *GoGit) Resolve(_ context.Context, ref string) (RefInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := g.repository()
	if err != nil {
		return RefInfo{}, err
	}
	return g.resolveLocked(repo, ref)
}

func (g *GoGit) resolveLocked(repo *gogit.Repository, ref string) (RefInfo, error) {
	info := RefInfo{}

	var commitHash plumbing.Hash
	if ref == "" || ref == "HEAD" {
		head, err := repo.Head()
		if err != nil {
			return RefInfo{}, wrapError(err, "failed to resolve HEAD")
		}
		commitHash = head.Hash()
		info.Name = "HEAD"
		if head.Name().IsBranch() {
			info.Name = head.Name().String()
			info.Branch = head.Name().Short()
		}
	} else {
		hash, err := repo.ResolveRevision(plumbing.Revision(ref))
		if err != nil {
			return RefInfo{}, wrapError(err, fmt.Sprintf("failed to resolve %s", ref))
		}
		commitHash = *hash
		info.Name = ref
		if name := plumbing.ReferenceName(ref); name.IsBranch() {
			info.Branch = name.Short()
		} else if branch := plumbing.NewBranchReferenceName(ref); ref == branch.Short() {
			if _, err := repo.Reference(branch, false); err == nil {
				info.Name = branch.String()
				info.Branch = ref
			}
		}
	}

	commit, err := repo.CommitObject(commitHash)
	if err != nil {
		return RefInfo{}, wrapError(err, "failed to load commit")
	}
	info.Commit = commit.Hash
	info.Tree = commit.TreeHash

	originHead := plumbing.NewRemoteHEADReferenceName(DefaultRemoteName)
	if target, err := repo.Reference(originHead, false); err == nil && target.Type() == plumbing.SymbolicReference {
		info.DefaultBranch = target.Target().String()
	} else if info.Branch != "" {
		info.DefaultBranch = plumbing.NewRemoteReferenceName(DefaultRemoteName, info.Branch).String()
	}

	return info, nil
}

func (g *GoGit) treeLocked(repo *gogit.Repository, ref string) (*object.Tree, error) {
	info, err := g.resolveLocked(repo, ref)
	if err != nil {
		return nil, err
	}
	tree, err := repo.TreeObject(info.Tree)
	if err != nil {
		return nil, wrapError(err, "failed to load tree")
	}
	return tree, nil
}

// ListTree implements Transport. Only tree objects are read.
func (g *GoGit) ListTree(ctx context.Context, ref string) ([]TreeEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := g.repository()
	if err != nil {
		return nil, err
	}

	tree, err := g.treeLocked(repo, ref)
	if err != nil {
		return nil, err
	}

	var entries []TreeEntry
	err = walkFiles(ctx, tree, func(name string, entry object.TreeEntry) error {
		entries = append(entries, TreeEntry{
			Path:     name,
			Hash:     entry.Hash,
			Mode:     entry.Mode,
			RootHash: tree.Hash,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Checkout implements Transport. Each path is looked up in the tree of ref
// and its blobs are copied into the working tree; the git index is updated to
// match. A blob missing from storage is fetched once and the write retried.
func (g *GoGit) Checkout(ctx context.Context, paths []string, ref string) (CheckoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := g.repository()
	if err != nil {
		return nil, err
	}

	tree, err := g.treeLocked(repo, ref)
	if err != nil {
		return nil, err
	}

	idx, err := repo.Storer.Index()
	if err != nil {
		g.logger.Warn("git index unavailable, checked out files will not be staged", "error", err)
		idx = nil
	}

	result := make(CheckoutResult, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			result[p] = err
			continue
		}
		result[p] = g.checkoutPath(ctx, repo, tree, p, ref, idx)
	}

	if idx != nil {
		if err := repo.Storer.SetIndex(idx); err != nil {
			g.logger.Warn("failed to write git index", "error", err)
		}
	}

	return result, nil
}

func (g *GoGit) checkoutPath(ctx context.Context, repo *gogit.Repository, tree *object.Tree, p, ref string, idx *index.Index) error {
	entry, err := tree.FindEntry(p)
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to find %s", p))
	}

	switch entry.Mode {
	case filemode.Submodule:
		return nil
	case filemode.Dir:
		sub, err := tree.Tree(p)
		if err != nil {
			return wrapError(err, fmt.Sprintf("failed to load directory %s", p))
		}
		var errs []error
		walkErr := walkFiles(ctx, sub, func(name string, e object.TreeEntry) error {
			if err := g.writeEntry(ctx, repo, path.Join(p, name), e, ref, idx); err != nil {
				errs = append(errs, err)
			}
			return nil
		})
		if walkErr != nil {
			errs = append(errs, walkErr)
		}
		return errors.Join(errs...)
	default:
		return g.writeEntry(ctx, repo, p, *entry, ref, idx)
	}
}

func (g *GoGit) writeEntry(ctx context.Context, repo *gogit.Repository, p string, entry object.TreeEntry, ref string, idx *index.Index) error {
	blob, err := object.GetBlob(repo.Storer, entry.Hash)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		g.logger.Debug("blob missing during checkout, fetching", "path", p, "id", entry.Hash.String())
		if ferr := g.fetchLocked(ctx, []plumbing.Hash{entry.Hash}, ref); ferr != nil {
			return ferr
		}
		blob, err = object.GetBlob(repo.Storer, entry.Hash)
	}
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to read blob for %s", p))
	}

	reader, err := blob.Reader()
	if err != nil {
		return wrapError(err, fmt.Sprintf("failed to open blob for %s", p))
	}
	defer func() {
		_ = reader.Close()
	}()

	if dir := path.Dir(p); dir != "." {
		if err := g.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if entry.Mode == filemode.Symlink {
		target, err := io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("failed to read link target for %s: %w", p, err)
		}
		if err := g.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to replace %s: %w", p, err)
		}
		if err := g.fs.Symlink(string(target), p); err != nil {
			return fmt.Errorf("failed to create symlink %s: %w", p, err)
		}
	} else {
		mode, err := entry.Mode.ToOSFileMode()
		if err != nil {
			mode = 0o644
		}
		f, err := g.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		if _, err := io.Copy(f, reader); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", p, err)
		}
	}

	if idx != nil {
		e, err := idx.Entry(p)
		if err != nil {
			e = idx.Add(p)
		}
		e.Hash = entry.Hash
		e.Mode = entry.Mode
		e.Size = uint32(blob.Size) //nolint:gosec // index sizes are 32-bit by format
		e.ModifiedAt = time.Now()
	}

	return nil
}

// walkFiles visits every file below tree, skipping directories and
// submodules.
func walkFiles(ctx context.Context, tree *object.Tree, fn func(name string, entry object.TreeEntry) error) error {
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		name, entry, err := walker.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return wrapError(err, "failed to walk tree")
		}

		if entry.Mode == filemode.Dir || entry.Mode == filemode.Submodule {
			continue
		}

		if err := fn(name, entry); err != nil {
			return err
		}
	}
}

var _ Transport = (*GoGit)(nil)
