// Package memremote provides a remote.Transport that serves a fixed tree
// from memory and writes checked out files into a billy filesystem.
package memremote

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	platformerrors "github.com/jmgilman/go/errors"

	"github.com/jmgilman/go/lazygit/remote"
)

// Branch is the only branch the transport serves.
const Branch = "main"

// Transport is an in-memory remote.Transport. Exported fields record calls
// and may be inspected once the calls under test have returned.
type Transport struct {
	fs    billy.Filesystem
	files map[string]string
	tree  plumbing.Hash

	mu        sync.Mutex
	local     map[plumbing.Hash]bool
	Clones    []remote.CloneOptions
	Attaches  int
	Fetches   [][]plumbing.Hash
	Checkouts [][]string
	FetchErr  error

	// Gate, when set, blocks the first checkout until it is closed.
	// Started is closed when that checkout begins.
	Gate    chan struct{}
	Started chan struct{}
	once    sync.Once
}

// New returns a transport serving files and writing into fs.
func New(fs billy.Filesystem, files map[string]string) *Transport {
	var listing strings.Builder
	for _, p := range sortedKeys(files) {
		fmt.Fprintf(&listing, "%s %s\n", p, BlobID(files[p]))
	}

	return &Transport{
		fs:    fs,
		files: files,
		tree:  plumbing.ComputeHash(plumbing.TreeObject, []byte(listing.String())),
		local: make(map[plumbing.Hash]bool),
	}
}

// BlobID returns the object id of content.
func BlobID(content string) plumbing.Hash {
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(content))
}

func sortedKeys(files map[string]string) []string {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone implements remote.Transport. Eager clones write every file.
func (t *Transport) Clone(_ context.Context, opts remote.CloneOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Clones = append(t.Clones, opts)
	if err := util.WriteFile(t.fs, ".git/HEAD", []byte("ref: refs/heads/"+Branch+"\n"), 0o644); err != nil {
		return err
	}

	if opts.Lazy {
		return nil
	}
	for _, p := range sortedKeys(t.files) {
		if err := t.write(p); err != nil {
			return err
		}
	}
	return nil
}

// Attach implements remote.Transport.
func (t *Transport) Attach(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Attaches++
	if _, err := t.fs.Stat(".git/HEAD"); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeNotFound, "repository does not exist")
	}
	return nil
}

// Fetch implements remote.Transport.
func (t *Transport) Fetch(_ context.Context, ids []plumbing.Hash, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Fetches = append(t.Fetches, ids)
	if t.FetchErr != nil {
		return t.FetchErr
	}
	for _, id := range ids {
		t.local[id] = true
	}
	return nil
}

// Checkout implements remote.Transport.
func (t *Transport) Checkout(_ context.Context, paths []string, _ string) (remote.CheckoutResult, error) {
	t.mu.Lock()
	t.Checkouts = append(t.Checkouts, paths)
	t.mu.Unlock()

	if t.Gate != nil {
		t.once.Do(func() {
			close(t.Started)
			<-t.Gate
		})
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	result := make(remote.CheckoutResult, len(paths))
	for _, p := range paths {
		result[p] = t.checkoutPath(p)
	}
	return result, nil
}

func (t *Transport) checkoutPath(p string) error {
	found := false
	for _, f := range sortedKeys(t.files) {
		if f != p && !strings.HasPrefix(f, p+"/") {
			continue
		}
		found = true
		if err := t.write(f); err != nil {
			return err
		}
	}
	if !found {
		return platformerrors.Newf(platformerrors.CodeNotFound, "%s not found in tree", p)
	}
	return nil
}

func (t *Transport) write(p string) error {
	if dir := path.Dir(p); dir != "." {
		if err := t.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	t.local[BlobID(t.files[p])] = true
	return util.WriteFile(t.fs, p, []byte(t.files[p]), os.FileMode(0o644))
}

// ListTree implements remote.Transport.
func (t *Transport) ListTree(context.Context, string) ([]remote.TreeEntry, error) {
	entries := make([]remote.TreeEntry, 0, len(t.files))
	for _, p := range sortedKeys(t.files) {
		entries = append(entries, remote.TreeEntry{
			Path:     p,
			Hash:     BlobID(t.files[p]),
			Mode:     filemode.Regular,
			RootHash: t.tree,
		})
	}
	return entries, nil
}

// HasObject implements remote.Transport.
func (t *Transport) HasObject(_ context.Context, id plumbing.Hash) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local[id], nil
}

// Resolve implements remote.Transport.
func (t *Transport) Resolve(context.Context, string) (remote.RefInfo, error) {
	return remote.RefInfo{
		Name:          plumbing.NewBranchReferenceName(Branch).String(),
		Branch:        Branch,
		DefaultBranch: plumbing.NewRemoteReferenceName(remote.DefaultRemoteName, Branch).String(),
		Commit:        plumbing.ComputeHash(plumbing.CommitObject, t.tree[:]),
		Tree:          t.tree,
	}, nil
}

// Snapshot returns copies of the recorded fetches and checkouts.
func (t *Transport) Snapshot() ([][]plumbing.Hash, [][]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]plumbing.Hash(nil), t.Fetches...), append([][]string(nil), t.Checkouts...)
}

var _ remote.Transport = (*Transport)(nil)
