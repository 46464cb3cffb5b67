package lazygit

import (
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"sort"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/lazygit/internal/testutil"
	"github.com/jmgilman/go/lazygit/internal/testutil/memremote"
	"github.com/jmgilman/go/lazygit/placeholder"
	"github.com/jmgilman/go/lazygit/remote"
)

const testURL = "https://example.com/org/repo.git"

func scenarioFiles() map[string]string {
	return map[string]string{
		".gitignore": "*.log\n",
		"a.txt":      "alpha\n",
		"b.txt":      "bravo\n",
	}
}

// openLazy opens a lazy repository over base backed by an in-memory remote.
func openLazy(t *testing.T, base billy.Filesystem, files map[string]string, opts ...Option) (*Repository, *memremote.Transport) {
	t.Helper()

	pfs, err := placeholder.NewFilesystem(base, "")
	require.NoError(t, err)

	tr := memremote.New(pfs, files)
	opts = append([]Option{WithFilesystem(pfs), WithTransport(tr)}, opts...)
	repo, err := Open(context.Background(), testURL, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, tr
}

func readFile(t *testing.T, fs billy.Filesystem, p string) string {
	t.Helper()

	data, err := util.ReadFile(fs, p)
	require.NoError(t, err)
	return string(data)
}

func TestOpen_LazyScenario(t *testing.T) {
	ctx := context.Background()
	base := memfs.New()
	repo, tr := openLazy(t, base, scenarioFiles())

	assert.True(t, repo.Lazy())
	assert.Equal(t, "refs/heads/main", repo.CurrentRef())
	assert.Equal(t, "main", repo.BranchName())
	assert.Equal(t, "refs/remotes/origin/main", repo.DefaultBranch())
	assert.Equal(t, 3, repo.Placeholders())
	assert.Empty(t, repo.CheckedOut())

	require.Len(t, tr.Clones, 1)
	assert.True(t, tr.Clones[0].Lazy)
	assert.Equal(t, 1, tr.Clones[0].Depth, "lazy clones are shallow")

	_, checkouts := tr.Snapshot()
	assert.Empty(t, checkouts, "nothing is materialized before the first batch")

	require.NoError(t, repo.EnsureFirstBatch(ctx))

	fetches, checkouts := tr.Snapshot()
	assert.Equal(t, [][]string{{".gitignore"}}, checkouts)
	assert.Equal(t, [][]plumbing.Hash{{memremote.BlobID("*.log\n")}}, fetches)
	assert.Equal(t, []string{".gitignore"}, repo.CheckedOut())

	assert.Equal(t, "alpha\n", readFile(t, repo.FS(), "a.txt"))

	_, checkouts = tr.Snapshot()
	assert.Equal(t, [][]string{{".gitignore"}, {"a.txt"}}, checkouts)
	assert.Equal(t, []string{".gitignore", "a.txt"}, repo.CheckedOut())
	assert.Equal(t, 1, repo.Placeholders())

	info, err := base.Stat("b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size(), "b.txt must still be a stub")
}

func TestOpen_IgnoreFilesJoinFirstRequest(t *testing.T) {
	repo, tr := openLazy(t, memfs.New(), scenarioFiles())

	assert.Equal(t, "bravo\n", readFile(t, repo.FS(), "b.txt"))

	_, checkouts := tr.Snapshot()
	assert.Equal(t, [][]string{{"b.txt", ".gitignore"}}, checkouts)

	// Seeds are consumed by the first batch.
	require.NoError(t, repo.EnsureFirstBatch(context.Background()))
	_, checkouts = tr.Snapshot()
	assert.Len(t, checkouts, 1)
}

func TestOpen_RerequestIsLocal(t *testing.T) {
	repo, tr := openLazy(t, memfs.New(), scenarioFiles())

	assert.Equal(t, "alpha\n", readFile(t, repo.FS(), "a.txt"))
	fetches, checkouts := tr.Snapshot()

	for i := 0; i < 3; i++ {
		assert.Equal(t, "alpha\n", readFile(t, repo.FS(), "a.txt"))
	}

	fetches2, checkouts2 := tr.Snapshot()
	assert.Equal(t, fetches, fetches2)
	assert.Equal(t, checkouts, checkouts2)
}

func TestOpen_ConcurrentReads(t *testing.T) {
	files := scenarioFiles()
	for i := 0; i < 8; i++ {
		files[fmt.Sprintf("docs/%d.md", i)] = fmt.Sprintf("doc %d\n", i)
		files[fmt.Sprintf("f%d.txt", i)] = fmt.Sprintf("file %d\n", i)
	}
	repo, tr := openLazy(t, memfs.New(), files)

	var wg sync.WaitGroup
	for p, want := range files {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := util.ReadFile(repo.FS(), p)
			assert.NoError(t, err, p)
			assert.Equal(t, want, string(data), p)
		}()
	}
	wg.Wait()

	_, checkouts := tr.Snapshot()
	seen := make(map[string]int)
	for _, batch := range checkouts {
		for _, p := range batch {
			seen[p]++
		}
	}
	for p, n := range seen {
		assert.Equal(t, 1, n, "%s checked out more than once", p)
	}
	assert.Equal(t, 1, seen["docs"], "nested paths materialize by top-level segment")
	assert.Zero(t, repo.Placeholders())
}

func TestOpen_ReadsOverlapCheckout(t *testing.T) {
	files := scenarioFiles()
	for i := 0; i < 20; i++ {
		files[fmt.Sprintf("f%02d.txt", i)] = fmt.Sprintf("file %d\n", i)
	}
	repo, _ := openLazy(t, memfs.New(), files)
	fs := repo.FS()

	assert.Equal(t, "alpha\n", readFile(t, fs, "a.txt"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			p := fmt.Sprintf("f%02d.txt", i)
			data, err := util.ReadFile(fs, p)
			assert.NoError(t, err, p)
			assert.Equal(t, fmt.Sprintf("file %d\n", i), string(data), p)
		}
	}()

	// Checked out paths and the root listing skip the scheduler, so these
	// run against the filesystem while batches replace stubs.
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}

		data, err := util.ReadFile(fs, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, "alpha\n", string(data))

		entries, err := fs.ReadDir("/")
		require.NoError(t, err)
		assert.NotEmpty(t, entries)
	}

	assert.Equal(t, 1, repo.Placeholders(), "only b.txt remains a stub")
}

func TestOpen_Ignored(t *testing.T) {
	repo, _ := openLazy(t, memfs.New(), scenarioFiles())
	require.NoError(t, repo.EnsureFirstBatch(context.Background()))

	assert.True(t, repo.Ignored("debug.log"))
	assert.True(t, repo.Ignored("/nested/trace.log"))
	assert.False(t, repo.Ignored("a.txt"))
	assert.False(t, repo.Ignored("/"))
}

func TestOpen_ObjectRead(t *testing.T) {
	repo, tr := openLazy(t, memfs.New(), scenarioFiles())
	require.NoError(t, repo.EnsureFirstBatch(context.Background()))

	id := memremote.BlobID("bravo\n")
	loose := fmt.Sprintf(".git/objects/%s/%s", id.String()[:2], id.String()[2:])

	// The in-memory remote keeps objects out of the filesystem, so the open
	// itself fails after the fetch.
	_, _ = repo.FS().Open(loose)

	fetches, checkouts := tr.Snapshot()
	assert.Equal(t, [][]plumbing.Hash{{memremote.BlobID("*.log\n")}, {id}}, fetches)
	assert.Equal(t, [][]string{{".gitignore"}}, checkouts, "object reads never check out")

	// Present objects are not fetched again.
	_, _ = repo.FS().Open(loose)
	fetches, _ = tr.Snapshot()
	assert.Len(t, fetches, 2)
}

func TestOpen_SparseFilter(t *testing.T) {
	repo, _ := openLazy(t, memfs.New(), scenarioFiles(), WithSparseFilter(func(e remote.TreeEntry) (bool, error) {
		return e.Path != "b.txt", nil
	}))

	assert.Equal(t, 2, repo.Placeholders())

	_, err := repo.FS().Stat("b.txt")
	assert.Error(t, err, "excluded paths never materialize")
	assert.Equal(t, "alpha\n", readFile(t, repo.FS(), "a.txt"))
}

func TestOpen_SparseFilterError(t *testing.T) {
	pfs, err := placeholder.NewFilesystem(memfs.New(), "")
	require.NoError(t, err)

	errBoom := errors.New("boom")
	_, err = Open(context.Background(), testURL,
		WithFilesystem(pfs),
		WithTransport(memremote.New(pfs, scenarioFiles())),
		WithSparseFilter(func(remote.TreeEntry) (bool, error) { return false, errBoom }),
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))
	assert.Equal(t, platformerrors.CodeInvalidConfig, platformerrors.GetCode(err))
}

func TestOpen_RequireLazyWithoutCapability(t *testing.T) {
	mfs := memfs.New()
	_, err := Open(context.Background(), testURL,
		WithFilesystem(mfs),
		WithTransport(memremote.New(mfs, scenarioFiles())),
		WithRequireLazy(),
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, placeholder.ErrUnsupported))
	assert.Equal(t, platformerrors.CodeInvalidConfig, platformerrors.GetCode(err))
}

func TestOpen_DegradesToEager(t *testing.T) {
	mfs := memfs.New()
	tr := memremote.New(mfs, scenarioFiles())
	repo, err := Open(context.Background(), testURL, WithFilesystem(mfs), WithTransport(tr))
	require.NoError(t, err)
	defer repo.Close()

	assert.False(t, repo.Lazy())
	assert.Same(t, mfs, repo.FS())
	require.Len(t, tr.Clones, 1)
	assert.False(t, tr.Clones[0].Lazy)

	assert.Equal(t, "bravo\n", readFile(t, mfs, "b.txt"))
	assert.NoError(t, repo.EnsureFirstBatch(context.Background()))
}

func TestOpen_Eager(t *testing.T) {
	repo, tr := openLazy(t, memfs.New(), scenarioFiles(), WithLazy(false), WithDepth(5))

	assert.False(t, repo.Lazy())
	assert.Zero(t, repo.Placeholders())
	assert.Equal(t, 5, tr.Clones[0].Depth)
	assert.Equal(t, "alpha\n", readFile(t, repo.FS(), "a.txt"))
}

func TestOpen_InvalidURL(t *testing.T) {
	_, err := Open(context.Background(), "ftp://example.com/repo.git")
	require.Error(t, err)
	assert.Equal(t, platformerrors.CodeInvalidInput, platformerrors.GetCode(err))
}

func TestOpen_CLIRequiresOSFilesystem(t *testing.T) {
	_, err := Open(context.Background(), testURL, WithGitCLI())
	require.Error(t, err)
	assert.Equal(t, platformerrors.CodeInvalidConfig, platformerrors.GetCode(err))
}

func TestOpen_Reattach(t *testing.T) {
	base := memfs.New()
	first, _ := openLazy(t, base, scenarioFiles())
	assert.Equal(t, "alpha\n", readFile(t, first.FS(), "a.txt"))
	require.NoError(t, first.Close())

	repo, tr := openLazy(t, base, scenarioFiles())

	assert.Empty(t, tr.Clones)
	assert.Equal(t, 1, tr.Attaches)
	assert.Equal(t, []string{".gitignore", "a.txt"}, repo.CheckedOut())
	assert.Equal(t, 1, repo.Placeholders())

	assert.Equal(t, "alpha\n", readFile(t, repo.FS(), "a.txt"))
	assert.Equal(t, "bravo\n", readFile(t, repo.FS(), "b.txt"))

	_, checkouts := tr.Snapshot()
	assert.Equal(t, [][]string{{"b.txt"}}, checkouts)
}

func TestOpen_EagerReattachResolvesPlaceholders(t *testing.T) {
	base := memfs.New()
	first, _ := openLazy(t, base, scenarioFiles())
	assert.Equal(t, "alpha\n", readFile(t, first.FS(), "a.txt"))
	require.NoError(t, first.Close())

	repo, tr := openLazy(t, base, scenarioFiles(), WithLazy(false))

	assert.False(t, repo.Lazy())
	assert.Equal(t, 1, tr.Attaches)
	assert.Zero(t, repo.Placeholders(), "stubs are resolved before Open returns")
	assert.Equal(t, "bravo\n", readFile(t, repo.FS(), "b.txt"))
	assert.Equal(t, "*.log\n", readFile(t, repo.FS(), ".gitignore"))
	assert.Equal(t, "alpha\n", readFile(t, repo.FS(), "a.txt"))

	fetches, checkouts := tr.Snapshot()
	assert.Equal(t, [][]string{{"b.txt"}}, checkouts)
	assert.Equal(t, [][]plumbing.Hash{{memremote.BlobID("bravo\n")}}, fetches)

	reopened, err := placeholder.NewFilesystem(base, "")
	require.NoError(t, err)
	assert.Empty(t, reopened.Placeholders(""), "the persisted index is emptied")
}

func TestRepository_Reset(t *testing.T) {
	repo, tr := openLazy(t, memfs.New(), scenarioFiles())
	assert.Equal(t, "alpha\n", readFile(t, repo.FS(), "a.txt"))

	repo.Reset()
	assert.Empty(t, repo.CheckedOut())

	assert.Equal(t, "alpha\n", readFile(t, repo.FS(), "a.txt"))
	fetches, checkouts := tr.Snapshot()
	assert.Len(t, checkouts, 2, "reset paths are checked out again")
	assert.Len(t, fetches, 1, "no placeholder left to fetch for")
}

func TestRepository_CloseReleasesCallers(t *testing.T) {
	repo, tr := openLazy(t, memfs.New(), scenarioFiles())
	tr.Gate = make(chan struct{})
	tr.Started = make(chan struct{})

	errc := make(chan error, 1)
	go func() {
		_, err := repo.FS().Open("a.txt")
		errc <- err
	}()

	<-tr.Started
	require.NoError(t, repo.Close())

	err := <-errc
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	// Let the abandoned batch finish before the filesystem is reused.
	close(tr.Gate)
	_ = repo.sched.Await(context.Background())

	_, err = repo.FS().Open("b.txt")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIsMemoryFilesystem(t *testing.T) {
	pfs, err := placeholder.NewFilesystem(memfs.New(), "")
	require.NoError(t, err)

	assert.True(t, isMemoryFilesystem(memfs.New()))
	assert.True(t, isMemoryFilesystem(pfs))

	ofs, err := placeholder.NewFilesystem(osfs.New(t.TempDir()), "")
	require.NoError(t, err)
	assert.False(t, isMemoryFilesystem(ofs))
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := osexec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func TestOpen_GoGitEndToEnd(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	src := testutil.NewSourceRepo(t, testutil.DefaultFiles())

	repo, err := Open(ctx, src.Dir)
	require.NoError(t, err)
	defer repo.Close()

	assert.True(t, repo.Lazy())
	assert.Equal(t, src.Branch(t), repo.BranchName())
	assert.Equal(t, len(testutil.DefaultFiles()), repo.Placeholders())

	require.NoError(t, repo.EnsureFirstBatch(ctx))
	assert.Equal(t, []string{".gitignore", "src/.gitignore"}, repo.CheckedOut())
	assert.True(t, repo.Ignored("debug.log"))
	assert.True(t, repo.Ignored("src/scratch.tmp"))

	assert.Equal(t, testutil.TestGoFile, readFile(t, repo.FS(), "src/main.go"))
	assert.Equal(t, "package pkg\n", readFile(t, repo.FS(), "src/pkg/helpers.go"))

	entries, err := repo.FS().ReadDir("/")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	assert.Equal(t, []string{".git", ".gitignore", "README.md", "a.txt", "b.txt", "src"}, names)
}

func TestOpen_GitCLIEndToEnd(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	src := testutil.NewSourceRepo(t, testutil.DefaultFiles())
	dir := t.TempDir()

	repo, err := Open(ctx, src.Dir, WithDir(dir), WithGitCLI())
	require.NoError(t, err)

	assert.True(t, repo.Lazy())
	assert.Equal(t, "alpha\n", readFile(t, repo.FS(), "a.txt"))
	assert.Contains(t, repo.CheckedOut(), "a.txt")
	require.NoError(t, repo.Close())

	reopened, err := Open(ctx, src.Dir, WithDir(dir), WithGitCLI())
	require.NoError(t, err)
	defer reopened.Close()

	assert.Contains(t, reopened.CheckedOut(), "a.txt")
	assert.Equal(t, "bravo\n", readFile(t, reopened.FS(), "b.txt"))
}
