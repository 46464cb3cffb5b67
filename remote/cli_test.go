package remote

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/jmgilman/go/exec"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor records every invocation and answers through runFunc.
type fakeExecutor struct {
	mu      sync.Mutex
	dir     string
	env     map[string]string
	calls   [][]string
	runFunc func(args []string, env map[string]string) (*exec.Result, error)
}

func (f *fakeExecutor) WithEnv(env map[string]string) exec.Executor {
	f.env = env
	return f
}

func (f *fakeExecutor) WithDir(dir string) exec.Executor {
	f.dir = dir
	return f
}

func (f *fakeExecutor) WithContext(context.Context) exec.Executor { return f }
func (f *fakeExecutor) WithDisableColors() exec.Executor         { return f }
func (f *fakeExecutor) WithTimeout(string) exec.Executor         { return f }
func (f *fakeExecutor) WithInheritEnv() exec.Executor            { return f }
func (f *fakeExecutor) WithStdout(io.Writer) exec.Executor       { return f }
func (f *fakeExecutor) WithStderr(io.Writer) exec.Executor       { return f }
func (f *fakeExecutor) WithPassthrough() exec.Executor           { return f }
func (f *fakeExecutor) Clone() exec.Executor                     { return f }

func (f *fakeExecutor) Run(args ...string) (*exec.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	env := f.env
	f.mu.Unlock()

	if f.runFunc != nil {
		return f.runFunc(args, env)
	}
	return &exec.Result{}, nil
}

func (f *fakeExecutor) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

func failure(stderr string, code int) error {
	return &exec.ExecError{ExitCode: code, Stderr: stderr}
}

func TestCLI_LazyClone(t *testing.T) {
	fake := &fakeExecutor{}
	cli := NewCLI("/work/repo", WithExecutor(fake))

	err := cli.Clone(context.Background(), CloneOptions{
		URL:           "https://github.com/test/repo.git",
		Ref:           "main",
		Depth:         1,
		Lazy:          true,
		BlobExclusion: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "/work/repo", fake.dir)
	assert.Equal(t, "0", fake.env["GIT_TERMINAL_PROMPT"])
	assert.Equal(t, []string{
		"git clone --single-branch --no-tags --origin origin --no-checkout --filter=blob:none --depth 1 --branch main -- https://github.com/test/repo.git .",
	}, fake.commands())
}

func TestCLI_CloneFailure(t *testing.T) {
	fake := &fakeExecutor{
		runFunc: func([]string, map[string]string) (*exec.Result, error) {
			return nil, failure("fatal: Authentication failed for 'https://github.com/test/repo.git/'", 128)
		},
	}

	err := NewCLI("/work/repo", WithExecutor(fake)).Clone(context.Background(), CloneOptions{URL: "https://github.com/test/repo.git"})
	require.Error(t, err)
	assert.Equal(t, platformerrors.CodeUnauthorized, platformerrors.GetCode(err))
}

func TestCLI_HasObject(t *testing.T) {
	fake := &fakeExecutor{
		runFunc: func(args []string, env map[string]string) (*exec.Result, error) {
			assert.Equal(t, "1", env["GIT_NO_LAZY_FETCH"])
			if args[3] == blobA.String() {
				return &exec.Result{}, nil
			}
			return nil, failure("", 1)
		},
	}
	cli := NewCLI("/work/repo", WithExecutor(fake))

	has, err := cli.HasObject(context.Background(), blobA)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = cli.HasObject(context.Background(), blobB)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCLI_FetchOnlyMissing(t *testing.T) {
	fake := &fakeExecutor{
		runFunc: func(args []string, _ map[string]string) (*exec.Result, error) {
			if args[1] == "cat-file" && args[3] == blobA.String() {
				return &exec.Result{}, nil
			}
			if args[1] == "cat-file" {
				return nil, failure("", 1)
			}
			return &exec.Result{}, nil
		},
	}
	cli := NewCLI("/work/repo", WithExecutor(fake))

	require.NoError(t, cli.Fetch(context.Background(), []plumbing.Hash{blobA, blobB}, "main"))

	cmds := fake.commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "git fetch --no-tags --no-write-fetch-head --depth=1 origin "+blobB.String(), cmds[2])
}

func TestCLI_CheckoutFallsBackPerPath(t *testing.T) {
	fake := &fakeExecutor{
		runFunc: func(args []string, _ map[string]string) (*exec.Result, error) {
			joined := strings.Join(args, " ")
			if strings.Contains(joined, ":(literal)missing.txt") {
				return nil, failure("error: pathspec ':(literal)missing.txt' did not match any file(s) known to git", 1)
			}
			return &exec.Result{}, nil
		},
	}
	cli := NewCLI("/work/repo", WithExecutor(fake))

	result, err := cli.Checkout(context.Background(), []string{"a.txt", "missing.txt"}, "")
	require.NoError(t, err)

	assert.NoError(t, result["a.txt"])
	require.Error(t, result["missing.txt"])
	assert.Equal(t, platformerrors.CodeNotFound, platformerrors.GetCode(result["missing.txt"]))

	assert.Equal(t, []string{
		"git checkout HEAD -- :(literal)a.txt :(literal)missing.txt",
		"git checkout HEAD -- :(literal)a.txt",
		"git checkout HEAD -- :(literal)missing.txt",
	}, fake.commands())
}

func TestCLI_ListTree(t *testing.T) {
	tree := "4b825dc642cb6eb9a060e54bf8d69288fbee4904"
	commit := "1111111111111111111111111111111111111111"

	fake := &fakeExecutor{
		runFunc: func(args []string, _ map[string]string) (*exec.Result, error) {
			switch args[1] {
			case "rev-parse":
				if args[2] == "--verify" {
					return &exec.Result{Stdout: commit + "\n" + tree + "\n"}, nil
				}
				return &exec.Result{Stdout: "refs/heads/main\n"}, nil
			case "symbolic-ref":
				return nil, failure("", 1)
			case "ls-tree":
				return &exec.Result{Stdout: "100644 blob " + blobA.String() + "\ta.txt\x00" +
					"100755 blob " + blobB.String() + "\tbin/run.sh\x00" +
					"160000 commit " + commit + "\tvendor/lib\x00"}, nil
			}
			return &exec.Result{}, nil
		},
	}
	cli := NewCLI("/work/repo", WithExecutor(fake))

	entries, err := cli.ListTree(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, TreeEntry{Path: "a.txt", Hash: blobA, Mode: filemode.Regular, RootHash: plumbing.NewHash(tree)}, entries[0])
	assert.Equal(t, filemode.Executable, entries[1].Mode)

	info, err := cli.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "main", info.Branch)
	assert.Equal(t, "refs/remotes/origin/main", info.DefaultBranch)
}

func TestParseLsTree_Malformed(t *testing.T) {
	_, err := parseLsTree("garbage\x00", plumbing.ZeroHash)
	assert.Error(t, err)
}

func TestMapExecError(t *testing.T) {
	tests := []struct {
		stderr string
		want   platformerrors.ErrorCode
	}{
		{stderr: "fatal: not a git repository (or any of the parent directories): .git", want: platformerrors.CodeNotFound},
		{stderr: "fatal: could not read Username for 'https://github.com': terminal prompts disabled", want: platformerrors.CodeUnauthorized},
		{stderr: "fatal: destination path '.' already exists and is not an empty directory.", want: platformerrors.CodeAlreadyExists},
		{stderr: "fatal: unable to access 'https://example.com/': Could not resolve host: example.com", want: platformerrors.CodeNetwork},
		{stderr: "fatal: something unexpected", want: platformerrors.CodeExecutionFailed},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			err := mapExecError(failure(tt.stderr, 128), "operation")
			assert.Equal(t, tt.want, platformerrors.GetCode(err))
		})
	}

	assert.NoError(t, mapExecError(nil, "operation"))
}
