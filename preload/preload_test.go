package preload

import (
	"context"
	"errors"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/lazygit/remote"
)

type listerFunc func(ctx context.Context, ref string) ([]remote.TreeEntry, error)

func (f listerFunc) ListTree(ctx context.Context, ref string) ([]remote.TreeEntry, error) {
	return f(ctx, ref)
}

func entries(paths ...string) []remote.TreeEntry {
	out := make([]remote.TreeEntry, 0, len(paths))
	for _, p := range paths {
		out = append(out, remote.TreeEntry{Path: p})
	}
	return out
}

func TestPreloader_Run(t *testing.T) {
	calls := 0
	p := New(listerFunc(func(_ context.Context, ref string) ([]remote.TreeEntry, error) {
		calls++
		assert.Equal(t, "main", ref)
		return entries("src/pkg/.gitignore", "a.txt", ".gitignore", "src/.gitignore", "docs/gitignore.md", "b/.gitignore"), nil
	}))

	paths, err := p.Run(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "b/.gitignore", "src/.gitignore", "src/pkg/.gitignore"}, paths)

	again, err := p.Run(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, paths, again)
	assert.Equal(t, 1, calls, "the tree is listed once")
}

func TestPreloader_RunNoIgnoreFiles(t *testing.T) {
	p := New(listerFunc(func(context.Context, string) ([]remote.TreeEntry, error) {
		return entries("a.txt", "b.txt"), nil
	}))

	paths, err := p.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestPreloader_RunError(t *testing.T) {
	listErr := errors.New("listing failed")
	p := New(listerFunc(func(context.Context, string) ([]remote.TreeEntry, error) {
		return nil, listErr
	}))

	_, err := p.Run(context.Background(), "")
	assert.ErrorIs(t, err, listErr)

	_, err = p.Run(context.Background(), "")
	assert.ErrorIs(t, err, listErr)
}

func TestIsIgnoreFile(t *testing.T) {
	assert.True(t, IsIgnoreFile(".gitignore"))
	assert.True(t, IsIgnoreFile("deep/dir/.gitignore"))
	assert.False(t, IsIgnoreFile(".gitignore.bak"))
	assert.False(t, IsIgnoreFile("gitignore"))
}

func TestMatcher(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, ".gitignore", []byte("*.log\nbuild/\n"), 0o644))
	require.NoError(t, util.WriteFile(fs, "src/.gitignore", []byte("*.tmp\n"), 0o644))
	require.NoError(t, util.WriteFile(fs, ".git/info/exclude", []byte("# local\nscratch/\n"), 0o644))
	// An unmaterialized stub is empty.
	require.NoError(t, util.WriteFile(fs, "docs/.gitignore", nil, 0o644))

	m, err := Matcher(fs)
	require.NoError(t, err)

	tests := []struct {
		path  []string
		isDir bool
		want  bool
	}{
		{path: []string{"debug.log"}, want: true},
		{path: []string{"build"}, isDir: true, want: true},
		{path: []string{"src", "x.tmp"}, want: true},
		{path: []string{"x.tmp"}, want: false},
		{path: []string{"scratch"}, isDir: true, want: true},
		{path: []string{"docs", "readme.md"}, want: false},
		{path: []string{"main.go"}, want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir), "%v", tt.path)
	}
}
