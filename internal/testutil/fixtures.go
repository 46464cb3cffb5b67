// Package testutil provides on-disk fixture repositories for tests.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Author information used for fixture commits.
const (
	TestAuthor = "Test User"
	TestEmail  = "test@example.com"
)

// Common fixture content.
const (
	TestGitignore = "*.log\nbuild/\n"
	TestReadme    = "# Test Repository\n"
	TestGoFile    = "package main\n\nfunc main() {}\n"
)

// DefaultFiles is a small tree with ignore files at two levels.
func DefaultFiles() map[string]string {
	return map[string]string{
		".gitignore":         TestGitignore,
		"README.md":          TestReadme,
		"a.txt":              "alpha\n",
		"b.txt":              "bravo\n",
		"src/main.go":        TestGoFile,
		"src/.gitignore":     "*.tmp\n",
		"src/pkg/helpers.go": "package pkg\n",
	}
}

// SourceRepo is a non-bare repository on disk that tests clone from.
type SourceRepo struct {
	Dir  string
	Repo *gogit.Repository
}

// NewSourceRepo initializes a repository in a temporary directory and commits
// files to its default branch.
func NewSourceRepo(t testing.TB, files map[string]string) *SourceRepo {
	t.Helper()

	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	src := &SourceRepo{Dir: dir, Repo: repo}
	src.Commit(t, files, "Initial commit")
	return src
}

// Commit writes files into the working tree and commits them, returning the
// new commit id.
func (s *SourceRepo) Commit(t testing.TB, files map[string]string, message string) plumbing.Hash {
	t.Helper()

	wt, err := s.Repo.Worktree()
	require.NoError(t, err)

	// Sorted for deterministic index order.
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		full := filepath.Join(s.Dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(files[p]), 0o644))
		_, err := wt.Add(p)
		require.NoError(t, err)
	}

	commit, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  TestAuthor,
			Email: TestEmail,
			When:  time.Now(),
		},
	})
	require.NoError(t, err)
	return commit
}

// BlobID returns the blob id of path at HEAD.
func (s *SourceRepo) BlobID(t testing.TB, path string) plumbing.Hash {
	t.Helper()

	head, err := s.Repo.Head()
	require.NoError(t, err)
	commit, err := s.Repo.CommitObject(head.Hash())
	require.NoError(t, err)
	file, err := commit.File(path)
	require.NoError(t, err)
	return file.Hash
}

// Branch returns the short name of the branch HEAD points to.
func (s *SourceRepo) Branch(t testing.TB) string {
	t.Helper()

	head, err := s.Repo.Head()
	require.NoError(t, err)
	return head.Name().Short()
}
