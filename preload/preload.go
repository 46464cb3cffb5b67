// Package preload locates ignore files ahead of the first materialization
// batch so that they are written before any caller needs them.
package preload

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/jmgilman/go/lazygit/remote"
)

// IgnoreFileName is the per-directory ignore file.
const IgnoreFileName = ".gitignore"

// excludePath is the repository-local exclude file.
const excludePath = ".git/info/exclude"

// Lister lists the files of a tree without reading their content.
type Lister interface {
	ListTree(ctx context.Context, ref string) ([]remote.TreeEntry, error)
}

// Preloader finds ignore files once per open repository.
type Preloader struct {
	lister Lister

	once  sync.Once
	paths []string
	err   error
}

// New returns a Preloader backed by lister.
func New(lister Lister) *Preloader {
	return &Preloader{lister: lister}
}

// Run returns the paths of every ignore file in ref, shallowest first. Only
// the first call lists the tree; later calls return the same result.
func (p *Preloader) Run(ctx context.Context, ref string) ([]string, error) {
	p.once.Do(func() {
		entries, err := p.lister.ListTree(ctx, ref)
		if err != nil {
			p.err = err
			return
		}
		p.paths = IgnoreFiles(entries)
	})
	return p.paths, p.err
}

// IgnoreFiles filters entries down to ignore files, ordered by depth and then
// by path.
func IgnoreFiles(entries []remote.TreeEntry) []string {
	var paths []string
	for _, e := range entries {
		if IsIgnoreFile(e.Path) {
			paths = append(paths, e.Path)
		}
	}

	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
	return paths
}

// IsIgnoreFile reports whether p names an ignore file.
func IsIgnoreFile(p string) bool {
	return path.Base(p) == IgnoreFileName
}

// Matcher builds a matcher from the ignore files present in fs plus the
// repository exclude file. Ignore files that are still unmaterialized stubs
// contribute no patterns.
func Matcher(fs billy.Filesystem) (gitignore.Matcher, error) {
	patterns, err := gitignore.ReadPatterns(fs, nil)
	if err != nil {
		return nil, err //nolint:wrapcheck // go-git errors are descriptive
	}

	if data, err := util.ReadFile(fs, excludePath); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, gitignore.ParsePattern(line, nil))
		}
	}

	return gitignore.NewMatcher(patterns), nil
}
