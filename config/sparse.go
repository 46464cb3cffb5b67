package config

import (
	"github.com/gobwas/glob"

	"github.com/jmgilman/go/lazygit"
	"github.com/jmgilman/go/lazygit/remote"
)

// maxPatternLength bounds sparse patterns.
const maxPatternLength = 256

func compilePattern(pattern string) (glob.Glob, error) {
	if len(pattern) > maxPatternLength {
		return nil, errPatternTooLong
	}
	return glob.Compile(pattern, '/')
}

// Filter compiles the patterns into a sparse filter. A path is kept when it
// matches an include pattern (or there are none) and no exclude pattern. It
// returns nil when no patterns are set.
func (s SparseConfig) Filter() (lazygit.SparseFilter, error) {
	if len(s.Include) == 0 && len(s.Exclude) == 0 {
		return nil, nil
	}

	include, err := compileAll(s.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compileAll(s.Exclude)
	if err != nil {
		return nil, err
	}

	return func(e remote.TreeEntry) (bool, error) {
		if len(include) > 0 && !matchAny(include, e.Path) {
			return false, nil
		}
		return !matchAny(exclude, e.Path), nil
	}, nil
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchAny(globs []glob.Glob, p string) bool {
	for _, g := range globs {
		if g.Match(p) {
			return true
		}
	}
	return false
}
