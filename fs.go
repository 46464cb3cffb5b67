package lazygit

import (
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// unwrapper is implemented by filesystem decorators.
type unwrapper interface {
	Unwrap() billy.Filesystem
}

// underlying is implemented by the go-billy helpers (chroot, polyfill) that
// memfs and osfs are built from.
type underlying interface {
	Underlying() billy.Basic
}

// isMemoryFilesystem reports whether fs, or the filesystem it decorates,
// keeps its content in memory, where the git binary cannot see it.
func isMemoryFilesystem(fs billy.Basic) bool {
	for fs != nil {
		typeName := fmt.Sprintf("%T", fs)
		if strings.Contains(strings.ToLower(typeName), "mem") {
			return true
		}

		switch u := fs.(type) {
		case unwrapper:
			fs = u.Unwrap()
		case underlying:
			fs = u.Underlying()
		default:
			return false
		}
	}
	return false
}
