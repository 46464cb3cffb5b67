package placeholder

import (
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	platformerrors "github.com/jmgilman/go/errors"
)

// DefaultIndexPath is where the placeholder index lives relative to the
// working tree root.
const DefaultIndexPath = ".git/lazygit/placeholders.json"

// ErrNotAPlaceholder is returned when an object id is requested for a path
// that is already materialized (or was never registered).
var ErrNotAPlaceholder = platformerrors.New(platformerrors.CodeNotFound, "path is not a placeholder")

// ErrUnsupported is returned when placeholders are required but the backing
// filesystem cannot hold them.
var ErrUnsupported = platformerrors.New(platformerrors.CodeInvalidConfig, "backing filesystem does not support placeholders")

// Entry describes one unmaterialized working-tree path.
type Entry struct {
	// Path is relative to the working tree root, slash separated.
	Path string

	// OID is the blob the path resolves to.
	OID plumbing.Hash

	// RootHash is the tree the entry was listed from. Zero when unknown.
	RootHash plumbing.Hash

	// Mode is the git file mode of the entry (regular, executable, symlink).
	Mode filemode.FileMode
}

// Capable is implemented by backing filesystems that can register stub
// entries without writing their content.
type Capable interface {
	// CreatePlaceholder registers a stub for e.Path.
	CreatePlaceholder(e Entry) error

	// Placeholder returns the entry registered for path, if any.
	Placeholder(path string) (Entry, bool)

	// RemovePlaceholder deletes the stub and its record. Removing a path that
	// is not a placeholder is not an error.
	RemovePlaceholder(path string) error

	// Placeholders returns every entry equal to prefix or below it, sorted by
	// path. An empty prefix selects all entries.
	Placeholders(prefix string) []Entry
}

// Flusher is implemented by capable filesystems that persist their records.
type Flusher interface {
	Flush() error
}
