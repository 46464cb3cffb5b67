package placeholder

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
)

// Filesystem decorates a billy.Filesystem with placeholder support.
//
// Every call on the wrapped filesystem, including reads and writes through
// the files it returns, is serialized by one read/write lock. Lookups and
// listings share the lock; mutations hold it exclusively. This makes
// filesystems without internal locking, such as memfs, safe to use while a
// background checkout replaces stubs.
type Filesystem struct {
	base billy.Filesystem
	mu   sync.RWMutex

	index     *placeholderIndex
	indexPath string
}

// NewFilesystem wraps base and loads the placeholder index stored at
// indexPath (relative to base). A missing index starts empty.
func NewFilesystem(base billy.Filesystem, indexPath string) (*Filesystem, error) {
	if indexPath == "" {
		indexPath = DefaultIndexPath
	}

	idx, err := loadOrCreateIndex(base, indexPath)
	if err != nil {
		return nil, err
	}

	return &Filesystem{
		base:      base,
		index:     idx,
		indexPath: indexPath,
	}, nil
}

// Unwrap returns the wrapped filesystem. Calls made on it directly bypass
// the lock.
func (f *Filesystem) Unwrap() billy.Filesystem {
	return f.base
}

// CreatePlaceholder writes a zero-length stub for e.Path and records it.
// Parent directories are created as needed.
func (f *Filesystem) CreatePlaceholder(e Entry) error {
	p := Clean(e.Path)
	if p == "" {
		return fmt.Errorf("invalid placeholder path %q", e.Path)
	}
	e.Path = p

	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := path.Dir(p); dir != "." {
		if err := f.base.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create placeholder directory %s: %w", dir, err)
		}
	}

	stub, err := f.base.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create placeholder %s: %w", p, err)
	}
	if err := stub.Close(); err != nil {
		return fmt.Errorf("failed to close placeholder %s: %w", p, err)
	}

	f.index.set(e)
	return nil
}

// Placeholder returns the entry registered for p.
func (f *Filesystem) Placeholder(p string) (Entry, bool) {
	return f.index.get(Clean(p))
}

// RemovePlaceholder deletes the stub file and its record.
func (f *Filesystem) RemovePlaceholder(p string) error {
	p = Clean(p)

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.index.delete(p) {
		return nil
	}

	if err := f.base.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove placeholder %s: %w", p, err)
	}
	return nil
}

// Placeholders returns entries at or below prefix.
func (f *Filesystem) Placeholders(prefix string) []Entry {
	return f.index.under(Clean(prefix))
}

// Flush persists the index if it changed.
func (f *Filesystem) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.index.save(f.base, f.indexPath)
}

// Create implements billy.Basic.
func (f *Filesystem) Create(filename string) (billy.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wrap(f.base.Create(filename))
}

// Open implements billy.Basic.
func (f *Filesystem) Open(filename string) (billy.File, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.wrap(f.base.Open(filename))
}

// OpenFile implements billy.Basic. Opening for write or create is a mutation.
func (f *Filesystem) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		f.mu.Lock()
		defer f.mu.Unlock()
	} else {
		f.mu.RLock()
		defer f.mu.RUnlock()
	}
	return f.wrap(f.base.OpenFile(filename, flag, perm))
}

// Stat implements billy.Basic.
func (f *Filesystem) Stat(filename string) (os.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Stat(filename)
}

// Rename implements billy.Basic.
func (f *Filesystem) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Rename(oldpath, newpath)
}

// Remove implements billy.Basic.
func (f *Filesystem) Remove(filename string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Remove(filename)
}

// Join implements billy.Basic.
func (f *Filesystem) Join(elem ...string) string {
	return f.base.Join(elem...)
}

// TempFile implements billy.TempFile.
func (f *Filesystem) TempFile(dir, prefix string) (billy.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wrap(f.base.TempFile(dir, prefix))
}

// ReadDir implements billy.Dir.
func (f *Filesystem) ReadDir(path string) ([]os.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.ReadDir(path)
}

// MkdirAll implements billy.Dir.
func (f *Filesystem) MkdirAll(filename string, perm os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.MkdirAll(filename, perm)
}

// Lstat implements billy.Symlink.
func (f *Filesystem) Lstat(filename string) (os.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Lstat(filename)
}

// Symlink implements billy.Symlink.
func (f *Filesystem) Symlink(target, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Symlink(target, link)
}

// Readlink implements billy.Symlink.
func (f *Filesystem) Readlink(link string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Readlink(link)
}

// Chroot implements billy.Chroot. The returned view shares the lock.
func (f *Filesystem) Chroot(path string) (billy.Filesystem, error) {
	return chroot.New(f, path), nil
}

// Root implements billy.Chroot.
func (f *Filesystem) Root() string {
	return f.base.Root()
}

// Capabilities implements billy.Capable.
func (f *Filesystem) Capabilities() billy.Capability {
	return billy.Capabilities(f.base)
}

func (f *Filesystem) wrap(file billy.File, err error) (billy.File, error) {
	if err != nil {
		return nil, err //nolint:wrapcheck // Passthrough of the wrapped filesystem
	}
	return &lockedFile{File: file, mu: &f.mu}, nil
}

// Clean normalizes a filesystem path to the relative, slash separated form
// used as placeholder keys. The working tree root cleans to "".
func Clean(p string) string {
	p = filepath.ToSlash(p)
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	return p
}

var (
	_ billy.Filesystem = (*Filesystem)(nil)
	_ billy.Capable    = (*Filesystem)(nil)
	_ Capable          = (*Filesystem)(nil)
	_ Flusher          = (*Filesystem)(nil)
)
