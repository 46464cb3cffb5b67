// Package intercept provides a billy.Filesystem that materializes paths on
// first access.
//
// Named operations on a path that has not been checked out yet block until
// the scheduler has written it. Paths under the git metadata directory pass
// straight through, except reads of loose objects, which first make sure the
// object has been fetched.
package intercept

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/jmgilman/go/lazygit/placeholder"
)

// MetadataDir is the git metadata directory at the working tree root.
const MetadataDir = ".git"

// Materializer resolves unmaterialized paths.
type Materializer interface {
	// IsCheckedOut reports whether the path is materialized.
	IsCheckedOut(path string) bool

	// Request materializes path and blocks until it is done.
	Request(ctx context.Context, path string) error

	// Await blocks until the in-flight batch, if any, finishes.
	Await(ctx context.Context) error

	// EnsureObject makes a git object available locally.
	EnsureObject(ctx context.Context, id plumbing.Hash) error
}

// Option configures a Filesystem.
type Option func(*Filesystem)

// WithContext sets the context blocked calls wait under. Cancelling it
// releases every blocked caller with the context error.
func WithContext(ctx context.Context) Option {
	return func(f *Filesystem) {
		f.ctx = ctx
	}
}

// WithLogger sets the logger. Logging is discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Filesystem) {
		f.logger = logger
	}
}

// Filesystem wraps a working tree filesystem and materializes paths on
// demand.
type Filesystem struct {
	base   billy.Filesystem
	m      Materializer
	ctx    context.Context
	logger *slog.Logger
}

// New wraps base.
func New(base billy.Filesystem, m Materializer, opts ...Option) *Filesystem {
	f := &Filesystem{
		base: base,
		m:    m,
		ctx:  context.Background(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return f
}

// Unwrap returns the wrapped filesystem.
func (f *Filesystem) Unwrap() billy.Filesystem {
	return f.base
}

// IsMetadata reports whether p lies in the git metadata directory.
func IsMetadata(p string) bool {
	p = placeholder.Clean(p)
	return p == MetadataDir || strings.HasPrefix(p, MetadataDir+"/")
}

// TopLevel returns the first segment of p.
func TopLevel(p string) string {
	p = placeholder.Clean(p)
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}

// ParseLooseObject returns the object id encoded in a loose object path such
// as ".git/objects/5d/ec81f47085ae328439d5d9e5012143aeb8fef0".
func ParseLooseObject(p string) (plumbing.Hash, bool) {
	parts := strings.Split(placeholder.Clean(p), "/")
	if len(parts) != 4 || parts[0] != MetadataDir || parts[1] != "objects" || parts[2] == "pack" {
		return plumbing.ZeroHash, false
	}

	id := parts[2] + parts[3]
	if len(parts[2]) != 2 || len(id) != 40 {
		return plumbing.ZeroHash, false
	}
	if _, err := hex.DecodeString(id); err != nil {
		return plumbing.ZeroHash, false
	}
	return plumbing.NewHash(id), true
}

func (f *Filesystem) materialize(op, p string) error {
	rel := placeholder.Clean(p)
	if rel == "" || IsMetadata(rel) || f.m.IsCheckedOut(rel) {
		return nil
	}

	if err := f.m.Request(f.ctx, TopLevel(rel)); err != nil {
		return &os.PathError{Op: op, Path: p, Err: err}
	}
	return nil
}

func (f *Filesystem) readObject(op, p string) error {
	id, ok := ParseLooseObject(p)
	if !ok {
		return nil
	}

	f.logger.Debug("loose object read", "id", id.String())
	if err := f.m.EnsureObject(f.ctx, id); err != nil {
		return &os.PathError{Op: op, Path: p, Err: err}
	}
	return nil
}

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND

// Create implements billy.Basic.
func (f *Filesystem) Create(filename string) (billy.File, error) {
	if err := f.materialize("create", filename); err != nil {
		return nil, err
	}
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Create(filename)
}

// Open implements billy.Basic.
func (f *Filesystem) Open(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDONLY, 0)
}

// OpenFile implements billy.Basic.
func (f *Filesystem) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&writeFlags == 0 {
		if err := f.readObject("open", filename); err != nil {
			return nil, err
		}
	}
	if err := f.materialize("open", filename); err != nil {
		return nil, err
	}
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.OpenFile(filename, flag, perm)
}

// Stat implements billy.Basic.
func (f *Filesystem) Stat(filename string) (os.FileInfo, error) {
	if err := f.materialize("stat", filename); err != nil {
		return nil, err
	}
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Stat(filename)
}

// Rename implements billy.Basic. Both sides are materialized first.
func (f *Filesystem) Rename(oldpath, newpath string) error {
	if err := f.materialize("rename", oldpath); err != nil {
		return err
	}
	if err := f.materialize("rename", newpath); err != nil {
		return err
	}
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Rename(oldpath, newpath)
}

// Remove implements billy.Basic.
func (f *Filesystem) Remove(filename string) error {
	if err := f.materialize("remove", filename); err != nil {
		return err
	}
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Remove(filename)
}

// Join implements billy.Basic.
func (f *Filesystem) Join(elem ...string) string {
	return f.base.Join(elem...)
}

// TempFile implements billy.TempFile.
func (f *Filesystem) TempFile(dir, prefix string) (billy.File, error) {
	if err := f.materialize("tempfile", dir); err != nil {
		return nil, err
	}
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.TempFile(dir, prefix)
}

// ReadDir implements billy.Dir. Listing never schedules work; it waits for an
// in-flight batch so entries are not read while placeholders are replaced.
func (f *Filesystem) ReadDir(path string) ([]os.FileInfo, error) {
	rel := placeholder.Clean(path)
	if rel != "" && !IsMetadata(rel) && !f.m.IsCheckedOut(rel) {
		if err := f.m.Await(f.ctx); err != nil {
			return nil, &os.PathError{Op: "readdir", Path: path, Err: err}
		}
	}
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.ReadDir(path)
}

// MkdirAll implements billy.Dir.
func (f *Filesystem) MkdirAll(filename string, perm os.FileMode) error {
	if err := f.materialize("mkdir", filename); err != nil {
		return err
	}
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.MkdirAll(filename, perm)
}

// Lstat implements billy.Symlink.
func (f *Filesystem) Lstat(filename string) (os.FileInfo, error) {
	if err := f.materialize("lstat", filename); err != nil {
		return nil, err
	}
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Lstat(filename)
}

// Symlink implements billy.Symlink. Only the link side is materialized.
func (f *Filesystem) Symlink(target, link string) error {
	if err := f.materialize("symlink", link); err != nil {
		return err
	}
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Symlink(target, link)
}

// Readlink implements billy.Symlink.
func (f *Filesystem) Readlink(link string) (string, error) {
	if err := f.materialize("readlink", link); err != nil {
		return "", err
	}
	//nolint:wrapcheck // Passthrough of the wrapped filesystem
	return f.base.Readlink(link)
}

// Chroot implements billy.Chroot. The returned view is still intercepted.
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

var (
	_ billy.Filesystem = (*Filesystem)(nil)
	_ billy.Capable    = (*Filesystem)(nil)
)
