package placeholder

import (
	"errors"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
)

// lockedFile is a file opened through a Filesystem. Its calls take the
// filesystem lock, since some backends share state between open files and
// directory metadata.
type lockedFile struct {
	billy.File
	mu *sync.RWMutex
}

func (f *lockedFile) Read(p []byte) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	//nolint:wrapcheck // Passthrough of the wrapped file
	return f.File.Read(p)
}

func (f *lockedFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	//nolint:wrapcheck // Passthrough of the wrapped file
	return f.File.ReadAt(p, off)
}

func (f *lockedFile) Seek(offset int64, whence int) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	//nolint:wrapcheck // Passthrough of the wrapped file
	return f.File.Seek(offset, whence)
}

func (f *lockedFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	//nolint:wrapcheck // Passthrough of the wrapped file
	return f.File.Write(p)
}

func (f *lockedFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	//nolint:wrapcheck // Passthrough of the wrapped file
	return f.File.Truncate(size)
}

func (f *lockedFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	//nolint:wrapcheck // Passthrough of the wrapped file
	return f.File.Close()
}

// Stat forwards to the wrapped file when it can describe itself.
func (f *lockedFile) Stat() (os.FileInfo, error) {
	s, ok := f.File.(interface{ Stat() (os.FileInfo, error) })
	if !ok {
		return nil, &os.PathError{Op: "stat", Path: f.Name(), Err: errors.ErrUnsupported}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	//nolint:wrapcheck // Passthrough of the wrapped file
	return s.Stat()
}
