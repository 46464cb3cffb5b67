// Package placeholder tracks working-tree entries that are registered but not
// yet backed by real content.
//
// A placeholder is a zero-length stub file in the working tree plus an index
// record holding the blob object id the stub stands for. Stubs make directory
// listings look complete while the content itself is still remote; the index
// lets a later materialization round find out which objects to fetch.
//
// Placeholder support is a capability of the backing filesystem. Any
// billy.Filesystem can gain it by being wrapped with NewFilesystem:
//
//	base := osfs.New("/work/repo")
//	pfs, err := placeholder.NewFilesystem(base, placeholder.DefaultIndexPath)
//	if err != nil {
//	    return err
//	}
//
//	store := placeholder.NewStore(pfs)
//	store.Supported() // true
//
// A Store over a filesystem without the capability reports every path as
// materialized, which degrades lazy checkouts to eager ones.
//
// A Filesystem serializes every call on the wrapped filesystem, so an
// unsynchronized backend such as memfs can be read while stubs are replaced
// from another goroutine.
//
// The index is persisted as JSON under the repository metadata directory so
// that a lazy checkout can be reattached after the process restarts. Writes
// are batched: mutations mark the index dirty and Flush persists it.
package placeholder
