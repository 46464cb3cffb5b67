package placeholder

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
)

const indexVersion = "1"

// record is the persisted form of an Entry.
type record struct {
	OID      string `json:"oid"`
	RootHash string `json:"root_hash,omitempty"`
	Mode     uint32 `json:"mode"`
}

// placeholderIndex holds the records of all registered placeholders.
// It provides thread-safe access with JSON persistence.
type placeholderIndex struct {
	Version string             `json:"version"`
	Entries map[string]*record `json:"entries"`
	mu      sync.RWMutex
	dirty   bool
}

func newIndex() *placeholderIndex {
	return &placeholderIndex{
		Version: indexVersion,
		Entries: make(map[string]*record),
	}
}

// loadOrCreateIndex loads an existing index from fs or returns an empty one.
// A present but unreadable index is an error, since silently dropping it
// would make stubs look like materialized empty files.
func loadOrCreateIndex(fs billy.Filesystem, indexPath string) (*placeholderIndex, error) {
	if _, err := fs.Stat(indexPath); os.IsNotExist(err) {
		return newIndex(), nil
	}

	data, err := util.ReadFile(fs, indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read placeholder index: %w", err)
	}

	idx := newIndex()
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("failed to parse placeholder index: %w", err)
	}

	if idx.Version != indexVersion {
		return nil, fmt.Errorf("unsupported placeholder index version: %s (expected %s)", idx.Version, indexVersion)
	}

	if idx.Entries == nil {
		idx.Entries = make(map[string]*record)
	}

	return idx, nil
}

// save writes the index with write-to-temp + rename when it has changed
// since the last save.
func (idx *placeholderIndex) save(fs billy.Filesystem, indexPath string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.dirty {
		return nil
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal placeholder index: %w", err)
	}

	if err := fs.MkdirAll(path.Dir(indexPath), 0o755); err != nil {
		return fmt.Errorf("failed to create placeholder index directory: %w", err)
	}

	tmpPath := indexPath + ".tmp"
	tmpFile, err := fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary placeholder index: %w", err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary placeholder index: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary placeholder index: %w", err)
	}

	if err := fs.Rename(tmpPath, indexPath); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename placeholder index: %w", err)
	}

	idx.dirty = false
	return nil
}

func (idx *placeholderIndex) get(p string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rec, ok := idx.Entries[p]
	if !ok {
		return Entry{}, false
	}
	return rec.entry(p), true
}

func (idx *placeholderIndex) set(e Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rec := &record{
		OID:  e.OID.String(),
		Mode: uint32(e.Mode),
	}
	if !e.RootHash.IsZero() {
		rec.RootHash = e.RootHash.String()
	}
	idx.Entries[e.Path] = rec
	idx.dirty = true
}

func (idx *placeholderIndex) delete(p string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.Entries[p]; !ok {
		return false
	}
	delete(idx.Entries, p)
	idx.dirty = true
	return true
}

// under returns the entries at prefix or below it, sorted by path.
func (idx *placeholderIndex) under(prefix string) []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var result []Entry
	for p, rec := range idx.Entries {
		if prefix == "" || p == prefix || strings.HasPrefix(p, prefix+"/") {
			result = append(result, rec.entry(p))
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

func (r *record) entry(p string) Entry {
	e := Entry{
		Path: p,
		OID:  plumbing.NewHash(r.OID),
		Mode: filemode.FileMode(r.Mode),
	}
	if r.RootHash != "" {
		e.RootHash = plumbing.NewHash(r.RootHash)
	}
	return e
}
