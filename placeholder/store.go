package placeholder

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
)

// Store is the placeholder view used by the materialization layer. It
// delegates to the backing filesystem's capability, detected once when the
// store is created.
type Store struct {
	backing Capable
}

// NewStore inspects backing for placeholder support. The argument is
// typically a *Filesystem, but any value implementing Capable works.
func NewStore(backing any) *Store {
	c, _ := backing.(Capable)
	return &Store{backing: c}
}

// Supported reports whether the backing store can hold placeholders.
func (s *Store) Supported() bool {
	return s.backing != nil
}

// IsPlaceholder reports whether p is an unmaterialized stub. It is always
// false when the backing store lacks placeholder support.
func (s *Store) IsPlaceholder(p string) bool {
	if s.backing == nil {
		return false
	}
	_, ok := s.backing.Placeholder(p)
	return ok
}

// CreatePlaceholder registers a stub for p without writing content.
// rootHash may be the zero hash.
func (s *Store) CreatePlaceholder(p string, oid, rootHash plumbing.Hash) error {
	return s.Create(Entry{Path: p, OID: oid, RootHash: rootHash})
}

// Create registers a fully described entry.
func (s *Store) Create(e Entry) error {
	if s.backing == nil {
		return fmt.Errorf("cannot create placeholder %s: %w", e.Path, ErrUnsupported)
	}
	return s.backing.CreatePlaceholder(e)
}

// ResolveObjectID returns the blob id recorded for p. It fails with
// ErrNotAPlaceholder when p is already materialized.
func (s *Store) ResolveObjectID(p string) (plumbing.Hash, error) {
	if s.backing != nil {
		if e, ok := s.backing.Placeholder(p); ok {
			return e.OID, nil
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("%s: %w", p, ErrNotAPlaceholder)
}

// Remove drops the placeholder marker for p.
func (s *Store) Remove(p string) error {
	if s.backing == nil {
		return nil
	}
	return s.backing.RemovePlaceholder(p)
}

// Under returns the placeholders at or below prefix.
func (s *Store) Under(prefix string) []Entry {
	if s.backing == nil {
		return nil
	}
	return s.backing.Placeholders(prefix)
}

// Len returns the number of registered placeholders.
func (s *Store) Len() int {
	return len(s.Under(""))
}

// Flush persists the backing records when the backing store supports it.
func (s *Store) Flush() error {
	if f, ok := s.backing.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
