// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of ssh-agentd.
//
// ssh-agentd is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package agentkeys

import (
	"bytes"
	"sort"
	"sync"

	"github.com/jeremyhahn/ssh-agentd/pkg/agentwire"
)

// Store is the process-wide, sorted collection of loaded keys. It is
// ordered by (Version, PublicBlob) with PublicBlob compared as raw
// bytes (invariant 1), and rejects duplicate (Version, PublicBlob)
// pairs without mutation (invariant 2). A sorted slice with
// sort.Search binary search is used rather than a tree: at the scale
// of an agent's key ring (single digits to low hundreds of keys) it
// beats a tree in code size and cache behavior.
//
// All mutations happen between ConnectionFSM suspension points (see
// the concurrency model), so Store's own mutex exists only to protect
// against incidental concurrent callers (metrics readers, tests); it
// is not load-bearing for the protocol's linearizability guarantee.
type Store struct {
	mu   sync.RWMutex
	keys []*Key
}

// NewStore returns an empty key store.
func NewStore() *Store {
	return &Store{}
}

// less reports whether a sorts strictly before b under (Version,
// PublicBlob).
func less(aVersion int, aBlob []byte, bVersion int, bBlob []byte) bool {
	if aVersion != bVersion {
		return aVersion < bVersion
	}
	return bytes.Compare(aBlob, bBlob) < 0
}

// searchIndex returns the index of the first entry not less than
// (version, blob), and whether that entry is an exact match.
func (s *Store) searchIndex(version int, blob []byte) (int, bool) {
	i := sort.Search(len(s.keys), func(i int) bool {
		return !less(s.keys[i].Version, s.keys[i].PublicBlob, version, blob)
	})
	if i < len(s.keys) && s.keys[i].Version == version && bytes.Equal(s.keys[i].PublicBlob, blob) {
		return i, true
	}
	return i, false
}

// Add inserts key. It returns false and does not take ownership if an
// entry with the same (Version, PublicBlob) is already present; per
// the duplicate policy, the caller must then Zero the rejected key.
func (s *Store) Add(key *Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, found := s.searchIndex(key.Version, key.PublicBlob)
	if found {
		return false
	}
	s.keys = append(s.keys, nil)
	copy(s.keys[i+1:], s.keys[i:])
	s.keys[i] = key
	return true
}

// Find returns the entry matching (version, publicBlob), or nil.
func (s *Store) Find(version int, publicBlob []byte) *Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, found := s.searchIndex(version, publicBlob)
	if !found {
		return nil
	}
	return s.keys[i]
}

// Remove deletes and returns the entry matching (version,
// publicBlob), or nil if absent.
func (s *Store) Remove(version int, publicBlob []byte) *Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, found := s.searchIndex(version, publicBlob)
	if !found {
		return nil
	}
	k := s.keys[i]
	s.keys = append(s.keys[:i], s.keys[i+1:]...)
	return k
}

// RemoveAll drops every entry of the given version and returns the
// count removed. Enumeration by version is a contiguous run
// (invariant 4), so this is a single slice splice.
func (s *Store) RemoveAll(version int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	lo := sort.Search(len(s.keys), func(i int) bool { return s.keys[i].Version >= version })
	hi := sort.Search(len(s.keys), func(i int) bool { return s.keys[i].Version > version })
	n := hi - lo
	if n <= 0 {
		return 0
	}
	for _, k := range s.keys[lo:hi] {
		k.Zero()
	}
	s.keys = append(s.keys[:lo], s.keys[hi:]...)
	return n
}

// Count returns the number of entries of the given version.
func (s *Store) Count(version int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := sort.Search(len(s.keys), func(i int) bool { return s.keys[i].Version >= version })
	hi := sort.Search(len(s.keys), func(i int) bool { return s.keys[i].Version > version })
	return hi - lo
}

// Nth returns the i-th entry (0-indexed, sort order) of the given
// version, or nil if out of range.
func (s *Store) Nth(version int, i int) *Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := sort.Search(len(s.keys), func(j int) bool { return s.keys[j].Version >= version })
	hi := sort.Search(len(s.keys), func(j int) bool { return s.keys[j].Version > version })
	idx := lo + i
	if i < 0 || idx >= hi {
		return nil
	}
	return s.keys[idx]
}

// ListSerialized writes the version-specific list reply body (§6):
// uint32 n followed by n entries, each a public-blob-shaped field
// (raw bits||e||n for SSH-1, a length-prefixed string for SSH-2)
// followed by the string comment.
func (s *Store) ListSerialized(version int, e *agentwire.Encoder) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lo := sort.Search(len(s.keys), func(i int) bool { return s.keys[i].Version >= version })
	hi := sort.Search(len(s.keys), func(i int) bool { return s.keys[i].Version > version })

	e.PutUint32(uint32(hi - lo))
	for _, k := range s.keys[lo:hi] {
		if version == 1 {
			e.PutData(k.PublicBlob)
		} else {
			e.PutString(k.PublicBlob)
		}
		e.PutString([]byte(k.Comment))
	}
}
