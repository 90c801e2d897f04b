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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/ssh-agentd/pkg/agentwire"
)

func testKey(version int, blob []byte, comment string) *Key {
	return &Key{Version: version, PublicBlob: blob, Comment: comment}
}

func TestAddFind(t *testing.T) {
	s := NewStore()
	k := testKey(2, []byte("blob-a"), "a")
	require.True(t, s.Add(k))
	got := s.Find(2, []byte("blob-a"))
	require.NotNil(t, got)
	assert.Equal(t, k, got)
}

func TestAddDuplicateRejected(t *testing.T) {
	s := NewStore()
	k1 := testKey(2, []byte("blob-a"), "first")
	k2 := testKey(2, []byte("blob-a"), "second")
	require.True(t, s.Add(k1))
	assert.False(t, s.Add(k2))
	assert.Equal(t, 1, s.Count(2))
	assert.Equal(t, "first", s.Find(2, []byte("blob-a")).Comment)
}

func TestFindMissingReturnsNil(t *testing.T) {
	s := NewStore()
	assert.Nil(t, s.Find(2, []byte("nope")))
}

func TestRemove(t *testing.T) {
	s := NewStore()
	k := testKey(2, []byte("blob-a"), "a")
	s.Add(k)
	got := s.Remove(2, []byte("blob-a"))
	require.NotNil(t, got)
	assert.Equal(t, k, got)
	assert.Nil(t, s.Find(2, []byte("blob-a")))
}

func TestRemoveMissingReturnsNil(t *testing.T) {
	s := NewStore()
	assert.Nil(t, s.Remove(2, []byte("nope")))
}

func TestRemoveAllDropsOnlyThatVersion(t *testing.T) {
	s := NewStore()
	s.Add(testKey(1, []byte("v1-a"), ""))
	s.Add(testKey(1, []byte("v1-b"), ""))
	s.Add(testKey(2, []byte("v2-a"), ""))

	n := s.RemoveAll(1)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, s.Count(1))
	assert.Equal(t, 1, s.Count(2))
}

func TestRemoveAllEmptyVersion(t *testing.T) {
	s := NewStore()
	s.Add(testKey(2, []byte("v2-a"), ""))
	assert.Equal(t, 0, s.RemoveAll(1))
}

func TestCountAndNth(t *testing.T) {
	s := NewStore()
	s.Add(testKey(2, []byte("c"), ""))
	s.Add(testKey(2, []byte("a"), ""))
	s.Add(testKey(2, []byte("b"), ""))

	assert.Equal(t, 3, s.Count(2))
	assert.Equal(t, []byte("a"), s.Nth(2, 0).PublicBlob)
	assert.Equal(t, []byte("b"), s.Nth(2, 1).PublicBlob)
	assert.Equal(t, []byte("c"), s.Nth(2, 2).PublicBlob)
	assert.Nil(t, s.Nth(2, 3))
	assert.Nil(t, s.Nth(2, -1))
}

// Invariant 1: list output is sorted by (version, public_blob) ascending.
func TestListOrderingAcrossVersions(t *testing.T) {
	s := NewStore()
	s.Add(testKey(2, []byte("zzz"), ""))
	s.Add(testKey(1, []byte("aaa"), ""))
	s.Add(testKey(1, []byte("bbb"), ""))
	s.Add(testKey(2, []byte("aaa"), ""))

	require.Len(t, s.keys, 4)
	assert.Equal(t, 1, s.keys[0].Version)
	assert.Equal(t, []byte("aaa"), s.keys[0].PublicBlob)
	assert.Equal(t, 1, s.keys[1].Version)
	assert.Equal(t, []byte("bbb"), s.keys[1].PublicBlob)
	assert.Equal(t, 2, s.keys[2].Version)
	assert.Equal(t, []byte("aaa"), s.keys[2].PublicBlob)
	assert.Equal(t, 2, s.keys[3].Version)
	assert.Equal(t, []byte("zzz"), s.keys[3].PublicBlob)
}

// Invariant 4: enumeration by version returns a contiguous run.
func TestEnumerationIsContiguous(t *testing.T) {
	s := NewStore()
	s.Add(testKey(2, []byte("m"), ""))
	s.Add(testKey(1, []byte("x"), ""))
	s.Add(testKey(2, []byte("a"), ""))
	s.Add(testKey(1, []byte("y"), ""))

	seenV1 := false
	seenV2 := false
	for _, k := range s.keys {
		if k.Version == 1 {
			seenV1 = true
			require.False(t, seenV2, "version 1 entry found after version 2 entries started")
		} else {
			seenV2 = true
		}
	}
	_ = seenV1
}

func TestListSerializedV2(t *testing.T) {
	s := NewStore()
	s.Add(testKey(2, []byte("blob-1"), "first key"))
	s.Add(testKey(2, []byte("blob-2"), "second key"))

	e := agentwire.NewEncoder()
	s.ListSerialized(2, e)

	d := agentwire.NewDecoder(e.Bytes())
	n := d.GetUint32()
	require.Equal(t, uint32(2), n)
	blob1 := d.GetString()
	comment1 := d.GetString()
	blob2 := d.GetString()
	comment2 := d.GetString()
	require.False(t, d.Failed())
	assert.Equal(t, []byte("blob-1"), blob1)
	assert.Equal(t, "first key", string(comment1))
	assert.Equal(t, []byte("blob-2"), blob2)
	assert.Equal(t, "second key", string(comment2))
}

func TestListSerializedEmpty(t *testing.T) {
	s := NewStore()
	e := agentwire.NewEncoder()
	s.ListSerialized(2, e)
	d := agentwire.NewDecoder(e.Bytes())
	assert.Equal(t, uint32(0), d.GetUint32())
}

// Round-trip law, checked through Find: after add(k) the store holds
// k; after remove(pub(k)) it does not.
func TestAddListRemoveRoundTrip(t *testing.T) {
	s := NewStore()
	k := testKey(2, []byte("blob-a"), "a")
	s.Add(k)
	assert.Equal(t, k, s.Find(2, []byte("blob-a")))

	s.Remove(2, []byte("blob-a"))
	assert.Nil(t, s.Find(2, []byte("blob-a")))
}

// Round-trip law: add(k); add(k) -> (true, false).
func TestAddTwiceReturnsTrueThenFalse(t *testing.T) {
	s := NewStore()
	k := testKey(2, []byte("blob-a"), "a")
	assert.True(t, s.Add(k))
	assert.False(t, s.Add(testKey(2, []byte("blob-a"), "a")))
}
