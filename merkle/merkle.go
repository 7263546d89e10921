// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package merkle implements the binary Merkle tree over management-block
// tags (spec §4.3): one leaf per management block, combined bottom-up
// into a single root that authenticates every tag in the device. A leaf
// or internal node never leaves its own domain, so a leaf hash can never
// be replayed as an internal node hash or vice versa.
package merkle

import (
	"sync"

	"github.com/zeebo/blake3"

	"github.com/luxfi/sbd/layout"
	"github.com/luxfi/sbd/sbderr"
)

// Hash is a domain-separated BLAKE3 digest: a leaf hash, an internal
// node hash, or the empty-tree sentinel.
type Hash [32]byte

var (
	leafPrefix  = []byte("sbd-leaf")
	nodePrefix  = []byte("sbd-node")
	emptyPrefix = []byte("sbd-empty")
)

func sum(parts ...[]byte) Hash {
	h := blake3.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func be32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func leafHash(index uint32, tag [layout.TagSize]byte) Hash {
	return sum(leafPrefix, be32(index), tag[:])
}

func nodeHash(left, right Hash) Hash {
	return sum(nodePrefix, left[:], right[:])
}

func emptyHash() Hash {
	return sum(emptyPrefix)
}

// Tree is the array-backed binary Merkle tree over management-block
// tags. Leaves are indexed by a management block's ordinal (see
// layout.MngIndex), so Add must be called in index order starting from
// zero and Update may target any already-added leaf.
//
// Root recomputes lazily: Add/Update only mark the tree dirty, and the
// full bottom-up pass runs on the next Root/VerifyAgainst call, so a
// burst of writes pays for one recompute instead of one per write.
type Tree struct {
	mu     sync.RWMutex
	leaves []Hash
	root   Hash
	dirty  bool
}

// New returns an empty tree whose Root is the domain-separated empty
// sentinel, never the zero Hash.
func New() *Tree {
	return &Tree{root: emptyHash()}
}

// Add appends a new leaf for the next management-block index and
// returns that index.
func (t *Tree) Add(tag [layout.TagSize]byte) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := uint32(len(t.leaves))
	t.leaves = append(t.leaves, leafHash(idx, tag))
	t.dirty = true
	return idx
}

// Update replaces the tag bound to an existing leaf.
func (t *Tree) Update(index uint32, tag [layout.TagSize]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(index) >= len(t.leaves) {
		return sbderr.New("merkle.Tree.Update", sbderr.IllegalParam)
	}
	t.leaves[index] = leafHash(index, tag)
	t.dirty = true
	return nil
}

// Len reports the number of leaves (management blocks) in the tree.
func (t *Tree) Len() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint32(len(t.leaves))
}

// Root returns the current tree root, recomputing first if any Add or
// Update has happened since the last call.
func (t *Tree) Root() Hash {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dirty {
		t.root = computeRoot(t.leaves)
		t.dirty = false
	}
	return t.root
}

// VerifyAgainst reports whether the tree's current root equals want,
// e.g. the root stored in the on-disk header.
func (t *Tree) VerifyAgainst(want Hash) bool {
	return t.Root() == want
}

func computeRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return emptyHash()
	}
	level := make([]Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, nodeHash(level[i], level[i+1]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}
