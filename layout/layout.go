// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package layout implements the pure block address calculus (spec §4.2):
// the mapping between logical data-block indices (as seen by the user,
// counting only data blocks) and physical block indices on the backing
// store (which also holds the header and the management blocks
// interleaved among the data).
package layout

import (
	"math"

	"github.com/luxfi/sbd/arith"
	"github.com/luxfi/sbd/sbderr"
)

const (
	// BlockSize is the fixed size, in bytes, of every block on the
	// backing store, including the header block.
	BlockSize = 4096

	// TagSize is the size, in bytes, of an authentication tag.
	TagSize = 16

	// CounterSize is the size, in bytes, of a block counter.
	CounterSize = 16

	// mngRecordSize is the size of one (counter, tag) record inside a
	// management block's plaintext.
	mngRecordSize = CounterSize + TagSize

	// Fanout is F: the number of data blocks a single management block
	// covers. Unlike a data block (whose tag lives in its parent
	// management block, so its own on-disk footprint is pure
	// ciphertext), a management block is its own parent: its sealing
	// tag has nowhere else to live, so one TagSize slice of the block is
	// reserved for it. F is therefore how many (counter, tag) records
	// fit in what remains.
	Fanout = (BlockSize - TagSize) / mngRecordSize

	// MngPlaintextSize is the size, in bytes, of a management block's
	// record-array plaintext (F records), and MngTagOffset is where its
	// own sealing tag is written within the physical block, immediately
	// after the record array. The remaining bytes up to BlockSize are
	// zero padding.
	MngPlaintextSize = Fanout * mngRecordSize
	MngTagOffset     = MngPlaintextSize

	// groupSize is the physical span of one management block plus the
	// F data blocks it covers.
	groupSize = Fanout + 1

	// HeaderPhysicalIndex is the fixed physical index of the header block.
	HeaderPhysicalIndex uint32 = 0
)

// MaxPhysicalIndex bounds the physical index space so that ldp/lmp
// arithmetic never wraps a uint32; it leaves one full group of slack
// below math.MaxUint32.
var MaxPhysicalIndex uint32 = math.MaxUint32 - uint32(groupSize) - 1

// MaxLogicalBlocks is the number of logical blocks addressable within
// MaxPhysicalIndex, and MaxSize is that count expressed in bytes
// (spec's SMAX).
var (
	MaxLogicalBlocks uint64
	MaxSize          uint64
)

func init() {
	maxGroup := uint64(MaxPhysicalIndex-1) / uint64(groupSize)
	MaxLogicalBlocks = maxGroup * uint64(Fanout)
	MaxSize = MaxLogicalBlocks * uint64(BlockSize)
}

// Kind classifies a physical block.
type Kind int

const (
	KindHeader Kind = iota
	KindManagement
	KindData
)

// IsMng reports whether physical index p addresses a management block.
func IsMng(p uint32) bool {
	if p == HeaderPhysicalIndex {
		return false
	}
	return (p-1)%uint32(groupSize) == 0
}

// IsDat reports whether physical index p addresses a data block.
func IsDat(p uint32) bool {
	return p != HeaderPhysicalIndex && !IsMng(p)
}

// ClassifyPhy returns the Kind of physical block p.
func ClassifyPhy(p uint32) Kind {
	switch {
	case p == HeaderPhysicalIndex:
		return KindHeader
	case IsMng(p):
		return KindManagement
	default:
		return KindData
	}
}

// LogToPhyMng returns the physical index of the management block that
// covers logical data index l.
func LogToPhyMng(l uint32) (uint32, error) {
	const op = "layout.LogToPhyMng"
	group := l / Fanout
	span, err := arith.MulU32(op, group, uint32(groupSize))
	if err != nil {
		return 0, err
	}
	p, err := arith.AddU32(op, span, 1)
	if err != nil {
		return 0, err
	}
	if p > MaxPhysicalIndex {
		return 0, sbderr.New(op, sbderr.IllegalParam)
	}
	return p, nil
}

// LogToPhyDat returns the physical index of the data block holding
// logical data index l.
func LogToPhyDat(l uint32) (uint32, error) {
	const op = "layout.LogToPhyDat"
	pmng, err := LogToPhyMng(l)
	if err != nil {
		return 0, err
	}
	slot := l % Fanout
	p, err := arith.AddU32(op, pmng, 1+slot)
	if err != nil {
		return 0, err
	}
	if p > MaxPhysicalIndex {
		return 0, sbderr.New(op, sbderr.IllegalParam)
	}
	return p, nil
}

// PhyDatToLog is the inverse of LogToPhyDat: it returns the logical
// data index addressed by physical data-block index p. p must satisfy
// IsDat(p).
func PhyDatToLog(p uint32) (uint32, error) {
	const op = "layout.PhyDatToLog"
	if !IsDat(p) {
		return 0, sbderr.New(op, sbderr.IllegalParam)
	}
	group := (p - 1) / uint32(groupSize)
	pmng := group*uint32(groupSize) + 1
	slot := p - pmng - 1
	return group*Fanout + slot, nil
}

// MngSlot returns the slot index within its management block's record
// array that logical data index l occupies.
func MngSlot(l uint32) uint32 {
	return l % Fanout
}

// MngCovers returns the physical data-block indices covered by the
// management block at physical index pmng. pmng must satisfy IsMng.
func MngCovers(pmng uint32) ([]uint32, error) {
	const op = "layout.MngCovers"
	if !IsMng(pmng) {
		return nil, sbderr.New(op, sbderr.IllegalParam)
	}
	out := make([]uint32, 0, Fanout)
	for i := uint32(0); i < Fanout; i++ {
		p, err := arith.AddU32(op, pmng, 1+i)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// MngIndex returns the zero-based ordinal of the management block at
// physical index pmng among all management blocks (i.e. its Merkle
// leaf index).
func MngIndex(pmng uint32) (uint32, error) {
	const op = "layout.MngIndex"
	if !IsMng(pmng) {
		return 0, sbderr.New(op, sbderr.IllegalParam)
	}
	return (pmng - 1) / uint32(groupSize), nil
}
