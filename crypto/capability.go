// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crypto implements the pluggable block-level authenticated
// encryption capability (spec §4.1). Data blocks are sealed through one
// of four interchangeable Capability implementations selected by the
// on-disk header's cipher Kind: None, SIV, OCB or HMAC. Management
// blocks and the header are always sealed through SIV, whatever that
// Kind is. Freshness comes from the caller-supplied block counter,
// never from a random IV: no implementation here draws a random nonce,
// and OCB's nonce is derived from the counter.
package crypto

import (
	"github.com/luxfi/sbd/layout"
)

// Kind identifies which Capability implementation seals a device's
// data blocks. It is stored verbatim in the header.
type Kind uint32

const (
	KindNone Kind = iota
	KindSIV
	KindOCB
	KindHMAC
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSIV:
		return "siv"
	case KindOCB:
		return "ocb"
	case KindHMAC:
		return "hmac"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the four compiled-in kinds.
func (k Kind) Valid() bool {
	return k <= KindHMAC
}

// AAD builds the associated data all four Capability implementations
// bind their tag to: the physical block index concatenated with the
// block's counter, exactly as spec §4.1 mandates, so that a replayed or
// relocated block fails authentication.
func AAD(phy uint32, ctr Counter) []byte {
	out := make([]byte, 4+layout.CounterSize)
	out[0] = byte(phy >> 24)
	out[1] = byte(phy >> 16)
	out[2] = byte(phy >> 8)
	out[3] = byte(phy)
	copy(out[4:], ctr[:])
	return out
}

// Counter is the 128-bit little-endian per-block counter described in
// spec §3. It is monotonically non-decreasing per block and strictly
// increases on every successful write.
type Counter [layout.CounterSize]byte

// Zero is the initial counter value of an unwritten block.
var Zero Counter

// IsZero reports whether c is the initial, never-written counter.
func (c Counter) IsZero() bool { return c == Zero }

// Next returns c+1, or ok=false if incrementing would wrap (spec's
// CounterOverflow, a fatal condition).
func (c Counter) Next() (next Counter, ok bool) {
	next = c
	for i := 0; i < len(next); i++ {
		next[i]++
		if next[i] != 0 {
			return next, true
		}
	}
	// wrapped all the way around to zero: overflow
	return Zero, false
}

// Capability is the block-level authenticated encryption primitive
// described in spec §4.1. For a data block, plaintext and ciphertext
// are layout.BlockSize bytes; management blocks pass
// layout.MngPlaintextSize bytes and the header passes its key or no
// plaintext at all. tag is always exactly layout.TagSize bytes.
type Capability interface {
	// Kind reports which implementation this is, for header sealing.
	Kind() Kind

	// Encrypt seals plaintext under ctr, binding it to aad via AAD.
	Encrypt(ctr Counter, aad, plaintext []byte) (ciphertext, tag []byte, err error)

	// Decrypt opens ciphertext under ctr and tag, binding it to aad via
	// AAD. A tag mismatch returns an *sbderr.Error of Kind TagMismatch.
	Decrypt(ctr Counter, aad, ciphertext, tag []byte) (plaintext []byte, err error)

	// Destroy overwrites any retained key material. After Destroy, the
	// Capability must not be used again.
	Destroy()
}

// New constructs the Capability for kind, keyed by key. key's required
// length depends on kind; see each implementation's KeySize constant.
func New(kind Kind, key []byte) (Capability, error) {
	switch kind {
	case KindNone:
		return newNone(), nil
	case KindSIV:
		return newSIV(key)
	case KindOCB:
		return newOCB(key)
	case KindHMAC:
		return newHMAC(key)
	default:
		return nil, unsupported(kind)
	}
}
