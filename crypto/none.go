// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import "github.com/luxfi/sbd/layout"

// noneCapability is the pass-through Capability: no confidentiality, no
// integrity at this layer. It exists so a caller can run the block
// layer's bookkeeping (counters, Merkle tree) without paying for
// cryptography, e.g. in tests.
type noneCapability struct{}

func newNone() Capability { return noneCapability{} }

func (noneCapability) Kind() Kind { return KindNone }

func (noneCapability) Encrypt(_ Counter, _, plaintext []byte) ([]byte, []byte, error) {
	ct := make([]byte, len(plaintext))
	copy(ct, plaintext)
	return ct, make([]byte, layout.TagSize), nil
}

func (noneCapability) Decrypt(_ Counter, _, ciphertext, _ []byte) ([]byte, error) {
	pt := make([]byte, len(ciphertext))
	copy(pt, ciphertext)
	return pt, nil
}

func (noneCapability) Destroy() {}
