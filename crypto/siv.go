// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"crypto/aes"

	sivgo "github.com/secure-io/siv-go"

	"github.com/luxfi/sbd/layout"
)

// SIVKeySize is the key length for AES-SIV-256 (two 128-bit AES keys),
// matching the original C library's unconditional use of SIV_256 for
// both header sealing and, when selected, data-block sealing.
const SIVKeySize = 32

// sivNonce is the fixed, all-zero nonce passed to the underlying
// cipher.AEAD. AES-SIV is misuse-resistant and nonce-free by design:
// all of its uniqueness comes from binding the block counter into the
// associated data (see AAD), exactly as spec §4.1 requires ("random-
// IV-free in all variants because freshness comes from block_ctr").
var sivNonce [16]byte

// sivCapability wraps AES-SIV-256, keyed once at construction. Its
// Encrypt is deterministic given (ctr, aad, plaintext), as spec §4.1
// requires for the SIV variant.
type sivCapability struct {
	aead sivgo.AEAD
	key  []byte
}

func newSIV(key []byte) (Capability, error) {
	const op = "crypto.newSIV"
	if len(key) != SIVKeySize {
		return nil, illegalParam(op)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cryptoInit(op, err)
	}
	aead, err := sivgo.NewCMAC(block)
	if err != nil {
		return nil, cryptoInit(op, err)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &sivCapability{aead: aead, key: k}, nil
}

func (c *sivCapability) Kind() Kind { return KindSIV }

func (c *sivCapability) Encrypt(_ Counter, aad, plaintext []byte) ([]byte, []byte, error) {
	full := c.aead.Seal(nil, sivNonce[:], plaintext, aad)
	ct := full[:len(plaintext)]
	tag := full[len(plaintext):]
	return append([]byte(nil), ct...), append([]byte(nil), tag[:layout.TagSize]...), nil
}

func (c *sivCapability) Decrypt(_ Counter, aad, ciphertext, tag []byte) ([]byte, error) {
	const op = "crypto.sivCapability.Decrypt"
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	pt, err := c.aead.Open(nil, sivNonce[:], sealed, aad)
	if err != nil {
		return nil, tagMismatch(op)
	}
	return pt, nil
}

func (c *sivCapability) Destroy() {
	for i := range c.key {
		c.key[i] = 0
	}
}
