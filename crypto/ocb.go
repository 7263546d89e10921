// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"crypto/aes"

	"github.com/cloudflare/circl/cipher/ocb"

	"github.com/luxfi/sbd/layout"
)

// OCBKeySize is the AES-256 key length used for the OCB capability.
const OCBKeySize = 32

// ocbCapability wraps AES-OCB (cloudflare/circl/cipher/ocb), an AEAD
// mode. Unlike SIV it does require a nonce, so the nonce is derived
// from the block counter rather than drawn from randomness: freshness
// still comes entirely from the counter, never from an IV generator.
type ocbCapability struct {
	aead ocb.AEAD
	key  []byte
}

func newOCB(key []byte) (Capability, error) {
	const op = "crypto.newOCB"
	if len(key) != OCBKeySize {
		return nil, illegalParam(op)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cryptoInit(op, err)
	}
	aead, err := ocb.New(block, block.BlockSize())
	if err != nil {
		return nil, cryptoInit(op, err)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &ocbCapability{aead: aead, key: k}, nil
}

func (c *ocbCapability) Kind() Kind { return KindOCB }

// ocbNonce derives OCB's required nonce from the low bytes of the
// block counter, so the nonce is a pure function of the same freshness
// source (the counter) that the rest of the pipeline relies on.
func ocbNonce(ctr Counter, size int) []byte {
	n := make([]byte, size)
	copy(n, ctr[:size])
	return n
}

func (c *ocbCapability) Encrypt(ctr Counter, aad, plaintext []byte) ([]byte, []byte, error) {
	nonce := ocbNonce(ctr, c.aead.NonceSize())
	full := c.aead.Seal(nil, nonce, plaintext, aad)
	ct := full[:len(plaintext)]
	tag := full[len(plaintext):]
	return append([]byte(nil), ct...), append([]byte(nil), tag[:layout.TagSize]...), nil
}

func (c *ocbCapability) Decrypt(ctr Counter, aad, ciphertext, tag []byte) ([]byte, error) {
	const op = "crypto.ocbCapability.Decrypt"
	nonce := ocbNonce(ctr, c.aead.NonceSize())
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	pt, err := c.aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, tagMismatch(op)
	}
	return pt, nil
}

func (c *ocbCapability) Destroy() {
	for i := range c.key {
		c.key[i] = 0
	}
}
