// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/luxfi/sbd/layout"
)

// HMACKeySize is the key length required by the HMAC capability.
const HMACKeySize = 32

// hmacCapability leaves plaintext in the clear and authenticates it
// with HMAC-SHA256, truncated to layout.TagSize bytes. It provides no
// confidentiality: a plaintext round-trip is its own "decryption".
// HMAC-SHA256 is a standard-library primitive (crypto/hmac,
// crypto/sha256); there is no third-party library to prefer for it.
type hmacCapability struct {
	key []byte
}

func newHMAC(key []byte) (Capability, error) {
	if len(key) != HMACKeySize {
		return nil, illegalParam("crypto.newHMAC")
	}
	k := make([]byte, HMACKeySize)
	copy(k, key)
	return &hmacCapability{key: k}, nil
}

func (c *hmacCapability) Kind() Kind { return KindHMAC }

func (c *hmacCapability) mac(aad, data []byte) []byte {
	m := hmac.New(sha256.New, c.key)
	m.Write(aad)
	m.Write(data)
	sum := m.Sum(nil)
	return sum[:layout.TagSize]
}

func (c *hmacCapability) Encrypt(_ Counter, aad, plaintext []byte) ([]byte, []byte, error) {
	ct := make([]byte, len(plaintext))
	copy(ct, plaintext)
	return ct, c.mac(aad, ct), nil
}

func (c *hmacCapability) Decrypt(_ Counter, aad, ciphertext, tag []byte) ([]byte, error) {
	const op = "crypto.hmacCapability.Decrypt"
	want := c.mac(aad, ciphertext)
	if subtle.ConstantTimeCompare(want, tag) != 1 {
		return nil, tagMismatch(op)
	}
	pt := make([]byte, len(ciphertext))
	copy(pt, ciphertext)
	return pt, nil
}

func (c *hmacCapability) Destroy() {
	for i := range c.key {
		c.key[i] = 0
	}
}
