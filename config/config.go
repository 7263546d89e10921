// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the tunables an SBD device is opened with.
// Everything spec-mandated and fixed (block size, tag size, counter
// size, fanout) lives in layout as untunable constants; only the
// choices a caller actually gets to make live here, following the
// teacher's own split between fixed protocol constants and a
// validated Parameters struct (config/config.go).
package config

import (
	"github.com/luxfi/sbd/crypto"
)

// Config holds the parameters a caller chooses when opening a device.
type Config struct {
	// CacheCapacity is the number of layout.BlockSize blocks the write-
	// back cache (cache.Cache) may hold resident at once.
	CacheCapacity int

	// CipherKind selects the Capability used to seal data blocks.
	// Management blocks and the header always use SIV regardless of
	// this setting (see DESIGN.md's Open Question decisions).
	CipherKind crypto.Kind

	// MaxWrappedKeySize bounds the wrapped data key stored in the
	// header; a header claiming a larger key is rejected before any
	// allocation proportional to an attacker-controlled length.
	MaxWrappedKeySize int
}

// Default returns the configuration used when a caller supplies none:
// a modest cache, AES-SIV-256 data encryption, and the largest wrapped-
// key size any compiled-in cipher needs.
func Default() Config {
	return Config{
		CacheCapacity:     256,
		CipherKind:        crypto.KindSIV,
		MaxWrappedKeySize: crypto.MaxWrappedKeySize,
	}
}

// Valid reports whether c is safe to open a device with.
func (c Config) Valid() error {
	if c.CacheCapacity < 1 {
		return ErrInvalidCacheCapacity
	}
	if !c.CipherKind.Valid() {
		return ErrInvalidCipherKind
	}
	if c.MaxWrappedKeySize < 1 || c.MaxWrappedKeySize > crypto.MaxWrappedKeySize {
		return ErrInvalidMaxWrappedKeySize
	}
	return nil
}
