// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pio is the external I/O collaborator (spec §6): the untrusted
// backing store the block layer reads and writes fixed-size physical
// blocks against. The block layer never assumes anything about what is
// behind a Provider beyond "durable once WriteBlock returns" — a raw
// file, an encrypted volume, or a remote key-value store are all valid
// backends.
package pio

import (
	"context"

	"github.com/luxfi/sbd/layout"
	"github.com/luxfi/sbd/sbderr"
)

// Provider is the backing store abstraction every SBD device is opened
// against.
type Provider interface {
	// ReadBlock reads exactly layout.BlockSize bytes for physical index
	// phy into buf. It returns an *sbderr.Error of Kind MissingBlock if
	// phy has never been written (a fresh device), or Kind IoError on
	// any other read failure.
	ReadBlock(ctx context.Context, phy uint32, buf []byte) error

	// WriteBlock durably writes exactly layout.BlockSize bytes from buf
	// to physical index phy. It returns an *sbderr.Error of Kind IoError
	// on failure.
	WriteBlock(ctx context.Context, phy uint32, buf []byte) error

	// GenSeed fills out with fresh random seed material used to derive
	// per-device data keys (crypto.DeriveDataKey).
	GenSeed(out []byte) error
}

func checkBuf(op string, buf []byte) error {
	if len(buf) != layout.BlockSize {
		return sbderr.New(op, sbderr.IllegalParam)
	}
	return nil
}
