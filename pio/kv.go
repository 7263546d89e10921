// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pio

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/luxfi/database"

	"github.com/luxfi/sbd/sbderr"
)

// KVProvider backs a device with a github.com/luxfi/database.Database,
// keying each physical block by its big-endian uint32 index. This lets
// an SBD device run over any opaque key-value store the rest of the
// corpus already speaks to, rather than only a raw file.
type KVProvider struct {
	db database.Database
}

// NewKVProvider wraps an already-open Database. The caller retains
// ownership and must close it after the device is closed.
func NewKVProvider(db database.Database) *KVProvider {
	return &KVProvider{db: db}
}

func keyFor(phy uint32) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, phy)
	return key
}

func (p *KVProvider) ReadBlock(_ context.Context, phy uint32, buf []byte) error {
	const op = "pio.KVProvider.ReadBlock"
	if err := checkBuf(op, buf); err != nil {
		return err
	}
	ok, err := p.db.Has(keyFor(phy))
	if err != nil {
		return sbderr.Wrap(op, sbderr.IoError, err)
	}
	if !ok {
		return sbderr.New(op, sbderr.MissingBlock)
	}
	val, err := p.db.Get(keyFor(phy))
	if err != nil {
		return sbderr.Wrap(op, sbderr.IoError, err)
	}
	if len(val) != len(buf) {
		return sbderr.New(op, sbderr.IoError)
	}
	copy(buf, val)
	return nil
}

func (p *KVProvider) WriteBlock(_ context.Context, phy uint32, buf []byte) error {
	const op = "pio.KVProvider.WriteBlock"
	if err := checkBuf(op, buf); err != nil {
		return err
	}
	val := make([]byte, len(buf))
	copy(val, buf)
	if err := p.db.Put(keyFor(phy), val); err != nil {
		return sbderr.Wrap(op, sbderr.IoError, err)
	}
	return nil
}

func (p *KVProvider) GenSeed(out []byte) error {
	const op = "pio.KVProvider.GenSeed"
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return sbderr.Wrap(op, sbderr.IoError, err)
	}
	return nil
}
