// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sbd provides a clean, single-import interface to the secure
// block device: a byte-addressable, file-like view over an untrusted
// pio.Provider that guarantees confidentiality, integrity, authenticity
// and freshness at the block level (spec §4.7).
//
// A Device is opened with a caller-supplied master key and an expected
// Merkle root; every subsequent PRead/PWrite is served through the
// block layer (blocklayer.Layer), which authenticates each block it
// touches against that root. Any authentication failure poisons the
// handle: every operation after a fatal error returns sbderr.Poisoned
// until the handle is closed.
package sbd

import (
	"context"
	"sync/atomic"

	"github.com/luxfi/sbd/arith"
	"github.com/luxfi/sbd/blocklayer"
	"github.com/luxfi/sbd/cache"
	"github.com/luxfi/sbd/config"
	"github.com/luxfi/sbd/crypto"
	"github.com/luxfi/sbd/header"
	"github.com/luxfi/sbd/layout"
	"github.com/luxfi/sbd/log"
	"github.com/luxfi/sbd/merkle"
	"github.com/luxfi/sbd/metrics"
	"github.com/luxfi/sbd/pio"
	"github.com/luxfi/sbd/sbderr"
)

// Type aliases for a single-import experience: callers need only
// import github.com/luxfi/sbd for the whole public surface.
type (
	Kind       = crypto.Kind
	Counter    = crypto.Counter
	Hash       = merkle.Hash
	Config     = config.Config
	Provider   = pio.Provider
	Logger     = log.Logger
	Metrics    = metrics.Metrics
	ErrKind    = sbderr.Kind
	SeekWhence = int
)

const (
	KindNone = crypto.KindNone
	KindSIV  = crypto.KindSIV
	KindOCB  = crypto.KindOCB
	KindHMAC = crypto.KindHMAC
)

// Seek whence values, mirroring os.Seek's SeekStart/SeekCurrent/SeekEnd.
const (
	SeekStart SeekWhence = iota
	SeekCurrent
	SeekEnd
)

// Device is an opened secure block device. Per spec, at most one API
// call may be in flight on a given handle at a time; that is a caller
// contract, not something Device enforces with a lock, matching the
// original C library this was ported from. Poisoned is the one
// exception: it is safe to call from any goroutine at any time, which
// is why it alone is backed by atomic.Bool rather than a plain bool.
type Device struct {
	provider pio.Provider
	cache    *cache.Cache
	bl       *blocklayer.Layer
	cfg      config.Config
	metrics  *metrics.Metrics
	logger   log.Logger

	nonce      []byte
	dataKey    []byte // unwrapped data key, re-sealed into the header on every Sync
	cipherKind Kind   // on-disk cipher; the header's own value always wins over cfg
	size       uint64 // logical byte size, mutated in memory, flushed at Sync
	pos        uint64 // PRead/PWrite-independent cursor for Read/Write/LSeek

	poisoned atomic.Bool
}

// Open opens or creates a device backed by provider. masterKey must be
// crypto.MasterKeySize bytes. On a fresh provider (no header block ever
// written) Open creates a new device using cfg and ignores expectedRoot
// (an empty tree has nothing to verify against). On an existing device,
// Open authenticates the header under masterKey, rebuilds the Merkle
// tree from every management block, and verifies it against
// expectedRoot before returning a handle.
//
// A wrong masterKey or a tampered header on an existing device returns
// sbderr.Kind CryptoFail (the two cannot be told apart); a tampered
// management block returns TagMismatch, and a root mismatch against
// expectedRoot returns RootMismatch. In all these cases no Device is
// returned.
func Open(ctx context.Context, provider pio.Provider, cfg config.Config, masterKey []byte, expectedRoot Hash) (*Device, error) {
	const op = "sbd.Open"
	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	mctx, err := crypto.NewMasterContext(masterKey)
	if err != nil {
		return nil, err
	}
	defer mctx.Destroy()

	buf := make([]byte, layout.BlockSize)
	readErr := provider.ReadBlock(ctx, layout.HeaderPhysicalIndex, buf)
	switch {
	case sbderr.Is(readErr, sbderr.MissingBlock):
		return createFresh(ctx, provider, cfg, mctx, masterKey)
	case readErr != nil:
		return nil, readErr
	}

	hdr, err := header.Decode(mctx, buf, cfg.MaxWrappedKeySize)
	if err != nil {
		// header.Decode reports every authentication failure as
		// TagMismatch; at this call site the cause is always a wrong
		// masterKey (a tampered header on re-open is indistinguishable
		// from one sealed under a different key), so remap to the
		// taxonomy's dedicated kind.
		if sbderr.Is(err, sbderr.TagMismatch) {
			return nil, sbderr.Wrap(op, sbderr.CryptoFail, err)
		}
		return nil, err
	}

	return openExisting(ctx, provider, cfg, hdr, expectedRoot)
}

func createFresh(ctx context.Context, provider pio.Provider, cfg config.Config, mctx crypto.Capability, masterKey []byte) (*Device, error) {
	const op = "sbd.createFresh"

	nonce := make([]byte, 16)
	if err := provider.GenSeed(nonce); err != nil {
		return nil, err
	}
	seed := make([]byte, crypto.MaxWrappedKeySize)
	if err := provider.GenSeed(seed); err != nil {
		return nil, err
	}

	// Every compiled-in cipher kind (crypto.KindSIV/OCB/HMAC) takes a
	// 32-byte key; crypto.MaxWrappedKeySize names that shared size.
	dataKey, err := crypto.DeriveDataKey(crypto.MaxWrappedKeySize, nonce, seed)
	if err != nil {
		return nil, err
	}
	dataCap, err := crypto.New(cfg.CipherKind, dataKey)
	if err != nil {
		return nil, err
	}

	mngKey, err := crypto.DeriveManagementKey(nonce, dataKey)
	if err != nil {
		dataCap.Destroy()
		return nil, err
	}
	mngCap, err := crypto.New(crypto.KindSIV, mngKey)
	if err != nil {
		dataCap.Destroy()
		return nil, err
	}

	hdr := &header.Header{
		Cipher: cfg.CipherKind,
		Key:    dataKey,
		Size:   0,
		Nonce:  nonce,
	}
	block, err := header.Encode(mctx, hdr)
	if err != nil {
		dataCap.Destroy()
		mngCap.Destroy()
		return nil, err
	}
	if err := provider.WriteBlock(ctx, layout.HeaderPhysicalIndex, block); err != nil {
		dataCap.Destroy()
		mngCap.Destroy()
		return nil, sbderr.Wrap(op, sbderr.IoError, err)
	}

	return assemble(provider, cfg, dataCap, mngCap, nonce, dataKey, cfg.CipherKind, 0), nil
}

func openExisting(ctx context.Context, provider pio.Provider, cfg config.Config, hdr *header.Header, expectedRoot Hash) (*Device, error) {
	dataCap, err := crypto.New(hdr.Cipher, hdr.Key)
	if err != nil {
		return nil, err
	}
	mngKey, err := crypto.DeriveManagementKey(hdr.Nonce, hdr.Key)
	if err != nil {
		dataCap.Destroy()
		return nil, err
	}
	mngCap, err := crypto.New(crypto.KindSIV, mngKey)
	if err != nil {
		dataCap.Destroy()
		return nil, err
	}

	// The header's own cipher kind always wins over cfg.CipherKind: cfg
	// only picks the cipher for a brand-new device, never re-selects one
	// for an existing one (spec §4.7).
	d := assemble(provider, cfg, dataCap, mngCap, hdr.Nonce, hdr.Key, hdr.Cipher, hdr.Size)

	dataBlocks := arith.CeilDiv(hdr.Size, layout.BlockSize)
	mngCount := uint32(arith.CeilDiv(dataBlocks, uint64(layout.Fanout)))
	if err := d.bl.VerifyBlockLayer(ctx, expectedRoot, mngCount); err != nil {
		dataCap.Destroy()
		mngCap.Destroy()
		return nil, err
	}
	return d, nil
}

func assemble(provider pio.Provider, cfg config.Config, dataCap, mngCap crypto.Capability, nonce, dataKey []byte, cipherKind Kind, size uint64) *Device {
	c := cache.New(provider, cfg.CacheCapacity)
	mtr := metrics.NewNoop()
	c.SetMetrics(mtr)
	logger := log.Default()
	bl := blocklayer.New(provider, c, dataCap, mngCap, mtr, logger)

	return &Device{
		provider:   provider,
		cache:      c,
		bl:         bl,
		cfg:        cfg,
		metrics:    mtr,
		logger:     logger,
		nonce:      nonce,
		dataKey:    dataKey,
		cipherKind: cipherKind,
		size:       size,
	}
}

// Poisoned reports whether a fatal error has occurred on this handle.
// PRead, PWrite, Read, Write, LSeek and Sync return sbderr.Kind
// Poisoned once this is true.
func (d *Device) Poisoned() bool {
	return d.poisoned.Load()
}

// Size returns the device's current logical byte size.
func (d *Device) Size() uint64 {
	return d.size
}

// Root returns the current in-memory Merkle root over every management
// block's tag.
func (d *Device) Root() Hash {
	return d.bl.Root()
}

// Info summarizes a Device's current introspectable state.
type Info struct {
	Size          uint64
	CipherKind    Kind
	BlockSize     uint32
	Root          Hash
	CacheLen      int
	CacheCapacity int
	Poisoned      bool
}

// Stat returns a snapshot of the device's current state, for
// diagnostics and the cmd/sbd info subcommand.
func (d *Device) Stat() Info {
	return Info{
		Size:          d.size,
		CipherKind:    d.cipherKind,
		BlockSize:     layout.BlockSize,
		Root:          d.bl.Root(),
		CacheLen:      d.cache.Len(),
		CacheCapacity: d.cfg.CacheCapacity,
		Poisoned:      d.poisoned.Load(),
	}
}

func (d *Device) poison(err error) error {
	if err != nil && sbderr.KindOf(err).Fatal() {
		d.poisoned.Store(true)
		d.logger.Error("sbd: handle poisoned", "kind", sbderr.KindOf(err).String(), "err", err)
	}
	return err
}

func (d *Device) checkAlive(op string) error {
	if d.poisoned.Load() {
		return sbderr.New(op, sbderr.Poisoned)
	}
	return nil
}

// PRead reads up to len(buf) bytes starting at logical byte offset off,
// never reading past the device's current Size. It returns the number
// of bytes actually read.
func (d *Device) PRead(ctx context.Context, off uint64, buf []byte) (int, error) {
	const op = "sbd.Device.PRead"
	if err := d.checkAlive(op); err != nil {
		return 0, err
	}
	if off >= d.size || len(buf) == 0 {
		return 0, nil
	}

	n := len(buf)
	if rem := d.size - off; uint64(n) > rem {
		n = int(rem)
	}

	read := 0
	for read < n {
		logicalOff := off + uint64(read)
		blockIdx := uint32(logicalOff / layout.BlockSize)
		intraOff := int(logicalOff % layout.BlockSize)
		chunk := layout.BlockSize - intraOff
		if chunk > n-read {
			chunk = n - read
		}
		if err := d.bl.ReadDataBlock(ctx, blockIdx, intraOff, chunk, buf[read:read+chunk]); err != nil {
			return read, d.poison(err)
		}
		read += chunk
	}
	return read, nil
}

// PWrite writes len(buf) bytes at logical byte offset off, growing the
// device's in-memory Size if the write extends past it. The growth and
// the write itself are not durable until Sync.
func (d *Device) PWrite(ctx context.Context, off uint64, buf []byte) (int, error) {
	const op = "sbd.Device.PWrite"
	if err := d.checkAlive(op); err != nil {
		return 0, err
	}
	if len(buf) == 0 || off >= layout.MaxSize {
		return 0, nil
	}
	end, err := arith.AddU64(op, off, uint64(len(buf)))
	if err != nil {
		return 0, err
	}
	// A write that would cross MaxSize is truncated to MaxSize-off
	// rather than rejected (spec §4.7/§8).
	if end > layout.MaxSize {
		end = layout.MaxSize
	}

	n := int(end - off)
	written := 0
	for written < n {
		logicalOff := off + uint64(written)
		blockIdx := uint32(logicalOff / layout.BlockSize)
		intraOff := int(logicalOff % layout.BlockSize)
		chunk := layout.BlockSize - intraOff
		if chunk > n-written {
			chunk = n - written
		}
		if err := d.bl.WriteDataBlock(ctx, blockIdx, intraOff, chunk, buf[written:written+chunk]); err != nil {
			return written, d.poison(err)
		}
		written += chunk
	}

	if end > d.size {
		d.size = end
	}
	return written, nil
}

// LSeek repositions the device's Read/Write cursor and returns the
// resulting absolute offset. whence is one of SeekStart, SeekCurrent or
// SeekEnd; a resulting negative offset is an error.
func (d *Device) LSeek(off int64, whence SeekWhence) (uint64, error) {
	const op = "sbd.Device.LSeek"
	if err := d.checkAlive(op); err != nil {
		return 0, err
	}

	var base uint64
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = d.pos
	case SeekEnd:
		base = d.size
	default:
		return 0, sbderr.New(op, sbderr.IllegalParam)
	}

	newPos, err := arith.AddOff(op, base, off)
	if err != nil {
		return 0, err
	}
	d.pos = newPos
	return newPos, nil
}

// Read reads from the device at the current cursor, advancing it by
// the number of bytes read.
func (d *Device) Read(ctx context.Context, buf []byte) (int, error) {
	pos := d.pos
	n, err := d.PRead(ctx, pos, buf)
	if n > 0 {
		d.pos = pos + uint64(n)
	}
	return n, err
}

// Write writes to the device at the current cursor, advancing it by
// the number of bytes written.
func (d *Device) Write(ctx context.Context, buf []byte) (int, error) {
	pos := d.pos
	n, err := d.PWrite(ctx, pos, buf)
	if n > 0 {
		d.pos = pos + uint64(n)
	}
	return n, err
}

// Sync flushes every dirty block through the cache's dependency-ordered
// flush, then re-seals and writes the header under masterKey so the
// device's new Size is durable and every block behind the current
// Merkle root (see Root) is on the provider. The root itself is not
// stored in the header; the caller keeps it. A failed
// Sync poisons the handle: spec §9 treats a partially-flushed device as
// unrecoverable without a fresh Open/verify.
func (d *Device) Sync(ctx context.Context, masterKey []byte) error {
	const op = "sbd.Device.Sync"
	if err := d.checkAlive(op); err != nil {
		return err
	}
	if err := d.sealAndWriteHeader(ctx, masterKey); err != nil {
		d.poisoned.Store(true)
		d.logger.Error("sbd: handle poisoned by failed sync", "kind", sbderr.KindOf(err).String(), "err", err)
		return err
	}
	return nil
}

func (d *Device) sealAndWriteHeader(ctx context.Context, masterKey []byte) error {
	const op = "sbd.Device.Sync"
	if err := d.bl.Sync(ctx); err != nil {
		return err
	}

	mctx, err := crypto.NewMasterContext(masterKey)
	if err != nil {
		return err
	}
	defer mctx.Destroy()

	hdr := &header.Header{
		Cipher: d.cipherKind,
		Key:    d.dataKey,
		Size:   d.size,
		Nonce:  d.nonce,
	}
	block, err := header.Encode(mctx, hdr)
	if err != nil {
		return err
	}
	if err := d.provider.WriteBlock(ctx, layout.HeaderPhysicalIndex, block); err != nil {
		return sbderr.Wrap(op, sbderr.IoError, err)
	}
	return nil
}

// Close flushes the device (see Sync) and releases both capabilities'
// key material. The Device must not be used after Close returns,
// successfully or not. A handle that was already poisoned skips the
// flush (its in-memory state is no longer trustworthy) and only
// releases key material.
func (d *Device) Close(ctx context.Context, masterKey []byte) error {
	var err error
	if !d.poisoned.Load() {
		err = d.sealAndWriteHeader(ctx, masterKey)
		if err != nil {
			d.poisoned.Store(true)
		}
	}
	d.bl.Destroy()
	return err
}
