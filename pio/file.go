// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pio

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"os"

	"github.com/luxfi/sbd/layout"
	"github.com/luxfi/sbd/sbderr"
)

// FileProvider backs a device with a plain *os.File, addressing physical
// block phy at byte offset phy*layout.BlockSize. This is the literal
// "raw file" backing store spec §1 names; there is no ecosystem library
// in the pack for block-addressed file I/O, so this wraps the standard
// library directly.
type FileProvider struct {
	f *os.File
}

// NewFileProvider wraps an already-open file. The caller retains
// ownership of f and must close it after the device is closed.
func NewFileProvider(f *os.File) *FileProvider {
	return &FileProvider{f: f}
}

func (p *FileProvider) ReadBlock(_ context.Context, phy uint32, buf []byte) error {
	const op = "pio.FileProvider.ReadBlock"
	if err := checkBuf(op, buf); err != nil {
		return err
	}
	off := int64(phy) * layout.BlockSize
	n, err := p.f.ReadAt(buf, off)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return sbderr.New(op, sbderr.MissingBlock)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return sbderr.New(op, sbderr.MissingBlock)
		}
		return sbderr.Wrap(op, sbderr.IoError, err)
	}
	return nil
}

func (p *FileProvider) WriteBlock(_ context.Context, phy uint32, buf []byte) error {
	const op = "pio.FileProvider.WriteBlock"
	if err := checkBuf(op, buf); err != nil {
		return err
	}
	off := int64(phy) * layout.BlockSize
	if _, err := p.f.WriteAt(buf, off); err != nil {
		return sbderr.Wrap(op, sbderr.IoError, err)
	}
	return nil
}

func (p *FileProvider) GenSeed(out []byte) error {
	const op = "pio.FileProvider.GenSeed"
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return sbderr.Wrap(op, sbderr.IoError, err)
	}
	return nil
}

// Sync flushes the underlying file to stable storage.
func (p *FileProvider) Sync() error {
	const op = "pio.FileProvider.Sync"
	if err := p.f.Sync(); err != nil {
		return sbderr.Wrap(op, sbderr.IoError, err)
	}
	return nil
}
