// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pio

import (
	"context"
	"sync"

	"github.com/luxfi/sbd/sbderr"
)

// MemProvider is an in-memory Provider used by tests and by callers
// that want an SBD device entirely in RAM.
type MemProvider struct {
	mu     sync.RWMutex
	blocks map[uint32][]byte
	seed   byte
}

// NewMemProvider returns an empty in-memory Provider. GenSeed output is
// deterministic (a counting byte stream) so tests are reproducible;
// production callers needing real randomness should use FileProvider or
// KVProvider instead.
func NewMemProvider() *MemProvider {
	return &MemProvider{blocks: make(map[uint32][]byte)}
}

func (p *MemProvider) ReadBlock(_ context.Context, phy uint32, buf []byte) error {
	const op = "pio.MemProvider.ReadBlock"
	if err := checkBuf(op, buf); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	blk, ok := p.blocks[phy]
	if !ok {
		return sbderr.New(op, sbderr.MissingBlock)
	}
	copy(buf, blk)
	return nil
}

func (p *MemProvider) WriteBlock(_ context.Context, phy uint32, buf []byte) error {
	const op = "pio.MemProvider.WriteBlock"
	if err := checkBuf(op, buf); err != nil {
		return err
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks[phy] = cp
	return nil
}

func (p *MemProvider) GenSeed(out []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range out {
		p.seed++
		out[i] = p.seed
	}
	return nil
}
