// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/sbd/layout"
	"github.com/luxfi/sbd/sbderr"
)

func TestMemProviderMissingThenWrittenBlock(t *testing.T) {
	p := NewMemProvider()
	ctx := context.Background()
	buf := make([]byte, layout.BlockSize)

	err := p.ReadBlock(ctx, 3, buf)
	require.True(t, sbderr.Is(err, sbderr.MissingBlock))

	want := bytes.Repeat([]byte{0x7A}, layout.BlockSize)
	require.NoError(t, p.WriteBlock(ctx, 3, want))

	got := make([]byte, layout.BlockSize)
	require.NoError(t, p.ReadBlock(ctx, 3, got))
	require.Equal(t, want, got)
}

func TestMemProviderRejectsWrongSizedBuffer(t *testing.T) {
	p := NewMemProvider()
	ctx := context.Background()
	err := p.WriteBlock(ctx, 0, make([]byte, 10))
	require.True(t, sbderr.Is(err, sbderr.IllegalParam))
}

func TestFileProviderMissingThenWrittenBlock(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "device.sbd"))
	require.NoError(t, err)
	defer f.Close()

	p := NewFileProvider(f)
	ctx := context.Background()
	buf := make([]byte, layout.BlockSize)

	err = p.ReadBlock(ctx, 0, buf)
	require.True(t, sbderr.Is(err, sbderr.MissingBlock))

	want := bytes.Repeat([]byte{0x5C}, layout.BlockSize)
	require.NoError(t, p.WriteBlock(ctx, 1, want))

	got := make([]byte, layout.BlockSize)
	require.NoError(t, p.ReadBlock(ctx, 1, got))
	require.Equal(t, want, got)
	require.NoError(t, p.Sync())
}

func TestGenSeedFillsBuffer(t *testing.T) {
	p := NewMemProvider()
	out := make([]byte, 32)
	require.NoError(t, p.GenSeed(out))
	require.NotEqual(t, make([]byte, 32), out)
}
