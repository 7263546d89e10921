// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package arith

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/sbd/sbderr"
)

func TestAddU32(t *testing.T) {
	tests := []struct {
		name    string
		a, b    uint32
		want    uint32
		wantErr bool
	}{
		{"normal", 10, 20, 30, false},
		{"zero", 0, 0, 0, false},
		{"max minus one", math.MaxUint32 - 1, 1, math.MaxUint32, false},
		{"overflow", math.MaxUint32, 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddU32("t", tt.a, tt.b)
			if tt.wantErr {
				require.True(t, sbderr.Is(err, sbderr.IllegalParam))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMulU32(t *testing.T) {
	tests := []struct {
		name    string
		a, b    uint32
		want    uint32
		wantErr bool
	}{
		{"normal", 128, 32, 4096, false},
		{"by zero", 100, 0, 0, false},
		{"overflow", math.MaxUint32, 2, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulU32("t", tt.a, tt.b)
			if tt.wantErr {
				require.True(t, sbderr.Is(err, sbderr.IllegalParam))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAddU64Overflow(t *testing.T) {
	_, err := AddU64("t", math.MaxUint64, 1)
	require.True(t, sbderr.Is(err, sbderr.IllegalParam))

	got, err := AddU64("t", 1, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got)
}

func TestSubU64Underflow(t *testing.T) {
	_, err := SubU64("t", 1, 2)
	require.True(t, sbderr.Is(err, sbderr.IllegalParam))

	got, err := SubU64("t", 5, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got)
}

func TestAddOff(t *testing.T) {
	tests := []struct {
		name    string
		a       uint64
		b       int64
		want    uint64
		wantErr bool
	}{
		{"positive offset", 100, 50, 150, false},
		{"negative within range", 100, -40, 60, false},
		{"negative exact", 100, -100, 0, false},
		{"negative past start", 100, -101, 0, true},
		{"positive overflow", math.MaxUint64, 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddOff("t", tt.a, tt.b)
			if tt.wantErr {
				require.True(t, sbderr.Is(err, sbderr.IllegalParam))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCeilDiv(t *testing.T) {
	require.Equal(t, uint64(1), CeilDiv(1, 4096))
	require.Equal(t, uint64(1), CeilDiv(4096, 4096))
	require.Equal(t, uint64(2), CeilDiv(4097, 4096))
	require.Equal(t, uint64(0), CeilDiv(0, 4096))
}

func TestMinU64(t *testing.T) {
	require.Equal(t, uint64(1), MinU64(1, 2))
	require.Equal(t, uint64(1), MinU64(2, 1))
	require.Equal(t, uint64(5), MinU64(5, 5))
}
