// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package layout

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/sbd/sbderr"
)

func TestFanoutConstant(t *testing.T) {
	require.Equal(t, 127, Fanout)
	require.LessOrEqual(t, MngTagOffset+TagSize, BlockSize)
}

func TestClassifyPhy(t *testing.T) {
	require.Equal(t, KindHeader, ClassifyPhy(0))
	require.Equal(t, KindManagement, ClassifyPhy(1))
	require.Equal(t, KindData, ClassifyPhy(2))
	require.Equal(t, KindData, ClassifyPhy(1+Fanout))
	require.Equal(t, KindManagement, ClassifyPhy(1+uint32(groupSize)))
}

func TestLogToPhyRoundTrip(t *testing.T) {
	tests := []uint32{0, 1, Fanout - 1, Fanout, Fanout + 1, 2*Fanout - 1, 2 * Fanout, 1000 * Fanout}
	for _, l := range tests {
		pdat, err := LogToPhyDat(l)
		require.NoError(t, err)
		require.True(t, IsDat(pdat))

		back, err := PhyDatToLog(pdat)
		require.NoError(t, err)
		require.Equal(t, l, back)
	}
}

func TestLogToPhyMngGrouping(t *testing.T) {
	pmng0, err := LogToPhyMng(0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), pmng0)

	for l := uint32(0); l < Fanout; l++ {
		pmng, err := LogToPhyMng(l)
		require.NoError(t, err)
		require.Equal(t, pmng0, pmng)
	}

	pmng1, err := LogToPhyMng(Fanout)
	require.NoError(t, err)
	require.Equal(t, pmng0+uint32(groupSize), pmng1)
}

func TestMngCovers(t *testing.T) {
	covers, err := MngCovers(1)
	require.NoError(t, err)
	require.Len(t, covers, Fanout)
	for i, p := range covers {
		require.True(t, IsDat(p))
		l, err := PhyDatToLog(p)
		require.NoError(t, err)
		require.Equal(t, uint32(i), l)
	}
}

func TestMngCoversRejectsDataBlock(t *testing.T) {
	_, err := MngCovers(2)
	require.True(t, sbderr.Is(err, sbderr.IllegalParam))
}

func TestPhyDatToLogRejectsManagementBlock(t *testing.T) {
	_, err := PhyDatToLog(1)
	require.True(t, sbderr.Is(err, sbderr.IllegalParam))
}

func TestMngSlot(t *testing.T) {
	require.Equal(t, uint32(0), MngSlot(0))
	require.Equal(t, uint32(0), MngSlot(Fanout))
	require.Equal(t, uint32(5), MngSlot(Fanout+5))
}

func TestMngIndex(t *testing.T) {
	idx, err := MngIndex(1)
	require.NoError(t, err)
	require.Equal(t, uint32(0), idx)

	pmng1, err := LogToPhyMng(Fanout)
	require.NoError(t, err)
	idx, err = MngIndex(pmng1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), idx)
}

func TestLogToPhyOverflow(t *testing.T) {
	require.Greater(t, uint64(math.MaxUint32), MaxLogicalBlocks)
	_, err := LogToPhyDat(math.MaxUint32)
	require.True(t, sbderr.Is(err, sbderr.IllegalParam))
}

func TestIsMngHeaderExcluded(t *testing.T) {
	require.False(t, IsMng(0))
	require.False(t, IsDat(0))
}
