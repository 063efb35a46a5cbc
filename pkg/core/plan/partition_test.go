// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMethod(t *testing.T) {
	for m := Unknown; m < NumMethods; m++ {
		got, err := MethodString(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := MethodString("Sideways")
	require.Error(t, err)
	assert.Equal(t, "Method(17)", Method(17).String())
}

func TestNewGroups(t *testing.T) {
	dims, perm := []int{4, 5, 6}, []int{2, 0, 1}
	g := newGroups(1, 1, dims, perm)
	assert.Equal(t, 1, g.SizeMm)
	assert.Equal(t, 4, g.VolMm)
	assert.Equal(t, 6, g.VolMk)
	assert.Equal(t, 2, g.SizeMmk)
	assert.Equal(t, 24, g.VolMmk)
	assert.Equal(t, 1, g.SizeMkBar)
	assert.Equal(t, 6, g.VolMkBar)
	assert.Equal(t, 1, g.SizeMbar)
	assert.Equal(t, 5, g.VolMbar)
	assert.True(t, g.IsMmk(0))
	assert.False(t, g.IsMmk(1))
	assert.True(t, g.IsMmk(2))

	// Mm and Mk overlap: Mk is the first two axes in output order, {2, 0}.
	g = newGroups(2, 2, dims, perm)
	assert.Equal(t, 3, g.SizeMmk)
	assert.Equal(t, 120, g.VolMmk)
	assert.Equal(t, 0, g.SizeMbar)
	assert.Equal(t, 1, g.VolMbar)
	assert.Equal(t, g.VolMm*g.VolMkBar, g.VolMmk)

	// Strided copy: everything is Mbar.
	g = newGroups(0, 0, dims, perm)
	assert.Equal(t, 0, g.SizeMmk)
	assert.Equal(t, 1, g.VolMmk)
	assert.Equal(t, 120, g.VolMbar)
}

func TestSplitPartition(t *testing.T) {
	for _, tc := range []struct{ splitDim, numSplit int }{
		{10, 3}, {12, 4}, {7, 7}, {1000, 33}, {5, 2},
	} {
		part := SplitPartition{SplitDim: tc.splitDim, NumSplit: tc.numSplit, VolMmkUnsplit: 3}
		next, maxExtent, minExtent := 0, 0, tc.splitDim
		for s := range tc.numSplit {
			require.Equal(t, next, part.SplitStart(s), "split %d of %v", s, tc)
			extent := part.SplitExtent(s)
			next += extent
			maxExtent = max(maxExtent, extent)
			minExtent = min(minExtent, extent)
		}
		assert.Equal(t, tc.splitDim, next, "splits of %v don't cover the axis", tc)
		assert.Equal(t, maxExtent, part.MaxSplitExtent())
		assert.LessOrEqual(t, maxExtent-minExtent, 1)
		assert.Equal(t, (tc.splitDim%tc.numSplit)*3, part.Tail())
		assert.Equal(t, part.MaxSplitExtent()*3, part.Shmem())
		assert.Equal(t, part.Shmem()*8, part.ShmemAlloc(8))
	}
	part := SplitPartition{SplitDim: 10, NumSplit: 3, VolMmkUnsplit: 1}
	assert.Equal(t, []int{4, 3, 3}, []int{part.SplitExtent(0), part.SplitExtent(1), part.SplitExtent(2)})
	assert.Equal(t, []int{0, 4, 7}, []int{part.SplitStart(0), part.SplitStart(1), part.SplitStart(2)})
	assert.Equal(t, PackedSplit, part.Method())
}

func TestPartitionShmem(t *testing.T) {
	tiled := TiledPartition{TileDim: 32, TiledVol: [2]int{100, 20}}
	assert.Equal(t, 32*32, tiled.Shmem())
	assert.Equal(t, 33*32*4, tiled.ShmemAlloc(4))
	assert.Equal(t, 32*20, tiled.VolMmkUsed())

	tiledCopy := TiledCopyPartition{TileDim: 32, TiledVol: [2]int{100, 20}}
	assert.Equal(t, 0, tiledCopy.Shmem())
	assert.Equal(t, 0, tiledCopy.ShmemAlloc(8))
	assert.Equal(t, 32*20, tiledCopy.VolMmkUsed())

	packed := PackedPartition{AxisGroups: newGroups(1, 1, []int{8, 8}, []int{1, 0})}
	assert.Equal(t, 64, packed.Shmem())
	assert.Equal(t, 256, packed.ShmemAlloc(4))

	trivial := TrivialPartition{AxisGroups: newGroups(1, 1, []int{1024}, []int{0})}
	assert.True(t, trivial.IsMemcpy())
	assert.Equal(t, 0, trivial.Shmem())
	trivial = TrivialPartition{AxisGroups: newGroups(0, 0, []int{8, 8}, []int{1, 0})}
	assert.False(t, trivial.IsMemcpy())
}
