// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"testing"

	"github.com/gomlx/gotranspose/backends"
	"github.com/stretchr/testify/assert"
)

// lanePositions returns 32 lane positions start, start+stride, ...
func lanePositions(start, stride int) []int {
	positions := make([]int, 32)
	for i := range positions {
		positions[i] = start + i*stride
	}
	return positions
}

func TestGlobalCounter(t *testing.T) {
	params := DefaultModelParams(backends.FamilyCUDA)

	t.Run("coalesced", func(t *testing.T) {
		c := newGlobalCounter(params, true)
		c.addWarp(lanePositions(0, 1), 4)
		assert.Equal(t, int64(1), c.req)
		assert.Equal(t, int64(4), c.tran)
		assert.Equal(t, int64(4), c.fullL2)
		assert.Equal(t, int64(0), c.partL2)
		assert.Equal(t, int64(1), c.fullL1)
		assert.Equal(t, int64(0), c.partL1)
	})

	t.Run("misaligned", func(t *testing.T) {
		c := newGlobalCounter(params, true)
		c.addWarp(lanePositions(1, 1), 4)
		assert.Equal(t, int64(5), c.tran)
		assert.Equal(t, int64(3), c.fullL2)
		assert.Equal(t, int64(2), c.partL2)
		assert.Equal(t, int64(0), c.fullL1)
		assert.Equal(t, int64(2), c.partL1)
	})

	t.Run("strided", func(t *testing.T) {
		c := newGlobalCounter(params, true)
		c.addWarp(lanePositions(0, 8), 4)
		assert.Equal(t, int64(1), c.req)
		assert.Equal(t, int64(32), c.tran)
		assert.Equal(t, int64(0), c.fullL2)
		assert.Equal(t, int64(32), c.partL2)
		assert.Equal(t, int64(8), c.partL1)
	})

	t.Run("inactive lanes", func(t *testing.T) {
		c := newGlobalCounter(params, false)
		positions := lanePositions(0, 1)
		for i := range positions {
			positions[i] = -1
		}
		c.addWarp(positions, 4)
		assert.Equal(t, int64(0), c.req)
		positions[3] = 10
		c.addWarp(positions, 4)
		assert.Equal(t, int64(1), c.req)
		assert.Equal(t, int64(1), c.tran)
		assert.Equal(t, int64(1), c.partL2)
		assert.Equal(t, int64(0), c.partL1, "L1 not counted for stores")
	})

	t.Run("contiguous", func(t *testing.T) {
		c := newGlobalCounter(params, true)
		c.addContiguous(0, 1000, 4, 32)
		assert.Equal(t, int64(32), c.req)
		assert.Equal(t, int64(125), c.tran)
		assert.Equal(t, int64(125), c.fullL2)
		assert.Equal(t, int64(31), c.fullL1)
		assert.Equal(t, int64(1), c.partL1)
	})

	t.Run("scaled", func(t *testing.T) {
		c := newGlobalCounter(params, true)
		c.addWarp(lanePositions(0, 1), 4)
		total := newGlobalCounter(params, true)
		total.add(c, 2.5)
		assert.Equal(t, int64(3), total.req)
		assert.Equal(t, int64(10), total.tran)
		c.reset()
		assert.Equal(t, int64(0), c.req)
		assert.Equal(t, int64(0), c.fullL2)
	})
}

func TestCountLines(t *testing.T) {
	full, part := runLines(0, 64, 32)
	assert.Equal(t, [2]int64{2, 0}, [2]int64{full, part})
	full, part = runLines(4, 8, 32)
	assert.Equal(t, [2]int64{0, 1}, [2]int64{full, part})
	full, part = countLines([]int{0, 8, 16, 24}, 8, 32)
	assert.Equal(t, [2]int64{1, 0}, [2]int64{full, part})
	full, part = countLines([]int{0, 16, 40}, 8, 32)
	assert.Equal(t, [2]int64{0, 2}, [2]int64{full, part})
	assert.Equal(t, int64(2), countSegments([]int{0, 16, 40}, 8, 32))
	assert.Equal(t, int64(2), countSegments([]int{28}, 8, 32))
}

func TestSharedCounter(t *testing.T) {
	testCases := []struct {
		name        string
		positions   []int
		elementSize int
		want        int64
	}{
		{"consecutive", lanePositions(0, 1), 4, 1},
		{"same bank", lanePositions(0, 32), 4, 32},
		{"padded column", lanePositions(0, 33), 4, 1},
		{"two-way", lanePositions(0, 2), 4, 2},
		{"broadcast", lanePositions(5, 0), 4, 1},
		{"8 bytes", lanePositions(0, 1), 8, 2},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newSharedCounter(32)
			c.addWarp(tc.positions, tc.elementSize)
			assert.Equal(t, int64(1), c.req)
			assert.Equal(t, tc.want, c.tran)
		})
	}
}
