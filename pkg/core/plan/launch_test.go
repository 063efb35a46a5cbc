// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"
	"testing"

	"github.com/gomlx/gotranspose/backends"
	"github.com/gomlx/gotranspose/backends/simgpu"
	"github.com/gomlx/gotranspose/pkg/core/permutations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func TestLaunchConfiguration(t *testing.T) {
	props, err := simgpu.Preset("v100")
	require.NoError(t, err)
	caps := backends.CapabilitiesFor(props.Family, props.WarpSize)
	params := DefaultModelParams(props.Family)

	t.Run("Tiled", func(t *testing.T) {
		part := TiledPartition{
			AxisGroups: newGroups(1, 1, []int{2048, 16}, []int{1, 0}),
			TileDim:    32,
			TiledVol:   [2]int{2048, 16},
		}
		lc, active := launchConfiguration(part, 8, props, caps, params)
		assert.Equal(t, Dim3{32, 8, 1}, lc.NumThread)
		assert.Equal(t, Dim3{64, 1, 1}, lc.NumBlock)
		assert.Equal(t, 33*32*8, lc.ShmemBytes)
		// Registers limit: 28 regs x 32 lanes rounded to 1024 per warp, 8 warps per block.
		assert.Equal(t, 8, active)
	})

	t.Run("Trivial", func(t *testing.T) {
		part := TrivialPartition{AxisGroups: newGroups(0, 0, []int{2048, 16}, []int{1, 0})}
		lc, active := launchConfiguration(part, 8, props, caps, params)
		assert.Equal(t, Dim3{256, 1, 1}, lc.NumThread)
		assert.Equal(t, Dim3{128, 1, 1}, lc.NumBlock)
		assert.Equal(t, 0, lc.ShmemBytes)
		assert.Equal(t, 8, active)
	})

	t.Run("Packed", func(t *testing.T) {
		part := PackedPartition{AxisGroups: newGroups(1, 1, []int{8, 8}, []int{1, 0})}
		lc, active := launchConfiguration(part, 4, props, caps, params)
		assert.Equal(t, 256, lc.ShmemBytes)
		assert.GreaterOrEqual(t, lc.NumRegStorage, 1)
		assert.LessOrEqual(t, lc.NumRegStorage, caps.MaxRegStorage)
		assert.GreaterOrEqual(t, lc.NumThread.X*lc.NumRegStorage, 64)
		assert.Equal(t, 0, lc.NumThread.X%props.WarpSize)
		assert.Positive(t, active)
	})

	t.Run("too large", func(t *testing.T) {
		part := PackedPartition{AxisGroups: newGroups(1, 1, []int{1024, 1024}, []int{1, 0})}
		_, active := launchConfiguration(part, 4, props, caps, params)
		assert.Equal(t, 0, active)
	})
}

func TestLaunchValidate(t *testing.T) {
	props := backends.DefaultDeviceProperties(backends.FamilyCUDA)
	lc := LaunchConfig{NumThread: Dim3{256, 1, 1}, NumBlock: Dim3{10, 1, 1}, RegsPerThread: 32}
	require.NoError(t, lc.Validate(props))
	bad := lc
	bad.NumThread = Dim3{props.MaxThreadsPerBlock + 32, 1, 1}
	require.Error(t, bad.Validate(props))
	bad = lc
	bad.ShmemBytes = props.SharedMemPerBlock + 1
	require.Error(t, bad.Validate(props))
	bad = lc
	bad.RegsPerThread = props.MaxRegistersPerThread + 1
	require.Error(t, bad.Validate(props))
	bad = lc
	bad.NumBlock = Dim3{0, 1, 1}
	require.Error(t, bad.Validate(props))
	assert.Equal(t, "(256, 1, 1)", lc.NumThread.String())
}

// TestPlansFitDevice checks every enumerated plan of random transposes fits the device limits, on every preset.
func TestPlansFitDevice(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, preset := range simgpu.Presets() {
		t.Run(preset, func(t *testing.T) {
			props, err := simgpu.Preset(preset)
			require.NoError(t, err)
			caps := backends.CapabilitiesFor(props.Family, props.WarpSize)
			params := DefaultModelParams(props.Family)
			for range 20 {
				rank := 2 + rng.Intn(4)
				dims := make([]int, rank)
				for i := range dims {
					dims[i] = 1 + rng.Intn(40)
				}
				perm := rng.Perm(rank)
				redDims, redPerm := permutations.Reduce(dims, perm)
				plans := CreatePlans(dims, perm, redDims, redPerm, 4, 0, props, caps, params)
				require.NotEmpty(t, plans)
				name := fmt.Sprintf("%v_%v", dims, perm)
				for _, p := range plans {
					lc := p.Launch
					require.NoErrorf(t, lc.Validate(props), "%s: %s", name, p.Partition)
					assert.LessOrEqualf(t, lc.ShmemBytes, props.SharedMemPerBlock, "%s: %s", name, p.Partition)
					assert.LessOrEqualf(t, lc.NumThread.Total(), props.MaxThreadsPerBlock, "%s: %s", name, p.Partition)
					assert.Positivef(t, p.NumActiveBlock, "%s: %s", name, p.Partition)
					if p.Method() == Packed || p.Method() == PackedSplit {
						assert.GreaterOrEqualf(t, lc.NumThread.X*lc.NumRegStorage, p.Partition.VolMmkUsed(),
							"%s: %s", name, p.Partition)
					}
				}
			}
		})
	}
}
