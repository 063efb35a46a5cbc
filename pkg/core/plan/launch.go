// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"

	"github.com/gomlx/gotranspose/backends"
	"github.com/pkg/errors"
)

// Dim3 is a 3-dimensional extent of threads or blocks.
type Dim3 struct {
	X, Y, Z int
}

// Total returns X*Y*Z.
func (d Dim3) Total() int { return d.X * d.Y * d.Z }

// String implements fmt.Stringer.
func (d Dim3) String() string { return fmt.Sprintf("(%d, %d, %d)", d.X, d.Y, d.Z) }

// LaunchConfig is the kernel launch geometry of a plan.
type LaunchConfig struct {
	NumThread, NumBlock Dim3

	// ShmemBytes is the dynamic shared memory per block.
	ShmemBytes int

	// NumRegStorage is the number of elements each thread of a Packed kernel keeps in registers. 0 for other methods.
	NumRegStorage int

	// RegsPerThread is the modeled register usage of the kernel, used to compute occupancy.
	RegsPerThread int
}

// Validate that the configuration fits the device limits.
func (lc LaunchConfig) Validate(props backends.DeviceProperties) error {
	threads := lc.NumThread.Total()
	switch {
	case threads <= 0 || lc.NumBlock.Total() <= 0:
		return errors.Errorf("empty launch configuration: threads %s, blocks %s", lc.NumThread, lc.NumBlock)
	case threads > props.MaxThreadsPerBlock:
		return errors.Errorf("%d threads per block exceeds the device limit of %d", threads, props.MaxThreadsPerBlock)
	case lc.RegsPerThread > props.MaxRegistersPerThread:
		return errors.Errorf("%d registers per thread exceeds the device limit of %d", lc.RegsPerThread,
			props.MaxRegistersPerThread)
	case threads*lc.RegsPerThread > props.RegsPerBlock:
		return errors.Errorf("%d threads x %d registers exceeds the device limit of %d registers per block",
			threads, lc.RegsPerThread, props.RegsPerBlock)
	case lc.ShmemBytes > props.SharedMemPerBlock:
		return errors.Errorf("%d bytes of shared memory exceeds the device limit of %d per block",
			lc.ShmemBytes, props.SharedMemPerBlock)
	case lc.NumBlock.X > props.MaxGridSize[0] || lc.NumBlock.Y > props.MaxGridSize[1] || lc.NumBlock.Z > props.MaxGridSize[2]:
		return errors.Errorf("grid %s exceeds the device limits %v", lc.NumBlock, props.MaxGridSize)
	}
	return nil
}

// activeBlocksPerSM returns how many blocks of the configuration can be resident in one multiprocessor at the
// same time. It returns 0 if the configuration doesn't fit the device at all.
func activeBlocksPerSM(lc LaunchConfig, props backends.DeviceProperties, params ModelParams) int {
	if lc.Validate(props) != nil {
		return 0
	}
	threads := lc.NumThread.Total()
	warpsPerBlock := ceilDiv(threads, props.WarpSize)
	numBlocks := props.MaxBlocksPerMultiProcessor
	numBlocks = min(numBlocks, props.MaxThreadsPerMultiProcessor/(warpsPerBlock*props.WarpSize))
	if lc.ShmemBytes > 0 {
		numBlocks = min(numBlocks, props.SharedMemPerMultiprocessor/lc.ShmemBytes)
	}
	if lc.RegsPerThread > 0 {
		regsPerWarp := roundUp(lc.RegsPerThread*props.WarpSize, params.RegAllocationUnit)
		numBlocks = min(numBlocks, props.RegsPerMultiprocessor/(regsPerWarp*warpsPerBlock))
	}
	return max(numBlocks, 0)
}

// launchConfiguration derives the launch geometry of a partition and returns it along with the number of
// active blocks per multiprocessor. A returned number of active blocks of 0 means the partition can't be executed
// on the device.
func launchConfiguration(part Partition, elementSize int, props backends.DeviceProperties,
	caps backends.Capabilities, params ModelParams) (lc LaunchConfig, numActiveBlock int) {
	g := part.Groups()
	maxBlocks := props.MultiProcessorCount * params.MaxBlocksPerSMFactor
	switch p := part.(type) {
	case TrivialPartition:
		lc.NumThread = Dim3{params.TrivialThreads, 1, 1}
		volume := g.VolMmk * g.VolMbar
		lc.NumBlock = Dim3{max(1, min(maxBlocks, ceilDiv(volume, params.TrivialThreads))), 1, 1}
		lc.RegsPerThread = params.RegsTrivial

	case TiledPartition, TiledCopyPartition:
		tileDim, tiledVol, _, _, _ := tiledGeometry(p)
		lc.NumThread = Dim3{tileDim, caps.TileRows, 1}
		lc.NumBlock = Dim3{
			ceilDiv(tiledVol[0], tileDim) * ceilDiv(tiledVol[1], tileDim),
			1,
			max(1, min(g.VolMbar, props.MaxGridSize[2])),
		}
		lc.ShmemBytes = part.ShmemAlloc(elementSize)
		lc.RegsPerThread = params.RegsTiled
		if p.Method() == TiledCopy {
			lc.RegsPerThread = params.RegsTiledCopy
		}

	case PackedPartition, SplitPartition:
		lc.ShmemBytes = part.ShmemAlloc(elementSize)
		if lc.ShmemBytes > props.SharedMemPerBlock {
			return lc, 0
		}
		volMmk := part.VolMmkUsed()
		warp := props.WarpSize
		minNumThread := ceilDiv(volMmk, warp*caps.MaxRegStorage) * warp
		maxNumThread := ceilDiv(volMmk, warp) * warp
		if minNumThread > props.MaxThreadsPerBlock {
			return lc, 0
		}
		maxNumThread = min(maxNumThread, props.MaxThreadsPerBlock)
		minNumRegStorage := ceilDiv(volMmk, maxNumThread)
		maxNumRegStorage := ceilDiv(volMmk, minNumThread)

		if split, ok := p.(SplitPartition); ok {
			lc.NumBlock = Dim3{split.NumSplit, max(1, min(maxBlocks/split.NumSplit, g.VolMbar)), 1}
		} else {
			lc.NumBlock = Dim3{max(1, min(maxBlocks, g.VolMbar)), 1, 1}
		}

		bestVal, bestNumRegStorage := 0, 0
		for numRegStorage := minNumRegStorage; numRegStorage <= maxNumRegStorage; numRegStorage++ {
			candidate := lc
			candidate.NumRegStorage = numRegStorage
			candidate.NumThread = Dim3{ceilDiv(volMmk, warp*numRegStorage) * warp, 1, 1}
			candidate.RegsPerThread = params.RegsPacked + params.RegsPerRegStorage*numRegStorage
			active := activeBlocksPerSM(candidate, props, params)
			if val := volMmk * active; val > bestVal {
				bestVal, bestNumRegStorage, numActiveBlock = val, numRegStorage, active
			}
		}
		if bestNumRegStorage == 0 {
			return lc, 0
		}
		lc.NumRegStorage = bestNumRegStorage
		lc.NumThread = Dim3{ceilDiv(volMmk, warp*bestNumRegStorage) * warp, 1, 1}
		lc.RegsPerThread = params.RegsPacked + params.RegsPerRegStorage*bestNumRegStorage
		return lc, numActiveBlock

	default:
		return lc, 0
	}
	return lc, activeBlocksPerSM(lc, props, params)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func roundUp(a, unit int) int {
	return ceilDiv(a, unit) * unit
}
