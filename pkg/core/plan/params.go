// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"github.com/gomlx/gotranspose/backends"
	"github.com/pkg/errors"
)

// ModelParams holds the thresholds of the plan enumerators and the weights of the performance model.
//
// They are calibratable: DefaultModelParams returns values tuned per device family, and they can be changed
// with WithModelParams when creating a Planner.
type ModelParams struct {
	// TransactionBytes is the size of a global memory transaction segment.
	TransactionBytes int

	// L1LineBytes and L2LineBytes are the cache line (L1) and sector (L2) sizes used to classify full and
	// partial line accesses.
	L1LineBytes, L2LineBytes int

	// MinPackedContiguousBytes is the minimum contiguous run (on both input and output sides) for a Packed or
	// PackedSplit plan to be proposed.
	MinPackedContiguousBytes int

	// MaxExtraSplits bounds the number of splits tried above the minimum one for PackedSplit.
	MaxExtraSplits int

	// TrivialThreads is the number of threads per block of the Trivial kernel.
	TrivialThreads int

	// MaxBlocksPerSMFactor caps the grid of the grid-stride kernels to MultiProcessorCount*MaxBlocksPerSMFactor.
	MaxBlocksPerSMFactor int

	// Registers per thread used by each kernel. Packed kernels use RegsPacked plus RegsPerRegStorage for
	// each element kept in registers.
	RegsTrivial, RegsTiled, RegsTiledCopy, RegsPacked, RegsPerRegStorage int

	// RegAllocationUnit is the per-warp register allocation granularity.
	RegAllocationUnit int

	// TrivialWarpSamples is the number of warps sampled per Mbar sample by the strided Trivial model.
	TrivialWarpSamples int

	// MaxTileSamples is the number of tiles above which the tiled models sample tiles.
	MaxTileSamples int

	// Cycle weights of the issue bound.
	CyclesPerRequest, CyclesPerTransaction, CyclesPerSharedTransaction float64

	// PartialSectorPenalty is the extra fraction of a sector's DRAM traffic charged for partially used sectors.
	PartialSectorPenalty float64

	// DRAMLatency in cycles.
	DRAMLatency float64

	// MaxMWP caps the memory-warp parallelism of a multiprocessor: the number of memory requests in flight.
	MaxMWP float64

	// LaunchCycles is the fixed overhead of a kernel launch.
	LaunchCycles float64
}

// DefaultModelParams returns the default parameters for the device family.
func DefaultModelParams(family backends.Family) ModelParams {
	params := ModelParams{
		TransactionBytes:           32,
		L1LineBytes:                128,
		L2LineBytes:                32,
		MinPackedContiguousBytes:   32,
		MaxExtraSplits:             60,
		TrivialThreads:             256,
		MaxBlocksPerSMFactor:       18,
		RegsTrivial:                16,
		RegsTiled:                  28,
		RegsTiledCopy:              24,
		RegsPacked:                 24,
		RegsPerRegStorage:          4,
		RegAllocationUnit:          256,
		TrivialWarpSamples:         16,
		MaxTileSamples:             2048,
		CyclesPerRequest:           1.0,
		CyclesPerTransaction:       0.5,
		CyclesPerSharedTransaction: 1.0,
		PartialSectorPenalty:       0.5,
		DRAMLatency:                500,
		MaxMWP:                     48,
		LaunchCycles:               4000,
	}
	switch family {
	case backends.FamilyHIP:
		params.TransactionBytes = 64
		params.L1LineBytes = 64
		params.L2LineBytes = 64
		params.MinPackedContiguousBytes = 64
		params.DRAMLatency = 700
		params.MaxMWP = 40
		params.LaunchCycles = 6000
	case backends.FamilySYCL:
		params.L1LineBytes = 64
		params.L2LineBytes = 64
		params.DRAMLatency = 600
		params.LaunchCycles = 6000
	}
	return params
}

// Validate checks the parameters are usable.
func (p ModelParams) Validate() error {
	for _, v := range []struct {
		name  string
		value int
	}{
		{"TransactionBytes", p.TransactionBytes},
		{"L1LineBytes", p.L1LineBytes},
		{"L2LineBytes", p.L2LineBytes},
		{"TrivialThreads", p.TrivialThreads},
		{"MaxBlocksPerSMFactor", p.MaxBlocksPerSMFactor},
		{"RegAllocationUnit", p.RegAllocationUnit},
		{"TrivialWarpSamples", p.TrivialWarpSamples},
		{"MaxTileSamples", p.MaxTileSamples},
	} {
		if v.value <= 0 {
			return errors.Errorf("invalid model parameters: %s must be > 0, got %d", v.name, v.value)
		}
	}
	if p.MaxExtraSplits < 0 || p.MinPackedContiguousBytes < 0 {
		return errors.Errorf("invalid model parameters: MaxExtraSplits (%d) and MinPackedContiguousBytes (%d) can't be negative",
			p.MaxExtraSplits, p.MinPackedContiguousBytes)
	}
	if p.MaxMWP <= 0 {
		return errors.Errorf("invalid model parameters: MaxMWP must be > 0, got %g", p.MaxMWP)
	}
	return nil
}
