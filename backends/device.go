// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/pkg/errors"
)

// Family of the GPU runtime. It selects the tile constants and the default performance-model parameters.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyCUDA
	FamilyHIP
	FamilySYCL
)

// String implements fmt.Stringer.
func (f Family) String() string {
	switch f {
	case FamilyCUDA:
		return "CUDA"
	case FamilyHIP:
		return "HIP"
	case FamilySYCL:
		return "SYCL"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// DeviceProperties holds the hardware limits and clocks of a device, as reported by the runtime.
//
// Clock rates are in kHz, sizes in bytes.
type DeviceProperties struct {
	Name   string
	Family Family

	// Major and Minor compute capability (or architecture generation for non-CUDA devices).
	Major, Minor int

	MultiProcessorCount int

	// WarpSize is the number of lanes that execute in lock-step: a warp (CUDA), a wavefront (HIP) or a sub-group (SYCL).
	WarpSize int

	MaxThreadsPerBlock          int
	MaxThreadsPerMultiProcessor int
	MaxBlocksPerMultiProcessor  int
	MaxGridSize                 [3]int

	SharedMemPerBlock          int
	SharedMemPerMultiprocessor int

	// SharedMemBanks is the number of 4-byte wide shared memory banks.
	SharedMemBanks int

	RegsPerBlock          int
	RegsPerMultiprocessor int
	MaxRegistersPerThread int

	ClockRateKHz       int
	MemoryClockRateKHz int
	// MemoryBusWidth in bits.
	MemoryBusWidth int
	L2CacheSize    int
}

// Validate checks that the fields the planner depends on are set to usable values.
func (p DeviceProperties) Validate() error {
	type field struct {
		name  string
		value int
	}
	for _, f := range []field{
		{"MultiProcessorCount", p.MultiProcessorCount},
		{"WarpSize", p.WarpSize},
		{"MaxThreadsPerBlock", p.MaxThreadsPerBlock},
		{"MaxThreadsPerMultiProcessor", p.MaxThreadsPerMultiProcessor},
		{"MaxBlocksPerMultiProcessor", p.MaxBlocksPerMultiProcessor},
		{"MaxGridSize[0]", p.MaxGridSize[0]},
		{"MaxGridSize[1]", p.MaxGridSize[1]},
		{"MaxGridSize[2]", p.MaxGridSize[2]},
		{"SharedMemPerBlock", p.SharedMemPerBlock},
		{"SharedMemPerMultiprocessor", p.SharedMemPerMultiprocessor},
		{"SharedMemBanks", p.SharedMemBanks},
		{"RegsPerBlock", p.RegsPerBlock},
		{"RegsPerMultiprocessor", p.RegsPerMultiprocessor},
		{"MaxRegistersPerThread", p.MaxRegistersPerThread},
		{"ClockRateKHz", p.ClockRateKHz},
		{"MemoryClockRateKHz", p.MemoryClockRateKHz},
		{"MemoryBusWidth", p.MemoryBusWidth},
	} {
		if f.value <= 0 {
			return errors.Errorf("device properties %q: %s must be > 0, got %d", p.Name, f.name, f.value)
		}
	}
	if p.MaxThreadsPerBlock%p.WarpSize != 0 {
		return errors.Errorf("device properties %q: MaxThreadsPerBlock (%d) must be a multiple of WarpSize (%d)",
			p.Name, p.MaxThreadsPerBlock, p.WarpSize)
	}
	return nil
}

// DefaultDeviceProperties returns conservative limits for a device of the given family. They are used to plan
// when a backend can't report the properties of its device, and the performance model is then skipped.
func DefaultDeviceProperties(family Family) DeviceProperties {
	p := DeviceProperties{
		Name: "default " + family.String(), Family: family, Major: 1,
		MultiProcessorCount: 1, WarpSize: 32,
		MaxThreadsPerBlock: 1024, MaxThreadsPerMultiProcessor: 2048, MaxBlocksPerMultiProcessor: 16,
		MaxGridSize:       [3]int{2147483647, 65535, 65535},
		SharedMemPerBlock: 48 * 1024, SharedMemPerMultiprocessor: 48 * 1024, SharedMemBanks: 32,
		RegsPerBlock: 65536, RegsPerMultiprocessor: 65536, MaxRegistersPerThread: 255,
		ClockRateKHz: 1000000, MemoryClockRateKHz: 1000000, MemoryBusWidth: 256,
	}
	if family == FamilyHIP {
		p.WarpSize = 64
		p.SharedMemPerBlock = 64 * 1024
		p.SharedMemPerMultiprocessor = 64 * 1024
	}
	return p
}

// MemoryBandwidth returns the theoretical peak DRAM bandwidth in bytes per second (double data rate).
func (p DeviceProperties) MemoryBandwidth() float64 {
	return 2.0 * float64(p.MemoryClockRateKHz) * 1.0e3 * float64(p.MemoryBusWidth/8)
}

// String returns a one-line summary of the device.
func (p DeviceProperties) String() string {
	return fmt.Sprintf("%s (%s %d.%d, %d SMs, warp %d, %d B shared/block)",
		p.Name, p.Family, p.Major, p.Minor, p.MultiProcessorCount, p.WarpSize, p.SharedMemPerBlock)
}
