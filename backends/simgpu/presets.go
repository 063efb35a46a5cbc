// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simgpu

import (
	"maps"
	"slices"
	"strings"

	"github.com/gomlx/gotranspose/backends"
	"github.com/pkg/errors"
)

// Grid limits shared by the CUDA presets.
var cudaMaxGridSize = [3]int{2147483647, 65535, 65535}

var presets = map[string]backends.DeviceProperties{
	"v100": {
		Name: "Tesla V100-SXM2-16GB", Family: backends.FamilyCUDA, Major: 7, Minor: 0,
		MultiProcessorCount: 80, WarpSize: 32,
		MaxThreadsPerBlock: 1024, MaxThreadsPerMultiProcessor: 2048, MaxBlocksPerMultiProcessor: 32,
		MaxGridSize:       cudaMaxGridSize,
		SharedMemPerBlock: 48 * 1024, SharedMemPerMultiprocessor: 96 * 1024, SharedMemBanks: 32,
		RegsPerBlock: 65536, RegsPerMultiprocessor: 65536, MaxRegistersPerThread: 255,
		ClockRateKHz: 1530000, MemoryClockRateKHz: 877000, MemoryBusWidth: 4096,
		L2CacheSize: 6 * 1024 * 1024,
	},
	"a100": {
		Name: "NVIDIA A100-SXM4-40GB", Family: backends.FamilyCUDA, Major: 8, Minor: 0,
		MultiProcessorCount: 108, WarpSize: 32,
		MaxThreadsPerBlock: 1024, MaxThreadsPerMultiProcessor: 2048, MaxBlocksPerMultiProcessor: 32,
		MaxGridSize:       cudaMaxGridSize,
		SharedMemPerBlock: 48 * 1024, SharedMemPerMultiprocessor: 164 * 1024, SharedMemBanks: 32,
		RegsPerBlock: 65536, RegsPerMultiprocessor: 65536, MaxRegistersPerThread: 255,
		ClockRateKHz: 1410000, MemoryClockRateKHz: 1215000, MemoryBusWidth: 5120,
		L2CacheSize: 40 * 1024 * 1024,
	},
	"h100": {
		Name: "NVIDIA H100 80GB HBM3", Family: backends.FamilyCUDA, Major: 9, Minor: 0,
		MultiProcessorCount: 132, WarpSize: 32,
		MaxThreadsPerBlock: 1024, MaxThreadsPerMultiProcessor: 2048, MaxBlocksPerMultiProcessor: 32,
		MaxGridSize:       cudaMaxGridSize,
		SharedMemPerBlock: 48 * 1024, SharedMemPerMultiprocessor: 228 * 1024, SharedMemBanks: 32,
		RegsPerBlock: 65536, RegsPerMultiprocessor: 65536, MaxRegistersPerThread: 255,
		ClockRateKHz: 1980000, MemoryClockRateKHz: 2619000, MemoryBusWidth: 5120,
		L2CacheSize: 50 * 1024 * 1024,
	},
	"mi250x": {
		Name: "AMD Instinct MI250X (gfx90a)", Family: backends.FamilyHIP, Major: 9, Minor: 0,
		MultiProcessorCount: 110, WarpSize: 64,
		MaxThreadsPerBlock: 1024, MaxThreadsPerMultiProcessor: 2048, MaxBlocksPerMultiProcessor: 32,
		MaxGridSize:       [3]int{2147483647, 2147483647, 2147483647},
		SharedMemPerBlock: 64 * 1024, SharedMemPerMultiprocessor: 64 * 1024, SharedMemBanks: 32,
		RegsPerBlock: 131072, RegsPerMultiprocessor: 131072, MaxRegistersPerThread: 512,
		ClockRateKHz: 1700000, MemoryClockRateKHz: 1600000, MemoryBusWidth: 4096,
		L2CacheSize: 8 * 1024 * 1024,
	},
	"pvc": {
		Name: "Intel Data Center GPU Max 1550 (sub-group 32)", Family: backends.FamilySYCL, Major: 12, Minor: 60,
		MultiProcessorCount: 64, WarpSize: 32,
		MaxThreadsPerBlock: 1024, MaxThreadsPerMultiProcessor: 2048, MaxBlocksPerMultiProcessor: 64,
		MaxGridSize:       [3]int{2147483647, 2147483647, 2147483647},
		SharedMemPerBlock: 128 * 1024, SharedMemPerMultiprocessor: 128 * 1024, SharedMemBanks: 32,
		RegsPerBlock: 65536, RegsPerMultiprocessor: 65536, MaxRegistersPerThread: 128,
		ClockRateKHz: 1600000, MemoryClockRateKHz: 1600000, MemoryBusWidth: 4096,
		L2CacheSize: 100 * 1024 * 1024,
	},
}

func init() {
	pvc16 := presets["pvc"]
	pvc16.Name = "Intel Data Center GPU Max 1550 (sub-group 16)"
	pvc16.WarpSize = 16
	presets["pvc16"] = pvc16
}

// Preset returns the device properties of the named preset (case-insensitive).
func Preset(name string) (backends.DeviceProperties, error) {
	props, found := presets[strings.ToLower(name)]
	if !found {
		return backends.DeviceProperties{}, errors.Errorf("simgpu: unknown device preset %q, valid presets are %q",
			name, Presets())
	}
	return props, nil
}

// Presets returns the sorted names of the available device presets.
func Presets() []string {
	return slices.Sorted(maps.Keys(presets))
}
