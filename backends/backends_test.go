// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithConfig(t *testing.T) {
	var gotConfigs []string
	Register("fake", func(config string) (Backend, error) {
		gotConfigs = append(gotConfigs, config)
		return nil, errors.New("fake backend can't be created")
	})
	defer delete(registeredConstructors, "fake")
	assert.Contains(t, List(), "fake")

	_, err := NewWithConfig("fake:some,config")
	require.Error(t, err)
	_, err = NewWithConfig("fake")
	require.Error(t, err)
	assert.Equal(t, []string{"some,config", ""}, gotConfigs)

	require.Panics(t, func() { _, _ = NewWithConfig("unknown:x") })

	t.Setenv(GOTRANSPOSE_BACKEND, "fake:from_env")
	_, err = New()
	require.Error(t, err)
	assert.Equal(t, "from_env", gotConfigs[len(gotConfigs)-1])
}

func TestCheck(t *testing.T) {
	original := Check
	defer func() { Check = original }()
	var got string
	Check = func(err error, format string, args ...any) {
		if err != nil {
			got = err.Error()
		}
	}
	Check(nil, "nothing")
	assert.Empty(t, got)
	Check(errors.New("boom"), "activating plan %d", 1)
	assert.Equal(t, "boom", got)
}

func TestDeviceProperties(t *testing.T) {
	props := DeviceProperties{
		Name: "test", Family: FamilyCUDA, MultiProcessorCount: 2, WarpSize: 32,
		MaxThreadsPerBlock: 1024, MaxThreadsPerMultiProcessor: 2048, MaxBlocksPerMultiProcessor: 32,
		MaxGridSize:       [3]int{1 << 30, 65535, 65535},
		SharedMemPerBlock: 48 * 1024, SharedMemPerMultiprocessor: 96 * 1024, SharedMemBanks: 32,
		RegsPerBlock: 65536, RegsPerMultiprocessor: 65536, MaxRegistersPerThread: 255,
		ClockRateKHz: 1000000, MemoryClockRateKHz: 1000000, MemoryBusWidth: 256,
	}
	require.NoError(t, props.Validate())
	assert.InDelta(t, 64.0e9, props.MemoryBandwidth(), 1.0)
	assert.Contains(t, props.String(), "CUDA")

	bad := props
	bad.WarpSize = 0
	require.Error(t, bad.Validate())
	bad = props
	bad.MaxThreadsPerBlock = 1000
	require.Error(t, bad.Validate())
}

func TestCapabilitiesFor(t *testing.T) {
	testCases := []struct {
		family   Family
		warpSize int
		tileDim  int
	}{
		{FamilyCUDA, 32, 32},
		{FamilyHIP, 64, 64},
		{FamilySYCL, 32, 32},
		{FamilySYCL, 16, 16},
	}
	for _, tc := range testCases {
		t.Run(tc.family.String(), func(t *testing.T) {
			caps := CapabilitiesFor(tc.family, tc.warpSize)
			assert.Equal(t, tc.tileDim, caps.TileDim)
			assert.Equal(t, 8, caps.TileRows)
			require.NoError(t, caps.Validate())
		})
	}
	require.Error(t, Capabilities{TileDim: 12, TileRows: 8, MaxRegStorage: 8}.Validate())
}
