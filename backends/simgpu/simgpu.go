// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simgpu implements a simulated GPU backend: device memory lives in host memory, streams are
// ordered queues served by one goroutine each, and the device properties come from presets of real
// devices (see Presets).
//
// It is used by tests and by tools that only need to plan transposes, where no real GPU runtime is available.
//
// The configuration string is "<preset>[,devices=<n>]", e.g.: "a100" or "mi250x,devices=4".
// An empty configuration selects DefaultPreset with one device.
package simgpu

import (
	"strconv"
	"strings"
	"sync"

	"github.com/gomlx/gotranspose/backends"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in GOTRANSPOSE_BACKEND to specify this backend.
const BackendName = "simgpu"

// DefaultPreset is the device preset used when the configuration doesn't name one.
const DefaultPreset = "v100"

// Registers New() as the default constructor for "simgpu" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new simulated Backend, see package documentation for the configuration format.
func New(config string) (backends.Backend, error) {
	return newBackend(config)
}

func newBackend(config string) (*Backend, error) {
	presetName := DefaultPreset
	numDevices := 1
	for i, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			if i != 0 {
				return nil, errors.Errorf("simgpu: invalid configuration %q: preset name must come first", config)
			}
			presetName = part
			continue
		}
		switch key {
		case "devices":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return nil, errors.Errorf("simgpu: invalid number of devices in configuration %q", config)
			}
			numDevices = n
		default:
			return nil, errors.Errorf("simgpu: unknown configuration key %q in %q", key, config)
		}
	}
	props, err := Preset(presetName)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("simgpu: %d device(s) of %s", numDevices, props)
	return &Backend{
		preset:     presetName,
		props:      props,
		caps:       backends.CapabilitiesFor(props.Family, props.WarpSize),
		numDevices: numDevices,
		streams:    make(map[*Stream]struct{}),
	}, nil
}

// Backend implements the backends.Backend interface with a simulated device.
type Backend struct {
	preset     string
	props      backends.DeviceProperties
	caps       backends.Capabilities
	numDevices int

	mu        sync.Mutex
	finalized bool
	streams   map[*Stream]struct{}

	// allocatedBytes per device, for tests and diagnostics.
	allocatedBytes []int
}

// Compile-time check that simgpu.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName + ":" + b.preset }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Simulated GPU: " + b.props.String()
}

// NumDevices return the number of devices available for this Backend.
func (b *Backend) NumDevices() backends.DeviceNum {
	return backends.DeviceNum(b.numDevices)
}

// DeviceProperties implements backends.Backend. All devices of a simulated backend are identical.
func (b *Backend) DeviceProperties(deviceNum backends.DeviceNum) (backends.DeviceProperties, error) {
	if err := b.checkDevice(deviceNum); err != nil {
		return backends.DeviceProperties{}, err
	}
	return b.props, nil
}

// Capabilities returns the tile constants for the preset's device family.
func (b *Backend) Capabilities() backends.Capabilities {
	return b.caps
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
// Pending stream operations are completed first.
func (b *Backend) Finalize() {
	b.mu.Lock()
	if b.finalized {
		b.mu.Unlock()
		return
	}
	b.finalized = true
	streams := make([]*Stream, 0, len(b.streams))
	for s := range b.streams {
		streams = append(streams, s)
	}
	b.streams = nil
	b.mu.Unlock()
	for _, s := range streams {
		s.close()
	}
}

// IsFinalized returns whether Finalize has been called.
func (b *Backend) IsFinalized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finalized
}

// AllocatedBytes returns the number of bytes currently allocated on the device.
func (b *Backend) AllocatedBytes(deviceNum backends.DeviceNum) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int(deviceNum) >= len(b.allocatedBytes) {
		return 0
	}
	return b.allocatedBytes[deviceNum]
}

func (b *Backend) checkDevice(deviceNum backends.DeviceNum) error {
	if deviceNum < 0 || int(deviceNum) >= b.numDevices {
		return errors.Errorf("simgpu: invalid device %d, backend has %d device(s)", deviceNum, b.numDevices)
	}
	return nil
}

// lockedCheckValid must be called with b.mu acquired.
func (b *Backend) lockedCheckValid() error {
	if b.finalized {
		return errors.New("simgpu: backend has already been finalized")
	}
	return nil
}
