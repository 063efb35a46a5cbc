// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simgpu

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/gotranspose/backends"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var backend backends.Backend

func init() {
	klog.InitFlags(nil)
}

func setup() {
	fmt.Printf("Available backends: %q\n", backends.List())
	if os.Getenv(backends.GOTRANSPOSE_BACKEND) == "" {
		must.M(os.Setenv(backends.GOTRANSPOSE_BACKEND, BackendName))
	} else {
		fmt.Printf("\t$%s=%q\n", backends.GOTRANSPOSE_BACKEND, os.Getenv(backends.GOTRANSPOSE_BACKEND))
	}
	backend = backends.MustNew()
	fmt.Printf("Backend: %s, %s\n", backend.Name(), backend.Description())
}

func teardown() {
	backend.Finalize()
}

func TestMain(m *testing.M) {
	setup()
	code := m.Run()
	teardown()
	os.Exit(code)
}

func TestNew(t *testing.T) {
	b, err := newBackend("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPreset, b.preset)
	assert.Equal(t, backends.DeviceNum(1), b.NumDevices())

	b, err = newBackend("mi250x,devices=4")
	require.NoError(t, err)
	assert.Equal(t, backends.DeviceNum(4), b.NumDevices())
	assert.Equal(t, backends.FamilyHIP, b.Capabilities().Family)
	assert.Equal(t, 64, b.Capabilities().TileDim)
	props, err := b.DeviceProperties(3)
	require.NoError(t, err)
	assert.Equal(t, 64, props.WarpSize)
	_, err = b.DeviceProperties(4)
	require.Error(t, err)

	b, err = newBackend("pvc16")
	require.NoError(t, err)
	assert.Equal(t, 16, b.Capabilities().TileDim)

	for _, config := range []string{"rtx9999", "a100,devices=0", "a100,foo=1", "devices=2,a100"} {
		_, err = newBackend(config)
		require.Errorf(t, err, "configuration %q should have failed", config)
	}

	b2, err := backends.NewWithConfig("simgpu:h100")
	require.NoError(t, err)
	props, err = b2.DeviceProperties(0)
	require.NoError(t, err)
	assert.Equal(t, 132, props.MultiProcessorCount)
	b2.Finalize()
}

func TestPresets(t *testing.T) {
	names := Presets()
	assert.Equal(t, []string{"a100", "h100", "mi250x", "pvc", "pvc16", "v100"}, names)
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			props, err := Preset(name)
			require.NoError(t, err)
			require.NoError(t, props.Validate())
			require.NoError(t, backends.CapabilitiesFor(props.Family, props.WarpSize).Validate())
			assert.Greater(t, props.MemoryBandwidth(), 0.0)
		})
	}
	_, err := Preset("A100")
	require.NoError(t, err)
}

func TestBuffers(t *testing.T) {
	b := backend.(*Backend)
	stream, err := b.NewStream(0)
	require.NoError(t, err)
	defer func() { require.NoError(t, b.StreamFinalize(stream)) }()

	before := b.AllocatedBytes(0)
	buf, err := b.BufferAlloc(0, 8)
	require.NoError(t, err)
	assert.Equal(t, before+8, b.AllocatedBytes(0))
	size, err := b.BufferSize(buf)
	require.NoError(t, err)
	assert.Equal(t, 8, size)

	require.NoError(t, b.BufferCopyToDeviceAsync(stream, buf, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	require.Error(t, b.BufferCopyToDeviceAsync(stream, buf, make([]byte, 9)))
	require.NoError(t, b.StreamSynchronize(stream))
	host := make([]byte, 8)
	require.NoError(t, b.BufferCopyToHost(buf, host))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, host)

	require.NoError(t, b.BufferFinalize(buf))
	assert.Equal(t, before, b.AllocatedBytes(0))
	require.Error(t, b.BufferFinalize(buf))
	require.Error(t, b.BufferCopyToHost(buf, host))
	_, err = b.BufferSize("not a buffer")
	require.Error(t, err)
}

func TestBuffersConcurrentFinalize(t *testing.T) {
	b := backend.(*Backend)
	before := b.AllocatedBytes(0)
	for range 20 {
		buf, err := b.BufferAlloc(0, 64)
		require.NoError(t, err)
		var wg sync.WaitGroup
		var numFinalized atomic.Int32
		for range 4 {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if b.BufferFinalize(buf) == nil {
					numFinalized.Add(1)
				}
			}()
			go func() {
				defer wg.Done()
				// Either copies the whole buffer or fails because it was finalized.
				host := make([]byte, 64)
				_ = b.BufferCopyToHost(buf, host)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), numFinalized.Load())
	}
	assert.Equal(t, before, b.AllocatedBytes(0))
}

func TestStreamsAndEvents(t *testing.T) {
	b := backend.(*Backend)
	stream, err := b.NewStream(0)
	require.NoError(t, err)

	start, err := b.EventRecord(stream)
	require.NoError(t, err)
	require.NoError(t, stream.(*Stream).enqueue(func() { time.Sleep(5 * time.Millisecond) }))
	end, err := b.EventRecord(stream)
	require.NoError(t, err)
	elapsed, err := b.EventElapsed(start, end)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)

	require.NoError(t, b.StreamFinalize(stream))
	require.NoError(t, b.StreamFinalize(stream))
	_, err = b.EventRecord(stream)
	require.Error(t, err)
	require.Error(t, b.StreamSynchronize(stream))
}

func TestFinalize(t *testing.T) {
	b, err := newBackend("a100")
	require.NoError(t, err)
	stream, err := b.NewStream(0)
	require.NoError(t, err)
	buf, err := b.BufferAlloc(0, 16)
	require.NoError(t, err)
	require.NoError(t, b.BufferCopyToDeviceAsync(stream, buf, make([]byte, 16)))
	b.Finalize()
	b.Finalize()
	assert.True(t, b.IsFinalized())
	_, err = b.BufferAlloc(0, 16)
	require.Error(t, err)
	_, err = b.NewStream(0)
	require.Error(t, err)
	require.Error(t, b.StreamSynchronize(stream))
}
