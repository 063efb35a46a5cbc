// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simgpu

import (
	"github.com/gomlx/gotranspose/backends"
	"github.com/pkg/errors"
)

// Compile-time check:
var _ backends.DataInterface = (*Backend)(nil)

// Buffer for the simulated backend: device memory is a host byte slice.
type Buffer struct {
	device backends.DeviceNum
	valid  bool
	data   []byte
}

// castBuffer returns the buffer and a snapshot of its data, read under the backend lock.
func (b *Backend) castBuffer(buffer backends.Buffer) (buf *Buffer, data []byte, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, err = b.lockedCastBuffer(buffer)
	if err != nil {
		return nil, nil, err
	}
	return buf, buf.data, nil
}

// lockedCastBuffer must be called with b.mu acquired.
func (b *Backend) lockedCastBuffer(buffer backends.Buffer) (*Buffer, error) {
	buf, ok := buffer.(*Buffer)
	if !ok {
		return nil, errors.Errorf("simgpu: buffer type %T not supported, it was not created by simgpu", buffer)
	}
	if buf == nil || !buf.valid {
		return nil, errors.New("simgpu: buffer is invalid or has already been finalized")
	}
	return buf, nil
}

// BufferAlloc implements backends.DataInterface.
func (b *Backend) BufferAlloc(deviceNum backends.DeviceNum, numBytes int) (backends.Buffer, error) {
	if err := b.checkDevice(deviceNum); err != nil {
		return nil, err
	}
	if numBytes < 0 {
		return nil, errors.Errorf("simgpu: invalid allocation of %d bytes", numBytes)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lockedCheckValid(); err != nil {
		return nil, err
	}
	if b.allocatedBytes == nil {
		b.allocatedBytes = make([]int, b.numDevices)
	}
	b.allocatedBytes[deviceNum] += numBytes
	return &Buffer{device: deviceNum, valid: true, data: make([]byte, numBytes)}, nil
}

// BufferFinalize implements backends.DataInterface.
func (b *Backend) BufferFinalize(buffer backends.Buffer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, err := b.lockedCastBuffer(buffer)
	if err != nil {
		return err
	}
	buf.valid = false
	if b.allocatedBytes != nil {
		b.allocatedBytes[buf.device] -= len(buf.data)
	}
	buf.data = nil
	return nil
}

// BufferSize implements backends.DataInterface.
func (b *Backend) BufferSize(buffer backends.Buffer) (int, error) {
	_, data, err := b.castBuffer(buffer)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// BufferCopyToDeviceAsync implements backends.DataInterface.
// The copy is executed in the stream's goroutine, in order with other operations enqueued in the same stream.
func (b *Backend) BufferCopyToDeviceAsync(stream backends.Stream, buffer backends.Buffer, host []byte) error {
	s, err := b.castStream(stream)
	if err != nil {
		return err
	}
	buf, dst, err := b.castBuffer(buffer)
	if err != nil {
		return err
	}
	if len(host) > len(dst) {
		return errors.Errorf("simgpu: copying %d bytes into a buffer of %d bytes", len(host), len(dst))
	}
	if s.device != buf.device {
		return errors.Errorf("simgpu: stream is on device %d but buffer is on device %d", s.device, buf.device)
	}
	return s.enqueue(func() {
		copy(dst, host)
	})
}

// BufferCopyToHost implements backends.DataInterface.
func (b *Backend) BufferCopyToHost(buffer backends.Buffer, host []byte) error {
	_, data, err := b.castBuffer(buffer)
	if err != nil {
		return err
	}
	if len(host) != len(data) {
		return errors.Errorf("simgpu: host slice has %d bytes, but buffer has %d bytes", len(host), len(data))
	}
	copy(host, data)
	return nil
}
