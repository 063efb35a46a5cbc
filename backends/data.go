// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "time"

// Buffer represents memory allocated on a device.
//
// It is opaque from the planner perspective, only the backend that created it can interpret it.
type Buffer any

// Stream represents an ordered queue of device operations. Plans don't own streams: they are created
// and finalized by the caller.
type Stream any

// Event is a marker recorded in a Stream, used to measure elapsed device time.
type Event any

// DataInterface is the Backend's subinterface that defines the API to allocate device memory and transfer data to it.
type DataInterface interface {
	// BufferAlloc allocates numBytes on the given device.
	BufferAlloc(deviceNum DeviceNum, numBytes int) (Buffer, error)

	// BufferFinalize allows the client to inform backend that buffer is no longer needed and associated resources can be
	// freed immediately.
	//
	// A finalized buffer should never be used again. Preferably, the caller should set its references to it to nil.
	BufferFinalize(buffer Buffer) error

	// BufferCopyToDeviceAsync enqueues in the stream a copy of host data to the buffer.
	// The host slice must not be modified until the stream is synchronized.
	BufferCopyToDeviceAsync(stream Stream, buffer Buffer, host []byte) error

	// BufferCopyToHost synchronously copies the contents of the buffer to host, which must have the buffer's size.
	BufferCopyToHost(buffer Buffer, host []byte) error

	// BufferSize returns the number of bytes of the buffer.
	BufferSize(buffer Buffer) (int, error)
}

// StreamInterface is the Backend's subinterface that manages streams and events.
type StreamInterface interface {
	// NewStream creates a new stream on the given device.
	NewStream(deviceNum DeviceNum) (Stream, error)

	// StreamSynchronize blocks until all operations enqueued in the stream are done.
	StreamSynchronize(stream Stream) error

	// StreamFinalize releases the stream. Pending operations are completed first.
	StreamFinalize(stream Stream) error

	// EventRecord enqueues an event in the stream.
	EventRecord(stream Stream) (Event, error)

	// EventElapsed blocks until the end event completed and returns the time elapsed between the two events.
	EventElapsed(start, end Event) (time.Duration, error)
}
