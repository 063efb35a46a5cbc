// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simgpu

import (
	"sync"
	"time"

	"github.com/gomlx/gotranspose/backends"
	"github.com/pkg/errors"
)

// Compile-time check:
var _ backends.StreamInterface = (*Backend)(nil)

// streamQueueSize is the number of operations that can be enqueued before enqueue blocks.
const streamQueueSize = 64

// Stream is an ordered queue of operations executed by one goroutine.
type Stream struct {
	device backends.DeviceNum

	mu     sync.Mutex
	closed bool
	queue  chan func()
	done   chan struct{}
}

// Event is recorded in a stream and marks the time its turn in the queue was reached.
type Event struct {
	stream *Stream
	done   chan struct{}
	at     time.Time
}

func newStream(device backends.DeviceNum) *Stream {
	s := &Stream{
		device: device,
		queue:  make(chan func(), streamQueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Stream) run() {
	defer close(s.done)
	for op := range s.queue {
		op()
	}
}

// enqueue an operation, it returns an error if the stream was already closed.
func (s *Stream) enqueue(op func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("simgpu: stream has already been finalized")
	}
	s.queue <- op
	return nil
}

// synchronize waits for all operations enqueued so far to be executed.
func (s *Stream) synchronize() error {
	marker := make(chan struct{})
	if err := s.enqueue(func() { close(marker) }); err != nil {
		return err
	}
	<-marker
	return nil
}

// close the queue and wait for the pending operations. It is a no-op if already closed.
func (s *Stream) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (b *Backend) castStream(stream backends.Stream) (*Stream, error) {
	s, ok := stream.(*Stream)
	if !ok || s == nil {
		return nil, errors.Errorf("simgpu: stream type %T not supported, it was not created by simgpu", stream)
	}
	return s, nil
}

// NewStream implements backends.StreamInterface.
func (b *Backend) NewStream(deviceNum backends.DeviceNum) (backends.Stream, error) {
	if err := b.checkDevice(deviceNum); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.lockedCheckValid(); err != nil {
		return nil, err
	}
	s := newStream(deviceNum)
	b.streams[s] = struct{}{}
	return s, nil
}

// StreamSynchronize implements backends.StreamInterface.
func (b *Backend) StreamSynchronize(stream backends.Stream) error {
	s, err := b.castStream(stream)
	if err != nil {
		return err
	}
	return s.synchronize()
}

// StreamFinalize implements backends.StreamInterface.
func (b *Backend) StreamFinalize(stream backends.Stream) error {
	s, err := b.castStream(stream)
	if err != nil {
		return err
	}
	b.mu.Lock()
	if b.streams != nil {
		delete(b.streams, s)
	}
	b.mu.Unlock()
	s.close()
	return nil
}

// EventRecord implements backends.StreamInterface.
func (b *Backend) EventRecord(stream backends.Stream) (backends.Event, error) {
	s, err := b.castStream(stream)
	if err != nil {
		return nil, err
	}
	e := &Event{stream: s, done: make(chan struct{})}
	err = s.enqueue(func() {
		e.at = time.Now()
		close(e.done)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// EventElapsed implements backends.StreamInterface.
func (b *Backend) EventElapsed(start, end backends.Event) (time.Duration, error) {
	var events [2]*Event
	for ii, e := range []backends.Event{start, end} {
		ev, ok := e.(*Event)
		if !ok || ev == nil {
			return 0, errors.Errorf("simgpu: event type %T not supported, it was not created by simgpu", e)
		}
		events[ii] = ev
	}
	<-events[0].done
	<-events[1].done
	return events[1].at.Sub(events[0].at), nil
}
