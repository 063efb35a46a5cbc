// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package timer measures transposes on a device and keeps bandwidth statistics per tensor rank.
//
// A Timer measures one interval, with the events of a backend stream or with the wall clock. A Recorder uses a
// Timer to time transposes, and accumulates their bandwidth (in GB/s) grouped by rank.
package timer

import (
	"time"

	"github.com/gomlx/gotranspose/backends"
	"github.com/pkg/errors"
)

// Timer measures the time between Start and Stop.
//
// If created with a backend and a stream, it records events in the stream, and the measured time is the device
// time between them. Otherwise, it uses the wall clock.
type Timer struct {
	backend backends.Backend
	stream  backends.Stream

	startEvent         backends.Event
	wallStart, wallEnd time.Time
	started            bool
	elapsed            time.Duration
}

// New creates a Timer using the events of the stream. If backend is nil, the Timer uses the wall clock.
func New(backend backends.Backend, stream backends.Stream) *Timer {
	if backend == nil {
		return &Timer{}
	}
	return &Timer{backend: backend, stream: stream}
}

// NewWallClock creates a Timer that uses the wall clock.
func NewWallClock() *Timer { return &Timer{} }

// IsWallClock returns whether the timer uses the wall clock instead of stream events.
func (t *Timer) IsWallClock() bool { return t.backend == nil }

// Start the timer.
func (t *Timer) Start() error {
	t.started = true
	t.elapsed = 0
	if t.IsWallClock() {
		t.wallStart = time.Now()
		return nil
	}
	event, err := t.backend.EventRecord(t.stream)
	if err != nil {
		t.started = false
		return errors.WithMessage(err, "timer: recording start event")
	}
	t.startEvent = event
	return nil
}

// Stop the timer. With stream events, it waits for the work enqueued before Stop to finish.
func (t *Timer) Stop() error {
	if !t.started {
		return errors.New("timer: Stop called without Start")
	}
	t.started = false
	if t.IsWallClock() {
		t.wallEnd = time.Now()
		t.elapsed = t.wallEnd.Sub(t.wallStart)
		return nil
	}
	end, err := t.backend.EventRecord(t.stream)
	if err != nil {
		return errors.WithMessage(err, "timer: recording stop event")
	}
	if err = t.backend.StreamSynchronize(t.stream); err != nil {
		return errors.WithMessage(err, "timer: synchronizing stream")
	}
	t.elapsed, err = t.backend.EventElapsed(t.startEvent, end)
	if err != nil {
		return errors.WithMessage(err, "timer: measuring elapsed time")
	}
	return nil
}

// Elapsed returns the duration measured by the last Start/Stop.
func (t *Timer) Elapsed() time.Duration { return t.elapsed }

// Seconds returns the duration measured by the last Start/Stop in seconds.
func (t *Timer) Seconds() float64 { return t.elapsed.Seconds() }

const (
	gigabyte = 1.0e9
	gibibyte = 1024 * 1024 * 1024
)

// Bandwidth returns the bandwidth in GB/s of moving the bytes in the given seconds. It returns 0 for 0 seconds.
func Bandwidth(bytes int64, seconds float64) float64 {
	if seconds == 0 {
		return 0
	}
	return float64(bytes) / (gigabyte * seconds)
}

// GiBandwidth returns the bandwidth in GiB/s of moving the bytes in the given seconds. It returns 0 for 0 seconds.
func GiBandwidth(bytes int64, seconds float64) float64 {
	if seconds == 0 {
		return 0
	}
	return float64(bytes) / (gibibyte * seconds)
}

// TransposeBytes returns the bytes moved by a transpose of the given dimensions: every element is read once and
// written once.
func TransposeBytes(elementSize int, dims []int) int64 {
	bytes := 2 * int64(elementSize)
	for _, dim := range dims {
		bytes *= int64(dim)
	}
	return bytes
}
