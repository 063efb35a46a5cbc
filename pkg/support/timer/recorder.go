// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package timer

import (
	"maps"
	"math"
	"slices"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// rankStats holds the bandwidths of the transposes of one rank.
type rankStats struct {
	total, min, max      float64
	bandwidths           []float64
	worstDims, worstPerm []int
}

// Recorder times transposes and keeps their bandwidth statistics grouped by rank.
//
// It is not safe for concurrent use.
type Recorder struct {
	elementSize int
	timer       *Timer

	curDims, curPerm []int
	curBytes         int64
	running          bool

	stats map[int]*rankStats
}

// NewRecorder creates a Recorder for transposes of elements with elementSize bytes (see SetElementSize), timed
// with timer.
func NewRecorder(elementSize int, timer *Timer) *Recorder {
	return &Recorder{elementSize: elementSize, timer: timer, stats: make(map[int]*rankStats)}
}

// SetElementSize changes the element size of the next transposes timed. Statistics already recorded are kept.
func (r *Recorder) SetElementSize(elementSize int) { r.elementSize = elementSize }

// Start timing the transpose of dims by perm. The bandwidth counts the bytes read and written by the transpose.
func (r *Recorder) Start(dims, perm []int) error {
	return r.StartBytes(dims, perm, TransposeBytes(r.elementSize, dims))
}

// StartBytes is like Start, but the bandwidth is computed over numBytes, for operations on dims that move
// something other than the tensor itself (e.g. lookup table uploads).
func (r *Recorder) StartBytes(dims, perm []int, numBytes int64) error {
	if r.running {
		return errors.New("Recorder.Start called twice without Stop")
	}
	r.curDims = slices.Clone(dims)
	r.curPerm = slices.Clone(perm)
	r.curBytes = numBytes
	if err := r.timer.Start(); err != nil {
		return err
	}
	r.running = true
	return nil
}

// Stop timing the current transpose and record its bandwidth.
func (r *Recorder) Stop() error {
	if !r.running {
		return errors.New("Recorder.Stop called without Start")
	}
	r.running = false
	if err := r.timer.Stop(); err != nil {
		return err
	}
	r.record(r.curDims, r.curPerm, r.GBs())
	return nil
}

// record the bandwidth of a transpose.
func (r *Recorder) record(dims, perm []int, bandwidth float64) {
	rank := len(dims)
	s, found := r.stats[rank]
	if !found {
		s = &rankStats{min: math.Inf(1), max: math.Inf(-1)}
		r.stats[rank] = s
	}
	s.total += bandwidth
	if bandwidth < s.min {
		s.min = bandwidth
		s.worstDims, s.worstPerm = dims, perm
	}
	s.max = max(s.max, bandwidth)
	s.bandwidths = append(s.bandwidths, bandwidth)
	klog.V(2).Infof("timer: dims=%v perm=%v: %.3g s, %.2f GB/s", dims, perm, r.Seconds(), bandwidth)
}

// Seconds returns the duration of the last transpose.
func (r *Recorder) Seconds() float64 { return r.timer.Seconds() }

// GBs returns the bandwidth of the last transpose in GB/s.
func (r *Recorder) GBs() float64 { return Bandwidth(r.curBytes, r.Seconds()) }

// GiBs returns the bandwidth of the last transpose in GiB/s.
func (r *Recorder) GiBs() float64 { return GiBandwidth(r.curBytes, r.Seconds()) }

// Ranks returns the ranks recorded so far, sorted.
func (r *Recorder) Ranks() []int { return slices.Sorted(maps.Keys(r.stats)) }

// Best returns the highest bandwidth recorded for rank, or 0 if none was recorded.
func (r *Recorder) Best(rank int) float64 {
	s, found := r.stats[rank]
	if !found {
		return 0
	}
	return s.max
}

// Worst returns the lowest bandwidth recorded for rank, or 0 if none was recorded.
func (r *Recorder) Worst(rank int) float64 {
	bandwidth, _, _ := r.WorstOf(rank)
	return bandwidth
}

// WorstOf returns the lowest bandwidth recorded for rank, along with the transpose that had it.
func (r *Recorder) WorstOf(rank int) (bandwidth float64, dims, perm []int) {
	s, found := r.stats[rank]
	if !found {
		return 0, nil, nil
	}
	return s.min, s.worstDims, s.worstPerm
}

// Median returns the median bandwidth of rank: the average of the two middle values for an even count.
// It returns 0 if none was recorded.
func (r *Recorder) Median(rank int) float64 {
	s, found := r.stats[rank]
	if !found || len(s.bandwidths) == 0 {
		return 0
	}
	sorted := slices.Sorted(slices.Values(s.bandwidths))
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Average returns the mean bandwidth of rank, or 0 if none was recorded.
func (r *Recorder) Average(rank int) float64 {
	s, found := r.stats[rank]
	if !found || len(s.bandwidths) == 0 {
		return 0
	}
	return s.total / float64(len(s.bandwidths))
}

// Data returns a copy of all the bandwidths recorded for rank, in order.
func (r *Recorder) Data(rank int) []float64 {
	s, found := r.stats[rank]
	if !found {
		return nil
	}
	return slices.Clone(s.bandwidths)
}

// WorstOverall returns the lowest bandwidth recorded across all ranks and its transpose. Ties go to the lower
// rank. It returns 0 and nil slices if nothing was recorded.
func (r *Recorder) WorstOverall() (bandwidth float64, dims, perm []int) {
	worstRank := -1
	for _, rank := range r.Ranks() {
		if worstRank < 0 || r.stats[rank].min < r.stats[worstRank].min {
			worstRank = rank
		}
	}
	if worstRank < 0 {
		return 0, nil, nil
	}
	return r.WorstOf(worstRank)
}
