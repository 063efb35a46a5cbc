// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/gotranspose/backends"
	"github.com/gomlx/gotranspose/pkg/core/plan"
	"github.com/gomlx/gotranspose/pkg/support/timer"
	"github.com/gomlx/gotranspose/pkg/support/xslices"
	"github.com/gomlx/gotranspose/ui/commandline"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"k8s.io/klog/v2"
)

// sweepElementSizes are the element sizes drawn by the sweep.
var sweepElementSizes = []int{4, 8}

// randomRequest draws a random transpose of the given rank with at most maxVolume elements.
// Axes are at least 2 wide, so no axis is dropped by the reduction.
func randomRequest(rng *rand.Rand, rank, maxVolume int) plan.Request {
	dims := make([]int, rank)
	volume := 1
	for ii := range dims {
		dims[ii] = 2
		volume *= 2
	}
	// Grow random axes while it fits.
	for tries := 0; tries < 4*rank; tries++ {
		axis := rng.Intn(rank)
		factor := 2 + rng.Intn(15)
		if volume/dims[axis]*(dims[axis]*factor) > maxVolume {
			continue
		}
		volume = volume / dims[axis] * (dims[axis] * factor)
		dims[axis] *= factor
	}
	perm := xslices.Iota(0, rank)
	rng.Shuffle(rank, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	return plan.Request{Dims: dims, Perm: perm, ElementSize: sweepElementSizes[rng.Intn(len(sweepElementSizes))]}
}

// sweep plans numTransposes random transposes, shows the methods chosen and, with -activate, the bandwidth of
// the lookup table uploads per rank, measured over the bytes of the tables.
func sweep(planner *plan.Planner, numTransposes, rank, maxVolume int) {
	if rank < 1 {
		backends.Check(errors.Errorf("-rank must be >= 1, got %d", rank), "sweep")
	}
	rng := rand.New(rand.NewSource(*flagSeed))
	requests := make([]plan.Request, numTransposes)
	for ii := range requests {
		requests[ii] = randomRequest(rng, rank, maxVolume)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	progress := commandline.NewSweepProgress(numTransposes)
	plans, err := planner.PlanManyFunc(ctx, requests, func(_ int, p *plan.Plan) {
		var cycles float64
		if p.Estimate != nil {
			cycles = p.Estimate.Cycles
		}
		progress.Add(p.Method(), cycles)
	})
	counts := progress.Done()
	backends.Check(err, "planning sweep")
	klog.V(1).Infof("sweep of %d transposes: %v", numTransposes, counts)

	var recorder *timer.Recorder
	var stream backends.Stream
	backend := planner.Backend()
	if *flagActivate {
		stream, err = backend.NewStream(planner.DeviceNum())
		backends.Check(err, "creating stream")
		recorder = timer.NewRecorder(4, timer.New(backend, stream))
	}
	for ii, p := range plans {
		if recorder == nil || p.TableBytes() == 0 {
			// Nothing to upload.
			continue
		}
		backends.Check(recorder.StartBytes(requests[ii].Dims, requests[ii].Perm, p.TableBytes()), "starting timer")
		p.SetStream(stream)
		backends.Check(p.Activate(backend), "activating plan #%d", ii)
		backends.Check(recorder.Stop(), "stopping timer")
		backends.Check(p.Finalize(), "finalizing plan #%d", ii)
	}
	if recorder != nil {
		backends.Check(backend.StreamFinalize(stream), "finalizing stream")
		fmt.Println(bandwidthTable(recorder))
		bw, dims, perm := recorder.WorstOverall()
		fmt.Printf("Worst upload: %.2f GB/s for dims=%v perm=%v\n", bw, dims, perm)
	}
}

// bandwidthTable renders the per-rank statistics of the recorder.
func bandwidthTable(recorder *timer.Recorder) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Rank", "Count", "Best upload GB/s", "Median upload GB/s", "Average upload GB/s", "Worst upload GB/s")
	for _, rank := range recorder.Ranks() {
		table.Row(fmt.Sprint(rank), fmt.Sprint(len(recorder.Data(rank))),
			fmt.Sprintf("%.2f", recorder.Best(rank)), fmt.Sprintf("%.2f", recorder.Median(rank)),
			fmt.Sprintf("%.2f", recorder.Average(rank)), fmt.Sprintf("%.2f", recorder.Worst(rank)))
	}
	return table.String()
}
