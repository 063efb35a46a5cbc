// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/gotranspose/backends"
	"github.com/gomlx/gotranspose/pkg/core/plan"
	"github.com/gomlx/gotranspose/pkg/support/fsutil"
	"github.com/gomlx/gotranspose/pkg/support/timer"
	"github.com/gomlx/gotranspose/ui/commandline"
	"github.com/gomlx/gotranspose/ui/plots"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// reportTranspose creates all plans for one transpose, and prints and dumps them as requested by the flags.
func reportTranspose(planner *plan.Planner, dims, perm []int, elementSize int) {
	plans, err := planner.CreatePlans(dims, perm, elementSize)
	backends.Check(err, "creating plans for dims=%v perm=%v", dims, perm)
	if len(plans) == 0 {
		backends.Check(plan.ErrNoPlan, "dims=%v perm=%v", dims, perm)
	}
	chosen := plan.ChoosePlanHeuristic(plans)

	var times []float64
	if *flagTimes != "" {
		times, err = readTimes(*flagTimes)
		backends.Check(err, "reading -times")
		if len(times) != len(plans) {
			backends.Check(errors.Errorf("%d times for %d plans", len(times), len(plans)), "reading -times %q",
				*flagTimes)
		}
	}

	fmt.Printf("Device: %s\n", planner.DeviceProperties())
	if *flagAll || times != nil {
		fmt.Println(commandline.PlansTable(plans, chosen, times))
	}
	fmt.Printf("Chosen: %s\n", commandline.SprintPlanSummary(plans[chosen]))
	if *flagVerbose {
		fmt.Println(plans[chosen])
	}

	if *flagActivate {
		activate(planner, plans[chosen])
	}
	if *flagMatlab != "" {
		f := must.M1(fsutil.CreateFile(*flagMatlab))
		backends.Check(plan.WriteMatlab(f, planner.DeviceProperties(), plans, times), "writing %q", *flagMatlab)
		if f != os.Stdout {
			backends.Check(f.Close(), "closing %q", *flagMatlab)
		}
	}
	if *flagPoints != "" {
		if times == nil {
			backends.Check(errors.New("-points requires -times"), "writing points")
		}
		writer, errReport := plots.CreatePointsWriter(*flagPoints)
		for ii, p := range plans {
			var cycles float64
			if p.Estimate != nil {
				cycles = p.Estimate.Cycles
			}
			writer <- plots.Point{Method: p.Method().String(), Dims: dims, Perm: perm, ElementSize: elementSize,
				Cycles: cycles, Seconds: times[ii]}
		}
		close(writer)
		backends.Check(<-errReport, "writing points to %q", *flagPoints)
	}
}

// activate uploads the plan tables to the device and reports how long it took.
func activate(planner *plan.Planner, p *plan.Plan) {
	backend := planner.Backend()
	stream, err := backend.NewStream(planner.DeviceNum())
	backends.Check(err, "creating stream")
	defer func() { backends.Check(backend.StreamFinalize(stream), "finalizing stream") }()

	t := timer.New(backend, stream)
	backends.Check(t.Start(), "starting timer")
	p.SetStream(stream)
	backends.Check(p.Activate(backend), "activating plan")
	backends.Check(t.Stop(), "stopping timer")
	fmt.Printf("Activated in %s\n", commandline.FormatDuration(t.Elapsed()))
	backends.Check(p.Finalize(), "finalizing plan")
}

// readTimes reads one number per line, skipping empty lines and lines starting with "#".
func readTimes(filePath string) ([]float64, error) {
	expanded, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()
	var times []float64
	scanner := bufio.NewScanner(f)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", filePath, lineNum)
		}
		times = append(times, v)
	}
	return times, errors.Wrapf(scanner.Err(), "reading %q", filePath)
}

// plotPoints saves the plot of the points in pointsPath to plotPath.
func plotPoints(pointsPath, plotPath string) error {
	if pointsPath == "" {
		return errors.New("-plot requires -points")
	}
	points, err := plots.LoadPoints(pointsPath)
	if err != nil {
		return err
	}
	if *flagAll {
		fmt.Println(plots.Table(points))
	}
	return plots.SaveCyclesVsTime(plotPath, fmt.Sprintf("Estimated cycles vs measured time (%d plans)", len(points)),
		points)
}
