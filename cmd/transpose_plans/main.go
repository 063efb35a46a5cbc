// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// transpose_plans creates the plans for a tensor transpose on a device, reports them and the one the heuristic
// chooses, and optionally dumps them for calibration of the performance model.
//
// Examples:
//
//	$ transpose_plans -backend=simgpu:v100 -dims=64,32,16 -perm=2,0,1 -dtype=Float64 -all
//	$ transpose_plans -backend=simgpu:h100 -sweep=1000 -rank=4 -activate
//	$ transpose_plans -dims=64,32,16 -perm=2,0,1 -times=measured.txt -matlab=- -points=~/points.json
//	$ transpose_plans -plot=~/cycles.png -points=~/points.json
package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gotranspose/backends"
	"github.com/gomlx/gotranspose/backends/simgpu"
	"github.com/gomlx/gotranspose/pkg/core/plan"
	"github.com/gomlx/gotranspose/pkg/support/xslices"
	"github.com/gomlx/gotranspose/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "",
		fmt.Sprintf("Backend configuration, formatted as \"<backend>:<config>\". E.g.: \"simgpu:a100\". "+
			"If empty, it uses $%s or the first registered backend.", backends.GOTRANSPOSE_BACKEND))
	flagDevice  = flag.Int("device", 0, "Device number to plan for.")
	flagDims    = xslices.IntsFlag("dims", []int{64, 32, 16}, "Dimensions of the input tensor, axis 0 is the fastest varying.")
	flagPerm    = xslices.IntsFlag("perm", []int{2, 0, 1}, "Permutation: output axis i is input axis perm[i].")
	flagDType   = flag.String("dtype", "Float32", "Data type of the elements, it defines the element size.")
	flagSamples = flag.Int("samples", plan.DefaultMbarSamples,
		"Number of Mbar positions sampled by the performance model, 0 counts all of them.")
	flagSeed     = flag.Uint64("seed", 42, "Seed used to sample positions by the performance model and by -sweep.")
	flagAll      = flag.Bool("all", false, "Print a table with all the candidate plans.")
	flagVerbose  = flag.Bool("verbose", false, "Print the details of the chosen plan.")
	flagActivate = flag.Bool("activate", false, "Activate the chosen plan(s): upload the lookup tables to the device.")
	flagTimes    = flag.String("times", "",
		"File with the measured time (in seconds) of each candidate plan, one per line, in the order of -all. "+
			"Used in the table, in -matlab and in -points.")
	flagMatlab = flag.String("matlab", "", "File where to dump the candidate plans in MATLAB format, \"-\" for stdout.")
	flagPoints = flag.String("points", "", "File where to append the (estimated cycles, measured time) points, "+
		"requires -times. With -plot, the points to plot.")
	flagPlot    = flag.String("plot", "", "Plot the points in -points into the given file (e.g. \"cycles.png\") and exit.")
	flagSweep   = flag.Int("sweep", 0, "If > 0, plan that many random transposes of rank -rank, and print statistics.")
	flagRank    = flag.Int("rank", 3, "Rank of the random transposes of -sweep.")
	flagMaxVol  = flag.Int("max_volume", 1<<24, "Maximum number of elements of the random transposes of -sweep.")
	flagPresets = flag.Bool("presets", false, "List the registered backends and the simulated device presets and exit.")
)

func main() {
	modelSettings := commandline.CreateModelSettingsFlag(plan.DefaultModelParams(backends.FamilyCUDA), "")
	klog.InitFlags(nil)
	flag.Parse()

	if *flagPresets {
		fmt.Printf("Backends: %s\n", strings.Join(backends.List(), ", "))
		for _, name := range simgpu.Presets() {
			props := must.M1(simgpu.Preset(name))
			fmt.Printf("\t%s:%-8s %s\n", simgpu.BackendName, name, props)
		}
		return
	}
	if *flagPlot != "" {
		backends.Check(plotPoints(*flagPoints, *flagPlot), "plotting %q", *flagPoints)
		return
	}

	err := exceptions.TryCatch[error](func() {
		var backend backends.Backend
		var err error
		if *flagBackend == "" {
			backend, err = backends.New()
		} else {
			backend, err = backends.NewWithConfig(*flagBackend)
		}
		backends.Check(err, "creating backend %q", *flagBackend)
		defer backend.Finalize()

		planner := newPlanner(backend, *modelSettings)
		if *flagSweep > 0 {
			sweep(planner, *flagSweep, *flagRank, *flagMaxVol)
			return
		}
		dtype := must.M1(dtypes.DTypeString(*flagDType))
		reportTranspose(planner, *flagDims, *flagPerm, int(dtype.Size()))
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}

// newPlanner creates the planner for -device, with the model parameters of the device family updated
// by the -model settings.
func newPlanner(backend backends.Backend, modelSettings string) *plan.Planner {
	deviceNum := backends.DeviceNum(*flagDevice)
	family := backend.Capabilities().Family
	if props, err := backend.DeviceProperties(deviceNum); err == nil {
		family = props.Family
	}
	params := plan.DefaultModelParams(family)
	paramsSet, err := commandline.ParseModelSettings(&params, modelSettings)
	backends.Check(err, "parsing -model settings")
	if len(paramsSet) > 0 {
		fmt.Printf("Model parameters set:\n%s\n", commandline.SprintModifiedModelSettings(params, paramsSet))
	}
	planner, err := plan.NewPlanner(backend, deviceNum,
		plan.WithModelParams(params), plan.WithMbarSamples(*flagSamples), plan.WithSeed(*flagSeed))
	backends.Check(err, "creating planner for device %d of %s", deviceNum, backend.Description())
	if !planner.IsModeled() {
		klog.Warningf("Device properties not available: plans are chosen by method preference, not by the model.")
	}
	return planner
}
