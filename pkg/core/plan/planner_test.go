// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gotranspose/backends"
	"github.com/gomlx/gotranspose/backends/simgpu"
	"github.com/gomlx/gotranspose/pkg/core/permutations"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlannerEndToEnd(t *testing.T) {
	planner, err := NewPlanner(backend, 0)
	require.NoError(t, err)
	require.True(t, planner.IsModeled())

	plans, err := planner.CreatePlans([]int{64, 32, 16}, []int{2, 0, 1}, 8)
	require.NoError(t, err)
	tiled, trivial := findPlan(plans, Tiled), findPlan(plans, Trivial)
	require.NotNil(t, tiled)
	require.NotNil(t, trivial)
	minCycles := plans[0].Estimate.Cycles
	for _, p := range plans {
		require.NotNil(t, p.Estimate)
		assert.Equal(t, []int{2048, 16}, p.RedDims)
		assert.Equal(t, []int{1, 0}, p.RedPerm)
		minCycles = min(minCycles, p.Estimate.Cycles)
	}

	chosen, err := planner.Plan([]int{64, 32, 16}, []int{2, 0, 1}, 8)
	require.NoError(t, err)
	assert.Equal(t, minCycles, chosen.Estimate.Cycles)
	if tiled.Estimate.Cycles < trivial.Estimate.Cycles {
		assert.NotEqual(t, Trivial, chosen.Method())
	}
}

func TestPlannerRank1(t *testing.T) {
	planner, err := NewPlanner(backend, 0)
	require.NoError(t, err)
	plans, err := planner.CreatePlans([]int{1024}, []int{0}, 4)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, Trivial, plans[0].Method())
	assert.True(t, plans[0].Partition.(TrivialPartition).IsMemcpy())

	// Identity permutations and unit axes reduce to rank 1 too.
	p, err := planner.Plan([]int{4, 1, 8}, []int{0, 1, 2}, 2)
	require.NoError(t, err)
	assert.Equal(t, Trivial, p.Method())
	assert.Equal(t, []int{32}, p.RedDims)
}

func TestPlannerInvalid(t *testing.T) {
	planner, err := NewPlanner(backend, 0)
	require.NoError(t, err)
	_, err = planner.Plan([]int{4, 5}, []int{0, 0}, 4)
	require.Error(t, err)
	_, err = planner.Plan([]int{4, 5}, []int{1, 0, 2}, 4)
	require.Error(t, err)
	_, err = planner.Plan([]int{4, 0}, []int{1, 0}, 4)
	require.Error(t, err)
	_, err = planner.Plan([]int{4, 5}, []int{1, 0}, 0)
	require.Error(t, err)

	_, err = NewPlanner(backend, 0, WithModelParams(ModelParams{}))
	require.Error(t, err)
	_, err = NewPlanner(backend, 7)
	require.Error(t, err, "simgpu:v100 has a single device")
}

func TestPlannerLargeVolume(t *testing.T) {
	planner, err := NewPlanner(backend, 0)
	require.NoError(t, err)
	dims, perm := []int{65536, 32768, 2}, []int{1, 0, 2}
	_, err = planner.CreatePlans(dims, perm, 1)
	require.ErrorContains(t, err, "elements")
	_, err = planner.Plan(dims, perm, 1)
	require.Error(t, err)

	props, err := simgpu.Preset("a100")
	require.NoError(t, err)
	caps := backends.CapabilitiesFor(props.Family, props.WarpSize)
	params := DefaultModelParams(props.Family)
	redDims, redPerm := permutations.Reduce(dims, perm)
	require.Empty(t, CreatePlans(dims, perm, redDims, redPerm, 1, 0, props, caps, params))

	// Just below the limit every table value fits: strides are stored exactly.
	dims, perm = []int{46340, 46340}, []int{1, 0}
	redDims, redPerm = permutations.Reduce(dims, perm)
	plans := CreatePlans(dims, perm, redDims, redPerm, 1, 0, props, caps, params)
	require.NotEmpty(t, plans)
	inStrides := permutations.Strides(redDims)
	outStrides := permutations.Strides(permutations.Apply(redDims, redPerm))
	for _, p := range plans {
		for _, e := range p.HostMbar {
			assert.Containsf(t, inStrides, int(e.CtIn), "%s: Mbar input stride", p.Method())
			assert.Containsf(t, outStrides, int(e.CtOut), "%s: Mbar output stride", p.Method())
		}
		for _, e := range append(slices.Clone(p.HostMbar), p.HostMmk...) {
			for _, v := range []int32{e.CIn, e.DIn, e.CtIn, e.COut, e.DOut, e.CtOut} {
				assert.GreaterOrEqualf(t, v, int32(0), "%s: %+v", p.Method(), e)
			}
		}
	}
}

func TestPlannerDType(t *testing.T) {
	planner, err := NewPlanner(backend, 0, WithSeed(3))
	require.NoError(t, err)
	p1, err := planner.PlanDType(dtypes.Float64, []int{64, 32, 16}, []int{2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, 8, p1.ElementSize)
	p2, err := planner.Plan([]int{64, 32, 16}, []int{2, 0, 1}, 8)
	require.NoError(t, err)
	assert.Equal(t, p1.Method(), p2.Method())
	assert.Equal(t, p1.Estimate.Cycles, p2.Estimate.Cycles)
	assert.NotEqual(t, p1.ID, p2.ID)

	p3, err := planner.PlanDType(dtypes.Int16, []int{10, 20}, []int{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, p3.ElementSize)
}

func TestPlanMany(t *testing.T) {
	planner, err := NewPlanner(backend, 0, WithMbarSamples(4), WithSeed(11))
	require.NoError(t, err)
	requests := []Request{
		{Dims: []int{64, 32, 16}, Perm: []int{2, 0, 1}, ElementSize: 8},
		{Dims: []int{1024}, Perm: []int{0}, ElementSize: 4},
		{Dims: []int{7, 9, 11, 13}, Perm: []int{3, 1, 0, 2}, ElementSize: 4},
		{Dims: []int{30, 40, 50}, Perm: []int{0, 2, 1}, ElementSize: 2},
		{Dims: []int{8, 8}, Perm: []int{1, 0}, ElementSize: 4},
	}
	plans, err := planner.PlanMany(context.Background(), requests)
	require.NoError(t, err)
	require.Len(t, plans, len(requests))
	for ii, req := range requests {
		want, err := planner.Plan(req.Dims, req.Perm, req.ElementSize)
		require.NoError(t, err)
		assert.Equal(t, req.Dims, plans[ii].Dims)
		assert.Equal(t, want.Method(), plans[ii].Method(), "request #%d", ii)
		assert.Equal(t, want.Estimate.Cycles, plans[ii].Estimate.Cycles, "request #%d", ii)
	}

	requests = append(requests, Request{Dims: []int{2, 3}, Perm: []int{0, 0}, ElementSize: 4})
	_, err = planner.PlanMany(context.Background(), requests)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request #5")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = planner.PlanMany(ctx, requests[:1])
	require.ErrorIs(t, err, context.Canceled)
}

func TestPlanManyFunc(t *testing.T) {
	planner, err := NewPlanner(backend, 0, WithMbarSamples(4), WithSeed(11))
	require.NoError(t, err)
	requests := make([]Request, 32)
	for ii := range requests {
		requests[ii] = Request{Dims: []int{8 + ii, 16, 4}, Perm: []int{2, 0, 1}, ElementSize: 4}
	}
	var numCalls atomic.Int32
	seen := make([]*Plan, len(requests))
	var mu sync.Mutex
	plans, err := planner.PlanManyFunc(context.Background(), requests, func(index int, p *Plan) {
		numCalls.Add(1)
		mu.Lock()
		defer mu.Unlock()
		seen[index] = p
	})
	require.NoError(t, err)
	assert.Equal(t, int32(len(requests)), numCalls.Load())
	for ii := range requests {
		assert.Same(t, plans[ii], seen[ii], "request #%d", ii)
	}
}

// noPropsBackend is a backend that can't report its device properties.
type noPropsBackend struct {
	backends.Backend
}

func (noPropsBackend) DeviceProperties(backends.DeviceNum) (backends.DeviceProperties, error) {
	return backends.DeviceProperties{}, errors.New("device properties not available")
}

func TestPlannerWithoutModel(t *testing.T) {
	planner, err := NewPlanner(noPropsBackend{backend}, 0)
	require.NoError(t, err)
	assert.False(t, planner.IsModeled())
	assert.Equal(t, backends.DefaultDeviceProperties(backends.FamilyCUDA), planner.DeviceProperties())
	plans, err := planner.CreatePlans([]int{64, 32, 16}, []int{2, 0, 1}, 4)
	require.NoError(t, err)
	for _, p := range plans {
		assert.Nil(t, p.Estimate)
	}
	p, err := planner.Plan([]int{64, 32, 16}, []int{2, 0, 1}, 4)
	require.NoError(t, err)
	assert.Equal(t, Tiled, p.Method())

	// Given properties enable the model again.
	props, err := simgpu.Preset("h100")
	require.NoError(t, err)
	planner, err = NewPlanner(noPropsBackend{backend}, 0, WithDeviceProperties(props))
	require.NoError(t, err)
	assert.True(t, planner.IsModeled())
	assert.Equal(t, 132, planner.DeviceProperties().MultiProcessorCount)
}

func TestWriteMatlab(t *testing.T) {
	planner, err := NewPlanner(backend, 0)
	require.NoError(t, err)
	plans, err := planner.CreatePlans([]int{64, 32, 16}, []int{2, 0, 1}, 8)
	require.NoError(t, err)
	times := make([]float64, len(plans))
	for i := range times {
		times[i] = 1e-5 * float64(i+1)
	}
	var buf bytes.Buffer
	require.NoError(t, WriteMatlab(&buf, planner.DeviceProperties(), plans, times))
	out := buf.String()
	assert.Contains(t, out, "plans = [")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var rows int
	for _, line := range lines {
		if line != "" && line[0] >= '0' && line[0] <= '9' {
			rows++
			assert.Len(t, strings.Fields(line), len(matlabColumns))
		}
	}
	assert.Equal(t, len(plans), rows)

	buf.Reset()
	require.NoError(t, WriteMatlab(&buf, planner.DeviceProperties(), plans, nil))
	require.Error(t, WriteMatlab(&buf, planner.DeviceProperties(), plans, times[:1]))
}
