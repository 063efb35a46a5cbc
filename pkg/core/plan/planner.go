// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"context"
	"runtime"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gotranspose/backends"
	"github.com/gomlx/gotranspose/pkg/core/permutations"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// ErrNoPlan is returned (wrapped) when no legal plan is found for a transpose.
var ErrNoPlan = errors.New("no legal transpose plan")

// DefaultMbarSamples is the default number of Mbar positions replayed by the performance model.
const DefaultMbarSamples = 10

// Planner creates transpose plans for one device of a backend.
//
// It is immutable after creation, and can be used concurrently.
type Planner struct {
	backend   backends.Backend
	deviceNum backends.DeviceNum
	props     backends.DeviceProperties
	caps      backends.Capabilities
	params    ModelParams

	// modeled is false if the device properties are unknown: plans are then chosen by rule.
	modeled bool

	numPosMbarSample int
	seed             uint64

	paramsSet bool
}

// Option configures a Planner, see NewPlanner.
type Option func(p *Planner)

// WithModelParams overrides the default parameters of the performance model for the device family.
func WithModelParams(params ModelParams) Option {
	return func(p *Planner) {
		p.params = params
		p.paramsSet = true
	}
}

// WithMbarSamples sets the number of Mbar positions the performance model replays per plan.
// 0 replays all of them. The default is DefaultMbarSamples.
func WithMbarSamples(numPosMbarSample int) Option {
	return func(p *Planner) {
		p.numPosMbarSample = max(numPosMbarSample, 0)
	}
}

// WithSeed sets the seed of the random source used to sample Mbar positions. Planning is deterministic for a seed.
func WithSeed(seed uint64) Option {
	return func(p *Planner) {
		p.seed = seed
	}
}

// WithDeviceProperties overrides the device properties reported by the backend.
func WithDeviceProperties(props backends.DeviceProperties) Option {
	return func(p *Planner) {
		p.props = props
		p.modeled = true
	}
}

// NewPlanner creates a Planner for the device deviceNum of backend.
//
// If the backend can't report the device properties (and they are not given with WithDeviceProperties), the planner
// uses conservative limits and skips the performance model: plans are then chosen by rule.
func NewPlanner(backend backends.Backend, deviceNum backends.DeviceNum, opts ...Option) (*Planner, error) {
	if deviceNum < 0 || deviceNum >= backend.NumDevices() {
		return nil, errors.Errorf("creating Planner: invalid device %d, backend %s has %d device(s)", deviceNum,
			backend.Name(), backend.NumDevices())
	}
	p := &Planner{
		backend:          backend,
		deviceNum:        deviceNum,
		caps:             backend.Capabilities(),
		numPosMbarSample: DefaultMbarSamples,
	}
	for _, opt := range opts {
		opt(p)
	}
	if !p.modeled {
		props, err := backend.DeviceProperties(deviceNum)
		if err != nil {
			klog.Warningf("Planner: device properties of %s device %d not available, choosing plans by rule: %v",
				backend.Name(), deviceNum, err)
			props = backends.DefaultDeviceProperties(p.caps.Family)
		} else {
			p.modeled = true
		}
		p.props = props
	}
	if err := p.props.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "creating Planner for %s device %d", backend.Name(), deviceNum)
	}
	if err := p.caps.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "creating Planner for %s", backend.Name())
	}
	if !p.paramsSet {
		p.params = DefaultModelParams(p.props.Family)
	}
	if err := p.params.Validate(); err != nil {
		return nil, err
	}
	klog.V(1).Infof("Planner for %s device %d: %s, tile %dx%d", backend.Name(), deviceNum, p.props,
		p.caps.TileDim, p.caps.TileRows)
	return p, nil
}

// Backend used by the planner.
func (p *Planner) Backend() backends.Backend { return p.backend }

// DeviceNum the planner creates plans for.
func (p *Planner) DeviceNum() backends.DeviceNum { return p.deviceNum }

// DeviceProperties used by the planner.
func (p *Planner) DeviceProperties() backends.DeviceProperties { return p.props }

// Capabilities of the backend kernels.
func (p *Planner) Capabilities() backends.Capabilities { return p.caps }

// ModelParams used by the planner.
func (p *Planner) ModelParams() ModelParams { return p.params }

// IsModeled returns whether the planner runs the performance model. It is false if the device properties are unknown.
func (p *Planner) IsModeled() bool { return p.modeled }

// CreatePlans returns every legal plan for the transpose, modeled with the performance model (unless the device
// properties are unknown).
func (p *Planner) CreatePlans(dims, perm []int, elementSize int) ([]*Plan, error) {
	if err := permutations.Validate(dims, perm); err != nil {
		return nil, err
	}
	if err := permutations.ValidateVolume(dims); err != nil {
		return nil, err
	}
	if elementSize <= 0 {
		return nil, errors.Errorf("invalid element size %d, it must be > 0", elementSize)
	}
	redDims, redPerm := permutations.Reduce(dims, perm)
	plans := CreatePlans(dims, perm, redDims, redPerm, elementSize, p.deviceNum, p.props, p.caps, p.params)
	if p.modeled {
		rng := rand.New(rand.NewSource(p.seed))
		for _, plan := range plans {
			plan.CountCycles(p.props, p.params, p.numPosMbarSample, rng)
		}
	}
	return plans, nil
}

// Plan creates the plans for the transpose and returns the one chosen by ChoosePlanHeuristic.
func (p *Planner) Plan(dims, perm []int, elementSize int) (*Plan, error) {
	plans, err := p.CreatePlans(dims, perm, elementSize)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, errors.Wrapf(ErrNoPlan, "transpose of dims=%v by perm=%v with %d bytes elements", dims, perm,
			elementSize)
	}
	return plans[ChoosePlanHeuristic(plans)], nil
}

// PlanDType is like Plan, with the element size given by the dtype.
func (p *Planner) PlanDType(dtype dtypes.DType, dims, perm []int) (*Plan, error) {
	elementSize := int(dtype.Size())
	if elementSize <= 0 {
		return nil, errors.Errorf("dtype %s has no fixed element size", dtype)
	}
	return p.Plan(dims, perm, elementSize)
}

// Request for a transpose plan, see PlanMany.
type Request struct {
	Dims, Perm  []int
	ElementSize int
}

// PlanMany plans the requests in parallel, and returns the chosen plan of each one in the same order.
// It stops at the first error.
func (p *Planner) PlanMany(ctx context.Context, requests []Request) ([]*Plan, error) {
	return p.PlanManyFunc(ctx, requests, nil)
}

// PlanManyFunc is like PlanMany, and calls onPlan (if not nil) as soon as each request is planned, with the index
// of the request. onPlan may be called concurrently from different goroutines.
func (p *Planner) PlanManyFunc(ctx context.Context, requests []Request, onPlan func(index int, plan *Plan)) ([]*Plan, error) {
	plans := make([]*Plan, len(requests))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for ii, req := range requests {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			plan, err := p.Plan(req.Dims, req.Perm, req.ElementSize)
			if err != nil {
				return errors.WithMessagef(err, "request #%d", ii)
			}
			plans[ii] = plan
			if onPlan != nil {
				onPlan(ii, plan)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return plans, nil
}
