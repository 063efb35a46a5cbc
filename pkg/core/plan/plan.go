// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plan creates execution plans for GPU tensor transposes, and selects the best one with an analytic
// performance model.
//
// The pipeline is: the axes are reduced (see permutations.Reduce), the enumerators of each Method propose every
// legal partition of the axes with its launch configuration (CreatePlans), the performance model estimates the
// cycles of each candidate (Plan.CountCycles) and ChoosePlanHeuristic picks the fastest.
// A Planner bundles all of that for one device of a backends.Backend.
//
// No kernel is ever executed: the chosen Plan is handed to a kernel-dispatch layer, after its lookup tables
// are uploaded to the device with Plan.Activate.
package plan

import (
	"github.com/gomlx/gotranspose/backends"
	"github.com/gomlx/gotranspose/pkg/core/permutations"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// noCopy may be embedded into structs which must not be copied after first use.
// See https://github.com/golang/go/issues/8005#issuecomment-190753527
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Estimate holds the outputs of the performance model for a plan.
type Estimate struct {
	// Cycles is the estimated execution time in device clock cycles: lower is better.
	Cycles float64

	// MLP is the average number of loads in flight per thread (memory-level parallelism).
	MLP float64

	// NumIter is the number of elements each thread moves per Mbar position.
	NumIter int

	// Global load/store requests (one per warp instruction) and transactions.
	GldReq, GstReq, GldTran, GstTran int64

	// Full and partially used L2 sectors (loads and stores) and L1 lines (loads).
	ClFullL2, ClPartL2, ClFullL1, ClPartL1 int64

	// Shared memory load/store requests and transactions (more transactions than requests means bank conflicts).
	SldReq, SstReq, SldTran, SstTran int64
}

// Plan to execute one transpose on one device.
//
// Plans are created by CreatePlans (or a Planner) and are immutable afterward, except for the bound stream and the
// device tables owned after Activate. Plans must not be copied, use pointers.
type Plan struct {
	noCopy noCopy

	// ID identifies the plan in logs and diagnostic dumps.
	ID uuid.UUID

	DeviceNum backends.DeviceNum
	stream    backends.Stream

	// Dims and Perm describe the original transpose, RedDims and RedPerm the reduced one the plan works on.
	Dims, Perm       []int
	RedDims, RedPerm []int

	ElementSize int

	Partition      Partition
	Launch         LaunchConfig
	NumActiveBlock int

	// Estimate is nil until the performance model is run, see CountCycles.
	Estimate *Estimate

	// Host lookup tables, mirrored to the device by Activate.
	HostMbar []TensorConvInOut
	HostMmk  []TensorConvInOut
	HostMsh  []TensorConv

	tables *deviceTables
}

// setup creates a plan for the partition and launch configuration, and builds its host lookup tables.
func setup(dims, perm, redDims, redPerm []int, elementSize int, deviceNum backends.DeviceNum,
	part Partition, lc LaunchConfig, numActiveBlock int) *Plan {
	p := &Plan{
		ID:             uuid.New(),
		DeviceNum:      deviceNum,
		Dims:           dims,
		Perm:           perm,
		RedDims:        redDims,
		RedPerm:        redPerm,
		ElementSize:    elementSize,
		Partition:      part,
		Launch:         lc,
		NumActiveBlock: numActiveBlock,
	}
	p.buildTables()
	return p
}

// Method of the plan.
func (p *Plan) Method() Method { return p.Partition.Method() }

// Rank of the reduced transpose.
func (p *Plan) Rank() int { return len(p.RedDims) }

// Volume is the number of elements transposed.
func (p *Plan) Volume() int { return permutations.Volume(p.RedDims) }

// Bytes moved by the transpose: each element is read once and written once.
func (p *Plan) Bytes() int64 { return 2 * int64(p.ElementSize) * int64(p.Volume()) }

// Stream returns the stream the plan is bound to. The plan doesn't own it.
func (p *Plan) Stream() backends.Stream { return p.stream }

// SetStream binds the plan to a stream. It can be changed at any time before a dispatch.
func (p *Plan) SetStream(stream backends.Stream) { p.stream = stream }

// IsActive returns whether the device tables have been uploaded.
func (p *Plan) IsActive() bool { return p.tables != nil }

// Activate allocates the device lookup tables and enqueues their upload in the plan's stream.
// It is a no-op if the plan is already active.
//
// The uploads are asynchronous: the stream must be synchronized (or the kernel enqueued in the same stream)
// before a kernel reads the tables.
func (p *Plan) Activate(backend backends.Backend) error {
	if p.tables != nil {
		return nil
	}
	if p.stream == nil {
		return errors.Errorf("plan %s: activating requires a stream, use SetStream first", p.ID)
	}
	tables, err := uploadTables(backend, p.DeviceNum, p.stream, p.HostMbar, p.HostMmk, p.HostMsh)
	if err != nil {
		return errors.WithMessagef(err, "activating plan %s (%s)", p.ID, p.Method())
	}
	p.tables = tables
	klog.V(2).Infof("plan %s (%s) activated on device %d", p.ID, p.Method(), p.DeviceNum)
	return nil
}

// TableBytes returns the number of bytes Activate uploads to the device: the encoded Mbar, Mmk and Msh tables.
func (p *Plan) TableBytes() int64 {
	return int64((len(p.HostMbar)+len(p.HostMmk))*tensorConvInOutBytes + len(p.HostMsh)*tensorConvBytes)
}

// DeviceTables returns the device buffers with the Mbar, Mmk and Msh lookup tables, laid out as little-endian
// int32 (6 per TensorConvInOut, 3 per TensorConv). Tables a method doesn't use are nil, and all are nil before
// Activate.
func (p *Plan) DeviceTables() (mbar, mmk, msh backends.Buffer) {
	if p.tables == nil {
		return nil, nil, nil
	}
	return p.tables.mbar, p.tables.mmk, p.tables.msh
}

// Finalize releases the device tables. The plan can be activated again afterward.
// It is a no-op if the plan is not active.
func (p *Plan) Finalize() error {
	if p.tables == nil {
		return nil
	}
	err := p.tables.release()
	p.tables = nil
	if err != nil {
		return errors.WithMessagef(err, "finalizing plan %s", p.ID)
	}
	return nil
}
