// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"github.com/gomlx/gotranspose/backends"
	"golang.org/x/exp/rand"
	"k8s.io/klog/v2"
)

// CountCycles runs the performance model on the plan and stores the result in p.Estimate.
//
// The model replays, warp by warp, the memory accesses the kernel does through the plan's lookup tables, counting
// global requests and transactions, cache line use and shared memory bank conflicts. The estimated cycles are the
// largest of a DRAM bandwidth bound, an instruction issue bound and a latency bound, plus a launch overhead.
//
// If numPosMbarSample > 0 and the Mbar space is larger, only numPosMbarSample Mbar positions, drawn from rng, are
// replayed and the counts are scaled. With numPosMbarSample == 0 every position is replayed.
// If rng is nil, a source seeded with 0 is used.
func (p *Plan) CountCycles(props backends.DeviceProperties, params ModelParams, numPosMbarSample int, rng *rand.Rand) {
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}
	m := &modeler{
		plan:      p,
		props:     props,
		params:    params,
		numSample: numPosMbarSample,
		rng:       rng,
		loads:     newGlobalCounter(params, true),
		stores:    newGlobalCounter(params, false),
	}
	est := &Estimate{}
	switch part := p.Partition.(type) {
	case TrivialPartition:
		m.trivial(part, est)
	case PackedPartition:
		m.packed(part.AxisGroups, nil, est)
	case SplitPartition:
		m.packed(part.AxisGroups, &part, est)
	case TiledPartition, TiledCopyPartition:
		m.tiled(part, est)
	}
	est.GldReq, est.GldTran = m.loads.req, m.loads.tran
	est.GstReq, est.GstTran = m.stores.req, m.stores.tran
	est.ClFullL1, est.ClPartL1 = m.loads.fullL1, m.loads.partL1
	est.ClFullL2 = m.loads.fullL2 + m.stores.fullL2
	est.ClPartL2 = m.loads.partL2 + m.stores.partL2
	est.MLP = max(est.MLP, 1)
	est.Cycles = m.cycles(est)
	p.Estimate = est
	if klog.V(2).Enabled() {
		klog.Infof("\tmodel %s: %.0f cycles, mlp %.2f, gld %d/%d, gst %d/%d, L2 %d/%d, sld %d/%d, sst %d/%d",
			p.Partition, est.Cycles, est.MLP, est.GldReq, est.GldTran, est.GstReq, est.GstTran,
			est.ClFullL2, est.ClPartL2, est.SldReq, est.SldTran, est.SstReq, est.SstTran)
	}
}

// modeler holds the state of one run of the performance model.
type modeler struct {
	plan      *Plan
	props     backends.DeviceProperties
	params    ModelParams
	numSample int
	rng       *rand.Rand

	loads, stores *globalCounter
}

// cycles combines the counts into the estimated execution time.
func (m *modeler) cycles(est *Estimate) float64 {
	props, params, lc := m.props, m.params, m.plan.Launch
	bytesPerCycle := props.MemoryBandwidth() / (float64(props.ClockRateKHz) * 1e3)
	sectors := float64(est.ClFullL2) + float64(est.ClPartL2)*(1+params.PartialSectorPenalty)
	dram := sectors * float64(params.L2LineBytes) / bytesPerCycle

	totalBlocks := lc.NumBlock.Total()
	smsUsed := float64(max(1, min(props.MultiProcessorCount, totalBlocks)))
	issue := (float64(est.GldReq+est.GstReq+est.SldReq+est.SstReq)*params.CyclesPerRequest +
		float64(est.GldTran+est.GstTran)*params.CyclesPerTransaction +
		float64(est.SldTran+est.SstTran)*params.CyclesPerSharedTransaction) / smsUsed

	warpsPerBlock := ceilDiv(lc.NumThread.Total(), props.WarpSize)
	residentBlocks := max(1, min(m.plan.NumActiveBlock, ceilDiv(totalBlocks, props.MultiProcessorCount)))
	mwp := min(float64(residentBlocks*warpsPerBlock)*est.MLP, params.MaxMWP)
	latency := float64(est.GldReq+est.GstReq) * params.DRAMLatency / (mwp * smsUsed)

	return max(dram, issue, latency) + params.LaunchCycles
}

// sample returns the positions in [0, n) to replay and the factor that scales their counts to all n positions.
// With numSample <= 0 or n <= numSample all positions are returned.
func (m *modeler) sample(n, numSample int) ([]int, float64) {
	if numSample <= 0 || n <= numSample {
		positions := make([]int, n)
		for i := range positions {
			positions[i] = i
		}
		return positions, 1
	}
	positions := make([]int, numSample)
	for i := range positions {
		positions[i] = m.rng.Intn(n)
	}
	return positions, float64(n) / float64(numSample)
}

// trivial models the copy kernel: a memcpy, or a grid-stride loop where each thread reads input positions in order
// and writes them through the Mbar table.
func (m *modeler) trivial(part TrivialPartition, est *Estimate) {
	p := m.plan
	warp := m.props.WarpSize
	volume := part.VolMmk * part.VolMbar
	lc := p.Launch
	est.NumIter = ceilDiv(volume, lc.NumThread.Total()*lc.NumBlock.Total())
	est.MLP = 1

	m.loads.addContiguous(0, volume, p.ElementSize, warp)
	if part.IsMemcpy() {
		m.stores.addContiguous(0, volume, p.ElementSize, warp)
		return
	}

	numWarps := ceilDiv(volume, warp)
	numSample := 0
	if m.numSample > 0 {
		numSample = m.numSample * m.params.TrivialWarpSamples
	}
	warps, factor := m.sample(numWarps, numSample)
	stores := newGlobalCounter(m.params, false)
	lanes := make([]int, warp)
	for _, w := range warps {
		for lane := range lanes {
			pos := w*warp + lane
			lanes[lane] = -1
			if pos < volume {
				lanes[lane] = convOut(p.HostMbar, pos)
			}
		}
		stores.addWarp(lanes, p.ElementSize)
	}
	m.stores.add(stores, factor)
}
