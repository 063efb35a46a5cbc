// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"github.com/gomlx/gotranspose/pkg/core/permutations"
)

// splitAxis locates the split axis in the Mmk tables: in an Mmk position its coordinate is (pos/cIn)%extent in input
// order and (pos/cOut)%extent in output order.
type splitAxis struct {
	cIn, cOut, extent int
}

func (p *Plan) splitAxis(split *SplitPartition) splitAxis {
	k := 0
	for axis := range split.SplitRank {
		if split.IsMmk(axis) {
			k++
		}
	}
	e := p.HostMsh[k]
	return splitAxis{cIn: int(e.C), cOut: int(e.Ct), extent: int(e.D)}
}

// packed models the Packed and PackedSplit kernels. Each block handles one Mbar position (and one split): every
// thread loads NumRegStorage elements of Mmk in input order through the Mmk table, stores them in shared memory at
// their output-ordered position (Msh table), then after a barrier reads them back in output order and writes them
// to global memory.
//
// split is nil for Packed plans.
func (m *modeler) packed(g AxisGroups, split *SplitPartition, est *Estimate) {
	p := m.plan
	elementSize := p.ElementSize
	warp := m.props.WarpSize
	threads := p.Launch.NumThread.X
	numRegStorage := p.Launch.NumRegStorage
	volMmk := p.Partition.VolMmkUsed()

	// Per Mmk position: global offsets and shared memory position.
	inOff := make([]int, volMmk)
	outOff := make([]int, volMmk)
	shPos := make([]int, volMmk)
	for pos := range volMmk {
		inOff[pos] = convIn(p.HostMmk, pos)
		outOff[pos] = convOut(p.HostMmk, pos)
		shPos[pos] = conv(p.HostMsh, pos)
	}

	numSplit := 1
	var sa splitAxis
	var splitInStride, splitOutStride int
	if split != nil {
		numSplit = split.NumSplit
		sa = p.splitAxis(split)
		splitInStride = permutations.Strides(p.RedDims)[split.SplitRank]
		outStrides := permutations.Strides(permutations.Apply(p.RedDims, p.RedPerm))
		splitOutStride = outStrides[permutations.Inverse(p.RedPerm)[split.SplitRank]]
	}
	// activeIn/activeOut report whether an Mmk position (in input or output order) exists in the split.
	extent := 0
	activeIn := func(pos int) bool {
		return pos < volMmk && (split == nil || (pos/sa.cIn)%sa.extent < extent)
	}
	activeOut := func(pos int) bool {
		return pos < volMmk && (split == nil || (pos/sa.cOut)%sa.extent < extent)
	}

	loads := newGlobalCounter(m.params, true)
	stores := newGlobalCounter(m.params, false)
	lanes := make([]int, warp)
	numWarps := ceilDiv(threads, warp)
	positions, factor := m.sample(g.VolMbar, m.numSample)
	var activeLanes, activeThreads int64
	for s := range numSplit {
		var baseIn, baseOut int
		if split != nil {
			extent = split.SplitExtent(s)
			start := split.SplitStart(s)
			baseIn, baseOut = start*splitInStride, start*splitOutStride
		}
		loads.reset()
		stores.reset()
		for _, posMbar := range positions {
			mbarIn := baseIn + convIn(p.HostMbar, posMbar)
			mbarOut := baseOut + convOut(p.HostMbar, posMbar)
			for j := range numRegStorage {
				for w := range numWarps {
					for lane := range lanes {
						pos := j*threads + w*warp + lane
						lanes[lane] = -1
						if activeIn(pos) {
							lanes[lane] = mbarIn + inOff[pos]
						}
					}
					loads.addWarp(lanes, elementSize)
					for lane := range lanes {
						pos := j*threads + w*warp + lane
						lanes[lane] = -1
						if activeOut(pos) {
							lanes[lane] = mbarOut + outOff[pos]
						}
					}
					stores.addWarp(lanes, elementSize)
				}
			}
		}
		m.loads.add(loads, factor)
		m.stores.add(stores, factor)

		// The shared memory pattern doesn't depend on the Mbar position.
		sharedStores := newSharedCounter(m.props.SharedMemBanks)
		sharedLoads := newSharedCounter(m.props.SharedMemBanks)
		for j := range numRegStorage {
			for w := range numWarps {
				for lane := range lanes {
					pos := j*threads + w*warp + lane
					lanes[lane] = -1
					if activeIn(pos) {
						lanes[lane] = shPos[pos]
						activeLanes++
					}
					activeThreads++
				}
				sharedStores.addWarp(lanes, elementSize)
				for lane := range lanes {
					pos := j*threads + w*warp + lane
					lanes[lane] = -1
					if activeOut(pos) {
						lanes[lane] = pos
					}
				}
				sharedLoads.addWarp(lanes, elementSize)
			}
		}
		volMbar := int64(g.VolMbar)
		est.SstReq += sharedStores.req * volMbar
		est.SstTran += sharedStores.tran * volMbar
		est.SldReq += sharedLoads.req * volMbar
		est.SldTran += sharedLoads.tran * volMbar
	}
	est.NumIter = numRegStorage
	// Average number of loads in flight per thread: the register slots actually used.
	if activeThreads > 0 {
		est.MLP = float64(numRegStorage) * float64(activeLanes) / float64(activeThreads)
	}
}
