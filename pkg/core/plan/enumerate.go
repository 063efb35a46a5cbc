// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"github.com/gomlx/gotranspose/backends"
	"github.com/gomlx/gotranspose/pkg/core/permutations"
	"k8s.io/klog/v2"
)

// CreatePlans returns every legal plan for the transpose of dims by perm, whose reduced form (see
// permutations.Reduce) is redDims by redPerm, on a device with the given properties.
//
// The plans are not modeled yet: see Plan.CountCycles and ChoosePlanHeuristic.
//
// An empty result means no legal plan was found. Since a Trivial plan is always legal, that signals a defect.
// A reduced rank 1 transpose only gets a Trivial plan.
//
// The lookup tables hold int32 offsets: transposes with more than permutations.MaxVolume elements get no plans,
// see permutations.ValidateVolume.
func CreatePlans(dims, perm, redDims, redPerm []int, elementSize int, deviceNum backends.DeviceNum,
	props backends.DeviceProperties, caps backends.Capabilities, params ModelParams) []*Plan {
	if err := permutations.ValidateVolume(redDims); err != nil {
		klog.Warningf("CreatePlans(dims=%v, perm=%v): %v", dims, perm, err)
		return nil
	}
	e := &enumerator{
		dims: dims, perm: perm, redDims: redDims, redPerm: redPerm,
		elementSize: elementSize, deviceNum: deviceNum,
		props: props, caps: caps, params: params,
		inStrides:  permutations.Strides(redDims),
		outStrides: permutations.Strides(permutations.Apply(redDims, redPerm)),
		invPerm:    permutations.Inverse(redPerm),
		seen:       make(map[candidateKey]bool),
	}
	e.trivial()
	if len(redDims) > 1 {
		e.tiled()
		e.tiledCopy()
		e.packed()
		e.packedSplit()
	}
	if klog.V(1).Enabled() {
		counts := make(map[Method]int)
		for _, p := range e.plans {
			counts[p.Method()]++
		}
		klog.Infof("CreatePlans(dims=%v, perm=%v, elementSize=%d): reduced to dims=%v, perm=%v, %d plans %v",
			dims, perm, elementSize, redDims, redPerm, len(e.plans), counts)
	}
	return e.plans
}

type candidateKey struct {
	method   Method
	mmkMask  uint64
	numSplit int
}

// enumerator collects the legal plans of one transpose.
type enumerator struct {
	dims, perm, redDims, redPerm []int
	elementSize                  int
	deviceNum                    backends.DeviceNum
	props                        backends.DeviceProperties
	caps                         backends.Capabilities
	params                       ModelParams

	inStrides, outStrides, invPerm []int
	seen                           map[candidateKey]bool
	plans                          []*Plan
}

// add the partition as a new plan if its launch configuration fits the device. It returns false otherwise.
func (e *enumerator) add(part Partition) bool {
	lc, numActiveBlock := launchConfiguration(part, e.elementSize, e.props, e.caps, e.params)
	if numActiveBlock == 0 {
		klog.V(2).Infof("\trejected %s: doesn't fit the device", part)
		return false
	}
	p := setup(e.dims, e.perm, e.redDims, e.redPerm, e.elementSize, e.deviceNum, part, lc, numActiveBlock)
	klog.V(2).Infof("\tcandidate %s: threads %s, blocks %s, shmem %d, regStorage %d, active blocks %d",
		part, lc.NumThread, lc.NumBlock, lc.ShmemBytes, lc.NumRegStorage, numActiveBlock)
	e.plans = append(e.plans, p)
	return true
}

// trivial proposes the plain copy, which is always legal.
func (e *enumerator) trivial() {
	var g AxisGroups
	if len(e.redDims) == 1 {
		g = newGroups(1, 1, e.redDims, e.redPerm)
	} else {
		g = newGroups(0, 0, e.redDims, e.redPerm)
	}
	e.add(TrivialPartition{AxisGroups: g})
}

// tiled proposes a tiled transpose of the plane of input axes 0 and perm[0], if axis 0 moves.
func (e *enumerator) tiled() {
	if e.redPerm[0] == 0 {
		return
	}
	g := newGroups(1, 1, e.redDims, e.redPerm)
	e.add(TiledPartition{
		AxisGroups: g,
		TileDim:    e.caps.TileDim,
		TiledVol:   [2]int{e.redDims[0], e.redDims[e.redPerm[0]]},
		StrideIn:   e.inStrides[e.redPerm[0]],
		StrideOut:  e.outStrides[e.invPerm[0]],
	})
}

// tiledCopy proposes a tiled copy of the plane of input axes 0 and 1, if axis 0 doesn't move.
func (e *enumerator) tiledCopy() {
	if e.redPerm[0] != 0 {
		return
	}
	g := newGroups(2, 1, e.redDims, e.redPerm)
	e.add(TiledCopyPartition{
		AxisGroups: g,
		TileDim:    e.caps.TileDim,
		TiledVol:   [2]int{e.redDims[0], e.redDims[1]},
		StrideIn:   e.inStrides[1],
		StrideOut:  e.outStrides[e.invPerm[1]],
	})
}

// mmkMask returns the Mmk axes as a bitmask.
func mmkMask(g AxisGroups, rank int) uint64 {
	var mask uint64
	for axis := range rank {
		if g.IsMmk(axis) {
			mask |= 1 << axis
		}
	}
	return mask
}

// contiguousVolumes returns the volume of the leading Mmk axes in input and output order. If splitRank >= 0, that
// axis counts with splitExtent and ends the contiguous run.
func (e *enumerator) contiguousVolumes(g AxisGroups, splitRank, splitExtent int) (inCont, outCont int) {
	contiguous := func(order []int) int {
		vol := 1
		for _, axis := range order {
			if !g.IsMmk(axis) {
				break
			}
			if axis == splitRank {
				vol *= splitExtent
				break
			}
			vol *= e.redDims[axis]
		}
		return vol
	}
	inOrder := make([]int, len(e.redDims))
	for axis := range inOrder {
		inOrder[axis] = axis
	}
	return contiguous(inOrder), contiguous(e.redPerm)
}

// contiguousEnough checks the shortest coalesced run is long enough to amortize the transactions.
func (e *enumerator) contiguousEnough(inCont, outCont int) bool {
	return min(inCont, outCont)*e.elementSize >= e.params.MinPackedContiguousBytes
}

// packed proposes a Packed plan for every (numMm, numMk) whose Mmk group fits in shared memory.
// Larger numMk only grow Mmk, so the inner loop stops at the first configuration that doesn't fit.
func (e *enumerator) packed() {
	rank := len(e.redDims)
	for numMm := 1; numMm < rank; numMm++ {
		for numMk := 1; numMk < rank; numMk++ {
			g := newGroups(numMm, numMk, e.redDims, e.redPerm)
			inCont, outCont := e.contiguousVolumes(g, -1, 0)
			part := PackedPartition{AxisGroups: g, VolMmkInCont: inCont, VolMmkOutCont: outCont}
			if part.ShmemAlloc(e.elementSize) > e.props.SharedMemPerBlock {
				break
			}
			key := candidateKey{method: Packed, mmkMask: mmkMask(g, rank)}
			if e.seen[key] || !e.contiguousEnough(inCont, outCont) {
				continue
			}
			e.seen[key] = true
			if !e.add(part) {
				break
			}
		}
	}
}

// packedSplit proposes, for every (numMm, numMk) whose Mmk group doesn't fit in shared memory, the split of its
// largest axis with the best occupancy and, if different, the best split with evenly divisible pieces.
func (e *enumerator) packedSplit() {
	rank := len(e.redDims)
	shmemPerBlock := e.props.SharedMemPerBlock
	for numMm := 1; numMm < rank; numMm++ {
		for numMk := 1; numMk < rank; numMk++ {
			g := newGroups(numMm, numMk, e.redDims, e.redPerm)
			if g.VolMmk*e.elementSize <= shmemPerBlock {
				continue
			}

			splitRank := -1
			for axis, dim := range e.redDims {
				if g.IsMmk(axis) && (splitRank < 0 || dim > e.redDims[splitRank]) {
					splitRank = axis
				}
			}
			splitDim := e.redDims[splitRank]
			volMmkUnsplit := g.VolMmk / splitDim
			if volMmkUnsplit*e.elementSize > shmemPerBlock {
				continue
			}
			minNumSplit := max(2, ceilDiv(splitDim*volMmkUnsplit*e.elementSize, shmemPerBlock))
			maxNumSplit := min(splitDim, minNumSplit+e.params.MaxExtraSplits, e.props.MaxGridSize[0])

			var best, bestEven *SplitPartition
			bestVal, bestEvenVal := 0, 0
			for numSplit := minNumSplit; numSplit <= maxNumSplit; numSplit++ {
				part := SplitPartition{
					SplitRank: splitRank, SplitDim: splitDim, NumSplit: numSplit, VolMmkUnsplit: volMmkUnsplit,
				}
				part.AxisGroups = g
				if part.ShmemAlloc(e.elementSize) > shmemPerBlock {
					continue
				}
				part.VolMmkInCont, part.VolMmkOutCont = e.contiguousVolumes(g, splitRank, part.MaxSplitExtent())
				if !e.contiguousEnough(part.VolMmkInCont, part.VolMmkOutCont) {
					continue
				}
				_, numActiveBlock := launchConfiguration(part, e.elementSize, e.props, e.caps, e.params)
				val := part.VolMmkUsed() * numActiveBlock
				if val > bestVal {
					bestVal, best = val, &part
				}
				if splitDim%numSplit == 0 && val > bestEvenVal {
					bestEvenVal, bestEven = val, &part
				}
			}
			for _, part := range []*SplitPartition{best, bestEven} {
				if part == nil {
					continue
				}
				key := candidateKey{method: PackedSplit, mmkMask: mmkMask(g, rank), numSplit: part.NumSplit}
				if e.seen[key] {
					continue
				}
				e.seen[key] = true
				e.add(*part)
			}
		}
	}
}
