// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package permutations holds the tensor-layout helpers used by the transpose planner: validation of a
// (dimensions, permutation) pair, strides, inverse permutations and the axis-reduction that merges axes
// that remain contiguous under the transpose.
//
// Layout convention: axis 0 is the fastest varying one (column-major), and the permutation maps output axes
// to input axes, that is, outputDims[i] = dims[perm[i]].
package permutations

import (
	"math"
	"slices"

	"github.com/pkg/errors"
)

// Validate checks that perm is a permutation of [0, len(dims)) and that all dimensions are positive.
func Validate(dims, perm []int) error {
	if len(dims) != len(perm) {
		return errors.Errorf("transpose of tensor with dimensions %v requires one permutation entry per axis, got permutation %v",
			dims, perm)
	}
	for axis, dim := range dims {
		if dim <= 0 {
			return errors.Errorf("invalid dimensions %v: axis %d has non-positive extent %d", dims, axis, dim)
		}
	}
	rank := len(dims)
	axesSet := slices.Clone(perm)
	slices.Sort(axesSet)
	for ii, srcAxis := range axesSet {
		if srcAxis < 0 || srcAxis >= rank {
			return errors.Errorf("invalid permutation %v: axis %d out of range for rank %d", perm, srcAxis, rank)
		}
		if ii > 0 && srcAxis == axesSet[ii-1] {
			return errors.Errorf("invalid permutation %v: axis %d repeated, each axis must appear exactly once", perm, srcAxis)
		}
	}
	return nil
}

// MaxVolume is the largest number of elements of a transpose: the device lookup tables hold strides and
// offsets as int32.
const MaxVolume = math.MaxInt32

// ValidateVolume checks that a tensor with the given (positive) dimensions has at most MaxVolume elements.
// It doesn't overflow for any dimensions.
func ValidateVolume(dims []int) error {
	volume := 1
	for _, dim := range dims {
		if dim > 0 && volume > MaxVolume/dim {
			return errors.Errorf("tensor with dimensions %v has more than %d elements, the maximum supported", dims,
				MaxVolume)
		}
		volume *= dim
	}
	return nil
}

// Volume returns the number of elements of a tensor with the given dimensions. The volume of a scalar is 1.
func Volume(dims []int) int {
	volume := 1
	for _, dim := range dims {
		volume *= dim
	}
	return volume
}

// Strides returns the stride (in elements) of each axis, with axis 0 the fastest varying one.
func Strides(dims []int) []int {
	strides := make([]int, len(dims))
	currentStride := 1
	for axis, dim := range dims {
		strides[axis] = currentStride
		currentStride *= dim
	}
	return strides
}

// Inverse returns the inverse permutation: Inverse(perm)[perm[i]] == i.
func Inverse(perm []int) []int {
	inv := make([]int, len(perm))
	for i, axis := range perm {
		inv[axis] = i
	}
	return inv
}

// Apply returns the dimensions of the transposed tensor: outputDims[i] = dims[perm[i]].
func Apply(dims, perm []int) []int {
	out := make([]int, len(perm))
	for i, axis := range perm {
		out[i] = dims[axis]
	}
	return out
}

// IsIdentity returns whether perm doesn't move any axis.
func IsIdentity(perm []int) bool {
	for i, axis := range perm {
		if axis != i {
			return false
		}
	}
	return true
}

// Reduce collapses the axes that remain adjacent under the permutation, returning the reduced dimensions
// and permutation of an equivalent transpose.
//
// Axes of extent 1 are dropped first, since they never change where an element goes. Then every maximal run of
// axes that are consecutive in the input and appear consecutively (and in the same order) in the output is merged
// into one axis with the product of their extents.
//
// The result has rank >= 1: a scalar or a tensor with only unit axes reduces to dims {1} and perm {0}.
// It is idempotent, never increases the rank and preserves the volume.
//
// It assumes Validate(dims, perm) succeeds.
func Reduce(dims, perm []int) (redDims, redPerm []int) {
	// Drop unit axes and renumber the remaining ones.
	newAxis := make([]int, len(dims))
	var keptDims []int
	for axis, dim := range dims {
		if dim == 1 {
			newAxis[axis] = -1
			continue
		}
		newAxis[axis] = len(keptDims)
		keptDims = append(keptDims, dim)
	}
	if len(keptDims) == 0 {
		return []int{1}, []int{0}
	}
	keptPerm := make([]int, 0, len(keptDims))
	for _, axis := range perm {
		if newAxis[axis] >= 0 {
			keptPerm = append(keptPerm, newAxis[axis])
		}
	}

	// Walk the output order: a new group starts whenever the input axis is not the successor of the previous one.
	rank := len(keptDims)
	groupStart := make([]bool, rank)
	for i, axis := range keptPerm {
		if i == 0 || axis != keptPerm[i-1]+1 {
			groupStart[axis] = true
		}
	}

	// Groups ordered by their leading input axis: groupOf[axis] is the new axis of a leading input axis, -1 otherwise.
	groupOf := make([]int, rank)
	for axis := range groupOf {
		groupOf[axis] = -1
	}
	for axis := 0; axis < rank; axis++ {
		if groupStart[axis] {
			groupOf[axis] = len(redDims)
			redDims = append(redDims, keptDims[axis])
		} else {
			redDims[len(redDims)-1] *= keptDims[axis]
		}
	}
	for _, axis := range keptPerm {
		if groupStart[axis] {
			redPerm = append(redPerm, groupOf[axis])
		}
	}
	return redDims, redPerm
}
