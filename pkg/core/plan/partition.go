// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"fmt"

	"github.com/pkg/errors"
)

// Method used to execute a transpose.
type Method int

const (
	Unknown Method = iota

	// Trivial is a plain copy: a memcpy for a reduced rank 1 transpose, or a fully strided element-wise copy.
	Trivial

	// Packed stages the Mmk group in shared memory, reading and writing it coalesced.
	Packed

	// PackedSplit is Packed with one Mmk axis split into NumSplit pieces, for Mmk groups that don't fit shared memory.
	PackedSplit

	// Tiled transposes square tiles through shared memory, for transposes that move axis 0.
	Tiled

	// TiledCopy copies tiles without an in-tile transpose, for transposes that keep axis 0 in place.
	TiledCopy

	NumMethods
)

var methodNames = [NumMethods]string{"Unknown", "Trivial", "Packed", "PackedSplit", "Tiled", "TiledCopy"}

// String implements fmt.Stringer.
func (m Method) String() string {
	if m < 0 || m >= NumMethods {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// MethodString converts a method name back to a Method.
func MethodString(name string) (Method, error) {
	for m, n := range methodNames {
		if n == name {
			return Method(m), nil
		}
	}
	return Unknown, errors.Errorf("unknown transpose method %q", name)
}

// AxisGroups classifies the axes of a reduced transpose:
//
//   - Mm: the first SizeMm axes in input order.
//   - Mk: the first SizeMk axes in output order.
//   - Mmk: the union of Mm and Mk, the axes staged by a kernel block.
//   - MkBar: Mk minus Mm.
//   - Mbar: all the other axes, iterated through the Mbar lookup table.
//
// Mm, MkBar and Mbar partition the axes, so VolMm*VolMkBar == VolMmk and VolMmk*VolMbar is the tensor volume.
type AxisGroups struct {
	SizeMm, VolMm       int
	SizeMk, VolMk       int
	SizeMmk, VolMmk     int
	SizeMkBar, VolMkBar int
	SizeMbar, VolMbar   int

	// isMmk marks the input axes that belong to Mmk.
	isMmk []bool
}

// Groups returns the axis groups. It is promoted to every partition type.
func (g AxisGroups) Groups() AxisGroups { return g }

// IsMmk returns whether the input axis belongs to the Mmk group.
func (g AxisGroups) IsMmk(axis int) bool { return g.isMmk[axis] }

// newGroups classifies the axes of dims/perm given the sizes of the Mm and Mk groups.
func newGroups(sizeMm, sizeMk int, dims, perm []int) AxisGroups {
	rank := len(dims)
	isMm := make([]bool, rank)
	isMk := make([]bool, rank)
	for i := range sizeMm {
		isMm[i] = true
	}
	for i := range sizeMk {
		isMk[perm[i]] = true
	}
	g := AxisGroups{
		SizeMm: sizeMm, VolMm: 1,
		SizeMk: sizeMk, VolMk: 1,
		VolMmk: 1, VolMkBar: 1, VolMbar: 1,
		isMmk: make([]bool, rank),
	}
	for axis, dim := range dims {
		if isMm[axis] {
			g.VolMm *= dim
		}
		if isMk[axis] {
			g.VolMk *= dim
		}
		switch {
		case isMm[axis] || isMk[axis]:
			g.isMmk[axis] = true
			g.SizeMmk++
			g.VolMmk *= dim
			if !isMm[axis] {
				g.SizeMkBar++
				g.VolMkBar *= dim
			}
		default:
			g.SizeMbar++
			g.VolMbar *= dim
		}
	}
	return g
}

// Partition is the method-specific description of a transpose plan: the axis groups plus the payload
// of its method. It is implemented by TrivialPartition, PackedPartition, SplitPartition, TiledPartition and
// TiledCopyPartition.
type Partition interface {
	Method() Method
	Groups() AxisGroups

	// Shmem is the number of elements a block stages in shared memory.
	Shmem() int

	// ShmemAlloc is the shared memory allocated per block in bytes, including padding.
	ShmemAlloc(elementSize int) int

	// VolMmkUsed is the number of elements a block moves per Mbar position.
	VolMmkUsed() int

	isPartition()
}

// TrivialPartition is either a memcpy (reduced rank 1, Mmk = {0}) or a strided copy (Mbar = all axes).
type TrivialPartition struct {
	AxisGroups
}

func (TrivialPartition) Method() Method     { return Trivial }
func (TrivialPartition) Shmem() int         { return 0 }
func (TrivialPartition) ShmemAlloc(int) int { return 0 }
func (p TrivialPartition) VolMmkUsed() int  { return p.VolMmk }
func (TrivialPartition) isPartition()       {}

// IsMemcpy returns whether the copy is contiguous on both sides.
func (p TrivialPartition) IsMemcpy() bool { return p.SizeMbar == 0 }

func (p TrivialPartition) String() string { return describeGroups(Trivial, p.AxisGroups) }

func describeGroups(m Method, g AxisGroups) string {
	return fmt.Sprintf("%s: Mm %d/%d, Mk %d/%d, Mmk %d/%d, MkBar %d/%d, Mbar %d/%d", m,
		g.SizeMm, g.VolMm, g.SizeMk, g.VolMk, g.SizeMmk, g.VolMmk, g.SizeMkBar, g.VolMkBar, g.SizeMbar, g.VolMbar)
}

// PackedPartition stages the whole Mmk group of one Mbar position in shared memory.
type PackedPartition struct {
	AxisGroups

	// VolMmkInCont and VolMmkOutCont are the contiguous volumes of Mmk, counted from axis 0 in input and
	// output order respectively. They bound the length of the coalesced runs of each side.
	VolMmkInCont, VolMmkOutCont int
}

func (PackedPartition) Method() Method { return Packed }
func (p PackedPartition) Shmem() int   { return p.VolMmk }
func (p PackedPartition) ShmemAlloc(elementSize int) int {
	return p.Shmem() * elementSize
}
func (p PackedPartition) VolMmkUsed() int { return p.VolMmk }
func (PackedPartition) isPartition()      {}

func (p PackedPartition) String() string {
	return fmt.Sprintf("%s, contiguous in/out %d/%d", describeGroups(Packed, p.AxisGroups), p.VolMmkInCont, p.VolMmkOutCont)
}

// SplitPartition is a PackedPartition whose axis SplitRank (an Mmk axis, with extent SplitDim) is split into
// NumSplit pieces, one per block column.
type SplitPartition struct {
	PackedPartition

	SplitRank, SplitDim, NumSplit int

	// VolMmkUnsplit is the volume of the Mmk axes other than the split one: VolMmk / SplitDim.
	VolMmkUnsplit int
}

func (SplitPartition) Method() Method { return PackedSplit }

func (p SplitPartition) String() string {
	return fmt.Sprintf("%s, split axis %d (%d) in %d", describeGroups(PackedSplit, p.AxisGroups), p.SplitRank,
		p.SplitDim, p.NumSplit)
}

// SplitExtent returns the extent of the split axis handled by split s: SplitDim/NumSplit, plus one for the first
// SplitDim%NumSplit splits.
func (p SplitPartition) SplitExtent(s int) int {
	extent := p.SplitDim / p.NumSplit
	if s < p.SplitDim%p.NumSplit {
		extent++
	}
	return extent
}

// SplitStart returns the first index of the split axis handled by split s.
func (p SplitPartition) SplitStart(s int) int {
	base := p.SplitDim / p.NumSplit
	rem := p.SplitDim % p.NumSplit
	return s*base + min(s, rem)
}

// MaxSplitExtent is the largest extent of any split.
func (p SplitPartition) MaxSplitExtent() int { return (p.SplitDim + p.NumSplit - 1) / p.NumSplit }

// Tail returns the volume left over by the even part of the split: (SplitDim%NumSplit)*VolMmkUnsplit.
func (p SplitPartition) Tail() int { return (p.SplitDim % p.NumSplit) * p.VolMmkUnsplit }

func (p SplitPartition) Shmem() int { return p.MaxSplitExtent() * p.VolMmkUnsplit }
func (p SplitPartition) ShmemAlloc(elementSize int) int {
	return p.Shmem() * elementSize
}
func (p SplitPartition) VolMmkUsed() int { return p.Shmem() }

// TiledPartition transposes tiles of TileDim x TileDim elements of the plane formed by input axis 0 (Mm) and
// input axis perm[0] (Mk), through a padded shared-memory tile.
type TiledPartition struct {
	AxisGroups

	TileDim int

	// TiledVol is the extent of the tiled plane: input axis 0 and input axis perm[0].
	TiledVol [2]int

	// StrideIn is the input stride of axis perm[0], StrideOut the output stride of input axis 0.
	StrideIn, StrideOut int
}

func (TiledPartition) Method() Method { return Tiled }
func (p TiledPartition) Shmem() int   { return p.TileDim * p.TileDim }

// ShmemAlloc includes one column of padding, so column accesses don't hit the same bank.
func (p TiledPartition) ShmemAlloc(elementSize int) int {
	return (p.TileDim + 1) * p.TileDim * elementSize
}
func (p TiledPartition) VolMmkUsed() int {
	return min(p.TileDim, p.TiledVol[0]) * min(p.TileDim, p.TiledVol[1])
}
func (TiledPartition) isPartition() {}

func (p TiledPartition) String() string {
	return fmt.Sprintf("%s, tile %d, plane %v", describeGroups(Tiled, p.AxisGroups), p.TileDim, p.TiledVol)
}

// TiledCopyPartition copies tiles of the plane formed by input axes 0 and 1, when axis 0 is not moved. Each thread
// writes the elements it read, so no shared memory is used.
type TiledCopyPartition struct {
	AxisGroups

	TileDim int

	// TiledVol is the extent of the tiled plane: input axes 0 and 1.
	TiledVol [2]int

	// StrideIn is the input stride of axis 1, StrideOut its output stride.
	StrideIn, StrideOut int
}

func (TiledCopyPartition) Method() Method     { return TiledCopy }
func (TiledCopyPartition) Shmem() int         { return 0 }
func (TiledCopyPartition) ShmemAlloc(int) int { return 0 }
func (p TiledCopyPartition) VolMmkUsed() int {
	return min(p.TileDim, p.TiledVol[0]) * min(p.TileDim, p.TiledVol[1])
}
func (TiledCopyPartition) isPartition() {}

func (p TiledCopyPartition) String() string {
	return fmt.Sprintf("%s, tile %d, plane %v", describeGroups(TiledCopy, p.AxisGroups), p.TileDim, p.TiledVol)
}

// Compile-time checks.
var (
	_ Partition = TrivialPartition{}
	_ Partition = PackedPartition{}
	_ Partition = SplitPartition{}
	_ Partition = TiledPartition{}
	_ Partition = TiledCopyPartition{}
)

// tiledGeometry returns the tile edge and the tiled plane of Tiled and TiledCopy partitions.
func tiledGeometry(part Partition) (tileDim int, tiledVol [2]int, strideIn, strideOut int, ok bool) {
	switch p := part.(type) {
	case TiledPartition:
		return p.TileDim, p.TiledVol, p.StrideIn, p.StrideOut, true
	case TiledCopyPartition:
		return p.TileDim, p.TiledVol, p.StrideIn, p.StrideOut, true
	}
	return 0, [2]int{}, 0, 0, false
}
