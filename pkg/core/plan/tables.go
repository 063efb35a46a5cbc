// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"encoding/binary"

	"github.com/gomlx/gotranspose/backends"
	"github.com/gomlx/gotranspose/pkg/core/permutations"
	"github.com/pkg/errors"
)

// TensorConvInOut is one entry (one axis) of an index-conversion table with an input and an output side.
//
// A linear position pos is converted to an offset by summing, over the entries of the table,
// ((pos / C) % D) * Ct, using the In fields for the input offset and the Out fields for the output offset.
type TensorConvInOut struct {
	CIn, DIn, CtIn    int32
	COut, DOut, CtOut int32
}

// TensorConv is one entry (one axis) of a one-sided index-conversion table, see TensorConvInOut.
type TensorConv struct {
	C, D, Ct int32
}

const (
	tensorConvInOutBytes = 6 * 4
	tensorConvBytes      = 3 * 4
)

// convIn converts pos using the input side of the table.
func convIn(table []TensorConvInOut, pos int) int {
	offset := 0
	for _, e := range table {
		offset += ((pos / int(e.CIn)) % int(e.DIn)) * int(e.CtIn)
	}
	return offset
}

// convOut converts pos using the output side of the table.
func convOut(table []TensorConvInOut, pos int) int {
	offset := 0
	for _, e := range table {
		offset += ((pos / int(e.COut)) % int(e.DOut)) * int(e.CtOut)
	}
	return offset
}

// conv converts pos using a one-sided table.
func conv(table []TensorConv, pos int) int {
	offset := 0
	for _, e := range table {
		offset += ((pos / int(e.C)) % int(e.D)) * int(e.Ct)
	}
	return offset
}

// buildTables fills the host lookup tables of the plan from its reduced dimensions and partition.
//
//   - Mbar: decodes an Mbar position (Mbar axes in input order) to the input and output offsets.
//   - Mmk: decodes an Mmk position in input order (In side) or output order (Out side) to the global offset.
//   - Msh: decodes an Mmk position in input order to the shared memory position, laid out in output order.
//
// Tiled plans only use Mbar, and a memcpy plan uses no table.
func (p *Plan) buildTables() {
	dims, perm := p.RedDims, p.RedPerm
	g := p.Partition.Groups()
	inStrides := permutations.Strides(dims)
	outStrides := permutations.Strides(permutations.Apply(dims, perm))
	invPerm := permutations.Inverse(perm)

	// Mmk axes extents: the split axis counts with its largest split extent.
	mmkDims := make([]int, len(dims))
	copy(mmkDims, dims)
	if split, ok := p.Partition.(SplitPartition); ok {
		mmkDims[split.SplitRank] = split.MaxSplitExtent()
	}

	p.HostMbar = nil
	c := 1
	for axis, dim := range dims {
		if g.IsMmk(axis) {
			continue
		}
		p.HostMbar = append(p.HostMbar, TensorConvInOut{
			CIn: int32(c), DIn: int32(dim), CtIn: int32(inStrides[axis]),
			COut: int32(c), DOut: int32(dim), CtOut: int32(outStrides[invPerm[axis]]),
		})
		c *= dim
	}

	p.HostMmk, p.HostMsh = nil, nil
	if p.Method() != Packed && p.Method() != PackedSplit {
		return
	}
	// Position of each Mmk axis in an output ordered Mmk position.
	cumOut := make([]int, len(dims))
	c = 1
	for _, axis := range perm {
		if g.IsMmk(axis) {
			cumOut[axis] = c
			c *= mmkDims[axis]
		}
	}
	var outSide []TensorConvInOut
	for _, axis := range perm {
		if g.IsMmk(axis) {
			outSide = append(outSide, TensorConvInOut{
				COut: int32(cumOut[axis]), DOut: int32(mmkDims[axis]), CtOut: int32(outStrides[invPerm[axis]]),
			})
		}
	}
	c = 1
	for axis := range dims {
		if !g.IsMmk(axis) {
			continue
		}
		entry := outSide[len(p.HostMmk)]
		entry.CIn, entry.DIn, entry.CtIn = int32(c), int32(mmkDims[axis]), int32(inStrides[axis])
		p.HostMmk = append(p.HostMmk, entry)
		p.HostMsh = append(p.HostMsh, TensorConv{C: int32(c), D: int32(mmkDims[axis]), Ct: int32(cumOut[axis])})
		c *= mmkDims[axis]
	}
}

// encodeConvInOut serializes a table in the device layout: little-endian int32 fields in declaration order.
func encodeConvInOut(table []TensorConvInOut) []byte {
	buf := make([]byte, 0, len(table)*tensorConvInOutBytes)
	for _, e := range table {
		for _, v := range [6]int32{e.CIn, e.DIn, e.CtIn, e.COut, e.DOut, e.CtOut} {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
		}
	}
	return buf
}

// encodeConv serializes a one-sided table in the device layout.
func encodeConv(table []TensorConv) []byte {
	buf := make([]byte, 0, len(table)*tensorConvBytes)
	for _, e := range table {
		for _, v := range [3]int32{e.C, e.D, e.Ct} {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
		}
	}
	return buf
}

// deviceTables exclusively owns the device copies of the lookup tables of an activated plan.
type deviceTables struct {
	backend        backends.Backend
	mbar, mmk, msh backends.Buffer
}

// uploadTables allocates the device buffers and enqueues the uploads in the stream. Empty tables get no buffer.
// On error, whatever was allocated is released.
func uploadTables(backend backends.Backend, deviceNum backends.DeviceNum, stream backends.Stream,
	hostMbar, hostMmk []TensorConvInOut, hostMsh []TensorConv) (*deviceTables, error) {
	t := &deviceTables{backend: backend}
	upload := func(host []byte) (backends.Buffer, error) {
		if len(host) == 0 {
			return nil, nil
		}
		buf, err := backend.BufferAlloc(deviceNum, len(host))
		if err != nil {
			return nil, errors.WithMessagef(err, "allocating %d bytes for lookup table", len(host))
		}
		if err = backend.BufferCopyToDeviceAsync(stream, buf, host); err != nil {
			_ = backend.BufferFinalize(buf)
			return nil, errors.WithMessagef(err, "uploading %d bytes of lookup table", len(host))
		}
		return buf, nil
	}
	var err error
	if t.mbar, err = upload(encodeConvInOut(hostMbar)); err != nil {
		return nil, err
	}
	if t.mmk, err = upload(encodeConvInOut(hostMmk)); err != nil {
		_ = t.release()
		return nil, err
	}
	if t.msh, err = upload(encodeConv(hostMsh)); err != nil {
		_ = t.release()
		return nil, err
	}
	return t, nil
}

// release the device buffers. It can be called more than once.
func (t *deviceTables) release() error {
	var firstErr error
	for _, buf := range []*backends.Buffer{&t.mbar, &t.mmk, &t.msh} {
		if *buf == nil {
			continue
		}
		if err := t.backend.BufferFinalize(*buf); err != nil && firstErr == nil {
			firstErr = errors.WithMessage(err, "releasing lookup table")
		}
		*buf = nil
	}
	return firstErr
}
