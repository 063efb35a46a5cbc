// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "github.com/pkg/errors"

// Capabilities holds the constants a backend's transpose kernels were compiled with.
//
// They are immutable for the lifetime of a backend, and are handed to the planner at construction time.
type Capabilities struct {
	Family Family

	// TileDim is the edge of the square shared-memory tile used by the Tiled and TiledCopy methods.
	// It matches the warp (or wavefront, or sub-group) width the kernels were built for.
	TileDim int

	// TileRows is the number of thread rows of a tiled thread block: each thread moves TileDim/TileRows elements.
	TileRows int

	// MaxRegStorage is the maximum number of elements a Packed kernel thread keeps in registers.
	MaxRegStorage int
}

// CapabilitiesFor returns the default kernel constants for a family and warp width.
func CapabilitiesFor(family Family, warpSize int) Capabilities {
	c := Capabilities{Family: family, TileDim: 32, TileRows: 8, MaxRegStorage: 8}
	switch family {
	case FamilyHIP:
		c.TileDim = 64
	case FamilySYCL:
		if warpSize == 16 {
			c.TileDim = 16
		}
	}
	return c
}

// Validate the capabilities.
func (c Capabilities) Validate() error {
	if c.TileDim <= 0 || c.TileRows <= 0 || c.MaxRegStorage <= 0 {
		return errors.Errorf("invalid capabilities %+v: all values must be > 0", c)
	}
	if c.TileDim%c.TileRows != 0 {
		return errors.Errorf("invalid capabilities: TileDim (%d) must be a multiple of TileRows (%d)", c.TileDim, c.TileRows)
	}
	return nil
}
