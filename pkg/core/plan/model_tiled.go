// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

// tileClass is the shape of the active part of a tile: interior tiles are full, tiles on the last column or row of
// the plane are cut.
type tileClass struct {
	activeX, activeY int
}

// tiled models the Tiled and TiledCopy kernels. A block of TileDim x TileRows threads handles one tile of one Mbar
// position: each thread loads TileDim/TileRows elements of the tile rows, coalesced along input axis 0.
//
// For Tiled the tile goes through a shared memory tile padded by one column, and is written transposed, coalesced
// along output axis 0. For TiledCopy each thread writes back the elements it loaded.
func (m *modeler) tiled(part Partition, est *Estimate) {
	p := m.plan
	g := part.Groups()
	elementSize := p.ElementSize
	warp := m.props.WarpSize
	tileDim, tiledVol, strideIn, strideOut, _ := tiledGeometry(part)
	tileRows := p.Launch.NumThread.Y
	isCopy := part.Method() == TiledCopy
	threads := tileDim * tileRows
	numWarps := ceilDiv(threads, warp)
	numIter := ceilDiv(tileDim, tileRows)

	numTilesX := ceilDiv(tiledVol[0], tileDim)
	numTilesY := ceilDiv(tiledVol[1], tileDim)
	maxTileSamples := m.params.MaxTileSamples
	if m.numSample <= 0 {
		maxTileSamples = 0
	}
	tiles, tileFactor := m.sample(numTilesX*numTilesY, maxTileSamples)
	mbars, mbarFactor := m.sample(g.VolMbar, m.numSample)

	loads := newGlobalCounter(m.params, true)
	stores := newGlobalCounter(m.params, false)
	lanes := make([]int, warp)

	// forEachWarp calls fn for every warp instruction of a tile, with the tile coordinates (x along the first
	// axis of the plane, y along the second) of each lane, or -1 for lanes past the block.
	xs, ys := make([]int, warp), make([]int, warp)
	forEachWarp := func(fn func(xs, ys []int)) {
		for j := range numIter {
			for w := range numWarps {
				for lane := range warp {
					t := w*warp + lane
					xs[lane], ys[lane] = -1, -1
					if t < threads {
						xs[lane] = t % tileDim
						ys[lane] = t/tileDim + j*tileRows
					}
				}
				fn(xs, ys)
			}
		}
	}

	var activeLoads, totalSlots int64
	for _, mbar := range mbars {
		mbarIn := convIn(p.HostMbar, mbar)
		mbarOut := convOut(p.HostMbar, mbar)
		for _, tile := range tiles {
			x0 := (tile % numTilesX) * tileDim
			y0 := (tile / numTilesX) * tileDim
			forEachWarp(func(xs, ys []int) {
				for lane := range lanes {
					x, y := x0+xs[lane], y0+ys[lane]
					lanes[lane] = -1
					if xs[lane] >= 0 && ys[lane] < tileDim && x < tiledVol[0] && y < tiledVol[1] {
						lanes[lane] = mbarIn + x + y*strideIn
						activeLoads++
					}
					totalSlots++
				}
				loads.addWarp(lanes, elementSize)

				for lane := range lanes {
					lanes[lane] = -1
					if xs[lane] < 0 || ys[lane] >= tileDim {
						continue
					}
					if isCopy {
						x, y := x0+xs[lane], y0+ys[lane]
						if x < tiledVol[0] && y < tiledVol[1] {
							lanes[lane] = mbarOut + x + y*strideOut
						}
						continue
					}
					// Transposed: lanes run along the second axis of the plane, which is output axis 0.
					x, y := y0+xs[lane], x0+ys[lane]
					if x < tiledVol[1] && y < tiledVol[0] {
						lanes[lane] = mbarOut + x + y*strideOut
					}
				}
				stores.addWarp(lanes, elementSize)
			})
		}
	}
	factor := tileFactor * mbarFactor
	m.loads.add(loads, factor)
	m.stores.add(stores, factor)

	est.NumIter = numIter
	if totalSlots > 0 {
		est.MLP = float64(numIter) * float64(activeLoads) / float64(totalSlots)
	}
	if isCopy {
		return
	}

	// Shared memory: the count only depends on the class of the tile, and the number of tiles of each class is known.
	classes := make(map[tileClass]int64)
	for ty := range numTilesY {
		for tx := range numTilesX {
			c := tileClass{
				activeX: min(tileDim, tiledVol[0]-tx*tileDim),
				activeY: min(tileDim, tiledVol[1]-ty*tileDim),
			}
			classes[c]++
		}
	}
	pitch := tileDim + 1
	for class, count := range classes {
		sharedStores := newSharedCounter(m.props.SharedMemBanks)
		sharedLoads := newSharedCounter(m.props.SharedMemBanks)
		forEachWarp(func(xs, ys []int) {
			for lane := range lanes {
				lanes[lane] = -1
				if xs[lane] >= 0 && xs[lane] < class.activeX && ys[lane] < class.activeY {
					lanes[lane] = ys[lane]*pitch + xs[lane]
				}
			}
			sharedStores.addWarp(lanes, elementSize)
			for lane := range lanes {
				lanes[lane] = -1
				if xs[lane] >= 0 && xs[lane] < class.activeY && ys[lane] < class.activeX {
					lanes[lane] = xs[lane]*pitch + ys[lane]
				}
			}
			sharedLoads.addWarp(lanes, elementSize)
		})
		n := count * int64(g.VolMbar)
		est.SstReq += sharedStores.req * n
		est.SstTran += sharedStores.tran * n
		est.SldReq += sharedLoads.req * n
		est.SldTran += sharedLoads.tran * n
	}
}
