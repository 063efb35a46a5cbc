// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"math"
	"slices"
)

// globalCounter accumulates the global memory requests of warps: transactions and the use of cache lines.
type globalCounter struct {
	transactionBytes, l1Bytes, l2Bytes int
	countL1                            bool

	req, tran                      int64
	fullL1, partL1, fullL2, partL2 int64

	// scratch space for addWarp.
	addrs []int
}

func newGlobalCounter(params ModelParams, countL1 bool) *globalCounter {
	return &globalCounter{
		transactionBytes: params.TransactionBytes,
		l1Bytes:          params.L1LineBytes,
		l2Bytes:          params.L2LineBytes,
		countL1:          countL1,
	}
}

// addWarp records one warp instruction accessing the elements at the given positions. Inactive lanes are -1.
func (c *globalCounter) addWarp(positions []int, elementSize int) {
	c.addrs = c.addrs[:0]
	for _, pos := range positions {
		if pos >= 0 {
			c.addrs = append(c.addrs, pos*elementSize)
		}
	}
	if len(c.addrs) == 0 {
		return
	}
	slices.Sort(c.addrs)
	c.addrs = slices.Compact(c.addrs)
	c.req++
	if first, last := c.addrs[0], c.addrs[len(c.addrs)-1]; last-first == (len(c.addrs)-1)*elementSize {
		// Contiguous run.
		c.addContiguousBytes(first, len(c.addrs)*elementSize)
		return
	}
	c.tran += countSegments(c.addrs, elementSize, c.transactionBytes)
	full, part := countLines(c.addrs, elementSize, c.l2Bytes)
	c.fullL2 += full
	c.partL2 += part
	if c.countL1 {
		full, part = countLines(c.addrs, elementSize, c.l1Bytes)
		c.fullL1 += full
		c.partL1 += part
	}
}

// addContiguous records ceil(n/warpSize) warp instructions covering n contiguous elements from position start.
func (c *globalCounter) addContiguous(start, n, elementSize, warpSize int) {
	if n <= 0 {
		return
	}
	c.req += int64(ceilDiv(n, warpSize))
	c.addContiguousBytes(start*elementSize, n*elementSize)
}

func (c *globalCounter) addContiguousBytes(addr, numBytes int) {
	end := addr + numBytes
	c.tran += int64((end-1)/c.transactionBytes - addr/c.transactionBytes + 1)
	full, part := runLines(addr, end, c.l2Bytes)
	c.fullL2 += full
	c.partL2 += part
	if c.countL1 {
		full, part = runLines(addr, end, c.l1Bytes)
		c.fullL1 += full
		c.partL1 += part
	}
}

// add accumulates the counts of other scaled by factor.
func (c *globalCounter) add(other *globalCounter, factor float64) {
	c.req += scaleCount(other.req, factor)
	c.tran += scaleCount(other.tran, factor)
	c.fullL1 += scaleCount(other.fullL1, factor)
	c.partL1 += scaleCount(other.partL1, factor)
	c.fullL2 += scaleCount(other.fullL2, factor)
	c.partL2 += scaleCount(other.partL2, factor)
}

func (c *globalCounter) reset() {
	c.req, c.tran = 0, 0
	c.fullL1, c.partL1, c.fullL2, c.partL2 = 0, 0, 0, 0
}

func scaleCount(count int64, factor float64) int64 {
	if factor == 1 {
		return count
	}
	return int64(math.Round(float64(count) * factor))
}

// runLines returns the number of lines of lineBytes fully and partially covered by the bytes [addr, end).
func runLines(addr, end, lineBytes int) (full, part int64) {
	total := (end-1)/lineBytes - addr/lineBytes + 1
	fullLines := end/lineBytes - ceilDiv(addr, lineBytes)
	if fullLines < 0 {
		fullLines = 0
	}
	return int64(fullLines), int64(total - fullLines)
}

// countSegments counts the distinct segments touched by the elements at the sorted, unique byte addresses.
func countSegments(addrs []int, elementSize, segmentBytes int) int64 {
	var count int64
	last := -1
	for _, addr := range addrs {
		first, end := addr/segmentBytes, (addr+elementSize-1)/segmentBytes
		if first <= last {
			first = last + 1
		}
		if end >= first {
			count += int64(end - first + 1)
			last = end
		}
	}
	return count
}

// countLines classifies the lines touched by the elements at the sorted, unique byte addresses in full (every byte
// accessed) and partial.
func countLines(addrs []int, elementSize, lineBytes int) (full, part int64) {
	line, covered := -1, 0
	flush := func() {
		if line < 0 {
			return
		}
		if covered == lineBytes {
			full++
		} else {
			part++
		}
	}
	for _, addr := range addrs {
		for b := addr; b < addr+elementSize; {
			l := b / lineBytes
			lineEnd := (l + 1) * lineBytes
			n := min(addr+elementSize, lineEnd) - b
			if l != line {
				flush()
				line, covered = l, 0
			}
			covered += n
			b += n
		}
	}
	flush()
	return full, part
}

// sharedCounter accumulates shared memory requests of warps and their bank conflicts.
type sharedCounter struct {
	numBanks int

	req, tran int64

	// scratch space for addWarp.
	words     []int
	bankWords []int
}

func newSharedCounter(numBanks int) *sharedCounter {
	return &sharedCounter{numBanks: numBanks, bankWords: make([]int, numBanks)}
}

// addWarp records one warp instruction accessing the shared memory elements at the given positions, inactive
// lanes are -1. The number of transactions is the largest number of distinct 4-byte words mapped to one bank.
func (c *sharedCounter) addWarp(positions []int, elementSize int) {
	c.words = c.words[:0]
	for _, pos := range positions {
		if pos < 0 {
			continue
		}
		first := pos * elementSize / 4
		last := (pos*elementSize + elementSize - 1) / 4
		for w := first; w <= last; w++ {
			c.words = append(c.words, w)
		}
	}
	if len(c.words) == 0 {
		return
	}
	slices.Sort(c.words)
	c.words = slices.Compact(c.words)
	clear(c.bankWords)
	var tran int
	for _, w := range c.words {
		bank := w % c.numBanks
		c.bankWords[bank]++
		tran = max(tran, c.bankWords[bank])
	}
	c.req++
	c.tran += int64(tran)
}
