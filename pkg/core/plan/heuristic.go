// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// methodPreference ranks the methods on ties: lower is preferred.
var methodPreference = [NumMethods]int{
	Unknown:     5,
	Trivial:     4,
	Packed:      3,
	PackedSplit: 2,
	Tiled:       1,
	TiledCopy:   0,
}

// ChoosePlanHeuristic returns the index of the plan with the lowest estimated cycles. Ties are broken by preferring
// TiledCopy, Tiled, PackedSplit, Packed and then Trivial, and then by the order in plans.
//
// If some plan has no Estimate (the performance model couldn't run), it falls back to a rule: the preferred method
// first, and then the plan with more active blocks per multiprocessor.
//
// It panics if plans is empty: the caller must check.
func ChoosePlanHeuristic(plans []*Plan) int {
	if len(plans) == 0 {
		exceptions.Panicf("ChoosePlanHeuristic() requires at least one plan")
	}
	modeled := true
	for _, p := range plans {
		if p.Estimate == nil {
			modeled = false
			break
		}
	}
	best := 0
	for ii := 1; ii < len(plans); ii++ {
		if betterPlan(plans[ii], plans[best], modeled) {
			best = ii
		}
	}
	if klog.V(1).Enabled() {
		p := plans[best]
		if modeled {
			klog.Infof("chose plan %s out of %d: %s, %.0f cycles", p.ID, len(plans), p.Partition, p.Estimate.Cycles)
		} else {
			klog.Infof("chose plan %s out of %d without model: %s", p.ID, len(plans), p.Partition)
		}
	}
	return best
}

// betterPlan returns whether a is strictly better than b.
func betterPlan(a, b *Plan, modeled bool) bool {
	if modeled && a.Estimate.Cycles != b.Estimate.Cycles {
		return a.Estimate.Cycles < b.Estimate.Cycles
	}
	prefA, prefB := methodPreference[a.Method()], methodPreference[b.Method()]
	if prefA != prefB {
		return prefA < prefB
	}
	if !modeled {
		return a.NumActiveBlock > b.NumActiveBlock
	}
	return false
}
