// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func modeledPlan(part Partition, cycles float64) *Plan {
	return &Plan{Partition: part, Estimate: &Estimate{Cycles: cycles}}
}

func TestChoosePlanHeuristic(t *testing.T) {
	t.Run("fewest cycles", func(t *testing.T) {
		plans := []*Plan{
			modeledPlan(TiledPartition{}, 200),
			modeledPlan(PackedPartition{}, 100),
			modeledPlan(TrivialPartition{}, 300),
		}
		assert.Equal(t, 1, ChoosePlanHeuristic(plans))
	})

	t.Run("ties by method", func(t *testing.T) {
		plans := []*Plan{
			modeledPlan(TrivialPartition{}, 100),
			modeledPlan(PackedPartition{}, 100),
			modeledPlan(SplitPartition{}, 100),
			modeledPlan(TiledPartition{}, 100),
			modeledPlan(TiledPartition{}, 100),
		}
		assert.Equal(t, 3, ChoosePlanHeuristic(plans))
		plans = append(plans, modeledPlan(TiledCopyPartition{}, 100))
		assert.Equal(t, 5, ChoosePlanHeuristic(plans))
		assert.Equal(t, 1, ChoosePlanHeuristic(plans[:2]))
	})

	t.Run("single", func(t *testing.T) {
		assert.Equal(t, 0, ChoosePlanHeuristic([]*Plan{modeledPlan(TrivialPartition{}, 1e9)}))
	})

	t.Run("not modeled", func(t *testing.T) {
		plans := []*Plan{
			{Partition: TrivialPartition{}, NumActiveBlock: 16},
			{Partition: PackedPartition{}, NumActiveBlock: 2},
			{Partition: PackedPartition{}, NumActiveBlock: 4},
			modeledPlan(PackedPartition{}, 1),
		}
		plans[3].NumActiveBlock = 3
		assert.Equal(t, 2, ChoosePlanHeuristic(plans))
	})

	t.Run("empty", func(t *testing.T) {
		require.Panics(t, func() { ChoosePlanHeuristic(nil) })
	})
}
