// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"flag"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
	assert.Empty(t, SortedKeys(map[int]bool{}))
}

func TestIotaAndMap(t *testing.T) {
	assert.Equal(t, []int{3, 4, 5}, Iota(3, 3))
	assert.Equal(t, []float64{0.5, 1.5}, Iota(0.5, 2))
	assert.Equal(t, []string{"3", "4"}, Map(Iota(3, 2), strconv.Itoa))
}

func TestFlagSetVar(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	dims := FlagSetVar(fs, "dims", []int{4, 4}, "dimensions", strconv.Atoi)
	perm := FlagSetVar(fs, "perm", nil, "permutation", strconv.Atoi)
	require.NoError(t, fs.Parse([]string{"-dims=64,32,16"}))
	assert.Equal(t, []int{64, 32, 16}, *dims)
	assert.Nil(t, *perm)
	assert.Equal(t, "64,32,16", fs.Lookup("dims").Value.String())

	// A bad value keeps the previous one.
	require.Error(t, fs.Set("dims", "1,x"))
	assert.Equal(t, []int{64, 32, 16}, *dims)
	require.NoError(t, fs.Set("perm", ""))
	assert.Equal(t, []int{}, *perm)
}
