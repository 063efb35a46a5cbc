// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package: generic mapping, sorted map keys and
// command-line flags for lists of values.
package xslices

import (
	"cmp"
	"flag"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// Keys returns the keys of a map in the form of a slice.
func Keys[K comparable, V any](m map[K]V) []K {
	s := make([]K, 0, len(m))
	for k := range m {
		s = append(s, k)
	}
	return s
}

// SortedKeys returns the sorted keys of a map in the form of a slice.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	s := Keys(m)
	slices.Sort(s)
	return s
}

// Iota returns a slice of incremental values, starting with start and of length len.
// Eg: Iota(3, 2) -> []int{3, 4}
func Iota[T constraints.Integer | constraints.Float](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// Flag creates a flag for []T with the given name, description and default value in the default flag set.
// It takes as input a parser for an individual T value. Values are separated by ",".
func Flag[T any](name string, defaultValue []T, usage string,
	parserFn func(valueStr string) (T, error)) *[]T {
	return FlagSetVar(flag.CommandLine, name, defaultValue, usage, parserFn)
}

// FlagSetVar is like Flag, but registers the flag in the given flag set.
func FlagSetVar[T any](fs *flag.FlagSet, name string, defaultValue []T, usage string,
	parserFn func(valueStr string) (T, error)) *[]T {
	f := &sliceFlag[T]{
		parsedSlice: defaultValue,
		parserFn:    parserFn,
	}
	fs.Var(f, name, usage)
	return &f.parsedSlice
}

// IntsFlag creates a flag for []int in the default flag set.
func IntsFlag(name string, defaultValue []int, usage string) *[]int {
	return Flag(name, defaultValue, usage, func(valueStr string) (int, error) {
		return strconv.Atoi(strings.TrimSpace(valueStr))
	})
}

// sliceFlag implements flag.Value for a generic type.
type sliceFlag[T any] struct {
	parsedSlice []T
	parserFn    func(valueStr string) (T, error)
}

func (f *sliceFlag[T]) String() string {
	if f == nil || len(f.parsedSlice) == 0 {
		return ""
	}
	parts := Map(f.parsedSlice, func(elem T) string {
		if s, ok := any(elem).(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("%v", elem)
	})
	return strings.Join(parts, ",")
}

func (f *sliceFlag[T]) Set(listStr string) error {
	if listStr == "" {
		f.parsedSlice = make([]T, 0)
		return nil
	}
	parts := strings.Split(listStr, ",")
	parsed := make([]T, len(parts))
	var err error
	for ii, part := range parts {
		parsed[ii], err = f.parserFn(part)
		if err != nil {
			return err
		}
	}
	f.parsedSlice = parsed
	return nil
}
