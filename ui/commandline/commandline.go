// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI tools for the command line: tables of transpose plans, a progress
// bar for sweeps over many transposes and the settings of the performance model.
package commandline

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gotranspose/pkg/core/plan"
)

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	chosenStyle       = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(lipgloss.Color("#50C878"))
	headerStyle       = lipgloss.NewStyle().Padding(0, 1).Bold(true)
	tableBorderColor  = "#705090"
)

var plansTableHeaders = []string{"", "ID", "Method", "Threads", "Blocks", "Shmem", "RegStorage", "Active", "Cycles"}

// PlansTable renders the plans as a table, marking the chosen one. Plans without an estimate show no cycles.
//
// If times is not nil, it holds the measured seconds of each plan, shown in an extra column.
func PlansTable(plans []*plan.Plan, chosen int, times []float64) string {
	headers := plansTableHeaders
	if times != nil {
		headers = append(headers[:len(headers):len(headers)], "Time")
	}
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case row == chosen:
				return chosenStyle
			case col >= 3:
				return rightAlignedStyle
			}
			return normalStyle
		})
	for ii, p := range plans {
		mark := ""
		if ii == chosen {
			mark = "*"
		}
		cycles := "-"
		if p.Estimate != nil {
			cycles = humanize.CommafWithDigits(p.Estimate.Cycles, 0)
		}
		lc := p.Launch
		row := []string{
			mark,
			p.ID.String()[:8],
			p.Method().String(),
			lc.NumThread.String(),
			lc.NumBlock.String(),
			humanize.IBytes(uint64(lc.ShmemBytes)),
			strconv.Itoa(lc.NumRegStorage),
			strconv.Itoa(p.NumActiveBlock),
			cycles,
		}
		if times != nil {
			row = append(row, FormatSeconds(times[ii]))
		}
		table.Row(row...)
	}
	return table.String()
}

// SprintPlanSummary returns a one-line summary of the chosen plan.
func SprintPlanSummary(p *plan.Plan) string {
	summary := fmt.Sprintf("%s: dims=%v perm=%v -> reduced dims=%v perm=%v, %s", p.Method(), p.Dims, p.Perm,
		p.RedDims, p.RedPerm, humanize.IBytes(uint64(p.Bytes())))
	if p.Estimate != nil {
		summary += fmt.Sprintf(", %s cycles", humanize.CommafWithDigits(p.Estimate.Cycles, 0))
	}
	return summary
}
