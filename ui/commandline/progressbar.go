// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gotranspose/pkg/core/plan"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// sweepMethods are the methods shown in the stats table, one row each.
var sweepMethods = []plan.Method{plan.Trivial, plan.Packed, plan.PackedSplit, plan.Tiled, plan.TiledCopy}

type sweepUpdate struct {
	method plan.Method
	cycles float64
}

// SweepProgress displays a progress bar for a sweep over many transposes, along with a table of how many times
// each method was chosen. The table is redrawn asynchronously, so a fast sweep is not slowed down by the terminal.
type SweepProgress struct {
	numSteps int
	bar      *progressbar.ProgressBar

	termenv       *termenv.Output
	out           io.Writer
	statsStyle    lipgloss.Style
	statsTable    *lgtable.Table
	isFirstOutput bool

	updates          chan sweepUpdate
	asyncUpdatesDone sync.WaitGroup

	// Owned by the drawing goroutine until Done.
	counts      map[plan.Method]int
	totalCycles map[plan.Method]float64
	numDone     int
}

// NewSweepProgress creates and displays a progress bar for numSteps transposes on the standard output.
func NewSweepProgress(numSteps int) *SweepProgress {
	return newSweepProgress(numSteps, os.Stdout)
}

func newSweepProgress(numSteps int, out io.Writer) *SweepProgress {
	s := &SweepProgress{
		numSteps:      numSteps,
		out:           out,
		termenv:       termenv.NewOutput(out),
		statsStyle:    lipgloss.NewStyle().PaddingLeft(8),
		isFirstOutput: true,
		updates:       make(chan sweepUpdate, 100), // Large buffer so the sweep is not blocked.
		counts:        make(map[plan.Method]int),
		totalCycles:   make(map[plan.Method]float64),
	}
	s.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return normalStyle
			}
			return rightAlignedStyle
		})
	s.bar = progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("plans"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(out),
	)
	s.asyncUpdatesDone.Add(1)
	go s.draw()
	return s
}

// Add reports one more planned transpose, with its chosen method and estimated cycles (0 if not modeled).
func (s *SweepProgress) Add(method plan.Method, cycles float64) {
	s.updates <- sweepUpdate{method: method, cycles: cycles}
}

// Done finishes the display and returns how many times each method was chosen.
func (s *SweepProgress) Done() map[plan.Method]int {
	close(s.updates)
	s.asyncUpdatesDone.Wait()
	s.termenv.ShowCursor()
	_, _ = fmt.Fprintln(s.out)
	return s.counts
}

// draw runs in its own goroutine, accumulating the updates and redrawing the table and the bar.
func (s *SweepProgress) draw() {
	defer s.asyncUpdatesDone.Done()
	for update := range s.updates {
		amount := s.accumulate(update)
	exhaust:
		for {
			select {
			case newUpdate, ok := <-s.updates:
				if !ok {
					break exhaust
				}
				amount += s.accumulate(newUpdate)
			default:
				break exhaust
			}
		}

		s.statsTable.Data(lgtable.NewStringData())
		s.statsTable.Row("Transposes", fmt.Sprintf("%s of %s", humanize.Comma(int64(s.numDone)),
			humanize.Comma(int64(s.numSteps))), "avg cycles")
		for _, method := range sweepMethods {
			avg := "-"
			if count := s.counts[method]; count > 0 && s.totalCycles[method] > 0 {
				avg = humanize.CommafWithDigits(s.totalCycles[method]/float64(count), 0)
			}
			s.statsTable.Row(method.String(), strconv.Itoa(s.counts[method]), avg)
		}

		// Clear the previous lines that will be overwritten.
		s.termenv.HideCursor()
		if !s.isFirstOutput {
			numLinesToBackup := 1 + len(sweepMethods) + 2 + 2
			s.termenv.CursorPrevLine(numLinesToBackup)
		}
		s.isFirstOutput = false

		_, _ = fmt.Fprintln(s.out, s.statsStyle.Render(s.statsTable.String()))
		_ = s.bar.Add(amount) // Prints progress bar line.
		_, _ = fmt.Fprintln(s.out)
		s.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

func (s *SweepProgress) accumulate(update sweepUpdate) int {
	s.counts[update.method]++
	s.totalCycles[update.method] += update.cycles
	s.numDone++
	return 1
}
