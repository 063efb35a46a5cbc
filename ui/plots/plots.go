// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots collects measurements of transpose plans (estimated cycles against measured time), saves and
// loads them, and plots them.
//
// The plots are used to calibrate the performance model: a good model shows the points of each method close to
// a line.
package plots

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/gotranspose/pkg/support/fsutil"
	"github.com/gomlx/gotranspose/pkg/support/xslices"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// Point is one measurement of a plan. It is used to save/load plots.
type Point struct {
	// Method name of the plan measured.
	Method string

	// Dims and Perm of the transpose, as requested (not reduced).
	Dims, Perm []int

	// ElementSize in bytes.
	ElementSize int

	// Cycles estimated by the performance model.
	Cycles float64

	// Seconds measured.
	Seconds float64
}

// LoadPoints parses all plot points saved in the given file.
func LoadPoints(filePath string) ([]Point, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read plots file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var points []Point
	for {
		var point Point
		err := dec.Decode(&point)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error while decoding plots file %q", filePath)
		}
		points = append(points, point)
	}
	return points, nil
}

// CreatePointsWriter creates a channel to write Point to the given file, appending to it if it already exists.
// It creates an errReport channel to report an error (or nil) back at the very end.
// If any error occurs, it stops writing, and will report the error back once pointWriter is closed.
func CreatePointsWriter(filePath string) (pointWriter chan<- Point, errReport <-chan error) {
	pointChan := make(chan Point, 100)
	pointWriter = pointChan
	errChan := make(chan error, 1)
	errReport = errChan
	go func() {
		f, err := fsutil.AppendFile(filePath)
		if err != nil {
			klog.Errorf("Error: %v", err)
		}
		var enc *json.Encoder
		if f != nil {
			enc = json.NewEncoder(f)
		}
		for point := range pointChan {
			if err != nil {
				continue
			}
			err = enc.Encode(point)
			if err != nil {
				err = errors.Wrapf(err, "failed to encode point %+v", point)
				klog.Errorf("Error: %v", err)
			}
		}
		if f != nil {
			if err == nil {
				err = f.Close()
			} else {
				_ = f.Close()
			}
		}
		errChan <- err
	}()
	return
}

// Methods returns the sorted names of the methods in points.
func Methods(points []Point) []string {
	methods := make(map[string]bool)
	for _, p := range points {
		methods[p.Method] = true
	}
	return xslices.SortedKeys(methods)
}

// Table returns a table with the points, sorted by method and then by cycles.
func Table(points []Point) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("Method", "Dims", "Perm", "Elem", "Cycles", "Seconds")
	sorted := slices.Clone(points)
	slices.SortStableFunc(sorted, func(a, b Point) int {
		if a.Method != b.Method {
			if a.Method < b.Method {
				return -1
			}
			return 1
		}
		switch {
		case a.Cycles < b.Cycles:
			return -1
		case a.Cycles > b.Cycles:
			return 1
		}
		return 0
	})
	for _, p := range sorted {
		table.Row(p.Method, fmt.Sprint(p.Dims), fmt.Sprint(p.Perm), fmt.Sprint(p.ElementSize),
			fmt.Sprintf("%.0f", p.Cycles), fmt.Sprintf("%.3e", p.Seconds))
	}
	return table.String()
}

// SaveCyclesVsTime plots the estimated cycles (x-axis) against the measured time (y-axis), one series per method,
// and saves it to filePath. The format is given by the file extension (e.g.: ".png", ".svg").
func SaveCyclesVsTime(filePath, title string, points []Point) error {
	if len(points) == 0 {
		return errors.New("no points to plot")
	}
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return err
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Estimated cycles"
	p.Y.Label.Text = "Measured time (s)"
	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	p.Legend.Left = true

	for ii, method := range Methods(points) {
		var xys plotter.XYs
		for _, pt := range points {
			if pt.Method == method {
				xys = append(xys, plotter.XY{X: pt.Cycles, Y: pt.Seconds})
			}
		}
		scatter, err := plotter.NewScatter(xys)
		if err != nil {
			return errors.Wrapf(err, "failed to create scatter for method %s", method)
		}
		scatter.GlyphStyle.Color = plotutil.Color(ii)
		scatter.GlyphStyle.Shape = plotutil.Shape(ii)
		p.Add(scatter)
		p.Legend.Add(method, scatter)
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, filePath); err != nil {
		return errors.Wrapf(err, "failed to save plot to %q", filePath)
	}
	klog.V(1).Infof("Saved plot of %d points to %q", len(points), filePath)
	return nil
}
