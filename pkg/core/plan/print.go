// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plan

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gotranspose/backends"
	"github.com/pkg/errors"
)

// String returns a multi-line description of the plan: the transpose, the partition, the launch configuration,
// the lookup tables and, if modeled, the estimate.
func (p *Plan) String() string {
	var sb strings.Builder
	w := func(format string, args ...any) {
		_, _ = fmt.Fprintf(&sb, format, args...)
		sb.WriteByte('\n')
	}
	w("Plan %s: dims=%v perm=%v, reduced dims=%v perm=%v, %d bytes elements (%s moved)", p.ID, p.Dims, p.Perm,
		p.RedDims, p.RedPerm, p.ElementSize, humanize.IBytes(uint64(p.Bytes())))
	w("\t%s", p.Partition)
	lc := p.Launch
	w("\tthreads %s, blocks %s, shmem %s, regStorage %d, regs/thread %d, active blocks/SM %d", lc.NumThread,
		lc.NumBlock, humanize.IBytes(uint64(lc.ShmemBytes)), lc.NumRegStorage, lc.RegsPerThread, p.NumActiveBlock)
	if len(p.HostMbar) > 0 {
		w("\tMbar:")
		for _, e := range p.HostMbar {
			w("\t\tin c=%d d=%d ct=%d, out c=%d d=%d ct=%d", e.CIn, e.DIn, e.CtIn, e.COut, e.DOut, e.CtOut)
		}
	}
	if len(p.HostMmk) > 0 {
		w("\tMmk:")
		for _, e := range p.HostMmk {
			w("\t\tin c=%d d=%d ct=%d, out c=%d d=%d ct=%d", e.CIn, e.DIn, e.CtIn, e.COut, e.DOut, e.CtOut)
		}
		w("\tMsh:")
		for _, e := range p.HostMsh {
			w("\t\tc=%d d=%d ct=%d", e.C, e.D, e.Ct)
		}
	}
	if est := p.Estimate; est != nil {
		w("\testimate: %s cycles, mlp %.2f, %d iterations", humanize.CommafWithDigits(est.Cycles, 0), est.MLP,
			est.NumIter)
		w("\t\tgld req %s tran %s, gst req %s tran %s", humanize.Comma(est.GldReq), humanize.Comma(est.GldTran),
			humanize.Comma(est.GstReq), humanize.Comma(est.GstTran))
		w("\t\tL2 full %s part %s, L1 full %s part %s", humanize.Comma(est.ClFullL2), humanize.Comma(est.ClPartL2),
			humanize.Comma(est.ClFullL1), humanize.Comma(est.ClPartL1))
		w("\t\tsld req %s tran %s, sst req %s tran %s", humanize.Comma(est.SldReq), humanize.Comma(est.SldTran),
			humanize.Comma(est.SstReq), humanize.Comma(est.SstTran))
	}
	if p.IsActive() {
		w("\tactive on device %d", p.DeviceNum)
	}
	return sb.String()
}

// matlabColumns of the matrix written by WriteMatlab.
var matlabColumns = []string{
	"method", "rank", "numActiveBlock", "numThread", "numBlock", "shmemBytes", "numRegStorage",
	"cycles", "mlp", "gldReq", "gldTran", "gstReq", "gstTran", "clFullL2", "clPartL2", "clFullL1", "clPartL1",
	"sldReq", "sldTran", "sstReq", "sstTran", "seconds",
}

// WriteMatlab writes the plans as a MATLAB/Octave script: one row per plan with its method (as the Method number),
// launch configuration, estimate and measured time, for fitting the performance model offline.
//
// times holds the measured seconds of each plan, in the same order. It may be nil, in which case the column is 0.
func WriteMatlab(w io.Writer, props backends.DeviceProperties, plans []*Plan, times []float64) error {
	if times != nil && len(times) != len(plans) {
		return errors.Errorf("WriteMatlab() got %d times for %d plans", len(times), len(plans))
	}
	bw := bufio.NewWriter(w)
	_, _ = fmt.Fprintf(bw, "%% %s\n", props)
	_, _ = fmt.Fprintf(bw, "%% columns: %s\n", strings.Join(matlabColumns, " "))
	_, _ = fmt.Fprintf(bw, "deviceProp = [%d %d %d %d %d %d %d];\n", props.MultiProcessorCount, props.WarpSize,
		props.ClockRateKHz, props.MemoryClockRateKHz, props.MemoryBusWidth, props.SharedMemPerBlock, props.L2CacheSize)
	_, _ = fmt.Fprintln(bw, "plans = [")
	for ii, p := range plans {
		var seconds float64
		if times != nil {
			seconds = times[ii]
		}
		est := p.Estimate
		if est == nil {
			est = &Estimate{}
		}
		lc := p.Launch
		_, _ = fmt.Fprintf(bw, "%d %d %d %d %d %d %d %.1f %.3f %d %d %d %d %d %d %d %d %d %d %d %d %e\n",
			int(p.Method()), p.Rank(), p.NumActiveBlock, lc.NumThread.Total(), lc.NumBlock.Total(), lc.ShmemBytes,
			lc.NumRegStorage, est.Cycles, est.MLP, est.GldReq, est.GldTran, est.GstReq, est.GstTran,
			est.ClFullL2, est.ClPartL2, est.ClFullL1, est.ClPartL1, est.SldReq, est.SldTran, est.SstReq, est.SstTran,
			seconds)
	}
	_, _ = fmt.Fprintln(bw, "];")
	return errors.Wrap(bw.Flush(), "writing MATLAB dump")
}
