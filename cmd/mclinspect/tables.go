// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/mutablecl/pkg/mutable"
	"github.com/janpfeifer/must"
	"github.com/x448/float16"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F44"))
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(plainTableStyle)
}

// plainTableStyle styles the header (row < 0) and alternates the style of the data rows.
func plainTableStyle(row, col int) (s lipgloss.Style) {
	if row < 0 {
		s = headerRowStyle
		return
	}
	switch {
	case row%2 == 0:
		s = oddRowStyle
	default:
		s = evenRowStyle
	}
	if col == 0 {
		s = s.Align(lipgloss.Right)
	} else {
		s = s.Align(lipgloss.Left)
	}
	return
}

// Reporter prints the state of a Session.
type Reporter struct {
	w    io.Writer
	sess *Session

	Walker, Variables, Residency, Metrics bool
}

// Report prints the tables selected, titled with the step that led to the current state.
func (r *Reporter) Report(title string, err error) {
	fmt.Fprintln(r.w, titleStyle.Render(title))
	if err != nil {
		fmt.Fprintln(r.w, errorStyle.Render(err.Error()))
	}
	fmt.Fprintln(r.w, r.summary().Render())
	if r.Walker {
		fmt.Fprintln(r.w, r.walker().Render())
	}
	if r.Variables {
		fmt.Fprintln(r.w, r.variables().Render())
	}
	if r.Residency {
		fmt.Fprintln(r.w, r.residency().Render())
	}
	if r.Metrics {
		fmt.Fprintln(r.w, r.metrics().Render())
	}
}

func (r *Reporter) summary() *lgtable.Table {
	cl := r.sess.List
	table := newPlainTable()
	table.Row("command list", cl.String())
	table.Row("platform", fmt.Sprintf("%s (%d partitions)", cl.Platform().Name(), cl.Platform().PartitionCount()))
	table.Row("kernel", r.sess.Kernel.Name())
	table.Row("command id", fmt.Sprintf("%d", r.sess.ID))
	table.Row("flags", parseFlags(r.sess.Scenario.Launch.Flags).String())
	table.Row("closed", fmt.Sprintf("%v", cl.IsClosed()))
	for _, s := range []struct {
		name   string
		used   int
		blocks int
		hash   uint64
	}{
		{"commands", cl.Commands().Used(), len(cl.Commands().Blocks()), cl.Commands().Blocks()[0].Fingerprint()},
		{"indirect heap", cl.Heap().Used(), len(cl.Heap().Blocks()), cl.Heap().Blocks()[0].Fingerprint()},
	} {
		table.Row(s.name, fmt.Sprintf("%s in %d blocks, fingerprint %016x", humanize.IBytes(uint64(s.used)), s.blocks, s.hash))
	}
	return table
}

func dims(d [3]uint32) string { return fmt.Sprintf("%d x %d x %d", d[0], d[1], d[2]) }

func (r *Reporter) walker() *lgtable.Table {
	w := must.M1(r.sess.List.Walker(r.sess.ID))
	d := must.M1(r.sess.List.Dispatch(r.sess.ID))
	table := newPlainTable().Headers("Field", "Value")
	table.Row("group count", dims(w.NumberWorkGroups()))
	table.Row("group size", dims(w.WorkGroupSize()))
	table.Row("global offset", dims(d.GlobalOffset()))
	table.Row("threads per group", fmt.Sprintf("%d", w.NumberThreadsPerThreadGroup()))
	table.Row("execution mask", fmt.Sprintf("0x%08x", w.ExecutionMask()))
	table.Row("indirect data", fmt.Sprintf("0x%x, %s", w.IndirectDataStartAddress(), humanize.IBytes(uint64(w.IndirectDataSize()))))
	table.Row("SLM", fmt.Sprintf("%s (encoded %d)", humanize.IBytes(uint64(d.SLMTotalSize())), w.SLMSize()))
	table.Row("preferred SLM allocation", fmt.Sprintf("%d", w.PreferredSLMAllocationSize()))
	table.Row("thread-group dispatch", fmt.Sprintf("%d", w.ThreadGroupDispatchSize()))
	partition, size := w.PartitionLayout()
	table.Row("partition", fmt.Sprintf("type %d, size %d", partition, size))
	table.Row("post-sync address", fmt.Sprintf("0x%x", w.PostSyncAddress()))
	gpu, cpu := xxhash.Sum64(w.GPUBuffer()), xxhash.Sum64(w.CPUBuffer())
	state := "committed"
	if gpu != cpu {
		state = "staged edits pending Close"
	}
	table.Row("buffers", fmt.Sprintf("gpu %016x / cpu %016x: %s", gpu, cpu, state))
	return table
}

func (r *Reporter) variables() *lgtable.Table {
	table := newPlainTable().Headers("Name", "Kind", "Value", "Usages", "Instructions")
	for _, v := range must.M1(r.sess.List.Variables(r.sess.ID)) {
		usages := fmt.Sprintf("%d cross-thread, %d inline", len(v.CrossThreadUsages()), len(v.InlineUsages()))
		table.Row(v.Name(), v.Kind().String(), variableValue(v), usages, strings.Join(v.Primitives(), " "))
	}
	return table
}

func variableValue(v *mutable.Variable) string {
	switch v.Kind() {
	case mutable.KindBuffer:
		if v.Allocation() == nil {
			return "null"
		}
		return fmt.Sprintf("0x%x (%s+%d)", v.Address(), v.Allocation().Name, v.Address()-v.Allocation().GPUAddress)
	case mutable.KindValue:
		value := v.Value()
		if len(value) == 2 {
			half := float16.Frombits(binary.LittleEndian.Uint16(value))
			return fmt.Sprintf("0x%s (f16 %g)", hex.EncodeToString(value), half.Float32())
		}
		return "0x" + hex.EncodeToString(value)
	case mutable.KindSLMBuffer:
		size, offset := v.SLMSize()
		return fmt.Sprintf("%s at %d", humanize.IBytes(uint64(size)), offset)
	case mutable.KindGroupCount, mutable.KindGroupSize, mutable.KindGlobalOffset:
		return dims(v.Dims())
	case mutable.KindSignalEvent, mutable.KindWaitEvent:
		if v.Event() == nil {
			return "none"
		}
		return v.Event().String()
	}
	return ""
}

func (r *Reporter) residency() *lgtable.Table {
	table := newPlainTable().Headers("Allocation", "References")
	for _, id := range r.sess.Tracker.Resident() {
		table.Row(fmt.Sprintf("#%d", id), humanize.Comma(int64(r.sess.Tracker.RefCount(id))))
	}
	return table
}

func (r *Reporter) metrics() *lgtable.Table {
	table := newPlainTable().Headers("Metric", "Labels", "Value")
	for _, family := range must.M1(r.sess.Registry.Gather()) {
		for _, m := range family.GetMetric() {
			var labels []string
			for _, label := range m.GetLabel() {
				labels = append(labels, label.GetName()+"="+label.GetValue())
			}
			value := m.GetCounter().GetValue() + m.GetGauge().GetValue()
			table.Row(family.GetName(), strings.Join(labels, ","), humanize.Ftoa(value))
		}
	}
	return table
}
