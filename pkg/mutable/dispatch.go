// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mutable

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/mutablecl/pkg/core/commands"
	"github.com/gomlx/mutablecl/pkg/core/kernel"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// VariableDispatch binds the dimensions of one recorded launch to the payload fields and walker
// fields derived from them. It holds the authoritative group count, group size and global offset,
// and recomputes every dependent field when any of them changes.
type VariableDispatch struct {
	cl     *CommandList
	launch *launch
	desc   *kernel.Descriptor

	groupCount, groupSize, globalOffset [3]uint32

	// Dimension variables, nil if the category is not mutable.
	groupCountVar, groupSizeVar, globalOffsetVar *Variable

	// SLM arguments in argument order, and the SLM size of each argument (0 for other kinds).
	slmVars  []*Variable
	slmSizes []uint32
	slmTotal uint32

	// hostLocalIDs is set when the per-thread local ids are written by the host, in the
	// perThread space of the payload reserved for MaxWorkGroupSize.
	hostLocalIDs       bool
	crossThreadAligned int
	grfSize            int
}

// GroupCount returns the current number of work-groups.
func (d *VariableDispatch) GroupCount() [3]uint32 { return d.groupCount }

// GroupSize returns the current number of work-items per group.
func (d *VariableDispatch) GroupSize() [3]uint32 { return d.groupSize }

// GlobalOffset returns the current global offset.
func (d *VariableDispatch) GlobalOffset() [3]uint32 { return d.globalOffset }

// SLMTotalSize returns the SLM size per group, including the static SLM.
func (d *VariableDispatch) SLMTotalSize() uint32 { return d.slmTotal }

// threadsPerGroup for the current group size.
func (d *VariableDispatch) threadsPerGroup() uint32 {
	return kernel.ThreadsPerGroup(d.desc.SIMDSize, d.groupSize)
}

// executionMask enables the lanes of the last thread of a group that hold work-items.
func executionMask(simd uint32, groupSize [3]uint32) uint32 {
	if simd <= 1 {
		return 1
	}
	remainder := groupSize[0] * groupSize[1] * groupSize[2] % simd
	if remainder == 0 {
		remainder = simd
	}
	return uint32(uint64(1)<<remainder - 1)
}

// workDim is the number of dimensions of the global work size in use.
func workDim(globalWorkSize [3]uint32) uint32 {
	switch {
	case globalWorkSize[2] > 1:
		return 3
	case globalWorkSize[1] > 1:
		return 2
	default:
		return 1
	}
}

// recomputeDimensions rewrites every payload field derived from the dimensions.
func (d *VariableDispatch) recomputeDimensions() {
	p := d.launch.payload
	traits := &d.desc.Dispatch
	var globalWorkSize [3]uint32
	patches := 0
	write := func(offset kernel.Offset, value uint32) {
		if p.writeUint32(offset, value) {
			patches++
		}
	}
	for axis := range 3 {
		globalWorkSize[axis] = d.groupCount[axis] * d.groupSize[axis]
		write(traits.GlobalWorkSize[axis], globalWorkSize[axis])
		write(traits.LocalWorkSize[axis], d.groupSize[axis])
		write(traits.LocalWorkSize2[axis], d.groupSize[axis])
		write(traits.EnqueuedLocalWorkSize[axis], d.groupSize[axis])
		write(traits.NumWorkGroups[axis], d.groupCount[axis])
		write(traits.GlobalWorkOffset[axis], d.globalOffset[axis])
	}
	write(traits.WorkDim, workDim(globalWorkSize))
	d.cl.options.Metrics.RecordPatches("dispatch", patches)
}

func validateGroupCount(groupCount [3]uint32) error {
	for axis, count := range groupCount {
		if count == 0 {
			return errors.Wrapf(ErrInvalidArgument, "group count %v has a zero dimension %d", groupCount, axis)
		}
	}
	return nil
}

func (d *VariableDispatch) specificFieldsArgs() commands.SpecificFieldsArgs {
	return commands.SpecificFieldsArgs{
		GroupCount:            d.groupCount,
		ThreadsPerThreadGroup: d.threadsPerGroup(),
		SLMTotalSize:          d.slmTotal,
	}
}

func (d *VariableDispatch) setGroupCount(groupCount [3]uint32) error {
	if err := validateGroupCount(groupCount); err != nil {
		return err
	}
	d.groupCount = groupCount
	w := d.launch.walker
	w.SetNumberWorkGroups(groupCount)
	args := d.specificFieldsArgs()
	args.UpdateGroupCount = true
	w.UpdateSpecificFields(args)
	d.launch.markWalkerDirty(false)
	d.recomputeDimensions()
	klog.V(2).Infof("%s: %s group count set to %v", d.cl, d.desc.Name, groupCount)
	return nil
}

func (d *VariableDispatch) setGroupSize(groupSize [3]uint32) error {
	if err := d.desc.ValidateGroupSize(groupSize); err != nil {
		return err
	}
	d.groupSize = groupSize
	w := d.launch.walker
	threads := d.threadsPerGroup()
	w.SetWorkGroupSize(groupSize)
	w.SetNumberThreadsPerThreadGroup(threads)
	w.SetExecutionMask(executionMask(d.desc.SIMDSize, groupSize))
	if d.hostLocalIDs {
		p := d.launch.payload
		n := kernel.GenerateLocalIDs(p.perThread, d.desc.SIMDSize, d.grfSize, d.desc.LocalIDChannels, groupSize)
		w.SetIndirectDataSize(uint32(d.crossThreadAligned + n))
	}
	args := d.specificFieldsArgs()
	args.UpdateGroupSize = true
	w.UpdateSpecificFields(args)
	d.launch.markWalkerDirty(false)
	d.recomputeDimensions()
	klog.V(2).Infof("%s: %s group size set to %v (%d threads)", d.cl, d.desc.Name, groupSize, threads)
	return nil
}

func (d *VariableDispatch) setGlobalOffset(globalOffset [3]uint32) {
	d.globalOffset = globalOffset
	d.recomputeDimensions()
	klog.V(2).Infof("%s: %s global offset set to %v", d.cl, d.desc.Name, globalOffset)
}

// setSLMSize changes the SLM size of v, and recomputes the offsets of all SLM arguments and the
// walker SLM fields. The new total must fit the platform.
func (d *VariableDispatch) setSLMSize(v *Variable, size uint32) error {
	sizes := append([]uint32(nil), d.slmSizes...)
	sizes[v.argIndex] = size
	offsets, total := d.desc.SLMLayout(sizes)
	if maxSLM := d.cl.caps.MaxSLMSize; total > maxSLM {
		return errors.Wrapf(ErrInvalidArgument, "argument %q: SLM of %s exceeds the %s available per group",
			v.name, humanize.IBytes(uint64(total)), humanize.IBytes(uint64(maxSLM)))
	}
	v.slmSize = size
	d.applySLMLayout(sizes, offsets, total)
	return nil
}

func (d *VariableDispatch) applySLMLayout(sizes, offsets []uint32, total uint32) {
	d.slmSizes = sizes
	for _, v := range d.slmVars {
		v.slmOffset = offsets[v.argIndex]
		v.writeUsages()
	}
	if total == d.slmTotal {
		return
	}
	d.slmTotal = total
	w := d.launch.walker
	w.SetSLMSize(total)
	args := d.specificFieldsArgs()
	args.UpdateSLM = true
	w.UpdateSpecificFields(args)
	d.launch.markWalkerDirty(false)
	klog.V(2).Infof("%s: %s SLM set to %s", d.cl, d.desc.Name, humanize.IBytes(uint64(total)))
}
