// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mutable

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/mutablecl/pkg/core/commands"
	"github.com/gomlx/mutablecl/pkg/core/event"
	"github.com/gomlx/mutablecl/pkg/core/memory"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// VariableKind is what a Variable holds.
type VariableKind int

const (
	KindBuffer VariableKind = iota
	KindValue
	KindSLMBuffer
	KindGroupCount
	KindGroupSize
	KindGlobalOffset
	KindSignalEvent
	KindWaitEvent
)

var variableKindNames = [...]string{
	KindBuffer:       "buffer",
	KindValue:        "value",
	KindSLMBuffer:    "slm_buffer",
	KindGroupCount:   "group_count",
	KindGroupSize:    "group_size",
	KindGlobalOffset: "global_offset",
	KindSignalEvent:  "signal_event",
	KindWaitEvent:    "wait_event",
}

// String implements fmt.Stringer.
func (k VariableKind) String() string {
	if k < 0 || int(k) >= len(variableKindNames) {
		return fmt.Sprintf("VariableKind(%d)", int(k))
	}
	return variableKindNames[k]
}

// VariableDescriptor holds the flags fixed when a Variable is created.
type VariableDescriptor struct {
	// Chunked values are written piecewise: each usage takes its own slice of the value.
	Chunked bool

	// StageCommit: walker edits land in its staging buffer until the command list is closed.
	StageCommit bool
}

// UsageRole is what a payload usage receives from its Variable.
type UsageRole int

const (
	// UsageValue receives the value itself: the pointer, the immediate value.
	UsageValue UsageRole = iota

	// UsageBufferOffset receives the 32-bit offset of a pointer within its allocation.
	UsageBufferOffset

	// UsageSLMOffset receives the 32-bit offset of an SLM argument within the group SLM.
	UsageSLMOffset
)

// KernelArgUsage is one payload location where a Variable's value is encoded.
type KernelArgUsage struct {
	// Inline is set if Offset is in the walker inline data, otherwise it's in the cross-thread data.
	Inline bool
	Offset int

	// Size bytes taken from SourceOffset of the encoded value.
	Size         int
	SourceOffset int

	Role UsageRole
}

// Variable is one mutable value of a recorded launch, plus every location where it is encoded.
//
// Variables are owned by the CommandList that created them, and are invalid after Reset.
type Variable struct {
	cl       *CommandList
	launch   *launch
	kind     VariableKind
	desc     VariableDescriptor
	name     string
	argIndex int

	crossThreadUsages []KernelArgUsage
	inlineUsages      []KernelArgUsage

	// Buffer state.
	pointerSize  int
	bufferOffset bool
	address      uint64
	allocation   *memory.Allocation

	// Value state.
	value []byte

	// SLM state: size set by the user, offset assigned by the dispatch layout.
	slmSize, slmOffset uint32

	// Event state and the primitives recorded for it.
	event  *event.Event
	signal *signalPrimitives
	wait   *waitPrimitives
}

func newVariable(cl *CommandList, l *launch, kind VariableKind, name string) *Variable {
	return &Variable{
		cl:       cl,
		launch:   l,
		kind:     kind,
		name:     name,
		argIndex: -1,
		desc:     VariableDescriptor{StageCommit: cl.options.StageCommit},
	}
}

// Kind of the variable.
func (v *Variable) Kind() VariableKind { return v.kind }

// Name of the variable: the argument name for kernel arguments, the kind otherwise.
func (v *Variable) Name() string { return v.name }

// ArgIndex is the kernel argument index, or -1 for variables that are not kernel arguments.
func (v *Variable) ArgIndex() int { return v.argIndex }

// Descriptor returns the variable flags.
func (v *Variable) Descriptor() VariableDescriptor { return v.desc }

// CrossThreadUsages returns the usages in the cross-thread data.
func (v *Variable) CrossThreadUsages() []KernelArgUsage { return v.crossThreadUsages }

// InlineUsages returns the usages in the walker inline data.
func (v *Variable) InlineUsages() []KernelArgUsage { return v.inlineUsages }

// Address currently set for a buffer variable.
func (v *Variable) Address() uint64 { return v.address }

// Allocation currently referenced by a buffer variable, nil for a null pointer.
func (v *Variable) Allocation() *memory.Allocation { return v.allocation }

// Value currently set for a value variable.
func (v *Variable) Value() []byte { return v.value }

// SLMSize currently set for an SLM variable, and the offset assigned to it.
func (v *Variable) SLMSize() (size, offset uint32) { return v.slmSize, v.slmOffset }

// Event currently set for an event variable.
func (v *Variable) Event() *event.Event { return v.event }

// Dims returns the current value of a group count, group size or global offset variable.
func (v *Variable) Dims() [3]uint32 {
	d := v.launch.dispatch
	switch v.kind {
	case KindGroupCount:
		return d.groupCount
	case KindGroupSize:
		return d.groupSize
	case KindGlobalOffset:
		return d.globalOffset
	}
	exceptions.Panicf("Variable.Dims() called on a %s variable", v.kind)
	return [3]uint32{}
}

// Primitives returns a description of the instructions bound to an event variable.
func (v *Variable) Primitives() []string {
	switch {
	case v.signal != nil:
		return v.signal.describe()
	case v.wait != nil:
		return v.wait.describe()
	}
	return nil
}

// AddKernelArgUsage registers one more location where the value of the variable is encoded.
// It can be called any number of times, for values that recur in the payload.
func (v *Variable) AddKernelArgUsage(usage KernelArgUsage) {
	if usage.Inline {
		v.inlineUsages = append(v.inlineUsages, usage)
	} else {
		v.crossThreadUsages = append(v.crossThreadUsages, usage)
	}
}

// bindPayload registers the usages of a payload range, split between the inline data and the
// cross-thread data if it straddles both.
func (v *Variable) bindPayload(offset, size, sourceOffset int, role UsageRole) {
	inlineSize, crossThreadOffset := v.launch.payload.location(offset, size)
	if inlineSize > 0 {
		v.AddKernelArgUsage(KernelArgUsage{Inline: true, Offset: offset, Size: inlineSize, SourceOffset: sourceOffset, Role: role})
	}
	if size > inlineSize {
		v.AddKernelArgUsage(KernelArgUsage{
			Offset:       crossThreadOffset,
			Size:         size - inlineSize,
			SourceOffset: sourceOffset + inlineSize,
			Role:         role,
		})
	}
}

// encoded returns the bytes of the current value for the role.
func (v *Variable) encoded(role UsageRole) []byte {
	switch role {
	case UsageBufferOffset:
		var buf [4]byte
		if v.allocation != nil {
			commands.PutUint(buf[:], uint32(v.address-v.allocation.GPUAddress))
		}
		return buf[:]
	case UsageSLMOffset:
		var buf [4]byte
		commands.PutUint(buf[:], v.slmOffset)
		return buf[:]
	}
	switch v.kind {
	case KindBuffer:
		buf := make([]byte, 8)
		commands.PutUint(buf, v.address)
		return buf[:v.pointerSize]
	case KindValue:
		return v.value
	}
	exceptions.Panicf("variable %q of kind %s has no payload encoding", v.name, v.kind)
	return nil
}

// writeUsages rewrites every payload usage with the current value.
func (v *Variable) writeUsages() {
	p := v.launch.payload
	for _, u := range v.crossThreadUsages {
		p.writeCrossThread(u.Offset, v.usageBytes(u))
	}
	for _, u := range v.inlineUsages {
		p.writeInline(u.Offset, v.usageBytes(u))
	}
	v.cl.options.Metrics.RecordPatches("cross_thread", len(v.crossThreadUsages))
	v.cl.options.Metrics.RecordPatches("inline", len(v.inlineUsages))
}

func (v *Variable) usageBytes(u KernelArgUsage) []byte {
	return v.encoded(u.Role)[u.SourceOffset : u.SourceOffset+u.Size]
}

// SetBufferVariable points a buffer variable to address, 0 for a null pointer.
//
// The address must resolve to a tracked allocation, otherwise ErrAllocationLookup is returned
// and nothing is written.
func (v *Variable) SetBufferVariable(address uint64) error {
	if v.kind != KindBuffer {
		return errors.Wrapf(ErrInvalidArgument, "SetBufferVariable on %s variable %q", v.kind, v.name)
	}
	var allocation *memory.Allocation
	if address != 0 {
		var err error
		allocation, _, err = v.cl.allocations.Lookup(address)
		if err != nil {
			return errors.WithMessagef(err, "argument %q", v.name)
		}
		if err := checkPointer(v.name, v.pointerSize, v.bufferOffset, address, allocation); err != nil {
			return err
		}
	}
	v.cl.swapAllocations(allocationsOf(v.allocation), allocationsOf(allocation))
	v.address = address
	v.allocation = allocation
	v.writeUsages()
	klog.V(2).Infof("%s: argument %q set to 0x%x (%s)", v.cl, v.name, address, allocation)
	return nil
}

// checkPointer returns ErrInvalidArgument if address doesn't fit a pointer slot of pointerSize
// bytes, or if its offset within allocation doesn't fit the 32-bit buffer offset slot.
func checkPointer(name string, pointerSize int, bufferOffset bool, address uint64, allocation *memory.Allocation) error {
	if pointerSize == 4 && address > math.MaxUint32 {
		return errors.Wrapf(ErrInvalidArgument, "argument %q: address 0x%x doesn't fit its 32-bit pointer", name, address)
	}
	if bufferOffset && allocation != nil && address-allocation.GPUAddress > math.MaxUint32 {
		return errors.Wrapf(ErrInvalidArgument, "argument %q: offset %s into %s doesn't fit the 32-bit buffer offset",
			name, humanize.IBytes(address-allocation.GPUAddress), allocation)
	}
	return nil
}

// SetValue sets the value of a by-value variable. Values shorter than the argument are zero extended.
func (v *Variable) SetValue(value []byte) error {
	if v.kind != KindValue {
		return errors.Wrapf(ErrInvalidArgument, "SetValue on %s variable %q", v.kind, v.name)
	}
	if len(value) > len(v.value) {
		return errors.Wrapf(ErrInvalidArgument, "argument %q takes %s, got %s", v.name,
			humanize.IBytes(uint64(len(v.value))), humanize.IBytes(uint64(len(value))))
	}
	n := copy(v.value, value)
	clear(v.value[n:])
	v.writeUsages()
	klog.V(2).Infof("%s: argument %q set to %d bytes value", v.cl, v.name, len(value))
	return nil
}

// SetSLMBufferVariable sets the SLM size of an SLM variable. The offsets of the SLM arguments that
// follow it and the walker SLM size are recomputed.
func (v *Variable) SetSLMBufferVariable(size uint32) error {
	if v.kind != KindSLMBuffer {
		return errors.Wrapf(ErrInvalidArgument, "SetSLMBufferVariable on %s variable %q", v.kind, v.name)
	}
	return v.launch.dispatch.setSLMSize(v, size)
}

// SetGroupCountVariable sets the number of work-groups of the launch.
func (v *Variable) SetGroupCountVariable(groupCount [3]uint32) error {
	if v.kind != KindGroupCount {
		return errors.Wrapf(ErrInvalidArgument, "SetGroupCountVariable on %s variable %q", v.kind, v.name)
	}
	return v.launch.dispatch.setGroupCount(groupCount)
}

// SetGroupSizeVariable sets the number of work-items per group of the launch.
func (v *Variable) SetGroupSizeVariable(groupSize [3]uint32) error {
	if v.kind != KindGroupSize {
		return errors.Wrapf(ErrInvalidArgument, "SetGroupSizeVariable on %s variable %q", v.kind, v.name)
	}
	return v.launch.dispatch.setGroupSize(groupSize)
}

// SetGlobalOffsetVariable sets the global offset of the launch.
func (v *Variable) SetGlobalOffsetVariable(globalOffset [3]uint32) error {
	if v.kind != KindGlobalOffset {
		return errors.Wrapf(ErrInvalidArgument, "SetGlobalOffsetVariable on %s variable %q", v.kind, v.name)
	}
	v.launch.dispatch.setGlobalOffset(globalOffset)
	return nil
}

// release drops every reference the variable holds.
func (v *Variable) release() {
	switch v.kind {
	case KindBuffer:
		v.cl.swapAllocations(allocationsOf(v.allocation), nil)
		v.allocation = nil
	case KindSignalEvent, KindWaitEvent:
		v.cl.swapEventReferences(v.event, nil)
		v.event = nil
	}
}

// allocationsOf returns a slice with a, or nil if a is nil.
func allocationsOf(a *memory.Allocation) []*memory.Allocation {
	if a == nil {
		return nil
	}
	return []*memory.Allocation{a}
}
