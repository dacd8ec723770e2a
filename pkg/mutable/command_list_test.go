// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mutable

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/gomlx/mutablecl/pkg/core/event"
	"github.com/gomlx/mutablecl/pkg/core/kernel"
	"github.com/gomlx/mutablecl/pkg/core/memory"
	"github.com/gomlx/mutablecl/platform"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Arguments of testdata/scale.yaml.
const (
	argSrc = iota
	argDst
	argAlpha
	argTile
	argPartial
)

type fixture struct {
	t       *testing.T
	table   *memory.Table
	tracker *memory.ResidencyTracker
	cl      *CommandList
	k       *kernel.Kernel

	bufA, bufB                     *memory.Allocation
	events, counters, hostCounters *memory.Allocation
	timestamps                     *memory.Allocation
}

func newFixture(t *testing.T, platformConfig string, options Options) *fixture {
	desc, err := kernel.LoadDescriptor(filepath.Join("testdata", "scale.yaml"))
	require.NoError(t, err)
	f := &fixture{
		t:       t,
		table:   memory.NewTable(0x1_0000_0000),
		tracker: memory.NewResidencyTracker(),
	}
	f.bufA = f.table.Allocate("a", 4096)
	f.bufB = f.table.Allocate("b", 4096)
	f.events = f.table.Allocate("events", 4096)
	f.counters = f.table.Allocate("counters", 4096)
	f.hostCounters = f.table.Allocate("host_counters", 4096)
	f.timestamps = f.table.Allocate("timestamps", 4096)
	f.cl = New(platform.NewWithConfig(platformConfig), f.table, f.tracker, options)

	f.k = kernel.New(desc, 0x8000_0000)
	require.NoError(t, f.k.SetArgument(argSrc, 8, pointerBytes(f.bufA.GPUAddress)))
	require.NoError(t, f.k.SetArgument(argDst, 8, nil))
	require.NoError(t, f.k.SetArgument(argAlpha, 8, float64Bytes(2)))
	require.NoError(t, f.k.SetArgument(argTile, 4096, nil))
	require.NoError(t, f.k.SetArgument(argPartial, 100, nil))
	return f
}

func pointerBytes(address uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, address)
}

func float64Bytes(value float64) []byte {
	return binary.LittleEndian.AppendUint64(nil, math.Float64bits(value))
}

func (f *fixture) appendMutable(flags CommandFlags, groupCount [3]uint32, signal *event.Event, waits ...*event.Event) uint64 {
	id := must.M1(f.cl.GetNextCommandID(flags))
	require.NoError(f.t, f.cl.AppendLaunchKernel(f.k, groupCount, signal, waits...))
	return id
}

func (f *fixture) dispatch(id uint64) *VariableDispatch {
	return must.M1(f.cl.Dispatch(id))
}

func (f *fixture) payloadUint32(id uint64, offset int) uint32 {
	return binary.LittleEndian.Uint32(f.dispatch(id).ReadPayload(offset, 4))
}

func (f *fixture) payloadUint64(id uint64, offset int) uint64 {
	return binary.LittleEndian.Uint64(f.dispatch(id).ReadPayload(offset, 8))
}

func (f *fixture) payloadDims(id uint64, offsets ...int) (dims [3]uint32) {
	for axis, offset := range offsets {
		dims[axis] = f.payloadUint32(id, offset)
	}
	return
}

func (f *fixture) variable(id uint64, kind VariableKind, index int) *Variable {
	var matching []*Variable
	for _, v := range must.M1(f.cl.Variables(id)) {
		if v.Kind() == kind {
			matching = append(matching, v)
		}
	}
	require.Greaterf(f.t, len(matching), index, "no %s variable #%d", kind, index)
	return matching[index]
}

func (f *fixture) refs(a *memory.Allocation) int { return f.tracker.RefCount(a.ID) }

func TestAppendInlineSplit(t *testing.T) {
	f := newFixture(t, platform.XeHPCName, Options{})
	id := f.appendMutable(FlagKernelArguments, [3]uint32{4, 1, 1}, nil)
	assert.Equal(t, f.bufA.GPUAddress, f.payloadUint64(id, 0))
	assert.Equal(t, uint32(0), f.payloadUint32(id, 116), "buffer offset")
	assert.Equal(t, 2.0, math.Float64frombits(f.payloadUint64(id, 28)))

	vars := must.M1(f.cl.Variables(id))
	require.Len(t, vars, 5)
	alpha := vars[argAlpha]
	assert.Equal(t, "alpha", alpha.Name())
	assert.Equal(t, []KernelArgUsage{{Inline: true, Offset: 28, Size: 4}}, alpha.InlineUsages())
	assert.Equal(t, []KernelArgUsage{{Offset: 0, Size: 4, SourceOffset: 4}}, alpha.CrossThreadUsages())
	w := must.M1(f.cl.Walker(id))
	assert.Equal(t, float64Bytes(2)[:4], w.InlineData()[28:32])

	require.NoError(t, f.cl.UpdateKernelArgument(id, argSrc, 8, pointerBytes(f.bufB.GPUAddress+0x40)))
	assert.Equal(t, f.bufB.GPUAddress+0x40, f.payloadUint64(id, 0))
	assert.Equal(t, uint32(0x40), f.payloadUint32(id, 116))
	assert.Equal(t, f.bufB, vars[argSrc].Allocation())

	require.NoError(t, f.cl.UpdateKernelArgument(id, argAlpha, 8, float64Bytes(3.5)))
	assert.Equal(t, 3.5, math.Float64frombits(f.payloadUint64(id, 28)))

	// Shorter values are zero extended.
	require.NoError(t, f.cl.UpdateKernelArgument(id, argAlpha, 4, []byte{1, 2, 3, 4}))
	assert.Equal(t, uint64(0x04030201), f.payloadUint64(id, 28))

	err := f.cl.UpdateKernelArgument(id, argAlpha, 16, make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, uint64(0x04030201), f.payloadUint64(id, 28))
}

func TestBufferVariableUsages(t *testing.T) {
	f := newFixture(t, platform.Gen12LPName, Options{})
	id := f.appendMutable(FlagKernelArguments, [3]uint32{1, 1, 1}, nil)
	d := f.dispatch(id)
	crossThread := d.CrossThreadData()

	// No inline data on gen12lp: the cross-thread offsets are the payload offsets.
	src := must.M1(f.cl.Variables(id))[argSrc]
	src.AddKernelArgUsage(KernelArgUsage{Offset: 40, Size: 8})
	src.AddKernelArgUsage(KernelArgUsage{Offset: 56, Size: 8})
	sentinel := func(from, to int) {
		for i := from; i < to; i++ {
			crossThread[i] = 0xEE
		}
	}
	sentinel(36, 40)
	sentinel(48, 56)

	require.NoError(t, f.cl.UpdateKernelArgument(id, argSrc, 8, pointerBytes(f.bufB.GPUAddress)))
	for _, offset := range []int{0, 40, 56} {
		assert.Equalf(t, f.bufB.GPUAddress, binary.LittleEndian.Uint64(crossThread[offset:]), "usage at %d", offset)
	}
	assert.Equal(t, slices.Repeat([]byte{0xEE}, 4), crossThread[36:40])
	assert.Equal(t, slices.Repeat([]byte{0xEE}, 8), crossThread[48:56])
	assert.Len(t, src.CrossThreadUsages(), 4, "pointer, buffer offset and 2 extra usages")
	assert.Empty(t, src.InlineUsages())
}

func TestGroupCount(t *testing.T) {
	f := newFixture(t, platform.Gen12LPName, Options{})
	id := f.appendMutable(FlagGroupCount, [3]uint32{2, 2, 2}, nil)
	assert.Equal(t, [3]uint32{2, 2, 2}, f.payloadDims(id, 64, 68, 72))
	assert.Equal(t, [3]uint32{1, 1, 1}, f.payloadDims(id, 76, 80, 84))

	require.NoError(t, f.cl.UpdateGroupCount(id, 8, 2, 2))
	assert.Equal(t, [3]uint32{8, 2, 2}, f.payloadDims(id, 64, 68, 72), "global work size")
	assert.Equal(t, [3]uint32{8, 2, 2}, f.payloadDims(id, 88, 92, 96), "number of work-groups")
	assert.Equal(t, uint32(3), f.payloadUint32(id, 112), "work dim")
	assert.Equal(t, [3]uint32{8, 2, 2}, must.M1(f.cl.Walker(id)).NumberWorkGroups())
	assert.Equal(t, [3]uint32{8, 2, 2}, f.variable(id, KindGroupCount, 0).Dims())

	require.NoError(t, f.cl.UpdateGroupCount(id, 8, 1, 1))
	assert.Equal(t, uint32(1), f.payloadUint32(id, 112), "work dim")

	require.ErrorIs(t, f.cl.UpdateGroupCount(id, 4, 0, 1), ErrInvalidArgument)
	assert.Equal(t, [3]uint32{8, 1, 1}, f.dispatch(id).GroupCount())
}

func TestGroupSize(t *testing.T) {
	f := newFixture(t, platform.Gen12LPName, Options{})
	require.NoError(t, f.k.SetGroupSize(4, 1, 1))
	id := f.appendMutable(FlagGroupSize, [3]uint32{3, 1, 1}, nil)
	assert.Equal(t, [3]uint32{12, 1, 1}, f.payloadDims(id, 64, 68, 72))

	w := must.M1(f.cl.Walker(id))
	perThread := kernel.PerThreadDataSize(16, 32, 3)
	require.NoError(t, f.cl.UpdateGroupSize(id, 32, 2, 1))
	assert.Equal(t, [3]uint32{32, 2, 1}, f.payloadDims(id, 76, 80, 84))
	assert.Equal(t, [3]uint32{96, 2, 1}, f.payloadDims(id, 64, 68, 72))
	assert.Equal(t, [3]uint32{32, 2, 1}, w.WorkGroupSize())
	assert.Equal(t, uint32(4), w.NumberThreadsPerThreadGroup())
	assert.Equal(t, uint32(0xFFFF), w.ExecutionMask())
	assert.Equal(t, uint32(128+4*perThread), w.IndirectDataSize(), "host generated local ids follow the cross-thread data")

	require.NoError(t, f.cl.UpdateGroupSize(id, 20, 1, 1))
	assert.Equal(t, uint32(2), w.NumberThreadsPerThreadGroup())
	assert.Equal(t, uint32(0xF), w.ExecutionMask())
	assert.Equal(t, uint32(128+2*perThread), w.IndirectDataSize())

	require.ErrorIs(t, f.cl.UpdateGroupSize(id, 512, 1, 1), ErrInvalidArgument, "above max work-group size")
	require.ErrorIs(t, f.cl.UpdateGroupSize(id, 0, 1, 1), ErrInvalidArgument)
	assert.Equal(t, [3]uint32{20, 1, 1}, f.dispatch(id).GroupSize())
}

func TestGlobalOffset(t *testing.T) {
	f := newFixture(t, platform.XeHPCName, Options{})
	f.k.SetGlobalOffset(1, 1, 1)
	id := f.appendMutable(FlagGlobalOffset, [3]uint32{1, 1, 1}, nil)
	assert.Equal(t, [3]uint32{1, 1, 1}, f.payloadDims(id, 100, 104, 108))
	require.NoError(t, f.cl.UpdateGlobalOffset(id, 10, 20, 30))
	assert.Equal(t, [3]uint32{10, 20, 30}, f.payloadDims(id, 100, 104, 108))
	assert.Equal(t, [3]uint32{10, 20, 30}, f.variable(id, KindGlobalOffset, 0).Dims())
}

func TestSLMArguments(t *testing.T) {
	f := newFixture(t, platform.Gen12LPName, Options{})
	id := f.appendMutable(FlagKernelArguments, [3]uint32{1, 1, 1}, nil)
	d := f.dispatch(id)
	w := must.M1(f.cl.Walker(id))
	gen12 := f.cl.Platform()

	// Static SLM first, then "tile" aligned to 64 and "partial" aligned to 16.
	assert.Equal(t, uint32(1024), f.payloadUint32(id, 120))
	assert.Equal(t, uint32(5120), f.payloadUint32(id, 124))
	assert.Equal(t, uint32(5220), d.SLMTotalSize())
	assert.Equal(t, gen12.EncodeSLMSize(5220), w.SLMSize())

	require.NoError(t, f.cl.UpdateKernelArgument(id, argTile, 2000, nil))
	assert.Equal(t, uint32(1024), f.payloadUint32(id, 120))
	assert.Equal(t, uint32(3024), f.payloadUint32(id, 124))
	assert.Equal(t, uint32(3124), d.SLMTotalSize())
	assert.Equal(t, gen12.EncodeSLMSize(3124), w.SLMSize())
	size, offset := must.M1(f.cl.Variables(id))[argPartial].SLMSize()
	assert.Equal(t, uint32(100), size)
	assert.Equal(t, uint32(3024), offset)

	require.ErrorIs(t, f.cl.UpdateKernelArgument(id, argTile, 70000, nil), ErrInvalidArgument)
	assert.Equal(t, uint32(3124), d.SLMTotalSize())
	require.ErrorIs(t, f.cl.UpdateKernelArgument(id, argTile, 4, []byte{1, 2, 3, 4}), ErrInvalidArgument)
}

func TestBufferReferenceCounts(t *testing.T) {
	f := newFixture(t, platform.Gen12LPName, Options{})
	id := f.appendMutable(FlagKernelArguments, [3]uint32{1, 1, 1}, nil)
	assert.Equal(t, 1, f.refs(f.bufA))
	assert.Equal(t, 0, f.refs(f.bufB))

	require.NoError(t, f.cl.UpdateKernelArgument(id, argSrc, 8, pointerBytes(f.bufB.GPUAddress)))
	assert.Equal(t, 0, f.refs(f.bufA))
	assert.Equal(t, 1, f.refs(f.bufB))
	require.NoError(t, f.cl.UpdateKernelArgument(id, argSrc, 8, pointerBytes(f.bufA.GPUAddress)))
	assert.Equal(t, 1, f.refs(f.bufA))
	assert.Equal(t, 0, f.refs(f.bufB))

	// Nullable pointer.
	require.NoError(t, f.cl.UpdateKernelArgument(id, argDst, 8, pointerBytes(f.bufB.GPUAddress+8)))
	assert.Equal(t, 1, f.refs(f.bufB))
	require.NoError(t, f.cl.UpdateKernelArgument(id, argDst, 8, nil))
	assert.Equal(t, 0, f.refs(f.bufB))
	assert.Equal(t, uint64(0), f.payloadUint64(id, 16))
	require.ErrorIs(t, f.cl.UpdateKernelArgument(id, argSrc, 8, nil), ErrInvalidArgument, "src is not nullable")

	// Unresolved pointers change nothing.
	err := f.cl.UpdateKernelArgument(id, argSrc, 8, pointerBytes(f.bufA.End()+16))
	require.ErrorIs(t, err, ErrAllocationLookup)
	assert.Equal(t, f.bufA.GPUAddress, f.payloadUint64(id, 0))
	assert.Equal(t, 1, f.refs(f.bufA))
}

func TestAppendValidation(t *testing.T) {
	f := newFixture(t, platform.Gen12LPName, Options{})
	require.NoError(t, f.k.SetArgument(argSrc, 8, pointerBytes(0xdead_0000)))
	require.ErrorIs(t, f.cl.AppendLaunchKernel(f.k, [3]uint32{1, 1, 1}, nil), ErrAllocationLookup)
	assert.Equal(t, 0, f.cl.Commands().Used(), "nothing recorded on error")

	require.NoError(t, f.k.SetArgument(argSrc, 8, pointerBytes(f.bufA.GPUAddress)))
	require.ErrorIs(t, f.cl.AppendLaunchKernel(f.k, [3]uint32{1, 0, 1}, nil), ErrInvalidArgument)
	require.NoError(t, f.k.SetArgument(argTile, 64*1024, nil))
	require.ErrorIs(t, f.cl.AppendLaunchKernel(f.k, [3]uint32{1, 1, 1}, nil), ErrInvalidArgument, "SLM above 64KB")
	require.NoError(t, f.k.SetArgument(argTile, 4096, nil))

	// Mutable signal event requires a signal event.
	id := must.M1(f.cl.GetNextCommandID(FlagSignalEvent))
	require.ErrorIs(t, f.cl.AppendLaunchKernel(f.k, [3]uint32{1, 1, 1}, nil), ErrInvalidArgument)
	signal := event.New("signal", f.events, 0, event.ScopeDevice, false)
	require.NoError(t, f.cl.AppendLaunchKernel(f.k, [3]uint32{1, 1, 1}, signal))
	require.NoError(t, f.cl.UpdateSignalEvent(id, signal))
}

func TestCommandIDs(t *testing.T) {
	f := newFixture(t, platform.Gen12LPName, Options{})
	for _, flags := range []CommandFlags{0, FlagKernelInstruction, FlagGroupCount | FlagKernelInstruction, 1 << 10} {
		_, err := f.cl.GetNextCommandID(flags)
		require.ErrorIsf(t, err, ErrInvalidArgument, "flags %s", flags)
	}

	orphan := must.M1(f.cl.GetNextCommandID(FlagGroupCount))
	id := f.appendMutable(FlagGroupCount, [3]uint32{1, 1, 1}, nil)
	assert.Equal(t, orphan+1, id)
	require.ErrorIs(t, f.cl.UpdateGroupCount(orphan, 2, 1, 1), ErrInvalidArgument, "no launch appended for it")
	require.NoError(t, f.cl.UpdateGroupCount(id, 2, 1, 1))
	require.ErrorIs(t, f.cl.UpdateGroupSize(id, 2, 1, 1), ErrInvalidArgument, "category not requested")
	require.ErrorIs(t, f.cl.UpdateGroupCount(id+100, 2, 1, 1), ErrInvalidArgument, "unknown id")
	_, err := f.cl.Variables(id + 100)
	require.ErrorIs(t, err, ErrInvalidArgument)

	// Launches without a command id are not mutable.
	require.NoError(t, f.cl.AppendLaunchKernel(f.k, [3]uint32{1, 1, 1}, nil))
	assert.Equal(t, "group_count|signal_event", (FlagGroupCount | FlagSignalEvent).String())
}

func TestStageCommit(t *testing.T) {
	f := newFixture(t, platform.XeHPCName, Options{StageCommit: true})
	id := f.appendMutable(FlagGroupCount|FlagKernelArguments, [3]uint32{1, 1, 1}, nil)
	w := must.M1(f.cl.Walker(id))
	require.True(t, w.StageCommit())
	require.Equal(t, w.CPUBuffer(), w.GPUBuffer(), "both buffers hold the recorded walker")
	recorded := slices.Clone(w.GPUBuffer())
	assert.True(t, must.M1(f.cl.Variables(id))[argSrc].Descriptor().StageCommit)

	require.NoError(t, f.cl.UpdateGroupCount(id, 8, 1, 1))
	require.NoError(t, f.cl.UpdateKernelArgument(id, argAlpha, 8, float64Bytes(-1)))
	assert.Equal(t, [3]uint32{8, 1, 1}, w.NumberWorkGroups())
	assert.Equal(t, recorded, w.GPUBuffer(), "GPU walker unchanged until Close")
	assert.Equal(t, uint32(8), f.payloadUint32(id, 88), "the indirect heap is written directly")

	require.NoError(t, f.cl.Close())
	assert.True(t, f.cl.IsClosed())
	assert.Equal(t, w.CPUBuffer(), w.GPUBuffer())
	assert.NotEqual(t, recorded, w.GPUBuffer())

	// Mutation after Close is allowed, and needs a new Close.
	committed := slices.Clone(w.GPUBuffer())
	require.NoError(t, f.cl.UpdateGroupCount(id, 2, 2, 1))
	assert.Equal(t, committed, w.GPUBuffer())
	require.NoError(t, f.cl.Close())
	assert.Equal(t, w.CPUBuffer(), w.GPUBuffer())

	require.ErrorIs(t, f.cl.AppendLaunchKernel(f.k, [3]uint32{1, 1, 1}, nil), ErrInvalidArgument, "append after Close")
	_, err := f.cl.GetNextCommandID(FlagGroupCount)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSignalEvent(t *testing.T) {
	f := newFixture(t, platform.Gen12LPName, Options{})
	a := event.New("a", f.events, 0, event.ScopeDevice, false)
	b := event.New("b", f.events, 64, event.ScopeDevice, false)
	id := f.appendMutable(FlagSignalEvent, [3]uint32{1, 1, 1}, a)
	signal := f.variable(id, KindSignalEvent, 0)
	require.Len(t, signal.Primitives(), 1)
	assert.True(t, strings.HasPrefix(signal.Primitives()[0], "store_data_imm@"))
	assert.Equal(t, 1, f.refs(f.events))

	require.NoError(t, f.cl.UpdateSignalEvent(id, b))
	assert.Equal(t, b, signal.Event())
	assert.Equal(t, 1, f.refs(f.events))

	host := event.New("host", f.events, 128, event.ScopeHost, false)
	require.ErrorIs(t, f.cl.UpdateSignalEvent(id, host), ErrInvalidArgument, "signal class mismatch")
	require.ErrorIs(t, f.cl.UpdateSignalEvent(id, nil), ErrInvalidArgument)
	assert.Equal(t, b, signal.Event())
}

func TestSignalTimestampEvent(t *testing.T) {
	f := newFixture(t, platform.XeHPCName, Options{StageCommit: true})
	t1 := event.New("t1", f.events, 0, event.ScopeDevice, true)
	t2 := event.New("t2", f.events, 128, event.ScopeDevice, true)
	id := f.appendMutable(FlagSignalEvent, [3]uint32{1, 1, 1}, t1)
	w := must.M1(f.cl.Walker(id))
	assert.Equal(t, t1.TimestampAddress(), w.PostSyncAddress())

	recorded := slices.Clone(w.GPUBuffer())
	require.NoError(t, f.cl.UpdateSignalEvent(id, t2))
	assert.Equal(t, t2.TimestampAddress(), w.PostSyncAddress())
	assert.Equal(t, recorded, w.GPUBuffer())
	require.NoError(t, f.cl.Close())
	assert.Equal(t, w.CPUBuffer(), w.GPUBuffer())
}

func TestSignalCounterEvent(t *testing.T) {
	f := newFixture(t, platform.XeHPCName, Options{})
	mirrored := event.NewInOrderCounter(f.counters, 0, f.hostCounters, 0)
	deviceOnly := event.NewInOrderCounter(f.counters, 64, nil, 0)
	e1 := event.NewCounterBased("e1", mirrored, 1, nil)
	e2 := event.NewCounterBased("e2", deviceOnly, 2, nil)

	id := f.appendMutable(FlagSignalEvent, [3]uint32{1, 1, 1}, e1)
	signal := f.variable(id, KindSignalEvent, 0)
	assert.Len(t, signal.Primitives(), 2, "device and host counter stores")
	assert.Equal(t, int64(2), mirrored.RefCount())
	assert.Equal(t, 1, f.refs(f.hostCounters))

	require.NoError(t, f.cl.UpdateSignalEvent(id, e2))
	assert.Len(t, signal.Primitives(), 1, "no host storage")
	assert.Equal(t, int64(1), mirrored.RefCount())
	assert.Equal(t, int64(2), deviceOnly.RefCount())
	assert.Equal(t, 0, f.refs(f.hostCounters))

	require.NoError(t, f.cl.UpdateSignalEvent(id, e1))
	assert.Len(t, signal.Primitives(), 2)

	flag := event.New("flag", f.events, 0, event.ScopeDevice, false)
	require.ErrorIs(t, f.cl.UpdateSignalEvent(id, flag), ErrInvalidArgument)
}

func TestWaitEvents(t *testing.T) {
	for _, config := range []string{platform.Gen12LPName, platform.XeHPCName} {
		t.Run(config, func(t *testing.T) {
			f := newFixture(t, config, Options{})
			flag := event.New("flag", f.events, 0, event.ScopeDevice, false)
			counter := event.NewCounterBased("counter", event.NewInOrderCounter(f.counters, 0, nil, 0), 7, nil)
			id := f.appendMutable(FlagWaitEvents, [3]uint32{1, 1, 1}, nil, flag, counter)
			block := f.cl.Commands().Blocks()[0]
			recorded := block.Fingerprint()

			slot0, slot1 := f.variable(id, KindWaitEvent, 0), f.variable(id, KindWaitEvent, 1)
			assert.Len(t, slot0.Primitives(), 1)
			hasLoad := slices.ContainsFunc(slot1.Primitives(), func(p string) bool {
				return strings.HasPrefix(p, "load_register_imm_pair@")
			})
			assert.Equal(t, !f.cl.Platform().Capabilities().Semaphore64BitCompare, hasLoad,
				"64-bit counter values are loaded into registers only without native 64-bit compare")
			assert.Equal(t, 1, f.refs(f.events))
			assert.Equal(t, flag, slot0.Event())
			assert.Equal(t, counter, slot1.Event())

			require.NoError(t, f.cl.UpdateWaitEvents(id, nil, nil))
			assert.NotEqual(t, recorded, block.Fingerprint())
			assert.Empty(t, slot0.Primitives())
			assert.Empty(t, slot1.Primitives())
			assert.Equal(t, 0, f.refs(f.events))

			require.NoError(t, f.cl.UpdateWaitEvents(id, flag, counter))
			assert.Equal(t, recorded, block.Fingerprint(), "A -> nil -> A restores the recorded instructions")
			assert.Equal(t, 1, f.refs(f.events))

			// Switch domains and back.
			require.NoError(t, f.cl.UpdateWaitEvents(id, counter, flag))
			assert.NotEqual(t, recorded, block.Fingerprint())
			require.NoError(t, f.cl.UpdateWaitEvents(id, flag, counter))
			assert.Equal(t, recorded, block.Fingerprint())

			// Slots beyond the given events are untouched.
			require.NoError(t, f.cl.UpdateWaitEvents(id, nil))
			assert.Nil(t, slot0.Event())
			assert.Equal(t, counter, slot1.Event())

			require.ErrorIs(t, f.cl.UpdateWaitEvents(id, flag, flag, flag), ErrInvalidArgument)

			other := f.appendMutable(FlagGroupCount, [3]uint32{1, 1, 1}, nil)
			require.ErrorIs(t, f.variable(other, KindGroupCount, 0).SetWaitEvent(flag), ErrInvalidArgument)
		})
	}
}

func TestWaitCounterTimestamp(t *testing.T) {
	f := newFixture(t, platform.XeHPCName, Options{})
	counter := event.NewInOrderCounter(f.counters, 0, nil, 0)
	other := event.NewInOrderCounter(f.counters, 64, nil, 0)
	withTimestamp := event.NewCounterBased("ts", counter, 3, f.timestamps)
	id := f.appendMutable(FlagWaitEvents, [3]uint32{1, 1, 1}, nil, withTimestamp)
	slot := f.variable(id, KindWaitEvent, 0)
	hasTimestampWait := func() bool {
		return slices.ContainsFunc(slot.Primitives(), func(p string) bool {
			return strings.HasPrefix(p, "semaphore_wait(counter_timestamp)@")
		})
	}
	require.True(t, hasTimestampWait())

	require.NoError(t, f.cl.UpdateWaitEvents(id, event.NewCounterBased("other", other, 3, f.timestamps)))
	assert.False(t, hasTimestampWait(), "timestamp wait is tied to the recorded counter")
	require.NoError(t, f.cl.UpdateWaitEvents(id, event.NewCounterBased("ts2", counter, 9, f.timestamps)))
	assert.True(t, hasTimestampWait())
}

func TestUpdateMutableCommands(t *testing.T) {
	f := newFixture(t, platform.XeHPCName, Options{})
	id := f.appendMutable(FlagGroupCount|FlagKernelArguments|FlagGlobalOffset, [3]uint32{1, 1, 1}, nil)

	err := f.cl.UpdateMutableCommands(
		GroupCountMutation{ID: id, GroupCount: [3]uint32{4, 4, 1}},
		KernelArgumentMutation{ID: id, ArgIndex: argSrc, Size: 8, Value: pointerBytes(0xdead_0000)},
		GlobalOffsetMutation{ID: id, GlobalOffset: [3]uint32{1, 2, 3}},
	)
	require.ErrorIs(t, err, ErrAllocationLookup)
	assert.Equal(t, [3]uint32{4, 4, 1}, f.dispatch(id).GroupCount(), "mutations are applied independently")
	assert.Equal(t, [3]uint32{1, 2, 3}, f.dispatch(id).GlobalOffset())

	err = f.cl.UpdateMutableCommands(
		GroupCountMutation{ID: id, GroupCount: [3]uint32{8, 8, 1}},
		GroupSizeMutation{ID: id, GroupSize: [3]uint32{2, 1, 1}},
	)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, [3]uint32{4, 4, 1}, f.dispatch(id).GroupCount(), "nothing applied on an invalid chain")
}

func TestResetAndDestroy(t *testing.T) {
	f := newFixture(t, platform.Gen12LPName, Options{})
	counter := event.NewInOrderCounter(f.counters, 0, nil, 0)
	wait := event.NewCounterBased("wait", counter, 1, nil)
	signal := event.New("signal", f.events, 0, event.ScopeHost, false)
	id := f.appendMutable(FlagGroupCount|FlagWaitEvents, [3]uint32{1, 1, 1}, signal, wait)
	require.NoError(t, f.cl.Close())
	assert.Equal(t, 1, f.refs(f.bufA))
	assert.Equal(t, int64(2), counter.RefCount())

	require.NoError(t, f.cl.Reset())
	require.ErrorIs(t, f.cl.UpdateGroupCount(id, 2, 1, 1), ErrInvalidArgument, "ids are invalid after Reset")
	assert.Equal(t, 0, f.refs(f.bufA))
	assert.Equal(t, 0, f.refs(f.events))
	assert.Equal(t, 0, f.refs(f.counters))
	assert.Equal(t, int64(1), counter.RefCount())
	assert.False(t, f.cl.IsClosed())
	assert.Equal(t, 0, f.cl.Commands().Used())
	assert.Empty(t, f.tracker.Resident())

	newID := f.appendMutable(FlagGroupCount, [3]uint32{1, 1, 1}, nil)
	assert.Equal(t, uint64(1), newID)

	numAllocations := f.table.Len()
	require.NoError(t, f.cl.Destroy())
	assert.Equal(t, numAllocations-2, f.table.Len(), "command and heap streams freed")
	assert.Equal(t, 0, f.refs(f.bufA))
	_, err := f.cl.GetNextCommandID(FlagGroupCount)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestHeaplessPlatform(t *testing.T) {
	f := newFixture(t, platform.Xe2HPGName, Options{})
	id := f.appendMutable(FlagKernelArguments|FlagGroupCount, [3]uint32{2, 1, 1}, nil)
	w := must.M1(f.cl.Walker(id))
	heapBase := f.cl.Heap().Blocks()[0].GPUBase
	require.Equal(t, heapBase, w.IndirectDataStartAddress())

	alpha := must.M1(f.cl.Variables(id))[argAlpha]
	assert.Len(t, alpha.InlineUsages(), 1, "64 bytes inline hold the whole argument")
	assert.Empty(t, alpha.CrossThreadUsages())

	require.NoError(t, f.cl.UpdateKernelArgument(id, argSrc, 8, pointerBytes(f.bufB.GPUAddress)))
	require.NoError(t, f.cl.UpdateKernelArgument(id, argAlpha, 8, float64Bytes(0.5)))
	require.NoError(t, f.cl.UpdateGroupCount(id, 16, 1, 1))
	assert.Equal(t, heapBase, w.IndirectDataStartAddress(), "payload writes don't clobber inline pointers")
	assert.Equal(t, f.bufB.GPUAddress, f.payloadUint64(id, 0))
	assert.Equal(t, 0.5, math.Float64frombits(f.payloadUint64(id, 28)))
	assert.Equal(t, uint32(16), f.payloadUint32(id, 88))
}

func TestStreamGrowth(t *testing.T) {
	f := newFixture(t, platform.Xe2HPGName, Options{BlockSize: 256})
	var ids []uint64
	for range 300 {
		ids = append(ids, f.appendMutable(FlagGroupCount, [3]uint32{1, 1, 1}, nil))
	}
	heapBlocks, commandBlocks := len(f.cl.Heap().Blocks()), len(f.cl.Commands().Blocks())
	require.Greater(t, heapBlocks, 64)

	for _, id := range ids {
		address := must.M1(f.cl.Walker(id)).IndirectDataStartAddress()
		a, offset, err := f.table.Lookup(address)
		require.NoError(t, err, "indirect data of every launch is in a heap block")
		assert.True(t, strings.HasPrefix(a.Name, "cmdlist/indirect_heap#"), a.Name)
		assert.Less(t, offset+uint64(len(f.dispatch(id).CrossThreadData())), a.Size+1)
	}
	for i, block := range f.cl.Commands().Blocks() {
		a, offset, err := f.table.Lookup(block.GPUBase)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("cmdlist/commands#%d", i), a.Name)
		assert.Zero(t, offset)
	}

	numAllocations := f.table.Len()
	require.NoError(t, f.cl.Destroy())
	assert.Equal(t, numAllocations-heapBlocks-commandBlocks, f.table.Len(), "every block is freed")
}

func TestPointerRanges(t *testing.T) {
	desc, err := kernel.ParseDescriptor([]byte(`name: narrow
cross_thread_data_size: 32
args:
  - {name: p, kind: pointer, offset: 0, pointer_size: 4}
  - {name: q, kind: pointer, offset: 8, buffer_offset: 16}
`))
	require.NoError(t, err)
	table := memory.NewTable(0xFFFE_0000)
	tracker := memory.NewResidencyTracker()
	low := table.Allocate("low", 4096)
	high := table.Allocate("high", 4096)
	huge := table.Allocate("huge", 5<<30)
	require.Less(t, low.GPUAddress, uint64(math.MaxUint32))
	require.Greater(t, high.GPUAddress, uint64(math.MaxUint32))

	cl := New(platform.NewWithConfig(platform.XeHPCName), table, tracker, Options{})
	k := kernel.New(desc, 0x8000_0000)
	require.NoError(t, k.SetArgument(0, 8, pointerBytes(low.GPUAddress)))
	require.NoError(t, k.SetArgument(1, 8, pointerBytes(huge.GPUAddress)))
	id := must.M1(cl.GetNextCommandID(FlagKernelArguments))
	require.NoError(t, cl.AppendLaunchKernel(k, [3]uint32{1, 1, 1}, nil))
	d := must.M1(cl.Dispatch(id))
	payloadUint32 := func(offset int) uint32 { return binary.LittleEndian.Uint32(d.ReadPayload(offset, 4)) }

	// 32-bit pointers don't take addresses above 4GiB, and nothing is written.
	require.ErrorIs(t, cl.UpdateKernelArgument(id, 0, 8, pointerBytes(high.GPUAddress)), ErrInvalidArgument)
	p := must.M1(cl.Variables(id))[0]
	require.ErrorIs(t, p.SetBufferVariable(high.GPUAddress), ErrInvalidArgument)
	assert.Equal(t, uint32(low.GPUAddress), payloadUint32(0))
	assert.Equal(t, low, p.Allocation())
	assert.Equal(t, 1, tracker.RefCount(low.ID))
	assert.Equal(t, 0, tracker.RefCount(high.ID))

	// Buffer offsets beyond 4GiB don't fit their slot.
	const beyond = 4<<30 + 16
	require.ErrorIs(t, cl.UpdateKernelArgument(id, 1, 8, pointerBytes(huge.GPUAddress+beyond)), ErrInvalidArgument)
	assert.Equal(t, huge.GPUAddress, binary.LittleEndian.Uint64(d.ReadPayload(8, 8)))
	assert.Equal(t, uint32(0), payloadUint32(16))
	require.NoError(t, cl.UpdateKernelArgument(id, 1, 8, pointerBytes(huge.GPUAddress+1<<20)))
	assert.Equal(t, uint32(1<<20), payloadUint32(16))

	// Same checks at append: nothing is recorded.
	used := cl.Commands().Used()
	require.NoError(t, k.SetArgument(1, 8, pointerBytes(huge.GPUAddress+beyond)))
	require.ErrorIs(t, cl.AppendLaunchKernel(k, [3]uint32{1, 1, 1}, nil), ErrInvalidArgument)
	assert.Equal(t, used, cl.Commands().Used())
	assert.Equal(t, 1, tracker.RefCount(huge.ID))
}
