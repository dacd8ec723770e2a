// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mutable implements mutable command lists: kernel launches recorded into a command
// stream that can be edited in place afterwards, without recording them again.
//
// A launch is made mutable by issuing a command id with GetNextCommandID, with the categories
// that may change, right before AppendLaunchKernel. The Update* methods then take that command id
// and rewrite every location where the changed value was encoded: the cross-thread payload, the
// walker inline payload, the walker fields and the synchronization instructions around it.
//
// With Options.StageCommit walker edits land in a staging copy, and Close commits them.
//
// A CommandList is not safe for concurrent use.
package mutable

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/mutablecl/internal/metrics"
	"github.com/gomlx/mutablecl/pkg/core/commands"
	"github.com/gomlx/mutablecl/pkg/core/event"
	"github.com/gomlx/mutablecl/pkg/core/kernel"
	"github.com/gomlx/mutablecl/pkg/core/memory"
	"github.com/gomlx/mutablecl/pkg/core/stream"
	"github.com/gomlx/mutablecl/platform"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	commandAlignment      = 8
	indirectDataAlignment = 64
)

// Options configure a CommandList.
type Options struct {
	// Name used in messages and allocation names. Defaults to "cmdlist".
	Name string

	// StageCommit defers walker edits to Close.
	StageCommit bool

	// BlockSize of the command stream and indirect heap, stream.DefaultBlockSize if 0.
	BlockSize int

	// Metrics collector, nil for none.
	Metrics *metrics.Collector
}

// mutationRecord is what a command id refers to.
type mutationRecord struct {
	id     uint64
	flags  CommandFlags
	launch *launch

	kernelArgs                          []*Variable
	groupCount, groupSize, globalOffset *Variable
	signal                              *Variable
	waits                               []*Variable
}

// variables returns all the variables of the record.
func (r *mutationRecord) variables() []*Variable {
	var vars []*Variable
	vars = append(vars, r.kernelArgs...)
	for _, v := range []*Variable{r.groupCount, r.groupSize, r.globalOffset, r.signal} {
		if v != nil {
			vars = append(vars, v)
		}
	}
	return append(vars, r.waits...)
}

// launch is one recorded kernel launch.
type launch struct {
	desc     *kernel.Descriptor
	walker   commands.Walker
	payload  *payload
	dispatch *VariableDispatch

	args   []*Variable
	signal *Variable
	waits  []*Variable

	stageCommit                bool
	walkerDirty, postSyncDirty bool
}

// markWalkerDirty records that the walker staging buffer has edits to commit.
func (l *launch) markWalkerDirty(postSync bool) {
	if !l.stageCommit {
		return
	}
	l.walkerDirty = true
	l.postSyncDirty = l.postSyncDirty || postSync
}

// commit copies the walker staging buffer into the GPU buffer, if dirty. The post-sync fields are
// only copied if they were edited.
func (l *launch) commit() bool {
	if !l.walkerDirty {
		return false
	}
	l.walker.SaveCPUBufferIntoGPUBuffer(!l.postSyncDirty)
	l.walkerDirty, l.postSyncDirty = false, false
	return true
}

func (l *launch) variables() []*Variable {
	vars := append([]*Variable(nil), l.args...)
	if l.signal != nil {
		vars = append(vars, l.signal)
	}
	return append(vars, l.waits...)
}

// CommandList records kernel launches into a command stream and an indirect heap, and mutates
// the launches appended right after GetNextCommandID.
type CommandList struct {
	id          uuid.UUID
	name        string
	platform    platform.Platform
	caps        platform.Capabilities
	allocations *memory.Table
	registry    memory.Registry
	options     Options

	commands, heap     *stream.Stream
	streamAllocations  []*memory.Allocation
	scratch            *memory.Allocation
	scratchAllocations []*memory.Allocation

	nextCommandID uint64
	records       map[uint64]*mutationRecord
	armed         *mutationRecord
	launches      []*launch
	numMutable    int

	closed, destroyed bool
}

// New creates a command list for platform p. Pointers given to kernel arguments are resolved with
// allocations, and the references held on them are counted in registry. If registry is nil a
// new memory.ResidencyTracker is used.
func New(p platform.Platform, allocations *memory.Table, registry memory.Registry, options Options) *CommandList {
	if options.Name == "" {
		options.Name = "cmdlist"
	}
	if options.BlockSize <= 0 {
		options.BlockSize = stream.DefaultBlockSize
	}
	if registry == nil {
		registry = memory.NewResidencyTracker()
	}
	cl := &CommandList{
		id:          uuid.New(),
		name:        options.Name,
		platform:    p,
		caps:        p.Capabilities(),
		allocations: allocations,
		registry:    registry,
		options:     options,
		records:     make(map[uint64]*mutationRecord),
	}
	cl.commands = stream.New(options.Name+"/commands", options.BlockSize, cl.blockAllocator(options.Name+"/commands"))
	cl.heap = stream.New(options.Name+"/indirect_heap", options.BlockSize, cl.blockAllocator(options.Name+"/indirect_heap"))
	klog.V(1).Infof("%s: created for platform %s, stage commit=%v, blocks of %s", cl, p.Name(),
		options.StageCommit, humanize.IBytes(uint64(options.BlockSize)))
	return cl
}

// blockAllocator allocates each block of a stream separately from the allocation table.
func (cl *CommandList) blockAllocator(name string) stream.BlockAllocator {
	return func(index, size int) uint64 {
		a := cl.allocations.Allocate(fmt.Sprintf("%s#%d", name, index), uint64(size))
		cl.streamAllocations = append(cl.streamAllocations, a)
		return a.GPUAddress
	}
}

// String implements fmt.Stringer.
func (cl *CommandList) String() string {
	return fmt.Sprintf("%s(%s)", cl.name, cl.id.String()[:8])
}

// ID returns the unique id of the command list.
func (cl *CommandList) ID() uuid.UUID { return cl.id }

// Platform the command list encodes for.
func (cl *CommandList) Platform() platform.Platform { return cl.platform }

// Registry counting the references held by the command list.
func (cl *CommandList) Registry() memory.Registry { return cl.registry }

// Commands returns the command stream.
func (cl *CommandList) Commands() *stream.Stream { return cl.commands }

// Heap returns the indirect heap, holding the cross-thread and per-thread data.
func (cl *CommandList) Heap() *stream.Stream { return cl.heap }

// IsClosed returns whether Close was called since creation or the last Reset.
func (cl *CommandList) IsClosed() bool { return cl.closed }

func (cl *CommandList) checkUsable() error {
	if cl.destroyed {
		return errors.Wrapf(ErrInvalidArgument, "%s was destroyed", cl)
	}
	return nil
}

// GetNextCommandID issues a command id for the next AppendLaunchKernel, which will be mutable in
// the given categories.
func (cl *CommandList) GetNextCommandID(flags CommandFlags) (uint64, error) {
	if err := cl.checkUsable(); err != nil {
		return 0, err
	}
	if flags == 0 || flags >= flagsEnd {
		return 0, errors.Wrapf(ErrInvalidArgument, "%s: invalid mutation flags %s", cl, flags)
	}
	if flags.Has(FlagKernelInstruction) {
		return 0, errors.Wrapf(ErrInvalidArgument, "%s: mutation of %s is reserved", cl, FlagKernelInstruction)
	}
	if cl.closed {
		return 0, errors.Wrapf(ErrInvalidArgument, "%s: command id requested after Close", cl)
	}
	if cl.armed != nil {
		klog.Warningf("%s: command id %d was issued but no kernel launch was appended for it", cl, cl.armed.id)
	}
	cl.nextCommandID++
	rec := &mutationRecord{id: cl.nextCommandID, flags: flags}
	cl.records[rec.id] = rec
	cl.armed = rec
	klog.V(1).Infof("%s: command id %d issued for %s", cl, rec.id, flags)
	return rec.id, nil
}

// AppendLaunchKernel records a launch of k with groupCount work-groups, using the arguments,
// group size and global offset currently set in k. It signals signal (if not nil) on completion,
// and waits for waits before starting. Nil waits reserve a slot that waits on nothing.
//
// If a command id was issued and not yet used, the launch is made mutable in its categories.
// Nothing is recorded if an error is returned.
func (cl *CommandList) AppendLaunchKernel(k *kernel.Kernel, groupCount [3]uint32, signal *event.Event, waits ...*event.Event) error {
	if err := cl.checkUsable(); err != nil {
		return err
	}
	if cl.closed {
		return errors.Wrapf(ErrInvalidArgument, "%s: kernel launch appended after Close", cl)
	}
	desc := k.Descriptor()
	if err := k.CheckArgumentsSet(); err != nil {
		return err
	}
	if err := validateGroupCount(groupCount); err != nil {
		return errors.WithMessagef(err, "kernel %q", desc.Name)
	}
	if err := desc.ValidateGroupSize(k.GroupSize()); err != nil {
		return err
	}
	argAllocations := make([]*memory.Allocation, len(desc.Args))
	for i := range desc.Args {
		if desc.Args[i].Kind != kernel.ArgPointer || k.Arg(i).Address == 0 {
			continue
		}
		arg := &desc.Args[i]
		a, _, err := cl.allocations.Lookup(k.Arg(i).Address)
		if err != nil {
			return errors.WithMessagef(err, "kernel %q argument #%d (%s)", desc.Name, i, arg.Name)
		}
		if err := checkPointer(arg.Name, arg.PointerBytes(), arg.BufferOffset.IsDefined(), k.Arg(i).Address, a); err != nil {
			return errors.WithMessagef(err, "kernel %q", desc.Name)
		}
		argAllocations[i] = a
	}
	slmOffsets, slmTotal := desc.SLMLayout(k.SLMSizes())
	if slmTotal > cl.caps.MaxSLMSize {
		return errors.Wrapf(ErrInvalidArgument, "kernel %q: SLM of %s exceeds the %s available per group",
			desc.Name, humanize.IBytes(uint64(slmTotal)), humanize.IBytes(uint64(cl.caps.MaxSLMSize)))
	}
	rec := cl.armed
	var flags CommandFlags
	if rec != nil {
		flags = rec.flags
	}
	if flags.Has(FlagSignalEvent) && signal == nil {
		return errors.Wrapf(ErrInvalidArgument, "%s: command id %d has mutable signal event, but no signal event was given", cl, rec.id)
	}
	cl.armed = nil

	l := &launch{desc: desc, stageCommit: cl.options.StageCommit}
	for i, e := range waits {
		l.waits = append(l.waits, cl.recordWait(l, i, e))
	}
	cl.recordWalker(l, k, groupCount, slmTotal, signal)
	d := l.dispatch

	// Arguments.
	for i := range desc.Args {
		arg := &desc.Args[i]
		state := k.Arg(i)
		var v *Variable
		switch arg.Kind {
		case kernel.ArgPointer:
			v = newVariable(cl, l, KindBuffer, arg.Name)
			v.pointerSize = arg.PointerBytes()
			v.bindPayload(int(arg.Offset), v.pointerSize, 0, UsageValue)
			if arg.BufferOffset.IsDefined() {
				v.bufferOffset = true
				v.bindPayload(int(arg.BufferOffset), 4, 0, UsageBufferOffset)
			}
			v.address = state.Address
			v.allocation = argAllocations[i]
			cl.swapAllocations(nil, allocationsOf(v.allocation))
		case kernel.ArgValue:
			v = newVariable(cl, l, KindValue, arg.Name)
			v.desc.Chunked = arg.IsChunked()
			v.value = append([]byte(nil), state.Value...)
			for _, e := range arg.Elements {
				v.bindPayload(int(e.Offset), e.Size, e.SourceOffset, UsageValue)
			}
		case kernel.ArgSLM:
			v = newVariable(cl, l, KindSLMBuffer, arg.Name)
			v.slmSize, v.slmOffset = state.SLMSize, slmOffsets[i]
			if arg.Offset.IsDefined() {
				v.bindPayload(int(arg.Offset), 4, 0, UsageSLMOffset)
			}
			d.slmVars = append(d.slmVars, v)
		}
		v.argIndex = i
		v.writeUsages()
		l.args = append(l.args, v)
	}

	if signal != nil {
		v := newVariable(cl, l, KindSignalEvent, "signal")
		v.signal = cl.recordSignal(l, signal)
		cl.swapEventReferences(nil, signal)
		v.event = signal
		l.signal = v
	}

	if cl.options.StageCommit {
		l.walker.SaveCPUBufferIntoGPUBuffer(false)
		l.walkerDirty, l.postSyncDirty = false, false
	}
	cl.launches = append(cl.launches, l)

	if rec == nil {
		klog.V(1).Infof("%s: appended %s launch of %v groups", cl, desc.Name, groupCount)
		return nil
	}
	rec.launch = l
	if flags.Has(FlagKernelArguments) {
		rec.kernelArgs = l.args
	}
	if flags.Has(FlagGroupCount) {
		rec.groupCount = newVariable(cl, l, KindGroupCount, "group_count")
		d.groupCountVar = rec.groupCount
	}
	if flags.Has(FlagGroupSize) {
		rec.groupSize = newVariable(cl, l, KindGroupSize, "group_size")
		d.groupSizeVar = rec.groupSize
	}
	if flags.Has(FlagGlobalOffset) {
		rec.globalOffset = newVariable(cl, l, KindGlobalOffset, "global_offset")
		d.globalOffsetVar = rec.globalOffset
	}
	if flags.Has(FlagSignalEvent) {
		rec.signal = l.signal
	}
	if flags.Has(FlagWaitEvents) {
		rec.waits = l.waits
	}
	cl.numMutable++
	cl.options.Metrics.AddMutableLaunches(1)
	klog.V(1).Infof("%s: appended mutable %s launch of %v groups, command id %d (%s)",
		cl, desc.Name, groupCount, rec.id, flags)
	return nil
}

// recordWalker reserves and encodes the walker and the indirect data of a launch, and creates
// its VariableDispatch.
func (cl *CommandList) recordWalker(l *launch, k *kernel.Kernel, groupCount [3]uint32, slmTotal uint32, signal *event.Event) {
	desc := k.Descriptor()
	caps := cl.caps
	inlineSize := 0
	if desc.PassInlineData && caps.InlineDataSize > 0 {
		inlineSize = min(caps.InlineDataSize, desc.CrossThreadDataSize)
	}
	crossThreadAligned := alignUp(desc.CrossThreadDataSize-inlineSize, caps.GRFSize)
	hostLocalIDs := desc.LocalIDChannels > 0 && (!caps.HardwareLocalIDs || desc.RuntimeLocalIDs)
	perThreadReserve := 0
	if hostLocalIDs {
		maxThreads := (desc.MaxWorkGroupSize + desc.SIMDSize - 1) / max(desc.SIMDSize, 1)
		perThreadReserve = kernel.PerThreadDataSize(desc.SIMDSize, caps.GRFSize, desc.LocalIDChannels) * int(maxThreads)
	}
	heapRegion := cl.heap.Reserve(max(indirectDataAlignment, crossThreadAligned+perThreadReserve), indirectDataAlignment)
	p := &payload{
		inlineSize:  inlineSize,
		crossThread: heapRegion.Data[:crossThreadAligned],
		perThread:   heapRegion.Data[crossThreadAligned:],
		heapAddress: heapRegion.GPUAddress,
	}
	groupSize := k.GroupSize()
	perThreadUsed := 0
	if hostLocalIDs {
		perThreadUsed = kernel.GenerateLocalIDs(p.perThread, desc.SIMDSize, caps.GRFSize, desc.LocalIDChannels, groupSize)
	}

	walkerRegion := cl.commands.Reserve(commands.WalkerSize(caps), commandAlignment)
	w := commands.NewWalker(cl.platform, walkerRegion.Data, nil,
		desc.IndirectDataPointerOffset, desc.ScratchPointerOffset, cl.options.StageCommit)
	args := commands.WalkerArgs{
		KernelStartAddress:       k.ISAAddress(),
		IndirectDataStartAddress: heapRegion.GPUAddress,
		IndirectDataSize:         uint32(crossThreadAligned + perThreadUsed),
		ScratchAddress:           cl.scratchAddress(desc),
		SIMDSize:                 desc.SIMDSize,
		GenerateLocalIDs:         desc.LocalIDChannels > 0 && !hostLocalIDs,
		EmitLocalIDChannels:      1<<desc.LocalIDChannels - 1,
		WalkOrder:                desc.WalkOrder,
		ThreadsPerThreadGroup:    kernel.ThreadsPerGroup(desc.SIMDSize, groupSize),
		GroupCount:               groupCount,
		GroupSize:                groupSize,
		ExecutionMask:            executionMask(desc.SIMDSize, groupSize),
		SLMSize:                  slmTotal,
	}
	if signal != nil && signal.SignalClass() == event.SignalTimestamp {
		args.PostSync = commands.PostSyncWriteTimestamp
		args.PostSyncAddress = signal.TimestampAddress()
	}
	commands.EncodeWalker(w, args)
	p.walker = w
	p.onInlineWrite = func() { l.markWalkerDirty(false) }
	l.walker = w
	l.payload = p
	l.dispatch = &VariableDispatch{
		cl:                 cl,
		launch:             l,
		desc:               desc,
		groupCount:         groupCount,
		groupSize:          groupSize,
		globalOffset:       k.GlobalOffset(),
		slmSizes:           k.SLMSizes(),
		slmTotal:           slmTotal,
		hostLocalIDs:       hostLocalIDs,
		crossThreadAligned: crossThreadAligned,
		grfSize:            caps.GRFSize,
	}
	l.dispatch.recomputeDimensions()
}

// recordSignal encodes the instructions that signal e after the walker.
func (cl *CommandList) recordSignal(l *launch, e *event.Event) *signalPrimitives {
	s := &signalPrimitives{class: e.SignalClass()}
	switch s.class {
	case event.SignalTimestamp:
		s.walker = l.walker
	case event.SignalDevice:
		size := commands.StoreDataImmSize(true)
		region := cl.commands.Reserve(size, commandAlignment)
		commands.EncodeStoreDataImm(region.Data, e.CompletionAddress(), event.StateSignaled, true)
		s.storeData = commands.NewStoreDataImm(region.Data, region.Offset, true)
	case event.SignalHost:
		region := cl.commands.Reserve(commands.PipeControlSize, commandAlignment)
		commands.EncodePipeControl(region.Data, commands.PipeControlArgs{
			DCFlush:   true,
			PostSync:  commands.PostSyncWriteImmediate,
			Address:   e.CompletionAddress(),
			Immediate: event.StateSignaled,
		})
		s.pipeControl = commands.NewPipeControl(region.Data, region.Offset)
	case event.SignalCounter:
		counter := e.Counter()
		region := cl.commands.Reserve(2*commands.StoreRegisterMemSize, commandAlignment)
		device, host := region.Data[:commands.StoreRegisterMemSize], region.Data[commands.StoreRegisterMemSize:]
		commands.EncodeStoreRegisterMem(device, commands.RegisterCounter, counter.DeviceAddress())
		commands.EncodeStoreRegisterMem(host, commands.RegisterCounter, counter.HostAddress())
		s.storeCounter = commands.NewStoreRegisterMem(device, region.Offset, commands.RegisterCounter)
		s.storeHostCounter = commands.NewStoreRegisterMem(host, region.Offset+commands.StoreRegisterMemSize, commands.RegisterCounter)
		if !counter.HasHostStorage() {
			s.storeHostCounter.Noop()
		}
	}
	return s
}

// recordWait reserves the instructions of wait slot index, and sets it to wait on e.
//
// Every slot holds a completion flag wait and a counter wait, so the slot can be switched between
// both kinds of events. Only the one matching the current event is active.
func (cl *CommandList) recordWait(l *launch, index int, e *event.Event) *Variable {
	caps := cl.caps
	semaphoreSize := commands.SemaphoreWaitSize(caps)
	size := 2 * semaphoreSize
	if !caps.Semaphore64BitCompare {
		size += commands.LoadRegisterImmPairSize
	}
	withTimestamp := e != nil && e.IsCounterBased() && e.HasTimestamp()
	if withTimestamp {
		size += semaphoreSize
	}
	region := cl.commands.Reserve(size, commandAlignment)
	pos := 0
	next := func(n int) ([]byte, int) {
		data, offset := region.Data[pos:pos+n], region.Offset+pos
		pos += n
		return data, offset
	}

	// The region is zeroed: every instruction starts as noop.
	w := &waitPrimitives{}
	data, offset := next(semaphoreSize)
	w.eventWait = commands.NewSemaphoreWait(data, offset, caps, commands.SemaphoreEventWait, -1)
	if !caps.Semaphore64BitCompare {
		data, offset = next(commands.LoadRegisterImmPairSize)
		w.counterLoad = commands.NewLoadRegisterImmPair(data, offset, commands.RegisterGPR0, index)
	}
	data, offset = next(semaphoreSize)
	w.counterWait = commands.NewSemaphoreWait(data, offset, caps, commands.SemaphoreCounterWait, index)
	if withTimestamp {
		data, offset = next(semaphoreSize)
		w.timestampWait = commands.NewSemaphoreWait(data, offset, caps, commands.SemaphoreCounterTimestampWait, -1)
		w.timestampCounter = e.Counter()
	}

	v := newVariable(cl, l, KindWaitEvent, fmt.Sprintf("wait[%d]", index))
	v.wait = w
	v.setWaitEvent(e)
	return v
}

// scratchAddress returns the scratch space for the kernel, allocating (or growing) it if needed.
func (cl *CommandList) scratchAddress(desc *kernel.Descriptor) uint64 {
	if desc.ScratchSize == 0 {
		return 0
	}
	needed := uint64(desc.ScratchSize) * uint64(cl.caps.ThreadsPerSubslice)
	if cl.scratch == nil || cl.scratch.Size < needed {
		// Previous scratch allocations stay referenced: earlier launches point to them.
		cl.scratch = cl.allocations.Allocate(cl.name+"/scratch", needed)
		cl.registry.AddRef(cl.scratch.ID)
		cl.scratchAllocations = append(cl.scratchAllocations, cl.scratch)
	}
	return cl.scratch.GPUAddress
}

// swapAllocations adds references to newAllocations, then removes the ones of oldAllocations.
func (cl *CommandList) swapAllocations(oldAllocations, newAllocations []*memory.Allocation) {
	for _, a := range newAllocations {
		cl.registry.AddRef(a.ID)
	}
	for _, a := range oldAllocations {
		cl.registry.RemoveRef(a.ID)
	}
}

// swapEventReferences moves the references held on the allocations and in-order counter of
// oldEvent to newEvent. Either may be nil.
func (cl *CommandList) swapEventReferences(oldEvent, newEvent *event.Event) {
	cl.swapAllocations(eventAllocations(oldEvent), eventAllocations(newEvent))
	if newEvent != nil && newEvent.IsCounterBased() {
		newEvent.Counter().Retain()
	}
	if oldEvent != nil && oldEvent.IsCounterBased() {
		oldEvent.Counter().Release()
	}
}

// Close commits the staged walker edits into GPU visible memory. It must be called before the
// command list is submitted, and again after mutations of a closed command list.
func (cl *CommandList) Close() error {
	if err := cl.checkUsable(); err != nil {
		return err
	}
	committed := 0
	for _, l := range cl.launches {
		if l.commit() {
			committed++
		}
	}
	cl.closed = true
	cl.options.Metrics.RecordCommits(committed)
	klog.V(1).Infof("%s: closed, %d walkers committed, %s of commands", cl, committed,
		humanize.IBytes(uint64(cl.commands.Used())))
	return nil
}

// Reset discards every recorded launch, command id and mutation record, and releases the
// references they held. It must not be called while the command list is executing.
func (cl *CommandList) Reset() error {
	if err := cl.checkUsable(); err != nil {
		return err
	}
	cl.reset()
	return nil
}

func (cl *CommandList) reset() {
	uncommitted := 0
	for _, l := range cl.launches {
		if l.walkerDirty {
			uncommitted++
		}
		for _, v := range l.variables() {
			v.release()
		}
	}
	if uncommitted > 0 {
		klog.Warningf("%s: reset with %d walkers with uncommitted edits", cl, uncommitted)
	}
	cl.options.Metrics.AddMutableLaunches(-cl.numMutable)
	cl.numMutable = 0
	cl.launches = nil
	cl.records = make(map[uint64]*mutationRecord)
	cl.armed = nil
	cl.nextCommandID = 0
	cl.closed = false
	cl.commands.Reset()
	cl.heap.Reset()
	klog.V(1).Infof("%s: reset", cl)
}

// Destroy releases every reference held by the command list and its streams. The command list
// can't be used afterwards.
func (cl *CommandList) Destroy() error {
	if err := cl.checkUsable(); err != nil {
		return err
	}
	cl.reset()
	for _, a := range cl.scratchAllocations {
		cl.registry.RemoveRef(a.ID)
	}
	var firstErr error
	for _, a := range append(cl.scratchAllocations, cl.streamAllocations...) {
		if err := cl.allocations.Free(a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	cl.scratchAllocations, cl.scratch, cl.streamAllocations = nil, nil, nil
	cl.destroyed = true
	klog.V(1).Infof("%s: destroyed", cl)
	return firstErr
}

func alignUp(value, alignment int) int {
	return (value + alignment - 1) / alignment * alignment
}
