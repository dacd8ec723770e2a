// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/mutablecl/platform"
)

// Walker edits a recorded compute walker, the instruction that launches the work-groups of a kernel.
//
// A walker keeps two buffers: the GPU visible instruction and a CPU staging copy. Every setter
// writes the staging copy, and also the GPU visible one unless stage commit is enabled, in which
// case SaveCPUBufferIntoGPUBuffer must be called to make the edits visible. If both buffers are
// the same memory, setters write only once.
//
// There is one implementation per hardware generation. Setters for fields a generation doesn't
// have as dedicated fields are no-ops.
type Walker interface {
	// Platform the walker was encoded for.
	Platform() platform.Platform

	// Size of the instruction in bytes.
	Size() int

	// GPUBuffer is the GPU visible instruction.
	GPUBuffer() []byte

	// CPUBuffer is the staging copy. It may be the same memory as GPUBuffer.
	CPUBuffer() []byte

	// StageCommit returns whether GPU visible writes are deferred until SaveCPUBufferIntoGPUBuffer.
	StageCommit() bool

	// InlineDataSize is the size of the inline payload, 0 if the generation has none.
	InlineDataSize() int

	SetKernelStartAddress(address uint64)
	SetIndirectDataStartAddress(address uint64)
	SetIndirectDataSize(size uint32)
	SetBindingTablePointer(pointer uint32)
	SetScratchAddress(address uint64)
	SetGenerateLocalID(generate bool, emitChannels, walkOrder uint32)
	SetNumberThreadsPerThreadGroup(threads uint32)
	SetNumberWorkGroups(groupCount [3]uint32)
	SetWorkGroupSize(groupSize [3]uint32)
	SetExecutionMask(mask uint32)
	SetPostSyncAddress(address uint64)
	SetSLMSize(slmBytes uint32)

	// WriteInlineData copies data into the inline payload at offset, following the same
	// staging rules as the setters.
	WriteInlineData(offset int, data []byte)

	// InlineData returns the staging view of the inline payload.
	InlineData() []byte

	// UpdateSpecificFields recomputes the generation specific fields that depend on the dispatch
	// dimensions and SLM size, as selected by the update intents in args.
	UpdateSpecificFields(args SpecificFieldsArgs)

	// SaveCPUBufferIntoGPUBuffer commits the staging copy into the GPU visible instruction. If
	// skipPostSync is set, the post-sync fields of the GPU visible instruction are left untouched.
	SaveCPUBufferIntoGPUBuffer(skipPostSync bool)

	KernelStartAddress() uint64
	IndirectDataStartAddress() uint64
	IndirectDataSize() uint32
	BindingTablePointer() uint32
	ScratchAddress() uint64
	NumberThreadsPerThreadGroup() uint32
	NumberWorkGroups() [3]uint32
	WorkGroupSize() [3]uint32
	ExecutionMask() uint32
	PostSyncAddress() uint64
	SLMSize() uint32
	PreferredSLMAllocationSize() uint32
	ThreadGroupDispatchSize() uint32
	PartitionLayout() (platform.PartitionType, uint32)

	// encodeFixed writes the fields that never change after append into both buffers.
	encodeFixed(args WalkerArgs)
}

// SpecificFieldsArgs drives Walker.UpdateSpecificFields.
type SpecificFieldsArgs struct {
	GroupCount            [3]uint32
	ThreadsPerThreadGroup uint32
	SLMTotalSize          uint32

	// Update intents: only fields depending on something that changed are recomputed.
	UpdateGroupCount bool
	UpdateGroupSize  bool
	UpdateSLM        bool
}

// WalkerArgs holds the values a walker is encoded with when a kernel launch is appended.
type WalkerArgs struct {
	KernelStartAddress       uint64
	IndirectDataStartAddress uint64
	IndirectDataSize         uint32
	BindingTablePointer      uint32
	ScratchAddress           uint64
	SIMDSize                 uint32
	GenerateLocalIDs         bool
	EmitLocalIDChannels      uint32
	WalkOrder                uint32
	ThreadsPerThreadGroup    uint32
	GroupCount               [3]uint32
	GroupSize                [3]uint32
	ExecutionMask            uint32
	SLMSize                  uint32
	PostSync                 PostSyncOperation
	PostSyncAddress          uint64
	PostSyncImmediate        uint64
	InlineData               []byte
}

// Walker layout, common to all generations:
//
//	DW0: header.
//	DW1: scratch address (dedicated field generations).
//	DW2: indirect data length [16:0].
//	DW3: indirect data start address [31:6] (dedicated field generations).
//	DW4: SIMD size [17:16], emit local id channels [21:19], generate local id [25],
//	     emit inline parameter [26], walk order [29:27].
//	DW5: execution mask.
//	DW6: local size - 1: x [9:0], y [19:10], z [29:20].
//	DW7-9: number of work-groups x, y, z.
//	DW10-12: starting work-group x, y, z.
//	DW13: partition type [31:30].
//	DW14: partition size.
//	DW15-16: kernel start address.
//	DW19: binding table pointer [20:5].
//	DW20: threads per group [9:0], SLM size [20:16].
//	DW21: preferred SLM allocation size [3:0], thread-group dispatch size [9:8].
//	DW23: post-sync operation [1:0].
//	DW24-25: post-sync address.
//	DW26-27: post-sync immediate data.
//	DW28: post-sync MOCS.
//	DW29...: inline payload.
const (
	walkerDwScratch            = 1
	walkerDwIndirectDataLength = 2
	walkerDwIndirectDataStart  = 3
	walkerDwDispatchControl    = 4
	walkerDwExecutionMask      = 5
	walkerDwLocalSize          = 6
	walkerDwGroupCount         = 7
	walkerDwPartition          = 13
	walkerDwPartitionSize      = 14
	walkerDwKernelStart        = 15
	walkerDwBindingTable       = 19
	walkerDwThreadsSLM         = 20
	walkerDwSLMDispatch        = 21
	walkerDwPostSyncOperation  = 23
	walkerDwPostSyncAddress    = 24
	walkerDwPostSyncImmediate  = 26
	walkerDwPostSyncMOCS       = 28
	walkerDwInlineData         = 29

	// Post-sync fields skipped by SaveCPUBufferIntoGPUBuffer(skipPostSync=true): DW23 to DW27.
	walkerPostSyncStart = walkerDwPostSyncOperation * 4
	walkerPostSyncEnd   = walkerDwPostSyncMOCS * 4

	walkerDefaultMOCS = 2 << 1
)

// WalkerSize returns the size in bytes of a walker on the given platform.
func WalkerSize(caps platform.Capabilities) int {
	return walkerDwInlineData*4 + caps.InlineDataSize
}

// NewWalker wraps the walker recorded in gpu, for the platform p.
//
// If cpu is nil, a staging copy is allocated when stageCommit is set, otherwise the GPU visible
// buffer is used as its own staging buffer. The indirectOffset and scratchOffset are the offsets
// within the inline payload of the indirect data and scratch pointers, used only by heapless
// generations.
func NewWalker(p platform.Platform, gpu, cpu []byte, indirectOffset, scratchOffset int, stageCommit bool) Walker {
	caps := p.Capabilities()
	size := WalkerSize(caps)
	checkRegion("NewWalker", gpu, size)
	gpu = gpu[:size:size]
	if cpu == nil {
		if stageCommit {
			cpu = make([]byte, size)
			copy(cpu, gpu)
		} else {
			cpu = gpu
		}
	} else {
		checkRegion("NewWalker (staging buffer)", cpu, size)
		cpu = cpu[:size:size]
	}
	base := walkerBase{
		platform:       p,
		caps:           caps,
		gpu:            gpu,
		cpu:            cpu,
		sameMemory:     &cpu[0] == &gpu[0],
		stageCommit:    stageCommit,
		indirectOffset: indirectOffset,
		scratchOffset:  scratchOffset,
		size:           size,
	}
	if base.sameMemory && stageCommit {
		exceptions.Panicf("NewWalker: stage commit requires a staging buffer separate from the GPU buffer")
	}
	switch p.Family() {
	case platform.FamilyGen12LP:
		return &walkerGen12LP{walkerBase: base}
	case platform.FamilyXeHPC:
		return &walkerXeHPC{walkerBase: base}
	case platform.FamilyXe2HPG:
		if indirectOffset < 0 || indirectOffset+8 > caps.InlineDataSize ||
			scratchOffset < 0 || scratchOffset+8 > caps.InlineDataSize {
			exceptions.Panicf("NewWalker(%s): inline pointer offsets (indirect=%d, scratch=%d) out of the %d bytes inline payload",
				p.Name(), indirectOffset, scratchOffset, caps.InlineDataSize)
		}
		return &walkerXe2HPG{walkerBase: base}
	}
	exceptions.Panicf("NewWalker: platform %s not supported", p.Family())
	return nil
}

// EncodeWalker encodes a fresh walker with args. Both buffers are written regardless of stage
// commit, and the generation specific fields are computed.
func EncodeWalker(w Walker, args WalkerArgs) {
	w.encodeFixed(args)
	stage := w.StageCommit()
	w.SetKernelStartAddress(args.KernelStartAddress)
	w.SetIndirectDataStartAddress(args.IndirectDataStartAddress)
	w.SetIndirectDataSize(args.IndirectDataSize)
	w.SetBindingTablePointer(args.BindingTablePointer)
	w.SetScratchAddress(args.ScratchAddress)
	w.SetGenerateLocalID(args.GenerateLocalIDs, args.EmitLocalIDChannels, args.WalkOrder)
	w.SetNumberThreadsPerThreadGroup(args.ThreadsPerThreadGroup)
	w.SetNumberWorkGroups(args.GroupCount)
	w.SetWorkGroupSize(args.GroupSize)
	w.SetExecutionMask(args.ExecutionMask)
	w.SetPostSyncAddress(args.PostSyncAddress)
	w.SetSLMSize(args.SLMSize)
	w.UpdateSpecificFields(SpecificFieldsArgs{
		GroupCount:            args.GroupCount,
		ThreadsPerThreadGroup: args.ThreadsPerThreadGroup,
		SLMTotalSize:          args.SLMSize,
		UpdateGroupCount:      true,
		UpdateGroupSize:       true,
		UpdateSLM:             true,
	})
	if stage {
		w.SaveCPUBufferIntoGPUBuffer(false)
	}
}

// walkerBase implements the dual buffer logic and all the fields common to every generation.
type walkerBase struct {
	platform                      platform.Platform
	caps                          platform.Capabilities
	gpu, cpu                      []byte
	sameMemory, stageCommit       bool
	indirectOffset, scratchOffset int
	size                          int
}

// apply writes the staging buffer, and the GPU buffer unless it's the same memory or stage
// commit is enabled.
func (w *walkerBase) apply(write func(buf []byte)) {
	write(w.cpu)
	if w.sameMemory || w.stageCommit {
		return
	}
	write(w.gpu)
}

// applyBoth writes both buffers regardless of stage commit.
func (w *walkerBase) applyBoth(write func(buf []byte)) {
	write(w.cpu)
	if !w.sameMemory {
		write(w.gpu)
	}
}

func (w *walkerBase) Platform() platform.Platform { return w.platform }
func (w *walkerBase) Size() int                   { return w.size }
func (w *walkerBase) GPUBuffer() []byte           { return w.gpu }
func (w *walkerBase) CPUBuffer() []byte           { return w.cpu }
func (w *walkerBase) StageCommit() bool           { return w.stageCommit }
func (w *walkerBase) InlineDataSize() int         { return w.caps.InlineDataSize }

func (w *walkerBase) encodeFixed(args WalkerArgs) {
	w.applyBoth(func(buf []byte) {
		clear(buf)
		putDword(buf, 0, computeWalkerHeader|uint32(w.size/4-2))
		setBits(buf, walkerDwDispatchControl, 16, 17, simdEncoding(args.SIMDSize))
		setBits(buf, walkerDwDispatchControl, 26, 26, boolBit(w.caps.InlineDataSize > 0))
		setBits(buf, walkerDwPostSyncOperation, 0, 1, uint32(args.PostSync))
		putQword(buf, walkerDwPostSyncImmediate, args.PostSyncImmediate)
		putDword(buf, walkerDwPostSyncMOCS, walkerDefaultMOCS)
		if len(args.InlineData) > 0 {
			copy(buf[walkerDwInlineData*4:w.size], args.InlineData)
		}
	})
}

func simdEncoding(simd uint32) uint32 {
	switch simd {
	case 8:
		return 0
	case 16:
		return 1
	default:
		return 2
	}
}

func (w *walkerBase) SetKernelStartAddress(address uint64) {
	w.apply(func(buf []byte) {
		putDword(buf, walkerDwKernelStart, uint32(address)&^0x3F)
		setBits(buf, walkerDwKernelStart+1, 0, 15, uint32(address>>32))
	})
}

func (w *walkerBase) KernelStartAddress() uint64 {
	return uint64(dword(w.cpu, walkerDwKernelStart)) | uint64(getBits(w.cpu, walkerDwKernelStart+1, 0, 15))<<32
}

func (w *walkerBase) SetIndirectDataSize(size uint32) {
	w.apply(func(buf []byte) { setBits(buf, walkerDwIndirectDataLength, 0, 16, size) })
}

func (w *walkerBase) IndirectDataSize() uint32 {
	return getBits(w.cpu, walkerDwIndirectDataLength, 0, 16)
}

func (w *walkerBase) SetGenerateLocalID(generate bool, emitChannels, walkOrder uint32) {
	w.apply(func(buf []byte) {
		setBits(buf, walkerDwDispatchControl, 19, 21, emitChannels)
		setBits(buf, walkerDwDispatchControl, 25, 25, boolBit(generate))
		setBits(buf, walkerDwDispatchControl, 27, 29, walkOrder)
	})
}

func (w *walkerBase) SetNumberThreadsPerThreadGroup(threads uint32) {
	w.apply(func(buf []byte) { setBits(buf, walkerDwThreadsSLM, 0, 9, threads) })
}

func (w *walkerBase) NumberThreadsPerThreadGroup() uint32 {
	return getBits(w.cpu, walkerDwThreadsSLM, 0, 9)
}

func (w *walkerBase) SetNumberWorkGroups(groupCount [3]uint32) {
	w.apply(func(buf []byte) {
		for axis, count := range groupCount {
			putDword(buf, walkerDwGroupCount+axis, count)
		}
	})
}

func (w *walkerBase) NumberWorkGroups() (groupCount [3]uint32) {
	for axis := range groupCount {
		groupCount[axis] = dword(w.cpu, walkerDwGroupCount+axis)
	}
	return
}

func (w *walkerBase) SetWorkGroupSize(groupSize [3]uint32) {
	w.apply(func(buf []byte) {
		for axis, size := range groupSize {
			lo := uint(axis * 10)
			setBits(buf, walkerDwLocalSize, lo, lo+9, size-1)
		}
	})
}

func (w *walkerBase) WorkGroupSize() (groupSize [3]uint32) {
	for axis := range groupSize {
		lo := uint(axis * 10)
		groupSize[axis] = getBits(w.cpu, walkerDwLocalSize, lo, lo+9) + 1
	}
	return
}

func (w *walkerBase) SetExecutionMask(mask uint32) {
	w.apply(func(buf []byte) { putDword(buf, walkerDwExecutionMask, mask) })
}

func (w *walkerBase) ExecutionMask() uint32 { return dword(w.cpu, walkerDwExecutionMask) }

func (w *walkerBase) SetPostSyncAddress(address uint64) {
	w.apply(func(buf []byte) { putQword(buf, walkerDwPostSyncAddress, address) })
}

func (w *walkerBase) PostSyncAddress() uint64 { return qword(w.cpu, walkerDwPostSyncAddress) }

func (w *walkerBase) SetSLMSize(slmBytes uint32) {
	encoded := w.platform.EncodeSLMSize(slmBytes)
	w.apply(func(buf []byte) { setBits(buf, walkerDwThreadsSLM, 16, 20, encoded) })
}

func (w *walkerBase) SLMSize() uint32 { return getBits(w.cpu, walkerDwThreadsSLM, 16, 20) }

func (w *walkerBase) PreferredSLMAllocationSize() uint32 {
	return getBits(w.cpu, walkerDwSLMDispatch, 0, 3)
}

func (w *walkerBase) ThreadGroupDispatchSize() uint32 {
	return getBits(w.cpu, walkerDwSLMDispatch, 8, 9)
}

func (w *walkerBase) PartitionLayout() (platform.PartitionType, uint32) {
	return platform.PartitionType(getBits(w.cpu, walkerDwPartition, 30, 31)), dword(w.cpu, walkerDwPartitionSize)
}

func (w *walkerBase) WriteInlineData(offset int, data []byte) {
	if offset < 0 || offset+len(data) > w.caps.InlineDataSize {
		exceptions.Panicf("WriteInlineData: [%d, %d) out of the %d bytes inline payload",
			offset, offset+len(data), w.caps.InlineDataSize)
	}
	start := walkerDwInlineData*4 + offset
	w.apply(func(buf []byte) { copy(buf[start:], data) })
}

func (w *walkerBase) InlineData() []byte {
	return w.cpu[walkerDwInlineData*4 : w.size]
}

func (w *walkerBase) SaveCPUBufferIntoGPUBuffer(skipPostSync bool) {
	if w.sameMemory {
		return
	}
	if !skipPostSync {
		copy(w.gpu, w.cpu)
		return
	}
	copy(w.gpu[:walkerPostSyncStart], w.cpu[:walkerPostSyncStart])
	copy(w.gpu[walkerPostSyncEnd:], w.cpu[walkerPostSyncEnd:])
}

// Dedicated field helpers, used by the generations that have them.

func (w *walkerBase) setDedicatedIndirectDataStartAddress(address uint64) {
	w.apply(func(buf []byte) { setBits(buf, walkerDwIndirectDataStart, 6, 31, uint32(address)>>6) })
}

func (w *walkerBase) dedicatedIndirectDataStartAddress() uint64 {
	return uint64(getBits(w.cpu, walkerDwIndirectDataStart, 6, 31)) << 6
}

func (w *walkerBase) setDedicatedScratchAddress(address uint64) {
	w.apply(func(buf []byte) { putDword(buf, walkerDwScratch, uint32(address)&^0x3FF) })
}

func (w *walkerBase) dedicatedScratchAddress() uint64 {
	return uint64(dword(w.cpu, walkerDwScratch))
}

func (w *walkerBase) setDedicatedBindingTablePointer(pointer uint32) {
	w.apply(func(buf []byte) { setBits(buf, walkerDwBindingTable, 5, 20, pointer>>5) })
}

func (w *walkerBase) dedicatedBindingTablePointer() uint32 {
	return getBits(w.cpu, walkerDwBindingTable, 5, 20) << 5
}

// Inline pointer helpers, used by heapless generations.

func (w *walkerBase) setInlinePointer(offset int, address uint64) {
	var encoded [8]byte
	PutUint(encoded[:], address)
	w.WriteInlineData(offset, encoded[:])
}

func (w *walkerBase) inlinePointer(offset int) uint64 {
	return GetUint[uint64](w.InlineData()[offset:])
}

// updateSLMAndDispatchFields implements the preferred SLM allocation and thread-group dispatch
// size updates, for the generations that have those fields.
func (w *walkerBase) updateSLMAndDispatchFields(args SpecificFieldsArgs) {
	if w.caps.PreferredSLMAllocation && (args.UpdateSLM || args.UpdateGroupSize) {
		preferred := w.platform.PreferredSLMAllocationSize(args.SLMTotalSize, args.ThreadsPerThreadGroup)
		w.apply(func(buf []byte) { setBits(buf, walkerDwSLMDispatch, 0, 3, preferred) })
	}
	if w.caps.ThreadGroupDispatch && (args.UpdateGroupCount || args.UpdateGroupSize || args.UpdateSLM) {
		numGroups := args.GroupCount[0] * args.GroupCount[1] * args.GroupCount[2]
		dispatchSize := w.platform.ThreadGroupDispatchSize(args.ThreadsPerThreadGroup, numGroups)
		w.apply(func(buf []byte) { setBits(buf, walkerDwSLMDispatch, 8, 9, dispatchSize) })
	}
}
