// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package platform

// Capabilities holds what a hardware generation exposes to the walker and primitive encoders.
type Capabilities struct {
	// InlineDataSize is the number of bytes of cross-thread data delivered inline in the walker.
	// Zero if the walker has no inline payload.
	InlineDataSize int

	// HeaplessIndirectData is set when the indirect data address is passed as a pointer inside
	// the inline payload instead of a dedicated walker field.
	HeaplessIndirectData bool

	// HeaplessScratch is set when the scratch address is passed inside the inline payload instead
	// of a dedicated walker field.
	HeaplessScratch bool

	// BindingTable is set if the walker has a binding table pointer field.
	BindingTable bool

	// Semaphore64BitCompare is set if semaphore waits can compare a 64-bit value natively.
	// Otherwise 64-bit counter waits load the value into a register pair first.
	Semaphore64BitCompare bool

	// ImplicitScaling is set if dispatches can be split across partitions.
	ImplicitScaling bool

	// HardwareLocalIDs is set if the walker can generate local ids, so no per-thread data is needed.
	HardwareLocalIDs bool

	// PreferredSLMAllocation is set if the walker carries a preferred SLM allocation size hint.
	PreferredSLMAllocation bool

	// ThreadGroupDispatch is set if the walker carries a thread-group dispatch size field.
	ThreadGroupDispatch bool

	// GRFSize is the size in bytes of one general register.
	GRFSize int

	// MaxSLMSize is the maximum shared local memory one work group can allocate.
	MaxSLMSize uint32

	// ThreadsPerSubslice is the number of hardware threads one sub-slice can host.
	ThreadsPerSubslice uint32

	// SLMPerSubslice is the SLM capacity of one sub-slice in bytes.
	SLMPerSubslice uint32
}
