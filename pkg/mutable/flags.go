// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mutable

import (
	"fmt"
	"strings"

	"github.com/gomlx/mutablecl/pkg/core/kernel"
	"github.com/gomlx/mutablecl/pkg/core/memory"
)

var (
	// ErrInvalidArgument is returned (wrapped) for unknown command ids, categories not requested
	// when the command id was issued, oversized values and other invalid inputs.
	ErrInvalidArgument = kernel.ErrInvalidArgument

	// ErrAllocationLookup is returned (wrapped) when a pointer doesn't resolve to a tracked allocation.
	ErrAllocationLookup = memory.ErrAllocationLookup
)

// CommandFlags is the set of mutation categories of a command id.
type CommandFlags uint32

const (
	FlagKernelArguments CommandFlags = 1 << iota
	FlagGroupCount
	FlagGroupSize
	FlagGlobalOffset
	FlagSignalEvent
	FlagWaitEvents

	// FlagKernelInstruction is reserved: swapping the kernel of a launch is not supported.
	FlagKernelInstruction

	flagsEnd
)

var flagNames = []string{
	"kernel_arguments",
	"group_count",
	"group_size",
	"global_offset",
	"signal_event",
	"wait_events",
	"kernel_instruction",
}

// String implements fmt.Stringer. Multiple flags are joined with "|".
func (f CommandFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if unknown := f &^ (flagsEnd - 1); unknown != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(unknown)))
	}
	return strings.Join(parts, "|")
}

// Has returns whether all the flags in other are set in f.
func (f CommandFlags) Has(other CommandFlags) bool { return f&other == other }
