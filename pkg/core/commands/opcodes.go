// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

// Command header layout: command type in bits [31:29]. For MI commands the opcode is in
// bits [28:23]; all commands carry their length in dwords minus 2 in the low bits.
const (
	opcodeSemaphoreWait    = 0x1C
	opcodeStoreDataImm     = 0x20
	opcodeLoadRegisterImm  = 0x22
	opcodeStoreRegisterMem = 0x24

	pipeControlHeader   = 0x7A00_0000
	computeWalkerHeader = 0x720A_0000
)

func miHeader(opcode uint32, dwords int, flags uint32) uint32 {
	return opcode<<23 | flags | uint32(dwords-2)
}

// Well known MMIO register offsets.
const (
	// RegisterGPR0 is the low dword of the command streamer general purpose register 0.
	// The high dword is at RegisterGPR0+4.
	RegisterGPR0 uint32 = 0x2600

	// RegisterCounter is the register holding the in-order counter of the command streamer.
	RegisterCounter uint32 = 0x2610
)

// CompareOperation used by semaphore waits: "semaphore address data" (SAD) compared to
// "semaphore data dword" (SDD).
type CompareOperation uint32

const (
	CompareGreaterThan CompareOperation = iota
	CompareGreaterOrEqual
	CompareLessThan
	CompareLessOrEqual
	CompareEqual
	CompareNotEqual
)

// PostSyncOperation selects what a walker or pipe control writes once it completes.
type PostSyncOperation uint32

const (
	PostSyncNone           PostSyncOperation = 0
	PostSyncWriteImmediate PostSyncOperation = 1
	PostSyncWriteTimestamp PostSyncOperation = 3
)
