// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/gomlx/mutablecl/platform"
)

// SemaphoreKind is the kind of synchronization a semaphore wait implements. It's fixed when the
// wait is recorded: mutations only rewrite its address and value.
type SemaphoreKind int

const (
	// SemaphoreEventWait waits for the completion flag of a regular event to leave the "cleared" state.
	SemaphoreEventWait SemaphoreKind = iota

	// SemaphoreCounterTimestampWait waits for a device counter, at an address fixed at append time,
	// to reach a value.
	SemaphoreCounterTimestampWait

	// SemaphoreCounterWait waits for the counter of a counter-based event to reach a value. On
	// platforms without native 64-bit compare the value is loaded into a register pair first
	// (see LoadRegisterImmPair) and the semaphore compares against the register.
	SemaphoreCounterWait
)

var semaphoreKindNames = [...]string{
	SemaphoreEventWait:            "EventWait",
	SemaphoreCounterTimestampWait: "CounterTimestampWait",
	SemaphoreCounterWait:          "CounterWait",
}

// String implements fmt.Stringer.
func (k SemaphoreKind) String() string {
	if k < 0 || int(k) >= len(semaphoreKindNames) {
		return fmt.Sprintf("SemaphoreKind(%d)", int(k))
	}
	return semaphoreKindNames[k]
}

// Semaphore wait layout:
//
//	DW0: header; compare operation [14:12], polling wait mode [15], register poll mode [16],
//	     64-bit compare [22].
//	DW1: semaphore data (low dword).
//	DW2-3: semaphore address.
//	DW4: semaphore data high dword, only on platforms with 64-bit compare.
const (
	semaphoreDwData     = 1
	semaphoreDwAddress  = 2
	semaphoreDwDataHigh = 4

	semaphoreBitPolling      = 15
	semaphoreBitRegisterPoll = 16
	semaphoreBit64BitCompare = 22
)

// SemaphoreWaitSize returns the size in bytes of a semaphore wait on the given platform.
func SemaphoreWaitSize(caps platform.Capabilities) int {
	if caps.Semaphore64BitCompare {
		return 5 * 4
	}
	return 4 * 4
}

// semaphoreEncoding is what a kind resolves to on a given platform.
type semaphoreEncoding struct {
	compare      CompareOperation
	wide         bool // 64-bit compare.
	registerPoll bool // Compare against GPR0 instead of the semaphore data.
}

func resolveSemaphoreEncoding(kind SemaphoreKind, caps platform.Capabilities) semaphoreEncoding {
	switch kind {
	case SemaphoreEventWait:
		return semaphoreEncoding{compare: CompareNotEqual}
	case SemaphoreCounterTimestampWait:
		return semaphoreEncoding{compare: CompareGreaterOrEqual, wide: caps.Semaphore64BitCompare}
	default:
		if caps.Semaphore64BitCompare {
			return semaphoreEncoding{compare: CompareGreaterOrEqual, wide: true}
		}
		return semaphoreEncoding{compare: CompareGreaterOrEqual, registerPoll: true}
	}
}

// EncodeSemaphoreWait encodes a fresh semaphore wait of the given kind into dst.
func EncodeSemaphoreWait(dst []byte, caps platform.Capabilities, kind SemaphoreKind, address, value uint64) {
	size := SemaphoreWaitSize(caps)
	checkRegion("EncodeSemaphoreWait", dst, size)
	enc := resolveSemaphoreEncoding(kind, caps)
	clear(dst[:size])
	flags := uint32(enc.compare)<<12 | 1<<semaphoreBitPolling |
		boolBit(enc.registerPoll)<<semaphoreBitRegisterPoll | boolBit(enc.wide)<<semaphoreBit64BitCompare
	putDword(dst, 0, miHeader(opcodeSemaphoreWait, size/4, flags))
	putQword(dst, semaphoreDwAddress, address)
	if enc.registerPoll {
		// Value travels in GPR0.
		return
	}
	putDword(dst, semaphoreDwData, uint32(value))
	if enc.wide {
		putDword(dst, semaphoreDwDataHigh, uint32(value>>32))
	}
}

// SemaphoreWait edits a recorded semaphore wait.
type SemaphoreWait struct {
	region     []byte
	offset     int
	kind       SemaphoreKind
	patchIndex int
	caps       platform.Capabilities
	enc        semaphoreEncoding
}

// NewSemaphoreWait wraps a semaphore wait recorded in region, located at offset in its stream.
// The patchIndex pairs the wait with the load-register-immediate pair that feeds it, if any.
func NewSemaphoreWait(region []byte, offset int, caps platform.Capabilities, kind SemaphoreKind, patchIndex int) *SemaphoreWait {
	size := SemaphoreWaitSize(caps)
	checkRegion("NewSemaphoreWait", region, size)
	return &SemaphoreWait{
		region:     region[:size:size],
		offset:     offset,
		kind:       kind,
		patchIndex: patchIndex,
		caps:       caps,
		enc:        resolveSemaphoreEncoding(kind, caps),
	}
}

// Kind of the semaphore wait.
func (s *SemaphoreWait) Kind() SemaphoreKind { return s.kind }

// PatchIndex shared with the register loads feeding this wait, if any.
func (s *SemaphoreWait) PatchIndex() int { return s.patchIndex }

// Offset of the instruction in its stream.
func (s *SemaphoreWait) Offset() int { return s.offset }

// Bytes returns the instruction memory.
func (s *SemaphoreWait) Bytes() []byte { return s.region }

// UsesRegister returns whether the compared value is taken from GPR0.
func (s *SemaphoreWait) UsesRegister() bool { return s.enc.registerPoll }

// IsNoop returns whether the instruction is currently zeroed.
func (s *SemaphoreWait) IsNoop() bool { return isZero(s.region) }

// Noop zeroes the instruction, the command streamer skips over it.
func (s *SemaphoreWait) Noop() { clear(s.region) }

// Restore re-encodes the wait with the given address and value.
func (s *SemaphoreWait) Restore(address, value uint64) {
	EncodeSemaphoreWait(s.region, s.caps, s.kind, address, value)
}

// SetSemaphoreAddress rewrites only the address.
func (s *SemaphoreWait) SetSemaphoreAddress(address uint64) {
	putQword(s.region, semaphoreDwAddress, address)
}

// SetSemaphoreValue rewrites only the compared value. For register polling waits the value
// lives in the register loads, and this is a no-op.
func (s *SemaphoreWait) SetSemaphoreValue(value uint64) {
	if s.enc.registerPoll {
		return
	}
	putDword(s.region, semaphoreDwData, uint32(value))
	if s.enc.wide {
		putDword(s.region, semaphoreDwDataHigh, uint32(value>>32))
	}
}

// Address currently encoded.
func (s *SemaphoreWait) Address() uint64 { return qword(s.region, semaphoreDwAddress) }

// Value currently encoded (0 for register polling waits).
func (s *SemaphoreWait) Value() uint64 {
	value := uint64(dword(s.region, semaphoreDwData))
	if s.enc.wide {
		value |= uint64(dword(s.region, semaphoreDwDataHigh)) << 32
	}
	return value
}

// CompareOperation currently encoded.
func (s *SemaphoreWait) CompareOperation() CompareOperation {
	return CompareOperation(getBits(s.region, 0, 12, 14))
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
