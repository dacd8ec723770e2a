// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

// Load register immediate layout:
//
//	DW0: header.
//	DW1: register offset [22:2].
//	DW2: data.
const (
	loadRegisterImmDwRegister = 1
	loadRegisterImmDwData     = 2

	// LoadRegisterImmSize is the size in bytes of a load register immediate.
	LoadRegisterImmSize = 3 * 4
)

// EncodeLoadRegisterImm encodes a fresh load of value into register.
func EncodeLoadRegisterImm(dst []byte, register, value uint32) {
	checkRegion("EncodeLoadRegisterImm", dst, LoadRegisterImmSize)
	clear(dst[:LoadRegisterImmSize])
	putDword(dst, 0, miHeader(opcodeLoadRegisterImm, LoadRegisterImmSize/4, 0))
	putDword(dst, loadRegisterImmDwRegister, register&bitMask(2, 22))
	putDword(dst, loadRegisterImmDwData, value)
}

// LoadRegisterImm edits a recorded load register immediate.
type LoadRegisterImm struct {
	region     []byte
	offset     int
	register   uint32
	patchIndex int
}

// NewLoadRegisterImm wraps a load register immediate recorded in region.
func NewLoadRegisterImm(region []byte, offset int, register uint32, patchIndex int) *LoadRegisterImm {
	checkRegion("NewLoadRegisterImm", region, LoadRegisterImmSize)
	return &LoadRegisterImm{
		region:     region[:LoadRegisterImmSize:LoadRegisterImmSize],
		offset:     offset,
		register:   register,
		patchIndex: patchIndex,
	}
}

// Offset of the instruction in its stream.
func (l *LoadRegisterImm) Offset() int { return l.offset }

// Bytes returns the instruction memory.
func (l *LoadRegisterImm) Bytes() []byte { return l.region }

// PatchIndex shared with the semaphore wait this load feeds.
func (l *LoadRegisterImm) PatchIndex() int { return l.patchIndex }

// IsNoop returns whether the instruction is currently zeroed.
func (l *LoadRegisterImm) IsNoop() bool { return isZero(l.region) }

// Noop zeroes the instruction.
func (l *LoadRegisterImm) Noop() { clear(l.region) }

// Restore re-encodes the load with value.
func (l *LoadRegisterImm) Restore(value uint32) {
	EncodeLoadRegisterImm(l.region, l.register, value)
}

// SetValue rewrites the loaded value.
func (l *LoadRegisterImm) SetValue(value uint32) {
	putDword(l.region, loadRegisterImmDwData, value)
}

// Value currently encoded.
func (l *LoadRegisterImm) Value() uint32 { return dword(l.region, loadRegisterImmDwData) }

// LoadRegisterImmPairSize is the size of two consecutive load register immediates.
const LoadRegisterImmPairSize = 2 * LoadRegisterImmSize

// EncodeLoadRegisterImmPair encodes the two loads of a 64-bit value into register (low dword)
// and register+4 (high dword).
func EncodeLoadRegisterImmPair(dst []byte, register uint32, value uint64) {
	checkRegion("EncodeLoadRegisterImmPair", dst, LoadRegisterImmPairSize)
	EncodeLoadRegisterImm(dst, register, uint32(value))
	EncodeLoadRegisterImm(dst[LoadRegisterImmSize:], register+4, uint32(value>>32))
}

// LoadRegisterImmPair is the unit that loads a 64-bit value into a register pair. Both halves
// share one patch index and are always edited together.
type LoadRegisterImmPair struct {
	low, high *LoadRegisterImm
}

// NewLoadRegisterImmPair wraps two consecutive loads recorded in region.
func NewLoadRegisterImmPair(region []byte, offset int, register uint32, patchIndex int) *LoadRegisterImmPair {
	checkRegion("NewLoadRegisterImmPair", region, LoadRegisterImmPairSize)
	return &LoadRegisterImmPair{
		low:  NewLoadRegisterImm(region, offset, register, patchIndex),
		high: NewLoadRegisterImm(region[LoadRegisterImmSize:], offset+LoadRegisterImmSize, register+4, patchIndex),
	}
}

// PatchIndex shared by both halves.
func (p *LoadRegisterImmPair) PatchIndex() int { return p.low.patchIndex }

// Low returns the low dword load. Only for inspection: edit the pair as a whole.
func (p *LoadRegisterImmPair) Low() *LoadRegisterImm { return p.low }

// High returns the high dword load. Only for inspection: edit the pair as a whole.
func (p *LoadRegisterImmPair) High() *LoadRegisterImm { return p.high }

// IsNoop returns whether both halves are zeroed.
func (p *LoadRegisterImmPair) IsNoop() bool { return p.low.IsNoop() && p.high.IsNoop() }

// Noop zeroes both halves.
func (p *LoadRegisterImmPair) Noop() {
	p.low.Noop()
	p.high.Noop()
}

// Restore re-encodes both halves with value.
func (p *LoadRegisterImmPair) Restore(value uint64) {
	p.low.Restore(uint32(value))
	p.high.Restore(uint32(value >> 32))
}

// SetValue rewrites the value of both halves.
func (p *LoadRegisterImmPair) SetValue(value uint64) {
	p.low.SetValue(uint32(value))
	p.high.SetValue(uint32(value >> 32))
}

// Value currently encoded.
func (p *LoadRegisterImmPair) Value() uint64 {
	return uint64(p.low.Value()) | uint64(p.high.Value())<<32
}
