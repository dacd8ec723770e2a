// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

// Store register to memory layout:
//
//	DW0: header.
//	DW1: register offset [22:2].
//	DW2-3: memory address.
const (
	storeRegisterMemDwRegister = 1
	storeRegisterMemDwAddress  = 2

	// StoreRegisterMemSize is the size in bytes of a store register to memory.
	StoreRegisterMemSize = 4 * 4
)

// EncodeStoreRegisterMem encodes a fresh store of the register at address.
func EncodeStoreRegisterMem(dst []byte, register uint32, address uint64) {
	checkRegion("EncodeStoreRegisterMem", dst, StoreRegisterMemSize)
	clear(dst[:StoreRegisterMemSize])
	putDword(dst, 0, miHeader(opcodeStoreRegisterMem, StoreRegisterMemSize/4, 0))
	putDword(dst, storeRegisterMemDwRegister, register&bitMask(2, 22))
	putQword(dst, storeRegisterMemDwAddress, address)
}

// StoreRegisterMem edits a recorded store register to memory. The register is fixed.
type StoreRegisterMem struct {
	region   []byte
	offset   int
	register uint32
}

// NewStoreRegisterMem wraps a store register to memory recorded in region.
func NewStoreRegisterMem(region []byte, offset int, register uint32) *StoreRegisterMem {
	checkRegion("NewStoreRegisterMem", region, StoreRegisterMemSize)
	return &StoreRegisterMem{
		region:   region[:StoreRegisterMemSize:StoreRegisterMemSize],
		offset:   offset,
		register: register,
	}
}

// Offset of the instruction in its stream.
func (s *StoreRegisterMem) Offset() int { return s.offset }

// Bytes returns the instruction memory.
func (s *StoreRegisterMem) Bytes() []byte { return s.region }

// IsNoop returns whether the instruction is currently zeroed.
func (s *StoreRegisterMem) IsNoop() bool { return isZero(s.region) }

// Noop zeroes the instruction.
func (s *StoreRegisterMem) Noop() { clear(s.region) }

// Restore re-encodes the store to the given address.
func (s *StoreRegisterMem) Restore(address uint64) {
	EncodeStoreRegisterMem(s.region, s.register, address)
}

// SetMemoryAddress rewrites the destination address.
func (s *StoreRegisterMem) SetMemoryAddress(address uint64) {
	putQword(s.region, storeRegisterMemDwAddress, address)
}

// MemoryAddress currently encoded.
func (s *StoreRegisterMem) MemoryAddress() uint64 {
	return qword(s.region, storeRegisterMemDwAddress)
}
