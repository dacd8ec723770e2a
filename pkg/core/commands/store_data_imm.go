// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

// Store data immediate layout:
//
//	DW0: header; store qword [21].
//	DW1-2: address.
//	DW3: data low dword.
//	DW4: data high dword (qword stores only).
const (
	storeDataImmDwAddress = 1
	storeDataImmDwData    = 3
	storeDataImmBitQword  = 21
)

// StoreDataImmSize returns the size in bytes of a store data immediate.
func StoreDataImmSize(qword bool) int {
	if qword {
		return 5 * 4
	}
	return 4 * 4
}

// EncodeStoreDataImm encodes a fresh store of value at address.
func EncodeStoreDataImm(dst []byte, address, value uint64, qword bool) {
	size := StoreDataImmSize(qword)
	checkRegion("EncodeStoreDataImm", dst, size)
	clear(dst[:size])
	putDword(dst, 0, miHeader(opcodeStoreDataImm, size/4, boolBit(qword)<<storeDataImmBitQword))
	putQword(dst, storeDataImmDwAddress, address)
	putDword(dst, storeDataImmDwData, uint32(value))
	if qword {
		putDword(dst, storeDataImmDwData+1, uint32(value>>32))
	}
}

// StoreDataImm edits a recorded store data immediate.
type StoreDataImm struct {
	region []byte
	offset int
	qword  bool
}

// NewStoreDataImm wraps a store data immediate recorded in region.
func NewStoreDataImm(region []byte, offset int, qword bool) *StoreDataImm {
	size := StoreDataImmSize(qword)
	checkRegion("NewStoreDataImm", region, size)
	return &StoreDataImm{region: region[:size:size], offset: offset, qword: qword}
}

// Offset of the instruction in its stream.
func (s *StoreDataImm) Offset() int { return s.offset }

// Bytes returns the instruction memory.
func (s *StoreDataImm) Bytes() []byte { return s.region }

// IsNoop returns whether the instruction is currently zeroed.
func (s *StoreDataImm) IsNoop() bool { return isZero(s.region) }

// Noop zeroes the instruction.
func (s *StoreDataImm) Noop() { clear(s.region) }

// Restore re-encodes the store.
func (s *StoreDataImm) Restore(address, value uint64) {
	EncodeStoreDataImm(s.region, address, value, s.qword)
}

// SetAddress rewrites the destination address.
func (s *StoreDataImm) SetAddress(address uint64) {
	putQword(s.region, storeDataImmDwAddress, address)
}

// SetValue rewrites the stored value.
func (s *StoreDataImm) SetValue(value uint64) {
	putDword(s.region, storeDataImmDwData, uint32(value))
	if s.qword {
		putDword(s.region, storeDataImmDwData+1, uint32(value>>32))
	}
}

// Address currently encoded.
func (s *StoreDataImm) Address() uint64 { return qword(s.region, storeDataImmDwAddress) }

// Value currently encoded.
func (s *StoreDataImm) Value() uint64 {
	value := uint64(dword(s.region, storeDataImmDwData))
	if s.qword {
		value |= uint64(dword(s.region, storeDataImmDwData+1)) << 32
	}
	return value
}
