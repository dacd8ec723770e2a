// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/binary"
	"unsafe"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// PutUint writes value in little endian using exactly sizeof(T) bytes of dst.
func PutUint[T constraints.Unsigned](dst []byte, value T) {
	switch unsafe.Sizeof(value) {
	case 1:
		dst[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(value))
	default:
		binary.LittleEndian.PutUint64(dst, uint64(value))
	}
}

// GetUint reads a little endian value of sizeof(T) bytes from src.
func GetUint[T constraints.Unsigned](src []byte) T {
	var value T
	switch unsafe.Sizeof(value) {
	case 1:
		return T(src[0])
	case 2:
		return T(binary.LittleEndian.Uint16(src))
	case 4:
		return T(binary.LittleEndian.Uint32(src))
	default:
		return T(binary.LittleEndian.Uint64(src))
	}
}

// PutSized writes the lower size bytes of value (size in 1, 2, 4 or 8) in little endian.
func PutSized(dst []byte, size int, value uint64) {
	switch size {
	case 1:
		PutUint(dst, uint8(value))
	case 2:
		PutUint(dst, uint16(value))
	case 4:
		PutUint(dst, uint32(value))
	case 8:
		PutUint(dst, value)
	default:
		exceptions.Panicf("PutSized: invalid size %d, only 1, 2, 4 or 8 bytes supported", size)
	}
}

func putDword(b []byte, dw int, value uint32) {
	binary.LittleEndian.PutUint32(b[dw*4:], value)
}

func dword(b []byte, dw int) uint32 {
	return binary.LittleEndian.Uint32(b[dw*4:])
}

func putQword(b []byte, dw int, value uint64) {
	binary.LittleEndian.PutUint64(b[dw*4:], value)
}

func qword(b []byte, dw int) uint64 {
	return binary.LittleEndian.Uint64(b[dw*4:])
}

// bitMask returns a mask with bits [lo, hi] set.
func bitMask(lo, hi uint) uint32 {
	return uint32((uint64(1)<<(hi-lo+1) - 1) << lo)
}

// setBits replaces bits [lo, hi] of dword dw with value, leaving the other bits untouched.
func setBits(b []byte, dw int, lo, hi uint, value uint32) {
	mask := bitMask(lo, hi)
	putDword(b, dw, dword(b, dw)&^mask|(value<<lo)&mask)
}

func getBits(b []byte, dw int, lo, hi uint) uint32 {
	return (dword(b, dw) & bitMask(lo, hi)) >> lo
}

func boolBit(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}

// checkRegion panics if region can't hold an instruction of the given size.
func checkRegion(name string, region []byte, size int) {
	if len(region) < size {
		exceptions.Panicf("%s: region of %d bytes can't hold the %d bytes instruction", name, len(region), size)
	}
}
