// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"testing"

	"github.com/gomlx/mutablecl/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutUint(t *testing.T) {
	buf := make([]byte, 8)
	PutUint(buf, uint16(0xBEEF))
	assert.Equal(t, []byte{0xEF, 0xBE, 0, 0, 0, 0, 0, 0}, buf)
	assert.Equal(t, uint16(0xBEEF), GetUint[uint16](buf))

	clear(buf)
	PutSized(buf, 4, 0x1122334455667788)
	assert.Equal(t, uint32(0x55667788), GetUint[uint32](buf))
	assert.Equal(t, uint64(0x55667788), GetUint[uint64](buf), "only 4 bytes should have been written")
	require.Panics(t, func() { PutSized(buf, 3, 1) })
}

func TestSemaphoreWait(t *testing.T) {
	for _, config := range []string{platform.Gen12LPName, platform.XeHPCName} {
		caps := platform.NewWithConfig(config).Capabilities()
		t.Run(config, func(t *testing.T) {
			size := SemaphoreWaitSize(caps)
			buf := make([]byte, size)
			EncodeSemaphoreWait(buf, caps, SemaphoreEventWait, 0x1000, 1)
			encoded := bytes.Clone(buf)

			s := NewSemaphoreWait(buf, 64, caps, SemaphoreEventWait, -1)
			assert.Equal(t, CompareNotEqual, s.CompareOperation())
			assert.Equal(t, uint64(0x1000), s.Address())
			assert.Equal(t, uint64(1), s.Value())
			assert.Equal(t, 64, s.Offset())
			assert.False(t, s.UsesRegister())

			s.Noop()
			assert.True(t, s.IsNoop())
			s.Restore(0x1000, 1)
			assert.Equal(t, encoded, buf, "noop then restore should reproduce the original encoding")

			s.SetSemaphoreAddress(0x2000)
			assert.Equal(t, uint64(0x2000), s.Address())
		})
	}
}

func TestSemaphoreCounterWait(t *testing.T) {
	// Without native 64-bit compare, the value is polled from GPR0.
	gen12 := platform.NewWithConfig(platform.Gen12LPName).Capabilities()
	buf := make([]byte, SemaphoreWaitSize(gen12))
	EncodeSemaphoreWait(buf, gen12, SemaphoreCounterWait, 0x3000, 7)
	s := NewSemaphoreWait(buf, 0, gen12, SemaphoreCounterWait, 3)
	assert.True(t, s.UsesRegister())
	assert.Equal(t, CompareGreaterOrEqual, s.CompareOperation())
	assert.Equal(t, uint64(0), s.Value())
	s.SetSemaphoreValue(9)
	assert.Equal(t, uint64(0), s.Value(), "register polling waits take the value from the register loads")
	assert.Equal(t, 3, s.PatchIndex())

	// With native 64-bit compare the value is inline.
	xehpc := platform.NewWithConfig(platform.XeHPCName).Capabilities()
	buf = make([]byte, SemaphoreWaitSize(xehpc))
	EncodeSemaphoreWait(buf, xehpc, SemaphoreCounterWait, 0x3000, 1<<40)
	s = NewSemaphoreWait(buf, 0, xehpc, SemaphoreCounterWait, -1)
	assert.False(t, s.UsesRegister())
	assert.Equal(t, uint64(1<<40), s.Value())
	s.SetSemaphoreValue(1<<40 + 5)
	assert.Equal(t, uint64(1<<40+5), s.Value())
	assert.Equal(t, "CounterWait", s.Kind().String())
	assert.Equal(t, "SemaphoreKind(9)", SemaphoreKind(9).String())
}

func TestStoreDataImm(t *testing.T) {
	for _, qw := range []bool{false, true} {
		buf := make([]byte, StoreDataImmSize(qw))
		EncodeStoreDataImm(buf, 0xABC0, 0x1_0000_0002, qw)
		encoded := bytes.Clone(buf)
		s := NewStoreDataImm(buf, 0, qw)
		assert.Equal(t, uint64(0xABC0), s.Address())
		if qw {
			assert.Equal(t, uint64(0x1_0000_0002), s.Value())
		} else {
			assert.Equal(t, uint64(2), s.Value())
		}
		s.Noop()
		assert.True(t, s.IsNoop())
		s.Restore(0xABC0, 0x1_0000_0002)
		assert.Equal(t, encoded, buf)
		s.SetAddress(0xDEF0)
		s.SetValue(5)
		assert.Equal(t, uint64(0xDEF0), s.Address())
		assert.Equal(t, uint64(5), s.Value())
	}
}

func TestStoreRegisterMem(t *testing.T) {
	buf := make([]byte, StoreRegisterMemSize)
	EncodeStoreRegisterMem(buf, RegisterCounter, 0x4000)
	encoded := bytes.Clone(buf)
	s := NewStoreRegisterMem(buf, 16, RegisterCounter)
	assert.Equal(t, uint64(0x4000), s.MemoryAddress())
	s.Noop()
	assert.True(t, s.IsNoop())
	s.Restore(0x4000)
	assert.Equal(t, encoded, buf)
	s.SetMemoryAddress(0x5000)
	assert.Equal(t, uint64(0x5000), s.MemoryAddress())
}

func TestLoadRegisterImmPair(t *testing.T) {
	buf := make([]byte, LoadRegisterImmPairSize)
	EncodeLoadRegisterImmPair(buf, RegisterGPR0, 0x0000_0007_0000_0003)
	encoded := bytes.Clone(buf)
	p := NewLoadRegisterImmPair(buf, 128, RegisterGPR0, 2)
	assert.Equal(t, uint32(3), p.Low().Value())
	assert.Equal(t, uint32(7), p.High().Value())
	assert.Equal(t, 128+LoadRegisterImmSize, p.High().Offset())
	assert.Equal(t, 2, p.PatchIndex())
	assert.Equal(t, 2, p.High().PatchIndex())

	p.Noop()
	assert.True(t, p.IsNoop())
	p.Restore(0x0000_0007_0000_0003)
	assert.Equal(t, encoded, buf)

	p.SetValue(1<<33 | 1)
	assert.Equal(t, uint64(1<<33|1), p.Value())
	assert.Equal(t, RegisterGPR0+4, dword(p.High().Bytes(), loadRegisterImmDwRegister))
}

func TestPipeControl(t *testing.T) {
	buf := make([]byte, PipeControlSize)
	EncodePipeControl(buf, PipeControlArgs{DCFlush: true, PostSync: PostSyncWriteImmediate, Address: 0x8000})
	encoded := bytes.Clone(buf)
	p := NewPipeControl(buf, 0)
	assert.Equal(t, uint64(0x8000), p.PostSyncAddress())
	p.Noop()
	assert.True(t, p.IsNoop())
	p.Restore(0x8000, 0)
	assert.Equal(t, encoded, buf, "restore should keep the recorded flush and post-sync operation")
	p.SetPostSyncAddress(0x9000)
	assert.Equal(t, uint64(0x9000), p.PostSyncAddress())
}

// field is the bit range [lo, hi] of a dword a setter is allowed to change.
type field struct {
	dword  int
	lo, hi uint
}

func fullDwords(dwords ...int) []field {
	fields := make([]field, len(dwords))
	for i, dw := range dwords {
		fields[i] = field{dw, 0, 31}
	}
	return fields
}

// assertOnlyFields checks that after differs from before, and only within fields.
func assertOnlyFields(t *testing.T, before, after []byte, fields ...field) {
	t.Helper()
	require.Len(t, after, len(before))
	assert.NotEqual(t, before, after, "setter didn't change anything")
	for dw := range len(before) / 4 {
		var allowed uint32
		for _, f := range fields {
			if f.dword == dw {
				allowed |= bitMask(f.lo, f.hi)
			}
		}
		changed := dword(before, dw) ^ dword(after, dw)
		assert.Zerof(t, changed&^allowed, "dword %d changed outside the field: 0x%08x -> 0x%08x",
			dw, dword(before, dw), dword(after, dw))
	}
}

func TestSettersKeepOtherFields(t *testing.T) {
	gen12 := platform.NewWithConfig(platform.Gen12LPName).Capabilities()
	xehpc := platform.NewWithConfig(platform.XeHPCName).Capabilities()
	testCases := []struct {
		name   string
		encode func() []byte
		set    func(buf []byte)
		fields []field
	}{
		{
			name: "SemaphoreWait.SetSemaphoreAddress",
			encode: func() []byte {
				buf := make([]byte, SemaphoreWaitSize(xehpc))
				EncodeSemaphoreWait(buf, xehpc, SemaphoreEventWait, 0x1000, 1)
				return buf
			},
			set: func(buf []byte) {
				NewSemaphoreWait(buf, 0, xehpc, SemaphoreEventWait, -1).SetSemaphoreAddress(0xFFFF_2222_3333_4440)
			},
			fields: fullDwords(semaphoreDwAddress, semaphoreDwAddress+1),
		},
		{
			name: "SemaphoreWait.SetSemaphoreValue",
			encode: func() []byte {
				buf := make([]byte, SemaphoreWaitSize(xehpc))
				EncodeSemaphoreWait(buf, xehpc, SemaphoreCounterWait, 0x3000, 7)
				return buf
			},
			set: func(buf []byte) {
				NewSemaphoreWait(buf, 0, xehpc, SemaphoreCounterWait, -1).SetSemaphoreValue(0x1234_5678_9ABC_DEF0)
			},
			fields: fullDwords(semaphoreDwData, semaphoreDwDataHigh),
		},
		{
			name: "SemaphoreWait.SetSemaphoreAddress/gen12lp",
			encode: func() []byte {
				buf := make([]byte, SemaphoreWaitSize(gen12))
				EncodeSemaphoreWait(buf, gen12, SemaphoreCounterWait, 0x3000, 7)
				return buf
			},
			set: func(buf []byte) {
				NewSemaphoreWait(buf, 0, gen12, SemaphoreCounterWait, 0).SetSemaphoreAddress(0xABCD_0000)
			},
			fields: fullDwords(semaphoreDwAddress, semaphoreDwAddress+1),
		},
		{
			name: "StoreDataImm.SetAddress",
			encode: func() []byte {
				buf := make([]byte, StoreDataImmSize(true))
				EncodeStoreDataImm(buf, 0xABC0, 0x1_0000_0002, true)
				return buf
			},
			set:    func(buf []byte) { NewStoreDataImm(buf, 0, true).SetAddress(0xFFFF_1111_2222_3330) },
			fields: fullDwords(storeDataImmDwAddress, storeDataImmDwAddress+1),
		},
		{
			name: "StoreDataImm.SetValue",
			encode: func() []byte {
				buf := make([]byte, StoreDataImmSize(true))
				EncodeStoreDataImm(buf, 0xABC0, 0x1_0000_0002, true)
				return buf
			},
			set:    func(buf []byte) { NewStoreDataImm(buf, 0, true).SetValue(0x7777_6666_5555_4444) },
			fields: fullDwords(storeDataImmDwData, storeDataImmDwData+1),
		},
		{
			name: "StoreDataImm.SetValue/dword",
			encode: func() []byte {
				buf := make([]byte, StoreDataImmSize(false))
				EncodeStoreDataImm(buf, 0xABC0, 2, false)
				return buf
			},
			set:    func(buf []byte) { NewStoreDataImm(buf, 0, false).SetValue(0x7777_6666_5555_4444) },
			fields: fullDwords(storeDataImmDwData),
		},
		{
			name: "StoreRegisterMem.SetMemoryAddress",
			encode: func() []byte {
				buf := make([]byte, StoreRegisterMemSize)
				EncodeStoreRegisterMem(buf, RegisterCounter, 0x4000)
				return buf
			},
			set:    func(buf []byte) { NewStoreRegisterMem(buf, 0, RegisterCounter).SetMemoryAddress(0xFFFF_0000_5000) },
			fields: fullDwords(storeRegisterMemDwAddress, storeRegisterMemDwAddress+1),
		},
		{
			name: "LoadRegisterImmPair.SetValue",
			encode: func() []byte {
				buf := make([]byte, LoadRegisterImmPairSize)
				EncodeLoadRegisterImmPair(buf, RegisterGPR0, 3)
				return buf
			},
			set:    func(buf []byte) { NewLoadRegisterImmPair(buf, 0, RegisterGPR0, 0).SetValue(0x1111_2222_3333_4444) },
			fields: fullDwords(loadRegisterImmDwData, LoadRegisterImmSize/4+loadRegisterImmDwData),
		},
		{
			name: "PipeControl.SetPostSyncAddress",
			encode: func() []byte {
				buf := make([]byte, PipeControlSize)
				EncodePipeControl(buf, PipeControlArgs{DCFlush: true, PostSync: PostSyncWriteImmediate, Address: 0x8000, Immediate: 9})
				return buf
			},
			set:    func(buf []byte) { NewPipeControl(buf, 0).SetPostSyncAddress(0xFFFF_0000_9000) },
			fields: fullDwords(pipeControlDwAddress, pipeControlDwAddress+1),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := tc.encode()
			before := bytes.Clone(buf)
			tc.set(buf)
			assertOnlyFields(t, before, buf, tc.fields...)
		})
	}
}

func TestCheckRegion(t *testing.T) {
	require.Panics(t, func() { NewPipeControl(make([]byte, 8), 0) })
	require.Panics(t, func() { EncodeStoreRegisterMem(make([]byte, 4), RegisterGPR0, 0) })
}
