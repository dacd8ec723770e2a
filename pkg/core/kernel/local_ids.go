// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import "encoding/binary"

// localIDSize is the size of each local id component of a work-item.
const localIDSize = 2

// PerThreadDataSize returns the per-thread payload size of one hardware thread: one GRF aligned
// block of 16-bit local ids per channel.
func PerThreadDataSize(simd uint32, grfSize int, channels uint32) int {
	if channels == 0 {
		return 0
	}
	lanes := max(int(simd), 8)
	perChannel := (lanes*localIDSize + grfSize - 1) / grfSize * grfSize
	return perChannel * int(channels)
}

// ThreadsPerGroup returns the number of hardware threads a group of groupSize work-items needs.
func ThreadsPerGroup(simd uint32, groupSize [3]uint32) uint32 {
	total := groupSize[0] * groupSize[1] * groupSize[2]
	if simd <= 1 {
		return total
	}
	return (total + simd - 1) / simd
}

// GenerateLocalIDs writes the per-thread payload of one group into dst: for each thread, one
// block per channel with the x, y or z local id of each lane. Lanes past the end of the group
// are zero. It returns the number of bytes written.
func GenerateLocalIDs(dst []byte, simd uint32, grfSize int, channels uint32, groupSize [3]uint32) int {
	perThread := PerThreadDataSize(simd, grfSize, channels)
	if perThread == 0 {
		return 0
	}
	lanes := max(int(simd), 8)
	perChannel := perThread / int(channels)
	threads := int(ThreadsPerGroup(simd, groupSize))
	total := int(groupSize[0] * groupSize[1] * groupSize[2])
	written := threads * perThread
	clear(dst[:written])
	for thread := 0; thread < threads; thread++ {
		for lane := 0; lane < int(max(simd, 1)); lane++ {
			item := thread*int(max(simd, 1)) + lane
			if item >= total {
				break
			}
			ids := [3]uint32{
				uint32(item) % groupSize[0],
				uint32(item) / groupSize[0] % groupSize[1],
				uint32(item) / (groupSize[0] * groupSize[1]),
			}
			for channel := 0; channel < int(channels); channel++ {
				pos := thread*perThread + channel*perChannel + (lane%lanes)*localIDSize
				binary.LittleEndian.PutUint16(dst[pos:], uint16(ids[channel]))
			}
		}
	}
	return written
}
