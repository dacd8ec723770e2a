// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package platform

// slmSizeStep maps an upper bound of SLM bytes to its walker encoding.
type slmSizeStep struct {
	upTo     uint32
	encoding uint32
}

const kb = 1024

// Power of two SLM sizes, from 1KB to 64KB.
var pow2SLMSteps = []slmSizeStep{
	{1 * kb, 1}, {2 * kb, 2}, {4 * kb, 3}, {8 * kb, 4},
	{16 * kb, 5}, {32 * kb, 6}, {64 * kb, 7},
}

// Extended SLM sizes, available since Xe HPC.
var extendedSLMSteps = append(append([]slmSizeStep{}, pow2SLMSteps...),
	slmSizeStep{96 * kb, 8}, slmSizeStep{128 * kb, 9})

// encodeSLMSize returns the encoding of the smallest step that fits slmBytes, or the largest
// step if none does. Zero bytes is encoded as 0.
func encodeSLMSize(steps []slmSizeStep, slmBytes uint32) uint32 {
	if slmBytes == 0 {
		return 0
	}
	for _, step := range steps {
		if slmBytes <= step.upTo {
			return step.encoding
		}
	}
	return steps[len(steps)-1].encoding
}

// Preferred SLM allocation size encodings. The last one (0) means "maximum".
var preferredSLMSteps = []slmSizeStep{
	{0, 8}, {16 * kb, 9}, {32 * kb, 10}, {64 * kb, 11}, {96 * kb, 12}, {128 * kb, 0},
}

// preferredSLMAllocationSize estimates the SLM a sub-slice needs for as many groups as fit its
// threads, and returns the encoding of the smallest allocation that holds it.
func preferredSLMAllocationSize(caps Capabilities, slmBytes, threadsPerGroup uint32) uint32 {
	if slmBytes == 0 {
		return preferredSLMSteps[0].encoding
	}
	groupsPerSubslice := uint32(1)
	if threadsPerGroup > 0 && caps.ThreadsPerSubslice > threadsPerGroup {
		groupsPerSubslice = caps.ThreadsPerSubslice / threadsPerGroup
	}
	needed := uint64(slmBytes) * uint64(groupsPerSubslice)
	if needed > uint64(caps.SLMPerSubslice) {
		needed = uint64(caps.SLMPerSubslice)
	}
	for _, step := range preferredSLMSteps {
		if needed <= uint64(step.upTo) {
			return step.encoding
		}
	}
	return 0
}

// threadGroupDispatchSize returns the encoding for the number of groups dispatched together:
// 0 for 8 groups, 1 for 4, 2 for 2 and 3 for 1.
func threadGroupDispatchSize(caps Capabilities, threadsPerGroup, numGroups uint32) uint32 {
	groups := uint32(8)
	for groups > 1 && (groups*threadsPerGroup > caps.ThreadsPerSubslice/2 || groups > numGroups) {
		groups /= 2
	}
	switch groups {
	case 8:
		return 0
	case 4:
		return 1
	case 2:
		return 2
	default:
		return 3
	}
}

// partitionLayout splits the largest dimension (X on ties) in partitions.
func partitionLayout(groupCount [3]uint32, partitions int) (PartitionType, uint32) {
	if partitions <= 1 {
		return PartitionDisabled, 0
	}
	dim := 0
	for axis := 1; axis < 3; axis++ {
		if groupCount[axis] > groupCount[dim] {
			dim = axis
		}
	}
	p := uint32(partitions)
	size := (groupCount[dim] + p - 1) / p
	return PartitionType(dim + 1), size
}
