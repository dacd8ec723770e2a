// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package platform

// Xe2HPGName is the configuration name of the Xe2 HPG platform.
const Xe2HPGName = "xe2hpg"

func init() {
	Register(Xe2HPGName, NewXe2HPG)
}

// xe2HPGCapabilities: heapless, the indirect data and scratch pointers travel in the inline
// payload and there is no binding table.
var xe2HPGCapabilities = Capabilities{
	InlineDataSize:         64,
	HeaplessIndirectData:   true,
	HeaplessScratch:        true,
	Semaphore64BitCompare:  true,
	HardwareLocalIDs:       true,
	PreferredSLMAllocation: true,
	ThreadGroupDispatch:    true,
	GRFSize:                64,
	MaxSLMSize:             128 * kb,
	ThreadsPerSubslice:     64,
	SLMPerSubslice:         128 * kb,
}

// Xe2HPG platform.
type Xe2HPG struct{}

var _ Platform = Xe2HPG{}

// NewXe2HPG creates the Xe2 HPG platform. It accepts no options other than "partitions=1".
func NewXe2HPG(options string) Platform {
	_ = partitionsOption(Xe2HPGName, parseOptions(options), false)
	return Xe2HPG{}
}

// Family implements Platform.
func (Xe2HPG) Family() Family { return FamilyXe2HPG }

// Name implements Platform.
func (Xe2HPG) Name() string { return Xe2HPGName }

// Capabilities implements Platform.
func (Xe2HPG) Capabilities() Capabilities { return xe2HPGCapabilities }

// PartitionCount implements Platform.
func (Xe2HPG) PartitionCount() int { return 1 }

// EncodeSLMSize implements Platform.
func (Xe2HPG) EncodeSLMSize(slmBytes uint32) uint32 {
	return encodeSLMSize(extendedSLMSteps, slmBytes)
}

// PreferredSLMAllocationSize implements Platform.
func (Xe2HPG) PreferredSLMAllocationSize(slmBytes, threadsPerGroup uint32) uint32 {
	return preferredSLMAllocationSize(xe2HPGCapabilities, slmBytes, threadsPerGroup)
}

// ThreadGroupDispatchSize implements Platform.
func (Xe2HPG) ThreadGroupDispatchSize(threadsPerGroup, numGroups uint32) uint32 {
	return threadGroupDispatchSize(xe2HPGCapabilities, threadsPerGroup, numGroups)
}

// PartitionLayout implements Platform. Dispatches are never partitioned.
func (Xe2HPG) PartitionLayout(groupCount [3]uint32) (PartitionType, uint32) {
	return PartitionDisabled, 0
}
