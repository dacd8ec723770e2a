// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package platform

// Gen12LPName is the configuration name of the Gen12LP platform.
const Gen12LPName = "gen12lp"

func init() {
	Register(Gen12LPName, NewGen12LP)
}

// gen12LPCapabilities: no inline payload, dedicated fields for everything, no 64-bit semaphores.
var gen12LPCapabilities = Capabilities{
	InlineDataSize:     0,
	BindingTable:       true,
	GRFSize:            32,
	MaxSLMSize:         64 * kb,
	ThreadsPerSubslice: 112,
	SLMPerSubslice:     64 * kb,
}

// Gen12LP platform.
type Gen12LP struct{}

var _ Platform = Gen12LP{}

// NewGen12LP creates the Gen12LP platform. It accepts no options other than "partitions=1".
func NewGen12LP(options string) Platform {
	_ = partitionsOption(Gen12LPName, parseOptions(options), false)
	return Gen12LP{}
}

// Family implements Platform.
func (Gen12LP) Family() Family { return FamilyGen12LP }

// Name implements Platform.
func (Gen12LP) Name() string { return Gen12LPName }

// Capabilities implements Platform.
func (Gen12LP) Capabilities() Capabilities { return gen12LPCapabilities }

// PartitionCount implements Platform. It is always 1.
func (Gen12LP) PartitionCount() int { return 1 }

// EncodeSLMSize implements Platform.
func (Gen12LP) EncodeSLMSize(slmBytes uint32) uint32 {
	return encodeSLMSize(pow2SLMSteps, slmBytes)
}

// PreferredSLMAllocationSize implements Platform. Gen12LP has no such hint: it returns 0.
func (Gen12LP) PreferredSLMAllocationSize(slmBytes, threadsPerGroup uint32) uint32 { return 0 }

// ThreadGroupDispatchSize implements Platform. Gen12LP has no such field: it returns 0.
func (Gen12LP) ThreadGroupDispatchSize(threadsPerGroup, numGroups uint32) uint32 { return 0 }

// PartitionLayout implements Platform. Dispatches are never partitioned.
func (Gen12LP) PartitionLayout(groupCount [3]uint32) (PartitionType, uint32) {
	return PartitionDisabled, 0
}
