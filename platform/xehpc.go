// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package platform

import "fmt"

// XeHPCName is the configuration name of the Xe HPC platform.
const XeHPCName = "xehpc"

func init() {
	Register(XeHPCName, NewXeHPC)
}

var xeHPCCapabilities = Capabilities{
	InlineDataSize:         32,
	BindingTable:           true,
	Semaphore64BitCompare:  true,
	ImplicitScaling:        true,
	HardwareLocalIDs:       true,
	PreferredSLMAllocation: true,
	ThreadGroupDispatch:    true,
	GRFSize:                64,
	MaxSLMSize:             128 * kb,
	ThreadsPerSubslice:     64,
	SLMPerSubslice:         128 * kb,
}

// XeHPC platform. It supports splitting dispatches across partitions (implicit scaling).
type XeHPC struct {
	partitions int
}

var _ Platform = (*XeHPC)(nil)

// NewXeHPC creates the Xe HPC platform. Options: "partitions=<n>".
func NewXeHPC(options string) Platform {
	return &XeHPC{partitions: partitionsOption(XeHPCName, parseOptions(options), true)}
}

// Family implements Platform.
func (p *XeHPC) Family() Family { return FamilyXeHPC }

// Name implements Platform.
func (p *XeHPC) Name() string { return XeHPCName }

// String implements fmt.Stringer.
func (p *XeHPC) String() string { return fmt.Sprintf("%s(partitions=%d)", XeHPCName, p.partitions) }

// Capabilities implements Platform.
func (p *XeHPC) Capabilities() Capabilities { return xeHPCCapabilities }

// PartitionCount implements Platform.
func (p *XeHPC) PartitionCount() int { return p.partitions }

// EncodeSLMSize implements Platform.
func (p *XeHPC) EncodeSLMSize(slmBytes uint32) uint32 {
	return encodeSLMSize(extendedSLMSteps, slmBytes)
}

// PreferredSLMAllocationSize implements Platform.
func (p *XeHPC) PreferredSLMAllocationSize(slmBytes, threadsPerGroup uint32) uint32 {
	return preferredSLMAllocationSize(xeHPCCapabilities, slmBytes, threadsPerGroup)
}

// ThreadGroupDispatchSize implements Platform.
func (p *XeHPC) ThreadGroupDispatchSize(threadsPerGroup, numGroups uint32) uint32 {
	return threadGroupDispatchSize(xeHPCCapabilities, threadsPerGroup, numGroups)
}

// PartitionLayout implements Platform.
func (p *XeHPC) PartitionLayout(groupCount [3]uint32) (PartitionType, uint32) {
	return partitionLayout(groupCount, p.partitions)
}
