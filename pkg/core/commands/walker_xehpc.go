// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

import "github.com/gomlx/mutablecl/platform"

// walkerXeHPC has dedicated pointer fields plus the inline payload, and may split the dispatch
// across partitions.
type walkerXeHPC struct {
	walkerBase
}

var _ Walker = (*walkerXeHPC)(nil)

func (w *walkerXeHPC) SetIndirectDataStartAddress(address uint64) {
	w.setDedicatedIndirectDataStartAddress(address)
}

func (w *walkerXeHPC) IndirectDataStartAddress() uint64 {
	return w.dedicatedIndirectDataStartAddress()
}

func (w *walkerXeHPC) SetScratchAddress(address uint64) { w.setDedicatedScratchAddress(address) }
func (w *walkerXeHPC) ScratchAddress() uint64           { return w.dedicatedScratchAddress() }

func (w *walkerXeHPC) SetBindingTablePointer(pointer uint32) {
	w.setDedicatedBindingTablePointer(pointer)
}

func (w *walkerXeHPC) BindingTablePointer() uint32 { return w.dedicatedBindingTablePointer() }

func (w *walkerXeHPC) UpdateSpecificFields(args SpecificFieldsArgs) {
	if args.UpdateSLM {
		w.SetSLMSize(args.SLMTotalSize)
	}
	w.updateSLMAndDispatchFields(args)
	if args.UpdateGroupCount && w.platform.PartitionCount() > 1 {
		partitionType, partitionSize := w.platform.PartitionLayout(args.GroupCount)
		w.apply(func(buf []byte) {
			setBits(buf, walkerDwPartition, 30, 31, uint32(partitionType))
			putDword(buf, walkerDwPartitionSize, partitionSize)
		})
	}
}

// PartitionLayout returns PartitionDisabled unless the platform is configured with partitions.
func (w *walkerXeHPC) PartitionLayout() (platform.PartitionType, uint32) {
	if w.platform.PartitionCount() <= 1 {
		return platform.PartitionDisabled, 0
	}
	return w.walkerBase.PartitionLayout()
}
