// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

// walkerGen12LP has dedicated indirect data, scratch and binding table fields, no inline payload
// and no preferred SLM or thread-group dispatch hints.
type walkerGen12LP struct {
	walkerBase
}

var _ Walker = (*walkerGen12LP)(nil)

func (w *walkerGen12LP) SetIndirectDataStartAddress(address uint64) {
	w.setDedicatedIndirectDataStartAddress(address)
}

func (w *walkerGen12LP) IndirectDataStartAddress() uint64 {
	return w.dedicatedIndirectDataStartAddress()
}

func (w *walkerGen12LP) SetScratchAddress(address uint64) { w.setDedicatedScratchAddress(address) }
func (w *walkerGen12LP) ScratchAddress() uint64           { return w.dedicatedScratchAddress() }

func (w *walkerGen12LP) SetBindingTablePointer(pointer uint32) {
	w.setDedicatedBindingTablePointer(pointer)
}

func (w *walkerGen12LP) BindingTablePointer() uint32 { return w.dedicatedBindingTablePointer() }

// UpdateSpecificFields only re-encodes the SLM size.
func (w *walkerGen12LP) UpdateSpecificFields(args SpecificFieldsArgs) {
	if args.UpdateSLM {
		w.SetSLMSize(args.SLMTotalSize)
	}
}
