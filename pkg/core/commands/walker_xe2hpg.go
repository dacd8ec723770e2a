// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commands

// walkerXe2HPG is heapless: the indirect data and scratch addresses are 64-bit pointers inside
// the inline payload, and there is no binding table.
type walkerXe2HPG struct {
	walkerBase
}

var _ Walker = (*walkerXe2HPG)(nil)

func (w *walkerXe2HPG) SetIndirectDataStartAddress(address uint64) {
	w.setInlinePointer(w.indirectOffset, address)
}

func (w *walkerXe2HPG) IndirectDataStartAddress() uint64 { return w.inlinePointer(w.indirectOffset) }

func (w *walkerXe2HPG) SetScratchAddress(address uint64) {
	w.setInlinePointer(w.scratchOffset, address)
}

func (w *walkerXe2HPG) ScratchAddress() uint64 { return w.inlinePointer(w.scratchOffset) }

// SetBindingTablePointer is a no-op: there is no binding table.
func (w *walkerXe2HPG) SetBindingTablePointer(uint32) {}

func (w *walkerXe2HPG) BindingTablePointer() uint32 { return 0 }

func (w *walkerXe2HPG) UpdateSpecificFields(args SpecificFieldsArgs) {
	if args.UpdateSLM {
		w.SetSLMSize(args.SLMTotalSize)
	}
	w.updateSLMAndDispatchFields(args)
}
