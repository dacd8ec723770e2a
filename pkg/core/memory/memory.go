// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package memory tracks the GPU allocations a command list can reference: an address range table
// to resolve raw pointers to allocations, and the Registry interface used to count references
// (residency) of the allocations patched into command lists.
package memory

import (
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrAllocationLookup is returned (wrapped) when a pointer doesn't resolve to a tracked allocation.
var ErrAllocationLookup = errors.New("allocation lookup failed")

// AllocationID identifies an allocation.
type AllocationID uint64

// Allocation is a range of GPU virtual memory.
type Allocation struct {
	ID         AllocationID
	Name       string
	GPUAddress uint64
	Size       uint64
}

// Contains returns whether address falls inside the allocation.
func (a *Allocation) Contains(address uint64) bool {
	return address >= a.GPUAddress && address-a.GPUAddress < a.Size
}

// End returns the first address past the allocation.
func (a *Allocation) End() uint64 { return a.GPUAddress + a.Size }

// String implements fmt.Stringer.
func (a *Allocation) String() string {
	return a.Name + "#" + humanize.Comma(int64(a.ID)) + "(" + humanize.IBytes(a.Size) + ")"
}

// PageSize is the granularity of the addresses assigned by Table.Allocate.
const PageSize = 64 * 1024

// Table assigns GPU addresses to allocations and resolves pointers back to them.
//
// It is safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	next   uint64
	nextID AllocationID
	sorted []*Allocation // By GPUAddress.
}

// NewTable creates a table that assigns addresses starting at base.
func NewTable(base uint64) *Table {
	return &Table{next: base, nextID: 1}
}

// Allocate reserves size bytes and returns the new allocation. Consecutive allocations are
// separated by at least one unmapped page, so pointers just past an allocation don't resolve.
func (t *Table) Allocate(name string, size uint64) *Allocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := &Allocation{ID: t.nextID, Name: name, GPUAddress: t.next, Size: size}
	t.nextID++
	t.next += (size+PageSize-1)/PageSize*PageSize + PageSize
	t.sorted = append(t.sorted, a)
	klog.V(2).Infof("allocated %s at 0x%x", a, a.GPUAddress)
	return a
}

// Free removes the allocation from the table.
func (t *Table) Free(a *Allocation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, found := t.search(a.GPUAddress)
	if !found || t.sorted[idx] != a {
		return errors.Wrapf(ErrAllocationLookup, "free of unknown allocation %s", a)
	}
	t.sorted = slices.Delete(t.sorted, idx, idx+1)
	return nil
}

// search returns the index of the last allocation starting at or before address.
func (t *Table) search(address uint64) (int, bool) {
	idx, found := slices.BinarySearchFunc(t.sorted, address, func(a *Allocation, address uint64) int {
		switch {
		case a.GPUAddress < address:
			return -1
		case a.GPUAddress > address:
			return 1
		}
		return 0
	})
	if found {
		return idx, true
	}
	if idx == 0 {
		return 0, false
	}
	return idx - 1, t.sorted[idx-1].Contains(address)
}

// Lookup returns the allocation containing address and the offset of address within it.
func (t *Table) Lookup(address uint64) (*Allocation, uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, found := t.search(address)
	if !found {
		return nil, 0, errors.Wrapf(ErrAllocationLookup, "address 0x%x is not in any allocation", address)
	}
	a := t.sorted[idx]
	return a, address - a.GPUAddress, nil
}

// Len returns the number of allocations.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sorted)
}
