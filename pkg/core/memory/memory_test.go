// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableLookup(t *testing.T) {
	table := NewTable(0x1_0000_0000)
	a := table.Allocate("a", 1000)
	b := table.Allocate("b", 3*PageSize)
	require.Equal(t, 2, table.Len())
	assert.Greater(t, b.GPUAddress, a.End()+PageSize-1, "allocations are separated by a gap")

	got, offset, err := table.Lookup(a.GPUAddress + 10)
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Equal(t, uint64(10), offset)

	got, offset, err = table.Lookup(b.GPUAddress)
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.Zero(t, offset)

	_, _, err = table.Lookup(a.End())
	require.ErrorIs(t, err, ErrAllocationLookup)
	_, _, err = table.Lookup(0x10)
	require.ErrorIs(t, err, ErrAllocationLookup)

	require.NoError(t, table.Free(a))
	_, _, err = table.Lookup(a.GPUAddress)
	require.ErrorIs(t, err, ErrAllocationLookup)
	require.ErrorIs(t, table.Free(a), ErrAllocationLookup)
	assert.Contains(t, b.String(), "b#2")
}

func TestResidencyTracker(t *testing.T) {
	r := NewResidencyTracker()
	r.AddRef(1)
	r.AddRef(1)
	r.AddRef(3)
	assert.Equal(t, 2, r.RefCount(1))
	assert.Equal(t, []AllocationID{1, 3}, r.Resident())

	r.RemoveRef(1)
	r.RemoveRef(1)
	assert.Zero(t, r.RefCount(1))
	assert.Equal(t, []AllocationID{3}, r.Resident())
	assert.Panics(t, func() { r.RemoveRef(1) })
}
