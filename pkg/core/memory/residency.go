// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package memory

import (
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// Registry counts the references command lists hold on allocations. An allocation must be
// resident while its count is positive.
type Registry interface {
	AddRef(id AllocationID)
	RemoveRef(id AllocationID)
}

// ResidencyTracker is a Registry that keeps the counts in memory.
//
// It is safe for concurrent use, since allocations may be shared by command lists used from
// different goroutines.
type ResidencyTracker struct {
	mu     sync.Mutex
	counts map[AllocationID]int
}

var _ Registry = (*ResidencyTracker)(nil)

// NewResidencyTracker creates an empty tracker.
func NewResidencyTracker() *ResidencyTracker {
	return &ResidencyTracker{counts: make(map[AllocationID]int)}
}

// AddRef implements Registry.
func (r *ResidencyTracker) AddRef(id AllocationID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[id]++
	if r.counts[id] == 1 {
		klog.V(2).Infof("allocation #%d made resident", id)
	}
}

// RemoveRef implements Registry. It panics if the allocation has no references: that is a
// counting bug in the caller.
func (r *ResidencyTracker) RemoveRef(id AllocationID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count, found := r.counts[id]
	if !found {
		exceptions.Panicf("ResidencyTracker.RemoveRef(#%d): allocation has no references", id)
	}
	if count == 1 {
		delete(r.counts, id)
		klog.V(2).Infof("allocation #%d no longer resident", id)
		return
	}
	r.counts[id] = count - 1
}

// RefCount returns the current number of references to id.
func (r *ResidencyTracker) RefCount(id AllocationID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[id]
}

// Resident returns the ids with at least one reference, sorted.
func (r *ResidencyTracker) Resident() []AllocationID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.counts))
}
