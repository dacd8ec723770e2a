// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package event models the synchronization events a command list signals and waits on.
//
// A regular event completes by writing StateSignaled to its completion flag. A counter-based
// event completes when the in-order counter it's bound to reaches the event's counter value.
// Counters are shared by command lists, and are reference counted.
package event

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/mutablecl/pkg/core/memory"
)

// Completion flag states.
const (
	StateSignaled uint64 = 0
	StateCleared  uint64 = 1
)

// Scope of the signal: who must observe it.
type Scope int

const (
	// ScopeDevice events are only waited on by the device: a plain store is enough.
	ScopeDevice Scope = iota

	// ScopeHost events are observed by the host: caches are flushed before the signal.
	ScopeHost
)

// String implements fmt.Stringer.
func (s Scope) String() string {
	switch s {
	case ScopeDevice:
		return "device"
	case ScopeHost:
		return "host"
	}
	return fmt.Sprintf("Scope(%d)", int(s))
}

// SignalClass is the mechanism used to signal an event. It determines which instructions are
// recorded to signal it, and can't change once recorded.
type SignalClass int

const (
	// SignalDevice: a store immediate of the completion flag.
	SignalDevice SignalClass = iota

	// SignalHost: a pipe control that flushes caches and writes the completion flag.
	SignalHost

	// SignalTimestamp: the walker post-sync writes the timestamp packet.
	SignalTimestamp

	// SignalCounter: stores of the in-order counter register into the counter storage.
	SignalCounter
)

var signalClassNames = [...]string{
	SignalDevice:    "device",
	SignalHost:      "host",
	SignalTimestamp: "timestamp",
	SignalCounter:   "counter",
}

// String implements fmt.Stringer.
func (c SignalClass) String() string {
	if c < 0 || int(c) >= len(signalClassNames) {
		return fmt.Sprintf("SignalClass(%d)", int(c))
	}
	return signalClassNames[c]
}

// Sizes of the event storage.
const (
	completionSize = 8
	timestampSize  = 32

	// StorageSize is the space an event with timestamps takes in its allocation.
	StorageSize = completionSize + timestampSize
)

// Event is a synchronization event.
type Event struct {
	name              string
	allocation        *memory.Allocation
	completionAddress uint64
	timestampAddress  uint64
	scope             Scope

	counter      *InOrderCounter
	counterValue uint64
}

// New creates a regular event whose storage is at offset of allocation. If timestamp is set the
// event also records a timestamp packet right after its completion flag.
func New(name string, allocation *memory.Allocation, offset uint64, scope Scope, timestamp bool) *Event {
	size := uint64(completionSize)
	if timestamp {
		size = StorageSize
	}
	if offset+size > allocation.Size {
		exceptions.Panicf("event %q: storage [%d, %d) out of allocation %s", name, offset, offset+size, allocation)
	}
	e := &Event{
		name:              name,
		allocation:        allocation,
		completionAddress: allocation.GPUAddress + offset,
		scope:             scope,
	}
	if timestamp {
		e.timestampAddress = e.completionAddress + completionSize
	}
	return e
}

// NewCounterBased creates an event that completes when counter reaches value. If timestamps is
// not nil, the event also records a timestamp packet at the start of it.
func NewCounterBased(name string, counter *InOrderCounter, value uint64, timestamps *memory.Allocation) *Event {
	e := &Event{
		name:         name,
		scope:        ScopeHost,
		counter:      counter,
		counterValue: value,
		allocation:   counter.Allocation(),
	}
	if timestamps != nil {
		if timestamps.Size < timestampSize {
			exceptions.Panicf("event %q: timestamp allocation %s too small", name, timestamps)
		}
		e.timestampAddress = timestamps.GPUAddress
	}
	return e
}

// Name of the event, for messages.
func (e *Event) Name() string { return e.name }

// String implements fmt.Stringer.
func (e *Event) String() string {
	if e == nil {
		return "<nil event>"
	}
	if e.counter != nil {
		return fmt.Sprintf("event %q (counter 0x%x >= %d)", e.name, e.counter.DeviceAddress(), e.counterValue)
	}
	return fmt.Sprintf("event %q (0x%x)", e.name, e.completionAddress)
}

// Allocation backing the event storage (the counter allocation for counter-based events).
func (e *Event) Allocation() *memory.Allocation { return e.allocation }

// CompletionAddress is the address of the completion flag, 0 for counter-based events.
func (e *Event) CompletionAddress() uint64 { return e.completionAddress }

// HasTimestamp returns whether the event records a timestamp packet.
func (e *Event) HasTimestamp() bool { return e.timestampAddress != 0 }

// TimestampAddress is the address of the timestamp packet, 0 if none.
func (e *Event) TimestampAddress() uint64 { return e.timestampAddress }

// Scope of the signal.
func (e *Event) Scope() Scope { return e.scope }

// IsCounterBased returns whether the event is bound to an in-order counter.
func (e *Event) IsCounterBased() bool { return e.counter != nil }

// Counter the event is bound to, nil for regular events.
func (e *Event) Counter() *InOrderCounter { return e.counter }

// CounterValue the counter must reach for the event to be complete.
func (e *Event) CounterValue() uint64 { return e.counterValue }

// SignalClass returns how the event is signaled.
func (e *Event) SignalClass() SignalClass {
	switch {
	case e.counter != nil:
		return SignalCounter
	case e.timestampAddress != 0:
		return SignalTimestamp
	case e.scope == ScopeHost:
		return SignalHost
	default:
		return SignalDevice
	}
}

// InOrderCounter is the device counter of an in-order command list, optionally mirrored into
// host visible storage.
//
// Reference counting is atomic: counters are shared by command lists that may be used from
// different goroutines.
type InOrderCounter struct {
	allocation     *memory.Allocation
	hostAllocation *memory.Allocation
	deviceAddress  uint64
	hostAddress    uint64
	refs           atomic.Int64
}

// NewInOrderCounter creates a counter stored at deviceOffset of device, mirrored at hostOffset of
// host if host is not nil. It starts with one reference, owned by the caller.
func NewInOrderCounter(device *memory.Allocation, deviceOffset uint64, host *memory.Allocation, hostOffset uint64) *InOrderCounter {
	if deviceOffset+8 > device.Size {
		exceptions.Panicf("in-order counter: offset %d out of allocation %s", deviceOffset, device)
	}
	c := &InOrderCounter{allocation: device, deviceAddress: device.GPUAddress + deviceOffset}
	if host != nil {
		if hostOffset+8 > host.Size {
			exceptions.Panicf("in-order counter: host offset %d out of allocation %s", hostOffset, host)
		}
		c.hostAllocation = host
		c.hostAddress = host.GPUAddress + hostOffset
	}
	c.refs.Store(1)
	return c
}

// Allocation holding the device counter.
func (c *InOrderCounter) Allocation() *memory.Allocation { return c.allocation }

// HostAllocation holding the host mirror, nil if none.
func (c *InOrderCounter) HostAllocation() *memory.Allocation { return c.hostAllocation }

// DeviceAddress of the counter.
func (c *InOrderCounter) DeviceAddress() uint64 { return c.deviceAddress }

// HostAddress of the mirror, 0 if none.
func (c *InOrderCounter) HostAddress() uint64 { return c.hostAddress }

// HasHostStorage returns whether the counter is mirrored in host storage.
func (c *InOrderCounter) HasHostStorage() bool { return c.hostAllocation != nil }

// Retain adds a reference.
func (c *InOrderCounter) Retain() { c.refs.Add(1) }

// Release drops a reference and returns the remaining count. It panics if released more than retained.
func (c *InOrderCounter) Release() int64 {
	remaining := c.refs.Add(-1)
	if remaining < 0 {
		exceptions.Panicf("in-order counter at 0x%x released more times than retained", c.deviceAddress)
	}
	return remaining
}

// RefCount returns the current number of references.
func (c *InOrderCounter) RefCount() int64 { return c.refs.Load() }
