// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mutable

import (
	"fmt"

	"github.com/gomlx/mutablecl/pkg/core/commands"
	"github.com/gomlx/mutablecl/pkg/core/event"
	"github.com/gomlx/mutablecl/pkg/core/memory"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// signalPrimitives are the instructions that signal an event, selected once at record time from
// the event's SignalClass.
type signalPrimitives struct {
	class event.SignalClass

	// SignalTimestamp: the walker post-sync.
	walker commands.Walker

	// SignalDevice.
	storeData *commands.StoreDataImm

	// SignalHost.
	pipeControl *commands.PipeControl

	// SignalCounter: stores of the counter register into device storage and, if any, its host mirror.
	storeCounter, storeHostCounter *commands.StoreRegisterMem
}

func (s *signalPrimitives) describe() []string {
	switch s.class {
	case event.SignalTimestamp:
		return []string{"walker post-sync"}
	case event.SignalDevice:
		return []string{fmt.Sprintf("store_data_imm@%d", s.storeData.Offset())}
	case event.SignalHost:
		return []string{fmt.Sprintf("pipe_control@%d", s.pipeControl.Offset())}
	}
	out := []string{fmt.Sprintf("store_register_mem@%d", s.storeCounter.Offset())}
	if !s.storeHostCounter.IsNoop() {
		out = append(out, fmt.Sprintf("store_register_mem@%d", s.storeHostCounter.Offset()))
	}
	return out
}

// apply rewrites the signal instructions for e, which must be of the recorded class.
func (s *signalPrimitives) apply(e *event.Event) (patches int) {
	switch s.class {
	case event.SignalTimestamp:
		s.walker.SetPostSyncAddress(e.TimestampAddress())
		return 1
	case event.SignalDevice:
		s.storeData.SetAddress(e.CompletionAddress())
		return 1
	case event.SignalHost:
		s.pipeControl.SetPostSyncAddress(e.CompletionAddress())
		return 1
	}
	counter := e.Counter()
	s.storeCounter.SetMemoryAddress(counter.DeviceAddress())
	switch {
	case !counter.HasHostStorage():
		s.storeHostCounter.Noop()
	case s.storeHostCounter.IsNoop():
		s.storeHostCounter.Restore(counter.HostAddress())
	default:
		s.storeHostCounter.SetMemoryAddress(counter.HostAddress())
	}
	return 2
}

// waitDomain is the synchronization domain of a wait: how the semaphore compares.
type waitDomain int

const (
	waitNone waitDomain = iota
	waitFlag
	waitCounter
)

func domainOf(e *event.Event) waitDomain {
	switch {
	case e == nil:
		return waitNone
	case e.IsCounterBased():
		return waitCounter
	default:
		return waitFlag
	}
}

// waitPrimitives are the instructions of one wait slot. All of them are recorded, and only those
// of the current event's domain are active; the others are noop.
type waitPrimitives struct {
	// eventWait waits for a completion flag.
	eventWait *commands.SemaphoreWait

	// counterLoad feeds counterWait on platforms without native 64-bit compare, nil otherwise.
	counterLoad *commands.LoadRegisterImmPair
	counterWait *commands.SemaphoreWait

	// timestampWait waits on the counter recorded with the slot, whose address can't change.
	// Only present if the recorded event was counter-based with timestamps.
	timestampWait    *commands.SemaphoreWait
	timestampCounter *event.InOrderCounter
}

func (w *waitPrimitives) describe() []string {
	var out []string
	add := func(name string, offset int, noop bool) {
		if !noop {
			out = append(out, fmt.Sprintf("%s@%d", name, offset))
		}
	}
	add("semaphore_wait", w.eventWait.Offset(), w.eventWait.IsNoop())
	if w.counterLoad != nil {
		add("load_register_imm_pair", w.counterLoad.Low().Offset(), w.counterLoad.IsNoop())
	}
	add("semaphore_wait(counter)", w.counterWait.Offset(), w.counterWait.IsNoop())
	if w.timestampWait != nil {
		add("semaphore_wait(counter_timestamp)", w.timestampWait.Offset(), w.timestampWait.IsNoop())
	}
	return out
}

func (w *waitPrimitives) noopCounter() {
	if w.counterLoad != nil {
		w.counterLoad.Noop()
	}
	w.counterWait.Noop()
}

// apply switches the slot from waiting on old to waiting on e. Within the same domain only
// addresses and values are edited; across domains the old instructions are noop and the new
// ones restored.
func (w *waitPrimitives) apply(old, e *event.Event) (patches int) {
	oldDomain, newDomain := domainOf(old), domainOf(e)
	switch newDomain {
	case waitNone:
		w.eventWait.Noop()
		w.noopCounter()
		patches = 2

	case waitFlag:
		if oldDomain == waitFlag {
			w.eventWait.SetSemaphoreAddress(e.CompletionAddress())
			patches = 1
		} else {
			w.noopCounter()
			w.eventWait.Restore(e.CompletionAddress(), event.StateCleared)
			patches = 2
		}

	case waitCounter:
		address, value := e.Counter().DeviceAddress(), e.CounterValue()
		if oldDomain == waitCounter {
			if w.counterLoad != nil {
				w.counterLoad.SetValue(value)
			}
			w.counterWait.SetSemaphoreAddress(address)
			w.counterWait.SetSemaphoreValue(value)
			patches = 1
		} else {
			w.eventWait.Noop()
			if w.counterLoad != nil {
				w.counterLoad.Restore(value)
			}
			w.counterWait.Restore(address, value)
			patches = 2
		}
	}

	if w.timestampWait != nil {
		if newDomain == waitCounter && e.HasTimestamp() && e.Counter() == w.timestampCounter {
			if w.timestampWait.IsNoop() {
				w.timestampWait.Restore(w.timestampCounter.DeviceAddress(), e.CounterValue())
			} else {
				w.timestampWait.SetSemaphoreValue(e.CounterValue())
			}
		} else {
			w.timestampWait.Noop()
		}
		patches++
	}
	return patches
}

// SetSignalEvent makes the launch signal e instead of the current event.
//
// The event must be of the same SignalClass as the event recorded with the launch, since the
// signaling instructions were selected for it.
func (v *Variable) SetSignalEvent(e *event.Event) error {
	if v.kind != KindSignalEvent {
		return errors.Wrapf(ErrInvalidArgument, "SetSignalEvent on %s variable %q", v.kind, v.name)
	}
	if e == nil {
		return errors.Wrapf(ErrInvalidArgument, "signal event can't be nil")
	}
	if e.SignalClass() != v.signal.class {
		return errors.Wrapf(ErrInvalidArgument, "signal %s is signaled by %s, the launch was recorded for %s events",
			e, e.SignalClass(), v.signal.class)
	}
	v.cl.swapEventReferences(v.event, e)
	v.event = e
	patches := v.signal.apply(e)
	if v.signal.class == event.SignalTimestamp {
		v.launch.markWalkerDirty(true)
	}
	v.cl.options.Metrics.RecordPatches("signal", patches)
	klog.V(2).Infof("%s: signal event set to %s", v.cl, e)
	return nil
}

// SetWaitEvent makes the wait slot wait on e, or on nothing if e is nil.
func (v *Variable) SetWaitEvent(e *event.Event) error {
	if v.kind != KindWaitEvent {
		return errors.Wrapf(ErrInvalidArgument, "SetWaitEvent on %s variable %q", v.kind, v.name)
	}
	v.setWaitEvent(e)
	return nil
}

func (v *Variable) setWaitEvent(e *event.Event) {
	v.cl.swapEventReferences(v.event, e)
	patches := v.wait.apply(v.event, e)
	v.event = e
	v.cl.options.Metrics.RecordPatches("wait", patches)
	klog.V(2).Infof("%s: wait slot %q set to %s", v.cl, v.name, e)
}

// eventAllocations returns the allocations an event references.
func eventAllocations(e *event.Event) []*memory.Allocation {
	if e == nil {
		return nil
	}
	allocations := allocationsOf(e.Allocation())
	if c := e.Counter(); c != nil && c.HasHostStorage() {
		allocations = append(allocations, c.HostAllocation())
	}
	return allocations
}
