// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/gomlx/mutablecl/internal/metrics"
	"github.com/gomlx/mutablecl/pkg/core/event"
	"github.com/gomlx/mutablecl/pkg/core/kernel"
	"github.com/gomlx/mutablecl/pkg/core/memory"
	"github.com/gomlx/mutablecl/pkg/mutable"
	"github.com/gomlx/mutablecl/platform"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
)

// eventStorageStride is the space given to each event in the events allocation.
const eventStorageStride = 64

// Session holds the command list built from a Scenario.
type Session struct {
	Scenario *Scenario
	Platform platform.Platform
	Kernel   *kernel.Kernel
	List     *mutable.CommandList
	Tracker  *memory.ResidencyTracker
	Registry *prometheus.Registry
	ID       uint64

	table   *memory.Table
	buffers map[string]*memory.Allocation
	events  map[string]*event.Event
}

// NewSession allocates the buffers and events of the scenario, and records its launch.
func NewSession(s *Scenario) (*Session, error) {
	desc, err := kernel.LoadDescriptor(s.KernelPath())
	if err != nil {
		return nil, err
	}
	sess := &Session{
		Scenario: s,
		Platform: platform.NewWithConfig(s.Platform),
		Tracker:  memory.NewResidencyTracker(),
		Registry: prometheus.NewRegistry(),
		table:    memory.NewTable(0x1_0000_0000),
		buffers:  make(map[string]*memory.Allocation),
		events:   make(map[string]*event.Event),
	}
	for _, b := range s.Buffers {
		sess.buffers[b.Name] = sess.table.Allocate(b.Name, b.Size)
	}
	sess.createEvents(s.Events)
	sess.List = mutable.New(sess.Platform, sess.table, sess.Tracker, mutable.Options{
		Name:        desc.Name,
		StageCommit: s.StageCommit,
		Metrics:     metrics.New(sess.Registry),
	})

	sess.Kernel = kernel.New(desc, sess.table.Allocate(desc.Name+"/isa", 4096).GPUAddress)
	for _, arg := range s.Launch.Args {
		index, size, value, err := sess.argument(arg)
		if err != nil {
			return nil, err
		}
		if err := sess.Kernel.SetArgument(index, size, value); err != nil {
			return nil, err
		}
	}
	gs := s.Launch.GroupSize
	if err := sess.Kernel.SetGroupSize(gs[0], gs[1], gs[2]); err != nil {
		return nil, err
	}

	signal, err := sess.event(s.Launch.Signal)
	if err != nil {
		return nil, err
	}
	waits, err := sess.eventList(s.Launch.Waits)
	if err != nil {
		return nil, err
	}
	sess.ID, err = sess.List.GetNextCommandID(parseFlags(s.Launch.Flags))
	if err != nil {
		return nil, err
	}
	if err := sess.List.AppendLaunchKernel(sess.Kernel, s.Launch.GroupCount, signal, waits...); err != nil {
		return nil, err
	}
	return sess, nil
}

func (sess *Session) createEvents(specs []EventSpec) {
	storage := sess.table.Allocate("events", uint64(max(len(specs), 1))*eventStorageStride)
	counters := make(map[string]*event.InOrderCounter)
	for i, spec := range specs {
		if spec.Counter == "" {
			sess.events[spec.Name] = event.New(spec.Name, storage, uint64(i)*eventStorageStride, spec.scope(), spec.Timestamp)
			continue
		}
		counter, found := counters[spec.Counter]
		if !found {
			device := sess.table.Allocate(spec.Counter, 8)
			var host *memory.Allocation
			if spec.HostMirror {
				host = sess.table.Allocate(spec.Counter+"/host", 8)
			}
			counter = event.NewInOrderCounter(device, 0, host, 0)
			counters[spec.Counter] = counter
		}
		var timestamps *memory.Allocation
		if spec.Timestamp {
			timestamps = sess.table.Allocate(spec.Name+"/timestamp", eventStorageStride)
		}
		sess.events[spec.Name] = event.NewCounterBased(spec.Name, counter, spec.Value, timestamps)
	}
}

// event returns the event named name, nil for "" or "none".
func (sess *Session) event(name string) (*event.Event, error) {
	if name == "" || name == "none" {
		return nil, nil
	}
	e, found := sess.events[name]
	if !found {
		return nil, errors.Errorf("unknown event %q", name)
	}
	return e, nil
}

func (sess *Session) eventList(names []string) ([]*event.Event, error) {
	events := make([]*event.Event, len(names))
	for i, name := range names {
		var err error
		if events[i], err = sess.event(name); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (sess *Session) argument(arg ArgSpec) (index, size int, value []byte, err error) {
	index = sess.Kernel.Descriptor().ArgIndex(arg.Name)
	if index < 0 {
		return 0, 0, nil, errors.Errorf("kernel %q has no argument %q", sess.Kernel.Name(), arg.Name)
	}
	addresses := make(map[string]uint64, len(sess.buffers))
	for name, a := range sess.buffers {
		addresses[name] = a.GPUAddress
	}
	size, value, err = arg.encode(addresses)
	return
}

// Apply applies one mutation step as a single chain, and closes the command list if requested.
func (sess *Session) Apply(step MutationSpec) error {
	var chain []mutable.Mutation
	for _, arg := range step.Args {
		index, size, value, err := sess.argument(arg)
		if err != nil {
			return err
		}
		chain = append(chain, mutable.KernelArgumentMutation{ID: sess.ID, ArgIndex: index, Size: size, Value: value})
	}
	if step.GroupCount != nil {
		chain = append(chain, mutable.GroupCountMutation{ID: sess.ID, GroupCount: *step.GroupCount})
	}
	if step.GroupSize != nil {
		chain = append(chain, mutable.GroupSizeMutation{ID: sess.ID, GroupSize: *step.GroupSize})
	}
	if step.GlobalOffset != nil {
		chain = append(chain, mutable.GlobalOffsetMutation{ID: sess.ID, GlobalOffset: *step.GlobalOffset})
	}
	if step.Signal != "" {
		e, err := sess.event(step.Signal)
		if err != nil {
			return err
		}
		chain = append(chain, mutable.SignalEventMutation{ID: sess.ID, Event: e})
	}
	if step.Waits != nil {
		events, err := sess.eventList(step.Waits)
		if err != nil {
			return err
		}
		chain = append(chain, mutable.WaitEventsMutation{ID: sess.ID, Events: events})
	}
	if err := sess.List.UpdateMutableCommands(chain...); err != nil {
		return err
	}
	if step.Close {
		return sess.List.Close()
	}
	return nil
}

// Run applies all the mutation steps, calling report after recording and after each step.
// Failed steps are reported and the following steps still run.
func (sess *Session) Run(report func(title string, err error)) {
	report("recorded", nil)
	for i, step := range sess.Scenario.Mutations {
		title := step.Name
		if title == "" {
			title = fmt.Sprintf("mutation #%d", i+1)
		}
		err := sess.Apply(step)
		if err != nil {
			klog.Warningf("%s failed: %+v", title, err)
		}
		report(title, err)
	}
}
