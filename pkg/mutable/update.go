// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mutable

import (
	"github.com/gomlx/mutablecl/pkg/core/commands"
	"github.com/gomlx/mutablecl/pkg/core/event"
	"github.com/gomlx/mutablecl/pkg/core/kernel"
	"github.com/pkg/errors"
)

// lookup returns the mutation record of id, checking that flag was requested for it.
func (cl *CommandList) lookup(id uint64, flag CommandFlags) (*mutationRecord, error) {
	if err := cl.checkUsable(); err != nil {
		return nil, err
	}
	rec, found := cl.records[id]
	if !found {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: unknown command id %d", cl, id)
	}
	if !rec.flags.Has(flag) {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: command id %d is mutable in %s, not in %s",
			cl, id, rec.flags, flag)
	}
	if rec.launch == nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: no kernel launch was appended for command id %d", cl, id)
	}
	return rec, nil
}

// UpdateKernelArgument sets argument argIndex of the launch of command id. The size and value
// follow the same rules as kernel.Kernel.SetArgument: a pointer is given as its little endian
// address (nil for a null pointer), a value by its bytes and an SLM argument by its size with a
// nil value.
func (cl *CommandList) UpdateKernelArgument(id uint64, argIndex, size int, value []byte) (err error) {
	defer func() { cl.options.Metrics.RecordMutation("kernel_argument", err) }()
	rec, err := cl.lookup(id, FlagKernelArguments)
	if err != nil {
		return err
	}
	desc := rec.launch.desc
	state, err := desc.DecodeArgument(argIndex, size, value)
	if err != nil {
		return err
	}
	v := rec.kernelArgs[argIndex]
	switch desc.Args[argIndex].Kind {
	case kernel.ArgPointer:
		return v.SetBufferVariable(state.Address)
	case kernel.ArgValue:
		return v.SetValue(state.Value)
	default:
		return v.SetSLMBufferVariable(state.SLMSize)
	}
}

// UpdateGroupCount sets the number of work-groups of the launch of command id.
func (cl *CommandList) UpdateGroupCount(id uint64, x, y, z uint32) (err error) {
	defer func() { cl.options.Metrics.RecordMutation("group_count", err) }()
	rec, err := cl.lookup(id, FlagGroupCount)
	if err != nil {
		return err
	}
	return rec.groupCount.SetGroupCountVariable([3]uint32{x, y, z})
}

// UpdateGroupSize sets the number of work-items per group of the launch of command id.
func (cl *CommandList) UpdateGroupSize(id uint64, x, y, z uint32) (err error) {
	defer func() { cl.options.Metrics.RecordMutation("group_size", err) }()
	rec, err := cl.lookup(id, FlagGroupSize)
	if err != nil {
		return err
	}
	return rec.groupSize.SetGroupSizeVariable([3]uint32{x, y, z})
}

// UpdateGlobalOffset sets the global offset of the launch of command id.
func (cl *CommandList) UpdateGlobalOffset(id uint64, x, y, z uint32) (err error) {
	defer func() { cl.options.Metrics.RecordMutation("global_offset", err) }()
	rec, err := cl.lookup(id, FlagGlobalOffset)
	if err != nil {
		return err
	}
	return rec.globalOffset.SetGlobalOffsetVariable([3]uint32{x, y, z})
}

// UpdateSignalEvent makes the launch of command id signal e. The event must be signaled the same
// way (see event.SignalClass) as the one the launch was recorded with.
func (cl *CommandList) UpdateSignalEvent(id uint64, e *event.Event) (err error) {
	defer func() { cl.options.Metrics.RecordMutation("signal_event", err) }()
	rec, err := cl.lookup(id, FlagSignalEvent)
	if err != nil {
		return err
	}
	return rec.signal.SetSignalEvent(e)
}

// UpdateWaitEvents makes the wait slots of the launch of command id wait on events, in order.
// Nil events disable their slot. Slots beyond len(events) are left untouched, and more events
// than recorded slots is an error.
func (cl *CommandList) UpdateWaitEvents(id uint64, events ...*event.Event) (err error) {
	defer func() { cl.options.Metrics.RecordMutation("wait_events", err) }()
	rec, err := cl.lookup(id, FlagWaitEvents)
	if err != nil {
		return err
	}
	if len(events) > len(rec.waits) {
		return errors.Wrapf(ErrInvalidArgument, "%s: command id %d was recorded with %d wait events, %d given",
			cl, id, len(rec.waits), len(events))
	}
	for i, e := range events {
		if err := rec.waits[i].SetWaitEvent(e); err != nil {
			return err
		}
	}
	return nil
}

// Mutation is one edit of a chain given to UpdateMutableCommands.
type Mutation interface {
	// CommandID the mutation applies to.
	CommandID() uint64

	flag() CommandFlags
	apply(cl *CommandList) error
}

// KernelArgumentMutation edits an argument, see CommandList.UpdateKernelArgument.
type KernelArgumentMutation struct {
	ID       uint64
	ArgIndex int
	Size     int
	Value    []byte
}

// GroupCountMutation edits the group count, see CommandList.UpdateGroupCount.
type GroupCountMutation struct {
	ID         uint64
	GroupCount [3]uint32
}

// GroupSizeMutation edits the group size, see CommandList.UpdateGroupSize.
type GroupSizeMutation struct {
	ID        uint64
	GroupSize [3]uint32
}

// GlobalOffsetMutation edits the global offset, see CommandList.UpdateGlobalOffset.
type GlobalOffsetMutation struct {
	ID           uint64
	GlobalOffset [3]uint32
}

// SignalEventMutation edits the signal event, see CommandList.UpdateSignalEvent.
type SignalEventMutation struct {
	ID    uint64
	Event *event.Event
}

// WaitEventsMutation edits the wait events, see CommandList.UpdateWaitEvents.
type WaitEventsMutation struct {
	ID     uint64
	Events []*event.Event
}

func (m KernelArgumentMutation) CommandID() uint64 { return m.ID }
func (m GroupCountMutation) CommandID() uint64     { return m.ID }
func (m GroupSizeMutation) CommandID() uint64      { return m.ID }
func (m GlobalOffsetMutation) CommandID() uint64   { return m.ID }
func (m SignalEventMutation) CommandID() uint64    { return m.ID }
func (m WaitEventsMutation) CommandID() uint64     { return m.ID }

func (m KernelArgumentMutation) flag() CommandFlags { return FlagKernelArguments }
func (m GroupCountMutation) flag() CommandFlags     { return FlagGroupCount }
func (m GroupSizeMutation) flag() CommandFlags      { return FlagGroupSize }
func (m GlobalOffsetMutation) flag() CommandFlags   { return FlagGlobalOffset }
func (m SignalEventMutation) flag() CommandFlags    { return FlagSignalEvent }
func (m WaitEventsMutation) flag() CommandFlags     { return FlagWaitEvents }

func (m KernelArgumentMutation) apply(cl *CommandList) error {
	return cl.UpdateKernelArgument(m.ID, m.ArgIndex, m.Size, m.Value)
}

func (m GroupCountMutation) apply(cl *CommandList) error {
	return cl.UpdateGroupCount(m.ID, m.GroupCount[0], m.GroupCount[1], m.GroupCount[2])
}

func (m GroupSizeMutation) apply(cl *CommandList) error {
	return cl.UpdateGroupSize(m.ID, m.GroupSize[0], m.GroupSize[1], m.GroupSize[2])
}

func (m GlobalOffsetMutation) apply(cl *CommandList) error {
	return cl.UpdateGlobalOffset(m.ID, m.GlobalOffset[0], m.GlobalOffset[1], m.GlobalOffset[2])
}

func (m SignalEventMutation) apply(cl *CommandList) error { return cl.UpdateSignalEvent(m.ID, m.Event) }

func (m WaitEventsMutation) apply(cl *CommandList) error {
	return cl.UpdateWaitEvents(m.ID, m.Events...)
}

// UpdateMutableCommands applies a chain of mutations.
//
// The command ids and categories of the whole chain are checked first, and nothing is applied if
// any is invalid. Then every mutation is applied in order, each independently: a mutation that
// fails (e.g. a pointer that doesn't resolve) leaves the ones before and after it applied, and
// the first error is returned.
func (cl *CommandList) UpdateMutableCommands(mutations ...Mutation) error {
	for _, m := range mutations {
		if _, err := cl.lookup(m.CommandID(), m.flag()); err != nil {
			return err
		}
	}
	var firstErr error
	for _, m := range mutations {
		if err := m.apply(cl); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Variables returns the variables of the launch of command id: the kernel arguments, dimensions,
// signal and wait events of the categories that are mutable.
func (cl *CommandList) Variables(id uint64) ([]*Variable, error) {
	rec, found := cl.records[id]
	if !found || rec.launch == nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: unknown command id %d", cl, id)
	}
	return rec.variables(), nil
}

// Dispatch returns the VariableDispatch of the launch of command id.
func (cl *CommandList) Dispatch(id uint64) (*VariableDispatch, error) {
	rec, found := cl.records[id]
	if !found || rec.launch == nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: unknown command id %d", cl, id)
	}
	return rec.launch.dispatch, nil
}

// Walker returns the walker of the launch of command id.
func (cl *CommandList) Walker(id uint64) (commands.Walker, error) {
	rec, found := cl.records[id]
	if !found || rec.launch == nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s: unknown command id %d", cl, id)
	}
	return rec.launch.walker, nil
}

// ReadPayload returns size bytes of the launch payload at the descriptor offset, reading from the
// walker inline data and the cross-thread data as needed.
func (d *VariableDispatch) ReadPayload(offset, size int) []byte {
	return d.launch.payload.read(offset, size)
}

// CrossThreadData returns the cross-thread data of the launch in the indirect heap.
func (d *VariableDispatch) CrossThreadData() []byte {
	return d.launch.payload.crossThread
}
