// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"encoding/binary"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// ArgState is the value currently set for one argument.
type ArgState struct {
	// Set is false until the argument is given a value.
	Set bool

	// Address of an ArgPointer, 0 for a null pointer.
	Address uint64

	// Value of an ArgValue, Arg.ValueSize() bytes.
	Value []byte

	// SLMSize of an ArgSLM.
	SLMSize uint32
}

// Kernel is a Descriptor plus the state set for its next launch.
//
// It is not safe for concurrent use.
type Kernel struct {
	desc         *Descriptor
	isaAddress   uint64
	args         []ArgState
	groupSize    [3]uint32
	globalOffset [3]uint32
}

// New creates a Kernel whose instructions start at isaAddress. The group size starts as (1, 1, 1).
func New(desc *Descriptor, isaAddress uint64) *Kernel {
	return &Kernel{
		desc:       desc,
		isaAddress: isaAddress,
		args:       make([]ArgState, len(desc.Args)),
		groupSize:  [3]uint32{1, 1, 1},
	}
}

// Descriptor of the kernel.
func (k *Kernel) Descriptor() *Descriptor { return k.desc }

// Name of the kernel.
func (k *Kernel) Name() string { return k.desc.Name }

// ISAAddress is the GPU address of the kernel instructions.
func (k *Kernel) ISAAddress() uint64 { return k.isaAddress }

// NumArgs returns the number of arguments.
func (k *Kernel) NumArgs() int { return len(k.args) }

// Arg returns the current state of argument index.
func (k *Kernel) Arg(index int) ArgState { return k.args[index] }

// SetArgument sets argument index from its raw value, with the semantics of DecodeArgument.
func (k *Kernel) SetArgument(index, size int, value []byte) error {
	state, err := k.desc.DecodeArgument(index, size, value)
	if err != nil {
		return err
	}
	k.args[index] = state
	return nil
}

// CheckArgumentsSet returns an error if any argument was not set.
func (k *Kernel) CheckArgumentsSet() error {
	for i, arg := range k.args {
		if !arg.Set {
			return errors.Wrapf(ErrInvalidArgument, "kernel %q: argument #%d (%s) not set", k.desc.Name, i, k.desc.Args[i].Name)
		}
	}
	return nil
}

// SetGroupSize sets the number of work-items of each work-group.
func (k *Kernel) SetGroupSize(x, y, z uint32) error {
	groupSize := [3]uint32{x, y, z}
	if err := k.desc.ValidateGroupSize(groupSize); err != nil {
		return err
	}
	k.groupSize = groupSize
	return nil
}

// GroupSize returns the current group size.
func (k *Kernel) GroupSize() [3]uint32 { return k.groupSize }

// SetGlobalOffset sets the offset of the global ids of the next launch.
func (k *Kernel) SetGlobalOffset(x, y, z uint32) { k.globalOffset = [3]uint32{x, y, z} }

// GlobalOffset returns the current global offset.
func (k *Kernel) GlobalOffset() [3]uint32 { return k.globalOffset }

// SLMSizes returns the SLM size set for each argument (0 for arguments other than ArgSLM).
func (k *Kernel) SLMSizes() []uint32 {
	sizes := make([]uint32, len(k.args))
	for i, arg := range k.args {
		sizes[i] = arg.SLMSize
	}
	return sizes
}

// ValidateGroupSize checks that every dimension is positive and the total fits the kernel.
func (d *Descriptor) ValidateGroupSize(groupSize [3]uint32) error {
	total := uint64(1)
	for axis, size := range groupSize {
		if size == 0 {
			return errors.Wrapf(ErrInvalidArgument, "kernel %q: group size %v has a zero dimension %d", d.Name, groupSize, axis)
		}
		total *= uint64(size)
	}
	if total > uint64(d.MaxWorkGroupSize) {
		return errors.Wrapf(ErrInvalidArgument, "kernel %q: group size %v (%d work-items) exceeds the maximum of %d",
			d.Name, groupSize, total, d.MaxWorkGroupSize)
	}
	return nil
}

// DecodeArgument validates a raw argument value and returns its state:
//
//   - ArgPointer: value holds the address in little endian (size 4 or 8 bytes), or is nil for a
//     null pointer if the argument is nullable.
//   - ArgValue: value holds size bytes, at most the argument size. Shorter values are zero extended.
//   - ArgSLM: value must be nil, and size is the SLM size in bytes.
func (d *Descriptor) DecodeArgument(index, size int, value []byte) (ArgState, error) {
	if index < 0 || index >= len(d.Args) {
		return ArgState{}, errors.Wrapf(ErrInvalidArgument, "kernel %q: argument index %d out of range (%d arguments)",
			d.Name, index, len(d.Args))
	}
	arg := &d.Args[index]
	if size < 0 || (value != nil && len(value) < size) {
		return ArgState{}, errors.Wrapf(ErrInvalidArgument, "kernel %q: argument #%d (%s) given size %d but %d bytes",
			d.Name, index, arg.Name, size, len(value))
	}
	switch arg.Kind {
	case ArgPointer:
		if value == nil {
			if !arg.Nullable {
				return ArgState{}, errors.Wrapf(ErrInvalidArgument, "kernel %q: argument #%d (%s) is not nullable",
					d.Name, index, arg.Name)
			}
			return ArgState{Set: true}, nil
		}
		var address uint64
		switch size {
		case 4:
			address = uint64(binary.LittleEndian.Uint32(value))
		case 8:
			address = binary.LittleEndian.Uint64(value)
		default:
			return ArgState{}, errors.Wrapf(ErrInvalidArgument, "kernel %q: pointer argument #%d (%s) given %d bytes",
				d.Name, index, arg.Name, size)
		}
		if arg.PointerBytes() == 4 && address > math.MaxUint32 {
			return ArgState{}, errors.Wrapf(ErrInvalidArgument, "kernel %q: address 0x%x doesn't fit the 32-bit pointer argument #%d (%s)",
				d.Name, address, index, arg.Name)
		}
		return ArgState{Set: true, Address: address}, nil

	case ArgValue:
		argSize := arg.ValueSize()
		if value == nil || size > argSize {
			return ArgState{}, errors.Wrapf(ErrInvalidArgument, "kernel %q: value argument #%d (%s) given %s, it takes %s",
				d.Name, index, arg.Name, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(argSize)))
		}
		state := ArgState{Set: true, Value: make([]byte, argSize)}
		copy(state.Value, value[:size])
		return state, nil

	case ArgSLM:
		if value != nil {
			return ArgState{}, errors.Wrapf(ErrInvalidArgument, "kernel %q: SLM argument #%d (%s) takes no value",
				d.Name, index, arg.Name)
		}
		if uint64(size) > math.MaxUint32 {
			return ArgState{}, errors.Wrapf(ErrInvalidArgument, "kernel %q: SLM argument #%d (%s) of %s is too large",
				d.Name, index, arg.Name, humanize.IBytes(uint64(size)))
		}
		return ArgState{Set: true, SLMSize: uint32(size)}, nil
	}
	return ArgState{}, errors.Wrapf(ErrInvalidArgument, "kernel %q: argument #%d has unknown kind %q", d.Name, index, arg.Kind)
}

// SLMLayout returns the SLM offset assigned to each ArgSLM (indexed like Args, 0 for the other
// kinds) given their sizes, and the total SLM size of a group including the static SLM.
//
// SLM arguments are laid out in order after the static SLM, each aligned to its alignment.
func (d *Descriptor) SLMLayout(sizes []uint32) (offsets []uint32, total uint32) {
	offsets = make([]uint32, len(d.Args))
	total = d.StaticSLMSize
	for i := range d.Args {
		arg := &d.Args[i]
		if arg.Kind != ArgSLM {
			continue
		}
		align := arg.Alignment()
		total = (total + align - 1) &^ (align - 1)
		offsets[i] = total
		total += sizes[i]
	}
	return
}
