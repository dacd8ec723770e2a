// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernel holds the static layout of a compiled kernel (its Descriptor) and the
// per-kernel state set before a launch is appended: argument values, group size and global offset.
//
// Descriptors are produced by the kernel compiler. This package only consumes them: it never
// computes where an argument lands in the payload, it reads it from the descriptor.
package kernel

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidArgument is returned (wrapped) for invalid argument values, sizes or dimensions.
var ErrInvalidArgument = errors.New("invalid argument")

// Offset is a byte offset in the kernel payload. Undefined means the kernel doesn't use the field.
type Offset int32

// Undefined offset: the field is not present in the payload.
const Undefined Offset = -1

// IsDefined returns whether the offset points to a field in the payload.
func (o Offset) IsDefined() bool { return o >= 0 }

// ArgKind is the kind of kernel argument.
type ArgKind string

const (
	// ArgPointer is a stateless pointer to a buffer.
	ArgPointer ArgKind = "pointer"

	// ArgValue is a scalar or struct passed by value.
	ArgValue ArgKind = "value"

	// ArgSLM is a pointer to shared local memory, whose size is set per launch.
	ArgSLM ArgKind = "slm"
)

// Element is one contiguous piece of a by-value argument: Size bytes taken from SourceOffset of
// the argument value, written at Offset in the payload.
type Element struct {
	Offset       Offset `yaml:"offset" validate:"gte=0"`
	Size         int    `yaml:"size" validate:"oneof=1 2 4 8 16 32 64"`
	SourceOffset int    `yaml:"source_offset" validate:"gte=0"`
}

// Arg describes where one argument is encoded in the payload.
type Arg struct {
	Name string  `yaml:"name"`
	Kind ArgKind `yaml:"kind" validate:"required,oneof=pointer value slm"`

	// Offset of the pointer (ArgPointer) or of the SLM offset (ArgSLM).
	Offset Offset `yaml:"offset" validate:"gte=-1"`

	// PointerSize is 8 or 4 bytes, for ArgPointer. Zero means 8.
	PointerSize int `yaml:"pointer_size" validate:"omitempty,oneof=4 8"`

	// BufferOffset is the optional slot that receives the offset of the pointer within its allocation.
	BufferOffset Offset `yaml:"buffer_offset" validate:"gte=-1"`

	// Nullable pointers accept a nil value.
	Nullable bool `yaml:"nullable"`

	// Size of a by-value argument. If zero, it's derived from the elements.
	Size int `yaml:"size" validate:"gte=0"`

	// Elements of a by-value argument.
	Elements []Element `yaml:"elements" validate:"dive"`

	// SLMAlignment of an ArgSLM, in bytes. Zero means 16.
	SLMAlignment uint32 `yaml:"slm_alignment"`
}

// PointerBytes returns the size of the pointer slot of an ArgPointer.
func (a *Arg) PointerBytes() int {
	if a.PointerSize == 0 {
		return 8
	}
	return a.PointerSize
}

// Alignment returns the SLM alignment of an ArgSLM.
func (a *Arg) Alignment() uint32 {
	if a.SLMAlignment == 0 {
		return 16
	}
	return a.SLMAlignment
}

// UnmarshalYAML fills in the defaults of fields not present in the document.
func (a *Arg) UnmarshalYAML(node *yaml.Node) error {
	type plain Arg
	p := plain{Offset: Undefined, BufferOffset: Undefined}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*a = Arg(p)
	return nil
}

// ValueSize returns the size of a by-value argument.
func (a *Arg) ValueSize() int {
	if a.Size > 0 {
		return a.Size
	}
	size := 0
	for _, e := range a.Elements {
		size = max(size, e.SourceOffset+e.Size)
	}
	return size
}

// IsChunked returns whether a by-value argument is split in more than one payload location, or
// is not written contiguously from its start.
func (a *Arg) IsChunked() bool {
	return len(a.Elements) > 1 || (len(a.Elements) == 1 && a.Elements[0].SourceOffset != 0)
}

// DispatchTraits holds the payload offsets of the implicit arguments derived from the launch
// dimensions.
type DispatchTraits struct {
	GlobalWorkSize        [3]Offset `yaml:"global_work_size"`
	LocalWorkSize         [3]Offset `yaml:"local_work_size"`
	LocalWorkSize2        [3]Offset `yaml:"local_work_size2"`
	EnqueuedLocalWorkSize [3]Offset `yaml:"enqueued_local_work_size"`
	NumWorkGroups         [3]Offset `yaml:"num_work_groups"`
	GlobalWorkOffset      [3]Offset `yaml:"global_work_offset"`
	WorkDim               Offset    `yaml:"work_dim"`
}

func undefinedTraits() DispatchTraits {
	u := [3]Offset{Undefined, Undefined, Undefined}
	return DispatchTraits{
		GlobalWorkSize:        u,
		LocalWorkSize:         u,
		LocalWorkSize2:        u,
		EnqueuedLocalWorkSize: u,
		NumWorkGroups:         u,
		GlobalWorkOffset:      u,
		WorkDim:               Undefined,
	}
}

// Descriptor is the static layout of a kernel.
type Descriptor struct {
	Name string `yaml:"name" validate:"required"`

	// SIMDSize is the number of work-items each hardware thread executes.
	SIMDSize uint32 `yaml:"simd" validate:"oneof=1 8 16 32"`

	// CrossThreadDataSize is the size of the payload shared by all threads of a group. On platforms
	// with an inline payload its first bytes are delivered inline.
	CrossThreadDataSize int `yaml:"cross_thread_data_size" validate:"gte=0,lte=65536"`

	// PassInlineData is set if the kernel reads the start of its payload from the walker inline data.
	PassInlineData bool `yaml:"pass_inline_data"`

	// StaticSLMSize is the SLM used by the kernel itself, before SLM arguments.
	StaticSLMSize uint32 `yaml:"static_slm_size"`

	// MaxWorkGroupSize is the largest number of work-items in a group the kernel supports.
	MaxWorkGroupSize uint32 `yaml:"max_work_group_size" validate:"gt=0,lte=1024"`

	// LocalIDChannels is the number of local id dimensions the kernel reads (0 to 3).
	LocalIDChannels uint32 `yaml:"local_id_channels" validate:"lte=3"`

	// RuntimeLocalIDs requires the local ids to be generated in the per-thread payload instead of
	// by the hardware.
	RuntimeLocalIDs bool `yaml:"runtime_local_ids"`

	// WalkOrder of the local ids generated by the hardware.
	WalkOrder uint32 `yaml:"walk_order" validate:"lte=5"`

	// IndirectDataPointerOffset and ScratchPointerOffset are the inline payload offsets of the
	// 8-byte pointers used by heapless platforms. With PassInlineData no other field may overlap them.
	IndirectDataPointerOffset int `yaml:"indirect_data_pointer_offset" validate:"gte=0"`
	ScratchPointerOffset      int `yaml:"scratch_pointer_offset" validate:"gte=0"`

	// ScratchSize per thread, 0 if the kernel doesn't spill.
	ScratchSize uint32 `yaml:"scratch_size"`

	Dispatch DispatchTraits `yaml:"dispatch"`
	Args     []Arg          `yaml:"args" validate:"dive"`
}

// UnmarshalYAML fills in the defaults of fields not present in the document.
func (d *Descriptor) UnmarshalYAML(node *yaml.Node) error {
	type plain Descriptor
	p := plain{
		SIMDSize:             16,
		MaxWorkGroupSize:     1024,
		ScratchPointerOffset: 8,
		Dispatch:             undefinedTraits(),
	}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*d = Descriptor(p)
	return nil
}

var descriptorValidate = validator.New()

// ParseDescriptor parses and validates a YAML descriptor.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	d := &Descriptor{}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, errors.Wrap(err, "failed to parse kernel descriptor")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadDescriptor reads and parses the descriptor in file path.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read kernel descriptor %q", path)
	}
	d, err := ParseDescriptor(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "kernel descriptor %q", path)
	}
	return d, nil
}

// Validate checks the descriptor fields and that every payload offset fits the cross-thread data.
func (d *Descriptor) Validate() error {
	if err := descriptorValidate.Struct(d); err != nil {
		return errors.Wrapf(err, "kernel %q: invalid descriptor", d.Name)
	}
	inlinePointers := []struct {
		name   string
		offset int
	}{
		{"indirect data pointer", d.IndirectDataPointerOffset},
		{"scratch pointer", d.ScratchPointerOffset},
	}
	check := func(what string, offset Offset, size int) error {
		if !offset.IsDefined() {
			return nil
		}
		if int(offset)+size > d.CrossThreadDataSize {
			return errors.Errorf("kernel %q: %s at offset %d (%d bytes) is out of the %d bytes cross-thread data",
				d.Name, what, offset, size, d.CrossThreadDataSize)
		}
		if !d.PassInlineData {
			return nil
		}
		// Heapless platforms write these pointers into the inline data.
		for _, p := range inlinePointers {
			if int(offset) < p.offset+8 && p.offset < int(offset)+size {
				return errors.Errorf("kernel %q: %s at offset %d (%d bytes) overlaps the inline %s at offset %d",
					d.Name, what, offset, size, p.name, p.offset)
			}
		}
		return nil
	}
	traits := []struct {
		name    string
		offsets [3]Offset
	}{
		{"global_work_size", d.Dispatch.GlobalWorkSize},
		{"local_work_size", d.Dispatch.LocalWorkSize},
		{"local_work_size2", d.Dispatch.LocalWorkSize2},
		{"enqueued_local_work_size", d.Dispatch.EnqueuedLocalWorkSize},
		{"num_work_groups", d.Dispatch.NumWorkGroups},
		{"global_work_offset", d.Dispatch.GlobalWorkOffset},
	}
	for _, trait := range traits {
		for _, offset := range trait.offsets {
			if err := check(trait.name, offset, 4); err != nil {
				return err
			}
		}
	}
	if err := check("work_dim", d.Dispatch.WorkDim, 4); err != nil {
		return err
	}
	for i := range d.Args {
		arg := &d.Args[i]
		what := "argument " + arg.Name
		switch arg.Kind {
		case ArgPointer:
			if !arg.Offset.IsDefined() {
				return errors.Errorf("kernel %q: pointer %s has no offset", d.Name, what)
			}
			if err := check(what, arg.Offset, arg.PointerBytes()); err != nil {
				return err
			}
			if err := check(what+" buffer offset", arg.BufferOffset, 4); err != nil {
				return err
			}
		case ArgValue:
			if len(arg.Elements) == 0 {
				return errors.Errorf("kernel %q: value %s has no elements", d.Name, what)
			}
			for _, e := range arg.Elements {
				if err := check(what, e.Offset, e.Size); err != nil {
					return err
				}
				if e.SourceOffset+e.Size > arg.ValueSize() {
					return errors.Errorf("kernel %q: %s element [%d, %d) beyond its %d bytes",
						d.Name, what, e.SourceOffset, e.SourceOffset+e.Size, arg.ValueSize())
				}
			}
		case ArgSLM:
			if err := check(what, arg.Offset, 4); err != nil {
				return err
			}
			if align := arg.Alignment(); align&(align-1) != 0 {
				return errors.Errorf("kernel %q: SLM %s alignment %d is not a power of 2", d.Name, what, align)
			}
		}
	}
	return nil
}

// ArgIndex returns the index of the argument with the given name, or -1.
func (d *Descriptor) ArgIndex(name string) int {
	for i := range d.Args {
		if d.Args[i].Name == name {
			return i
		}
	}
	return -1
}
