// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gomlx/mutablecl/pkg/core/event"
	"github.com/gomlx/mutablecl/pkg/mutable"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gopkg.in/yaml.v3"
)

// Scenario describes one mutable launch and the mutations applied to it.
type Scenario struct {
	// Platform configuration, see platform.NewWithConfig.
	Platform    string `yaml:"platform"`
	StageCommit bool   `yaml:"stage_commit"`

	// Kernel is the path of the kernel descriptor, relative to the scenario file.
	Kernel string `yaml:"kernel" validate:"required"`

	Buffers   []BufferSpec   `yaml:"buffers" validate:"dive"`
	Events    []EventSpec    `yaml:"events" validate:"dive"`
	Launch    LaunchSpec     `yaml:"launch"`
	Mutations []MutationSpec `yaml:"mutations" validate:"dive"`

	dir string
}

// BufferSpec allocates a buffer that pointer arguments can reference by name.
type BufferSpec struct {
	Name string `yaml:"name" validate:"required"`
	Size uint64 `yaml:"size" validate:"gt=0"`
}

// EventSpec creates an event. Counter based events with the same counter name share the counter.
type EventSpec struct {
	Name      string `yaml:"name" validate:"required"`
	Scope     string `yaml:"scope" validate:"omitempty,oneof=device host"`
	Timestamp bool   `yaml:"timestamp"`

	// Counter makes the event counter based, completing when the counter reaches Value.
	Counter    string `yaml:"counter"`
	Value      uint64 `yaml:"value"`
	HostMirror bool   `yaml:"host_mirror"`
}

// ArgSpec sets one kernel argument. Exactly one of the value fields is used.
type ArgSpec struct {
	Name string `yaml:"name" validate:"required"`

	// Buffer name and offset within it, for pointers. Null sets a null pointer.
	Buffer string `yaml:"buffer"`
	Offset uint64 `yaml:"offset"`
	Null   bool   `yaml:"null"`

	// Scalar values.
	F16 *float32 `yaml:"f16"`
	F32 *float32 `yaml:"f32"`
	F64 *float64 `yaml:"f64"`
	U32 *uint32  `yaml:"u32"`
	U64 *uint64  `yaml:"u64"`
	Hex string   `yaml:"hex" validate:"omitempty,hexadecimal"`

	// SLM size in bytes.
	SLM *uint32 `yaml:"slm"`
}

// LaunchSpec is the recorded launch.
type LaunchSpec struct {
	Flags      []string  `yaml:"flags" validate:"required,dive,oneof=kernel_arguments group_count group_size global_offset signal_event wait_events"`
	GroupCount [3]uint32 `yaml:"group_count"`
	GroupSize  [3]uint32 `yaml:"group_size"`
	Args       []ArgSpec `yaml:"args" validate:"dive"`
	Signal     string    `yaml:"signal"`
	Waits      []string  `yaml:"waits"`
}

// MutationSpec is one mutation step. All fields set are applied as one chain.
type MutationSpec struct {
	Name         string     `yaml:"name"`
	Args         []ArgSpec  `yaml:"args" validate:"dive"`
	GroupCount   *[3]uint32 `yaml:"group_count"`
	GroupSize    *[3]uint32 `yaml:"group_size"`
	GlobalOffset *[3]uint32 `yaml:"global_offset"`
	Signal       string     `yaml:"signal"`

	// Waits lists the wait events in slot order, "" or "none" for an empty slot.
	Waits []string `yaml:"waits"`
	Close bool     `yaml:"close"`
}

// UnmarshalYAML sets the defaults of the launch.
func (l *LaunchSpec) UnmarshalYAML(node *yaml.Node) error {
	type plain LaunchSpec
	p := plain{GroupCount: [3]uint32{1, 1, 1}, GroupSize: [3]uint32{1, 1, 1}}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*l = LaunchSpec(p)
	return nil
}

var scenarioValidate = validator.New()

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read scenario")
	}
	s := &Scenario{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "failed to parse scenario %q", path)
	}
	if err := scenarioValidate.Struct(s); err != nil {
		return nil, errors.Wrapf(err, "invalid scenario %q", path)
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

// KernelPath returns the path of the kernel descriptor.
func (s *Scenario) KernelPath() string {
	if filepath.IsAbs(s.Kernel) {
		return s.Kernel
	}
	return filepath.Join(s.dir, s.Kernel)
}

// parseFlags converts the flag names to mutable.CommandFlags.
func parseFlags(names []string) mutable.CommandFlags {
	var flags mutable.CommandFlags
	for _, name := range names {
		for f := mutable.FlagKernelArguments; f < mutable.FlagKernelInstruction; f <<= 1 {
			if f.String() == name {
				flags |= f
			}
		}
	}
	return flags
}

func (e *EventSpec) scope() event.Scope {
	if e.Scope == "host" {
		return event.ScopeHost
	}
	return event.ScopeDevice
}

// encode returns the raw size and value of the argument, as taken by kernel.Kernel.SetArgument.
// Buffer addresses are resolved with buffers.
func (a *ArgSpec) encode(buffers map[string]uint64) (size int, value []byte, err error) {
	switch {
	case a.Null:
		return 8, nil, nil
	case a.Buffer != "":
		base, found := buffers[a.Buffer]
		if !found {
			return 0, nil, errors.Errorf("argument %q: unknown buffer %q", a.Name, a.Buffer)
		}
		return 8, binary.LittleEndian.AppendUint64(nil, base+a.Offset), nil
	case a.SLM != nil:
		return int(*a.SLM), nil, nil
	case a.F16 != nil:
		return 2, binary.LittleEndian.AppendUint16(nil, float16.Fromfloat32(*a.F16).Bits()), nil
	case a.F32 != nil:
		return 4, binary.LittleEndian.AppendUint32(nil, math.Float32bits(*a.F32)), nil
	case a.F64 != nil:
		return 8, binary.LittleEndian.AppendUint64(nil, math.Float64bits(*a.F64)), nil
	case a.U32 != nil:
		return 4, binary.LittleEndian.AppendUint32(nil, *a.U32), nil
	case a.U64 != nil:
		return 8, binary.LittleEndian.AppendUint64(nil, *a.U64), nil
	case a.Hex != "":
		value, err = hex.DecodeString(strings.TrimPrefix(a.Hex, "0x"))
		if err != nil {
			return 0, nil, errors.Wrapf(err, "argument %q", a.Name)
		}
		return len(value), value, nil
	}
	return 0, nil, errors.Errorf("argument %q has no value", a.Name)
}
