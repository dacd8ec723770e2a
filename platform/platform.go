// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package platform defines the hardware generations a mutable command list can target.
//
// Each generation is a Platform: a small set of capabilities (which walker fields are
// dedicated instruction fields and which live in the inline payload, whether semaphores
// can compare 64-bit values natively, etc.) plus the generation specific encoders used
// when a dispatch is mutated (SLM size encoding, preferred SLM allocation, thread-group
// dispatch size and multi-partition layout).
//
// The set of platforms is closed: gen12lp, xehpc and xe2hpg are registered by this package.
// Callers select one once, at construction time, and never branch on the generation directly.
package platform

import (
	"os"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
)

// Family identifies a hardware generation.
type Family int

const (
	FamilyInvalid Family = iota
	FamilyGen12LP
	FamilyXeHPC
	FamilyXe2HPG
)

var familyNames = [...]string{
	FamilyInvalid: "invalid",
	FamilyGen12LP: "gen12lp",
	FamilyXeHPC:   "xehpc",
	FamilyXe2HPG:  "xe2hpg",
}

// String implements fmt.Stringer.
func (f Family) String() string {
	if f < 0 || int(f) >= len(familyNames) {
		return "Family(" + strconv.Itoa(int(f)) + ")"
	}
	return familyNames[f]
}

// PartitionType is the dimension along which a dispatch is split across partitions (tiles).
type PartitionType uint32

const (
	PartitionDisabled PartitionType = iota
	PartitionX
	PartitionY
	PartitionZ
)

// Platform is the API implemented by each hardware generation.
type Platform interface {
	// Family of the hardware.
	Family() Family

	// Name returns the short name of the platform, the same used in configuration strings.
	Name() string

	// Capabilities of the platform.
	Capabilities() Capabilities

	// PartitionCount is the number of partitions (tiles) a dispatch is split into. It is 1
	// unless the platform supports implicit scaling and the configuration asked for more.
	PartitionCount() int

	// EncodeSLMSize returns the walker field encoding of a shared local memory size in bytes.
	EncodeSLMSize(slmBytes uint32) uint32

	// PreferredSLMAllocationSize returns the encoding of the per sub-slice SLM allocation hint.
	PreferredSLMAllocationSize(slmBytes, threadsPerGroup uint32) uint32

	// ThreadGroupDispatchSize returns the encoding of how many thread groups are dispatched
	// together to one sub-slice.
	ThreadGroupDispatchSize(threadsPerGroup, numGroups uint32) uint32

	// PartitionLayout returns the partition dimension and per partition size for the given
	// group counts.
	PartitionLayout(groupCount [3]uint32) (PartitionType, uint32)
}

// Constructor takes a config string (optionally empty) and returns a Platform.
type Constructor func(config string) Platform

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register platform with the given name, and a constructor that takes as input the options part
// of the configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the platform configuration to use if MUTABLECL_PLATFORM is not set.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// MUTABLECL_PLATFORM is the environment variable with the default platform configuration to use.
//
// The format of config is "<platform_name>:<options>", where options is a comma separated list of
// "key=value" pairs. E.g.: "xehpc:partitions=2".
const MUTABLECL_PLATFORM = "MUTABLECL_PLATFORM"

// New returns a new default Platform.
//
// The default is:
//
// 1. The environment MUTABLECL_PLATFORM is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered platform is used with an empty configuration.
func New() Platform {
	config, found := os.LookupEnv(MUTABLECL_PLATFORM)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configuration string formatted as "<platform_name>:<options>".
//
// It panics if the platform is not registered or the options can't be parsed.
func NewWithConfig(config string) Platform {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf("no registered platforms")
	}
	name := firstRegistered
	options := ""
	if config != "" {
		name = config
		if idx := strings.Index(config, ":"); idx != -1 {
			name = config[:idx]
			options = config[idx+1:]
		}
	}
	constructor, found := registeredConstructors[name]
	if !found {
		exceptions.Panicf("can't find platform %q for configuration %q given", name, config)
	}
	return constructor(options)
}

// parseOptions splits "k1=v1,k2=v2" into a map. Keys without values map to "".
func parseOptions(options string) map[string]string {
	parsed := make(map[string]string)
	for _, part := range strings.Split(options, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		parsed[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return parsed
}

// partitionsOption parses the "partitions" option, panicking on invalid values.
func partitionsOption(platformName string, options map[string]string, supported bool) int {
	value, found := options["partitions"]
	if !found {
		return 1
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		exceptions.Panicf("platform %q: invalid partitions=%q", platformName, value)
	}
	if n > 1 && !supported {
		exceptions.Panicf("platform %q does not support implicit scaling, partitions=%d requested", platformName, n)
	}
	return n
}
