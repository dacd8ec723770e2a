// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics exports Prometheus counters about command list mutations.
//
// A nil *Collector is valid and records nothing, so command lists created without metrics pay
// only a nil check.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "mutablecl"
	subsystem = "command_list"
)

// Result labels.
const (
	ResultApplied = "applied"
	ResultFailed  = "failed"
)

// Collector holds the metrics of all the command lists it's given to.
type Collector struct {
	// MutationsTotal counts mutation requests by category and result.
	MutationsTotal *prometheus.CounterVec

	// PatchesTotal counts patched locations by target: cross_thread, inline, walker or a primitive name.
	PatchesTotal *prometheus.CounterVec

	// CommitsTotal counts walkers committed from their staging buffer on Close.
	CommitsTotal prometheus.Counter

	// MutableLaunches is the number of mutable kernel launches currently recorded.
	MutableLaunches prometheus.Gauge
}

// New creates a Collector and registers it with reg. If reg is nil, the metrics are created
// but not registered.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "mutations_total",
				Help:      "Total mutation requests by category and result",
			},
			[]string{"category", "result"},
		),
		PatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "patches_total",
				Help:      "Total patched locations by target",
			},
			[]string{"target"},
		),
		CommitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "commits_total",
				Help:      "Total walkers committed from their staging buffer",
			},
		),
		MutableLaunches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "mutable_launches",
				Help:      "Number of mutable kernel launches currently recorded",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(c.MutationsTotal, c.PatchesTotal, c.CommitsTotal, c.MutableLaunches)
	}
	return c
}

// RecordMutation counts one mutation request of category.
func (c *Collector) RecordMutation(category string, err error) {
	if c == nil {
		return
	}
	result := ResultApplied
	if err != nil {
		result = ResultFailed
	}
	c.MutationsTotal.WithLabelValues(category, result).Inc()
}

// RecordPatches counts n patched locations of target.
func (c *Collector) RecordPatches(target string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.PatchesTotal.WithLabelValues(target).Add(float64(n))
}

// RecordCommits counts n committed walkers.
func (c *Collector) RecordCommits(n int) {
	if c == nil || n == 0 {
		return
	}
	c.CommitsTotal.Add(float64(n))
}

// AddMutableLaunches adjusts the number of recorded mutable launches by delta.
func (c *Collector) AddMutableLaunches(delta int) {
	if c == nil || delta == 0 {
		return
	}
	c.MutableLaunches.Add(float64(delta))
}
