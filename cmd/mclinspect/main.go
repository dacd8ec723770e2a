// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// mclinspect records the mutable launch described by a YAML scenario, applies the scenario's
// mutations one step at a time, and prints the walker, variables, residency and metrics after
// each step.
//
//	mclinspect -walker -vars scenario.yaml
package main

import (
	"flag"
	"os"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagWalker    = flag.Bool("walker", true, "Display the walker fields after each step.")
	flagVars      = flag.Bool("vars", true, "Display the variables of the launch after each step.")
	flagResidency = flag.Bool("residency", false, "Display the allocations referenced by the command list.")
	flagMetrics   = flag.Bool("metrics", false, "Display the mutation metrics collected.")
	flagPlatform  = flag.String("platform", "", "Overrides the platform configuration of the scenario, e.g. \"xehpc:partitions=2\".")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Expected exactly one scenario file. See 'mclinspect -help'.")
		os.Exit(1)
	}
	scenario := must.M1(LoadScenario(args[0]))
	if *flagPlatform != "" {
		scenario.Platform = *flagPlatform
	}
	sess := must.M1(NewSession(scenario))
	reporter := &Reporter{
		w:         os.Stdout,
		sess:      sess,
		Walker:    *flagWalker,
		Variables: *flagVars,
		Residency: *flagResidency,
		Metrics:   *flagMetrics,
	}
	sess.Run(reporter.Report)
}
