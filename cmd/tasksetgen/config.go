package main

import (
	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/taskgen"
)

const (
	defaultGeneratorSeed          = 42
	defaultTasksetsPerUtilization = 3

	defaultMinNumTasks = 6
	defaultMaxNumTasks = 16

	defaultMinTaskPeriodMs  = 100
	defaultMaxTaskPeriodMs  = 500
	defaultStepTaskPeriodMs = 200

	defaultMinUtilization  = 0.5
	defaultMaxUtilization  = 2.5
	defaultStepUtilization = 0.2

	defaultMinCgroupPeriodMs  = 20
	defaultMaxCgroupPeriodMs  = 100
	defaultStepCgroupPeriodMs = 40

	defaultMaxPerCoreBandwidth = 0.9

	// analysisPrecisionMs bounds the MPR monotone linear search step size.
	// Not CLI-configurable upstream either; 1ms matches the granularity
	// the search converges at in practice.
	analysisPrecisionMs = 1
)

func defaultTasksetOptions() taskgen.TasksetOptions {
	return taskgen.TasksetOptions{
		TasksetsPerUtilization: defaultTasksetsPerUtilization,
		MinNumTasks:            defaultMinNumTasks,
		MaxNumTasks:            defaultMaxNumTasks,
		MinTaskPeriod:          rtime.FromMillis(defaultMinTaskPeriodMs),
		MaxTaskPeriod:          rtime.FromMillis(defaultMaxTaskPeriodMs),
		StepTaskPeriod:         rtime.FromMillis(defaultStepTaskPeriodMs),
		MinUtilization:         defaultMinUtilization,
		MaxUtilization:         defaultMaxUtilization,
		StepUtilization:        defaultStepUtilization,
	}
}

// defaultAnalysisOptions seeds MaxCores from the host's own core count: the
// generator CLI never exposed a flag for it upstream, and the number of
// cores the interface search may span is a property of the machine the
// corpus will eventually run on, not a generation-time choice.
func defaultAnalysisOptions(maxCores uint64) taskgen.AnalysisOptions {
	return taskgen.AnalysisOptions{
		MinCgroupPeriod:     rtime.FromMillis(defaultMinCgroupPeriodMs),
		MaxCgroupPeriod:     rtime.FromMillis(defaultMaxCgroupPeriodMs),
		StepCgroupPeriod:    rtime.FromMillis(defaultStepCgroupPeriodMs),
		Precision:           rtime.FromMillis(analysisPrecisionMs),
		MaxCores:            maxCores,
		MaxPerCoreBandwidth: defaultMaxPerCoreBandwidth,
	}
}
