// Package metrics derives summary statistics from a recorded taskset run.
// Grounded on compute_insights in the original test suite's
// tests/generic/mod.rs, adjusted for this repository's sign convention:
// overrun = rel_finish - deadline, positive means a miss, so the worst
// overrun is the maximum rather than the original's minimum slack.
package metrics

import "hcbs-harness/pkg/rtmodel"

// ComputeResultInsights summarizes deadline-miss behavior across every
// recorded job activation in result.
func ComputeResultInsights(result rtmodel.TasksetRunResult) rtmodel.TasksetRunResultInsights {
	if len(result.Results) == 0 {
		return rtmodel.TasksetRunResultInsights{}
	}

	var numOverruns uint64

	worst := result.Results[0].Overrun(result.Taskset.Tasks[result.Results[0].TaskIndex])

	for _, inst := range result.Results {
		task := result.Taskset.Tasks[inst.TaskIndex]
		overrun := inst.Overrun(task)

		if overrun.Micros() > 0 {
			numOverruns++
		}

		if overrun.Micros() > worst.Micros() {
			worst = overrun
		}
	}

	return rtmodel.TasksetRunResultInsights{
		NumOverruns:   numOverruns,
		OverrunsRatio: float64(numOverruns) / float64(len(result.Results)),
		WorstOverrun:  worst,
	}
}
