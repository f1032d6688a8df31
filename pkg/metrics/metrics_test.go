package metrics_test

import (
	"testing"

	"hcbs-harness/pkg/metrics"
	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/rtmodel"
)

func mustTaskset(t *testing.T) rtmodel.NamedTaskset {
	t.Helper()

	task, err := rtmodel.NewRTTask(rtime.FromMillis(10), rtime.FromMillis(100), rtime.FromMillis(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ts, err := rtmodel.NewNamedTaskset("demo", []rtmodel.RTTask{task})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return ts
}

func TestComputeResultInsightsCountsOverrunsAndWorstCase(t *testing.T) {
	t.Parallel()

	ts := mustTaskset(t)

	result := rtmodel.TasksetRunResult{
		Taskset: ts,
		Results: []rtmodel.TasksetRunResultInstance{
			{TaskIndex: 0, InstanceIndex: 0, RelFinishTime: rtime.FromMillis(90)},  // -10ms, on time
			{TaskIndex: 0, InstanceIndex: 1, RelFinishTime: rtime.FromMillis(103)}, // +3ms, miss
			{TaskIndex: 0, InstanceIndex: 2, RelFinishTime: rtime.FromMillis(107)}, // +7ms, worse miss
		},
	}

	insights := metrics.ComputeResultInsights(result)

	if insights.NumOverruns != 2 {
		t.Fatalf("expected 2 overruns, got %d", insights.NumOverruns)
	}

	if insights.OverrunsRatio != 2.0/3.0 {
		t.Fatalf("expected overrun ratio 2/3, got %f", insights.OverrunsRatio)
	}

	if insights.WorstOverrun.Millis() != 7 {
		t.Fatalf("expected worst overrun 7ms, got %s", insights.WorstOverrun)
	}
}

func TestComputeResultInsightsHandlesNoMisses(t *testing.T) {
	t.Parallel()

	ts := mustTaskset(t)

	result := rtmodel.TasksetRunResult{
		Taskset: ts,
		Results: []rtmodel.TasksetRunResultInstance{
			{TaskIndex: 0, InstanceIndex: 0, RelFinishTime: rtime.FromMillis(80)},
			{TaskIndex: 0, InstanceIndex: 1, RelFinishTime: rtime.FromMillis(95)},
		},
	}

	insights := metrics.ComputeResultInsights(result)

	if insights.NumOverruns != 0 {
		t.Fatalf("expected 0 overruns, got %d", insights.NumOverruns)
	}

	if insights.WorstOverrun.Millis() != -5 {
		t.Fatalf("expected worst overrun -5ms (the least-early finish), got %s", insights.WorstOverrun)
	}
}

func TestComputeResultInsightsHandlesEmptyResult(t *testing.T) {
	t.Parallel()

	insights := metrics.ComputeResultInsights(rtmodel.TasksetRunResult{Taskset: mustTaskset(t)})

	if insights.NumOverruns != 0 || insights.OverrunsRatio != 0 {
		t.Fatalf("expected zero-value insights for an empty result, got %+v", insights)
	}
}
