package driver

import (
	"fmt"
	"io"

	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/rtmodel"
)

// Reporter prints the batch's human-readable progress banners, independent
// of the structured zap logs the driver also emits. Grounded on the
// original test suite's batch_test_header/_skipped/_failure/_success family.
type Reporter struct {
	out io.Writer
}

// NewReporter constructs a Reporter writing to out.
func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

// Header announces a run about to start, with its expected wall-clock cost.
func (r *Reporter) Header(tasksetName, configName string, expected rtime.Duration) {
	fmt.Fprintf(r.out, "%s on %s (~%.2f secs)\n", tasksetName, configName, float64(expected.Millis())/1000.0)
}

// Skipped announces a run that already has a persisted result.
func (r *Reporter) Skipped(tasksetName, configName string) {
	fmt.Fprintf(r.out, "%s on %s (already run)\n", tasksetName, configName)
}

// Inadmissible announces a run that was filtered out by CanRun.
func (r *Reporter) Inadmissible(tasksetName, configName string) {
	fmt.Fprintf(r.out, "%s on %s (cannot run on this machine, skipped)\n", tasksetName, configName)
}

// Success announces a completed run's deadline-miss insights.
func (r *Reporter) Success(insights rtmodel.TasksetRunResultInsights) {
	fmt.Fprintf(r.out, "  ok: %d overruns (%.2f%%), worst overrun %s\n",
		insights.NumOverruns, insights.OverrunsRatio*100, insights.WorstOverrun)
}

// Failure announces a run that did not complete.
func (r *Reporter) Failure(err error) {
	fmt.Fprintf(r.out, "  FAILED: %v\n", err)
}

// Summary announces the batch-wide aggregate: how many of the runs that
// actually executed or were loaded from a prior run recorded at least one
// deadline miss.
func (r *Reporter) Summary(failures, total uint64, ratio float64) {
	fmt.Fprintf(r.out, "%d/%d failures/tests, %.4f failure ratio\n", failures, total, ratio)
}
