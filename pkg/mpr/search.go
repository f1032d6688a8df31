// Package mpr synthesizes minimum-resource Multiprocessor Periodic Resource
// (MPR) interfaces for a taskset: the smallest {concurrency, resource,
// period} triple under which the taskset is fixed-priority schedulable,
// subject to a per-core bandwidth cap.
//
// The demand/supply feasibility test implemented here is a simplified,
// idealized stand-in for the BCL-2009 demand-bound analysis that the
// original test suite delegates to an external schedulability library (out
// of scope for this repository per spec.md §1); it captures the same
// algorithmic contract — response-time analysis against a linear supply
// bound — without reproducing the published supply-delay term, since the
// real analysis engine is referenced only through its contract.
package mpr

import (
	"errors"
	"fmt"
	"math"

	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/rtmodel"
)

// ErrUnfeasible is returned when no concurrency level up to maxCores admits
// a feasible resource budget under the per-core bandwidth cap.
var ErrUnfeasible = errors.New("mpr: no feasible interface under the given constraints")

// ErrNonIntegerTime is returned when a task's wcet or period is not a whole
// number of milliseconds, violating the generator's integer-millisecond
// precondition.
var ErrNonIntegerTime = errors.New("mpr: task times must be whole milliseconds")

// Model is a synthesized MPR interface: m parallel units, each effectively
// providing Resource/m time every Period.
type Model struct {
	Concurrency uint64
	Resource    rtime.Duration
	Period      rtime.Duration
}

// PerCoreBandwidth returns Resource/(Concurrency*Period).
func (m Model) PerCoreBandwidth() float64 {
	return m.Resource.Ratio(m.Period.ScaleUint(m.Concurrency))
}

// GenerateInterface performs a monotone linear search over concurrency
// levels, starting from the utilization lower bound, and for each level
// searches for the minimum resource budget (at the given step granularity)
// that keeps the taskset fixed-priority schedulable without exceeding
// maxPerCoreBW. Tasks must already be sorted by non-decreasing period (as
// NamedTaskset guarantees); that order is treated as the rate-monotonic
// priority order, shortest period highest priority.
func GenerateInterface(
	tasks []rtmodel.RTTask,
	period rtime.Duration,
	step rtime.Duration,
	maxCores uint64,
	maxPerCoreBW float64,
) (Model, error) {
	if err := checkPreconditions(tasks, period, step); err != nil {
		return Model{}, err
	}

	lower := lowerBoundCores(tasks)
	upper := upperBoundCores(tasks)

	if maxCores < upper {
		upper = maxCores
	}

	for concurrency := lower; concurrency <= upper; concurrency++ {
		thetaMax := period.ScaleUint(concurrency).Scale(maxPerCoreBW)
		if thetaMax.Micros() <= 0 {
			continue
		}

		theta, ok := minimalFeasibleResource(tasks, concurrency, period, step, thetaMax)
		if ok {
			return Model{Concurrency: concurrency, Resource: theta, Period: period}, nil
		}
	}

	return Model{}, fmt.Errorf("%w: concurrency up to %d, period %s", ErrUnfeasible, upper, period)
}

func checkPreconditions(tasks []rtmodel.RTTask, period, step rtime.Duration) error {
	if len(tasks) == 0 {
		return fmt.Errorf("%w: empty taskset", ErrUnfeasible)
	}

	if period.Micros() <= 0 || step.Micros() <= 0 {
		return fmt.Errorf("%w: period and step must be positive", ErrUnfeasible)
	}

	if period.Micros()%1000 != 0 || step.Micros()%1000 != 0 {
		return fmt.Errorf("%w: period=%s step=%s", ErrNonIntegerTime, period, step)
	}

	for _, task := range tasks {
		if task.Deadline.Micros() != task.Period.Micros() {
			return fmt.Errorf("%w: constrained/arbitrary deadlines are unsupported", ErrUnfeasible)
		}

		if task.WCET.Micros()%1000 != 0 || task.Period.Micros()%1000 != 0 {
			return fmt.Errorf("%w: wcet=%s period=%s", ErrNonIntegerTime, task.WCET, task.Period)
		}
	}

	return nil
}

func lowerBoundCores(tasks []rtmodel.RTTask) uint64 {
	total := 0.0
	for _, task := range tasks {
		total += task.Utilization()
	}

	return uint64(math.Ceil(total))
}

// upperBoundCores bounds the search: no more cores are ever needed than
// there are tasks, since in the worst case every task could be isolated on
// its own unit.
func upperBoundCores(tasks []rtmodel.RTTask) uint64 {
	return uint64(len(tasks))
}

func minimalFeasibleResource(
	tasks []rtmodel.RTTask,
	concurrency uint64,
	period, step, thetaMax rtime.Duration,
) (rtime.Duration, bool) {
	for theta := step; theta.LessEqual(thetaMax); theta = theta.Add(step) {
		if isSchedulableFP(tasks, concurrency, theta, period) {
			return theta, true
		}
	}

	return rtime.Zero, false
}

func isSchedulableFP(tasks []rtmodel.RTTask, concurrency uint64, resource, period rtime.Duration) bool {
	perCoreBW := resource.Ratio(period.ScaleUint(concurrency))
	if perCoreBW <= 0 {
		return false
	}

	for k := range tasks {
		if !responseTimeFits(tasks, k, perCoreBW) {
			return false
		}
	}

	return true
}

const maxResponseTimeIterations = 1000

// responseTimeFits runs the classical fixed-priority response-time
// recurrence for task k against higher-priority tasks tasks[0:k] (priority
// order = period-ascending, i.e. rate-monotonic), with demand converted to
// elapsed time through the interface's per-core bandwidth.
func responseTimeFits(tasks []rtmodel.RTTask, k int, perCoreBW float64) bool {
	task := tasks[k]
	deadline := float64(task.Deadline.Micros())

	response := float64(task.WCET.Micros()) / perCoreBW

	for iteration := 0; iteration < maxResponseTimeIterations; iteration++ {
		demand := demandAt(tasks, k, response)
		next := demand / perCoreBW

		if next > deadline {
			return false
		}

		if next == response {
			return true
		}

		response = next
	}

	return response <= deadline
}

func demandAt(tasks []rtmodel.RTTask, k int, t float64) float64 {
	task := tasks[k]
	total := float64(task.WCET.Micros())

	for i := 0; i < k; i++ {
		higher := tasks[i]
		total += math.Ceil(t/float64(higher.Period.Micros())) * float64(higher.WCET.Micros())
	}

	return total
}
