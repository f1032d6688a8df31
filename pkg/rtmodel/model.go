// Package rtmodel defines the domain types shared by the taskset generator,
// planner, driver, and workload adapters: periodic tasks, MPR configs, and
// the run/result records produced while executing a taskset under a config.
package rtmodel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"hcbs-harness/pkg/rtime"
)

var (
	// ErrInvalidTask is returned when an RTTask violates its invariants.
	ErrInvalidTask = errors.New("rtmodel: invalid task")
	// ErrImplicitDeadlineOnly is returned when a task's deadline and period
	// differ; this repository only exercises implicit-deadline tasksets.
	ErrImplicitDeadlineOnly = errors.New("rtmodel: deadline must equal period")
	// ErrNameHasWhitespace is returned by constructors and serializers when a
	// taskset or config name contains whitespace.
	ErrNameHasWhitespace = errors.New("rtmodel: name contains whitespace")
	// ErrEmptyTaskset is returned when a taskset has zero tasks.
	ErrEmptyTaskset = errors.New("rtmodel: taskset has no tasks")
	// ErrInvalidConfig is returned when an MPR config violates its invariants.
	ErrInvalidConfig = errors.New("rtmodel: invalid config")
)

// RTTask is a periodic real-time task with worst-case execution time,
// relative deadline, and period. This repository only exercises
// implicit-deadline tasks: deadline == period is enforced by NewRTTask.
type RTTask struct {
	WCET     rtime.Duration
	Deadline rtime.Duration
	Period   rtime.Duration
}

// NewRTTask validates 0 < wcet <= deadline <= period and deadline == period,
// returning an RTTask only when every invariant holds.
func NewRTTask(wcet, deadline, period rtime.Duration) (RTTask, error) {
	if wcet.Micros() <= 0 {
		return RTTask{}, fmt.Errorf("%w: wcet must be positive, got %s", ErrInvalidTask, wcet)
	}

	if deadline.Micros() != period.Micros() {
		return RTTask{}, fmt.Errorf("%w: deadline=%s period=%s", ErrImplicitDeadlineOnly, deadline, period)
	}

	if wcet.Micros() > deadline.Micros() {
		return RTTask{}, fmt.Errorf("%w: wcet=%s exceeds deadline=%s", ErrInvalidTask, wcet, deadline)
	}

	return RTTask{WCET: wcet, Deadline: deadline, Period: period}, nil
}

// Utilization returns wcet/period.
func (t RTTask) Utilization() float64 {
	return t.WCET.Ratio(t.Period)
}

// NamedTaskset is an ordered, immutable-once-built collection of periodic
// tasks. Tasks are sorted by non-decreasing period.
type NamedTaskset struct {
	Name  string
	Tasks []RTTask
}

// NewNamedTaskset validates the name and sorts tasks by period ascending.
func NewNamedTaskset(name string, tasks []RTTask) (NamedTaskset, error) {
	if err := validateName(name); err != nil {
		return NamedTaskset{}, err
	}

	if len(tasks) == 0 {
		return NamedTaskset{}, ErrEmptyTaskset
	}

	sorted := make([]RTTask, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Period.Less(sorted[j].Period)
	})

	return NamedTaskset{Name: name, Tasks: sorted}, nil
}

// MinPeriod returns the shortest period among the taskset's tasks.
func (ts NamedTaskset) MinPeriod() rtime.Duration {
	return ts.Tasks[0].Period
}

// MaxPeriod returns the longest period among the taskset's tasks.
func (ts NamedTaskset) MaxPeriod() rtime.Duration {
	return ts.Tasks[len(ts.Tasks)-1].Period
}

// TotalUtilization sums each task's wcet/period ratio.
func (ts NamedTaskset) TotalUtilization() float64 {
	total := 0.0
	for _, task := range ts.Tasks {
		total += task.Utilization()
	}

	return total
}

// NamedConfig is a candidate MPR (Multiprocessor Periodic Resource)
// interface: m concurrent units sharing a total budget of runtime every
// period, so runtime is at most cpus*period.
type NamedConfig struct {
	Name    string
	CPUs    uint64
	Runtime rtime.Duration
	Period  rtime.Duration
}

// NewNamedConfig validates the name and the runtime <= cpus*period invariant.
func NewNamedConfig(name string, cpus uint64, runtime, period rtime.Duration) (NamedConfig, error) {
	if err := validateName(name); err != nil {
		return NamedConfig{}, err
	}

	if cpus == 0 {
		return NamedConfig{}, fmt.Errorf("%w: cpus must be positive", ErrInvalidConfig)
	}

	if runtime.Micros() <= 0 {
		return NamedConfig{}, fmt.Errorf("%w: runtime must be positive", ErrInvalidConfig)
	}

	if runtime.Micros() > period.ScaleUint(cpus).Micros() {
		return NamedConfig{}, fmt.Errorf(
			"%w: runtime=%s exceeds cpus(%d)*period=%s",
			ErrInvalidConfig, runtime, cpus, period,
		)
	}

	return NamedConfig{Name: name, CPUs: cpus, Runtime: runtime, Period: period}, nil
}

// Bandwidth returns the aggregate bandwidth runtime/period.
func (c NamedConfig) Bandwidth() float64 {
	return c.Runtime.Ratio(c.Period)
}

// PerCoreBandwidth returns runtime/(cpus*period).
func (c NamedConfig) PerCoreBandwidth() float64 {
	return c.Runtime.Ratio(c.Period.ScaleUint(c.CPUs))
}

// TasksetRun pairs a taskset with a candidate config and the path the
// execution result will be (or was) persisted to.
type TasksetRun struct {
	Taskset         NamedTaskset
	Config          NamedConfig
	ResultsFilePath string
}

// TasksetRunResultInstance records one completed job activation.
type TasksetRunResultInstance struct {
	TaskIndex         uint64
	InstanceIndex     uint64
	AbsActivationTime rtime.Duration
	RelStartTime      rtime.Duration
	RelFinishTime     rtime.Duration
}

// Overrun returns RelFinishTime - task.Deadline; positive means a deadline
// miss (spec.md's resolved sign convention).
func (i TasksetRunResultInstance) Overrun(task RTTask) rtime.Duration {
	return i.RelFinishTime.Sub(task.Deadline)
}

// TasksetRunResult is the full set of job activations recorded for one
// taskset run under one config.
type TasksetRunResult struct {
	Taskset NamedTaskset
	Config  NamedConfig
	Results []TasksetRunResultInstance
}

// TasksetRunResultInsights summarizes deadline-miss statistics for a result.
type TasksetRunResultInsights struct {
	NumOverruns   uint64
	OverrunsRatio float64
	WorstOverrun  rtime.Duration
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidTask)
	}

	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q", ErrNameHasWhitespace, name)
	}

	return nil
}
