// Package taskgen generates synthetic taskset corpora and, for each
// taskset, the feasible MPR configs across a cgroup-period grid. Grounded
// on bin/taskset_gen/generator.rs in the original test suite: a
// utilization grid crossed with a per-utilization repeat count, each cell
// drawing task counts, per-task utilizations (via pkg/uunifast), and
// periods from a dedicated, monotonically-advancing RNG seed stream so
// that the same seed always reproduces the same corpus.
package taskgen

import (
	"fmt"
	"math"
	"math/rand"

	"hcbs-harness/pkg/mpr"
	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/uunifast"
)

// TasksetOptions parameterizes the taskset corpus grid.
type TasksetOptions struct {
	TasksetsPerUtilization uint64
	MinNumTasks            uint64
	MaxNumTasks            uint64
	MinTaskPeriod          rtime.Duration
	MaxTaskPeriod          rtime.Duration
	StepTaskPeriod         rtime.Duration
	MinUtilization         float64
	MaxUtilization         float64
	StepUtilization        float64
}

// AnalysisOptions parameterizes the per-taskset MPR config search.
type AnalysisOptions struct {
	MinCgroupPeriod     rtime.Duration
	MaxCgroupPeriod     rtime.Duration
	StepCgroupPeriod    rtime.Duration
	Precision           rtime.Duration
	MaxCores            uint64
	MaxPerCoreBandwidth float64
}

// GenerateTasksets produces the full utilization-by-repeat grid of named
// tasksets. rngSeed is consumed as a monotonically increasing stream: one
// seed per taskset's task-count/period RNG, plus one more per uunifast
// attempt (including discarded ones), so runs are reproducible but never
// reuse a seed within a corpus.
func GenerateTasksets(opts TasksetOptions, rngSeed uint64) ([]rtmodel.NamedTaskset, error) {
	if opts.StepUtilization <= 0 || opts.StepTaskPeriod.Micros() <= 0 {
		return nil, fmt.Errorf("taskgen: utilization and period steps must be positive")
	}

	if opts.MaxNumTasks < opts.MinNumTasks {
		return nil, fmt.Errorf("taskgen: max_num_tasks %d below min_num_tasks %d", opts.MaxNumTasks, opts.MinNumTasks)
	}

	seed := rngSeed

	var tasksets []rtmodel.NamedTaskset

	tasksetNum := uint64(0)

	for util := opts.MinUtilization; util <= opts.MaxUtilization+1e-9; util += opts.StepUtilization {
		for rep := uint64(0); rep < opts.TasksetsPerUtilization; rep++ {
			ts, nextSeed, err := generateOneTaskset(opts, util, tasksetNum, seed)
			if err != nil {
				return nil, err
			}

			seed = nextSeed
			tasksetNum++

			tasksets = append(tasksets, ts)
		}
	}

	return tasksets, nil
}

func generateOneTaskset(opts TasksetOptions, utilization float64, tasksetNum, seed uint64) (rtmodel.NamedTaskset, uint64, error) {
	rng := rand.New(rand.NewSource(int64(seed))) //nolint:gosec // reproducibility requires a seeded PRNG
	seed++

	span := opts.MaxNumTasks - opts.MinNumTasks + 1
	numTasks := opts.MinNumTasks + uint64(rng.Int63n(int64(span)))

	var utils []float64

	const maxDiscardAttempts = 10_000

	for attempt := 0; attempt < maxDiscardAttempts; attempt++ {
		candidate, ok := uunifast.Generate(int(numTasks), utilization, seed)
		seed++

		if ok {
			utils = candidate
			break
		}
	}

	if utils == nil {
		return rtmodel.NamedTaskset{}, seed, fmt.Errorf("taskgen: uunifast never produced a valid split for utilization %.2f after %d attempts", utilization, maxDiscardAttempts)
	}

	periodSpanSteps := (opts.MaxTaskPeriod.Millis() - opts.MinTaskPeriod.Millis()) / opts.StepTaskPeriod.Millis()

	tasks := make([]rtmodel.RTTask, 0, len(utils))

	for _, u := range utils {
		u = math.Floor(u*100) / 100

		periodMs := math.Floor(rng.Float64()*float64(periodSpanSteps))*float64(opts.StepTaskPeriod.Millis()) + float64(opts.MinTaskPeriod.Millis())
		wcetMs := math.Max(1, math.Floor(u*periodMs))

		task, err := rtmodel.NewRTTask(rtime.FromMillis(int64(wcetMs)), rtime.FromMillis(int64(periodMs)), rtime.FromMillis(int64(periodMs)))
		if err != nil {
			return rtmodel.NamedTaskset{}, seed, fmt.Errorf("taskgen: %w", err)
		}

		tasks = append(tasks, task)
	}

	name := fmt.Sprintf("taskset_U%.1f_N%02d_%03d", utilization, numTasks, tasksetNum)

	ts, err := rtmodel.NewNamedTaskset(name, tasks)
	if err != nil {
		return rtmodel.NamedTaskset{}, seed, fmt.Errorf("taskgen: %w", err)
	}

	return ts, seed, nil
}

// GenerateConfigs searches the cgroup-period grid and returns one
// NamedConfig per period that admits a feasible MPR interface, named
// cfg0, cfg1, ... in grid order.
func GenerateConfigs(taskset rtmodel.NamedTaskset, opts AnalysisOptions) []rtmodel.NamedConfig {
	var configs []rtmodel.NamedConfig

	idx := 0

	for period := opts.MinCgroupPeriod; period.LessEqual(opts.MaxCgroupPeriod); period = period.Add(opts.StepCgroupPeriod) {
		model, err := mpr.GenerateInterface(taskset.Tasks, period, opts.Precision, opts.MaxCores, opts.MaxPerCoreBandwidth)
		if err != nil {
			continue
		}

		cfg, err := rtmodel.NewNamedConfig(fmt.Sprintf("cfg%d", idx), model.Concurrency, model.Resource, model.Period)
		if err != nil {
			continue
		}

		idx++

		configs = append(configs, cfg)
	}

	return configs
}
