// Package planner turns a directory tree of tasksets and MPR configs into
// an ordered list of TasksetRun records, and judges whether a given run is
// admissible on the current machine. Grounded on get_taskset_runs and
// can_run_taskset in the original test suite's tests/skeleton/mod.rs and
// tests/generic/mod.rs.
package planner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/serde"
)

// ErrMissingTaskset is returned when a taskset subdirectory has no
// taskset.txt file.
var ErrMissingTaskset = errors.New("planner: taskset.txt not found")

const tasksetFileName = "taskset.txt"

// Enumerate walks tasksetsDir for per-taskset subdirectories, each holding
// a taskset.txt and one or more config files, and returns one TasksetRun
// per (taskset, config) pair found, lexicographically ordered by taskset
// name then config name. A subdirectory holding only taskset.txt (no
// configs) is skipped, matching the original's "files.len() <= 1" guard.
func Enumerate(tasksetsDir, outputDir string) ([]rtmodel.TasksetRun, error) {
	entries, err := os.ReadDir(tasksetsDir)
	if err != nil {
		return nil, fmt.Errorf("planner: read tasksets dir %s: %w", tasksetsDir, err)
	}

	var runs []rtmodel.TasksetRun

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dirRuns, err := enumerateTasksetDir(filepath.Join(tasksetsDir, entry.Name()), outputDir)
		if err != nil {
			return nil, err
		}

		runs = append(runs, dirRuns...)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].Taskset.Name != runs[j].Taskset.Name {
			return runs[i].Taskset.Name < runs[j].Taskset.Name
		}

		return runs[i].Config.Name < runs[j].Config.Name
	})

	return runs, nil
}

func enumerateTasksetDir(dir, outputDir string) ([]rtmodel.TasksetRun, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("planner: read taskset dir %s: %w", dir, err)
	}

	hasTaskset := false

	var configFiles []string

	for _, f := range files {
		if f.IsDir() {
			continue
		}

		if f.Name() == tasksetFileName {
			hasTaskset = true
			continue
		}

		configFiles = append(configFiles, f.Name())
	}

	if !hasTaskset {
		return nil, fmt.Errorf("%w: %s", ErrMissingTaskset, dir)
	}

	if len(configFiles) == 0 {
		return nil, nil
	}

	taskset, err := readTaskset(filepath.Join(dir, tasksetFileName))
	if err != nil {
		return nil, err
	}

	runs := make([]rtmodel.TasksetRun, 0, len(configFiles))

	for _, configFile := range configFiles {
		cfg, err := readConfig(filepath.Join(dir, configFile))
		if err != nil {
			return nil, err
		}

		runs = append(runs, rtmodel.TasksetRun{
			Taskset:         taskset,
			Config:          cfg,
			ResultsFilePath: filepath.Join(outputDir, taskset.Name, "output-"+cfg.Name),
		})
	}

	return runs, nil
}

func readTaskset(path string) (rtmodel.NamedTaskset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rtmodel.NamedTaskset{}, fmt.Errorf("planner: read %s: %w", path, err)
	}

	return serde.ParseTaskset(string(data))
}

func readConfig(path string) (rtmodel.NamedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rtmodel.NamedConfig{}, fmt.Errorf("planner: read %s: %w", path, err)
	}

	return serde.ParseConfig(string(data))
}

// CanRun reports whether run is admissible on a machine with maxNumCPUs
// cores, under a per-cgroup bandwidth cap of maxAllocableBW: the config
// must not request more CPUs than exist, its aggregate bandwidth must not
// exceed the cap, and the taskset's shortest period must not be shorter
// than the config's worst-case blocking window (period - runtime).
func CanRun(run rtmodel.TasksetRun, maxNumCPUs uint64, maxAllocableBW float64) bool {
	if run.Config.CPUs > maxNumCPUs {
		return false
	}

	if run.Config.Bandwidth() > maxAllocableBW {
		return false
	}

	blockingWindow := run.Config.Period.Sub(run.Config.Runtime)
	if run.Taskset.MinPeriod().Less(blockingWindow) {
		return false
	}

	return true
}

// ExpectedRuntime estimates the wall-clock duration of a run: the
// taskset's longest period times the number of instances collected per
// job.
func ExpectedRuntime(run rtmodel.TasksetRun, numInstancesPerJob uint64) rtime.Duration {
	return run.Taskset.MaxPeriod().ScaleUint(numInstancesPerJob)
}
