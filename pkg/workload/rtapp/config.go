// Package rtapp adapts the rt-app workload binary to the workload.Adapter
// contract (spec.md §4.6.2). Grounded on tests/rt_app/mod.rs,
// result_parser.rs, and config_generator.rs in the original test suite,
// with the JSON shape following spec.md's exact field list where the
// original's config_generator.rs draft fell short of it.
package rtapp

import (
	"encoding/json"
	"fmt"
	"math"

	"hcbs-harness/pkg/rtmodel"
)

func taskName(index int) string {
	return fmt.Sprintf("thread%02d", index)
}

type globalConfig struct {
	Duration      int    `json:"duration"`
	Calibration   any    `json:"calibration"`
	DefaultPolicy string `json:"default_policy"`
	PiEnabled     bool   `json:"pi_enabled"`
	LockPages     bool   `json:"lock_pages"`
	LogDir        string `json:"logdir"`
	LogSize       string `json:"log_size"`
	LogBasename   string `json:"log_basename"`
}

type timerSpec struct {
	Ref    string `json:"ref"`
	Period int64  `json:"period"`
	Mode   string `json:"mode"`
}

type taskSpec struct {
	Policy   string    `json:"policy"`
	Priority int       `json:"priority"`
	Run      int64     `json:"run"`
	Timer    timerSpec `json:"timer"`
}

type rtAppConfig struct {
	Global globalConfig        `json:"global"`
	Tasks  map[string]taskSpec `json:"tasks"`
}

const logBasename = "rt-app"

// calibrationConfig requests a one-second, single-thread CPU0 calibration
// run, per spec.md §4.6.2's calibration procedure.
func calibrationConfig() []byte {
	cfg := rtAppConfig{
		Global: globalConfig{
			Duration:      1,
			Calibration:   "CPU0",
			DefaultPolicy: "SCHED_OTHER",
			LogDir:        "/tmp",
			LogSize:       "file",
			LogBasename:   logBasename,
		},
		Tasks: map[string]taskSpec{
			"thread0": {Run: 10000},
		},
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")

	return data
}

// TaskRunConfig assembles the rt-app config for one taskset run: one task
// block per RTTask, descending SCHED_FIFO priorities from 99, run time in
// microseconds, and an absolute-mode timer keyed to each task's period.
// calibration is either the pLoad nanosecond figure from a prior
// ComputeCPUSpeed call or "CPU0" when none is available.
func TaskRunConfig(taskset rtmodel.NamedTaskset, numInstancesPerJob uint64, logDir string, calibration any) []byte {
	maxPeriodMs := int64(0)
	for _, task := range taskset.Tasks {
		if ms := task.Period.Millis(); ms > maxPeriodMs {
			maxPeriodMs = ms
		}
	}

	durationSec := int(math.Ceil(float64(maxPeriodMs) / 1000.0 * float64(numInstancesPerJob+1)))

	tasks := make(map[string]taskSpec, len(taskset.Tasks))
	priority := 99

	for i, task := range taskset.Tasks {
		tasks[taskName(i)] = taskSpec{
			Policy:   "SCHED_FIFO",
			Priority: priority,
			Run:      task.WCET.Micros(),
			Timer: timerSpec{
				Ref:    "unique",
				Period: task.Period.Micros(),
				Mode:   "absolute",
			},
		}

		priority--
	}

	cfg := rtAppConfig{
		Global: globalConfig{
			Duration:      durationSec,
			Calibration:   calibration,
			DefaultPolicy: "SCHED_OTHER",
			LogDir:        logDir,
			LogSize:       "file",
			LogBasename:   logBasename,
		},
		Tasks: tasks,
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")

	return data
}
