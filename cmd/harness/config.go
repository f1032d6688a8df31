package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"hcbs-harness/pkg/driver"
	"hcbs-harness/pkg/oscontrol"
)

const (
	envCgroupRoot     = "HARNESS_CGROUP_ROOT"
	envCgroupName     = "HARNESS_CGROUP_NAME"
	envMaxNumCPUs     = "HARNESS_MAX_CPUS"
	envMaxAllocableBW = "HARNESS_MAX_BW"
	envNumInstances   = "HARNESS_NUM_INSTANCES"
	envRunner         = "HARNESS_RUNNER"
	envTasksetsDir    = "HARNESS_TASKSETS_DIR"
	envOutputDir      = "HARNESS_OUTPUT_DIR"
	envScratchDir     = "HARNESS_SCRATCH_DIR"
	envBackgroundLoad = "HARNESS_BACKGROUND_LOAD"

	defaultCgroupName         = "g0"
	defaultMaxAllocableBW     = 0.90
	defaultNumInstancesPerJob = 200
	defaultRunner             = "periodic-thread"
	defaultBackgroundLoad     = driver.BackgroundLoadNone
)

// runtimeConfig is the merged batch configuration: built-in defaults,
// overridden by an optional YAML file, overridden again by environment
// variables, exactly as cmd/shaper/config.go layers its runtimeConfig.
type runtimeConfig struct {
	CgroupRoot         string
	CgroupName         string
	MaxNumCPUs         uint64
	MaxAllocableBW     float64
	NumInstancesPerJob uint64
	Runner             string
	TasksetsDir        string
	OutputDir          string
	ScratchDir         string
	BackgroundLoad     driver.BackgroundLoad
}

type fileConfig struct {
	CgroupRoot         *string  `yaml:"cgroupRoot"`
	CgroupName         *string  `yaml:"cgroupName"`
	MaxNumCPUs         *uint64  `yaml:"maxNumCpus"`
	MaxAllocableBW     *float64 `yaml:"maxAllocableBw"`
	NumInstancesPerJob *uint64  `yaml:"numInstancesPerJob"`
	Runner             *string  `yaml:"runner"`
	TasksetsDir        *string  `yaml:"tasksetsDir"`
	OutputDir          *string  `yaml:"outputDir"`
	ScratchDir         *string  `yaml:"scratchDir"`
	BackgroundLoad     *string  `yaml:"backgroundLoad"`
}

func defaultRuntimeConfig() runtimeConfig {
	numCPUs := runtime.NumCPU()
	if numCPUs <= 0 {
		numCPUs = 1
	}

	return runtimeConfig{
		CgroupRoot:         oscontrol.DefaultCgroupRoot,
		CgroupName:         defaultCgroupName,
		MaxNumCPUs:         uint64(numCPUs),
		MaxAllocableBW:     defaultMaxAllocableBW,
		NumInstancesPerJob: defaultNumInstancesPerJob,
		Runner:             defaultRunner,
		TasksetsDir:        "tasksets",
		OutputDir:          "results",
		ScratchDir:         "/tmp/hcbs-harness",
		BackgroundLoad:     defaultBackgroundLoad,
	}
}

func loadConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		applyEnvOverrides(&cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return runtimeConfig{}, fmt.Errorf("read config file %q: %w", trimmed, err)
		}
	} else {
		var fileCfg fileConfig

		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return runtimeConfig{}, fmt.Errorf("decode config file %q: %w", trimmed, err)
		}

		mergeConfig(&cfg, fileCfg)
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func mergeConfig(dst *runtimeConfig, src fileConfig) {
	assignString(&dst.CgroupRoot, src.CgroupRoot)
	assignString(&dst.CgroupName, src.CgroupName)
	assignUint64(&dst.MaxNumCPUs, src.MaxNumCPUs)
	assignFloat(&dst.MaxAllocableBW, src.MaxAllocableBW)
	assignUint64(&dst.NumInstancesPerJob, src.NumInstancesPerJob)
	assignString(&dst.Runner, src.Runner)
	assignString(&dst.TasksetsDir, src.TasksetsDir)
	assignString(&dst.OutputDir, src.OutputDir)
	assignString(&dst.ScratchDir, src.ScratchDir)

	if src.BackgroundLoad != nil {
		dst.BackgroundLoad = driver.BackgroundLoad(strings.TrimSpace(*src.BackgroundLoad))
	}
}

func applyEnvOverrides(cfg *runtimeConfig) {
	cfg.CgroupRoot = envString(envCgroupRoot, cfg.CgroupRoot)
	cfg.CgroupName = envString(envCgroupName, cfg.CgroupName)
	cfg.MaxNumCPUs = envUint64(envMaxNumCPUs, cfg.MaxNumCPUs)
	cfg.MaxAllocableBW = envFloat(envMaxAllocableBW, cfg.MaxAllocableBW)
	cfg.NumInstancesPerJob = envUint64(envNumInstances, cfg.NumInstancesPerJob)
	cfg.Runner = envString(envRunner, cfg.Runner)
	cfg.TasksetsDir = envString(envTasksetsDir, cfg.TasksetsDir)
	cfg.OutputDir = envString(envOutputDir, cfg.OutputDir)
	cfg.ScratchDir = envString(envScratchDir, cfg.ScratchDir)
	cfg.BackgroundLoad = driver.BackgroundLoad(envString(envBackgroundLoad, string(cfg.BackgroundLoad)))
}

var lookupEnv = os.LookupEnv //nolint:gochecknoglobals // overridden in tests

func assignString(target *string, value *string) {
	if value != nil {
		*target = strings.TrimSpace(*value)
	}
}

func assignFloat(target *float64, value *float64) {
	if value != nil {
		*target = *value
	}
}

func assignUint64(target *uint64, value *uint64) {
	if value != nil {
		*target = *value
	}
}

func envString(key, fallback string) string {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	return trimmed
}

func envFloat(key string, fallback float64) float64 {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}

	return parsed
}

func envUint64(key string, fallback uint64) uint64 {
	value, ok := lookupEnv(key)
	if !ok {
		return fallback
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}

	parsed, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return fallback
	}

	return parsed
}
