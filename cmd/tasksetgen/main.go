// Package main wires the taskset generator CLI: a Cartesian-product sweep
// over a utilization/period grid producing named tasksets, crossed with a
// cgroup-period grid producing admissible MPR configs for each, grounded
// on bin/taskset_gen/main.rs in the original test suite.
package main

//nolint:depguard // main wires project-internal modules only
import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"hcbs-harness/internal/buildinfo"
	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/serde"
	"hcbs-harness/pkg/taskgen"
)

const (
	exitCodeSuccess      = 0
	exitCodeRuntimeError = 1
	exitCodeParseError   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type cliOptions struct {
	seed                   uint64
	tasksetsPerUtilization uint64
	minNumTasks            uint64
	maxNumTasks            uint64
	minTaskPeriodMs        uint64
	maxTaskPeriodMs        uint64
	stepTaskPeriodMs       uint64
	minUtilization         float64
	maxUtilization         float64
	stepUtilization        float64
	minCgroupPeriodMs      uint64
	maxCgroupPeriodMs      uint64
	stepCgroupPeriodMs     uint64
	maxPerCoreBandwidth    float64
	outDir                 string
}

func parseFlags(args []string) (cliOptions, error) {
	defaults := defaultTasksetOptions()
	analysisDefaults := defaultAnalysisOptions(0)

	opts := cliOptions{
		seed:                   defaultGeneratorSeed,
		tasksetsPerUtilization: defaults.TasksetsPerUtilization,
		minNumTasks:            defaults.MinNumTasks,
		maxNumTasks:            defaults.MaxNumTasks,
		minTaskPeriodMs:        uint64(defaults.MinTaskPeriod.Millis()),
		maxTaskPeriodMs:        uint64(defaults.MaxTaskPeriod.Millis()),
		stepTaskPeriodMs:       uint64(defaults.StepTaskPeriod.Millis()),
		minUtilization:         defaults.MinUtilization,
		maxUtilization:         defaults.MaxUtilization,
		stepUtilization:        defaults.StepUtilization,
		minCgroupPeriodMs:      uint64(analysisDefaults.MinCgroupPeriod.Millis()),
		maxCgroupPeriodMs:      uint64(analysisDefaults.MaxCgroupPeriod.Millis()),
		stepCgroupPeriodMs:     uint64(analysisDefaults.StepCgroupPeriod.Millis()),
		maxPerCoreBandwidth:    analysisDefaults.MaxPerCoreBandwidth,
	}

	fs := flag.NewFlagSet("tasksetgen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.Uint64Var(&opts.seed, "R", opts.seed, "RNG seed")
	fs.Uint64Var(&opts.tasksetsPerUtilization, "tasksets-per-utilization", opts.tasksetsPerUtilization, "Tasksets generated per utilization value")
	fs.Uint64Var(&opts.minNumTasks, "n", opts.minNumTasks, "Minimum number of tasks in a taskset")
	fs.Uint64Var(&opts.maxNumTasks, "N", opts.maxNumTasks, "Maximum number of tasks in a taskset")
	fs.Uint64Var(&opts.minTaskPeriodMs, "p", opts.minTaskPeriodMs, "Minimum task period (ms)")
	fs.Uint64Var(&opts.maxTaskPeriodMs, "P", opts.maxTaskPeriodMs, "Maximum task period (ms)")
	fs.Uint64Var(&opts.stepTaskPeriodMs, "p-gran", opts.stepTaskPeriodMs, "Task period granularity (ms)")
	fs.Float64Var(&opts.minUtilization, "u", opts.minUtilization, "Minimum taskset utilization")
	fs.Float64Var(&opts.maxUtilization, "U", opts.maxUtilization, "Maximum taskset utilization")
	fs.Float64Var(&opts.stepUtilization, "u-gran", opts.stepUtilization, "Taskset utilization granularity")
	fs.Uint64Var(&opts.minCgroupPeriodMs, "c", opts.minCgroupPeriodMs, "Minimum cgroup period (ms)")
	fs.Uint64Var(&opts.maxCgroupPeriodMs, "C", opts.maxCgroupPeriodMs, "Maximum cgroup period (ms)")
	fs.Uint64Var(&opts.stepCgroupPeriodMs, "c-gran", opts.stepCgroupPeriodMs, "Cgroup period granularity (ms)")
	fs.Float64Var(&opts.maxPerCoreBandwidth, "max-core-bw", opts.maxPerCoreBandwidth, "Maximum RT bandwidth per core")
	fs.StringVar(&opts.outDir, "O", "", "Output directory for generated tasksets")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse CLI arguments: %w", err)
	}

	return opts, nil
}

func (o cliOptions) tasksetOptions() taskgen.TasksetOptions {
	return taskgen.TasksetOptions{
		TasksetsPerUtilization: o.tasksetsPerUtilization,
		MinNumTasks:            o.minNumTasks,
		MaxNumTasks:            o.maxNumTasks,
		MinTaskPeriod:          rtime.FromMillis(int64(o.minTaskPeriodMs)),
		MaxTaskPeriod:          rtime.FromMillis(int64(o.maxTaskPeriodMs)),
		StepTaskPeriod:         rtime.FromMillis(int64(o.stepTaskPeriodMs)),
		MinUtilization:         o.minUtilization,
		MaxUtilization:         o.maxUtilization,
		StepUtilization:        o.stepUtilization,
	}
}

func (o cliOptions) analysisOptions(maxCores uint64) taskgen.AnalysisOptions {
	opts := defaultAnalysisOptions(maxCores)
	opts.MinCgroupPeriod = rtime.FromMillis(int64(o.minCgroupPeriodMs))
	opts.MaxCgroupPeriod = rtime.FromMillis(int64(o.maxCgroupPeriodMs))
	opts.StepCgroupPeriod = rtime.FromMillis(int64(o.stepCgroupPeriodMs))
	opts.MaxPerCoreBandwidth = o.maxPerCoreBandwidth

	return opts
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && (args[0] == "-version" || args[0] == "--version") {
		info := buildinfo.Current()
		fmt.Fprintf(stdout, "tasksetgen %s (%s, %s)\n", info.Version, info.GitCommit, info.BuildDate)

		return exitCodeSuccess
	}

	opts, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeParseError
	}

	if opts.outDir == "" {
		fmt.Fprintln(stderr, "tasksetgen: -O <output dir> is required")
		return exitCodeParseError
	}

	if _, err := os.Stat(opts.outDir); err == nil {
		fmt.Fprintf(stdout, "Output folder %s already exists.\n", opts.outDir)
		return exitCodeRuntimeError
	} else if !os.IsNotExist(err) {
		fmt.Fprintln(stderr, err)
		return exitCodeRuntimeError
	}

	maxCores := uint64(runtime.NumCPU())
	if maxCores == 0 {
		maxCores = 1
	}

	tasksets, err := taskgen.GenerateTasksets(opts.tasksetOptions(), opts.seed)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeRuntimeError
	}

	analysisOpts := opts.analysisOptions(maxCores)

	for n, ts := range tasksets {
		fmt.Fprintf(stdout, "Generating configs for taskset %d/%d\r", n+1, len(tasksets))

		if err := writeTaskset(opts.outDir, ts, taskgen.GenerateConfigs(ts, analysisOpts)); err != nil {
			fmt.Fprintln(stderr, err)
			return exitCodeRuntimeError
		}
	}

	fmt.Fprintln(stdout)

	return exitCodeSuccess
}

// writeTaskset persists one taskset's directory: taskset.txt plus one
// cfgN config file per admissible MPR interface found for it.
func writeTaskset(outDir string, ts rtmodel.NamedTaskset, configs []rtmodel.NamedConfig) error {
	tasksetDir := filepath.Join(outDir, ts.Name)

	if err := os.MkdirAll(tasksetDir, 0o755); err != nil {
		return fmt.Errorf("tasksetgen: create taskset directory %s: %w", tasksetDir, err)
	}

	tasksetData, err := serde.SerializeTaskset(ts)
	if err != nil {
		return fmt.Errorf("tasksetgen: serialize taskset %s: %w", ts.Name, err)
	}

	if err := os.WriteFile(filepath.Join(tasksetDir, "taskset.txt"), []byte(tasksetData), 0o644); err != nil {
		return fmt.Errorf("tasksetgen: write taskset.txt for %s: %w", ts.Name, err)
	}

	for _, cfg := range configs {
		cfgData, err := serde.SerializeConfig(cfg)
		if err != nil {
			return fmt.Errorf("tasksetgen: serialize config %s/%s: %w", ts.Name, cfg.Name, err)
		}

		path := filepath.Join(tasksetDir, cfg.Name)
		if err := os.WriteFile(path, []byte(cfgData), 0o644); err != nil {
			return fmt.Errorf("tasksetgen: write config %s: %w", path, err)
		}
	}

	return nil
}
