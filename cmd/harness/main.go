// Package main wires the harness CLI entrypoint: the batch ("all"),
// single-run ("single"), and offline-replay ("read-results") subcommands
// described in spec.md §6.
package main

//nolint:depguard // main wires project-internal modules and zap logging
import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"hcbs-harness/internal/buildinfo"
	"hcbs-harness/pkg/driver"
	"hcbs-harness/pkg/metrics"
	"hcbs-harness/pkg/planner"
	"hcbs-harness/pkg/reader"
	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/workload"
)

const (
	defaultLogLevel = "info"

	exitCodeSuccess      = 0
	exitCodeRuntimeError = 1
	exitCodeParseError   = 2
)

var (
	errMissingSubcommand = errors.New("harness: missing subcommand (all, single, read-results)")
	errUnknownSubcommand = errors.New("harness: unknown subcommand")
	errMissingRunArgs    = errors.New("harness: single requires <taskset-file> <config-file>")
)

func main() {
	code := run(context.Background(), os.Args[1:], defaultRunDeps(), os.Stdout, os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

type runDeps struct {
	newLogger func(level string) (*zap.Logger, error)
	newDriver func(opts driver.Options, adapter workload.Adapter, reporter *driver.Reporter) *driver.Driver
}

func defaultRunDeps() runDeps {
	return runDeps{
		newLogger: newLogger,
		newDriver: driver.New,
	}
}

func run(_ context.Context, args []string, deps runDeps, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, errMissingSubcommand)
		return exitCodeParseError
	}

	if args[0] == "-version" || args[0] == "--version" {
		info := buildinfo.Current()
		fmt.Fprintf(stdout, "harness %s (%s, %s)\n", info.Version, info.GitCommit, info.BuildDate)

		return exitCodeSuccess
	}

	subcommand, rest := args[0], args[1:]

	opts, err := parseBaseFlags(subcommand, rest)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeParseError
	}

	logger, err := deps.newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "failed to configure logger: %v\n", err)
		return exitCodeRuntimeError
	}

	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeRuntimeError
	}

	opts.applyTo(&cfg)

	switch subcommand {
	case "all":
		return runAll(cfg, deps, logger, stdout, stderr)
	case "single":
		return runSingle(cfg, opts.positional, deps, logger, stdout, stderr)
	case "read-results":
		return runReadResults(cfg, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "%s: %q\n", errUnknownSubcommand, subcommand)
		return exitCodeParseError
	}
}

func runAll(cfg runtimeConfig, deps runDeps, logger *zap.Logger, stdout, _ io.Writer) int {
	runs, err := planner.Enumerate(cfg.TasksetsDir, cfg.OutputDir)
	if err != nil {
		logger.Error("enumerate runs failed", zap.Error(err))
		return exitCodeRuntimeError
	}

	adapter, err := driver.NewAdapter(driver.Backend(cfg.Runner), cfg.ScratchDir, logger)
	if err != nil {
		logger.Error("build adapter failed", zap.Error(err))
		return exitCodeRuntimeError
	}

	d := deps.newDriver(toDriverOptions(cfg, logger), adapter, driver.NewReporter(stdout))

	if err := d.RunAll(runs); err != nil {
		logger.Error("batch run failed", zap.Error(err))
		return exitCodeRuntimeError
	}

	return exitCodeSuccess
}

func runSingle(cfg runtimeConfig, positional []string, deps runDeps, logger *zap.Logger, stdout, stderr io.Writer) int {
	if len(positional) < 2 {
		fmt.Fprintln(stderr, errMissingRunArgs)
		return exitCodeParseError
	}

	tasksetPath, configPath := positional[0], positional[1]

	taskset, err := readTasksetFile(tasksetPath)
	if err != nil {
		logger.Error("read taskset failed", zap.Error(err))
		return exitCodeRuntimeError
	}

	config, err := readConfigFile(configPath)
	if err != nil {
		logger.Error("read config failed", zap.Error(err))
		return exitCodeRuntimeError
	}

	run := rtmodel.TasksetRun{
		Taskset:         taskset,
		Config:          config,
		ResultsFilePath: cfg.OutputDir + "/" + taskset.Name + "/output-" + config.Name,
	}

	adapter, err := driver.NewAdapter(driver.Backend(cfg.Runner), cfg.ScratchDir, logger)
	if err != nil {
		logger.Error("build adapter failed", zap.Error(err))
		return exitCodeRuntimeError
	}

	d := deps.newDriver(toDriverOptions(cfg, logger), adapter, driver.NewReporter(stdout))

	result, err := d.RunSingle(run)
	if err != nil {
		logger.Error("single run failed", zap.Error(err))
		return exitCodeRuntimeError
	}

	insights := metrics.ComputeResultInsights(result)
	fmt.Fprintf(stdout, "overruns: %d (%.2f%%), worst overrun: %s\n",
		insights.NumOverruns, insights.OverrunsRatio*100, insights.WorstOverrun)

	return exitCodeSuccess
}

func runReadResults(cfg runtimeConfig, stdout, stderr io.Writer) int {
	runs, err := planner.Enumerate(cfg.TasksetsDir, cfg.OutputDir)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeRuntimeError
	}

	results, err := reader.ReadRuns(runs)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitCodeRuntimeError
	}

	for _, result := range results {
		insights := metrics.ComputeResultInsights(result)
		fmt.Fprintf(stdout, "%s on %s: %d overruns (%.2f%%), worst overrun %s\n",
			result.Taskset.Name, result.Config.Name, insights.NumOverruns, insights.OverrunsRatio*100, insights.WorstOverrun)
	}

	return exitCodeSuccess
}

func toDriverOptions(cfg runtimeConfig, logger *zap.Logger) driver.Options {
	return driver.Options{
		CgroupRoot:         cfg.CgroupRoot,
		CgroupName:         cfg.CgroupName,
		MaxNumCPUs:         cfg.MaxNumCPUs,
		MaxAllocableBW:     cfg.MaxAllocableBW,
		NumInstancesPerJob: cfg.NumInstancesPerJob,
		ScratchDir:         cfg.ScratchDir,
		BackgroundLoad:     cfg.BackgroundLoad,
		Logger:             logger,
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}

	cfg := zap.NewProductionConfig()

	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger, nil
}

var errInvalidLogLevel = errors.New("invalid log level")

type cliOptions struct {
	configPath     string
	logLevel       string
	cgroupName     string
	numCPUs        uint64
	maxBW          float64
	numJobs        uint64
	runner         string
	backgroundLoad string
	positional     []string
}

func (o cliOptions) applyTo(cfg *runtimeConfig) {
	if o.cgroupName != "" {
		cfg.CgroupName = o.cgroupName
	}

	if o.numCPUs != 0 {
		cfg.MaxNumCPUs = o.numCPUs
	}

	if o.maxBW != 0 {
		cfg.MaxAllocableBW = o.maxBW
	}

	if o.numJobs != 0 {
		cfg.NumInstancesPerJob = o.numJobs
	}

	if o.runner != "" {
		cfg.Runner = o.runner
	}

	if o.backgroundLoad != "" {
		cfg.BackgroundLoad = driver.BackgroundLoad(o.backgroundLoad)
	}
}

func parseBaseFlags(subcommand string, args []string) (cliOptions, error) {
	var opts cliOptions

	fs := flag.NewFlagSet("harness "+subcommand, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.configPath, "config", "", "Path to the harness YAML config file")
	fs.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "Structured log level (debug, info, warn, error)")
	fs.StringVar(&opts.cgroupName, "c", "", "Name of the experiment cgroup")
	fs.Uint64Var(&opts.numCPUs, "n", 0, "Number of CPUs available on this machine")
	fs.Float64Var(&opts.maxBW, "b", 0, "Maximum allocable RT bandwidth fraction")
	fs.Uint64Var(&opts.numJobs, "j", 0, "Number of job instances to collect per taskset run")
	fs.StringVar(&opts.runner, "runner", "", "Workload backend: periodic-thread or rt-app")
	fs.StringVar(&opts.backgroundLoad, "background-load", "", "Auxiliary load generator to hold running for each run: hog or yes")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse CLI arguments: %w", err)
	}

	opts.logLevel = strings.TrimSpace(opts.logLevel)
	opts.positional = fs.Args()

	return opts, nil
}
