// Package reader replays previously persisted taskset run results without
// touching OS scheduling state or spawning workloads, for the harness's
// read-results subcommand.
package reader

import (
	"fmt"
	"os"

	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/serde"
)

// ReadResult loads and parses the result file at path, validating it
// against taskset and pairing it with config.
func ReadResult(taskset rtmodel.NamedTaskset, config rtmodel.NamedConfig, path string) (rtmodel.TasksetRunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rtmodel.TasksetRunResult{}, fmt.Errorf("reader: read %s: %w", path, err)
	}

	instances, err := serde.ParseResult(taskset, string(data))
	if err != nil {
		return rtmodel.TasksetRunResult{}, fmt.Errorf("reader: parse %s: %w", path, err)
	}

	return rtmodel.TasksetRunResult{Taskset: taskset, Config: config, Results: instances}, nil
}

// ReadRuns reads the result file for every run in runs that already has one
// on disk, skipping (without error) any run whose result file is missing.
func ReadRuns(runs []rtmodel.TasksetRun) ([]rtmodel.TasksetRunResult, error) {
	results := make([]rtmodel.TasksetRunResult, 0, len(runs))

	for _, run := range runs {
		if _, err := os.Stat(run.ResultsFilePath); err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, fmt.Errorf("reader: stat %s: %w", run.ResultsFilePath, err)
		}

		result, err := ReadResult(run.Taskset, run.Config, run.ResultsFilePath)
		if err != nil {
			return nil, err
		}

		results = append(results, result)
	}

	return results, nil
}
