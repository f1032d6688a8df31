// Package serde implements the line-oriented textual formats used to
// persist tasksets, MPR configs, and run results to disk (spec.md §4.4).
// Every format is whitespace-tolerant on read and whitespace-name-rejecting
// on write, following test_suite_rs's skeleton/parser.rs.
package serde

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/rtmodel"
)

// ErrMalformed is returned when input text does not match the expected
// line format for a taskset, config, or result file.
var ErrMalformed = errors.New("serde: malformed input")

const (
	tasksetHeader = "Taskset"
	configHeader  = "Config"
	resultsHeader = "Results"
	resultColumns = "Task Job AbsActivation_us RelStart_us RelFinish_us DlOffset"
)

// SerializeTaskset renders a taskset as "Taskset <name>" followed by one
// "<wcet_ms> <deadline_ms> <period_ms>" line per task, in the order the
// taskset already holds them (callers get non-decreasing period order for
// free from rtmodel.NewNamedTaskset).
func SerializeTaskset(ts rtmodel.NamedTaskset) (string, error) {
	if err := rejectWhitespaceName(ts.Name); err != nil {
		return "", err
	}

	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", tasksetHeader, ts.Name)

	for _, task := range ts.Tasks {
		fmt.Fprintf(&b, "%d %d %d\n", task.WCET.Millis(), task.Deadline.Millis(), task.Period.Millis())
	}

	return b.String(), nil
}

// ParseTaskset parses the format produced by SerializeTaskset.
func ParseTaskset(data string) (rtmodel.NamedTaskset, error) {
	lines := splitNonEmptyLines(data)
	if len(lines) == 0 {
		return rtmodel.NamedTaskset{}, fmt.Errorf("%w: empty taskset input", ErrMalformed)
	}

	header := strings.Fields(lines[0])
	if len(header) != 2 || header[0] != tasksetHeader {
		return rtmodel.NamedTaskset{}, fmt.Errorf("%w: expected %q header, got %q", ErrMalformed, tasksetHeader, lines[0])
	}

	name := header[1]

	tasks := make([]rtmodel.RTTask, 0, len(lines)-1)

	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return rtmodel.NamedTaskset{}, fmt.Errorf("%w: taskset line %q wants 3 fields, got %d", ErrMalformed, line, len(fields))
		}

		wcetMs, deadlineMs, periodMs, err := parseThreeInts(fields)
		if err != nil {
			return rtmodel.NamedTaskset{}, fmt.Errorf("%w: taskset line %q: %s", ErrMalformed, line, err)
		}

		task, err := rtmodel.NewRTTask(rtime.FromMillis(wcetMs), rtime.FromMillis(deadlineMs), rtime.FromMillis(periodMs))
		if err != nil {
			return rtmodel.NamedTaskset{}, fmt.Errorf("taskset line %q: %w", line, err)
		}

		tasks = append(tasks, task)
	}

	ts, err := rtmodel.NewNamedTaskset(name, tasks)
	if err != nil {
		return rtmodel.NamedTaskset{}, err
	}

	return ts, nil
}

// SerializeConfig renders a single "Config <name> <cpus> <runtime_ms>
// <period_ms>" line, with no trailing newline.
func SerializeConfig(cfg rtmodel.NamedConfig) (string, error) {
	if err := rejectWhitespaceName(cfg.Name); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s %s %d %d %d", configHeader, cfg.Name, cfg.CPUs, cfg.Runtime.Millis(), cfg.Period.Millis()), nil
}

// rejectWhitespaceName guards the serializer boundary: NamedTaskset and
// NamedConfig have exported fields, so a struct literal can carry a
// whitespace-containing name past rtmodel's smart constructors.
func rejectWhitespaceName(name string) error {
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q", rtmodel.ErrNameHasWhitespace, name)
	}

	return nil
}

// ParseConfig parses the format produced by SerializeConfig.
func ParseConfig(data string) (rtmodel.NamedConfig, error) {
	fields := strings.Fields(data)
	if len(fields) != 5 || fields[0] != configHeader {
		return rtmodel.NamedConfig{}, fmt.Errorf("%w: expected %q line with 5 fields, got %q", ErrMalformed, configHeader, data)
	}

	cpus, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return rtmodel.NamedConfig{}, fmt.Errorf("%w: cpus field %q: %s", ErrMalformed, fields[2], err)
	}

	runtimeMs, periodMs, err := parseTwoInts(fields[3], fields[4])
	if err != nil {
		return rtmodel.NamedConfig{}, fmt.Errorf("%w: %s", ErrMalformed, err)
	}

	cfg, err := rtmodel.NewNamedConfig(fields[1], cpus, rtime.FromMillis(runtimeMs), rtime.FromMillis(periodMs))
	if err != nil {
		return rtmodel.NamedConfig{}, err
	}

	return cfg, nil
}

// SerializeResult renders the "Results" header, column header line, and one
// data line per recorded job activation. taskset supplies each instance's
// deadline so DlOffset can be recomputed rather than carried as separate,
// potentially stale state.
func SerializeResult(taskset rtmodel.NamedTaskset, instances []rtmodel.TasksetRunResultInstance) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n%s\n", resultsHeader, resultColumns)

	for _, inst := range instances {
		task, err := taskAt(taskset, inst.TaskIndex)
		if err != nil {
			return "", err
		}

		fmt.Fprintf(&b, "%d %d %d %d %d %d\n",
			inst.TaskIndex,
			inst.InstanceIndex,
			inst.AbsActivationTime.Micros(),
			inst.RelStartTime.Micros(),
			inst.RelFinishTime.Micros(),
			inst.Overrun(task).Micros(),
		)
	}

	return b.String(), nil
}

// ParseResult parses the format produced by SerializeResult. The on-disk
// DlOffset column is validated against the recomputed overrun (task
// deadline vs. rel finish time) but is not itself carried into
// TasksetRunResultInstance, which derives overrun on demand.
func ParseResult(taskset rtmodel.NamedTaskset, data string) ([]rtmodel.TasksetRunResultInstance, error) {
	lines := splitNonEmptyLines(data)
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: result input too short", ErrMalformed)
	}

	if strings.TrimSpace(lines[0]) != resultsHeader {
		return nil, fmt.Errorf("%w: expected %q header, got %q", ErrMalformed, resultsHeader, lines[0])
	}

	if strings.Join(strings.Fields(lines[1]), " ") != resultColumns {
		return nil, fmt.Errorf("%w: unexpected column header %q", ErrMalformed, lines[1])
	}

	instances := make([]rtmodel.TasksetRunResultInstance, 0, len(lines)-2)

	for _, line := range lines[2:] {
		inst, dlOffsetUs, err := parseResultLine(line)
		if err != nil {
			return nil, err
		}

		task, err := taskAt(taskset, inst.TaskIndex)
		if err != nil {
			return nil, err
		}

		if got := inst.Overrun(task).Micros(); got != dlOffsetUs {
			return nil, fmt.Errorf(
				"%w: line %q records DlOffset %d but task %d's deadline implies %d",
				ErrMalformed, line, dlOffsetUs, inst.TaskIndex, got,
			)
		}

		instances = append(instances, inst)
	}

	return instances, nil
}

func parseResultLine(line string) (rtmodel.TasksetRunResultInstance, int64, error) {
	fields := strings.Fields(line)
	if len(fields) != 6 {
		return rtmodel.TasksetRunResultInstance{}, 0, fmt.Errorf("%w: result line %q wants 6 fields, got %d", ErrMalformed, line, len(fields))
	}

	values := make([]int64, 6)

	for i, field := range fields {
		v, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return rtmodel.TasksetRunResultInstance{}, 0, fmt.Errorf("%w: result line %q field %q: %s", ErrMalformed, line, field, err)
		}

		values[i] = v
	}

	inst := rtmodel.TasksetRunResultInstance{
		TaskIndex:         uint64(values[0]),
		InstanceIndex:     uint64(values[1]),
		AbsActivationTime: rtime.FromMicros(values[2]),
		RelStartTime:      rtime.FromMicros(values[3]),
		RelFinishTime:     rtime.FromMicros(values[4]),
	}

	return inst, values[5], nil
}

func taskAt(taskset rtmodel.NamedTaskset, index uint64) (rtmodel.RTTask, error) {
	if index >= uint64(len(taskset.Tasks)) {
		return rtmodel.RTTask{}, fmt.Errorf("%w: task index %d out of range for taskset %q (%d tasks)",
			ErrMalformed, index, taskset.Name, len(taskset.Tasks))
	}

	return taskset.Tasks[index], nil
}

func parseThreeInts(fields []string) (int64, int64, int64, error) {
	a, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}

	b, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}

	c, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}

	return a, b, c, nil
}

func parseTwoInts(a, b string) (int64, int64, error) {
	x, err := strconv.ParseInt(a, 10, 64)
	if err != nil {
		return 0, 0, err
	}

	y, err := strconv.ParseInt(b, 10, 64)
	if err != nil {
		return 0, 0, err
	}

	return x, y, nil
}

func splitNonEmptyLines(data string) []string {
	var lines []string

	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		lines = append(lines, line)
	}

	return lines
}
