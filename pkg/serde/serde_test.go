package serde_test

import (
	"errors"
	"strings"
	"testing"

	"hcbs-harness/pkg/rtime"
	"hcbs-harness/pkg/rtmodel"
	"hcbs-harness/pkg/serde"
)

func mustTaskset(t *testing.T) rtmodel.NamedTaskset {
	t.Helper()

	task1, err := rtmodel.NewRTTask(rtime.FromMillis(10), rtime.FromMillis(100), rtime.FromMillis(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task2, err := rtmodel.NewRTTask(rtime.FromMillis(5), rtime.FromMillis(50), rtime.FromMillis(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ts, err := rtmodel.NewNamedTaskset("taskset_U0.3_N02_000", []rtmodel.RTTask{task1, task2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return ts
}

func TestTasksetRoundTrip(t *testing.T) {
	t.Parallel()

	ts := mustTaskset(t)

	text, err := serde.SerializeTaskset(ts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := serde.ParseTaskset(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if parsed.Name != ts.Name || len(parsed.Tasks) != len(ts.Tasks) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, ts)
	}

	for i := range ts.Tasks {
		if parsed.Tasks[i] != ts.Tasks[i] {
			t.Fatalf("task %d mismatch: got %+v, want %+v", i, parsed.Tasks[i], ts.Tasks[i])
		}
	}
}

func TestParseTasksetToleratesSurroundingWhitespace(t *testing.T) {
	t.Parallel()

	text := "Taskset demo\n  10 100 100  \n 5 50 50\n\n"

	ts, err := serde.ParseTaskset(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ts.Name != "demo" || len(ts.Tasks) != 2 {
		t.Fatalf("unexpected parse result: %+v", ts)
	}
}

func TestParseTasksetRejectsMalformedLine(t *testing.T) {
	t.Parallel()

	_, err := serde.ParseTaskset("Taskset demo\n10 100\n")
	if !errors.Is(err, serde.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	cfg, err := rtmodel.NewNamedConfig("cfg0", 2, rtime.FromMillis(50), rtime.FromMillis(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text, err := serde.SerializeConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(text, "Config cfg0 2 50 100") {
		t.Fatalf("unexpected serialized config: %q", text)
	}

	parsed, err := serde.ParseConfig(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if parsed != cfg {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, cfg)
	}
}

func TestSerializeTasksetRejectsWhitespaceInName(t *testing.T) {
	t.Parallel()

	task, err := rtmodel.NewRTTask(rtime.FromMillis(10), rtime.FromMillis(100), rtime.FromMillis(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A struct literal bypasses NewNamedTaskset's validateName check, so
	// the serializer must enforce the same invariant on write.
	ts := rtmodel.NamedTaskset{Name: "bad name", Tasks: []rtmodel.RTTask{task}}

	if _, err := serde.SerializeTaskset(ts); !errors.Is(err, rtmodel.ErrNameHasWhitespace) {
		t.Fatalf("expected ErrNameHasWhitespace, got %v", err)
	}
}

func TestSerializeConfigRejectsWhitespaceInName(t *testing.T) {
	t.Parallel()

	cfg := rtmodel.NamedConfig{Name: "bad\tname", CPUs: 1, Runtime: rtime.FromMillis(10), Period: rtime.FromMillis(20)}

	if _, err := serde.SerializeConfig(cfg); !errors.Is(err, rtmodel.ErrNameHasWhitespace) {
		t.Fatalf("expected ErrNameHasWhitespace, got %v", err)
	}
}

func TestParseConfigRejectsWrongHeader(t *testing.T) {
	t.Parallel()

	_, err := serde.ParseConfig("Taskset cfg0 2 50 100")
	if !errors.Is(err, serde.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestResultRoundTripWithSignedOverrun(t *testing.T) {
	t.Parallel()

	ts := mustTaskset(t)

	// NewNamedTaskset sorts by period ascending, so index 1 is the
	// wcet=10/deadline=100/period=100 task.
	instances := []rtmodel.TasksetRunResultInstance{
		{
			TaskIndex:         1,
			InstanceIndex:     0,
			AbsActivationTime: rtime.Zero,
			RelStartTime:      rtime.FromMicros(1000),
			RelFinishTime:     rtime.FromMillis(98),
		},
		{
			TaskIndex:         1,
			InstanceIndex:     1,
			AbsActivationTime: rtime.FromMillis(100),
			RelStartTime:      rtime.FromMicros(500),
			RelFinishTime:     rtime.FromMillis(103),
		},
	}

	text, err := serde.SerializeResult(ts, instances)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(text, "Task Job AbsActivation_us RelStart_us RelFinish_us DlOffset") {
		t.Fatalf("missing column header in %q", text)
	}

	parsed, err := serde.ParseResult(ts, text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(parsed) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(parsed))
	}

	if parsed[0].Overrun(ts.Tasks[1]).Millis() != -2 {
		t.Fatalf("expected first job to finish 2ms early, got overrun %v", parsed[0].Overrun(ts.Tasks[1]))
	}

	if parsed[1].Overrun(ts.Tasks[1]).Millis() != 3 {
		t.Fatalf("expected second job to miss its deadline by 3ms, got overrun %v", parsed[1].Overrun(ts.Tasks[1]))
	}
}

func TestParseResultRejectsTamperedDlOffset(t *testing.T) {
	t.Parallel()

	ts := mustTaskset(t)

	text := "Results\nTask Job AbsActivation_us RelStart_us RelFinish_us DlOffset\n0 0 0 1000 98000 999\n"

	_, err := serde.ParseResult(ts, text)
	if !errors.Is(err, serde.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for a DlOffset that doesn't match the recomputed overrun, got %v", err)
	}
}

func TestParseResultRejectsOutOfRangeTaskIndex(t *testing.T) {
	t.Parallel()

	ts := mustTaskset(t)

	text := "Results\nTask Job AbsActivation_us RelStart_us RelFinish_us DlOffset\n9 0 0 1000 98000 -2000\n"

	_, err := serde.ParseResult(ts, text)
	if !errors.Is(err, serde.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for an out-of-range task index, got %v", err)
	}
}
