package rtapp

import (
	"os"
	"testing"
)

func TestParseTaskLogRowDerivesFields(t *testing.T) {
	t.Parallel()

	// idx perf run  period start end  rel_st slack c_duration c_period wu_lat ftrace uid
	line := "0    100  10000 100000 500000 510000 0 2000 10000 100000 0 0 0"

	inst, err := parseTaskLogRow(0, 3, line)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inst.InstanceIndex != 3 {
		t.Fatalf("expected instance index 3, got %d", inst.InstanceIndex)
	}

	if inst.AbsActivationTime.Micros() != 500000 {
		t.Fatalf("expected abs_activation_time 500000, got %d", inst.AbsActivationTime.Micros())
	}

	// rel_finish = c_period(100000) - slack(2000) = 98000
	if inst.RelFinishTime.Micros() != 98000 {
		t.Fatalf("expected rel_finish_time 98000, got %d", inst.RelFinishTime.Micros())
	}

	// rel_start = rel_finish(98000) - run(10000) = 88000
	if inst.RelStartTime.Micros() != 88000 {
		t.Fatalf("expected rel_start_time 88000, got %d", inst.RelStartTime.Micros())
	}
}

func TestParseTaskLogRowRejectsWrongFieldCount(t *testing.T) {
	t.Parallel()

	if _, err := parseTaskLogRow(0, 0, "1 2 3"); err == nil {
		t.Fatalf("expected an error for a short row")
	}
}

func TestParseTaskLogSkipsThreeHeaderRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := dir + "/rt-app-task00-0.log"

	content := "#idx perf run period\n" +
		"start end rel_st slack\n" +
		"c_duration c_period wu_lat\n" +
		"0 100 10000 100000 500000 510000 0 2000 10000 100000 0 0 0\n" +
		"0 100 10000 100000 600000 610000 0 1000 10000 100000 0 0 0\n"

	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	instances, err := parseTaskLog(0, logPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(instances))
	}

	if instances[0].InstanceIndex != 0 || instances[1].InstanceIndex != 1 {
		t.Fatalf("expected sequential instance indices, got %d, %d", instances[0].InstanceIndex, instances[1].InstanceIndex)
	}
}
