//go:build integration

// Package integration exercises the harness against a real cgroup v1 RT
// bandwidth controller, mirroring the Docker-gated tests in the teacher's
// own tests/integration package: skip on non-Linux hosts and when the
// required filesystem/binaries are absent rather than failing the suite.
package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"go.uber.org/zap/zaptest"

	"hcbs-harness/pkg/oscontrol"
	"hcbs-harness/pkg/rtime"
)

func TestCgroupProvisionsAndTearsDownRTBandwidth(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("cgroup v1 RT bandwidth requires a Linux host")
	}

	root := cgroupRootOrSkip(t)

	logger := zaptest.NewLogger(t)

	runtimeUs := rtime.FromMicros(50_000)
	periodUs := rtime.FromMicros(100_000)

	cg, err := oscontrol.New(root, "harness-integration-test", runtimeUs, periodUs, logger)
	if err != nil {
		t.Fatalf("provision cgroup: %v", err)
	}

	defer func() {
		if err := cg.Close(); err != nil {
			t.Errorf("close cgroup: %v", err)
		}
	}()

	gotRuntime, err := oscontrol.RuntimeUs(cg.Path())
	if err != nil {
		t.Fatalf("read back cpu.rt_runtime_us: %v", err)
	}

	if gotRuntime != runtimeUs.Micros() {
		t.Fatalf("expected rt_runtime_us %d, got %d", runtimeUs.Micros(), gotRuntime)
	}

	gotPeriod, err := oscontrol.PeriodUs(cg.Path())
	if err != nil {
		t.Fatalf("read back cpu.rt_period_us: %v", err)
	}

	if gotPeriod != periodUs.Micros() {
		t.Fatalf("expected rt_period_us %d, got %d", periodUs.Micros(), gotPeriod)
	}

	if err := cg.Migrate(os.Getpid()); err != nil {
		t.Fatalf("migrate self into cgroup: %v", err)
	}

	tasksPath := filepath.Join(cg.Path(), "tasks")

	data, err := os.ReadFile(tasksPath)
	if err != nil {
		t.Fatalf("read tasks file: %v", err)
	}

	wantPid := strconv.Itoa(os.Getpid())
	if !containsLine(string(data), wantPid) {
		t.Fatalf("expected tasks file to contain pid %s, got %q", wantPid, data)
	}
}

func containsLine(data, line string) bool {
	for _, candidate := range splitLines(data) {
		if candidate == line {
			return true
		}
	}

	return false
}

func splitLines(data string) []string {
	var lines []string

	start := 0

	for i, r := range data {
		if r == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}

	if start < len(data) {
		lines = append(lines, data[start:])
	}

	return lines
}

func cgroupRootOrSkip(t *testing.T) string {
	t.Helper()

	root := oscontrol.DefaultCgroupRoot
	if v := os.Getenv("HARNESS_CGROUP_ROOT"); v != "" {
		root = v
	}

	if err := oscontrol.EnsureCgroupFS(root); err != nil {
		t.Skipf("cgroup v1 cpu controller not mounted at %s: %v", root, err)
	}

	if os.Geteuid() != 0 {
		t.Skip("provisioning an RT bandwidth cgroup requires root")
	}

	return root
}

func periodicThreadOrSkip(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("periodic_thread"); err != nil {
		t.Skip("periodic_thread binary not on PATH")
	}
}
