package workload

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestResolveBinaryPrefersTESTBINDIROverride(t *testing.T) {
	dir := t.TempDir()
	binPath := filepath.Join(dir, "demo")

	if err := os.WriteFile(binPath, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Setenv("TESTBINDIR", dir)

	resolved, err := ResolveBinary("/does/not/exist", "demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resolved != binPath {
		t.Fatalf("expected %s, got %s", binPath, resolved)
	}
}

func TestResolveBinaryFailsWhenMissing(t *testing.T) {
	t.Setenv("TESTBINDIR", t.TempDir())

	if _, err := ResolveBinary("/does/not/exist", "missing"); !errors.Is(err, ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound, got %v", err)
	}
}

func TestManagedProcessCloseKillsRunningProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("sleep not available: %v", err)
	}

	proc := NewManagedProcess(cmd, zap.NewNop())

	if err := proc.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := cmd.Wait(); err == nil {
		t.Fatalf("expected Wait to report the process was killed")
	}
}

func TestStartHogResolvesUnderTESTBINDIRAndCanBeStopped(t *testing.T) {
	dir := t.TempDir()
	toolsPath := filepath.Join(dir, "tools")

	if err := os.WriteFile(toolsPath, []byte("#!/bin/sh\nsleep 30\n"), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Setenv("TESTBINDIR", dir)

	proc, err := StartHog(zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := proc.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartYesSpawnsFromPath(t *testing.T) {
	if _, err := exec.LookPath("yes"); err != nil {
		t.Skip("yes not available on PATH")
	}

	proc, err := StartYes(zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := proc.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
