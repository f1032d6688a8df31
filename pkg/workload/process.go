// Package workload spawns and supervises the external binaries that
// generate CPU load inside a provisioned cgroup: the two interchangeable
// backends (periodic_thread, rt-app) implementing the common Adapter
// contract, plus the cpu_hog/yes auxiliary load generators some scenarios
// run alongside them.
package workload

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// ErrBinaryNotFound is returned by ResolveBinary when the resolved path
// does not exist.
var ErrBinaryNotFound = errors.New("workload: executable not found")

// ManagedProcess wraps a spawned *exec.Cmd with guaranteed cleanup: Close
// kills the process if it is still running, mirroring the original's
// MyProcess Drop impl (kill-on-drop) via Go's explicit defer discipline
// instead of a destructor.
type ManagedProcess struct {
	cmd    *exec.Cmd
	logger *zap.Logger
}

// NewManagedProcess wraps an already-started *exec.Cmd. Used by the
// periodicthread and rtapp adapters, which need to set up stdout/stderr
// redirection themselves before spawning.
func NewManagedProcess(cmd *exec.Cmd, logger *zap.Logger) *ManagedProcess {
	return &ManagedProcess{cmd: cmd, logger: logger}
}

// Wait blocks until the process exits.
func (p *ManagedProcess) Wait() error {
	return p.cmd.Wait()
}

// Close kills the process if it is still running. It is safe to call after
// a successful Wait.
func (p *ManagedProcess) Close() error {
	if p.cmd.Process == nil {
		return nil
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("failed to kill managed process", zap.Int("pid", p.cmd.Process.Pid), zap.Error(err))
	}

	return nil
}

// ResolveBinary resolves name under TESTBINDIR if set, else under defDir,
// and fails unless the resulting path exists. Grounded on
// local_executable_cmd in the original test suite's lib.rs.
func ResolveBinary(defDir, name string) (string, error) {
	dir := defDir
	if override, ok := os.LookupEnv("TESTBINDIR"); ok && override != "" {
		dir = override
	}

	path := dir + "/" + name

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, path, err)
	}

	return path, nil
}

// StartHog spawns the cpu_hog auxiliary load generator, resolved the same
// way as the primary workload binaries.
func StartHog(logger *zap.Logger) (*ManagedProcess, error) {
	path, err := ResolveBinary("/root/test_suite", "tools")
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, "hog")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("workload: start cpu_hog: %w", err)
	}

	return &ManagedProcess{cmd: cmd, logger: logger}, nil
}

// StartYes spawns the "yes" auxiliary load generator from PATH.
func StartYes(logger *zap.Logger) (*ManagedProcess, error) {
	path, err := exec.LookPath("yes")
	if err != nil {
		return nil, fmt.Errorf("workload: resolve yes: %w", err)
	}

	cmd := exec.Command(path)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("workload: start yes: %w", err)
	}

	return &ManagedProcess{cmd: cmd, logger: logger}, nil
}
