package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrNotRunning is returned when the PID file names no live process.
var ErrNotRunning = errors.New("needle: daemon not running")

// WritePIDFile writes the current process ID. An empty path is a no-op.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}
	return nil
}

// RemovePIDFile removes the PID file if it exists.
func RemovePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}
	return nil
}

// ReadPIDFile returns the process ID recorded in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, fmt.Errorf("failed to read PID file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed PID file %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// SignalDaemon sends sig to the process named by the PID file. It is the
// fallback when the control socket is unreachable.
func SignalDaemon(path string, sig syscall.Signal) (int, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return pid, ErrNotRunning
		}
		return pid, fmt.Errorf("signal process %d: %w", pid, err)
	}
	return pid, nil
}
