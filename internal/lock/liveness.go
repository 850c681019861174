// File: internal/lock/liveness.go
package lock

import (
	"errors"
	"os"
	"syscall"
)

// Alive reports whether the process with the given pid still exists.
// Non-positive pids are treated as dead (0 would signal the whole process
// group, negatives a group id). Signal 0 probes existence without
// delivering anything; EPERM means the process exists but belongs to
// another user.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	return errors.Is(err, syscall.EPERM)
}
