// File: internal/lock/lock.go

// Package lock implements cross-process mutual exclusion for the single
// browser resource on a host. The lock is a small JSON record at a
// well-known path; presence of the file is the only synchronization signal,
// and staleness is decided purely by liveness of the recorded process.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is the on-disk lock payload.
type Record struct {
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
}

// TimeoutError reports that the lock stayed contended by a live holder for
// the whole acquisition deadline.
type TimeoutError struct {
	Path      string
	HolderPID int
	Waited    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for browser lock %s (held by pid %d)",
		e.Waited.Round(time.Second), e.Path, e.HolderPID)
}

// Handle represents a held lock. Release is idempotent.
type Handle struct {
	path        string
	pid         int
	log         *zap.Logger
	releaseOnce sync.Once
}

// Acquire takes the lock at path, waiting up to timeout for a live holder
// to release it. A timeout of 0 waits forever. Stale records left behind by
// dead processes are reclaimed immediately.
func Acquire(path string, timeout, retryInterval time.Duration, logger *zap.Logger) (*Handle, error) {
	log := logger.Named("lock")
	if retryInterval <= 0 {
		retryInterval = 2 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	pid := os.Getpid()
	start := time.Now()
	waitingLogged := false
	lastHolder := 0

	for {
		created, err := tryCreate(path, pid)
		if err != nil {
			return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
		}
		if created {
			log.Debug("Browser lock acquired.", zap.String("path", path), zap.Int("pid", pid))
			return &Handle{path: path, pid: pid, log: log}, nil
		}

		rec, readErr := readRecord(path)
		switch {
		case readErr != nil:
			// Unreadable or structurally invalid payload. Another process may
			// be mid-write; never delete, just back off and look again.
			log.Debug("Lock file unreadable, retrying.", zap.String("path", path), zap.Error(readErr))

		case !Alive(rec.PID):
			// Holder is gone. Reclaim and retry immediately.
			log.Info("Removing stale browser lock.",
				zap.String("path", path), zap.Int("stale_pid", rec.PID), zap.Time("created_at", rec.CreatedAt))
			if rmErr := os.Remove(path); rmErr == nil || os.IsNotExist(rmErr) {
				continue
			}
			// Deletion failed; fall back to waiting it out.
			log.Warn("Failed to remove stale lock, waiting instead.", zap.String("path", path))

		default:
			lastHolder = rec.PID
			if !waitingLogged {
				log.Info("Another run holds the browser lock, waiting.",
					zap.String("path", path), zap.Int("holder_pid", rec.PID))
				waitingLogged = true
			}
		}

		if timeout > 0 && time.Since(start)+retryInterval > timeout {
			return nil, &TimeoutError{Path: path, HolderPID: lastHolder, Waited: time.Since(start)}
		}
		time.Sleep(retryInterval)
	}
}

// Release deletes the lock record, but only if it still names this process.
// All failures are swallowed; a future acquirer reclaims via the staleness
// check.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		rec, err := readRecord(h.path)
		if err != nil {
			h.log.Debug("Skipping lock release, record unreadable.", zap.String("path", h.path), zap.Error(err))
			return
		}
		if rec.PID != h.pid {
			// Another process won the path after our record disappeared.
			// Deleting its lock would break exclusivity.
			h.log.Warn("Lock record belongs to a different process, leaving it in place.",
				zap.String("path", h.path), zap.Int("owner_pid", rec.PID))
			return
		}
		if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
			h.log.Warn("Failed to remove lock file during release.", zap.String("path", h.path), zap.Error(err))
		}
	})
}

// tryCreate atomically creates the lock file with this process's record.
// Returns false if the path already exists.
func tryCreate(path string, pid int) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	payload, err := json.Marshal(Record{PID: pid, CreatedAt: time.Now().UTC()})
	if err != nil {
		return false, err
	}
	if _, err := f.Write(payload); err != nil {
		// Best effort removal of the half-written record before reporting.
		os.Remove(path)
		return false, err
	}
	return true, nil
}

func readRecord(path string) (Record, error) {
	var rec Record
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("invalid lock payload: %w", err)
	}
	if rec.PID == 0 {
		return rec, fmt.Errorf("invalid lock payload: missing pid")
	}
	return rec, nil
}
