// File: internal/detect/snapshot.go
package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var snapshotJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const htmlSampleLimit = 16 * 1024

// Snapshot is the postmortem capture written when the wait times out.
type Snapshot struct {
	CapturedAt time.Time   `json:"captured_at"`
	Location   string      `json:"location"`
	Title      string      `json:"title"`
	LastProbe  ProbeResult `json:"last_probe"`
	HTMLSample string      `json:"html_sample,omitempty"`
}

// SnapshotDir directs timeout diagnostics to dir; empty disables the file
// write (the capture is still logged).
func (d *Detector) SnapshotDir(dir string) {
	d.snapshotDir = dir
}

// captureDiagnostics records what the document looked like when the wait
// gave up. Every step is best effort; diagnostics must never mask the
// timeout itself.
func (d *Detector) captureDiagnostics(ctx context.Context, last ProbeResult) {
	// The run context may already be done; give diagnostics their own
	// short budget.
	diagCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	snap := Snapshot{CapturedAt: time.Now().UTC(), LastProbe: last}

	if loc, err := d.page.Location(diagCtx); err == nil {
		snap.Location = loc
	}
	if title, err := d.page.Title(diagCtx); err == nil {
		snap.Title = title
	}
	var html string
	sampleScript := fmt.Sprintf(
		`document.documentElement ? document.documentElement.outerHTML.slice(0, %d) : ''`, htmlSampleLimit)
	if err := d.page.EvalJSON(diagCtx, sampleScript, &html); err == nil {
		snap.HTMLSample = html
	}

	d.log.Error("Completion wait timed out.",
		zap.String("location", snap.Location),
		zap.String("title", snap.Title),
		zap.String("last_state", string(last.State)),
		zap.Bool("last_busy", last.Busy))

	if d.snapshotDir == "" {
		return
	}
	data, err := snapshotJSON.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(d.snapshotDir, "timeout-snapshot.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		d.log.Warn("Failed to write timeout snapshot.", zap.String("path", path), zap.Error(err))
		return
	}
	d.log.Info("Timeout snapshot written.", zap.String("path", path))
}
