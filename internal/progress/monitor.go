// File: internal/progress/monitor.go

// Package progress runs a background sampler that reports what the page says
// it is doing while the main flow is blocked waiting for a response. It is
// purely cosmetic: sampling failures are ignored and the monitor can be
// stopped at any point without affecting the run.
package progress

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatdriver-cli/internal/browser"
	"github.com/xkilldash9x/chatdriver-cli/internal/config"
)

// Sink receives formatted progress lines. Optional; nil drops them on the
// logger instead.
type Sink func(line string)

// statusKeywords mark a status-region text as progress worth reporting.
var statusKeywords = []string{"uploading", "processing", "thinking", "generating", "working", "searching"}

const barWidth = 20

// Monitor samples the page's status indicators on a fixed tick.
type Monitor struct {
	page      browser.Page
	cfg       config.ProgressConfig
	selectors config.SelectorsConfig
	log       *zap.Logger
	sink      Sink
	verbose   bool

	// inFlight skips a tick whose predecessor is still sampling; only the
	// latest status matters, so overlapping samples are dropped, not queued.
	inFlight atomic.Bool
	lastMsg  string

	started  time.Time
	launched atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Monitor. sink may be nil.
func New(page browser.Page, cfg config.ProgressConfig, selectors config.SelectorsConfig, sink Sink, verbose bool, logger *zap.Logger) *Monitor {
	return &Monitor{
		page:      page,
		cfg:       cfg,
		selectors: selectors,
		log:       logger.Named("progress"),
		sink:      sink,
		verbose:   verbose,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the sampling loop. A disabled monitor starts nothing but
// Stop remains safe to call.
func (m *Monitor) Start(ctx context.Context) {
	if !m.launched.CompareAndSwap(false, true) {
		return
	}
	if !m.cfg.Enabled {
		close(m.done)
		return
	}
	tick := m.cfg.Tick
	if tick <= 0 {
		tick = 1500 * time.Millisecond
	}
	m.started = time.Now()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

// Stop halts the sampler and waits for the loop to exit. Idempotent, and
// safe even when Start was never called.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	if m.launched.Load() {
		<-m.done
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if !m.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer m.inFlight.Store(false)

	status, err := m.sample(ctx)
	if err != nil {
		// Progress is cosmetic; a failed sample is not even warning material.
		m.log.Debug("Progress sample failed.", zap.Error(err))
		return
	}
	if status == "" && !m.verbose {
		return
	}
	// De-duplicate consecutive identical messages.
	if status == m.lastMsg && status != "" {
		return
	}
	m.lastMsg = status

	line := m.formatLine(time.Since(m.started), status)
	if m.sink != nil {
		m.sink(line)
	} else {
		m.log.Info(line)
	}
}

// sample scans the status regions for the first text mentioning a working
// keyword.
func (m *Monitor) sample(ctx context.Context) (string, error) {
	script := fmt.Sprintf(`
		(function(selectors, keywords) {
			for (const sel of selectors) {
				for (const el of document.querySelectorAll(sel)) {
					const text = (el.textContent || '').trim();
					if (!text) continue;
					const lower = text.toLowerCase();
					if (keywords.some(w => lower.includes(w))) return text.slice(0, 120);
				}
			}
			return "";
		})(%s, %s)`, browser.JSEncode(m.selectors.StatusRegion), browser.JSEncode(statusKeywords))

	var status string
	if err := m.page.EvalJSON(ctx, script, &status); err != nil {
		return "", err
	}
	return status, nil
}

// formatLine renders elapsed time, a proportional bar against the soft
// target, a percentage, and the latest status text.
func (m *Monitor) formatLine(elapsed time.Duration, status string) string {
	target := m.cfg.SoftTarget
	if target <= 0 {
		target = 90 * time.Second
	}
	frac := float64(elapsed) / float64(target)
	if frac > 1 {
		frac = 1
	}
	filled := int(frac * barWidth)
	bar := strings.Repeat("=", filled) + strings.Repeat("-", barWidth-filled)

	line := fmt.Sprintf("[%s] %3.0f%% %s", bar, frac*100, elapsed.Round(time.Second))
	if status != "" {
		line += " " + status
	}
	return line
}
