// File: internal/detect/detect.go

// Package detect decides when the page has finished rendering a response.
// There is no completion event to subscribe to: the send affordance and the
// busy markers are polled, and a ready observation is only trusted after it
// repeats at the same location across spaced checks, because the affordance
// toggles briefly during intermediate client-side renders.
package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatdriver-cli/internal/browser"
	"github.com/xkilldash9x/chatdriver-cli/internal/config"
)

// State is the inferred state of the send affordance.
type State string

const (
	StateMissing  State = "missing"
	StateDisabled State = "disabled"
	StateReady    State = "ready"
)

// ProbeResult is one poll of the document. Never persisted.
type ProbeResult struct {
	State    State  `json:"state"`
	Busy     bool   `json:"busy"`
	Location string `json:"location"`
}

// TimeoutError reports that a steady ready state was never confirmed.
type TimeoutError struct {
	Waited    time.Duration
	LastProbe ProbeResult
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("response never reached a steady ready state after %s (last: state=%s busy=%t)",
		e.Waited.Round(time.Second), e.LastProbe.State, e.LastProbe.Busy)
}

// RecoverFunc attempts to restore a broken navigation context; it reports
// success but never fails the wait itself.
type RecoverFunc func(ctx context.Context) bool

// busyKeywords are matched against status-region text; any hit means the
// page is still working regardless of the affordance state.
var busyKeywords = []string{"uploading", "processing", "thinking", "generating", "working"}

// Detector waits for the page's steady ready state.
type Detector struct {
	page    browser.Page
	cfg     config.ChatConfig
	log     *zap.Logger
	recover RecoverFunc

	// sampler is swapped out in tests.
	sampler func(ctx context.Context) (ProbeResult, error)
	// debounceDelays space the confirmation re-checks after a first ready
	// observation.
	debounceDelays []time.Duration
	// settleDelay is applied after a mid-wait navigation before resuming.
	settleDelay time.Duration
	// snapshotDir receives the timeout diagnostic capture; empty disables
	// the file write.
	snapshotDir string
}

// New creates a Detector. recoverFn may be nil when no session state exists.
func New(page browser.Page, cfg config.ChatConfig, recoverFn RecoverFunc, logger *zap.Logger) *Detector {
	d := &Detector{
		page:           page,
		cfg:            cfg,
		log:            logger.Named("detect"),
		recover:        recoverFn,
		debounceDelays: []time.Duration{500 * time.Millisecond, time.Second},
		settleDelay:    cfg.SettleDelay,
	}
	if d.settleDelay <= 0 {
		d.settleDelay = 2 * time.Second
	}
	d.sampler = d.samplePage
	return d
}

// AwaitSteadyReady blocks until the send affordance is enabled, no busy
// marker is present, and that observation has held across the debounce
// re-checks at an unchanged location. Mid-wait navigations trigger session
// recovery and are never immediately fatal.
func (d *Detector) AwaitSteadyReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	interval := d.cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	start := time.Now()
	deadline := start.Add(timeout)
	var lastLocation string
	var lastProbe ProbeResult

	for {
		if time.Now().After(deadline) {
			d.captureDiagnostics(ctx, lastProbe)
			return &TimeoutError{Waited: time.Since(start), LastProbe: lastProbe}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := d.sampler(ctx)
		if err != nil {
			// A dead transport never comes back; re-probing it for the rest
			// of the budget would only bury the real failure.
			if errors.Is(err, browser.ErrConnectionLost) {
				d.captureDiagnostics(ctx, lastProbe)
				return err
			}
			// A single failed probe is expected flakiness, not completion.
			d.log.Debug("Probe failed, continuing.", zap.Error(err))
			if err := sleep(ctx, interval); err != nil {
				return err
			}
			continue
		}
		lastProbe = res

		// Navigation guard: a location change mid-wait means the page
		// reloaded or navigated out from under us.
		if lastLocation != "" && res.Location != lastLocation {
			d.log.Warn("Location changed mid-wait.",
				zap.String("was", lastLocation), zap.String("now", res.Location))
			if d.recover != nil && d.recover(ctx) {
				d.log.Info("Session recovered, resuming wait.")
				if err := sleep(ctx, d.settleDelay); err != nil {
					return err
				}
				lastLocation = ""
				continue
			}
			// Recovery failed or unavailable: adopt the new location as
			// the baseline after a settle delay.
			if err := sleep(ctx, d.settleDelay); err != nil {
				return err
			}
			lastLocation = res.Location
			continue
		}
		lastLocation = res.Location

		if res.State == StateReady && !res.Busy {
			confirmed, err := d.confirmSteady(ctx, res.Location)
			if err != nil {
				return err
			}
			if confirmed {
				d.log.Info("Steady ready state confirmed.",
					zap.Duration("elapsed", time.Since(start).Round(time.Second)))
				return nil
			}
			// The ready flicker did not hold; keep polling.
			continue
		}

		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// confirmSteady re-checks a ready observation across the debounce delays.
// All re-checks must agree: ready, idle, and at the same location.
func (d *Detector) confirmSteady(ctx context.Context, location string) (bool, error) {
	for _, delay := range d.debounceDelays {
		if err := sleep(ctx, delay); err != nil {
			return false, err
		}
		res, err := d.sampler(ctx)
		if err != nil {
			if errors.Is(err, browser.ErrConnectionLost) {
				return false, err
			}
			d.log.Debug("Confirmation probe failed.", zap.Error(err))
			return false, nil
		}
		if res.State != StateReady || res.Busy || res.Location != location {
			d.log.Debug("Ready state did not hold through confirmation.",
				zap.String("state", string(res.State)), zap.Bool("busy", res.Busy))
			return false, nil
		}
	}
	return true, nil
}

// samplePage evaluates the document in one round trip: send-affordance
// presence and enabled state, busy markers, and the current location.
func (d *Detector) samplePage(ctx context.Context) (ProbeResult, error) {
	script := fmt.Sprintf(`
		(function(sendSelectors, busySelectors, statusSelectors, busyWords) {
			let btn = null;
			for (const sel of sendSelectors) {
				btn = document.querySelector(sel);
				if (btn) break;
			}
			let state = 'missing';
			if (btn) {
				const disabled = btn.disabled || btn.getAttribute('aria-disabled') === 'true';
				state = disabled ? 'disabled' : 'ready';
			}
			let busy = false;
			for (const sel of busySelectors) {
				if (document.querySelector(sel)) { busy = true; break; }
			}
			if (!busy) {
				outer:
				for (const sel of statusSelectors) {
					for (const el of document.querySelectorAll(sel)) {
						const text = (el.textContent || '').toLowerCase();
						if (busyWords.some(w => text.includes(w))) { busy = true; break outer; }
					}
				}
			}
			return { state: state, busy: busy, location: window.location.href };
		})(%s, %s, %s, %s)`,
		browser.JSEncode(d.cfg.Selectors.SendButton),
		browser.JSEncode(d.cfg.Selectors.BusyMarker),
		browser.JSEncode(d.cfg.Selectors.StatusRegion),
		browser.JSEncode(busyKeywords),
	)

	var res ProbeResult
	if err := d.page.EvalJSON(ctx, script, &res); err != nil {
		return ProbeResult{}, err
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
