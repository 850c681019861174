// File: internal/attach/pipeline.go

// Package attach uploads file attachments into the chat composer and
// confirms, through independent debounced observation, that the page has
// actually registered them. Registration (the input element's file list)
// and visual presence (attachment indicators in the composer) are verified
// separately because either can lie on its own during a re-render.
package attach

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatdriver-cli/internal/browser"
	"github.com/xkilldash9x/chatdriver-cli/internal/config"
	"github.com/xkilldash9x/chatdriver-cli/internal/probe"
)

// Attachment is one file the caller wants attached.
type Attachment struct {
	SourcePath  string
	DisplayName string
}

// New builds an Attachment from a local path.
func New(path string) Attachment {
	return Attachment{SourcePath: path, DisplayName: filepath.Base(path)}
}

// VisibleAttachment is a single DOM observation of an attachment indicator.
type VisibleAttachment struct {
	Filename string `json:"filename"`
	Selector string `json:"selector"`
	Markup   string `json:"markup,omitempty"`
}

// LocateError reports that no file input element matched any configured
// selector.
type LocateError struct {
	Selectors []string
}

func (e *LocateError) Error() string {
	return fmt.Sprintf("no file input element found (tried %s)", strings.Join(e.Selectors, ", "))
}

// VerificationError reports a mismatch between the expected and observed
// attachment sets. Any non-empty symmetric difference fails: a swapped-in
// wrong filename is treated the same as a missing one.
type VerificationError struct {
	Missing []string
	Extra   []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("attachment verification failed: missing=%v extra=%v", e.Missing, e.Extra)
}

// Pipeline drives attachment upload and verification for one run.
type Pipeline struct {
	page browser.Page
	cfg  config.ChatConfig
	log  *zap.Logger

	// registrationFellBack is set when a registration confirmation timed
	// out and the pipeline proceeded on visual verification alone. The
	// orchestrator skips its final send-affordance re-check in that case
	// rather than compounding flakiness.
	registrationFellBack bool
}

// NewPipeline creates an attachment pipeline over the given page.
func NewPipeline(page browser.Page, cfg config.ChatConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		page: page,
		cfg:  cfg,
		log:  logger.Named("attach"),
	}
}

// RegistrationFellBack reports whether any attachment was accepted on
// visual evidence alone.
func (p *Pipeline) RegistrationFellBack() bool {
	return p.registrationFellBack
}

// UploadAll uploads every attachment, waits for the page to settle, then
// verifies visual presence of the whole set.
func (p *Pipeline) UploadAll(ctx context.Context, attachments []Attachment) error {
	if len(attachments) == 0 {
		return nil
	}

	for _, att := range attachments {
		if err := p.upload(ctx, att); err != nil {
			return fmt.Errorf("attachment %q: %w", att.DisplayName, err)
		}
	}

	// Let the page finish rendering the attachment indicators before the
	// independent visual check.
	if err := sleep(ctx, p.cfg.SettleDelay); err != nil {
		return err
	}

	return p.VerifyVisible(ctx, attachments)
}

// upload runs the locate, assign, confirm cycle for one attachment,
// retrying the whole cycle on stale-element failures with linearly
// increasing backoff.
func (p *Pipeline) upload(ctx context.Context, att Attachment) error {
	maxAttempts := p.cfg.AttachAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			// Linear backoff gives the re-render that invalidated the
			// element time to finish.
			if err := sleep(ctx, time.Duration(attempt-1)*300*time.Millisecond); err != nil {
				return err
			}
			p.log.Info("Retrying attachment upload.",
				zap.String("file", att.DisplayName), zap.Int("attempt", attempt))
		}

		err := p.uploadOnce(ctx, att)
		if err == nil {
			return nil
		}
		if browser.IsStaleElement(err) {
			p.log.Warn("Stale element during upload, will retry.",
				zap.String("file", att.DisplayName), zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("upload failed after %d attempts: %w", maxAttempts, lastErr)
}

func (p *Pipeline) uploadOnce(ctx context.Context, att Attachment) error {
	selector, err := p.locateFileInput(ctx)
	if err != nil {
		return err
	}

	p.log.Debug("Assigning file to input.",
		zap.String("file", att.SourcePath), zap.String("selector", selector))
	if err := p.page.SetFiles(ctx, selector, []string{att.SourcePath}); err != nil {
		return err
	}

	if err := p.confirmRegistered(ctx, selector, att); err != nil {
		if probe.IsTimeout(err) {
			// The input never reported the file, but the page may still
			// have registered it through its own handler. Trust the visual
			// check instead of failing the run here.
			p.log.Warn("Registration confirmation timed out; relying on visual verification.",
				zap.String("file", att.DisplayName))
			p.registrationFellBack = true
			return nil
		}
		return err
	}

	p.log.Info("Attachment registered.", zap.String("file", att.DisplayName))
	return nil
}

// locateFileInput tries the configured selectors most specific first and
// returns the first one present in the document.
func (p *Pipeline) locateFileInput(ctx context.Context) (string, error) {
	script := fmt.Sprintf(`
		(function(selectors) {
			for (const sel of selectors) {
				if (document.querySelector(sel)) return sel;
			}
			return "";
		})(%s)`, browser.JSEncode(p.cfg.Selectors.FileInput))

	var selector string
	if err := p.page.EvalJSON(ctx, script, &selector); err != nil {
		return "", err
	}
	if selector == "" {
		return "", &LocateError{Selectors: p.cfg.Selectors.FileInput}
	}
	return selector, nil
}

// confirmRegistered polls the input element's reported file list for the
// expected base filename.
func (p *Pipeline) confirmRegistered(ctx context.Context, selector string, att Attachment) error {
	timeout := p.cfg.AttachTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	script := fmt.Sprintf(`
		(function(sel) {
			const el = document.querySelector(sel);
			if (!el || !el.files) return null;
			return Array.from(el.files).map(f => f.name);
		})(%s)`, browser.JSEncode(selector))

	want := att.DisplayName
	_, err := probe.Until(ctx, p.pollInterval(), timeout, func(ctx context.Context) (bool, bool, error) {
		var names []string
		if err := p.page.EvalJSON(ctx, script, &names); err != nil {
			if browser.IsStaleElement(err) {
				// Bubble up so the whole locate/assign/confirm cycle reruns.
				return false, false, probe.Fatal(err)
			}
			return false, false, err
		}
		for _, n := range names {
			if n == want || NormalizeFilename(n) == NormalizeFilename(want) {
				return true, true, nil
			}
		}
		return false, false, nil
	})
	return err
}

// VerifyVisible samples the composer's attachment indicators until the
// observed set is stable across consecutive polls and matches the expected
// set. On timeout it fails with the difference between the sets.
func (p *Pipeline) VerifyVisible(ctx context.Context, attachments []Attachment) error {
	timeout := p.cfg.AttachTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	verifyDelay := p.cfg.AttachVerifyDelay
	if verifyDelay <= 0 {
		verifyDelay = time.Second
	}

	expectedNames := make([]string, 0, len(attachments))
	for _, att := range attachments {
		expectedNames = append(expectedNames, att.DisplayName)
	}
	expected := normalizeSet(expectedNames)

	var lastObserved map[string]struct{}
	lastKey := ""
	streak := 0

	_, err := probe.Until(ctx, verifyDelay, timeout, func(ctx context.Context) (bool, bool, error) {
		visible, err := p.sampleVisible(ctx)
		if err != nil {
			p.log.Debug("Visual sample failed, retrying.", zap.Error(err))
			streak = 0
			return false, false, err
		}

		names := make([]string, 0, len(visible))
		for _, v := range visible {
			names = append(names, v.Filename)
		}
		observed := normalizeSet(names)
		key := setKey(observed)

		// Debounce: only trust a set seen identically on consecutive polls,
		// so a render in progress cannot pass or fail the check on its own.
		if key == lastKey {
			streak++
		} else {
			streak = 1
			lastKey = key
		}
		lastObserved = observed

		if streak >= 2 && setsEqual(expected, observed) {
			return true, true, nil
		}
		return false, false, nil
	})

	if err == nil {
		p.log.Info("Attachments visually confirmed.",
			zap.Int("matched", len(expected)), zap.Int("expected", len(expected)))
		return nil
	}
	if !probe.IsTimeout(err) {
		return err
	}

	missing, extra := diffSets(expected, lastObserved)
	verr := &VerificationError{Missing: missing, Extra: extra}
	p.log.Error("Attachment verification failed.",
		zap.Strings("missing", missing), zap.Strings("extra", extra))
	return verr
}

// sampleVisible reads the attachment indicators in the active input
// region, skipping anything inside a historical conversation turn.
func (p *Pipeline) sampleVisible(ctx context.Context) ([]VisibleAttachment, error) {
	turnSelector := strings.Join(p.cfg.Selectors.AssistantTurn, ", ")
	script := fmt.Sprintf(`
		(function(pinSelectors, turnSelector) {
			const out = [];
			const seen = new Set();
			for (const sel of pinSelectors) {
				for (const el of document.querySelectorAll(sel)) {
					if (turnSelector && el.closest(turnSelector)) continue;
					const name = (el.getAttribute('data-filename') || el.textContent || '').trim();
					if (!name) continue;
					if (seen.has(name)) continue;
					seen.add(name);
					out.push({
						filename: name,
						selector: sel,
						markup: el.outerHTML ? el.outerHTML.slice(0, 200) : ''
					});
				}
			}
			return out;
		})(%s, %s)`, browser.JSEncode(p.cfg.Selectors.AttachmentPin), browser.JSEncode(turnSelector))

	var visible []VisibleAttachment
	if err := p.page.EvalJSON(ctx, script, &visible); err != nil {
		return nil, err
	}
	return visible, nil
}

func (p *Pipeline) pollInterval() time.Duration {
	if p.cfg.PollInterval > 0 {
		return p.cfg.PollInterval
	}
	return 250 * time.Millisecond
}

func setKey(set map[string]struct{}) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, "\n")
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func diffSets(expected, observed map[string]struct{}) (missing, extra []string) {
	for k := range expected {
		if _, ok := observed[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range observed {
		if _, ok := expected[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
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
