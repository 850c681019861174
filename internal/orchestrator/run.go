// File: internal/orchestrator/run.go

// Package orchestrator sequences one full prompt round trip: acquire the
// host-wide browser lock, drive the page through attachment upload and
// prompt submission, wait out the response, extract it, and tear everything
// down. It owns all cleanup; every teardown step is independent and best
// effort so one failure cannot block the next.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatdriver-cli/internal/attach"
	"github.com/xkilldash9x/chatdriver-cli/internal/browser"
	"github.com/xkilldash9x/chatdriver-cli/internal/config"
	"github.com/xkilldash9x/chatdriver-cli/internal/detect"
	"github.com/xkilldash9x/chatdriver-cli/internal/lock"
	"github.com/xkilldash9x/chatdriver-cli/internal/probe"
	"github.com/xkilldash9x/chatdriver-cli/internal/progress"
	"github.com/xkilldash9x/chatdriver-cli/internal/session"
)

// locationSettleTimeout bounds the wait for a stable post-submission
// location before the session state is persisted.
const locationSettleTimeout = 10 * time.Second

// Options carries the per-run inputs.
type Options struct {
	Prompt      string
	Attachments []string
	// URL overrides chat.url from the configuration when set.
	URL string
	// ResponseTimeout overrides chat.response_timeout when positive.
	ResponseTimeout time.Duration
	// Sink receives progress lines; nil routes them to the logger.
	Sink    progress.Sink
	Verbose bool
}

// Result is the outcome of a completed run.
type Result struct {
	Answer         string
	Location       string
	ConversationID string
	Elapsed        time.Duration
}

// IsConnectionLost reports whether err means the browser connection dropped.
// Callers surface this distinctly: the remedy is to keep the window open,
// not to retry.
func IsConnectionLost(err error) bool {
	return errors.Is(err, browser.ErrConnectionLost)
}

// Runner executes prompt runs against a configured chat page.
type Runner struct {
	cfg *config.Config
	log *zap.Logger
}

// New creates a Runner.
func New(cfg *config.Config, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, log: logger.Named("orchestrator")}
}

// Run performs one complete prompt round trip. The lock is held for the
// whole run; release, browser teardown, and profile removal happen on every
// exit path.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Prompt == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}
	url := opts.URL
	if url == "" {
		url = r.cfg.Chat.URL
	}
	if url == "" {
		return nil, fmt.Errorf("no chat URL configured (set chat.url or pass --url)")
	}

	// Every log line of a run carries the same identifier so interleaved
	// runs on one host can be told apart in the shared log file.
	runID := uuid.New().String()
	run := &Runner{cfg: r.cfg, log: r.log.With(zap.String("run_id", runID))}
	run.log.Info("Starting run.", zap.Int("attachments", len(opts.Attachments)))

	handle, err := lock.Acquire(run.cfg.Lock.Path, run.cfg.Lock.Timeout, run.cfg.Lock.RetryInterval, run.log)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	mgr := browser.NewManager(run.cfg.Browser, run.log)
	page, err := mgr.Start(ctx)
	if err != nil {
		return nil, err
	}
	defer mgr.Shutdown()

	return run.drive(ctx, page, url, opts)
}

// drive runs the in-browser portion of the sequence against an already
// started page.
func (r *Runner) drive(ctx context.Context, page browser.Page, url string, opts Options) (*Result, error) {
	start := time.Now()
	chat := r.cfg.Chat

	r.log.Info("Navigating to chat page.", zap.String("url", url))
	if err := page.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("initial navigation failed: %w", err)
	}

	composerSel, err := waitComposer(ctx, page, chat, r.log)
	if err != nil {
		return nil, err
	}

	pipeline := attach.NewPipeline(page, chat, r.log)
	if len(opts.Attachments) > 0 {
		attachments := make([]attach.Attachment, 0, len(opts.Attachments))
		for _, path := range opts.Attachments {
			attachments = append(attachments, attach.New(path))
		}
		r.log.Info("Uploading attachments.", zap.Int("count", len(attachments)))
		if err := pipeline.UploadAll(ctx, attachments); err != nil {
			return nil, err
		}
	}

	if err := fillComposer(ctx, page, composerSel, opts.Prompt); err != nil {
		return nil, err
	}

	// Once visual verification has passed on its own, a flaky send
	// affordance re-check would only add noise.
	if !pipeline.RegistrationFellBack() {
		if err := awaitSendReady(ctx, page, chat, chat.AttachTimeout); err != nil {
			return nil, err
		}
	} else {
		r.log.Info("Skipping send readiness re-check after visual-only attachment verification.")
	}

	if err := clickSend(ctx, page, chat); err != nil {
		return nil, fmt.Errorf("failed to submit prompt: %w", err)
	}
	r.log.Info("Prompt submitted.")

	location := r.settleLocation(ctx, page)
	if err := session.Save(r.cfg.Session.Dir, location, opts.Prompt, opts.Attachments); err != nil {
		// The run can finish without a recovery aid; don't fail it here.
		r.log.Warn("Failed to persist session state.", zap.Error(err))
	}

	monitor := progress.New(page, r.cfg.Progress, chat.Selectors, opts.Sink, opts.Verbose, r.log)
	monitor.Start(ctx)
	defer monitor.Stop()

	recoverFn := func(ctx context.Context) bool {
		st, err := session.Load(r.cfg.Session.Dir)
		if err != nil {
			r.log.Warn("Failed to load session state for recovery.", zap.Error(err))
			return false
		}
		return session.Recover(ctx, page, st, chat.RecoveryTimeout, r.log)
	}

	detector := detect.New(page, chat, recoverFn, r.log)
	detector.SnapshotDir(r.cfg.Session.Dir)

	timeout := opts.ResponseTimeout
	if timeout <= 0 {
		timeout = chat.ResponseTimeout
	}
	if err := detector.AwaitSteadyReady(ctx, timeout); err != nil {
		if IsConnectionLost(err) {
			return nil, fmt.Errorf("browser connection lost while waiting for the response; keep the browser window open until the run finishes: %w", err)
		}
		return nil, err
	}
	monitor.Stop()

	answer, err := extractAnswer(ctx, page, chat)
	if err != nil {
		return nil, err
	}

	finalLoc := location
	if loc, err := page.Location(ctx); err == nil && loc != "" {
		finalLoc = loc
	}

	r.log.Info("Run complete.",
		zap.Duration("elapsed", time.Since(start).Round(time.Second)),
		zap.Int("answer_bytes", len(answer)))
	return &Result{
		Answer:         answer,
		Location:       finalLoc,
		ConversationID: session.ConversationID(finalLoc),
		Elapsed:        time.Since(start),
	}, nil
}

// settleLocation waits for the post-submission location to stop changing.
// The page typically rewrites its path once the conversation is created, so
// a single read races the client-side router.
func (r *Runner) settleLocation(ctx context.Context, page browser.Page) string {
	loc, err := probe.Stable(ctx, r.cfg.Chat.PollInterval, locationSettleTimeout, 2,
		func(ctx context.Context) (string, bool, error) {
			l, err := page.Location(ctx)
			if err != nil {
				return "", false, err
			}
			return l, l != "", nil
		})
	if err == nil {
		return loc
	}

	r.log.Debug("Location never settled; using a single read.", zap.Error(err))
	if l, lerr := page.Location(ctx); lerr == nil {
		return l
	}
	return ""
}
