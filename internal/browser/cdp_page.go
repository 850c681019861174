// File: internal/browser/cdp_page.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const defaultOpTimeout = 20 * time.Second

// cdpPage implements Page over a chromedp tab context.
type cdpPage struct {
	tabCtx     context.Context
	log        *zap.Logger
	navTimeout time.Duration
}

var _ Page = (*cdpPage)(nil)

// run executes chromedp actions against the tab, honoring the caller's
// context. chromedp actions must run on the tab context, so the caller's
// deadline is bridged in via a watcher goroutine.
func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-opCtx.Done():
		}
	}()

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	// Distinguish the caller giving up from the transport dying under us.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p.tabCtx.Err() != nil || looksLikeConnectionLost(err) {
		return fmt.Errorf("%w: %s", ErrConnectionLost, err)
	}
	return err
}

func (p *cdpPage) Navigate(ctx context.Context, url string) error {
	timeout := p.navTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.log.Info("Navigating.", zap.String("url", url))
	if err := p.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *cdpPage) EvalJSON(ctx context.Context, script string, out any) error {
	evalCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	var raw json.RawMessage
	err := p.run(evalCtx, chromedp.Evaluate(script, &raw, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
	if err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}

	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal script result: %w (payload: %s)", err, string(raw))
	}
	return nil
}

func (p *cdpPage) SetFiles(ctx context.Context, selector string, paths []string) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	if err := p.run(opCtx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to set files on %q: %w", selector, err)
	}
	return nil
}

func (p *cdpPage) Click(ctx context.Context, selector string) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	if err := p.run(opCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("failed to click %q: %w", selector, err)
	}
	return nil
}

func (p *cdpPage) Location(ctx context.Context) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	var loc string
	if err := p.run(opCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

func (p *cdpPage) Title(ctx context.Context) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	var title string
	if err := p.run(opCtx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}
