// File: internal/orchestrator/composer.go
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatdriver-cli/internal/browser"
	"github.com/xkilldash9x/chatdriver-cli/internal/config"
	"github.com/xkilldash9x/chatdriver-cli/internal/probe"
)

// ComposerNotFoundError reports that the prompt input region never appeared.
type ComposerNotFoundError struct {
	Selectors []string
	Waited    time.Duration
}

func (e *ComposerNotFoundError) Error() string {
	return fmt.Sprintf("composer never appeared after %s (tried %s)",
		e.Waited.Round(time.Second), strings.Join(e.Selectors, ", "))
}

// waitComposer polls until one of the configured composer selectors resolves
// to an editable element, and returns that selector.
func waitComposer(ctx context.Context, page browser.Page, cfg config.ChatConfig, log *zap.Logger) (string, error) {
	timeout := cfg.ComposerTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	script := fmt.Sprintf(`
		(function(selectors) {
			for (const sel of selectors) {
				const el = document.querySelector(sel);
				if (el && !el.disabled) return sel;
			}
			return "";
		})(%s)`, browser.JSEncode(cfg.Selectors.Composer))

	start := time.Now()
	selector, err := probe.Until(ctx, cfg.PollInterval, timeout, func(ctx context.Context) (string, bool, error) {
		var sel string
		if err := page.EvalJSON(ctx, script, &sel); err != nil {
			return "", false, err
		}
		return sel, sel != "", nil
	})
	if err != nil {
		if probe.IsTimeout(err) {
			return "", &ComposerNotFoundError{Selectors: cfg.Selectors.Composer, Waited: time.Since(start)}
		}
		return "", err
	}

	log.Debug("Composer located.", zap.String("selector", selector))
	return selector, nil
}

// fillComposer writes the prompt into the composer element. Contenteditable
// regions and plain textareas are handled by the same script; an input event
// is dispatched so the page's own handlers notice the change.
func fillComposer(ctx context.Context, page browser.Page, selector, prompt string) error {
	script := fmt.Sprintf(`
		(function(sel, text) {
			const el = document.querySelector(sel);
			if (!el) return false;
			el.focus();
			if (el.isContentEditable) {
				el.textContent = text;
			} else {
				el.value = text;
			}
			el.dispatchEvent(new Event('input', { bubbles: true }));
			return true;
		})(%s, %s)`, browser.JSEncode(selector), browser.JSEncode(prompt))

	var ok bool
	if err := page.EvalJSON(ctx, script, &ok); err != nil {
		return fmt.Errorf("failed to fill composer: %w", err)
	}
	if !ok {
		return fmt.Errorf("composer element %q disappeared before the prompt was entered", selector)
	}
	return nil
}

// awaitSendReady waits for an enabled send affordance. Used as the final
// pre-submission check; skipped by the caller when attachment registration
// already fell back to visual verification.
func awaitSendReady(ctx context.Context, page browser.Page, cfg config.ChatConfig, timeout time.Duration) error {
	script := fmt.Sprintf(`
		(function(selectors) {
			for (const sel of selectors) {
				const btn = document.querySelector(sel);
				if (!btn) continue;
				if (btn.disabled || btn.getAttribute('aria-disabled') === 'true') return false;
				return true;
			}
			return false;
		})(%s)`, browser.JSEncode(cfg.Selectors.SendButton))

	_, err := probe.Until(ctx, cfg.PollInterval, timeout, func(ctx context.Context) (bool, bool, error) {
		var ready bool
		if err := page.EvalJSON(ctx, script, &ready); err != nil {
			return false, false, err
		}
		return ready, ready, nil
	})
	if probe.IsTimeout(err) {
		return fmt.Errorf("send affordance never became ready: %w", err)
	}
	return err
}

// clickSend locates the first present send button and clicks it.
func clickSend(ctx context.Context, page browser.Page, cfg config.ChatConfig) error {
	locate := fmt.Sprintf(`
		(function(selectors) {
			for (const sel of selectors) {
				if (document.querySelector(sel)) return sel;
			}
			return "";
		})(%s)`, browser.JSEncode(cfg.Selectors.SendButton))

	var selector string
	if err := page.EvalJSON(ctx, locate, &selector); err != nil {
		return err
	}
	if selector == "" {
		return fmt.Errorf("no send button found (tried %s)", strings.Join(cfg.Selectors.SendButton, ", "))
	}
	return page.Click(ctx, selector)
}

// extractAnswer returns the text of the last assistant turn on the page.
func extractAnswer(ctx context.Context, page browser.Page, cfg config.ChatConfig) (string, error) {
	script := fmt.Sprintf(`
		(function(selectors) {
			for (const sel of selectors) {
				const turns = document.querySelectorAll(sel);
				if (turns.length > 0) {
					return (turns[turns.length - 1].textContent || '').trim();
				}
			}
			return "";
		})(%s)`, browser.JSEncode(cfg.Selectors.AssistantTurn))

	var answer string
	if err := page.EvalJSON(ctx, script, &answer); err != nil {
		return "", fmt.Errorf("failed to extract answer: %w", err)
	}
	if answer == "" {
		return "", fmt.Errorf("no assistant turn found on the page (tried %s)",
			strings.Join(cfg.Selectors.AssistantTurn, ", "))
	}
	return answer, nil
}
