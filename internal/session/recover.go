// File: internal/session/recover.go
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/chatdriver-cli/internal/browser"
	"github.com/xkilldash9x/chatdriver-cli/internal/probe"
)

// Recover replays the saved location and reports whether the page landed
// back on the same conversation. It never returns an error: recovery is a
// best-effort aid and the caller decides what a false result means.
func Recover(ctx context.Context, page browser.Page, st *State, timeout time.Duration, logger *zap.Logger) bool {
	log := logger.Named("recovery")
	if st == nil || st.Location == "" {
		log.Debug("No session state to recover from.")
		return false
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	recCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("Attempting session recovery.",
		zap.String("location", st.Location), zap.String("conversation_id", st.ConversationID))

	if err := page.Navigate(recCtx, st.Location); err != nil {
		log.Warn("Recovery navigation failed.", zap.Error(err))
		return false
	}

	// Wait for the document to settle into an interactive-or-complete load
	// state before trusting its location.
	_, err := probe.Until(recCtx, 250*time.Millisecond, timeout, func(ctx context.Context) (string, bool, error) {
		var readyState string
		if err := page.EvalJSON(ctx, `document.readyState`, &readyState); err != nil {
			return "", false, err
		}
		return readyState, readyState == "interactive" || readyState == "complete", nil
	})
	if err != nil {
		log.Warn("Document never reached a loaded state during recovery.", zap.Error(err))
		return false
	}

	loc, err := page.Location(recCtx)
	if err != nil {
		log.Warn("Failed to read location after recovery navigation.", zap.Error(err))
		return false
	}

	if st.ConversationID != "" {
		if got := ConversationID(loc); got == st.ConversationID {
			log.Info("Session recovered by conversation identifier.",
				zap.String("conversation_id", got), zap.String("location", loc))
			return true
		}
		log.Warn("Recovered page is a different conversation.",
			zap.String("want", st.ConversationID), zap.String("got", ConversationID(loc)))
		return false
	}

	// No identifier was captured; fall back to exact location equality.
	if loc == st.Location {
		log.Info("Session recovered by exact location match.", zap.String("location", loc))
		return true
	}
	log.Warn("Recovered location differs from saved location.",
		zap.String("want", st.Location), zap.String("got", loc))
	return false
}
