// File: internal/browser/page.go

// Package browser owns the remote page channel: launching or attaching to a
// Chrome instance over CDP and exposing the handful of page operations the
// rest of the program needs. The channel is treated as unreliable; callers
// must expect stale-element errors, surprise navigations, and disconnects.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Page is the request/response surface to the driven document. All
// implementations may return ErrConnectionLost (wrapped) once the transport
// has dropped.
type Page interface {
	// Navigate loads a URL and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// EvalJSON evaluates a script in the page and unmarshals its JSON
	// result into out. A nil out discards the result.
	EvalJSON(ctx context.Context, script string, out any) error
	// SetFiles assigns local file paths to a file input element.
	SetFiles(ctx context.Context, selector string, paths []string) error
	// Click clicks the first visible element matching the selector.
	Click(ctx context.Context, selector string) error
	// Location returns the document's current URL.
	Location(ctx context.Context) (string, error)
	// Title returns the document title.
	Title(ctx context.Context) (string, error)
}

// JSEncode safely embeds a Go value into a script as a JSON literal. Every
// script built for EvalJSON injects its arguments through this.
func JSEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// ErrConnectionLost marks errors caused by the CDP transport dropping, as
// opposed to a page-level failure. Callers report it as its own condition:
// the user most likely closed the window.
var ErrConnectionLost = errors.New("browser connection lost")

// staleElementMarkers are the CDP error fragments that mean a previously
// located element no longer resolves, usually because the page re-rendered.
var staleElementMarkers = []string{
	"could not find node",
	"no node with given id",
	"node not found",
	"detached from document",
	"stale element",
}

// IsStaleElement reports whether err looks like a stale element reference.
// These are transient: the caller should re-locate and retry.
func IsStaleElement(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range staleElementMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// connectionLostMarkers identify transport-level failures in CDP errors.
var connectionLostMarkers = []string{
	"websocket: close",
	"websocket: bad handshake",
	"connection reset by peer",
	"broken pipe",
	"transport error",
	"target closed",
	"browser closed",
}

func looksLikeConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range connectionLostMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
