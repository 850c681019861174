// File: internal/session/state.go

// Package session persists the last known navigation target of a run so a
// broken navigation context can be replayed. The state file is single
// writer (the owning run) and overwritten whole, never appended.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	stateFileName = "session.json"
	// promptPreviewLimit bounds the stored prompt excerpt; the state file is
	// a recovery aid, not a transcript.
	promptPreviewLimit = 200
)

// conversationPattern extracts the conversation identifier from the path
// segment following a known route prefix.
var conversationPattern = regexp.MustCompile(`/(?:c|chat|conversation)/([A-Za-z0-9][A-Za-z0-9_-]*)`)

// State is the durable record of where a run last was.
type State struct {
	Location        string    `json:"location"`
	CapturedAt      time.Time `json:"captured_at"`
	PromptPreview   string    `json:"prompt_preview"`
	AttachmentPaths []string  `json:"attachment_paths,omitempty"`
	ConversationID  string    `json:"conversation_id,omitempty"`
	Dir             string    `json:"session_dir"`
}

// ConversationID derives the conversation identifier from a location, or ""
// when the location carries none.
func ConversationID(location string) string {
	m := conversationPattern.FindStringSubmatch(location)
	if m == nil {
		return ""
	}
	return m[1]
}

// truncatePreview bounds s to at most limit bytes without splitting a rune,
// so the state file always holds valid UTF-8.
func truncatePreview(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Save writes the state file for dir, replacing any previous one.
func Save(dir, location, prompt string, attachmentPaths []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	preview := truncatePreview(prompt, promptPreviewLimit)

	st := State{
		Location:        location,
		CapturedAt:      time.Now().UTC(),
		PromptPreview:   preview,
		AttachmentPaths: attachmentPaths,
		ConversationID:  ConversationID(location),
		Dir:             dir,
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, stateFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	return nil
}

// Load reads the state file for dir. A missing file is not an error; it
// returns (nil, nil).
func Load(dir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &st, nil
}
