// File: internal/session/session_test.go
package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePage is a minimal browser.Page for recovery tests.
type fakePage struct {
	navigated  []string
	navErr     error
	readyState string
	location   string
	locErr     error
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	return f.navErr
}

func (f *fakePage) EvalJSON(ctx context.Context, script string, out any) error {
	if strings.Contains(script, "readyState") {
		if p, ok := out.(*string); ok {
			*p = f.readyState
		}
	}
	return nil
}

func (f *fakePage) SetFiles(ctx context.Context, selector string, paths []string) error { return nil }
func (f *fakePage) Click(ctx context.Context, selector string) error                    { return nil }
func (f *fakePage) Location(ctx context.Context) (string, error)                        { return f.location, f.locErr }
func (f *fakePage) Title(ctx context.Context) (string, error)                           { return "", nil }

func TestConversationID(t *testing.T) {
	cases := []struct {
		location string
		want     string
	}{
		{"https://chat.example.com/c/abc123", "abc123"},
		{"https://chat.example.com/chat/abc-123?model=best", "abc-123"},
		{"https://chat.example.com/conversation/Xy_9", "Xy_9"},
		{"https://chat.example.com/c/abc123/continue", "abc123"},
		{"https://chat.example.com/", ""},
		{"https://chat.example.com/settings", ""},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ConversationID(tc.location), tc.location)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	err := Save(dir, "https://chat.example.com/c/abc123", "summarize this please", []string{"/tmp/a.pdf"})
	require.NoError(t, err)

	st, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "https://chat.example.com/c/abc123", st.Location)
	assert.Equal(t, "abc123", st.ConversationID)
	assert.Equal(t, "summarize this please", st.PromptPreview)
	assert.Equal(t, []string{"/tmp/a.pdf"}, st.AttachmentPaths)
	assert.Equal(t, dir, st.Dir)
	assert.WithinDuration(t, time.Now().UTC(), st.CapturedAt, time.Minute)
}

func TestSaveTruncatesPromptPreview(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("x", promptPreviewLimit*2)

	require.NoError(t, Save(dir, "https://chat.example.com/c/id1", long, nil))

	st, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, st.PromptPreview, promptPreviewLimit)
}

func TestTruncatePreviewKeepsRunesWhole(t *testing.T) {
	// Two bytes per rune; an odd byte limit would land mid-rune.
	s := strings.Repeat("é", 120)

	got := truncatePreview(s, 201)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("é", 100), got)
	assert.Equal(t, s, truncatePreview(s, len(s)), "strings within the limit pass through")
}

func TestSaveOverwritesPriorState(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, Save(dir, "https://chat.example.com/c/old", "first", nil))
	require.NoError(t, Save(dir, "https://chat.example.com/c/new", "second", nil))

	st, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "new", st.ConversationID)
	assert.Equal(t, "second", st.PromptPreview)
}

func TestLoadAbsentReturnsNil(t *testing.T) {
	st, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestLoadCorruptFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte("nope"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestRecoverByConversationID(t *testing.T) {
	// Raw location differs (added query params) but the identifier matches.
	page := &fakePage{
		readyState: "complete",
		location:   "https://chat.example.com/c/abc123?ref=resume",
	}
	st := &State{
		Location:       "https://chat.example.com/c/abc123",
		ConversationID: "abc123",
	}

	ok := Recover(context.Background(), page, st, time.Second, zap.NewNop())
	assert.True(t, ok)
	assert.Equal(t, []string{"https://chat.example.com/c/abc123"}, page.navigated)
}

func TestRecoverWrongConversationFails(t *testing.T) {
	page := &fakePage{
		readyState: "complete",
		location:   "https://chat.example.com/c/other999",
	}
	st := &State{
		Location:       "https://chat.example.com/c/abc123",
		ConversationID: "abc123",
	}

	assert.False(t, Recover(context.Background(), page, st, time.Second, zap.NewNop()))
}

func TestRecoverExactLocationFallback(t *testing.T) {
	page := &fakePage{
		readyState: "complete",
		location:   "https://chat.example.com/workspace",
	}
	st := &State{Location: "https://chat.example.com/workspace"}

	assert.True(t, Recover(context.Background(), page, st, time.Second, zap.NewNop()))

	page.location = "https://chat.example.com/elsewhere"
	assert.False(t, Recover(context.Background(), page, st, time.Second, zap.NewNop()))
}

func TestRecoverNavigationFailureIsNonFatal(t *testing.T) {
	page := &fakePage{navErr: errors.New("tab crashed")}
	st := &State{Location: "https://chat.example.com/c/abc123", ConversationID: "abc123"}

	assert.False(t, Recover(context.Background(), page, st, time.Second, zap.NewNop()))
}

func TestRecoverNilState(t *testing.T) {
	page := &fakePage{}
	assert.False(t, Recover(context.Background(), page, nil, time.Second, zap.NewNop()))
	assert.Empty(t, page.navigated)
}
