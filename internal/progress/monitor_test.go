// File: internal/progress/monitor_test.go
package progress

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatdriver-cli/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePage serves the status-region sample script; statuses are consumed in
// order, the last one repeating.
type fakePage struct {
	mu       sync.Mutex
	statuses []string
	calls    int
	err      error
}

func (f *fakePage) Navigate(ctx context.Context, url string) error                      { return nil }
func (f *fakePage) SetFiles(ctx context.Context, selector string, paths []string) error { return nil }
func (f *fakePage) Click(ctx context.Context, selector string) error                    { return nil }
func (f *fakePage) Location(ctx context.Context) (string, error)                        { return "", nil }
func (f *fakePage) Title(ctx context.Context) (string, error)                           { return "", nil }

func (f *fakePage) EvalJSON(ctx context.Context, script string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	i := f.calls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.calls++
	if i >= 0 {
		*(out.(*string)) = f.statuses[i]
	}
	return nil
}

func testProgressConfig() config.ProgressConfig {
	return config.ProgressConfig{
		Enabled:    true,
		Tick:       5 * time.Millisecond,
		SoftTarget: time.Second,
	}
}

// collector is a threadsafe sink.
type collector struct {
	mu    sync.Mutex
	lines []string
}

func (c *collector) sink(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestMonitorEmitsStatusLines(t *testing.T) {
	page := &fakePage{statuses: []string{"Thinking hard..."}}
	c := &collector{}

	m := New(page, testProgressConfig(), config.SelectorsConfig{}, c.sink, false, zap.NewNop())
	m.Start(context.Background())
	waitFor(t, func() bool { return len(c.snapshot()) >= 1 })
	m.Stop()

	lines := c.snapshot()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "Thinking hard...")
	assert.Contains(t, lines[0], "%")
	assert.Contains(t, lines[0], "[")
}

func TestMonitorDeduplicatesConsecutiveMessages(t *testing.T) {
	page := &fakePage{statuses: []string{"Working on it"}}
	c := &collector{}

	m := New(page, testProgressConfig(), config.SelectorsConfig{}, c.sink, false, zap.NewNop())
	m.Start(context.Background())
	waitFor(t, func() bool {
		page.mu.Lock()
		defer page.mu.Unlock()
		return page.calls >= 5
	})
	m.Stop()

	lines := c.snapshot()
	require.Len(t, lines, 1, "an unchanged status must only be reported once")
}

func TestMonitorReportsStatusChanges(t *testing.T) {
	page := &fakePage{statuses: []string{"Uploading file", "Uploading file", "Generating response"}}
	c := &collector{}

	m := New(page, testProgressConfig(), config.SelectorsConfig{}, c.sink, false, zap.NewNop())
	m.Start(context.Background())
	waitFor(t, func() bool { return len(c.snapshot()) >= 2 })
	m.Stop()

	lines := c.snapshot()
	assert.Contains(t, lines[0], "Uploading file")
	assert.Contains(t, lines[1], "Generating response")
}

func TestMonitorIgnoresSampleErrors(t *testing.T) {
	page := &fakePage{err: errors.New("page went away")}
	c := &collector{}

	m := New(page, testProgressConfig(), config.SelectorsConfig{}, c.sink, false, zap.NewNop())
	m.Start(context.Background())
	waitFor(t, func() bool {
		page.mu.Lock()
		defer page.mu.Unlock()
		return page.calls >= 0 // errors do not bump calls; just let a few ticks pass
	})
	time.Sleep(25 * time.Millisecond)
	m.Stop()

	assert.Empty(t, c.snapshot())
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	page := &fakePage{statuses: []string{""}}
	m := New(page, testProgressConfig(), config.SelectorsConfig{}, nil, false, zap.NewNop())
	m.Start(context.Background())

	m.Stop()
	m.Stop()
	m.Stop()
}

func TestMonitorStopWithoutStart(t *testing.T) {
	page := &fakePage{}
	m := New(page, testProgressConfig(), config.SelectorsConfig{}, nil, false, zap.NewNop())
	m.Stop()
}

func TestMonitorDisabledStartsNothing(t *testing.T) {
	cfg := testProgressConfig()
	cfg.Enabled = false
	page := &fakePage{statuses: []string{"Working"}}
	c := &collector{}

	m := New(page, cfg, config.SelectorsConfig{}, c.sink, false, zap.NewNop())
	m.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	m.Stop()

	assert.Empty(t, c.snapshot())
	page.mu.Lock()
	defer page.mu.Unlock()
	assert.Zero(t, page.calls)
}

func TestMonitorStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	page := &fakePage{statuses: []string{""}}

	m := New(page, testProgressConfig(), config.SelectorsConfig{}, nil, false, zap.NewNop())
	m.Start(ctx)
	cancel()
	// The loop exits on its own; Stop just waits for it.
	m.Stop()
}

func TestFormatLineBarScalesWithElapsed(t *testing.T) {
	m := New(&fakePage{}, testProgressConfig(), config.SelectorsConfig{}, nil, false, zap.NewNop())

	early := m.formatLine(0, "starting")
	late := m.formatLine(2*time.Second, "still going")

	assert.Less(t, strings.Count(early, "="), strings.Count(late, "="))
	assert.Contains(t, late, "100%")
}
