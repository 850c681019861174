// File: internal/orchestrator/composer_test.go
package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWaitComposerReturnsFirstMatch(t *testing.T) {
	cfg := testRunnerConfig(t)
	page := newHappyPage()

	sel, err := waitComposer(context.Background(), page, cfg.Chat, zap.NewNop())

	require.NoError(t, err)
	assert.Equal(t, `div[contenteditable="true"]`, sel)
}

func TestFillComposerElementVanished(t *testing.T) {
	page := newHappyPage()
	page.fillOK = false

	err := fillComposer(context.Background(), page, `div[contenteditable="true"]`, "hello")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disappeared")
}

func TestClickSendNoButton(t *testing.T) {
	cfg := testRunnerConfig(t)
	page := newHappyPage()
	page.sendSel = ""

	err := clickSend(context.Background(), page, cfg.Chat)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no send button")
	assert.Empty(t, page.clicked)
}

func TestClickSendClicksLocatedSelector(t *testing.T) {
	cfg := testRunnerConfig(t)
	page := newHappyPage()

	err := clickSend(context.Background(), page, cfg.Chat)

	require.NoError(t, err)
	assert.Equal(t, []string{page.sendSel}, page.clicked)
}

func TestExtractAnswerEmptyPage(t *testing.T) {
	cfg := testRunnerConfig(t)
	page := newHappyPage()
	page.answer = ""

	_, err := extractAnswer(context.Background(), page, cfg.Chat)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no assistant turn")
}

func TestAwaitSendReadyTimesOut(t *testing.T) {
	cfg := testRunnerConfig(t)
	page := newHappyPage()
	page.sendReady = false

	err := awaitSendReady(context.Background(), page, cfg.Chat, 30*time.Millisecond)

	require.Error(t, err)
}
