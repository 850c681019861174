// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Spot-check key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "chatdriver-cli", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Minute, cfg.Lock.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Lock.RetryInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Chat.PollInterval)
	assert.Equal(t, 3, cfg.Chat.AttachAttempts)
	assert.NotEmpty(t, cfg.Lock.Path)
	assert.NotEmpty(t, cfg.Chat.Selectors.Composer)
	assert.True(t, cfg.Progress.Enabled)
}

func TestConfigValidation(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate(), "default config must be valid")

	t.Run("empty lock path", func(t *testing.T) {
		bad := *cfg
		bad.Lock.Path = ""
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lock.path")
	})

	t.Run("negative lock timeout", func(t *testing.T) {
		bad := *cfg
		bad.Lock.Timeout = -time.Second
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lock.timeout")
	})

	t.Run("zero lock timeout means unbounded", func(t *testing.T) {
		ok := *cfg
		ok.Lock.Timeout = 0
		assert.NoError(t, ok.Validate())
	})

	t.Run("zero poll interval", func(t *testing.T) {
		bad := *cfg
		bad.Chat.PollInterval = 0
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "chat.poll_interval")
	})

	t.Run("missing composer selectors", func(t *testing.T) {
		bad := *cfg
		bad.Chat.Selectors.Composer = nil
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "composer")
	})

	t.Run("attach attempts below one", func(t *testing.T) {
		bad := *cfg
		bad.Chat.AttachAttempts = 0
		err := bad.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "attach_attempts")
	})
}

func TestViperOverride(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("chat.url", "https://chat.example.com")
	v.Set("lock.retry_interval", "250ms")

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	assert.Equal(t, "https://chat.example.com", cfg.Chat.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.Lock.RetryInterval)
}
