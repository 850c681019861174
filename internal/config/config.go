// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Lock     LockConfig     `mapstructure:"lock" yaml:"lock"`
	Chat     ChatConfig     `mapstructure:"chat" yaml:"chat"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Progress ProgressConfig `mapstructure:"progress" yaml:"progress"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the driven browser instance.
type BrowserConfig struct {
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	ExecPath string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args     []string `mapstructure:"args" yaml:"args"`
	// RemoteURL attaches to an already running Chrome over CDP instead of
	// launching a new process. Teardown never kills a remote browser.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`
	// ProfileDir is the user-data-dir. Empty means a temporary directory
	// that is removed on teardown.
	ProfileDir        string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	KeepOpen          bool          `mapstructure:"keep_open" yaml:"keep_open"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// LockConfig controls the cross-process browser lock.
type LockConfig struct {
	Path          string        `mapstructure:"path" yaml:"path"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
}

// ChatConfig describes the target chat page and the waits applied to it.
type ChatConfig struct {
	URL       string          `mapstructure:"url" yaml:"url"`
	Selectors SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`

	ComposerTimeout   time.Duration `mapstructure:"composer_timeout" yaml:"composer_timeout"`
	ResponseTimeout   time.Duration `mapstructure:"response_timeout" yaml:"response_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	AttachVerifyDelay time.Duration `mapstructure:"attach_verify_delay" yaml:"attach_verify_delay"`
	AttachTimeout     time.Duration `mapstructure:"attach_timeout" yaml:"attach_timeout"`
	AttachAttempts    int           `mapstructure:"attach_attempts" yaml:"attach_attempts"`
	RecoveryTimeout   time.Duration `mapstructure:"recovery_timeout" yaml:"recovery_timeout"`
}

// SelectorsConfig carries the ordered selector lists for each page affordance.
// Most specific first; the page owner can override all of these when the
// third-party markup drifts.
type SelectorsConfig struct {
	FileInput     []string `mapstructure:"file_input" yaml:"file_input"`
	SendButton    []string `mapstructure:"send_button" yaml:"send_button"`
	Composer      []string `mapstructure:"composer" yaml:"composer"`
	AttachmentPin []string `mapstructure:"attachment_pin" yaml:"attachment_pin"`
	BusyMarker    []string `mapstructure:"busy_marker" yaml:"busy_marker"`
	StatusRegion  []string `mapstructure:"status_region" yaml:"status_region"`
	AssistantTurn []string `mapstructure:"assistant_turn" yaml:"assistant_turn"`
}

// SessionConfig controls where per-run session state lands on disk.
type SessionConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ProgressConfig tunes the background progress sampler.
type ProgressConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Tick       time.Duration `mapstructure:"tick" yaml:"tick"`
	SoftTarget time.Duration `mapstructure:"soft_target" yaml:"soft_target"`
}

// NewDefaultConfig returns a Config populated with the viper defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg := &Config{}
	// Unmarshal of pure defaults cannot fail; the structures mirror the keys.
	_ = v.Unmarshal(cfg)
	return cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	home, err := homedir.Dir()
	if err != nil {
		home = "."
	}
	baseDir := filepath.Join(home, ".chatdriver")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "chatdriver-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// Browser defaults
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.keep_open", false)
	v.SetDefault("browser.navigation_timeout", "90s")

	// Lock defaults
	v.SetDefault("lock.path", filepath.Join(baseDir, "browser.lock"))
	v.SetDefault("lock.timeout", "30m")
	v.SetDefault("lock.retry_interval", "2s")

	// Chat defaults
	v.SetDefault("chat.url", "")
	v.SetDefault("chat.composer_timeout", "60s")
	v.SetDefault("chat.response_timeout", "30m")
	v.SetDefault("chat.poll_interval", "500ms")
	v.SetDefault("chat.settle_delay", "2s")
	v.SetDefault("chat.attach_verify_delay", "1500ms")
	v.SetDefault("chat.attach_timeout", "10s")
	v.SetDefault("chat.attach_attempts", 3)
	v.SetDefault("chat.recovery_timeout", "30s")

	v.SetDefault("chat.selectors.file_input", []string{
		`input[data-testid="file-upload"]`,
		`form input[type="file"]`,
		`input[type="file"]`,
	})
	v.SetDefault("chat.selectors.send_button", []string{
		`button[data-testid="send-button"]`,
		`button[aria-label="Send message"]`,
		`form button[type="submit"]`,
	})
	v.SetDefault("chat.selectors.composer", []string{
		`div[contenteditable="true"][data-testid="composer"]`,
		`div[contenteditable="true"]`,
		`form textarea`,
	})
	v.SetDefault("chat.selectors.attachment_pin", []string{
		`[data-testid="attachment-pill"]`,
		`form [data-testid*="attachment"]`,
	})
	v.SetDefault("chat.selectors.busy_marker", []string{
		`[data-testid="upload-progress"]`,
		`form [aria-busy="true"]`,
	})
	v.SetDefault("chat.selectors.status_region", []string{
		`[data-testid="status-text"]`,
		`[role="status"]`,
	})
	v.SetDefault("chat.selectors.assistant_turn", []string{
		`[data-testid="assistant-turn"]`,
		`[data-message-author-role="assistant"]`,
	})

	// Session defaults
	v.SetDefault("session.dir", filepath.Join(baseDir, "session"))

	// Progress defaults
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.tick", "1500ms")
	v.SetDefault("progress.soft_target", "90s")
}

// Validate performs sanity checks on the assembled configuration.
func (c *Config) Validate() error {
	if c.Lock.Path == "" {
		return fmt.Errorf("lock.path must not be empty")
	}
	if c.Lock.RetryInterval <= 0 {
		return fmt.Errorf("lock.retry_interval must be positive")
	}
	if c.Lock.Timeout < 0 {
		return fmt.Errorf("lock.timeout must be zero (unbounded) or positive")
	}
	if c.Chat.PollInterval <= 0 {
		return fmt.Errorf("chat.poll_interval must be positive")
	}
	if c.Chat.AttachAttempts < 1 {
		return fmt.Errorf("chat.attach_attempts must be at least 1")
	}
	if len(c.Chat.Selectors.Composer) == 0 {
		return fmt.Errorf("chat.selectors.composer must list at least one selector")
	}
	if len(c.Chat.Selectors.SendButton) == 0 {
		return fmt.Errorf("chat.selectors.send_button must list at least one selector")
	}
	if c.Progress.Enabled && c.Progress.Tick <= 0 {
		return fmt.Errorf("progress.tick must be positive when progress is enabled")
	}
	return nil
}
