// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/chatdriver-cli/internal/config"
)

const startupTimeout = 60 * time.Second

// Manager owns the lifecycle of exactly one browser and one tab. The
// process-wide lock guarantees no second Manager runs concurrently on the
// host, so there is no session pool here.
type Manager struct {
	cfg config.BrowserConfig
	log *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	profileDir  string
	profileTemp bool
	remote      bool
	shutdown    bool
}

// NewManager creates a manager; nothing is launched until Start.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		cfg: cfg,
		log: logger.Named("browser"),
	}
}

// Start launches a Chrome process (or attaches to a remote one) and returns
// the single driven page.
func (m *Manager) Start(ctx context.Context) (Page, error) {
	if m.cfg.RemoteURL != "" {
		m.remote = true
		m.log.Info("Attaching to remote browser.", zap.String("url", m.cfg.RemoteURL))
		m.allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(ctx, m.cfg.RemoteURL)
	} else {
		profileDir := m.cfg.ProfileDir
		if profileDir == "" {
			dir, err := os.MkdirTemp("", "chatdriver-profile-*")
			if err != nil {
				return nil, fmt.Errorf("failed to create temporary profile directory: %w", err)
			}
			profileDir = dir
			m.profileTemp = true
		}
		m.profileDir = profileDir

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", m.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserDataDir(profileDir),
		)
		if m.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
		}
		for _, arg := range m.cfg.Args {
			opts = append(opts, chromedp.Flag(arg, true))
		}

		m.log.Info("Launching browser.",
			zap.Bool("headless", m.cfg.Headless), zap.String("profile_dir", profileDir))
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}

	m.tabCtx, m.tabCancel = chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			m.log.Sugar().Debugf(format, args...)
		}),
	)

	// Running an empty task forces the browser to actually start.
	startCtx, cancel := context.WithTimeout(m.tabCtx, startupTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		m.Shutdown()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	m.log.Info("Browser ready.")
	return &cdpPage{tabCtx: m.tabCtx, log: m.log.Named("page"), navTimeout: m.cfg.NavigationTimeout}, nil
}

// Alive reports whether the CDP connection is still usable.
func (m *Manager) Alive() bool {
	return m.tabCtx != nil && m.tabCtx.Err() == nil
}

// Shutdown tears the browser down best-effort. Each step is independent so
// one failure cannot block the next. Safe to call repeatedly, and safe to
// call when Start failed partway.
func (m *Manager) Shutdown() {
	if m.shutdown {
		return
	}
	m.shutdown = true

	if m.tabCancel != nil {
		m.tabCancel()
	}

	keep := m.remote || m.cfg.KeepOpen
	if m.allocCancel != nil {
		if keep {
			m.log.Info("Leaving browser process running.", zap.Bool("remote", m.remote))
		}
		// For an exec allocator this kills the Chrome process; for a remote
		// allocator it only drops our connection.
		if !keep || m.remote {
			m.allocCancel()
		}
	}

	if m.profileTemp && m.profileDir != "" && !m.cfg.KeepOpen {
		if err := os.RemoveAll(m.profileDir); err != nil {
			m.log.Warn("Failed to remove temporary profile directory.",
				zap.String("dir", m.profileDir), zap.Error(err))
		}
	}
	m.log.Debug("Browser manager shut down.")
}
