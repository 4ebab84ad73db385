package triage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/hazyhaar/triage/observability"
	"github.com/hazyhaar/triage/triage/internal/browser"
	"github.com/hazyhaar/triage/triage/internal/config"
	"github.com/hazyhaar/triage/triage/internal/hostapi"
	"github.com/hazyhaar/triage/triage/internal/pagectx"
)

// FileConfig is the YAML configuration of a Session.
type FileConfig = config.Config

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*FileConfig, error) { return config.LoadFile(path) }

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() *FileConfig { return config.Default() }

// Target selects the page a Session drives. Exactly one field is set.
type Target struct {
	// URL opens a new tab on this address.
	URL string
	// Attach adopts the remote browser's first tab whose URL has this
	// prefix.
	Attach string
}

// Session is a browser tab wired to an Engine, with the host API client
// authenticated by the tab's cookies and an optional action journal.
type Session struct {
	Engine *Engine

	mgr     *browser.Manager
	tab     *browser.Tab
	journal *observability.Journal
	logger  *slog.Logger
}

// OpenSession starts (or connects to) the browser, opens the target tab
// and builds the Engine. Close releases everything.
func OpenSession(ctx context.Context, cfg *FileConfig, target Target, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if (target.URL == "") == (target.Attach == "") {
		return nil, fmt.Errorf("triage: session: set exactly one of URL and Attach")
	}
	if target.Attach != "" && cfg.Browser.Remote == "" {
		return nil, fmt.Errorf("triage: session: attaching needs a remote browser")
	}

	mode := browser.ModeHeadless
	if cfg.Browser.Mode == "headful" {
		mode = browser.ModeHeadful
	}
	s := &Session{logger: logger}
	s.mgr = browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Mode:             mode,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		NavigateTimeout:  cfg.Browser.NavigateTimeout,
		Logger:           logger,
	})
	if err := s.mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("triage: start browser: %w", err)
	}

	var err error
	if target.Attach != "" {
		s.tab, err = browser.AttachTab(ctx, s.mgr, target.Attach)
	} else {
		s.tab, err = browser.OpenTab(ctx, s.mgr, target.URL)
	}
	if err != nil {
		s.Close()
		return nil, err
	}

	api, err := s.apiClient(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Journal.Path != "" {
		if s.journal, err = openJournal(ctx, cfg.Journal, logger); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.Engine = New(Config{
		Page:        s.tab,
		API:         api,
		PageOptions: pagectx.Options{SaaSDomain: cfg.Host.SaaSDomain},
		Poll:        cfg.Poll,
		Journal:     s.journal,
		Logger:      logger,
	})
	return s, nil
}

// openJournal opens the journal and prunes entries past the retention
// window. A failed prune is logged; the journal stays usable.
func openJournal(ctx context.Context, cfg config.JournalConfig, logger *slog.Logger) (*observability.Journal, error) {
	j, err := observability.Open(cfg.Path, observability.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if cfg.RetentionDays > 0 {
		n, err := j.Cleanup(ctx, cfg.RetentionDays)
		if err != nil {
			logger.Warn("journal prune failed", "path", cfg.Path, "error", err)
		} else if n > 0 {
			logger.Info("journal pruned", "path", cfg.Path, "deleted", n, "retention_days", cfg.RetentionDays)
		}
	}
	return j, nil
}

// apiClient points the host API client at the configured origin, or at the
// tab's own origin, and hands it the tab's session cookies.
func (s *Session) apiClient(ctx context.Context, cfg *FileConfig) (*hostapi.Client, error) {
	origin := cfg.Host.Origin
	if origin == "" {
		raw, err := s.tab.URL(ctx)
		if err != nil {
			return nil, err
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("triage: parse page url: %w", err)
		}
		origin = u.Scheme + "://" + u.Host
	}
	client, err := hostapi.New(hostapi.Config{
		Origin:        origin,
		Timeout:       cfg.API.Timeout,
		RatePerSecond: cfg.API.RatePerSecond,
		Burst:         cfg.API.Burst,
		MaxBody:       cfg.API.MaxBody,
		Logger:        s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("triage: api client: %w", err)
	}
	cookies, err := s.tab.Cookies(ctx)
	if err != nil {
		s.logger.Warn("triage: no session cookies, api fallbacks will likely fail", "error", err)
		return client, nil
	}
	client.SetCookies(cookies)
	return client, nil
}

// Close closes the journal, the tab (when the session opened it) and the
// browser.
func (s *Session) Close() error {
	if s.journal != nil {
		s.journal.Close()
	}
	if s.tab != nil {
		s.tab.Close()
	}
	return s.mgr.Close()
}
