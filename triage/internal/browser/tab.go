package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/triage/triage/internal/domtree"
	"github.com/hazyhaar/triage/triage/internal/page"
)

// captureJS serializes the composite tree: open shadow roots inline as
// declarative templates, readable frames as nested captures.
//
//go:embed capture.js
var captureJS string

// clickJS clicks the first element matching a page.Target anywhere in the
// composite tree.
//
//go:embed click.js
var clickJS string

// Tab is one browser tab. It implements page.Page.
type Tab struct {
	page    *rod.Page
	timeout time.Duration
	// owned tabs were opened by OpenTab and are closed by Close.
	owned bool
}

var _ page.Page = (*Tab)(nil)

// OpenTab creates a stealth tab and navigates it to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	p, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		applyResourceBlocking(p, mgr.cfg.ResourceBlocking)
	}

	t := &Tab{page: p, timeout: mgr.cfg.NavigateTimeout, owned: true}
	navCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := p.Context(navCtx).Navigate(pageURL); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

// AttachTab adopts an existing tab of a remote browser whose URL starts
// with urlPrefix. An empty prefix adopts the first page tab.
func AttachTab(ctx context.Context, mgr *Manager, urlPrefix string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list tabs: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil || info.Type != proto.TargetTargetInfoTypePage {
			continue
		}
		if strings.HasPrefix(info.URL, urlPrefix) {
			mgr.cfg.Logger.Info("browser: attached tab", "url", info.URL)
			return &Tab{page: p, timeout: mgr.cfg.NavigateTimeout}, nil
		}
	}
	return nil, fmt.Errorf("browser: no tab matching %q", urlPrefix)
}

// URL returns the tab's current location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => location.href`)
	if err != nil {
		return "", fmt.Errorf("browser: read url: %w", err)
	}
	return res.Value.Str(), nil
}

// Snapshot serializes the live composite tree and parses it.
func (t *Tab) Snapshot(ctx context.Context) (*domtree.Document, error) {
	res, err := t.page.Context(ctx).Eval(captureJS)
	if err != nil {
		return nil, fmt.Errorf("browser: capture: %w", err)
	}
	var c domtree.Capture
	if err := json.Unmarshal([]byte(res.Value.Str()), &c); err != nil {
		return nil, fmt.Errorf("browser: decode capture: %w", err)
	}
	return domtree.FromCapture(c)
}

// Click clicks the first live element matching target.
func (t *Tab) Click(ctx context.Context, target page.Target) error {
	res, err := t.page.Context(ctx).Eval(clickJS, target)
	if err != nil {
		return fmt.Errorf("browser: click: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("browser: click: no %s element with text %q", target.Tag, target.Text)
	}
	return nil
}

// Back navigates one history entry back when there is one.
func (t *Tab) Back(ctx context.Context) (bool, error) {
	res, err := t.page.Context(ctx).Eval(`() => history.length`)
	if err != nil {
		return false, fmt.Errorf("browser: history length: %w", err)
	}
	if res.Value.Int() < 2 {
		return false, nil
	}
	navCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.page.Context(navCtx).NavigateBack(); err != nil {
		return false, fmt.Errorf("browser: navigate back: %w", err)
	}
	return true, nil
}

// Cookies returns the tab's cookies for the current page as http cookies,
// ready for the host API client's jar.
func (t *Tab) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	raw, err := t.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	out := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = c.Expires.Time()
		}
		out = append(out, hc)
	}
	return out, nil
}

// Close closes the tab when OpenTab created it. Attached tabs belong to
// the user and are left open.
func (t *Tab) Close() error {
	if t.page == nil || !t.owned {
		return nil
	}
	return t.page.Close()
}

// applyResourceBlocking fails requests for the configured resource types.
func applyResourceBlocking(p *rod.Page, types []string) {
	blockSet := make(map[string]bool, len(types))
	for _, t := range types {
		blockSet[strings.ToLower(t)] = true
	}
	router := p.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blockedType(blockSet, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}
