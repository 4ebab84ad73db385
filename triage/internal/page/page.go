// Package page defines the live-page surface the extraction engine reads
// from and the one interaction it performs (a simulated click).
package page

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/triage/triage/internal/domtree"
	"github.com/hazyhaar/triage/triage/internal/poll"
)

// Page is a rendered page controlled by the host application. Every
// Snapshot call returns a fresh composite tree; callers must not hold one
// across a suspension point.
type Page interface {
	// URL returns the page's current location.
	URL(ctx context.Context) (string, error)
	// Snapshot captures the composite tree as it is rendered right now.
	Snapshot(ctx context.Context) (*domtree.Document, error)
	// Click dispatches a user click on the first live element matching t.
	Click(ctx context.Context, t Target) error
	// Back navigates one history entry back. It reports false without
	// navigating when there is no previous entry.
	Back(ctx context.Context) (bool, error)
}

// Target identifies a live element by what a user sees: tag, visible text
// and href. Node positions are not stable across snapshots of a page the
// host keeps re-rendering, so the live side matches on these instead.
type Target struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

// TargetOf builds a Target for a snapshot element.
func TargetOf(n *html.Node) Target {
	return Target{
		Tag:  strings.ToLower(n.Data),
		Text: domtree.Text(n),
		Href: domtree.Attr(n, "href"),
	}
}

var tabControlSel = cascadia.MustCompile(`[role="tab"], button, a, [data-test-id*="tab"]`)

var countSuffixRe = regexp.MustCompile(`\s*\(?\d+\)?$`)

// FindTab returns the first tab control whose label equals one of names,
// ignoring case and a trailing count badge ("Errors 3", "Errors (3)").
func FindTab(doc *domtree.Document, names ...string) (domtree.Match, bool) {
	for _, m := range domtree.QueryAll(doc, tabControlSel) {
		label := strings.ToLower(countSuffixRe.ReplaceAllString(domtree.Text(m.Node), ""))
		for _, name := range names {
			if label == strings.ToLower(name) {
				return m, true
			}
		}
	}
	return domtree.Match{}, false
}

// IsActiveTab reports whether a tab control is marked selected through
// aria-selected, a data-state attribute or a class-name convention.
func IsActiveTab(n *html.Node) bool {
	if domtree.Attr(n, "aria-selected") == "true" || domtree.Attr(n, "aria-current") == "page" {
		return true
	}
	switch strings.ToLower(domtree.Attr(n, "data-state")) {
	case "active", "selected", "on", "open":
		return true
	}
	for _, cls := range strings.Fields(strings.ToLower(domtree.Attr(n, "class"))) {
		if cls == "active" || cls == "selected" || cls == "is-active" || cls == "is-selected" ||
			strings.HasSuffix(cls, "--active") || strings.HasSuffix(cls, "--selected") {
			return true
		}
	}
	return false
}

// EnsureTab clicks the named tab once when it is present and not already
// active, then waits a single settle interval. It never retries the click;
// the caller polls for the tab content afterwards. It reports whether a
// click happened.
func EnsureTab(ctx context.Context, p Page, settle time.Duration, sleep poll.Sleeper, names ...string) (bool, error) {
	doc, err := p.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	m, ok := FindTab(doc, names...)
	if !ok || IsActiveTab(m.Node) {
		return false, nil
	}
	if err := p.Click(ctx, TargetOf(m.Node)); err != nil {
		return false, err
	}
	if sleep == nil {
		sleep = poll.Sleep
	}
	if err := sleep(ctx, settle); err != nil {
		return true, err
	}
	return true, nil
}
