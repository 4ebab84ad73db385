// Package replay resolves the session replay linked to the current page
// through an ordered chain of sources. The first source that yields a
// replay wins; later sources are never consulted.
//
//	url        the page itself is a replay view
//	dom        a replay link is already rendered
//	dom-click  clicking a replay call-to-action reveals one
//	api        the host API lists replays for the issue
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/triage/triage/internal/domtree"
	"github.com/hazyhaar/triage/triage/internal/page"
	"github.com/hazyhaar/triage/triage/internal/pagectx"
	"github.com/hazyhaar/triage/triage/internal/poll"
)

// Source names the resolution state that produced a replay, cheapest and
// most trusted first.
type Source string

const (
	SourceURL      Source = "url"
	SourceDOM      Source = "dom"
	SourceDOMClick Source = "dom-click"
	SourceAPI      Source = "api"
)

// Resolution is an immutable resolved replay reference.
type Resolution struct {
	ReplayID  string `json:"replayId"`
	ReplayURL string `json:"replayUrl"`
	Source    Source `json:"source"`
}

// ErrNotFound is returned when no state yields a replay.
var ErrNotFound = errors.New("no replay found for this page")

// Finder lists replays linked to an issue, most recent first.
type Finder interface {
	IssueReplayIDs(ctx context.Context, org, issueID string, limit int) ([]string, error)
}

// Config configures a Resolver.
type Config struct {
	Page page.Page
	// API is consulted last. Nil disables the api state.
	API Finder
	// LinkPoll bounds the passive link search.
	LinkPoll poll.Policy
	// ClickPoll bounds the wait after the call-to-action click.
	ClickPoll poll.Policy
	Logger    *slog.Logger
}

// Resolver runs the resolution chain.
type Resolver struct {
	page      page.Page
	api       Finder
	linkPoll  poll.Policy
	clickPoll poll.Policy
	logger    *slog.Logger
}

// New returns a Resolver.
func New(cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		page:      cfg.Page,
		api:       cfg.API,
		linkPoll:  cfg.LinkPoll,
		clickPoll: cfg.ClickPoll,
		logger:    cfg.Logger,
	}
}

// Resolve runs url, dom, dom-click and api in that order. Only the api
// state's preconditions (organization and issue known) and the final
// not-found surface as errors.
func (r *Resolver) Resolve(ctx context.Context, pc pagectx.Context) (Resolution, error) {
	if pc.ReplayID != "" {
		return Resolution{ReplayID: pc.ReplayID, ReplayURL: pc.ReplayURL(pc.ReplayID), Source: SourceURL}, nil
	}
	if res, ok := r.fromDOM(ctx, pc); ok {
		return r.resolved(res), nil
	}
	if res, ok := r.fromClick(ctx, pc); ok {
		return r.resolved(res), nil
	}
	res, err := r.fromAPI(ctx, pc)
	if err != nil {
		return Resolution{}, err
	}
	return r.resolved(res), nil
}

func (r *Resolver) resolved(res Resolution) Resolution {
	r.logger.Info("replay: resolved", "source", res.Source, "replay_id", res.ReplayID)
	return res
}

func (r *Resolver) snapshot(ctx context.Context) (*domtree.Document, bool) {
	doc, err := r.page.Snapshot(ctx)
	if err != nil {
		r.logger.Debug("replay: snapshot failed", "error", err)
		return nil, false
	}
	return doc, true
}

func (r *Resolver) fromDOM(ctx context.Context, pc pagectx.Context) (Resolution, bool) {
	l, ok := poll.First(ctx, r.linkPoll, func() (Link, bool) {
		doc, ok := r.snapshot(ctx)
		if !ok {
			return Link{}, false
		}
		return FindLink(doc)
	})
	if !ok {
		r.logger.Debug("replay: no replay link rendered")
		return Resolution{}, false
	}
	return Resolution{ReplayID: l.ReplayID, ReplayURL: l.url(pc), Source: SourceDOM}, true
}

func (r *Resolver) fromClick(ctx context.Context, pc pagectx.Context) (Resolution, bool) {
	doc, ok := r.snapshot(ctx)
	if !ok {
		return Resolution{}, false
	}
	cta, ok := FindCallToAction(doc)
	if !ok {
		r.logger.Debug("replay: no call-to-action to click")
		return Resolution{}, false
	}
	before, err := r.page.URL(ctx)
	if err != nil {
		r.logger.Debug("replay: read url failed", "error", err)
		return Resolution{}, false
	}
	if err := r.page.Click(ctx, page.TargetOf(cta.Node)); err != nil {
		r.logger.Debug("replay: click failed", "error", err)
		return Resolution{}, false
	}

	navigated := false
	l, found := poll.First(ctx, r.clickPoll, func() (Link, bool) {
		if now, err := r.page.URL(ctx); err == nil && now != before {
			navigated = true
			if id := IDFromURL(now); id != "" {
				return Link{ReplayID: id, Href: now}, true
			}
		}
		doc, ok := r.snapshot(ctx)
		if !ok {
			return Link{}, false
		}
		return FindLink(doc)
	})
	if navigated {
		if _, err := r.page.Back(ctx); err != nil {
			r.logger.Debug("replay: navigate back failed", "error", err)
		}
	}
	if !found {
		r.logger.Debug("replay: click revealed no replay")
		return Resolution{}, false
	}
	return Resolution{ReplayID: l.ReplayID, ReplayURL: l.url(pc), Source: SourceDOMClick}, true
}

func (r *Resolver) fromAPI(ctx context.Context, pc pagectx.Context) (Resolution, error) {
	if err := pc.RequireIssue(); err != nil {
		return Resolution{}, fmt.Errorf("replay: api lookup: %w", err)
	}
	if r.api == nil {
		return Resolution{}, ErrNotFound
	}
	ids, err := r.api.IssueReplayIDs(ctx, pc.OrgSlug, pc.IssueID, 1)
	if err != nil {
		r.logger.Debug("replay: api lookup failed", "error", err)
		return Resolution{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if len(ids) == 0 || ids[0] == "" {
		return Resolution{}, ErrNotFound
	}
	id := strings.ToLower(ids[0])
	return Resolution{ReplayID: id, ReplayURL: pc.ReplayURL(id), Source: SourceAPI}, nil
}

var (
	ctaRe        = regexp.MustCompile(`(?i)\b(see full replay|see all replays|open replay|view replay)\b`)
	replayPathRe = regexp.MustCompile(`(?i)/replays/([a-f0-9]{8,32})(?:/|$|[?#])`)
	replayParmRe = regexp.MustCompile(`(?i)[?&]replayId=([a-f0-9]{8,32})\b`)

	anchorSel    = cascadia.MustCompile(`a[href]`)
	clickableSel = cascadia.MustCompile(`[href]:not(a), [data-href], [data-url], [data-to], [onclick]`)
	ctaSel       = cascadia.MustCompile(`a, button, [role="button"], [role="link"]`)
)

// linkAttrs are the attributes of non-anchor clickables that may carry a
// replay URL.
var linkAttrs = []string{"href", "data-href", "data-url", "data-to", "onclick"}

// IDFromURL extracts a replay id from a replay path or a replayId query
// parameter. It returns "" when s names no replay.
func IDFromURL(s string) string {
	if m := replayPathRe.FindStringSubmatch(s); m != nil {
		return strings.ToLower(m[1])
	}
	if m := replayParmRe.FindStringSubmatch(s); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

// Link is a replay reference found in the composite tree.
type Link struct {
	ReplayID string
	// Href is the resolved link, empty when the id came from a non-URL
	// attribute.
	Href string
}

func (l Link) url(pc pagectx.Context) string {
	if u, err := url.Parse(l.Href); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return l.Href
	}
	return pc.ReplayURL(l.ReplayID)
}

// FindLink searches the composite tree for a replay reference:
// call-to-action anchors first, then any anchor with a replay path, then
// link-like attributes of other clickables and their enclosing anchor.
func FindLink(doc *domtree.Document) (Link, bool) {
	anchors := domtree.QueryAll(doc, anchorSel)
	for _, a := range anchors {
		if !ctaRe.MatchString(domtree.Text(a.Node)) {
			continue
		}
		if id := IDFromURL(a.Href()); id != "" {
			return Link{ReplayID: id, Href: a.Href()}, true
		}
	}
	for _, a := range anchors {
		if id := IDFromURL(a.Href()); id != "" {
			return Link{ReplayID: id, Href: a.Href()}, true
		}
	}
	for _, m := range domtree.QueryAll(doc, clickableSel) {
		for _, attr := range linkAttrs {
			v := domtree.Attr(m.Node, attr)
			if id := IDFromURL(v); id != "" {
				href := ""
				if attr != "onclick" {
					href = m.Doc.Resolve(v)
				}
				return Link{ReplayID: id, Href: href}, true
			}
		}
		if enc := domtree.Closest(m.Node, anchorSel); enc != nil {
			href := domtree.Match{Node: enc, Doc: m.Doc}.Href()
			if id := IDFromURL(href); id != "" {
				return Link{ReplayID: id, Href: href}, true
			}
		}
	}
	return Link{}, false
}

// FindCallToAction returns the first clickable whose text is a replay
// call-to-action phrase.
func FindCallToAction(doc *domtree.Document) (domtree.Match, bool) {
	for _, m := range domtree.QueryAll(doc, ctaSel) {
		if ctaRe.MatchString(domtree.Text(m.Node)) {
			return m, true
		}
	}
	return domtree.Match{}, false
}
