// Package pagectx derives the page context (organization, issue, replay)
// from the current page URL, with a DOM fallback for the organization.
package pagectx

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/triage/triage/internal/domtree"
	"github.com/hazyhaar/triage/triage/internal/pattern"
)

// Type classifies the page.
type Type string

const (
	TypeIssue  Type = "issue"
	TypeReplay Type = "replay"
	TypeOther  Type = "other"
)

// Context is the read-only snapshot an action works from. At most one of
// IssueID and ReplayID is set, matching Type.
type Context struct {
	Origin   string `json:"origin"`
	OrgSlug  string `json:"organizationSlug,omitempty"`
	IssueID  string `json:"issueId,omitempty"`
	ReplayID string `json:"replayId,omitempty"`
	Type     Type   `json:"pageType"`
}

// Options tune URL recognition.
type Options struct {
	// SaaSDomain enables "{org}.<domain>" organization recognition,
	// e.g. "sentry.io". Empty disables it.
	SaaSDomain string
}

// Each field is tried against an ordered pattern list; first match wins.
var (
	orgPathPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^/organizations/([^/]+)/`),
		regexp.MustCompile(`^/settings/([^/]+)/`),
	}
	issuePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^/organizations/[^/]+/issues/([^/]+)`),
		regexp.MustCompile(`^/issues/([^/]+)`),
	}
	replayPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^/organizations/[^/]+/replays/([^/]+)`),
		regexp.MustCompile(`^/replays/([^/]+)`),
	}
)

// subdomainSkip are first labels that never name an organization.
var subdomainSkip = map[string]bool{"www": true, "app": true, "api": true, "us": true, "de": true}

var orgLinkSel = cascadia.MustCompile(`a[href*="/organizations/"]`)

// FromURL derives a Context from a page URL alone.
func FromURL(raw string, opts Options) (Context, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Context{}, fmt.Errorf("pagectx: parse url %q: %w", raw, err)
	}
	return fromURL(u, opts), nil
}

func fromURL(u *url.URL, opts Options) Context {
	c := Context{Type: TypeOther}
	if u.Scheme != "" && u.Host != "" {
		c.Origin = u.Scheme + "://" + u.Host
	}
	path := u.EscapedPath()

	c.OrgSlug = firstMatch(orgPathPatterns, path)
	if c.OrgSlug == "" {
		c.OrgSlug = subdomainOrg(u.Hostname(), opts.SaaSDomain)
	}

	if id := strings.ToLower(firstMatch(replayPatterns, path)); pattern.IsHexID(id) {
		c.ReplayID = id
		c.Type = TypeReplay
		return c
	}
	if id := firstMatch(issuePatterns, path); id != "" {
		c.IssueID = id
		c.Type = TypeIssue
	}
	return c
}

// FromDocument derives a Context from a snapshot: the URL first, then the
// first organization link of the composite tree when the URL carries no
// organization.
func FromDocument(doc *domtree.Document, opts Options) Context {
	if doc == nil || doc.URL == nil {
		return Context{Type: TypeOther}
	}
	c := fromURL(doc.URL, opts)
	if c.OrgSlug != "" {
		return c
	}
	for _, m := range domtree.QueryAll(doc, orgLinkSel) {
		u, err := url.Parse(m.Href())
		if err != nil {
			continue
		}
		if org := firstMatch(orgPathPatterns[:1], u.EscapedPath()); org != "" {
			c.OrgSlug = org
			break
		}
	}
	return c
}

// ReplayURL is the canonical replay view URL for this context.
func (c Context) ReplayURL(replayID string) string {
	if c.OrgSlug == "" {
		return c.Origin + "/replays/" + url.PathEscape(replayID) + "/"
	}
	return c.Origin + "/organizations/" + url.PathEscape(c.OrgSlug) + "/replays/" + url.PathEscape(replayID) + "/"
}

func firstMatch(res []*regexp.Regexp, path string) string {
	for _, re := range res {
		if m := re.FindStringSubmatch(path); m != nil {
			return decode(m[1])
		}
	}
	return ""
}

// decode percent-decodes a path segment, keeping the raw value when it is
// not valid escaping.
func decode(s string) string {
	if d, err := url.PathUnescape(s); err == nil {
		return d
	}
	return s
}

func subdomainOrg(host, domain string) string {
	if domain == "" {
		return ""
	}
	suffix := "." + strings.ToLower(strings.TrimPrefix(domain, "."))
	host = strings.ToLower(host)
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	label := strings.TrimSuffix(host, suffix)
	if label == "" || strings.Contains(label, ".") || subdomainSkip[label] {
		return ""
	}
	return label
}

// Precondition failures for operations that need a field the page does
// not carry.
var (
	ErrMissingOrg   = errors.New("organization slug not found on this page")
	ErrMissingIssue = errors.New("issue id not found on this page")
)

// RequireOrg returns ErrMissingOrg when the organization is unknown.
func (c Context) RequireOrg() error {
	if c.OrgSlug == "" {
		return ErrMissingOrg
	}
	return nil
}

// RequireIssue returns the organization precondition error, or
// ErrMissingIssue when the issue id is unknown.
func (c Context) RequireIssue() error {
	if err := c.RequireOrg(); err != nil {
		return err
	}
	if c.IssueID == "" {
		return ErrMissingIssue
	}
	return nil
}
