package replay

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/triage/triage/internal/domtree"
	"github.com/hazyhaar/triage/triage/internal/page/pagetest"
	"github.com/hazyhaar/triage/triage/internal/pagectx"
	"github.com/hazyhaar/triage/triage/internal/poll"
)

const (
	issueURL = "https://sentry.example.com/organizations/acme/issues/123/"
	replayID = "0123456789abcdef0123456789abcdef"
)

var issueCtx = pagectx.Context{
	Origin:  "https://sentry.example.com",
	OrgSlug: "acme",
	IssueID: "123",
	Type:    pagectx.TypeIssue,
}

type fakeFinder struct {
	ids   []string
	err   error
	calls int
}

func (f *fakeFinder) IssueReplayIDs(ctx context.Context, org, issueID string, limit int) ([]string, error) {
	f.calls++
	return f.ids, f.err
}

func newResolver(p *pagetest.Fake, api Finder) *Resolver {
	pol := poll.Policy{Attempts: 3, Sleep: poll.NoSleep}
	return New(Config{Page: p, API: api, LinkPoll: pol, ClickPoll: pol})
}

func TestResolve_URLSourceTouchesNothing(t *testing.T) {
	// WHAT: A replay page resolves from its own URL.
	// WHY: The url state must make no DOM read and no remote call.
	p := pagetest.New("https://sentry.example.com/organizations/acme/replays/"+replayID+"/", "")
	api := &fakeFinder{ids: []string{"ffffffffffffffff"}}
	pc := pagectx.Context{Origin: "https://sentry.example.com", OrgSlug: "acme", ReplayID: replayID, Type: pagectx.TypeReplay}

	got, err := newResolver(p, api).Resolve(context.Background(), pc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := Resolution{
		ReplayID:  replayID,
		ReplayURL: "https://sentry.example.com/organizations/acme/replays/" + replayID + "/",
		Source:    SourceURL,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("resolution mismatch (-want +got):\n%s", diff)
	}
	if api.calls != 0 || p.Snapshots != 0 || len(p.Clicks) != 0 {
		t.Fatalf("url state touched the page or API: api=%d snapshots=%d clicks=%d", api.calls, p.Snapshots, len(p.Clicks))
	}
}

func TestResolve_DOMLinkAfterRender(t *testing.T) {
	p := pagetest.New(issueURL, "")
	p.Renders = []string{
		`<div>loading</div>`,
		`<section><a href="/organizations/acme/replays/` + replayID + `/?referrer=issue">See Full Replay</a></section>`,
	}
	api := &fakeFinder{}
	got, err := newResolver(p, api).Resolve(context.Background(), issueCtx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Source != SourceDOM || got.ReplayID != replayID {
		t.Fatalf("got %+v", got)
	}
	if got.ReplayURL != "https://sentry.example.com/organizations/acme/replays/"+replayID+"/?referrer=issue" {
		t.Fatalf("url: %q", got.ReplayURL)
	}
	if p.Snapshots != 2 || api.calls != 0 {
		t.Fatalf("snapshots=%d api=%d", p.Snapshots, api.calls)
	}
}

func TestFindLink_DataAttributeAndShadowRoot(t *testing.T) {
	p := pagetest.New(issueURL, `<replay-card><template shadowrootmode="open">
<div role="button" data-to="/organizations/acme/replays/`+replayID+`/">Watch</div>
</template></replay-card>`)
	got, err := newResolver(p, nil).Resolve(context.Background(), issueCtx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Source != SourceDOM || got.ReplayID != replayID {
		t.Fatalf("got %+v", got)
	}
}

func TestFindLink_HrefOnNonAnchor(t *testing.T) {
	// WHAT: A button carrying a plain href attribute is a replay link.
	doc, err := domtree.ParseString(`<div><button href="/organizations/acme/replays/`+replayID+`/">Open</button></div>`, issueURL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, ok := FindLink(doc)
	if !ok {
		t.Fatal("no link found")
	}
	want := Link{ReplayID: replayID, Href: "https://sentry.example.com/organizations/acme/replays/" + replayID + "/"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("link mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_DOMClickNavigatesAndReturns(t *testing.T) {
	// WHAT: Clicking the call-to-action navigates to the replay; the id is
	// read from the new URL and the page is taken back.
	// WHY: The caller's page must be left where it was.
	p := pagetest.New(issueURL, `<button type="button">Open Replay</button>`)
	p.OnClick["open replay"] = pagetest.State{
		URL:  "https://sentry.example.com/organizations/acme/replays/" + replayID + "/",
		HTML: `<h1>Replay</h1>`,
	}
	api := &fakeFinder{}
	got, err := newResolver(p, api).Resolve(context.Background(), issueCtx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Source != SourceDOMClick || got.ReplayID != replayID {
		t.Fatalf("got %+v", got)
	}
	if len(p.Clicks) != 1 || p.BackCalls != 1 {
		t.Fatalf("clicks=%d back=%d", len(p.Clicks), p.BackCalls)
	}
	if p.Current().URL != issueURL {
		t.Fatalf("page left on %q", p.Current().URL)
	}
	if api.calls != 0 {
		t.Fatalf("api called %d times", api.calls)
	}
}

func TestResolve_APIFallback(t *testing.T) {
	p := pagetest.New(issueURL, `<p>No replays rendered</p>`)
	api := &fakeFinder{ids: []string{"ABCDEF0123456789"}}
	got, err := newResolver(p, api).Resolve(context.Background(), issueCtx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := Resolution{
		ReplayID:  "abcdef0123456789",
		ReplayURL: "https://sentry.example.com/organizations/acme/replays/abcdef0123456789/",
		Source:    SourceAPI,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("resolution mismatch (-want +got):\n%s", diff)
	}
	if len(p.Clicks) != 0 {
		t.Fatalf("clicked without a call-to-action: %+v", p.Clicks)
	}
}

func TestResolve_APIPreconditions(t *testing.T) {
	p := pagetest.New("https://sentry.example.com/", `<p>nothing</p>`)
	api := &fakeFinder{ids: []string{replayID}}

	_, err := newResolver(p, api).Resolve(context.Background(), pagectx.Context{Type: pagectx.TypeOther})
	if !errors.Is(err, pagectx.ErrMissingOrg) {
		t.Fatalf("want ErrMissingOrg, got %v", err)
	}
	_, err = newResolver(p, api).Resolve(context.Background(), pagectx.Context{OrgSlug: "acme", Type: pagectx.TypeOther})
	if !errors.Is(err, pagectx.ErrMissingIssue) {
		t.Fatalf("want ErrMissingIssue, got %v", err)
	}
	if api.calls != 0 {
		t.Fatalf("api called despite missing preconditions")
	}
}

func TestResolve_NotFound(t *testing.T) {
	p := pagetest.New(issueURL, `<p>nothing</p>`)
	_, err := newResolver(p, &fakeFinder{err: errors.New("HTTP 500")}).Resolve(context.Background(), issueCtx)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	_, err = newResolver(p, &fakeFinder{}).Resolve(context.Background(), issueCtx)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestIDFromURL(t *testing.T) {
	tests := map[string]string{
		"/organizations/acme/replays/" + replayID + "/": replayID,
		"https://x/replays/ABCDEF0123456789?t=1":        "abcdef0123456789",
		"/explore/?replayId=" + replayID:                replayID,
		"/organizations/acme/replays/":                  "",
		"/replays/selectors/":                           "",
	}
	for in, want := range tests {
		if got := IDFromURL(in); got != want {
			t.Errorf("IDFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}
