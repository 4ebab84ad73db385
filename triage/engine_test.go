package triage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/triage/connectivity"
	"github.com/hazyhaar/triage/dbopen"
	"github.com/hazyhaar/triage/observability"
	"github.com/hazyhaar/triage/triage/internal/config"
	"github.com/hazyhaar/triage/triage/internal/hostapi"
	"github.com/hazyhaar/triage/triage/internal/page/pagetest"
	"github.com/hazyhaar/triage/triage/internal/poll"
	"github.com/hazyhaar/triage/triage/internal/replay"
	"github.com/hazyhaar/triage/triage/internal/rows"
)

const (
	origin    = "https://sentry.example.com"
	issueURL  = origin + "/organizations/acme/issues/123/"
	replayID  = "0123456789abcdef0123456789abcdef"
	replayURL = origin + "/organizations/acme/replays/" + replayID + "/"
)

type fakeAPI struct {
	event    *hostapi.Event
	eventErr error
	ids      []string
	events   []hostapi.ReplayEvent
	replay   *hostapi.Replay
	segments []any
	calls    map[string]int
}

func (f *fakeAPI) hit(name string) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeAPI) total() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeAPI) LatestEvent(ctx context.Context, org, issueID string) (*hostapi.Event, error) {
	f.hit("latest")
	if f.event == nil && f.eventErr == nil {
		return nil, errors.New("HTTP 404 Not Found")
	}
	return f.event, f.eventErr
}

func (f *fakeAPI) IssueReplayIDs(ctx context.Context, org, issueID string, limit int) ([]string, error) {
	f.hit("replays")
	return f.ids, nil
}

func (f *fakeAPI) ReplayEvents(ctx context.Context, org, id string) ([]hostapi.ReplayEvent, error) {
	f.hit("events")
	return f.events, nil
}

func (f *fakeAPI) Replay(ctx context.Context, org, id string) (*hostapi.Replay, error) {
	f.hit("replay")
	if f.replay == nil {
		return nil, errors.New("HTTP 404 Not Found")
	}
	return f.replay, nil
}

func (f *fakeAPI) RecordingSegments(ctx context.Context, org, project, id string) ([]any, error) {
	f.hit("segments")
	return f.segments, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEngine(p *pagetest.Fake, api API) *Engine {
	budget := config.Budget{Attempts: 2}
	return New(Config{
		Page:   p,
		API:    api,
		Poll:   config.PollConfig{Rows: budget, ReplayLinks: budget, Click: budget},
		Sleep:  poll.NoSleep,
		Logger: quietLogger(),
	})
}

func exceptionEntry(t *testing.T, values ...hostapi.Exception) hostapi.Entry {
	t.Helper()
	data, err := json.Marshal(map[string]any{"values": values})
	if err != nil {
		t.Fatal(err)
	}
	return hostapi.Entry{Type: "exception", Data: data}
}

func TestDispatch_UnknownAction(t *testing.T) {
	eng := newEngine(pagetest.New(issueURL, "<p></p>"), nil)
	got := eng.Dispatch(context.Background(), "bogus")
	want := Envelope{OK: false, Error: "unknown action: bogus"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestStackTrace_FromAPI_InAppInnermostFirst(t *testing.T) {
	// WHAT: API frames come back innermost first, library frames dropped.
	// WHY: The host lists frames outermost first; triage reads top-down.
	api := &fakeAPI{event: &hostapi.Event{
		Title: "TypeError: x is undefined",
		Entries: []hostapi.Entry{exceptionEntry(t, hostapi.Exception{
			Type:  "TypeError",
			Value: "x is undefined",
			Stacktrace: &hostapi.Stacktrace{Frames: []hostapi.Frame{
				{Filename: "node_modules/react-dom.js", Function: "invoke", LineNo: 900},
				{Filename: "app.js", Function: "main", LineNo: 10, InApp: true},
				{Filename: "app.js", Function: "inner", LineNo: 20, InApp: true},
			}},
		})},
	}}
	env := newEngine(pagetest.New(issueURL, "<p></p>"), api).Dispatch(context.Background(), ActionStackTrace)
	if !env.OK {
		t.Fatalf("envelope: %+v", env)
	}
	st := env.Data.(StackTrace)
	if st.Source != SourceAPI || st.IssueID != "123" || st.Title != "TypeError: x is undefined" {
		t.Fatalf("got %+v", st)
	}
	want := "#0  inner (app.js:20)\n#1  main (app.js:10)"
	if st.Text != want {
		t.Fatalf("text:\n%s\nwant:\n%s", st.Text, want)
	}
}

func TestStackTrace_FallsBackToDOM(t *testing.T) {
	api := &fakeAPI{eventErr: &hostapi.StatusError{Status: 403, Message: "forbidden"}}
	p := pagetest.New(issueURL, `<body><h2>Stack Trace</h2>
<div data-test-id="frame-title">foo.js in handleClick at line 42</div>
<div data-test-id="frame-title">bar.js in onSubmit at line 10 within FormModule</div>
</body>`)
	env := newEngine(p, api).Dispatch(context.Background(), ActionStackTrace)
	if !env.OK {
		t.Fatalf("envelope: %+v", env)
	}
	st := env.Data.(StackTrace)
	if st.Source != SourceDOM {
		t.Fatalf("source: %q", st.Source)
	}
	want := "#0  handleClick (foo.js:42)\n#1  onSubmit (package:FormModule/bar.js:10)"
	if st.Text != want {
		t.Fatalf("text:\n%s\nwant:\n%s", st.Text, want)
	}
}

func TestStackTrace_NothingAnywhere(t *testing.T) {
	env := newEngine(pagetest.New(issueURL, "<p>nothing</p>"), &fakeAPI{}).Dispatch(context.Background(), ActionStackTrace)
	if env.OK || env.Error != ErrNoException.Error() {
		t.Fatalf("envelope: %+v", env)
	}
}

func TestReplayLink_ReplayPageMakesNoRemoteCall(t *testing.T) {
	api := &fakeAPI{ids: []string{"ffffffffffffffff"}}
	env := newEngine(pagetest.New(replayURL, "<p></p>"), api).Dispatch(context.Background(), ActionReplayLink)
	if !env.OK {
		t.Fatalf("envelope: %+v", env)
	}
	got := env.Data.(ReplayLink)
	if got.Source != replay.SourceURL || got.ReplayID != replayID || got.ReplayURL != replayURL {
		t.Fatalf("got %+v", got)
	}
	if api.total() != 0 {
		t.Fatalf("remote calls: %v", api.calls)
	}
}

func TestReplayLink_APIFallback(t *testing.T) {
	api := &fakeAPI{ids: []string{"ABCDEF0123456789"}}
	env := newEngine(pagetest.New(issueURL, "<p>no replay here</p>"), api).Dispatch(context.Background(), ActionReplayLink)
	if !env.OK {
		t.Fatalf("envelope: %+v", env)
	}
	got := env.Data.(ReplayLink)
	if got.Source != replay.SourceAPI || got.ReplayID != "abcdef0123456789" {
		t.Fatalf("got %+v", got)
	}
}

func TestIssueContext_ThroughHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/0/organizations/acme/issues/123/events/latest/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{
			"title": "TypeError: x is undefined",
			"culprit": "app.js in main",
			"platform": "javascript",
			"user": {"id": "42", "email": "a@example.com", "ip_address": "10.0.0.1"},
			"contexts": {"browser": {"name": "Chrome", "version": "120.0"}, "os": {"name": "macOS"}},
			"tags": [{"key": "environment", "value": "prod"}, {"key": "release", "value": "web@1.2.3"}, {"key": "url", "value": "https://shop.example.com/cart"}]
		}`))
	}))
	defer srv.Close()
	client, err := hostapi.New(hostapi.Config{Origin: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	env := newEngine(pagetest.New(issueURL, "<p></p>"), client).Dispatch(context.Background(), ActionIssueContext)
	if !env.OK {
		t.Fatalf("envelope: %+v", env)
	}
	want := IssueContext{
		IssueID:     "123",
		Title:       "TypeError: x is undefined",
		Culprit:     "app.js in main",
		Platform:    "javascript",
		User:        &UserInfo{ID: "42", Email: "a@example.com", IP: "10.0.0.1"},
		Browser:     "Chrome 120.0",
		OS:          "macOS",
		Environment: "prod",
		Release:     "web@1.2.3",
		URL:         "https://shop.example.com/cart",
		Tags:        map[string]string{"environment": "prod", "release": "web@1.2.3", "url": "https://shop.example.com/cart"},
	}
	if diff := cmp.Diff(want, env.Data); diff != "" {
		t.Fatalf("issue context mismatch (-want +got):\n%s", diff)
	}
}

func TestIssueContext_NeedsIssue(t *testing.T) {
	env := newEngine(pagetest.New(replayURL, "<p></p>"), &fakeAPI{}).Dispatch(context.Background(), ActionIssueContext)
	if env.OK || env.Error != ErrMissingIssue.Error() {
		t.Fatalf("envelope: %+v", env)
	}
}

const errorsTable = `<button role="tab" aria-selected="true">Errors</button>
<table>
<tr><th>Event ID</th><th>Title</th><th>Issue</th><th>Timestamp</th></tr>
<tr><td><a href="/organizations/acme/issues/7/events/aaaabbbbccccdddd/">aaaabbbbccccdddd</a></td><td>TypeError: boom</td><td>FRONTEND-3K2</td><td>10:42</td></tr>
</table>`

func TestReplayErrors_SelectsTabAndReadsRows(t *testing.T) {
	// WHAT: On a replay page the Errors tab is clicked once, then rows are
	// read from the page and the API only corroborates the count.
	// WHY: Any non-empty DOM result wins over the API event list.
	p := pagetest.New(replayURL, `<button role="tab" aria-selected="false">Errors</button><p>Loading</p>`)
	p.OnClick["errors"] = pagetest.State{URL: replayURL, HTML: errorsTable}
	api := &fakeAPI{replay: &hostapi.Replay{ID: replayID, CountErrors: 2}}

	env := newEngine(p, api).Dispatch(context.Background(), ActionReplayErrors)
	if !env.OK {
		t.Fatalf("envelope: %+v", env)
	}
	got := env.Data.(ReplayErrors)
	if len(p.Clicks) != 1 {
		t.Fatalf("clicks: %+v", p.Clicks)
	}
	if got.Source != SourceDOM || got.Count != 1 || got.Errors[0].EventID != "aaaabbbbccccdddd" {
		t.Fatalf("got %+v", got)
	}
	if got.ExpectedCount == nil || *got.ExpectedCount != 2 {
		t.Fatalf("expected count: %v", got.ExpectedCount)
	}
	if api.calls["events"] != 0 {
		t.Fatalf("event list should not be fetched: %v", api.calls)
	}
}

func TestReplayErrors_APIFallbackFromIssuePage(t *testing.T) {
	p := pagetest.New(issueURL, `<a href="/organizations/acme/replays/`+replayID+`/">See Full Replay</a>`)
	api := &fakeAPI{events: []hostapi.ReplayEvent{
		{ID: "aaaabbbbccccdddd", Title: "TypeError: boom", Issue: "FRONTEND-3K2", Timestamp: "2024-05-01T10:42:00Z"},
		{ID: "aaaabbbbccccdddd", Title: "TypeError: boom", Issue: "FRONTEND-3K2", Timestamp: "2024-05-01T10:42:00Z"},
	}}
	env := newEngine(p, api).Dispatch(context.Background(), ActionReplayErrors)
	if !env.OK {
		t.Fatalf("envelope: %+v", env)
	}
	got := env.Data.(ReplayErrors)
	want := ReplayErrors{
		ReplayID:  replayID,
		ReplayURL: replayURL,
		Errors: []rows.ErrorRow{
			{EventID: "aaaabbbbccccdddd", Title: "TypeError: boom", Issue: "FRONTEND-3K2", Timestamp: "2024-05-01T10:42:00Z"},
		},
		Count:  1,
		Source: SourceAPI,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestReplayNetwork_RecordingFallback(t *testing.T) {
	p := pagetest.New(issueURL, `<a href="/organizations/acme/replays/`+replayID+`/">Open Replay</a>`)
	span := map[string]any{"data": map[string]any{
		"tag": "performanceSpan",
		"payload": map[string]any{
			"op":             "resource.fetch",
			"description":    "https://api.example.com/v1/charge",
			"startTimestamp": 1.0,
			"endTimestamp":   1.842,
			"data":           map[string]any{"method": "POST", "statusCode": 503.0},
		},
	}}
	api := &fakeAPI{
		replay:   &hostapi.Replay{ID: replayID, ProjectID: "42"},
		segments: []any{[]any{span}},
	}
	env := newEngine(p, api).Dispatch(context.Background(), ActionReplayNetwork)
	if !env.OK {
		t.Fatalf("envelope: %+v", env)
	}
	got := env.Data.(ReplayNetwork)
	wantRow := rows.NetworkRow{
		Method:     "POST",
		Status:     503,
		Host:       "api.example.com",
		RequestURL: "https://api.example.com/v1/charge",
		Duration:   "842ms",
	}
	if diff := cmp.Diff([]rows.NetworkRow{wantRow}, got.Requests); diff != "" {
		t.Fatalf("requests mismatch (-want +got):\n%s", diff)
	}
	if len(got.Errors) != 1 || got.Source != SourceAPI {
		t.Fatalf("got %+v", got)
	}
}

func TestHandle_ReinstallsOnceThroughRouter(t *testing.T) {
	// WHAT: A call to an unregistered engine installs it and is answered.
	// WHY: The trigger surface may reach a page that loaded before the
	// engine was registered.
	eng := newEngine(pagetest.New(replayURL, "<p></p>"), nil)
	router := connectivity.New(connectivity.WithLogger(quietLogger()))
	call := connectivity.WithReinstall(router, ServiceName, eng.Install, quietLogger())

	resp, err := call(context.Background(), []byte(`{"action":"replay_link"}`))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var env struct {
		OK   bool              `json:"ok"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(resp, &env); err != nil {
		t.Fatal(err)
	}
	if !env.OK || env.Data["replayId"] != replayID || env.Data["source"] != "url" {
		t.Fatalf("response: %s", resp)
	}
	if !router.Has(ServiceName) {
		t.Fatal("engine should be registered after the first call")
	}
}

func TestHandle_MalformedRequest(t *testing.T) {
	eng := newEngine(pagetest.New(issueURL, "<p></p>"), nil)
	resp, err := eng.Handle(context.Background(), []byte(`{`))
	if err != nil {
		t.Fatal(err)
	}
	var env Envelope
	if err := json.Unmarshal(resp, &env); err != nil {
		t.Fatal(err)
	}
	if env.OK || !strings.HasPrefix(env.Error, "invalid request") {
		t.Fatalf("response: %s", resp)
	}
}

func TestDispatch_Journaled(t *testing.T) {
	db := dbopen.Memory(t, observability.Schema)
	journal := observability.NewJournal(db, observability.WithLogger(quietLogger()))

	eng := New(Config{
		Page:    pagetest.New(replayURL, "<p></p>"),
		Sleep:   poll.NoSleep,
		Journal: journal,
		Logger:  quietLogger(),
	})
	ctx := context.Background()
	eng.Dispatch(ctx, ActionReplayLink)
	eng.Dispatch(ctx, ActionIssueContext)

	ok, err := journal.Query(ctx, observability.Filter{Status: observability.StatusOK})
	if err != nil {
		t.Fatal(err)
	}
	if len(ok) != 1 || ok[0].Action != "replay_link" || ok[0].Source != "url" || ok[0].ReplayID != replayID {
		t.Fatalf("ok entries: %+v", ok)
	}
	failed, err := journal.Query(ctx, observability.Filter{Status: observability.StatusError})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != ErrMissingIssue.Error() || failed[0].PageType != "replay" {
		t.Fatalf("error entries: %+v", failed)
	}
}
