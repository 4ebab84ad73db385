package hostapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

func esc(s string) string { return url.PathEscape(s) }

// Event is the subset of an issue event record the engine projects.
type Event struct {
	EventID     string         `json:"eventID"`
	GroupID     string         `json:"groupID"`
	Title       string         `json:"title"`
	Culprit     string         `json:"culprit"`
	Platform    string         `json:"platform"`
	Message     string         `json:"message"`
	DateCreated string         `json:"dateCreated"`
	User        *User          `json:"user"`
	Contexts    map[string]any `json:"contexts"`
	Tags        []Tag          `json:"tags"`
	Entries     []Entry        `json:"entries"`
}

// User is the event's user interface.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	IPAddress string `json:"ip_address"`
	Name      string `json:"name"`
}

// Tag is one key/value event tag.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Entry is one typed event entry; only "exception" entries are decoded.
type Entry struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Exception is one exception value with its stack trace.
type Exception struct {
	Type       string      `json:"type"`
	Value      string      `json:"value"`
	Module     string      `json:"module"`
	Stacktrace *Stacktrace `json:"stacktrace"`
}

// Stacktrace lists frames oldest call first.
type Stacktrace struct {
	Frames []Frame `json:"frames"`
}

// Frame is one API stack frame.
type Frame struct {
	Filename string `json:"filename"`
	AbsPath  string `json:"absPath"`
	Function string `json:"function"`
	Module   string `json:"module"`
	Package  string `json:"package"`
	LineNo   int    `json:"lineNo"`
	ColNo    int    `json:"colNo"`
	InApp    bool   `json:"inApp"`
}

// Exceptions returns the exception values of every exception entry.
// Malformed entries are skipped.
func (e *Event) Exceptions() []Exception {
	var out []Exception
	for _, en := range e.Entries {
		if en.Type != "exception" {
			continue
		}
		var data struct {
			Values []Exception `json:"values"`
		}
		if err := json.Unmarshal(en.Data, &data); err != nil {
			continue
		}
		out = append(out, data.Values...)
	}
	return out
}

// Tag returns the value of the first tag named key.
func (e *Event) Tag(key string) string {
	for _, t := range e.Tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

// Context returns contexts[name][key] as a string.
func (e *Event) Context(name, key string) string {
	obj, ok := e.Contexts[name].(map[string]any)
	if !ok {
		return ""
	}
	return asString(obj[key])
}

// LatestEvent fetches the latest event of an issue.
func (c *Client) LatestEvent(ctx context.Context, org, issueID string) (*Event, error) {
	var ev Event
	path := "/api/0/organizations/" + esc(org) + "/issues/" + esc(issueID) + "/events/latest/"
	if err := c.GetJSON(ctx, path, nil, &ev); err != nil {
		return nil, fmt.Errorf("hostapi: latest event: %w", err)
	}
	return &ev, nil
}

// IssueReplayIDs lists replay ids linked to an issue, most recent first,
// at most limit of them.
func (c *Client) IssueReplayIDs(ctx context.Context, org, issueID string, limit int) ([]string, error) {
	rows, err := c.Rows(ctx, "/api/0/organizations/"+esc(org)+"/replays/", Query{
		"query":       "issue.id:" + issueID,
		"sort":        "-started_at",
		"per_page":    limit,
		"field":       []string{"id"},
		"statsPeriod": "90d",
		"project":     -1,
	})
	if err != nil {
		return nil, fmt.Errorf("hostapi: issue replays: %w", err)
	}
	var ids []string
	for _, r := range rows {
		if id := String(r, "id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ReplayEvent is one error event recorded during a replay.
type ReplayEvent struct {
	ID        string
	Title     string
	Issue     string
	Timestamp string
}

// ReplayEvents lists the error events tagged with a replay id.
func (c *Client) ReplayEvents(ctx context.Context, org, replayID string) ([]ReplayEvent, error) {
	rows, err := c.Rows(ctx, "/api/0/organizations/"+esc(org)+"/events/", Query{
		"query":       "replayId:" + replayID,
		"field":       []string{"id", "title", "issue", "timestamp"},
		"sort":        "timestamp",
		"statsPeriod": "90d",
		"project":     -1,
	})
	if err != nil {
		return nil, fmt.Errorf("hostapi: replay events: %w", err)
	}
	out := make([]ReplayEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, ReplayEvent{
			ID:        String(r, "id"),
			Title:     String(r, "title"),
			Issue:     String(r, "issue"),
			Timestamp: String(r, "timestamp"),
		})
	}
	return out, nil
}

// Replay is the subset of a replay record the engine projects.
type Replay struct {
	ID          string   `json:"id"`
	ProjectID   ID       `json:"project_id"`
	CountErrors int      `json:"count_errors"`
	ErrorIDs    []string `json:"error_ids"`
}

// ID is an identifier the API sends either as a string or as a number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("hostapi: id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Replay fetches one replay record.
func (c *Client) Replay(ctx context.Context, org, replayID string) (*Replay, error) {
	var body struct {
		Data Replay `json:"data"`
	}
	path := "/api/0/organizations/" + esc(org) + "/replays/" + esc(replayID) + "/"
	if err := c.GetJSON(ctx, path, nil, &body); err != nil {
		return nil, fmt.Errorf("hostapi: replay: %w", err)
	}
	return &body.Data, nil
}

// RecordingSegments fetches the replay's recording segments, each one an
// array of recorded events.
func (c *Client) RecordingSegments(ctx context.Context, org, project, replayID string) ([]any, error) {
	path := "/api/0/projects/" + esc(org) + "/" + esc(project) + "/replays/" + esc(replayID) + "/recording-segments/"
	rows, err := c.Rows(ctx, path, Query{"download": "true", "per_page": 100})
	if err != nil {
		return nil, fmt.Errorf("hostapi: recording segments: %w", err)
	}
	return rows, nil
}

// Span is one network request recorded as a performance span.
type Span struct {
	Op       string
	URL      string
	Method   string
	Status   int
	Duration float64 // seconds
}

// networkOps are the span operations that describe network requests.
var networkOps = map[string]bool{"resource.fetch": true, "resource.xhr": true}

// NetworkSpans walks recording segments for fetch and xhr performance
// spans, in recording order.
func NetworkSpans(segments []any) []Span {
	var out []Span
	for _, seg := range segments {
		events, ok := seg.([]any)
		if !ok {
			continue
		}
		for _, ev := range events {
			if s, ok := networkSpan(ev); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func networkSpan(ev any) (Span, bool) {
	data, _ := field(ev, "data").(map[string]any)
	if data == nil || asString(data["tag"]) != "performanceSpan" {
		return Span{}, false
	}
	payload := data["payload"]
	op := String(payload, "op")
	if !networkOps[op] {
		return Span{}, false
	}
	s := Span{Op: op, URL: String(payload, "description")}
	start, _ := field(payload, "startTimestamp").(float64)
	end, _ := field(payload, "endTimestamp").(float64)
	if end > start {
		s.Duration = end - start
	}
	inner := field(payload, "data")
	s.Method = String(inner, "method")
	if st, err := strconv.Atoi(String(inner, "statusCode")); err == nil {
		s.Status = st
	}
	return s, true
}

func field(v any, key string) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return obj[key]
}
