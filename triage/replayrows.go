package triage

import (
	"context"
	"math"
	"strconv"

	"github.com/hazyhaar/triage/observability"
	"github.com/hazyhaar/triage/triage/internal/domtree"
	"github.com/hazyhaar/triage/triage/internal/hostapi"
	"github.com/hazyhaar/triage/triage/internal/page"
	"github.com/hazyhaar/triage/triage/internal/pagectx"
	"github.com/hazyhaar/triage/triage/internal/pattern"
	"github.com/hazyhaar/triage/triage/internal/poll"
	"github.com/hazyhaar/triage/triage/internal/replay"
	"github.com/hazyhaar/triage/triage/internal/rows"
)

// ReplayErrors is the replay_errors result.
type ReplayErrors struct {
	ReplayID  string          `json:"replayId"`
	ReplayURL string          `json:"replayUrl"`
	Errors    []rows.ErrorRow `json:"errors"`
	Count     int             `json:"count"`
	// ExpectedCount is the replay record's own error count, nil when the
	// record could not be read.
	ExpectedCount *int   `json:"expectedCount"`
	Source        string `json:"source"`
}

func (r ReplayErrors) journal(e *observability.Entry) {
	e.Source = r.Source
	e.ReplayID = r.ReplayID
	e.RowCount = r.Count
}

// ReplayNetwork is the replay_network result.
type ReplayNetwork struct {
	ReplayID  string            `json:"replayId"`
	ReplayURL string            `json:"replayUrl"`
	Requests  []rows.NetworkRow `json:"requests"`
	Errors    []rows.NetworkRow `json:"errors"`
	Source    string            `json:"source"`
}

func (r ReplayNetwork) journal(e *observability.Entry) {
	e.Source = r.Source
	e.ReplayID = r.ReplayID
	e.RowCount = len(r.Requests)
}

// replayErrors reads the replay's errors view when the page is that
// replay, and the host's event list otherwise or when the view is empty.
func (e *Engine) replayErrors(ctx context.Context, pc pagectx.Context) (any, error) {
	res, err := e.resolver.Resolve(ctx, pc)
	if err != nil {
		return nil, err
	}
	out := ReplayErrors{ReplayID: res.ReplayID, ReplayURL: res.ReplayURL, Source: SourceDOM}

	if res.Source == replay.SourceURL {
		out.Errors = pollRows(ctx, e, []string{"Errors"}, rows.ErrorRows)
	}
	if len(out.Errors) == 0 && e.api != nil && pc.OrgSlug != "" {
		out.Source = SourceAPI
		events, err := e.api.ReplayEvents(ctx, pc.OrgSlug, res.ReplayID)
		if err != nil {
			e.logger.DebugContext(ctx, "triage: replay events unavailable", "error", err)
		}
		for _, ev := range events {
			out.Errors = append(out.Errors, rows.ErrorRow{
				EventID:   ev.ID,
				Title:     ev.Title,
				Issue:     ev.Issue,
				Timestamp: ev.Timestamp,
			})
		}
		out.Errors = rows.Dedup(out.Errors, rows.ErrorRow.Key)
	}
	if out.Errors == nil {
		out.Errors = []rows.ErrorRow{}
	}
	out.Count = len(out.Errors)

	if rec := e.replayRecord(ctx, pc, res.ReplayID); rec != nil {
		n := rec.CountErrors
		if len(rec.ErrorIDs) > n {
			n = len(rec.ErrorIDs)
		}
		out.ExpectedCount = &n
	}
	return out, nil
}

// replayNetwork reads the replay's network view when the page is that
// replay, and the recording's request spans otherwise or when the view is
// empty.
func (e *Engine) replayNetwork(ctx context.Context, pc pagectx.Context) (any, error) {
	res, err := e.resolver.Resolve(ctx, pc)
	if err != nil {
		return nil, err
	}
	out := ReplayNetwork{ReplayID: res.ReplayID, ReplayURL: res.ReplayURL, Source: SourceDOM}

	if res.Source == replay.SourceURL {
		out.Requests = pollRows(ctx, e, []string{"Network"}, rows.NetworkRows)
	}
	if len(out.Requests) == 0 && e.api != nil && pc.OrgSlug != "" {
		out.Source = SourceAPI
		out.Requests = e.networkFromRecording(ctx, pc, res.ReplayID)
	}
	if out.Requests == nil {
		out.Requests = []rows.NetworkRow{}
	}
	out.Errors = rows.NetworkErrors(out.Requests)
	if out.Errors == nil {
		out.Errors = []rows.NetworkRow{}
	}
	return out, nil
}

// pollRows selects the named view tab once, then polls the page until the
// extractor yields rows or the row budget is spent.
func pollRows[T any](ctx context.Context, e *Engine, tab []string, extract func(*domtree.Document) []T) []T {
	if _, err := page.EnsureTab(ctx, e.page, e.poll.TabSettle, e.sleep, tab...); err != nil {
		e.logger.DebugContext(ctx, "triage: select tab failed", "tab", tab[0], "error", err)
	}
	return poll.Poll(ctx, e.policy(e.poll.Rows), func() []T {
		doc, err := e.page.Snapshot(ctx)
		if err != nil {
			e.logger.DebugContext(ctx, "triage: snapshot failed", "error", err)
			return nil
		}
		return extract(doc)
	})
}

// replayRecord fetches the replay record; failures degrade to nil.
func (e *Engine) replayRecord(ctx context.Context, pc pagectx.Context, replayID string) *hostapi.Replay {
	if e.api == nil || pc.OrgSlug == "" {
		return nil
	}
	rec, err := e.api.Replay(ctx, pc.OrgSlug, replayID)
	if err != nil {
		e.logger.DebugContext(ctx, "triage: replay record unavailable", "error", err)
		return nil
	}
	return rec
}

func (e *Engine) networkFromRecording(ctx context.Context, pc pagectx.Context, replayID string) []rows.NetworkRow {
	rec := e.replayRecord(ctx, pc, replayID)
	if rec == nil || rec.ProjectID == "" {
		return nil
	}
	segments, err := e.api.RecordingSegments(ctx, pc.OrgSlug, string(rec.ProjectID), replayID)
	if err != nil {
		e.logger.DebugContext(ctx, "triage: recording segments unavailable", "error", err)
		return nil
	}
	var out []rows.NetworkRow
	for _, s := range hostapi.NetworkSpans(segments) {
		row := rows.NetworkRow{
			Method:     s.Method,
			Status:     s.Status,
			RequestURL: s.URL,
			Duration:   spanDuration(s.Duration),
		}
		row.Host, _ = pattern.HostOf(s.URL)
		out = append(out, row)
	}
	return rows.Dedup(out, rows.NetworkRow.Key)
}

// spanDuration renders seconds as whole milliseconds, "" for zero.
func spanDuration(sec float64) string {
	if sec <= 0 {
		return ""
	}
	return strconv.FormatInt(int64(math.Round(sec*1000)), 10) + "ms"
}
