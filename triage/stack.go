package triage

import (
	"context"

	"github.com/hazyhaar/triage/observability"
	"github.com/hazyhaar/triage/triage/internal/hostapi"
	"github.com/hazyhaar/triage/triage/internal/pagectx"
	"github.com/hazyhaar/triage/triage/internal/poll"
	"github.com/hazyhaar/triage/triage/internal/rows"
)

// Where a result's rows came from.
const (
	SourceAPI = "api"
	SourceDOM = "dom"
)

// StackTrace is the stack_trace result. Frames are innermost first.
type StackTrace struct {
	IssueID string       `json:"issueId,omitempty"`
	Title   string       `json:"title,omitempty"`
	Frames  []rows.Frame `json:"frames"`
	Text    string       `json:"text"`
	Source  string       `json:"source"`
}

func (s StackTrace) journal(e *observability.Entry) {
	e.Source = s.Source
	e.RowCount = len(s.Frames)
}

// stackTrace prefers the latest event's exception and falls back to the
// frames rendered on the page.
func (e *Engine) stackTrace(ctx context.Context, pc pagectx.Context) (any, error) {
	if st, ok := e.stackFromAPI(ctx, pc); ok {
		return st, nil
	}
	frames := poll.Poll(ctx, e.policy(e.poll.Rows), func() []rows.Frame {
		doc, err := e.page.Snapshot(ctx)
		if err != nil {
			e.logger.DebugContext(ctx, "triage: snapshot failed", "error", err)
			return nil
		}
		return rows.StackFrames(doc)
	})
	if len(frames) == 0 {
		return nil, ErrNoException
	}
	return StackTrace{
		IssueID: pc.IssueID,
		Frames:  frames,
		Text:    rows.FormatFrames(frames),
		Source:  SourceDOM,
	}, nil
}

func (e *Engine) stackFromAPI(ctx context.Context, pc pagectx.Context) (StackTrace, bool) {
	if e.api == nil || pc.RequireIssue() != nil {
		return StackTrace{}, false
	}
	ev, err := e.api.LatestEvent(ctx, pc.OrgSlug, pc.IssueID)
	if err != nil {
		e.logger.DebugContext(ctx, "triage: latest event unavailable", "error", err)
		return StackTrace{}, false
	}
	exc, ok := mainException(ev.Exceptions())
	if !ok {
		return StackTrace{}, false
	}
	frames := apiFrames(exc.Stacktrace.Frames)
	title := ev.Title
	if title == "" {
		title = exc.Type + ": " + exc.Value
	}
	return StackTrace{
		IssueID: pc.IssueID,
		Title:   title,
		Frames:  frames,
		Text:    rows.FormatFrames(frames),
		Source:  SourceAPI,
	}, true
}

// mainException picks the last exception value that carries frames: the
// host lists chained exceptions cause first.
func mainException(excs []hostapi.Exception) (hostapi.Exception, bool) {
	for i := len(excs) - 1; i >= 0; i-- {
		if st := excs[i].Stacktrace; st != nil && len(st.Frames) > 0 {
			return excs[i], true
		}
	}
	return hostapi.Exception{}, false
}

// apiFrames converts host frames (outermost call first) into innermost
// first order, keeping only in-app frames when there are any.
func apiFrames(in []hostapi.Frame) []rows.Frame {
	anyInApp := false
	for _, f := range in {
		if f.InApp {
			anyInApp = true
			break
		}
	}
	out := make([]rows.Frame, 0, len(in))
	for i := len(in) - 1; i >= 0; i-- {
		f := in[i]
		if anyInApp && !f.InApp {
			continue
		}
		file := f.Filename
		if file == "" {
			file = f.AbsPath
		}
		out = append(out, rows.Frame{
			Function: f.Function,
			File:     file,
			Package:  f.Package,
			Line:     f.LineNo,
			Column:   f.ColNo,
			InApp:    f.InApp,
		})
	}
	return rows.Dedup(out, rows.Frame.Key)
}
