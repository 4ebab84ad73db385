// Package triage is the extraction engine. It derives a page context from
// the live page on every dispatch, runs one of five named actions against
// the page and the host API, and answers with an {ok, data, error}
// envelope.
//
//	eng := triage.New(triage.Config{Page: tab, API: client})
//	env := eng.Dispatch(ctx, triage.ActionReplayLink)
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/triage/observability"
	"github.com/hazyhaar/triage/triage/internal/config"
	"github.com/hazyhaar/triage/triage/internal/hostapi"
	"github.com/hazyhaar/triage/triage/internal/page"
	"github.com/hazyhaar/triage/triage/internal/pagectx"
	"github.com/hazyhaar/triage/triage/internal/poll"
	"github.com/hazyhaar/triage/triage/internal/replay"
)

// Action names one engine operation.
type Action string

const (
	ActionStackTrace    Action = "stack_trace"
	ActionReplayLink    Action = "replay_link"
	ActionIssueContext  Action = "issue_context"
	ActionReplayErrors  Action = "replay_errors"
	ActionReplayNetwork Action = "replay_network"
)

// Actions lists every action in a stable order.
var Actions = []Action{ActionStackTrace, ActionReplayLink, ActionIssueContext, ActionReplayErrors, ActionReplayNetwork}

// Envelope is the answer to one dispatch. Error is set only when OK is
// false.
type Envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Precondition failures surfaced to the caller.
var (
	ErrMissingOrg   = pagectx.ErrMissingOrg
	ErrMissingIssue = pagectx.ErrMissingIssue
	ErrNoReplay     = replay.ErrNotFound
	ErrNoException  = errors.New("no exception data found for this issue")
	ErrNoAPI        = errors.New("host api is not configured")
)

// API is the host API surface the engine consumes. *hostapi.Client
// implements it.
type API interface {
	LatestEvent(ctx context.Context, org, issueID string) (*hostapi.Event, error)
	IssueReplayIDs(ctx context.Context, org, issueID string, limit int) ([]string, error)
	ReplayEvents(ctx context.Context, org, replayID string) ([]hostapi.ReplayEvent, error)
	Replay(ctx context.Context, org, replayID string) (*hostapi.Replay, error)
	RecordingSegments(ctx context.Context, org, project, replayID string) ([]any, error)
}

// Config configures an Engine.
type Config struct {
	Page page.Page
	// API is optional; without it every api fallback is skipped.
	API API
	// PageOptions tune page-context recognition.
	PageOptions pagectx.Options
	// Poll bounds every wait; zero fields take the config package defaults.
	Poll config.PollConfig
	// Sleep replaces the real-time sleeper, for tests.
	Sleep poll.Sleeper
	// Journal records every dispatch when set.
	Journal *observability.Journal
	Logger  *slog.Logger
}

func (c *Config) applyDefaults() {
	def := config.Default().Poll
	if c.Poll.TabSettle <= 0 {
		c.Poll.TabSettle = def.TabSettle
	}
	for _, b := range []struct{ got, def *config.Budget }{
		{&c.Poll.Rows, &def.Rows},
		{&c.Poll.ReplayLinks, &def.ReplayLinks},
		{&c.Poll.Click, &def.Click},
	} {
		if b.got.Attempts <= 0 {
			b.got.Attempts = b.def.Attempts
		}
		if b.got.Interval <= 0 {
			b.got.Interval = b.def.Interval
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine runs actions against one page.
type Engine struct {
	page     page.Page
	api      API
	opts     pagectx.Options
	poll     config.PollConfig
	sleep    poll.Sleeper
	resolver *replay.Resolver
	journal  *observability.Journal
	logger   *slog.Logger

	handlers map[Action]handler
}

// handler serves one action for a freshly derived page context.
type handler func(ctx context.Context, pc pagectx.Context) (any, error)

// New returns an Engine.
func New(cfg Config) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		page:    cfg.Page,
		api:     cfg.API,
		opts:    cfg.PageOptions,
		poll:    cfg.Poll,
		sleep:   cfg.Sleep,
		journal: cfg.Journal,
		logger:  cfg.Logger,
	}
	var finder replay.Finder
	if cfg.API != nil {
		finder = cfg.API
	}
	e.resolver = replay.New(replay.Config{
		Page:      cfg.Page,
		API:       finder,
		LinkPoll:  e.policy(cfg.Poll.ReplayLinks),
		ClickPoll: e.policy(cfg.Poll.Click),
		Logger:    cfg.Logger,
	})
	e.handlers = map[Action]handler{
		ActionStackTrace:    e.stackTrace,
		ActionReplayLink:    e.replayLink,
		ActionIssueContext:  e.issueContext,
		ActionReplayErrors:  e.replayErrors,
		ActionReplayNetwork: e.replayNetwork,
	}
	return e
}

func (e *Engine) policy(b config.Budget) poll.Policy {
	return poll.Policy{Attempts: b.Attempts, Interval: b.Interval, Sleep: e.sleep}
}

// Dispatch runs one action. It never returns an error: failures are
// reported in the envelope.
func (e *Engine) Dispatch(ctx context.Context, action Action) Envelope {
	start := time.Now()
	entry := &observability.Entry{Action: string(action)}

	data, err := e.dispatch(ctx, action, entry)

	entry.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		entry.Status = observability.StatusError
		entry.ErrorMessage = err.Error()
		e.logger.InfoContext(ctx, "triage: action failed", "action", action, "error", err)
	} else {
		e.logger.InfoContext(ctx, "triage: action done",
			"action", action, "source", entry.Source, "rows", entry.RowCount,
			"duration_ms", entry.DurationMs)
	}
	if e.journal != nil {
		e.journal.Record(ctx, entry)
	}

	if err != nil {
		return Envelope{OK: false, Error: err.Error()}
	}
	return Envelope{OK: true, Data: data}
}

func (e *Engine) dispatch(ctx context.Context, action Action, entry *observability.Entry) (any, error) {
	h, ok := e.handlers[action]
	if !ok {
		return nil, fmt.Errorf("unknown action: %s", action)
	}
	pc, pageURL, err := e.Context(ctx)
	entry.PageURL = pageURL
	if err != nil {
		return nil, err
	}
	entry.PageType = string(pc.Type)
	entry.OrgSlug = pc.OrgSlug
	entry.IssueID = pc.IssueID
	entry.ReplayID = pc.ReplayID

	data, err := h(ctx, pc)
	if err != nil {
		return nil, err
	}
	if j, ok := data.(journaled); ok {
		j.journal(entry)
	}
	return data, nil
}

// journaled results describe themselves to the action journal.
type journaled interface {
	journal(*observability.Entry)
}

// Context derives the page context from a fresh snapshot, falling back to
// the bare URL when the page cannot be captured.
func (e *Engine) Context(ctx context.Context) (pagectx.Context, string, error) {
	doc, err := e.page.Snapshot(ctx)
	if err == nil && doc.URL != nil {
		return pagectx.FromDocument(doc, e.opts), doc.URL.String(), nil
	}
	e.logger.DebugContext(ctx, "triage: snapshot failed, using url", "error", err)

	raw, uerr := e.page.URL(ctx)
	if uerr != nil {
		return pagectx.Context{}, "", fmt.Errorf("triage: read page: %w", uerr)
	}
	pc, perr := pagectx.FromURL(raw, e.opts)
	if perr != nil {
		return pagectx.Context{}, raw, fmt.Errorf("triage: %w", perr)
	}
	return pc, raw, nil
}

func (e *Engine) replayLink(ctx context.Context, pc pagectx.Context) (any, error) {
	res, err := e.resolver.Resolve(ctx, pc)
	if err != nil {
		return nil, err
	}
	return ReplayLink{res}, nil
}

// ReplayLink is the replay_link result.
type ReplayLink struct {
	replay.Resolution
}

func (r ReplayLink) journal(e *observability.Entry) {
	e.Source = string(r.Source)
	e.ReplayID = r.ReplayID
	e.RowCount = 1
}
