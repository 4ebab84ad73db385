package triage

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/triage/observability"
	"github.com/hazyhaar/triage/triage/internal/hostapi"
	"github.com/hazyhaar/triage/triage/internal/pagectx"
)

// IssueContext is the issue_context result.
type IssueContext struct {
	IssueID     string            `json:"issueId"`
	Title       string            `json:"title,omitempty"`
	Culprit     string            `json:"culprit,omitempty"`
	Platform    string            `json:"platform,omitempty"`
	User        *UserInfo         `json:"user,omitempty"`
	Browser     string            `json:"browser,omitempty"`
	OS          string            `json:"os,omitempty"`
	Device      string            `json:"device,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Release     string            `json:"release,omitempty"`
	URL         string            `json:"url,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// UserInfo is the user the event was reported for.
type UserInfo struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	IP       string `json:"ip,omitempty"`
}

func (c IssueContext) journal(e *observability.Entry) {
	e.Source = SourceAPI
	e.RowCount = 1
}

func (e *Engine) issueContext(ctx context.Context, pc pagectx.Context) (any, error) {
	if err := pc.RequireIssue(); err != nil {
		return nil, err
	}
	if e.api == nil {
		return nil, ErrNoAPI
	}
	ev, err := e.api.LatestEvent(ctx, pc.OrgSlug, pc.IssueID)
	if err != nil {
		return nil, fmt.Errorf("issue context: %w", err)
	}
	return projectIssue(pc.IssueID, ev), nil
}

func projectIssue(issueID string, ev *hostapi.Event) IssueContext {
	ic := IssueContext{
		IssueID:     issueID,
		Title:       ev.Title,
		Culprit:     ev.Culprit,
		Platform:    ev.Platform,
		Browser:     firstNonEmpty(nameVersion(ev, "browser"), ev.Tag("browser")),
		OS:          firstNonEmpty(nameVersion(ev, "os"), ev.Tag("os")),
		Device:      firstNonEmpty(ev.Context("device", "model"), ev.Context("device", "family"), ev.Tag("device")),
		Environment: ev.Tag("environment"),
		Release:     ev.Tag("release"),
		URL:         ev.Tag("url"),
	}
	if u := ev.User; u != nil {
		ic.User = &UserInfo{ID: u.ID, Email: u.Email, Username: u.Username, IP: u.IPAddress}
	}
	if len(ev.Tags) > 0 {
		ic.Tags = make(map[string]string, len(ev.Tags))
		for _, t := range ev.Tags {
			if _, dup := ic.Tags[t.Key]; !dup {
				ic.Tags[t.Key] = t.Value
			}
		}
	}
	return ic
}

// nameVersion renders contexts[name] as "name version".
func nameVersion(ev *hostapi.Event, name string) string {
	return strings.TrimSpace(ev.Context(name, "name") + " " + ev.Context(name, "version"))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
