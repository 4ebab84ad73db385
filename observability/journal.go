// Package observability keeps a SQLite journal of dispatched actions: what
// was asked, on which page, how it ended and how long it took.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/triage/dbopen"
	"github.com/hazyhaar/triage/idgen"
)

// Status values of a journal entry.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Entry is one dispatched action.
type Entry struct {
	EntryID   string
	Timestamp time.Time
	Action    string

	PageURL  string
	PageType string
	OrgSlug  string
	IssueID  string
	ReplayID string

	// Source names where the data came from (api, dom, url, ...).
	Source   string
	RowCount int

	Status       string
	ErrorMessage string
	DurationMs   int64
}

// Filter controls Query results.
type Filter struct {
	Action string
	Status string
	Since  time.Time
	Limit  int // default 100
}

// Journal persists action entries.
type Journal struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithIDGenerator sets a custom ID generator for entry IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(j *Journal) { j.newID = gen }
}

// WithLogger sets the logger used for failed writes.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// NewJournal wraps a database that already carries Schema.
func NewJournal(db *sql.DB, opts ...Option) *Journal {
	j := &Journal{
		db:     db,
		newID:  idgen.Prefixed("act_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Open opens (or creates) a journal database at path.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := dbopen.Open(path, Schema)
	if err != nil {
		return nil, fmt.Errorf("observability: open journal: %w", err)
	}
	return NewJournal(db, opts...), nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Record inserts an entry. Failures are logged, never returned: a broken
// journal must not fail the action it describes.
func (j *Journal) Record(ctx context.Context, e *Entry) {
	if e.EntryID == "" {
		e.EntryID = j.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Status == "" {
		e.Status = StatusOK
	}
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT INTO action_journal (
			entry_id, timestamp, action, page_url, page_type, org_slug,
			issue_id, replay_id, source, row_count, status, error_message, duration_ms
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp.Unix(), e.Action, e.PageURL, e.PageType, e.OrgSlug,
		e.IssueID, e.ReplayID, e.Source, e.RowCount, e.Status, e.ErrorMessage, e.DurationMs)
	if err != nil {
		j.logger.Error("observability: journal write failed", "action", e.Action, "error", err)
	}
}

// Query returns entries matching f, newest first.
func (j *Journal) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	q := `SELECT entry_id, timestamp, action, page_url, page_type, org_slug,
		issue_id, replay_id, source, row_count, status, error_message, duration_ms
		FROM action_journal WHERE 1=1`
	var args []any
	if f.Action != "" {
		q += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.Unix())
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY timestamp DESC, entry_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query journal: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var pageURL, pageType, org, issue, replay, source, errMsg sql.NullString
		var rowCount, dur sql.NullInt64
		if err := rows.Scan(&e.EntryID, &ts, &e.Action, &pageURL, &pageType, &org,
			&issue, &replay, &source, &rowCount, &e.Status, &errMsg, &dur); err != nil {
			return nil, fmt.Errorf("observability: scan journal entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.PageURL = pageURL.String
		e.PageType = pageType.String
		e.OrgSlug = org.String
		e.IssueID = issue.String
		e.ReplayID = replay.String
		e.Source = source.String
		e.RowCount = int(rowCount.Int64)
		e.ErrorMessage = errMsg.String
		e.DurationMs = dur.Int64
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than retentionDays and returns how many
// went.
func (j *Journal) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	res, err := dbopen.Exec(ctx, j.db, "DELETE FROM action_journal WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("observability: cleanup journal: %w", err)
	}
	return res.RowsAffected()
}
