package observability

// Schema is the action journal DDL. It is idempotent and runs on every
// open.
const Schema = `
CREATE TABLE IF NOT EXISTS action_journal (
    entry_id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    action TEXT NOT NULL,
    page_url TEXT,
    page_type TEXT,
    org_slug TEXT,
    issue_id TEXT,
    replay_id TEXT,
    source TEXT,
    row_count INTEGER,
    status TEXT NOT NULL,
    error_message TEXT,
    duration_ms INTEGER,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_journal_timestamp ON action_journal(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_journal_action ON action_journal(action, status);
`
