package store

// Schema is the logical schema for the governance store. The UNIQUE
// constraint on decision_logs.event_id is load-bearing: it is the only
// serialization point for concurrent processing of the same event.
const Schema = `
CREATE TABLE IF NOT EXISTS events_store (
	event_id      TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	payload       TEXT NOT NULL,
	source        TEXT,
	timestamp     TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	hash          TEXT NOT NULL,
	previous_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decision_logs (
	decision_id        TEXT PRIMARY KEY,
	tenant_id          TEXT NOT NULL,
	event_id           TEXT NOT NULL UNIQUE,
	policy_name        TEXT NOT NULL,
	provider           TEXT,
	decision           TEXT NOT NULL,
	risk_score         INTEGER NOT NULL DEFAULT 0,
	execution_status   TEXT NOT NULL,
	execution_response TEXT,
	full_log_json      TEXT NOT NULL,
	timestamp          TEXT NOT NULL,
	signature          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_logs_ts ON decision_logs(timestamp);

CREATE TABLE IF NOT EXISTS pending_reviews (
	review_id         TEXT PRIMARY KEY,
	event_id          TEXT NOT NULL,
	tenant_id         TEXT NOT NULL,
	decision_id       TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	escalation_reason TEXT,
	reviewer_id       TEXT,
	reviewed_at       TEXT,
	created_at        TEXT NOT NULL
);
`
