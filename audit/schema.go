// audit/schema.go
package audit

const Schema = `
CREATE TABLE IF NOT EXISTS risk_events (
	event_id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	time DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	reason TEXT NOT NULL,
	detail TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_events_time ON risk_events(time);
CREATE INDEX IF NOT EXISTS idx_risk_events_type ON risk_events(event_type);

CREATE TABLE IF NOT EXISTS emergency_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	time DATETIME NOT NULL,
	detail TEXT NOT NULL
);
`
