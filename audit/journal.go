// audit/journal.go
package audit

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RiskEventRecord is one journaled engine event.
type RiskEventRecord struct {
	EventID   string
	EventType string
	Time      time.Time
	Symbol    string
	Reason    string
	Detail    string
}

// TransitionRecord is one journaled emergency state change.
type TransitionRecord struct {
	FromState string
	ToState   string
	Time      time.Time
	Detail    string
}

// SQLiteJournal persists engine events for after-the-fact review.
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordEvent(r RiskEventRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO risk_events
		(event_id, event_type, time, symbol, reason, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.EventID, r.EventType, r.Time, r.Symbol, r.Reason, r.Detail,
	)
	return err
}

func (j *SQLiteJournal) RecordTransition(r TransitionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO emergency_transitions
		(from_state, to_state, time, detail)
		VALUES (?, ?, ?, ?)`,
		r.FromState, r.ToState, r.Time, r.Detail,
	)
	return err
}

// EventsSince returns journaled events at or after the cutoff, oldest first.
func (j *SQLiteJournal) EventsSince(cutoff time.Time) ([]RiskEventRecord, error) {
	rows, err := j.db.Query(`
		SELECT event_id, event_type, time, symbol, reason, detail
		FROM risk_events WHERE time >= ? ORDER BY time ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RiskEventRecord
	for rows.Next() {
		var r RiskEventRecord
		if err := rows.Scan(&r.EventID, &r.EventType, &r.Time, &r.Symbol, &r.Reason, &r.Detail); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
