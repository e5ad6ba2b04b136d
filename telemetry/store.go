package telemetry

import (
	"database/sql"
	"time"

	"github.com/swiftlens/swiftlens/errors"
)

// Status values for a tool call entry.
const (
	StatusInProgress = "in-progress"
	StatusSuccess    = "success"
	StatusError      = "error"
)

// Entry is one tool invocation. Start writes the in-progress row; End fills
// in the terminal fields.
type Entry struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	ClientID   string     `json:"client_id"`
	ToolName   string     `json:"tool_name"`
	Params     string     `json:"params"`
	Result     *string    `json:"result,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	Status     string     `json:"status"`
	ErrorText  *string    `json:"error_text,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
}

// Session groups entries made by one connected client.
type Session struct {
	ID         string     `json:"id"`
	ClientInfo string     `json:"client_info"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	ToolCount  int        `json:"tool_count"`
}

// Store persists telemetry entries. All writes go through the sink's single
// worker, so methods here need no locking of their own.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertStart records the in-progress row for a tool call.
func (s *Store) InsertStart(e *Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO logs (id, session_id, client_id, tool_name, params, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.ClientID, e.ToolName, e.Params, StatusInProgress, e.StartedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert log entry %s", e.ID)
	}
	return nil
}

// UpdateEnd completes an entry with its terminal status. The row keyed by id
// must exist; a missing row means start and end got out of order.
func (s *Store) UpdateEnd(id, status string, result, errorText *string, duration time.Duration) error {
	res, err := s.db.Exec(`
		UPDATE logs SET status = ?, result = ?, error_text = ?, duration_ms = ?
		WHERE id = ?`,
		status, result, errorText, duration.Milliseconds(), id,
	)
	if err != nil {
		return errors.Wrapf(err, "update log entry %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.Newf("no log entry with id %s", id)
	}
	return nil
}

// GetEntry loads one entry by id.
func (s *Store) GetEntry(id string) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, client_id, tool_name, params, result, duration_ms, status, error_text, started_at
		FROM logs WHERE id = ?`, id)

	var e Entry
	err := row.Scan(&e.ID, &e.SessionID, &e.ClientID, &e.ToolName, &e.Params,
		&e.Result, &e.DurationMS, &e.Status, &e.ErrorText, &e.StartedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "get log entry %s", id)
	}
	return &e, nil
}

// ListRecent returns the newest entries first, up to limit.
func (s *Store) ListRecent(limit int) ([]*Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, client_id, tool_name, params, result, duration_ms, status, error_text, started_at
		FROM logs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list log entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ClientID, &e.ToolName, &e.Params,
			&e.Result, &e.DurationMS, &e.Status, &e.ErrorText, &e.StartedAt); err != nil {
			return nil, errors.Wrap(err, "scan log entry")
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// StartSession records a new client session.
func (s *Store) StartSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, client_info, started_at) VALUES (?, ?, ?)`,
		sess.ID, sess.ClientInfo, sess.StartedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert session %s", sess.ID)
	}
	return nil
}

// EndSession closes a session and freezes its tool count.
func (s *Store) EndSession(id string, endedAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE sessions
		SET ended_at = ?, tool_count = (SELECT COUNT(*) FROM logs WHERE session_id = ?)
		WHERE id = ?`,
		endedAt, id, id,
	)
	if err != nil {
		return errors.Wrapf(err, "end session %s", id)
	}
	return nil
}

// DeleteOlderThan removes entries past the retention window and returns the
// number deleted.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM logs WHERE started_at < ?", cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "delete old log entries")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}

// ReconcileOrphans marks in-progress entries older than cutoff as errored.
// These are calls whose process died before logging an end.
func (s *Store) ReconcileOrphans(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE logs SET status = ?, error_text = 'orphaned: no completion recorded'
		WHERE status = ? AND started_at < ?`,
		StatusError, StatusInProgress, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "reconcile orphaned entries")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}
