package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one recording run of the two-camera monitor.
type Session struct {
	SessionID string     `json:"session_id"`
	Camera1   string     `json:"camera1"`
	Camera2   string     `json:"camera2"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// StartSession inserts a new session and returns its generated id.
func (db *DB) StartSession(camera1, camera2, notes string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO sessions (session_id, camera1, camera2, notes)
		VALUES (?, ?, ?, ?)`,
		id, camera1, camera2, notes)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time. Ending an unknown or already
// ended session is an error.
func (db *DB) EndSession(sessionID string) error {
	res, err := db.Exec(`
		UPDATE sessions SET ended_at = CURRENT_TIMESTAMP
		WHERE session_id = ? AND ended_at IS NULL`,
		sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no open session %s", sessionID)
	}
	return nil
}

// GetSession returns one session by id.
func (db *DB) GetSession(sessionID string) (*Session, error) {
	row := db.QueryRow(`
		SELECT session_id, camera1, camera2, started_at, ended_at, COALESCE(notes, '')
		FROM sessions WHERE session_id = ?`,
		sessionID)

	var s Session
	var endedAt sql.NullTime
	if err := row.Scan(&s.SessionID, &s.Camera1, &s.Camera2, &s.StartedAt, &endedAt, &s.Notes); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s not found", sessionID)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return &s, nil
}

// ListSessions returns sessions newest first, up to limit.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	rows, err := db.Query(`
		SELECT session_id, camera1, camera2, started_at, ended_at, COALESCE(notes, '')
		FROM sessions ORDER BY started_at DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var endedAt sql.NullTime
		if err := rows.Scan(&s.SessionID, &s.Camera1, &s.Camera2, &s.StartedAt, &endedAt, &s.Notes); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			s.EndedAt = &endedAt.Time
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
