package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sitewatch-data/ppe.report/internal/vision"
)

// ViolationEvent is one persisted violation observation for one fused person.
type ViolationEvent struct {
	EventID         int64     `json:"event_id"`
	SessionID       string    `json:"session_id"`
	Tick            int64     `json:"tick"`
	FusedID         string    `json:"fused_id"`
	CameraSource    string    `json:"camera_source"`
	MatchConfidence float64   `json:"match_confidence"`
	Confidence      float64   `json:"confidence"`
	ViolationRatio  float64   `json:"violation_ratio"`
	DetectedPPE     []string  `json:"detected_ppe"`
	MissingPPE      []string  `json:"missing_ppe"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot is one persisted fusion tick summary.
type Snapshot struct {
	SessionID  string                  `json:"session_id"`
	Tick       int64                   `json:"tick"`
	FusionMode string                  `json:"fusion_mode"`
	Statistics vision.FusionStatistics `json:"statistics"`
	Timestamp  time.Time               `json:"timestamp"`
}

// TimelinePoint is one bucket of the compliance timeline.
type TimelinePoint struct {
	Tick           int64   `json:"tick"`
	ComplianceRate float64 `json:"compliance_rate"`
	TotalPersons   int     `json:"total_persons"`
	Violations     int     `json:"violations"`
}

// RecordViolations inserts one event row per violating person in the result.
func (db *DB) RecordViolations(sessionID string, tick int64, result *vision.FusedResult) error {
	if len(result.Violations) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin violations transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO violation_events
			(session_id, tick, fused_id, camera_source, match_confidence,
			 confidence, violation_ratio, detected_ppe, missing_ppe)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare violation insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range result.Violations {
		detected, err := json.Marshal(p.Filtered.DetectedPPE)
		if err != nil {
			return err
		}
		missing, err := json.Marshal(p.Filtered.MissingPPE)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(sessionID, tick, p.FusedID, p.CameraSource,
			p.MatchConfidence, p.Filtered.Confidence, p.Filtered.ViolationRatio,
			string(detected), string(missing)); err != nil {
			return fmt.Errorf("failed to record violation %s: %w", p.FusedID, err)
		}
	}

	return tx.Commit()
}

// RecordSnapshot inserts one fusion tick summary row.
func (db *DB) RecordSnapshot(sessionID string, tick int64, result *vision.FusedResult) error {
	s := result.Statistics
	_, err := db.Exec(`
		INSERT INTO fusion_snapshots
			(session_id, tick, fusion_mode, total_persons, violations,
			 compliance_rate, matched_persons, cam1_only, cam2_only)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, tick, result.FusionMode, s.TotalPersons, s.Violations,
		s.ComplianceRate, s.MatchedPersons, s.Cam1Only, s.Cam2Only)
	if err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// RecentEvents returns a session's violation events newest first, up to limit.
func (db *DB) RecentEvents(sessionID string, limit int) ([]ViolationEvent, error) {
	rows, err := db.Query(`
		SELECT event_id, session_id, tick, fused_id, camera_source,
		       match_confidence, confidence, violation_ratio,
		       detected_ppe, missing_ppe, timestamp
		FROM violation_events
		WHERE session_id = ?
		ORDER BY event_id DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []ViolationEvent
	for rows.Next() {
		var e ViolationEvent
		var detected, missing string
		if err := rows.Scan(&e.EventID, &e.SessionID, &e.Tick, &e.FusedID,
			&e.CameraSource, &e.MatchConfidence, &e.Confidence,
			&e.ViolationRatio, &detected, &missing, &e.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(detected), &e.DetectedPPE); err != nil {
			return nil, fmt.Errorf("corrupt detected_ppe in event %d: %w", e.EventID, err)
		}
		if err := json.Unmarshal([]byte(missing), &e.MissingPPE); err != nil {
			return nil, fmt.Errorf("corrupt missing_ppe in event %d: %w", e.EventID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ComplianceTimeline aggregates a session's snapshots into at most buckets
// points, averaging the compliance rate and summing counts per bucket.
func (db *DB) ComplianceTimeline(sessionID string, buckets int) ([]TimelinePoint, error) {
	if buckets < 1 {
		return nil, fmt.Errorf("buckets must be positive, got %d", buckets)
	}

	var minTick, maxTick int64
	err := db.QueryRow(`
		SELECT COALESCE(MIN(tick), 0), COALESCE(MAX(tick), 0)
		FROM fusion_snapshots WHERE session_id = ?`,
		sessionID).Scan(&minTick, &maxTick)
	if err != nil {
		return nil, fmt.Errorf("failed to query tick range: %w", err)
	}

	width := (maxTick - minTick + 1 + int64(buckets) - 1) / int64(buckets)
	if width < 1 {
		width = 1
	}

	rows, err := db.Query(`
		SELECT (tick - ?) / ? AS bucket,
		       MIN(tick), AVG(compliance_rate),
		       MAX(total_persons), SUM(violations)
		FROM fusion_snapshots
		WHERE session_id = ?
		GROUP BY bucket ORDER BY bucket`,
		minTick, width, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var points []TimelinePoint
	for rows.Next() {
		var bucket int64
		var p TimelinePoint
		if err := rows.Scan(&bucket, &p.Tick, &p.ComplianceRate, &p.TotalPersons, &p.Violations); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// SessionStats summarises a session's persisted snapshots.
type SessionStats struct {
	Snapshots      int64   `json:"snapshots"`
	Events         int64   `json:"events"`
	AvgCompliance  float64 `json:"avg_compliance_rate"`
	PeakPersons    int     `json:"peak_persons"`
	TotalViolation int64   `json:"total_violations"`
}

// Stats returns aggregate statistics for one session.
func (db *DB) Stats(sessionID string) (*SessionStats, error) {
	var stats SessionStats
	err := db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(AVG(compliance_rate), 100),
		       COALESCE(MAX(total_persons), 0),
		       COALESCE(SUM(violations), 0)
		FROM fusion_snapshots WHERE session_id = ?`,
		sessionID).Scan(&stats.Snapshots, &stats.AvgCompliance, &stats.PeakPersons, &stats.TotalViolation)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot stats: %w", err)
	}

	err = db.QueryRow(`
		SELECT COUNT(*) FROM violation_events WHERE session_id = ?`,
		sessionID).Scan(&stats.Events)
	if err != nil {
		return nil, fmt.Errorf("failed to query event count: %w", err)
	}

	return &stats, nil
}
