package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"playprofile/apps/server/internal/database"
	"playprofile/eventlog"
	"playprofile/metrics"
)

const queryTimeout = 3 * time.Second

var schema = map[database.Dialect][]string{
	database.DialectSQLite: {
		`
CREATE TABLE IF NOT EXISTS session_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    player_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    ruleset_version TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    archetype TEXT NOT NULL DEFAULT '',
    rule_mastery_index REAL NOT NULL,
    evaluated_at_ms INTEGER NOT NULL,
    report_json TEXT NOT NULL,
    session_wire TEXT
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_session_reports_session ON session_reports(player_id, session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_reports_player ON session_reports(player_id, id)`,
	},
	database.DialectPostgres: {
		`
CREATE TABLE IF NOT EXISTS session_reports (
    id BIGSERIAL PRIMARY KEY,
    player_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    ruleset_version TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    archetype TEXT NOT NULL DEFAULT '',
    rule_mastery_index DOUBLE PRECISION NOT NULL,
    evaluated_at_ms BIGINT NOT NULL,
    report_json TEXT NOT NULL,
    session_wire TEXT
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_session_reports_session ON session_reports(player_id, session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_session_reports_player ON session_reports(player_id, id)`,
	},
}

// SQLStore keeps reports in sqlite or postgres. Insertion order (the serial
// id) is the history order.
type SQLStore struct {
	db *database.DB
}

// NewSQLStore prepares the report tables on db. The caller owns db.
func NewSQLStore(ctx context.Context, db *database.DB) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("history: nil database")
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := db.Migrate(ctx, schema[db.Dialect]); err != nil {
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return nil }

func (s *SQLStore) Append(ctx context.Context, report metrics.Report, session *eventlog.WireSession) error {
	if err := validate(report); err != nil {
		return err
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	var wire any
	if session != nil {
		raw, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		wire = string(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
INSERT INTO session_reports (
    player_id, session_id, ruleset_version, status, archetype,
    rule_mastery_index, evaluated_at_ms, report_json, session_wire
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`),
		report.PlayerID, report.SessionID, report.RulesetVersion, string(report.Status), report.Archetype,
		report.RuleMasteryIndex, report.EvaluatedAt.UTC().UnixMilli(), string(body), wire,
	)
	if err != nil {
		if s.db.IsUniqueViolation(err) {
			return ErrDuplicateSession
		}
		return err
	}
	return nil
}

func (s *SQLStore) Reports(ctx context.Context, playerID string) ([]metrics.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
SELECT report_json FROM session_reports WHERE player_id = ? ORDER BY id ASC
`), playerID)
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

func (s *SQLStore) Recent(ctx context.Context, playerID string, limit int) ([]metrics.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
SELECT report_json FROM session_reports WHERE player_id = ? ORDER BY id DESC LIMIT ?
`), playerID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return scanReports(rows)
}

func (s *SQLStore) SessionEvents(ctx context.Context, playerID, sessionID string) (*eventlog.WireSession, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
SELECT session_wire FROM session_reports WHERE player_id = ? AND session_id = ?
`), playerID, sessionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !raw.Valid || raw.String == "" {
		return nil, ErrNotFound
	}
	var w eventlog.WireSession
	if err := json.Unmarshal([]byte(raw.String), &w); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &w, nil
}

func scanReports(rows *sql.Rows) ([]metrics.Report, error) {
	defer rows.Close()
	out := make([]metrics.Report, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r metrics.Report
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
