// Package sqlite provides the durable, queryable audit sink. Events are
// written to an append-only table; rows are never updated or deleted here.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	authcore "github.com/nkarsten/authcore"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	ts_ms      INTEGER NOT NULL,
	category   TEXT NOT NULL,
	event_type TEXT NOT NULL,
	actor_id   TEXT NOT NULL DEFAULT '',
	subject_id TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	origin     TEXT NOT NULL DEFAULT '',
	success    INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	metadata   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_events_subject ON audit_events (subject_id, ts_ms);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events (event_type, ts_ms);
`

// Filter narrows a Query. Zero values mean "any".
type Filter struct {
	Category  string
	EventType string
	SubjectID string
	ActorID   string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Store persists audit events in SQLite and serves the read side consumed
// by audit dashboards. It implements authcore.AuditSink; write failures are
// counted and logged but never propagated into the authentication flow.
type Store struct {
	sqlDB         *sql.DB
	writeFailures atomic.Uint64
}

// Open opens (creating if needed) the audit database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("audit storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Emit implements authcore.AuditSink. Once the insert returns, the event is
// durable; on failure the event is lost from this sink only and the failure
// counter advances for out-of-band alerting.
func (s *Store) Emit(ctx context.Context, event authcore.AuditEvent) {
	if s == nil || s.sqlDB == nil {
		return
	}

	metadata := ""
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err == nil {
			metadata = string(data)
		}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO audit_events
			(id, ts_ms, category, event_type, actor_id, subject_id, session_id, origin, success, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Timestamp.UTC().UnixMilli(),
		event.Category,
		event.EventType,
		event.ActorID,
		event.SubjectID,
		event.SessionID,
		event.Origin,
		boolToInt(event.Success),
		event.Error,
		metadata,
	)
	if err != nil {
		s.writeFailures.Add(1)
		log.Printf("authcore: audit write failed: %v", err)
	}
}

// WriteFailures returns how many events failed to persist.
func (s *Store) WriteFailures() uint64 {
	if s == nil {
		return 0
	}
	return s.writeFailures.Load()
}

// Query returns events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter Filter) ([]authcore.AuditEvent, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("audit storage is not configured")
	}

	query := strings.Builder{}
	query.WriteString(`
		SELECT id, ts_ms, category, event_type, actor_id, subject_id, session_id, origin, success, error, metadata
		FROM audit_events WHERE 1=1`)
	args := make([]any, 0, 6)

	if filter.Category != "" {
		query.WriteString(" AND category = ?")
		args = append(args, filter.Category)
	}
	if filter.EventType != "" {
		query.WriteString(" AND event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.SubjectID != "" {
		query.WriteString(" AND subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.ActorID != "" {
		query.WriteString(" AND actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if !filter.Since.IsZero() {
		query.WriteString(" AND ts_ms >= ?")
		args = append(args, filter.Since.UTC().UnixMilli())
	}
	if !filter.Until.IsZero() {
		query.WriteString(" AND ts_ms < ?")
		args = append(args, filter.Until.UTC().UnixMilli())
	}

	query.WriteString(" ORDER BY ts_ms DESC")
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query.WriteString(" LIMIT ?")
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]authcore.AuditEvent, 0, limit)
	for rows.Next() {
		var (
			event    authcore.AuditEvent
			tsMillis int64
			success  int
			metadata string
		)
		if err := rows.Scan(
			&event.ID,
			&tsMillis,
			&event.Category,
			&event.EventType,
			&event.ActorID,
			&event.SubjectID,
			&event.SessionID,
			&event.Origin,
			&success,
			&event.Error,
			&metadata,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Timestamp = time.UnixMilli(tsMillis).UTC()
		event.Success = success == 1
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &event.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}

	return events, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
