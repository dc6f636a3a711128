package eventlog

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jeffs/claudechic/internal/backend"
)

// sqliteLog persists routed events across restarts.
type sqliteLog struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) an event log database at dbPath.
func NewSQLite(dbPath string) (Log, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind       TEXT NOT NULL,
		text       TEXT,
		tool_id    TEXT,
		tool_name  TEXT,
		tool_input TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, seq);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteLog{db: db}, nil
}

func (s *sqliteLog) Append(ev backend.Event) error {
	_, err := s.db.Exec(`
		INSERT INTO events (session_id, kind, text, tool_id, tool_name, tool_input, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.Kind.String(), ev.Text, ev.ToolID, ev.ToolName, string(ev.ToolInput), ev.Timestamp,
	)
	return err
}

func (s *sqliteLog) Read(sessionID string, limit int) ([]backend.Event, error) {
	query := `
		SELECT kind, text, tool_id, tool_name, tool_input, created_at
		FROM events WHERE session_id = ? ORDER BY seq DESC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []backend.Event
	for rows.Next() {
		var ev backend.Event
		var kind string
		var input sql.NullString
		if err := rows.Scan(&kind, &ev.Text, &ev.ToolID, &ev.ToolName, &input, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.SessionID = sessionID
		ev.Kind = parseKind(kind)
		if input.Valid && input.String != "" {
			ev.ToolInput = []byte(input.String)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to oldest-first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *sqliteLog) Close() error {
	return s.db.Close()
}

func parseKind(kind string) backend.EventKind {
	switch kind {
	case "stream_chunk":
		return backend.EventStreamChunk
	case "tool_started":
		return backend.EventToolStarted
	case "tool_result":
		return backend.EventToolResult
	case "response_complete":
		return backend.EventResponseComplete
	case "error":
		return backend.EventError
	}
	return backend.EventStreamChunk
}
