// Package convlog persists the conversation history: one append-only row
// per user or assistant turn. Writes are best-effort; a failed insert is
// warned about and swallowed so a logging problem never aborts a chat
// request.
package convlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// ToolCall is the condensed record of one tool run inside an assistant turn.
type ToolCall struct {
	ToolID  string `json:"toolId"`
	Success bool   `json:"success"`
}

// Event is one conversation turn.
type Event struct {
	UserID    string     `json:"userId"`
	SessionID string     `json:"sessionId"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	Module    string     `json:"module,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Log is an append-only conversation log backed by SQLite.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the log database at path and runs
// migrations.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("convlog: open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("convlog: wal mode: %w", err)
	}
	l := &Log{db: db, logger: logger.With("component", "convlog")}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("convlog: migrate: %w", err)
	}
	return l, nil
}

func (l *Log) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			tool_calls TEXT,
			module     TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_session ON conversation_events(session_id, id)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// LogEvent appends one turn. Failures are warned about, never returned:
// the conversation log must not be able to break its callers.
func (l *Log) LogEvent(ctx context.Context, ev Event) {
	var toolCalls any
	if len(ev.ToolCalls) > 0 {
		b, err := json.Marshal(ev.ToolCalls)
		if err != nil {
			l.logger.Warn("conversation event dropped", "error", err)
			return
		}
		toolCalls = string(b)
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO conversation_events (user_id, session_id, role, content, tool_calls, module, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.UserID, ev.SessionID, ev.Role, ev.Content, toolCalls, nullable(ev.Module), ts.UnixMilli())
	if err != nil {
		l.logger.Warn("conversation event dropped",
			"session", ev.SessionID,
			"role", ev.Role,
			"error", err)
	}
}

// Recent returns up to limit events for a session, oldest first.
func (l *Log) Recent(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT user_id, role, content, tool_calls, module, created_at
		 FROM conversation_events WHERE session_id = ?
		 ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("convlog: query: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev        Event
			toolCalls sql.NullString
			module    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&ev.UserID, &ev.Role, &ev.Content, &toolCalls, &module, &createdAt); err != nil {
			return nil, err
		}
		ev.SessionID = sessionID
		ev.Module = module.String
		ev.Timestamp = time.UnixMilli(createdAt)
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &ev.ToolCalls); err != nil {
				return nil, fmt.Errorf("convlog: decode tool calls: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (l *Log) Close() error { return l.db.Close() }

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
