// Package audit records one entry per tool dispatch attempt, allowed or
// denied. Writes are asynchronous and lossy under pressure: the dispatch
// path must never block or fail because of its audit trail.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaydesk/copilot/internal/docstore"
)

// Collection is the doc-store collection audit entries land in.
const Collection = "audit_log"

// Entry describes one tool dispatch attempt.
type Entry struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	ToolID     string         `json:"toolId"`
	Params     map[string]any `json:"params,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	ReasonCode string         `json:"reasonCode,omitempty"`
	DurationMs int64          `json:"durationMs"`
	Timestamp  time.Time      `json:"timestamp"`
	SessionID  string         `json:"sessionId,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Operation  string         `json:"operation,omitempty"`
	Module     string         `json:"module,omitempty"`
}

// Writer consumes entries from a buffered channel on a single background
// goroutine and appends them to the doc store.
type Writer struct {
	store   docstore.Store
	logger  *slog.Logger
	entries chan Entry
}

// NewWriter creates a Writer buffering up to size entries.
func NewWriter(store docstore.Store, logger *slog.Logger, size int) *Writer {
	if size <= 0 {
		size = 256
	}
	return &Writer{
		store:   store,
		logger:  logger.With("component", "audit"),
		entries: make(chan Entry, size),
	}
}

// Record queues an entry. It never blocks and never fails: a missing id or
// timestamp is filled in, and when the buffer is full the entry is dropped
// with a warning.
func (w *Writer) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case w.entries <- e:
	default:
		w.logger.Warn("audit buffer full, dropping entry", "tool_id", e.ToolID, "user_id", e.UserID)
	}
}

// Run consumes entries until ctx is canceled, then drains whatever is still
// buffered before returning. Suitable for an errgroup.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case e := <-w.entries:
			w.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-w.entries:
					w.write(e)
				default:
					return nil
				}
			}
		}
	}
}

func (w *Writer) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := w.store.Insert(ctx, Collection, toDocument(e)); err != nil {
		w.logger.Warn("audit write failed", "tool_id", e.ToolID, "error", err)
	}
}

func toDocument(e Entry) docstore.Document {
	doc := docstore.Document{
		"_id":        e.ID,
		"userId":     e.UserID,
		"toolId":     e.ToolID,
		"success":    e.Success,
		"durationMs": e.DurationMs,
		"timestamp":  e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.Params != nil {
		doc["params"] = e.Params
	}
	if e.Error != "" {
		doc["error"] = e.Error
	}
	if e.ReasonCode != "" {
		doc["reasonCode"] = e.ReasonCode
	}
	if e.SessionID != "" {
		doc["sessionId"] = e.SessionID
	}
	if e.RequestID != "" {
		doc["requestId"] = e.RequestID
	}
	if e.Collection != "" {
		doc["collection"] = e.Collection
	}
	if e.Operation != "" {
		doc["operation"] = e.Operation
	}
	if e.Module != "" {
		doc["module"] = e.Module
	}
	return doc
}
