package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kon-rad/agent-tracker/internal/dates"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

const eventColumns = `event_id, agent_id, timestamp, message_type, content, metadata, error_details,
  response_time_ms, token_count, model_used, user_feedback, trace_id, conversation_id, user_id`

func (m *Manager) PutEvent(ctx context.Context, rec model.EventRecord) error {
	var metadata any
	if rec.Metadata != nil {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(raw)
	}

	_, err := m.writer.ExecContext(ctx, `
INSERT INTO events (`+eventColumns+`, ingested_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO UPDATE SET
  agent_id = excluded.agent_id,
  timestamp = excluded.timestamp,
  message_type = excluded.message_type,
  content = excluded.content,
  metadata = excluded.metadata,
  error_details = excluded.error_details,
  response_time_ms = excluded.response_time_ms,
  token_count = excluded.token_count,
  model_used = excluded.model_used,
  user_feedback = excluded.user_feedback,
  trace_id = excluded.trace_id,
  conversation_id = excluded.conversation_id,
  user_id = excluded.user_id
`,
		rec.EventID,
		rec.AgentID,
		rec.Timestamp,
		rec.MessageType,
		nullString(rec.Content),
		metadata,
		nullString(rec.ErrorDetails),
		nullInt(rec.ResponseTimeMS),
		nullInt(rec.TokenCount),
		nullString(rec.ModelUsed),
		nullInt(rec.UserFeedback),
		emptyToNull(rec.TraceID),
		emptyToNull(rec.ConversationID),
		emptyToNull(rec.UserID),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (m *Manager) QueryEvents(ctx context.Context, agentID string, r storage.TimeRange, order storage.Order, limit int) ([]model.EventRecord, error) {
	return m.ScanEvents(ctx, storage.EventFilter{
		AgentID: agentID,
		Range:   r,
		Order:   order,
		Limit:   limit,
	})
}

func (m *Manager) ScanEvents(ctx context.Context, f storage.EventFilter) ([]model.EventRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.MessageType != "" {
		where = append(where, "message_type = ?")
		args = append(args, f.MessageType)
	}
	if f.Range.StartDate != "" {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Range.StartDate)
	}
	if f.Range.EndDate != "" {
		where = append(where, "timestamp < ?")
		args = append(args, dates.NextDay(f.Range.EndDate))
	}

	query := "SELECT " + eventColumns + " FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Order == storage.Descending {
		query += " ORDER BY timestamp DESC, rowid DESC"
	} else {
		query += " ORDER BY timestamp ASC, rowid ASC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := m.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (m *Manager) ListAgents(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := m.reader.QueryContext(ctx, "SELECT DISTINCT agent_id FROM events ORDER BY agent_id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, id)
	}
	return agents, rows.Err()
}

// EventCount is used by health and tests.
func (m *Manager) EventCount(ctx context.Context) (int64, error) {
	var count int64
	if err := m.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanEvent(rows *sql.Rows) (model.EventRecord, error) {
	var (
		rec                                        model.EventRecord
		content, metadata, errorDetails, modelUsed sql.NullString
		traceID, conversationID, userID            sql.NullString
		responseTime, tokens, feedback             sql.NullInt64
	)
	if err := rows.Scan(
		&rec.EventID,
		&rec.AgentID,
		&rec.Timestamp,
		&rec.MessageType,
		&content,
		&metadata,
		&errorDetails,
		&responseTime,
		&tokens,
		&modelUsed,
		&feedback,
		&traceID,
		&conversationID,
		&userID,
	); err != nil {
		return model.EventRecord{}, fmt.Errorf("scan event: %w", err)
	}

	rec.Content = stringPtr(content)
	rec.ErrorDetails = stringPtr(errorDetails)
	rec.ModelUsed = stringPtr(modelUsed)
	rec.ResponseTimeMS = intPtr(responseTime)
	rec.TokenCount = intPtr(tokens)
	rec.UserFeedback = intPtr(feedback)
	rec.TraceID = traceID.String
	rec.ConversationID = conversationID.String
	rec.UserID = userID.String
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return model.EventRecord{}, fmt.Errorf("decode metadata for %s: %w", rec.EventID, err)
		}
	}
	return rec, nil
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func emptyToNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
