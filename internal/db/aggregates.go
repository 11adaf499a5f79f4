package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kon-rad/agent-tracker/internal/model"
)

// ApplyDelta folds one event's increments into the (agent, date) row in a
// single transaction. Counters are added server-side, so concurrent callers
// on the same key never overwrite each other.
func (m *Manager) ApplyDelta(ctx context.Context, key model.AggregateKey, d model.AggregateDelta) error {
	tx, err := m.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin aggregate tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO daily_aggregates (
  agent_id, date, total_messages, total_responses, total_errors, total_tokens_used,
  response_time_sum, response_count, feedback_sum, feedback_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(agent_id, date) DO UPDATE SET
  total_messages = total_messages + excluded.total_messages,
  total_responses = total_responses + excluded.total_responses,
  total_errors = total_errors + excluded.total_errors,
  total_tokens_used = total_tokens_used + excluded.total_tokens_used,
  response_time_sum = response_time_sum + excluded.response_time_sum,
  response_count = response_count + excluded.response_count,
  feedback_sum = feedback_sum + excluded.feedback_sum,
  feedback_count = feedback_count + excluded.feedback_count
`,
		key.AgentID, key.Date,
		d.Messages, d.Responses, d.Errors, d.Tokens,
		d.ResponseTime, d.ResponseN, d.Feedback, d.FeedbackN,
	); err != nil {
		return fmt.Errorf("upsert aggregate: %w", err)
	}

	if d.UserID != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO aggregate_users (agent_id, date, user_id) VALUES (?, ?, ?)",
			key.AgentID, key.Date, d.UserID,
		); err != nil {
			return fmt.Errorf("add aggregate user: %w", err)
		}
	}

	if d.Model != "" {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO aggregate_models (agent_id, date, model, usage_count) VALUES (?, ?, ?, 1)
ON CONFLICT(agent_id, date, model) DO UPDATE SET usage_count = usage_count + 1
`, key.AgentID, key.Date, d.Model); err != nil {
			return fmt.Errorf("add aggregate model: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit aggregate tx: %w", err)
	}
	return nil
}

func (m *Manager) QueryAggregates(ctx context.Context, agentID, startDate, endDate string) ([]model.DailyAggregate, error) {
	return m.loadAggregates(ctx, "agent_id = ? AND date >= ? AND date <= ?", -1, agentID, startDate, endDate)
}

func (m *Manager) ScanAggregates(ctx context.Context, startDate, endDate string, limit int) ([]model.DailyAggregate, error) {
	if limit <= 0 {
		limit = -1
	}
	return m.loadAggregates(ctx, "date >= ? AND date <= ?", limit, startDate, endDate)
}

// loadAggregates reads counter rows matching where, then attaches the user
// and model sets for the same keys.
func (m *Manager) loadAggregates(ctx context.Context, where string, limit int, args ...any) ([]model.DailyAggregate, error) {
	rows, err := m.reader.QueryContext(ctx, `
SELECT agent_id, date, total_messages, total_responses, total_errors, total_tokens_used,
  response_time_sum, response_count, feedback_sum, feedback_count
FROM daily_aggregates WHERE `+where+` ORDER BY agent_id, date LIMIT ?`, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}

	var out []model.DailyAggregate
	index := map[model.AggregateKey]int{}
	for rows.Next() {
		var a model.DailyAggregate
		if err := rows.Scan(
			&a.AgentID, &a.Date,
			&a.TotalMessages, &a.TotalResponses, &a.TotalErrors, &a.TotalTokensUsed,
			&a.ResponseTimeSum, &a.ResponseCount, &a.FeedbackSum, &a.FeedbackCount,
		); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		a.UserIDs = map[string]struct{}{}
		a.ModelUsage = map[string]int64{}
		index[model.AggregateKey{AgentID: a.AgentID, Date: a.Date}] = len(out)
		out = append(out, a)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate aggregates: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}

	err = m.eachMember(ctx, "SELECT agent_id, date, user_id, 1 FROM aggregate_users WHERE "+where, args,
		func(key model.AggregateKey, member string, _ int64) {
			if i, ok := index[key]; ok {
				out[i].UserIDs[member] = struct{}{}
			}
		})
	if err != nil {
		return nil, fmt.Errorf("query aggregate users: %w", err)
	}

	err = m.eachMember(ctx, "SELECT agent_id, date, model, usage_count FROM aggregate_models WHERE "+where, args,
		func(key model.AggregateKey, member string, n int64) {
			if i, ok := index[key]; ok {
				out[i].ModelUsage[member] = n
			}
		})
	if err != nil {
		return nil, fmt.Errorf("query aggregate models: %w", err)
	}

	for i := range out {
		out[i].UniqueUsers = int64(len(out[i].UserIDs))
	}
	return out, nil
}

func (m *Manager) eachMember(ctx context.Context, query string, args []any, fn func(model.AggregateKey, string, int64)) error {
	rows, err := m.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key    model.AggregateKey
			member string
			n      sql.NullInt64
		)
		if err := rows.Scan(&key.AgentID, &key.Date, &member, &n); err != nil {
			return err
		}
		fn(key, member, n.Int64)
	}
	return rows.Err()
}
