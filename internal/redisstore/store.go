// Package redisstore implements the key-value backend on redis. Events live
// as JSON strings indexed by lexically sorted sets; daily aggregates are
// hashes updated with HINCRBY inside MULTI/EXEC.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kon-rad/agent-tracker/internal/dates"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

const (
	keyPrefix    = "agt:"
	agentsKey    = keyPrefix + "agents"
	allEventsKey = keyPrefix + "events:all"
	aggDaysKey   = keyPrefix + "aggdays"

	memberSep = "|"
	scanPage  = 500

	ConnectTimeout = 10 * time.Second
	ReadTimeout    = 5 * time.Second
	WriteTimeout   = 5 * time.Second
)

var _ storage.KeyValueBackend = (*Store)(nil)

type Store struct {
	client *redis.Client
}

// New parses a redis:// URL, connects and pings.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = ConnectTimeout
	opts.ReadTimeout = ReadTimeout
	opts.WriteTimeout = WriteTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis (timeout: %v): %w", ConnectTimeout, err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func eventKey(id string) string { return keyPrefix + "event:" + id }

func agentEventsKey(agent string) string { return keyPrefix + "events:" + agent }

func aggKey(k model.AggregateKey) string { return keyPrefix + "agg:" + k.AgentID + ":" + k.Date }

func usersKey(k model.AggregateKey) string { return aggKey(k) + ":users" }

func modelsKey(k model.AggregateKey) string { return aggKey(k) + ":models" }

// sortMember orders events by their raw timestamp string, then id.
func sortMember(rec model.EventRecord) string {
	return rec.Timestamp + memberSep + rec.EventID
}

func memberID(member string) string {
	i := strings.LastIndex(member, memberSep)
	if i < 0 {
		return member
	}
	return member[i+1:]
}

func (s *Store) PutEvent(ctx context.Context, rec model.EventRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	member := redis.Z{Score: 0, Member: sortMember(rec)}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, eventKey(rec.EventID), raw, 0)
		pipe.ZAdd(ctx, agentEventsKey(rec.AgentID), member)
		pipe.ZAdd(ctx, allEventsKey, member)
		pipe.SAdd(ctx, agentsKey, rec.AgentID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put event: %w", err)
	}
	return nil
}

func (s *Store) QueryEvents(ctx context.Context, agentID string, r storage.TimeRange, order storage.Order, limit int) ([]model.EventRecord, error) {
	return s.ScanEvents(ctx, storage.EventFilter{AgentID: agentID, Range: r, Order: order, Limit: limit})
}

func (s *Store) ScanEvents(ctx context.Context, f storage.EventFilter) ([]model.EventRecord, error) {
	key := allEventsKey
	if f.AgentID != "" {
		key = agentEventsKey(f.AgentID)
	}
	lo, hi := "-", "+"
	if f.Range.StartDate != "" {
		lo = "[" + f.Range.StartDate
	}
	if f.Range.EndDate != "" {
		hi = "(" + dates.NextDay(f.Range.EndDate)
	}

	var out []model.EventRecord
	for offset := int64(0); ; offset += scanPage {
		by := &redis.ZRangeBy{Min: lo, Max: hi, Offset: offset, Count: scanPage}
		var (
			members []string
			err     error
		)
		if f.Order == storage.Descending {
			members, err = s.client.ZRevRangeByLex(ctx, key, by).Result()
		} else {
			members, err = s.client.ZRangeByLex(ctx, key, by).Result()
		}
		if err != nil {
			return nil, fmt.Errorf("range events: %w", err)
		}
		if len(members) == 0 {
			return out, nil
		}

		recs, err := s.loadEvents(ctx, members)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if f.MessageType != "" && rec.MessageType != f.MessageType {
				continue
			}
			out = append(out, rec)
			if f.Limit > 0 && len(out) >= f.Limit {
				return out, nil
			}
		}
		if len(members) < scanPage {
			return out, nil
		}
	}
}

func (s *Store) loadEvents(ctx context.Context, members []string) ([]model.EventRecord, error) {
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = eventKey(memberID(m))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	out := make([]model.EventRecord, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// index entry without a body; skip it
			continue
		}
		var rec model.EventRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", keys[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) ListAgents(ctx context.Context, limit int) ([]string, error) {
	agents, err := s.client.SMembers(ctx, agentsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	sort.Strings(agents)
	if limit > 0 && len(agents) > limit {
		agents = agents[:limit]
	}
	return agents, nil
}

var counterFields = []string{
	"total_messages",
	"total_responses",
	"total_errors",
	"total_tokens_used",
	"response_time_sum",
	"response_count",
	"feedback_sum",
	"feedback_count",
}

// ApplyDelta runs every increment for one event inside MULTI/EXEC.
func (s *Store) ApplyDelta(ctx context.Context, key model.AggregateKey, d model.AggregateDelta) error {
	// unparsable dates still aggregate; they sort first in day scans
	day, _ := dayScore(key.Date)
	values := []int64{d.Messages, d.Responses, d.Errors, d.Tokens, d.ResponseTime, d.ResponseN, d.Feedback, d.FeedbackN}

	hk := aggKey(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, hk, "agent_id", key.AgentID)
		pipe.HSetNX(ctx, hk, "date", key.Date)
		for i, field := range counterFields {
			if values[i] != 0 {
				pipe.HIncrBy(ctx, hk, field, values[i])
			}
		}
		if d.UserID != "" {
			pipe.SAdd(ctx, usersKey(key), d.UserID)
		}
		if d.Model != "" {
			pipe.HIncrBy(ctx, modelsKey(key), d.Model, 1)
		}
		pipe.ZAdd(ctx, aggDaysKey, redis.Z{Score: day, Member: key.AgentID + memberSep + key.Date})
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply aggregate delta: %w", err)
	}
	return nil
}

func (s *Store) QueryAggregates(ctx context.Context, agentID, startDate, endDate string) ([]model.DailyAggregate, error) {
	start, err := dates.ParseDay(startDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	end, err := dates.ParseDay(endDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	days := dates.Days(start, end)
	keys := make([]model.AggregateKey, len(days))
	for i, day := range days {
		keys[i] = model.AggregateKey{AgentID: agentID, Date: day}
	}
	return s.loadAggregates(ctx, keys)
}

func (s *Store) ScanAggregates(ctx context.Context, startDate, endDate string, limit int) ([]model.DailyAggregate, error) {
	lo, err := dayScore(startDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	hi, err := dayScore(endDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	by := &redis.ZRangeBy{
		Min: strconv.FormatFloat(lo, 'f', 0, 64),
		Max: strconv.FormatFloat(hi, 'f', 0, 64),
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	members, err := s.client.ZRangeByScore(ctx, aggDaysKey, by).Result()
	if err != nil {
		return nil, fmt.Errorf("scan aggregate days: %w", err)
	}
	keys := make([]model.AggregateKey, 0, len(members))
	for _, m := range members {
		i := strings.LastIndex(m, memberSep)
		if i < 0 {
			continue
		}
		keys = append(keys, model.AggregateKey{AgentID: m[:i], Date: m[i+1:]})
	}
	return s.loadAggregates(ctx, keys)
}

// loadAggregates fetches each key's hash, user set and model hash in one
// pipeline. Keys with no counter hash are dropped.
func (s *Store) loadAggregates(ctx context.Context, keys []model.AggregateKey) ([]model.DailyAggregate, error) {
	if len(keys) == 0 {
		return []model.DailyAggregate{}, nil
	}
	type pending struct {
		hash   *redis.MapStringStringCmd
		users  *redis.StringSliceCmd
		models *redis.MapStringStringCmd
	}
	cmds := make([]pending, len(keys))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pending{
				hash:   pipe.HGetAll(ctx, aggKey(k)),
				users:  pipe.SMembers(ctx, usersKey(k)),
				models: pipe.HGetAll(ctx, modelsKey(k)),
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load aggregates: %w", err)
	}

	out := make([]model.DailyAggregate, 0, len(keys))
	for i, k := range keys {
		hash := cmds[i].hash.Val()
		if len(hash) == 0 {
			continue
		}
		a := model.DailyAggregate{
			AgentID:    k.AgentID,
			Date:       k.Date,
			UserIDs:    map[string]struct{}{},
			ModelUsage: map[string]int64{},
		}
		counters := []*int64{
			&a.TotalMessages, &a.TotalResponses, &a.TotalErrors, &a.TotalTokensUsed,
			&a.ResponseTimeSum, &a.ResponseCount, &a.FeedbackSum, &a.FeedbackCount,
		}
		for j, field := range counterFields {
			*counters[j] = parseInt(hash[field])
		}
		for _, u := range cmds[i].users.Val() {
			a.UserIDs[u] = struct{}{}
		}
		a.UniqueUsers = int64(len(a.UserIDs))
		for m, n := range cmds[i].models.Val() {
			a.ModelUsage[m] = parseInt(n)
		}
		out = append(out, a)
	}
	return out, nil
}

func dayScore(day string) (float64, error) {
	t, err := dates.ParseDay(day)
	if err != nil {
		return 0, err
	}
	y, m, d := t.Date()
	return float64(y*10000 + int(m)*100 + d), nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
