package model

import "sort"

// DailyAggregate is the per-(agent, day) rolling counter record. Counters
// only grow; averages are derived at read time from the sum/count pairs.
type DailyAggregate struct {
	AgentID         string
	Date            string
	TotalMessages   int64
	TotalResponses  int64
	TotalErrors     int64
	TotalTokensUsed int64
	ResponseTimeSum int64
	ResponseCount   int64
	FeedbackSum     int64
	FeedbackCount   int64
	// UserIDs is nil when the backend does not track the distinct set, in
	// which case UniqueUsers carries the count.
	UserIDs     map[string]struct{}
	UniqueUsers int64
	ModelUsage  map[string]int64
}

func (a DailyAggregate) Visitors() int64 {
	if a.UserIDs != nil {
		return int64(len(a.UserIDs))
	}
	return a.UniqueUsers
}

// AggregateKey addresses one aggregate record.
type AggregateKey struct {
	AgentID string
	Date    string
}

// AggregateDelta is an increment-only update. Zero fields are no-ops.
type AggregateDelta struct {
	Messages     int64
	Responses    int64
	Errors       int64
	Tokens       int64
	ResponseTime int64
	ResponseN    int64
	Feedback     int64
	FeedbackN    int64
	UserID       string
	Model        string
}

// AgentMetrics is the folded view over a date range for one agent.
type AgentMetrics struct {
	AgentID              string  `json:"agent_id"`
	Date                 string  `json:"date"`
	TotalMessages        int64   `json:"total_messages"`
	TotalResponses       int64   `json:"total_responses"`
	TotalErrors          int64   `json:"total_errors"`
	AverageResponseTime  float64 `json:"average_response_time"`
	TotalTokensUsed      int64   `json:"total_tokens_used"`
	AverageFeedbackScore float64 `json:"average_feedback_score"`
	UniqueUsers          int64   `json:"unique_users"`
}

type MetricsResponse struct {
	AgentID   string       `json:"agent_id"`
	Metrics   AgentMetrics `json:"metrics"`
	TimeRange string       `json:"time_range"`
}

type DashboardKPI struct {
	Title       string  `json:"title"`
	Value       float64 `json:"value"`
	Change      float64 `json:"change"`
	ChangeType  string  `json:"changeType"`
	Description string  `json:"description,omitempty"`
}

type DashboardKPIsResponse struct {
	StartDate string         `json:"start_date"`
	EndDate   string         `json:"end_date"`
	Agents    []string       `json:"agents"`
	KPIs      []DashboardKPI `json:"kpis"`
}

type SeriesPoint struct {
	Date       string           `json:"date"`
	Calls      int64            `json:"calls"`
	Errors     int64            `json:"errors"`
	Visitors   int64            `json:"visitors"`
	Models     []string         `json:"models"`
	ModelUsage map[string]int64 `json:"model_usage"`
}

type MetricsSeriesResponse struct {
	StartDate string        `json:"start_date"`
	EndDate   string        `json:"end_date"`
	Agents    []string      `json:"agents"`
	Items     []SeriesPoint `json:"items"`
}

// SortedModels returns the model names of a usage map in lexical order.
func SortedModels(usage map[string]int64) []string {
	out := make([]string, 0, len(usage))
	for m := range usage {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
