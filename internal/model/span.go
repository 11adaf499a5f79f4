package model

// SpanInput is one element of an ingest-spans batch. Resource carries the
// OpenTelemetry resource attributes; only "service.name" is read.
type SpanInput struct {
	TraceID      string         `json:"trace_id" validate:"required"`
	SpanID       string         `json:"span_id"`
	ParentSpanID *string        `json:"parent_span_id"`
	Name         string         `json:"name"`
	StartTime    string         `json:"start_time"`
	EndTime      *string        `json:"end_time"`
	Status       *string        `json:"status"`
	ServiceName  *string        `json:"service_name"`
	Attributes   map[string]any `json:"attributes"`
	Resource     map[string]any `json:"resource"`
}

// Normalize resolves the service name fallback and drops the resource bag.
func (in SpanInput) Normalize() Span {
	sp := Span{
		TraceID:      in.TraceID,
		SpanID:       in.SpanID,
		ParentSpanID: in.ParentSpanID,
		Name:         in.Name,
		StartTime:    in.StartTime,
		EndTime:      in.EndTime,
		Status:       in.Status,
		ServiceName:  in.ServiceName,
		Attributes:   in.Attributes,
	}
	if sp.ServiceName == nil || *sp.ServiceName == "" {
		sp.ServiceName = nil
		if name, ok := in.Resource["service.name"].(string); ok && name != "" {
			sp.ServiceName = &name
		}
	}
	return sp
}

type Span struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID *string        `json:"parent_span_id"`
	Name         string         `json:"name"`
	StartTime    string         `json:"start_time"`
	EndTime      *string        `json:"end_time"`
	Status       *string        `json:"status"`
	ServiceName  *string        `json:"service_name"`
	Attributes   map[string]any `json:"attributes"`
}

type SpanIngestRequest struct {
	Spans []SpanInput `json:"spans"`
}

type SpanIngestResponse struct {
	Ingested int `json:"ingested"`
}

// TraceDetail is a trace assembled from its spans at query time.
type TraceDetail struct {
	TraceID    string  `json:"trace_id"`
	StartTime  *string `json:"start_time"`
	EndTime    *string `json:"end_time"`
	DurationMS *int64  `json:"duration_ms"`
	Spans      []Span  `json:"spans"`
}

// Conversation is derived from events sharing a correlation key.
type Conversation struct {
	ID           string `json:"id"`
	AgentID      string `json:"agent_id"`
	StartedAt    string `json:"startedAt"`
	Duration     int64  `json:"duration"`
	MessageCount int    `json:"messageCount"`
	Status       string `json:"status"`
}

const (
	ConversationCompleted = "completed"
	ConversationError     = "error"
)

type ConversationsResponse struct {
	Items []Conversation `json:"items"`
}
