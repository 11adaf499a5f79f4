package model

// Message types with aggregate side effects. Other values are accepted and
// only count toward total_messages.
const (
	MessageTypeUserMessage   = "user_message"
	MessageTypeAgentResponse = "agent_response"
	MessageTypeError         = "error"
	MessageTypeFeedback      = "feedback"
)

// Well-known metadata keys hoisted into indexed record fields.
const (
	MetaTraceID        = "trace_id"
	MetaConversationID = "conversation_id"
	MetaUserID         = "user_id"
)

type Event struct {
	AgentID        string   `json:"agent_id" validate:"required"`
	Timestamp      string   `json:"timestamp" validate:"required"`
	MessageType    string   `json:"message_type" validate:"required"`
	Content        *string  `json:"content"`
	Metadata       Metadata `json:"metadata"`
	ErrorDetails   *string  `json:"error_details"`
	ResponseTimeMS *int64   `json:"response_time_ms" validate:"omitnil,gte=0"`
	TokenCount     *int64   `json:"token_count" validate:"omitnil,gte=0"`
	ModelUsed      *string  `json:"model_used"`
	UserFeedback   *int64   `json:"user_feedback" validate:"omitnil,min=1,max=5"`
}

// EventRecord is an Event as persisted, with its generated id and the
// correlation fields lifted out of metadata.
type EventRecord struct {
	Event
	EventID        string `json:"event_id,omitempty"`
	TraceID        string `json:"trace_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// NewRecord hoists correlation ids out of the event metadata.
func NewRecord(eventID string, ev Event) EventRecord {
	rec := EventRecord{Event: ev, EventID: eventID}
	rec.TraceID, _ = ev.Metadata.Lookup(MetaTraceID)
	rec.ConversationID, _ = ev.Metadata.Lookup(MetaConversationID)
	rec.UserID, _ = ev.Metadata.Lookup(MetaUserID)
	return rec
}

// CorrelationKey groups events into conversations: conversation id first,
// trace id second.
func (r EventRecord) CorrelationKey() (string, bool) {
	if r.ConversationID != "" {
		return r.ConversationID, true
	}
	if id, ok := r.Metadata.Lookup(MetaConversationID); ok {
		return id, true
	}
	if r.TraceID != "" {
		return r.TraceID, true
	}
	if id, ok := r.Metadata.Lookup(MetaTraceID); ok {
		return id, true
	}
	return "", false
}

// EventItem is the list-events response row.
type EventItem struct {
	AgentID        string   `json:"agent_id"`
	Timestamp      string   `json:"timestamp"`
	MessageType    string   `json:"message_type"`
	Content        *string  `json:"content"`
	Metadata       Metadata `json:"metadata"`
	ErrorDetails   *string  `json:"error_details"`
	ResponseTimeMS *int64   `json:"response_time_ms"`
	TokenCount     *int64   `json:"token_count"`
	ModelUsed      *string  `json:"model_used"`
	UserFeedback   *int64   `json:"user_feedback"`
}

func (r EventRecord) Item() EventItem {
	return EventItem{
		AgentID:        r.AgentID,
		Timestamp:      r.Timestamp,
		MessageType:    r.MessageType,
		Content:        r.Content,
		Metadata:       r.Metadata,
		ErrorDetails:   r.ErrorDetails,
		ResponseTimeMS: r.ResponseTimeMS,
		TokenCount:     r.TokenCount,
		ModelUsed:      r.ModelUsed,
		UserFeedback:   r.UserFeedback,
	}
}

type AgentEventResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type EventsResponse struct {
	Items   []EventItem    `json:"items"`
	NextKey map[string]any `json:"next_key"`
}
