package ingest

import (
	"context"

	"github.com/kon-rad/agent-tracker/internal/dates"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

// AggregateUpdater folds single events into the per-(agent, day) counters.
type AggregateUpdater struct {
	kv storage.KeyValueBackend
}

func NewAggregateUpdater(kv storage.KeyValueBackend) *AggregateUpdater {
	return &AggregateUpdater{kv: kv}
}

// Apply issues exactly one atomic ApplyDelta for the event.
func (u *AggregateUpdater) Apply(ctx context.Context, ev model.Event) error {
	key, delta := DeltaFor(ev)
	return u.kv.ApplyDelta(ctx, key, delta)
}

// DeltaFor computes the aggregate key and increments one event contributes.
func DeltaFor(ev model.Event) (model.AggregateKey, model.AggregateDelta) {
	key := model.AggregateKey{AgentID: ev.AgentID, Date: dates.DateOf(ev.Timestamp)}
	d := model.AggregateDelta{Messages: 1}
	if ev.TokenCount != nil {
		d.Tokens = *ev.TokenCount
	}
	switch ev.MessageType {
	case model.MessageTypeAgentResponse:
		d.Responses = 1
	case model.MessageTypeError:
		d.Errors = 1
	}
	if ev.ResponseTimeMS != nil {
		d.ResponseTime = *ev.ResponseTimeMS
		d.ResponseN = 1
	}
	if ev.UserFeedback != nil {
		d.Feedback = *ev.UserFeedback
		d.FeedbackN = 1
	}
	if uid, ok := ev.Metadata.Lookup(model.MetaUserID); ok {
		d.UserID = uid
	}
	if ev.ModelUsed != nil && *ev.ModelUsed != "" {
		d.Model = *ev.ModelUsed
	}
	return key, d
}
