package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventCompletionRecorded  EventType = "progression.completion.recorded"
	EventCurrencyAwarded     EventType = "progression.currency.awarded"
	EventLevelUp             EventType = "progression.level_up"
	EventRewardGranted       EventType = "progression.reward.granted"
	EventAttractionCompleted EventType = "progression.attraction.completed"
	EventTierUnlocked        EventType = "progression.category.tier_unlocked"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateUser     AggregateType = "user"
	AggregateCategory AggregateType = "category"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// OutboxRow is an OutboxDraft with its sequence id, as read by the relay.
type OutboxRow struct {
	SeqID int64
	OutboxDraft
}
