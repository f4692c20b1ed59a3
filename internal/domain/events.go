package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// newUserEvent builds an outbox draft keyed by user so that all of a user's
// events land on the same partition in order.
func newUserEvent(userID uuid.UUID, evtType EventType, payload interface{}) OutboxDraft {
	raw, _ := json.Marshal(payload)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregateUser,
		AggregateID:   userID.String(),
		EventType:     evtType,
		PartitionKey:  userID.String(),
		Headers:       json.RawMessage(`{}`),
		Payload:       raw,
		OccurredAt:    time.Now(),
	}
}

// NewCompletionRecordedEvent is emitted once per new (user, task) completion.
func NewCompletionRecordedEvent(c *Completion) OutboxDraft {
	return newUserEvent(c.UserID, EventCompletionRecorded, c)
}

// NewCurrencyAwardedEvent is emitted for every progression entry.
func NewCurrencyAwardedEvent(e *ProgressionEntry) OutboxDraft {
	return newUserEvent(e.UserID, EventCurrencyAwarded, e)
}

// NewLevelUpEvent is emitted when an XP award crosses a level boundary.
func NewLevelUpEvent(userID uuid.UUID, fromLevel, toLevel int, totalXP int64) OutboxDraft {
	return newUserEvent(userID, EventLevelUp, map[string]interface{}{
		"user_id":    userID.String(),
		"from_level": fromLevel,
		"to_level":   toLevel,
		"total_xp":   totalXP,
	})
}

// NewRewardGrantedEvent is emitted once per inserted grant.
func NewRewardGrantedEvent(g *Grant) OutboxDraft {
	return newUserEvent(g.UserID, EventRewardGranted, g)
}

// NewAttractionCompletedEvent is emitted when an attraction first reaches 100%.
func NewAttractionCompletedEvent(p *AttractionProgress) OutboxDraft {
	return newUserEvent(p.UserID, EventAttractionCompleted, p)
}

// NewTierUnlockedEvent is emitted for each newly unlocked category tier.
func NewTierUnlockedEvent(userID uuid.UUID, category string, tier Tier, pct float64) OutboxDraft {
	return newUserEvent(userID, EventTierUnlocked, map[string]interface{}{
		"user_id":               userID.String(),
		"category":              category,
		"tier":                  tier,
		"completion_percentage": pct,
	})
}
