package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RewardType enumerates grantable reward kinds.
type RewardType string

const (
	RewardBadge     RewardType = "badge"
	RewardTitle     RewardType = "title"
	RewardStamp     RewardType = "stamp"
	RewardPhotoCard RewardType = "photo_card"
)

// TriggerType identifies the shape of a reward's trigger condition.
type TriggerType string

const (
	TriggerTaskSetCompletion    TriggerType = "task_set_completion"
	TriggerCategoryTier         TriggerType = "category_tier"
	TriggerAttractionCompletion TriggerType = "attraction_completion"
)

// Tier is one of the category unlock levels.
type Tier string

const (
	TierBronze Tier = "bronze"
	TierSilver Tier = "silver"
	TierGold   Tier = "gold"
)

// Tiers lists tiers from lowest to highest.
var Tiers = []Tier{TierBronze, TierSilver, TierGold}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierBronze || t == TierSilver || t == TierGold
}

// RewardDefinition represents a reward_definitions row as stored.
// TriggerCondition is raw; the catalog decodes it into a TriggerCondition variant.
type RewardDefinition struct {
	ID               uuid.UUID       `json:"id"`
	RewardType       RewardType      `json:"reward_type"`
	RewardIdentifier string          `json:"reward_identifier"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	TriggerType      TriggerType     `json:"trigger_type"`
	TriggerCondition json.RawMessage `json:"trigger_condition"`
	XPAmount         int64           `json:"xp_amount"`
	EPAmount         int64           `json:"ep_amount"`
	IsActive         bool            `json:"is_active"`
	Version          int             `json:"version"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TriggerCondition is the decoded, typed payload of a reward trigger.
// Exactly one variant exists per TriggerType.
type TriggerCondition interface {
	TriggerType() TriggerType
}

// TaskSetCondition fires once every task in TaskIDs is completed.
type TaskSetCondition struct {
	TaskIDs []int64 `json:"task_ids"`
}

func (TaskSetCondition) TriggerType() TriggerType { return TriggerTaskSetCompletion }

// Contains reports whether taskID is a member of the set.
func (c TaskSetCondition) Contains(taskID int64) bool {
	for _, id := range c.TaskIDs {
		if id == taskID {
			return true
		}
	}
	return false
}

// CategoryTierCondition fires when Tier is unlocked in Category.
type CategoryTierCondition struct {
	Category string `json:"category"`
	Tier     Tier   `json:"tier"`
}

func (CategoryTierCondition) TriggerType() TriggerType { return TriggerCategoryTier }

// AttractionCompletionCondition fires when the attraction is fully completed
// with a quality score of at least MinQuality.
type AttractionCompletionCondition struct {
	AttractionID int64 `json:"attraction_id"`
	MinQuality   int   `json:"min_quality"`
}

func (AttractionCompletionCondition) TriggerType() TriggerType {
	return TriggerAttractionCompletion
}

// Reward is a catalog entry with its decoded trigger.
type Reward struct {
	RewardDefinition
	Condition TriggerCondition `json:"-"`
}
