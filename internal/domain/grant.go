package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Grant represents a grants row. Unique per (user, reward_identifier); the
// name/description/metadata are a snapshot taken at grant time.
type Grant struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	RewardType       RewardType      `json:"reward_type"`
	RewardIdentifier string          `json:"reward_identifier"`
	RewardName       string          `json:"reward_name"`
	RewardDesc       string          `json:"reward_description"`
	DefinitionID     *uuid.UUID      `json:"definition_id,omitempty"`
	Metadata         json.RawMessage `json:"metadata"`
	EarnedAt         time.Time       `json:"earned_date"`
}

// GrantParams holds the input for GrantReward.
type GrantParams struct {
	UserID           uuid.UUID
	RewardType       RewardType
	RewardIdentifier string
	Name             string
	Description      string
	DefinitionID     *uuid.UUID
	Metadata         json.RawMessage
}

// GrantCounts holds per-type grant totals for a user.
type GrantCounts struct {
	Badges     int `json:"total_badges"`
	Titles     int `json:"total_titles"`
	Stamps     int `json:"total_stamps"`
	PhotoCards int `json:"total_photo_cards"`
}

// Add increments the counter for the given reward type.
func (c *GrantCounts) Add(t RewardType, n int) {
	switch t {
	case RewardBadge:
		c.Badges += n
	case RewardTitle:
		c.Titles += n
	case RewardStamp:
		c.Stamps += n
	case RewardPhotoCard:
		c.PhotoCards += n
	}
}
