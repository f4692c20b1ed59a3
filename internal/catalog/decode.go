package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/trailpass/platform/internal/domain"
)

// Decode validates a stored definition and decodes its trigger condition into
// the matching variant. Task ids are de-duplicated in first-seen order.
func Decode(def domain.RewardDefinition) (domain.Reward, error) {
	reward := domain.Reward{RewardDefinition: def}

	if err := domain.ValidateRewardIdentifier(def.RewardIdentifier); err != nil {
		return reward, err
	}
	switch def.RewardType {
	case domain.RewardBadge, domain.RewardTitle, domain.RewardStamp, domain.RewardPhotoCard:
	default:
		return reward, fmt.Errorf("unknown reward type %q", def.RewardType)
	}
	if def.XPAmount < 0 || def.EPAmount < 0 {
		return reward, fmt.Errorf("negative amounts (xp=%d ep=%d)", def.XPAmount, def.EPAmount)
	}

	raw := bytes.TrimSpace(def.TriggerCondition)
	if len(raw) == 0 {
		return reward, fmt.Errorf("empty trigger condition")
	}

	switch def.TriggerType {
	case domain.TriggerTaskSetCompletion:
		var c domain.TaskSetCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return reward, fmt.Errorf("decode task set condition: %w", err)
		}
		if len(c.TaskIDs) == 0 {
			return reward, fmt.Errorf("task set is empty")
		}
		seen := make(map[int64]bool, len(c.TaskIDs))
		ids := make([]int64, 0, len(c.TaskIDs))
		for _, id := range c.TaskIDs {
			if id <= 0 {
				return reward, fmt.Errorf("task id %d is not positive", id)
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		c.TaskIDs = ids
		reward.Condition = c

	case domain.TriggerCategoryTier:
		var c domain.CategoryTierCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return reward, fmt.Errorf("decode category tier condition: %w", err)
		}
		if c.Category == "" {
			return reward, fmt.Errorf("category is required")
		}
		if !c.Tier.Valid() {
			return reward, fmt.Errorf("unknown tier %q", c.Tier)
		}
		reward.Condition = c

	case domain.TriggerAttractionCompletion:
		var c domain.AttractionCompletionCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return reward, fmt.Errorf("decode attraction condition: %w", err)
		}
		if c.AttractionID <= 0 {
			return reward, fmt.Errorf("attraction id %d is not positive", c.AttractionID)
		}
		if c.MinQuality < 0 || c.MinQuality > domain.MaxScore {
			return reward, fmt.Errorf("min_quality %d outside 0..%d", c.MinQuality, domain.MaxScore)
		}
		reward.Condition = c

	default:
		return reward, fmt.Errorf("unknown trigger type %q", def.TriggerType)
	}

	return reward, nil
}
