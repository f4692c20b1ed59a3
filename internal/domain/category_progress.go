package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Tier unlock thresholds, in whole percent.
const (
	BronzeThreshold = 33
	SilverThreshold = 66
	GoldThreshold   = 100
)

// CompletionPercentage returns 100*completed/total rounded to two decimals, or 0 if total is 0.
func CompletionPercentage(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	pct := 100 * float64(completed) / float64(total)
	return math.Round(pct*100) / 100
}

// TierFlags holds the three monotonic unlock booleans.
type TierFlags struct {
	Bronze bool `json:"bronze_unlocked"`
	Silver bool `json:"silver_unlocked"`
	Gold   bool `json:"gold_unlocked"`
}

// TiersFor evaluates the thresholds exactly as 100*completed >= threshold*total,
// so 1 of 3 (33.33%) unlocks bronze and 2 of 3 (66.67%) unlocks silver.
func TiersFor(completed, total int) TierFlags {
	if total <= 0 {
		return TierFlags{}
	}
	reached := func(threshold int) bool { return 100*completed >= threshold*total }
	return TierFlags{
		Bronze: reached(BronzeThreshold),
		Silver: reached(SilverThreshold),
		Gold:   reached(GoldThreshold),
	}
}

// Merge ORs the flags; an unlocked tier never reverts.
func (f TierFlags) Merge(o TierFlags) TierFlags {
	return TierFlags{
		Bronze: f.Bronze || o.Bronze,
		Silver: f.Silver || o.Silver,
		Gold:   f.Gold || o.Gold,
	}
}

// NewlyUnlocked returns the tiers set in next but not in f, lowest first.
func (f TierFlags) NewlyUnlocked(next TierFlags) []Tier {
	var out []Tier
	if next.Bronze && !f.Bronze {
		out = append(out, TierBronze)
	}
	if next.Silver && !f.Silver {
		out = append(out, TierSilver)
	}
	if next.Gold && !f.Gold {
		out = append(out, TierGold)
	}
	return out
}

// CategoryProgress represents a category_progress row.
type CategoryProgress struct {
	UserID               uuid.UUID `json:"-"`
	Category             string    `json:"category"`
	CompletedAttractions int       `json:"completed_attractions"`
	TotalAttractions     int       `json:"total_attractions"`
	CompletionPercentage float64   `json:"completion_percentage"`
	TierFlags
	UpdatedAt time.Time `json:"-"`
}

// AttractionProgress represents an attraction_progress row. CompletedAt is
// set exactly once, when progress first reaches 100%.
type AttractionProgress struct {
	UserID             uuid.UUID  `json:"user_id"`
	AttractionID       int64      `json:"attraction_id"`
	CompletedTasks     int        `json:"completed_tasks"`
	TotalTasks         int        `json:"total_tasks"`
	ProgressPercentage float64    `json:"progress_percentage"`
	QualityScore       *int       `json:"quality_score,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Completed reports whether the attraction completion has been processed.
func (p *AttractionProgress) Completed() bool { return p != nil && p.CompletedAt != nil }

// QualityScore averages per-task scores; unscored completions count as MaxScore.
// The result is rounded to the nearest integer. An empty set scores MaxScore.
func QualityScore(completions []Completion) int {
	if len(completions) == 0 {
		return MaxScore
	}
	sum := 0
	for _, c := range completions {
		sum += c.EffectiveScore()
	}
	return int(math.Round(float64(sum) / float64(len(completions))))
}

// QualityThresholds maps a quality score to an artifact tier.
type QualityThresholds struct {
	GoldMin   int
	SilverMin int
}

// DefaultQualityThresholds returns gold at 90 and silver at 70.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{GoldMin: 90, SilverMin: 70}
}

// TierFor returns the artifact tier for a quality score.
func (q QualityThresholds) TierFor(score int) Tier {
	switch {
	case score >= q.GoldMin:
		return TierGold
	case score >= q.SilverMin:
		return TierSilver
	default:
		return TierBronze
	}
}
