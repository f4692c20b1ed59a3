package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxScore is the upper bound of task and quality scores.
const MaxScore = 100

// Completion represents a completions row. Unique per (user, task).
type Completion struct {
	UserID      uuid.UUID `json:"user_id"`
	TaskID      int64     `json:"task_id"`
	Score       *int      `json:"score,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// EffectiveScore returns the recorded score, or MaxScore when the task was unscored.
func (c Completion) EffectiveScore() int {
	if c.Score == nil {
		return MaxScore
	}
	return *c.Score
}

// CompletionParams holds the input for RecordCompletion.
type CompletionParams struct {
	UserID uuid.UUID
	TaskID int64
	Score  *int
}

// CompletionResult is returned by RecordCompletion.
type CompletionResult struct {
	Completion *Completion
	Task       *Task
	IsNew      bool
	// Award is the base XP award for a new completion, nil for duplicates.
	Award *AwardResult
}
