package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskType enumerates the kinds of location-bound tasks.
type TaskType string

const (
	TaskQuiz             TaskType = "quiz"
	TaskCheckin          TaskType = "checkin"
	TaskCountConfirm     TaskType = "count_confirm"
	TaskDirection        TaskType = "direction"
	TaskRiddle           TaskType = "riddle"
	TaskMemoryRecall     TaskType = "memory_recall"
	TaskObservationMatch TaskType = "observation_match"
	TaskRouteCompletion  TaskType = "route_completion"
	TaskTimeBased        TaskType = "time_based"
)

// DefaultTaskXP is awarded for task types missing from TaskBaseXP.
const DefaultTaskXP int64 = 15

// PerfectQuizBonusXP is added when a quiz is answered with a score of 100.
const PerfectQuizBonusXP int64 = 10

// TaskBaseXP maps each task type to the experience granted on first completion.
var TaskBaseXP = map[TaskType]int64{
	TaskQuiz:             25,
	TaskCheckin:          15,
	TaskCountConfirm:     20,
	TaskDirection:        20,
	TaskRiddle:           30,
	TaskMemoryRecall:     25,
	TaskObservationMatch: 25,
	TaskRouteCompletion:  35,
	TaskTimeBased:        20,
}

// BaseXPFor returns the XP for completing a task of the given type with an optional score.
func BaseXPFor(t TaskType, score *int) int64 {
	xp, ok := TaskBaseXP[t]
	if !ok {
		xp = DefaultTaskXP
	}
	if t == TaskQuiz && score != nil && *score == MaxScore {
		xp += PerfectQuizBonusXP
	}
	return xp
}

// Category is a thematic grouping of attractions (e.g. "temples").
type Category struct {
	Name             string    `json:"name"`
	TotalAttractions int       `json:"total_attractions"`
	CreatedAt        time.Time `json:"created_at"`
}

// Attraction is a point of interest holding a fixed set of tasks.
type Attraction struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Category   *string   `json:"category,omitempty"`
	TotalTasks int       `json:"total_tasks"`
	CreatedAt  time.Time `json:"created_at"`
}

// Task is a single location-bound activity belonging to one attraction.
type Task struct {
	ID           int64     `json:"id"`
	AttractionID int64     `json:"attraction_id"`
	Title        string    `json:"title"`
	Type         TaskType  `json:"type"`
	CreatedAt    time.Time `json:"created_at"`
}

// User is the identity the engine tracks progression for. Registration is
// owned by the auth collaborator; the engine only reads it.
type User struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}
