package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/trailpass/platform/internal/domain"
)

// PutUser inserts a user. Zero ID and CreatedAt are filled in.
func (s *Store) PutUser(u domain.User) domain.User {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock()
	}
	s.mustUpdate(func(st *state) { st.users[u.ID] = u })
	return u
}

// PutCategory inserts or replaces a category with a fixed attraction count.
func (s *Store) PutCategory(name string, totalAttractions int) domain.Category {
	c := domain.Category{Name: name, TotalAttractions: totalAttractions, CreatedAt: s.clock()}
	s.mustUpdate(func(st *state) { st.categories[name] = c })
	return c
}

// PutAttraction inserts an attraction with one task per type and a total task
// count equal to the number of types. An empty category leaves it uncategorized.
func (s *Store) PutAttraction(name, category string, types ...domain.TaskType) (domain.Attraction, []domain.Task) {
	var a domain.Attraction
	var tasks []domain.Task
	s.mustUpdate(func(st *state) {
		a = domain.Attraction{
			ID:         int64(len(st.attractions) + 1),
			Name:       name,
			TotalTasks: len(types),
			CreatedAt:  s.clock(),
		}
		if category != "" {
			cat := category
			a.Category = &cat
		}
		st.attractions[a.ID] = a
		for i, tt := range types {
			t := domain.Task{
				ID:           int64(len(st.tasks) + 1),
				AttractionID: a.ID,
				Title:        fmt.Sprintf("%s task %d", name, i+1),
				Type:         tt,
				CreatedAt:    a.CreatedAt,
			}
			st.tasks[t.ID] = t
			tasks = append(tasks, t)
		}
	})
	return a, tasks
}

// PutReward inserts or replaces a reward definition. The condition is
// marshalled into TriggerCondition and the trigger type taken from it.
func (s *Store) PutReward(def domain.RewardDefinition, cond domain.TriggerCondition) domain.RewardDefinition {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	if cond != nil {
		raw, err := json.Marshal(cond)
		if err != nil {
			panic(fmt.Sprintf("marshal trigger condition: %v", err))
		}
		def.TriggerType = cond.TriggerType()
		def.TriggerCondition = raw
	}
	if def.Version == 0 {
		def.Version = 1
	}
	if def.UpdatedAt.IsZero() {
		def.UpdatedAt = s.clock()
	}
	s.mustUpdate(func(st *state) { st.rewards[def.RewardIdentifier] = def })
	return def
}

// Events returns every outbox row, oldest first.
func (s *Store) Events() []domain.OutboxRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.OutboxRow, 0, len(s.st.outbox))
	for _, rec := range s.st.outbox {
		out = append(out, rec.row)
	}
	return out
}

// EventsOfType returns the outbox rows of one event type.
func (s *Store) EventsOfType(t domain.EventType) []domain.OutboxRow {
	var out []domain.OutboxRow
	for _, e := range s.Events() {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns every progression entry in insertion order.
func (s *Store) Entries() []domain.ProgressionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ProgressionEntry(nil), s.st.entries...)
}

// CorruptTotals overwrites a user's materialized totals without touching the
// ledger, to exercise reconciliation.
func (s *Store) CorruptTotals(userID uuid.UUID, t domain.Totals) {
	s.mustUpdate(func(st *state) {
		row := st.stats[userID]
		row.UserID = userID
		row.Totals = t
		row.UpdatedAt = time.Now().UTC()
		st.stats[userID] = row
	})
}

func (s *Store) mustUpdate(fn func(st *state)) {
	_ = s.update(s, func(st *state) error {
		fn(st)
		return nil
	})
}
