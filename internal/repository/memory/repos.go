package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/repository"
)

type userRepo struct{ s *Store }

func (r *userRepo) FindByID(_ context.Context, db repository.DBTX, id uuid.UUID) (*domain.User, error) {
	if err := r.s.fault("users.find"); err != nil {
		return nil, err
	}
	var out *domain.User
	err := r.s.view(db, func(st *state) error {
		if u, ok := st.users[id]; ok {
			out = &u
		}
		return nil
	})
	return out, err
}

func (r *userRepo) Create(_ context.Context, db repository.DBTX, user *domain.User) error {
	if err := r.s.fault("users.create"); err != nil {
		return err
	}
	return r.s.update(db, func(st *state) error {
		if _, ok := st.users[user.ID]; ok {
			return nil
		}
		u := *user
		if u.CreatedAt.IsZero() {
			u.CreatedAt = r.s.clock()
		}
		st.users[u.ID] = u
		return nil
	})
}

type catalogRepo struct{ s *Store }

func (r *catalogRepo) FindTask(_ context.Context, db repository.DBTX, id int64) (*domain.Task, error) {
	if err := r.s.fault("catalog.task"); err != nil {
		return nil, err
	}
	var out *domain.Task
	err := r.s.view(db, func(st *state) error {
		if t, ok := st.tasks[id]; ok {
			out = &t
		}
		return nil
	})
	return out, err
}

func (r *catalogRepo) FindAttraction(_ context.Context, db repository.DBTX, id int64) (*domain.Attraction, error) {
	if err := r.s.fault("catalog.attraction"); err != nil {
		return nil, err
	}
	var out *domain.Attraction
	err := r.s.view(db, func(st *state) error {
		if a, ok := st.attractions[id]; ok {
			out = &a
		}
		return nil
	})
	return out, err
}

func (r *catalogRepo) FindCategory(_ context.Context, db repository.DBTX, name string) (*domain.Category, error) {
	if err := r.s.fault("catalog.category"); err != nil {
		return nil, err
	}
	var out *domain.Category
	err := r.s.view(db, func(st *state) error {
		if c, ok := st.categories[name]; ok {
			out = &c
		}
		return nil
	})
	return out, err
}

func (r *catalogRepo) ListCategories(_ context.Context, db repository.DBTX) ([]domain.Category, error) {
	if err := r.s.fault("catalog.categories"); err != nil {
		return nil, err
	}
	var out []domain.Category
	err := r.s.view(db, func(st *state) error {
		for _, c := range st.categories {
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (r *catalogRepo) ListAttractionsByCategory(_ context.Context, db repository.DBTX, category string) ([]domain.Attraction, error) {
	var out []domain.Attraction
	err := r.s.view(db, func(st *state) error {
		for _, a := range st.attractions {
			if a.Category != nil && *a.Category == category {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type completionRepo struct{ s *Store }

func (r *completionRepo) Insert(_ context.Context, db repository.DBTX, params domain.CompletionParams) (*domain.Completion, bool, error) {
	if err := r.s.fault("completions.insert"); err != nil {
		return nil, false, err
	}
	var out domain.Completion
	inserted := false
	err := r.s.update(db, func(st *state) error {
		if _, ok := st.users[params.UserID]; !ok {
			return fmt.Errorf("insert completion: user %s violates foreign key", params.UserID)
		}
		if _, ok := st.tasks[params.TaskID]; !ok {
			return fmt.Errorf("insert completion: task %d violates foreign key", params.TaskID)
		}
		if params.Score != nil && (*params.Score < 0 || *params.Score > domain.MaxScore) {
			return fmt.Errorf("insert completion: score %d violates check constraint", *params.Score)
		}
		key := completionKey{params.UserID, params.TaskID}
		if existing, ok := st.completions[key]; ok {
			out = existing
			return nil
		}
		out = domain.Completion{
			UserID:      params.UserID,
			TaskID:      params.TaskID,
			Score:       copyInt(params.Score),
			CompletedAt: r.s.clock(),
		}
		st.completions[key] = out
		inserted = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &out, inserted, nil
}

func (r *completionRepo) Find(_ context.Context, db repository.DBTX, userID uuid.UUID, taskID int64) (*domain.Completion, error) {
	var out *domain.Completion
	err := r.s.view(db, func(st *state) error {
		if c, ok := st.completions[completionKey{userID, taskID}]; ok {
			out = &c
		}
		return nil
	})
	return out, err
}

func (r *completionRepo) CountCompletedInSet(_ context.Context, db repository.DBTX, userID uuid.UUID, taskIDs []int64) (int, error) {
	if err := r.s.fault("completions.count"); err != nil {
		return 0, err
	}
	n := 0
	err := r.s.view(db, func(st *state) error {
		seen := map[int64]bool{}
		for _, id := range taskIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			if _, ok := st.completions[completionKey{userID, id}]; ok {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *completionRepo) ListByAttraction(_ context.Context, db repository.DBTX, userID uuid.UUID, attractionID int64) ([]domain.Completion, error) {
	var out []domain.Completion
	err := r.s.view(db, func(st *state) error {
		for k, c := range st.completions {
			if k.user != userID {
				continue
			}
			if t, ok := st.tasks[k.task]; ok && t.AttractionID == attractionID {
				out = append(out, c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, err
}

func (r *completionRepo) CountCompletedAttractions(_ context.Context, db repository.DBTX, userID uuid.UUID, category string) (int, error) {
	if err := r.s.fault("completions.count_attractions"); err != nil {
		return 0, err
	}
	n := 0
	err := r.s.view(db, func(st *state) error {
		done := map[int64]int{}
		for k := range st.completions {
			if k.user != userID {
				continue
			}
			if t, ok := st.tasks[k.task]; ok {
				done[t.AttractionID]++
			}
		}
		for _, a := range st.attractions {
			if a.Category == nil || *a.Category != category || a.TotalTasks <= 0 {
				continue
			}
			if done[a.ID] >= a.TotalTasks {
				n++
			}
		}
		return nil
	})
	return n, err
}

type rewardRepo struct{ s *Store }

func (r *rewardRepo) ListActive(_ context.Context, db repository.DBTX) ([]domain.RewardDefinition, error) {
	if err := r.s.fault("rewards.list"); err != nil {
		return nil, err
	}
	var out []domain.RewardDefinition
	err := r.s.view(db, func(st *state) error {
		for _, d := range st.rewards {
			if d.IsActive {
				out = append(out, d)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RewardIdentifier < out[j].RewardIdentifier })
	return out, err
}

func (r *rewardRepo) FindByIdentifier(_ context.Context, db repository.DBTX, identifier string) (*domain.RewardDefinition, error) {
	var out *domain.RewardDefinition
	err := r.s.view(db, func(st *state) error {
		if d, ok := st.rewards[identifier]; ok {
			out = &d
		}
		return nil
	})
	return out, err
}

type grantRepo struct{ s *Store }

func (r *grantRepo) Exists(_ context.Context, db repository.DBTX, userID uuid.UUID, identifier string) (bool, error) {
	if err := r.s.fault("grants.exists", identifier); err != nil {
		return false, err
	}
	found := false
	err := r.s.view(db, func(st *state) error {
		_, found = st.grants[grantKey{userID, identifier}]
		return nil
	})
	return found, err
}

func (r *grantRepo) Insert(_ context.Context, db repository.DBTX, params domain.GrantParams) (*domain.Grant, error) {
	if err := r.s.fault("grants.insert", params.RewardIdentifier); err != nil {
		return nil, err
	}
	var out *domain.Grant
	err := r.s.update(db, func(st *state) error {
		if _, ok := st.users[params.UserID]; !ok {
			return fmt.Errorf("insert grant: user %s violates foreign key", params.UserID)
		}
		key := grantKey{params.UserID, params.RewardIdentifier}
		if _, ok := st.grants[key]; ok {
			return nil
		}
		meta := params.Metadata
		if len(meta) == 0 {
			meta = json.RawMessage(`{}`)
		}
		g := domain.Grant{
			ID:               uuid.New(),
			UserID:           params.UserID,
			RewardType:       params.RewardType,
			RewardIdentifier: params.RewardIdentifier,
			RewardName:       params.Name,
			RewardDesc:       params.Description,
			DefinitionID:     params.DefinitionID,
			Metadata:         append(json.RawMessage(nil), meta...),
			EarnedAt:         r.s.clock(),
		}
		st.grants[key] = g
		out = &g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *grantRepo) ListSince(_ context.Context, db repository.DBTX, userID uuid.UUID, since time.Time) ([]domain.Grant, error) {
	if err := r.s.fault("grants.list"); err != nil {
		return nil, err
	}
	var out []domain.Grant
	err := r.s.view(db, func(st *state) error {
		for k, g := range st.grants {
			if k.user == userID && !g.EarnedAt.Before(since) {
				out = append(out, g)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.After(out[j].EarnedAt)
		}
		return out[i].RewardIdentifier < out[j].RewardIdentifier
	})
	return out, err
}

func (r *grantRepo) CountByType(_ context.Context, db repository.DBTX, userID uuid.UUID) (domain.GrantCounts, error) {
	var counts domain.GrantCounts
	if err := r.s.fault("grants.count"); err != nil {
		return counts, err
	}
	err := r.s.view(db, func(st *state) error {
		for k, g := range st.grants {
			if k.user == userID {
				counts.Add(g.RewardType, 1)
			}
		}
		return nil
	})
	return counts, err
}

type progressionRepo struct{ s *Store }

func (r *progressionRepo) FindBySource(_ context.Context, db repository.DBTX, key domain.SourceKey) (*domain.ProgressionEntry, error) {
	var out *domain.ProgressionEntry
	err := r.s.view(db, func(st *state) error {
		for i := range st.entries {
			if sourceKeyOf(st.entries[i]) == key {
				e := st.entries[i]
				out = &e
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *progressionRepo) Insert(_ context.Context, db repository.DBTX, params domain.AwardParams, totalAfter int64) (*domain.ProgressionEntry, error) {
	if err := r.s.fault("progression.insert", string(params.SourceType)+":"+params.SourceID); err != nil {
		return nil, err
	}
	var out domain.ProgressionEntry
	err := r.s.update(db, func(st *state) error {
		if params.Amount < 0 || (params.Amount == 0 && params.SourceType != domain.SourceReconcile) {
			return fmt.Errorf("insert progression entry: amount %d violates check constraint", params.Amount)
		}
		key := params.Key()
		for _, e := range st.entries {
			if sourceKeyOf(e) == key {
				return fmt.Errorf("insert progression entry: duplicate key value violates unique constraint %q", "uq_progression_source")
			}
		}
		out = domain.ProgressionEntry{
			ID:         uuid.New(),
			UserID:     params.UserID,
			Currency:   params.Currency,
			Amount:     params.Amount,
			TotalAfter: totalAfter,
			Reason:     params.Reason,
			SourceType: params.SourceType,
			SourceID:   params.SourceID,
			CreatedAt:  r.s.clock(),
		}
		st.entries = append(st.entries, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *progressionRepo) SumByUser(_ context.Context, db repository.DBTX, userID uuid.UUID) (domain.Totals, error) {
	var t domain.Totals
	err := r.s.view(db, func(st *state) error {
		for _, e := range st.entries {
			if e.UserID != userID {
				continue
			}
			d := e.Currency.Delta(e.Amount)
			t.TotalXP += d.TotalXP
			t.TotalEP += d.TotalEP
		}
		return nil
	})
	return t, err
}

func (r *progressionRepo) LastByUser(_ context.Context, db repository.DBTX, userID uuid.UUID, currency domain.CurrencyKind) (*domain.ProgressionEntry, error) {
	var out *domain.ProgressionEntry
	err := r.s.view(db, func(st *state) error {
		for i := range st.entries {
			e := st.entries[i]
			if e.UserID != userID || e.Currency != currency {
				continue
			}
			out = &e
		}
		return nil
	})
	return out, err
}

func sourceKeyOf(e domain.ProgressionEntry) domain.SourceKey {
	return domain.SourceKey{UserID: e.UserID, Currency: e.Currency, SourceType: e.SourceType, SourceID: e.SourceID}
}

type statsRepo struct{ s *Store }

func (r *statsRepo) LockForUpdate(_ context.Context, db repository.DBTX, userID uuid.UUID) (*domain.UserStats, error) {
	if err := r.s.fault("stats.lock"); err != nil {
		return nil, err
	}
	var out *domain.UserStats
	err := r.s.update(db, func(st *state) error {
		if _, ok := st.users[userID]; !ok {
			return nil
		}
		row, ok := st.stats[userID]
		if !ok {
			row = domain.UserStats{UserID: userID, UpdatedAt: r.s.clock()}
			st.stats[userID] = row
		}
		out = &row
		return nil
	})
	return out, err
}

func (r *statsRepo) Find(_ context.Context, db repository.DBTX, userID uuid.UUID) (*domain.UserStats, error) {
	if err := r.s.fault("stats.find"); err != nil {
		return nil, err
	}
	var out *domain.UserStats
	err := r.s.view(db, func(st *state) error {
		if row, ok := st.stats[userID]; ok {
			out = &row
		}
		return nil
	})
	return out, err
}

func (r *statsRepo) AddTotals(_ context.Context, db repository.DBTX, userID uuid.UUID, delta domain.Totals) (*domain.UserStats, error) {
	if err := r.s.fault("stats.add"); err != nil {
		return nil, err
	}
	var out domain.UserStats
	err := r.s.update(db, func(st *state) error {
		row, ok := st.stats[userID]
		if !ok {
			return fmt.Errorf("update user stats: no stats row for %s", userID)
		}
		row.TotalXP += delta.TotalXP
		row.TotalEP += delta.TotalEP
		if row.TotalXP < 0 || row.TotalEP < 0 {
			return fmt.Errorf("update user stats: negative total violates check constraint")
		}
		row.UpdatedAt = r.s.clock()
		st.stats[userID] = row
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *statsRepo) SetTotals(_ context.Context, db repository.DBTX, userID uuid.UUID, totals domain.Totals) error {
	if err := r.s.fault("stats.set"); err != nil {
		return err
	}
	return r.s.update(db, func(st *state) error {
		row, ok := st.stats[userID]
		if !ok {
			return fmt.Errorf("set user stats: no stats row for %s", userID)
		}
		row.Totals = totals
		row.UpdatedAt = r.s.clock()
		st.stats[userID] = row
		return nil
	})
}

func (r *statsRepo) ListUserIDs(_ context.Context, db repository.DBTX, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.s.view(db, func(st *state) error {
		for id := range st.stats {
			if bytes.Compare(id[:], after[:]) > 0 {
				ids = append(ids, id)
			}
		}
		return nil
	})
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, err
}

func (r *statsRepo) Leaderboard(_ context.Context, db repository.DBTX, filter domain.LeaderboardFilter, limit int) ([]domain.LeaderboardEntry, error) {
	if err := r.s.fault("stats.leaderboard"); err != nil {
		return nil, err
	}
	var out []domain.LeaderboardEntry
	err := r.s.view(db, func(st *state) error {
		for id, row := range st.stats {
			u, ok := st.users[id]
			if !ok {
				continue
			}
			if filter.Category != "" {
				if _, ok := st.categoryProgress[categoryKey{id, filter.Category}]; !ok {
					continue
				}
			}
			out = append(out, domain.LeaderboardEntry{
				UserID:      id,
				DisplayName: u.DisplayName,
				TotalXP:     row.TotalXP,
				JoinedAt:    u.CreatedAt,
			})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TotalXP != b.TotalXP {
			return a.TotalXP > b.TotalXP
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return bytes.Compare(a.UserID[:], b.UserID[:]) < 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, err
}

type categoryProgressRepo struct{ s *Store }

func (r *categoryProgressRepo) Find(_ context.Context, db repository.DBTX, userID uuid.UUID, category string) (*domain.CategoryProgress, error) {
	var out *domain.CategoryProgress
	err := r.s.view(db, func(st *state) error {
		if p, ok := st.categoryProgress[categoryKey{userID, category}]; ok {
			out = &p
		}
		return nil
	})
	return out, err
}

func (r *categoryProgressRepo) Upsert(_ context.Context, db repository.DBTX, p *domain.CategoryProgress) (*domain.CategoryProgress, error) {
	if err := r.s.fault("category_progress.upsert", p.Category); err != nil {
		return nil, err
	}
	var out domain.CategoryProgress
	err := r.s.update(db, func(st *state) error {
		key := categoryKey{p.UserID, p.Category}
		next := *p
		next.CompletionPercentage = round2(p.CompletionPercentage)
		if prev, ok := st.categoryProgress[key]; ok {
			next.TierFlags = prev.TierFlags.Merge(p.TierFlags)
		}
		next.UpdatedAt = r.s.clock()
		st.categoryProgress[key] = next
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *categoryProgressRepo) ListByUser(_ context.Context, db repository.DBTX, userID uuid.UUID) ([]domain.CategoryProgress, error) {
	if err := r.s.fault("category_progress.list"); err != nil {
		return nil, err
	}
	var out []domain.CategoryProgress
	err := r.s.view(db, func(st *state) error {
		for k, p := range st.categoryProgress {
			if k.user == userID {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, err
}

type attractionProgressRepo struct{ s *Store }

func (r *attractionProgressRepo) Find(_ context.Context, db repository.DBTX, userID uuid.UUID, attractionID int64) (*domain.AttractionProgress, error) {
	var out *domain.AttractionProgress
	err := r.s.view(db, func(st *state) error {
		if p, ok := st.attractionProgress[attractionKey{userID, attractionID}]; ok {
			out = &p
		}
		return nil
	})
	return out, err
}

func (r *attractionProgressRepo) Upsert(_ context.Context, db repository.DBTX, p *domain.AttractionProgress) error {
	if err := r.s.fault("attraction_progress.upsert"); err != nil {
		return err
	}
	return r.s.update(db, func(st *state) error {
		key := attractionKey{p.UserID, p.AttractionID}
		next := *p
		next.ProgressPercentage = round2(p.ProgressPercentage)
		next.QualityScore = copyInt(p.QualityScore)
		if prev, ok := st.attractionProgress[key]; ok {
			if prev.QualityScore != nil {
				next.QualityScore = prev.QualityScore
			}
			if prev.CompletedAt != nil {
				next.CompletedAt = prev.CompletedAt
			}
		}
		next.UpdatedAt = r.s.clock()
		st.attractionProgress[key] = next
		return nil
	})
}

type outboxRepo struct{ s *Store }

func (r *outboxRepo) Insert(_ context.Context, db repository.DBTX, draft domain.OutboxDraft) error {
	if err := r.s.fault("outbox.insert", string(draft.EventType)); err != nil {
		return err
	}
	return r.s.update(db, func(st *state) error {
		st.outbox = append(st.outbox, outboxRecord{row: domain.OutboxRow{SeqID: st.nextOutboxID, OutboxDraft: draft}})
		st.nextOutboxID++
		return nil
	})
}

func (r *outboxRepo) FetchUnpublished(_ context.Context, db repository.DBTX, limit int) ([]domain.OutboxRow, error) {
	if err := r.s.fault("outbox.fetch"); err != nil {
		return nil, err
	}
	var out []domain.OutboxRow
	err := r.s.view(db, func(st *state) error {
		for _, rec := range st.outbox {
			if len(out) >= limit {
				break
			}
			if rec.publishedAt == nil {
				out = append(out, rec.row)
			}
		}
		return nil
	})
	return out, err
}

func (r *outboxRepo) MarkPublished(_ context.Context, db repository.DBTX, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.s.fault("outbox.mark"); err != nil {
		return err
	}
	marked := make(map[int64]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}
	return r.s.update(db, func(st *state) error {
		now := r.s.clock()
		for i := range st.outbox {
			if marked[st.outbox[i].row.SeqID] {
				st.outbox[i].publishedAt = &now
			}
		}
		return nil
	})
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
