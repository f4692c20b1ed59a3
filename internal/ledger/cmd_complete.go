package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/trailpass/platform/internal/domain"
	"github.com/trailpass/platform/internal/repository"
)

// RecordCompletion appends a (user, task) completion and, when it is new,
// credits the task's base XP. A duplicate completion returns IsNew=false and
// changes nothing.
func (e *Engine) RecordCompletion(ctx context.Context, tx repository.DBTX, params domain.CompletionParams) (*domain.CompletionResult, error) {
	if err := domain.ValidateScore(params.Score); err != nil {
		return nil, err
	}

	// Lock
	if _, err := e.LockUser(ctx, tx, params.UserID); err != nil {
		return nil, fmt.Errorf("record completion: %w", err)
	}

	task, err := e.catalog.FindTask(ctx, tx, params.TaskID)
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	if task == nil {
		return nil, domain.ErrNotFound("task", strconv.FormatInt(params.TaskID, 10))
	}

	// Idempotency: the (user, task) key
	c, inserted, err := e.completions.Insert(ctx, tx, params)
	if err != nil {
		return nil, fmt.Errorf("insert completion: %w", err)
	}
	result := &domain.CompletionResult{Completion: c, Task: task, IsNew: inserted}
	if !inserted {
		return result, nil
	}

	if err := e.outbox.Insert(ctx, tx, domain.NewCompletionRecordedEvent(c)); err != nil {
		return nil, fmt.Errorf("insert outbox event: %w", err)
	}

	award, err := e.AwardCurrency(ctx, tx, domain.AwardParams{
		UserID:     params.UserID,
		Currency:   domain.CurrencyXP,
		Amount:     domain.BaseXPFor(task.Type, c.Score),
		Reason:     "task completion: " + task.Title,
		SourceType: domain.SourceTask,
		SourceID:   strconv.FormatInt(task.ID, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("award base xp: %w", err)
	}
	result.Award = award
	return result, nil
}
