// Package quest recomputes quest progress from stored activity records.
package quest

import (
	"fmt"

	"github.com/Georgexzy/quest-tracker/internal/core"
	"github.com/Georgexzy/quest-tracker/internal/logging"
	"github.com/Georgexzy/quest-tracker/internal/storage"
)

// Result is the outcome of one reconciliation pass. Broadcasting it to
// connected clients is the coordinator's job, which keeps Recompute testable
// without a live client registry.
type Result struct {
	TotalStepsToday int           `json:"totalStepsToday"`
	UpdatedQuests   []*core.Quest `json:"updatedQuests"`
}

// Reconciler recomputes quest progress from the full current step set.
// Because it always derives from stored records rather than incrementing,
// repeated invocation converges to the same result and tolerates
// out-of-order triggers.
type Reconciler struct {
	quests *storage.QuestStore
	steps  *storage.StepsStore
	clock  core.Clock
	log    *logging.Logger
}

// NewReconciler creates a reconciler over the given stores.
func NewReconciler(quests *storage.QuestStore, steps *storage.StepsStore, clock core.Clock) *Reconciler {
	return &Reconciler{
		quests: quests,
		steps:  steps,
		clock:  clock,
		log:    logging.WithField("component", "quest"),
	}
}

// Recompute sums today's step records and updates every fitness quest with a
// numeric step target. Idempotent; safe to invoke concurrently with itself
// and with ingestion. Storage errors are returned to the caller; background
// triggers log and swallow them.
func (r *Reconciler) Recompute() (*Result, error) {
	today := core.LocalDate(r.clock.Now())

	stepRecords, err := r.steps.QueryByDateRange(today, today)
	if err != nil {
		return nil, fmt.Errorf("query today's steps: %w", err)
	}

	total := 0
	for _, rec := range stepRecords {
		total += rec.Steps
	}

	quests, err := r.quests.GetAll()
	if err != nil {
		return nil, fmt.Errorf("fetch quests: %w", err)
	}

	result := &Result{TotalStepsToday: total, UpdatedQuests: []*core.Quest{}}

	for _, q := range quests {
		// Match first, gate second: quests matching the category/type filter
		// without a numeric step target are skipped untouched. The two checks
		// may diverge for future quest shapes, so they stay separate.
		if q.Category != "fitness" && q.Type != "steps" {
			continue
		}
		target, ok := q.TargetSteps()
		if !ok {
			continue
		}

		q.Progress = min(total, target)
		q.Completed = q.Progress >= target

		if err := r.quests.Update(q); err != nil {
			return nil, fmt.Errorf("update quest %d: %w", q.ID, err)
		}
		result.UpdatedQuests = append(result.UpdatedQuests, q)
	}

	r.log.Debug("recomputed progress: %d steps today, %d quests updated",
		total, len(result.UpdatedQuests))

	return result, nil
}
