package lifecycle

import (
	"context"
	"errors"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"github.com/gofiber/fiber/v2/log"
)

// sweepBatchSize bounds one selection pass so an interrupted sweep leaves
// resumable work behind instead of a half-processed giant batch.
const sweepBatchSize = 200

// SweepResult summarizes one trial-expiry pass.
type SweepResult struct {
	Examined  int
	Activated int
	Cancelled int
	Skipped   int
}

// SweepExpiredTrials transitions every subscription whose trial ended before
// the injected clock's now. Customers move to the free tier when one exists,
// otherwise the subscription is cancelled. The sweep is re-entrant: rows
// already transitioned by an earlier, interrupted run are no longer selected,
// and the legality check refuses double transitions.
func (m *Machine) SweepExpiredTrials(ctx context.Context) (SweepResult, error) {
	now := m.clock.Now()
	var result SweepResult

	freePlan, err := m.plans.FreePlan()
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return result, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		batch, err := m.store.ExpiredTrials(now, sweepBatchSize)
		if err != nil {
			return result, err
		}
		if len(batch) == 0 {
			return result, nil
		}

		progressed := false
		for i := range batch {
			sub := &batch[i]
			result.Examined++

			var applyErr error
			if freePlan != nil {
				applyErr = m.apply(sub, models.SubscriptionStatusActive, TriggerTrialExpired, models.TransitionActorSystem,
					"trial expired, moved to free tier", func(s *models.Subscription) {
						planID := freePlan.ID
						s.PlanID = &planID
						s.TrialEnd = nil
						s.CurrentPeriodStart = now
						s.CurrentPeriodEnd = now.AddDate(0, upgradePeriodMonths, 0)
					})
				if applyErr == nil {
					result.Activated++
				}
			} else {
				applyErr = m.apply(sub, models.SubscriptionStatusCancelled, TriggerTrialExpired, models.TransitionActorSystem,
					"trial expired, no free tier available", nil)
				if applyErr == nil {
					result.Cancelled++
				}
			}

			if applyErr != nil {
				result.Skipped++
				log.Warnf("trial sweep: subscription %d skipped: %v", sub.ID, applyErr)
				continue
			}
			progressed = true
		}

		// Every row in the batch failed to move; bail instead of spinning on
		// the same selection forever.
		if !progressed {
			return result, nil
		}
		if len(batch) < sweepBatchSize {
			return result, nil
		}
	}
}
