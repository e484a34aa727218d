package lifecycle

import (
	"context"
	"time"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
)

// upgradePeriodMonths is the fixed billing-period length applied when an
// upgrade supplies an effective date, regardless of the plan's configured
// billing interval. Kept as a named constant so the behavior for annual
// plans can be revisited deliberately.
const upgradePeriodMonths = 1

// Trigger names recorded on the audit trail.
const (
	TriggerSignup             = "signup"
	TriggerTrialExpired       = "trial_expired"
	TriggerConvertToPaid      = "convert_to_paid"
	TriggerCancel             = "cancel"
	TriggerCancelAtPeriodEnd  = "cancel_at_period_end"
	TriggerPaymentFailed      = "payment_failed"
	TriggerPaymentRecovered   = "payment_recovered"
	TriggerProcessorSuspended = "processor_suspended"
	TriggerUpgrade            = "upgrade"
	TriggerProcessorSync      = "processor_sync"
)

// Clock supplies the current time. Injected so sweeps and transitions stay
// deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Store is the subscription persistence the state machine drives. The
// status write and the audit row must land in a single transaction.
type Store interface {
	GetSubscription(id uint) (*models.Subscription, error)
	ApplyTransition(sub *models.Subscription, tr *models.SubscriptionTransition) error
	ExpiredTrials(now time.Time, limit int) ([]models.Subscription, error)
}

// PlanSource resolves plans during signup, upgrade and trial expiry.
type PlanSource interface {
	GetByID(id uint) (*models.Plan, error)
	FreePlan() (*models.Plan, error)
}

// Machine governs subscription status transitions. Every applied transition
// is recorded with its triggering actor for audit purposes.
type Machine struct {
	store Store
	plans PlanSource
	clock Clock
}

// NewMachine creates a lifecycle machine. A nil clock falls back to the
// system clock.
func NewMachine(store Store, plans PlanSource, clock Clock) *Machine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Machine{store: store, plans: plans, clock: clock}
}

// InitialStatus returns the status a fresh signup starts in.
func InitialStatus(trialDays int) string {
	if trialDays > 0 {
		return models.SubscriptionStatusTrial
	}
	return models.SubscriptionStatusActive
}

// apply validates the edge, mutates the subscription and persists status
// plus audit row atomically.
func (m *Machine) apply(sub *models.Subscription, to, trigger, actor, reason string, mutate func(*models.Subscription)) error {
	from := sub.Status
	if !CanTransition(from, to) {
		return &apperrors.InvalidTransitionError{From: from, To: to}
	}

	sub.Status = to
	if mutate != nil {
		mutate(sub)
	}
	tr := &models.SubscriptionTransition{
		SubscriptionID: sub.ID,
		FromStatus:     from,
		ToStatus:       to,
		Trigger:        trigger,
		Actor:          actor,
		Reason:         reason,
	}
	return m.store.ApplyTransition(sub, tr)
}

// ConvertToPaid moves a trial onto its paid plan ahead of the sweep. This is
// an explicit customer/billing action.
func (m *Machine) ConvertToPaid(ctx context.Context, subscriptionID uint) (*models.Subscription, error) {
	_ = ctx
	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	err = m.apply(sub, models.SubscriptionStatusActive, TriggerConvertToPaid, models.TransitionActorCustomer, "", func(s *models.Subscription) {
		s.CurrentPeriodStart = now
		s.CurrentPeriodEnd = now.AddDate(0, upgradePeriodMonths, 0)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Cancel ends a subscription. With atPeriodEnd the status stays as-is and
// only the flag is set; service continues until the period closes.
func (m *Machine) Cancel(ctx context.Context, subscriptionID uint, atPeriodEnd bool, actor, reason string) (*models.Subscription, error) {
	_ = ctx
	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return nil, err
	}

	if atPeriodEnd {
		err = m.apply(sub, sub.Status, TriggerCancelAtPeriodEnd, actor, reason, func(s *models.Subscription) {
			s.CancelAtPeriodEnd = true
		})
	} else {
		err = m.apply(sub, models.SubscriptionStatusCancelled, TriggerCancel, actor, reason, nil)
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// PaymentFailed moves an active subscription into dunning.
func (m *Machine) PaymentFailed(ctx context.Context, subscriptionID uint, reason string) (*models.Subscription, error) {
	_ = ctx
	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == models.SubscriptionStatusPastDue {
		// Repeated failures while already past due are recorded by the
		// payment-attempt trail, not by additional transitions.
		return sub, nil
	}
	if err := m.apply(sub, models.SubscriptionStatusPastDue, TriggerPaymentFailed, models.TransitionActorWebhook, reason, nil); err != nil {
		return nil, err
	}
	return sub, nil
}

// PaymentRecovered returns a past-due subscription to active.
func (m *Machine) PaymentRecovered(ctx context.Context, subscriptionID uint) (*models.Subscription, error) {
	_ = ctx
	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := m.apply(sub, models.SubscriptionStatusActive, TriggerPaymentRecovered, models.TransitionActorWebhook, "", nil); err != nil {
		return nil, err
	}
	return sub, nil
}

// Suspend parks a subscription the processor reports unpaid or paused.
func (m *Machine) Suspend(ctx context.Context, subscriptionID uint, reason string) (*models.Subscription, error) {
	_ = ctx
	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := m.apply(sub, models.SubscriptionStatusSuspended, TriggerProcessorSuspended, models.TransitionActorWebhook, reason, nil); err != nil {
		return nil, err
	}
	return sub, nil
}

// Upgrade switches the subscription's plan without changing its status.
// When an effective date is supplied the billing period restarts there with
// a fixed one-month length (upgradePeriodMonths).
func (m *Machine) Upgrade(ctx context.Context, subscriptionID, newPlanID uint, effectiveDate *time.Time, actor string) (*models.Subscription, error) {
	_ = ctx
	sub, err := m.store.GetSubscription(subscriptionID)
	if err != nil {
		return nil, err
	}
	plan, err := m.plans.GetByID(newPlanID)
	if err != nil {
		return nil, err
	}

	err = m.apply(sub, sub.Status, TriggerUpgrade, actor, "plan change to "+plan.Slug, func(s *models.Subscription) {
		planID := plan.ID
		s.PlanID = &planID
		if effectiveDate != nil {
			s.CurrentPeriodStart = *effectiveDate
			s.CurrentPeriodEnd = effectiveDate.AddDate(0, upgradePeriodMonths, 0)
		}
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}
