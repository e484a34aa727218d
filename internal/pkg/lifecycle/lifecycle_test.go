package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeStore struct {
	subs        map[uint]*models.Subscription
	transitions []models.SubscriptionTransition
}

func newFakeStore(subs ...*models.Subscription) *fakeStore {
	s := &fakeStore{subs: make(map[uint]*models.Subscription)}
	for _, sub := range subs {
		s.subs[sub.ID] = sub
	}
	return s
}

func (s *fakeStore) GetSubscription(id uint) (*models.Subscription, error) {
	sub, ok := s.subs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *fakeStore) ApplyTransition(sub *models.Subscription, tr *models.SubscriptionTransition) error {
	cp := *sub
	s.subs[sub.ID] = &cp
	s.transitions = append(s.transitions, *tr)
	return nil
}

func (s *fakeStore) ExpiredTrials(now time.Time, limit int) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range s.subs {
		if sub.Status == models.SubscriptionStatusTrial && sub.TrialExpired(now) {
			out = append(out, *sub)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type fakePlans struct {
	byID map[uint]*models.Plan
	free *models.Plan
}

func (p *fakePlans) GetByID(id uint) (*models.Plan, error) {
	plan, ok := p.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return plan, nil
}

func (p *fakePlans) FreePlan() (*models.Plan, error) {
	if p.free == nil {
		return nil, apperrors.ErrNotFound
	}
	return p.free, nil
}

func TestInitialStatus(t *testing.T) {
	if got := InitialStatus(14); got != models.SubscriptionStatusTrial {
		t.Fatalf("signup with trial days must start in trial, got %q", got)
	}
	if got := InitialStatus(0); got != models.SubscriptionStatusActive {
		t.Fatalf("signup without trial must start active, got %q", got)
	}
}

func TestCanTransitionTable(t *testing.T) {
	allowed := []Transition{
		{models.SubscriptionStatusTrial, models.SubscriptionStatusActive},
		{models.SubscriptionStatusTrial, models.SubscriptionStatusCancelled},
		{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue},
		{models.SubscriptionStatusActive, models.SubscriptionStatusSuspended},
		{models.SubscriptionStatusActive, models.SubscriptionStatusCancelled},
		{models.SubscriptionStatusPastDue, models.SubscriptionStatusActive},
		{models.SubscriptionStatusPastDue, models.SubscriptionStatusSuspended},
		{models.SubscriptionStatusPastDue, models.SubscriptionStatusCancelled},
		{models.SubscriptionStatusSuspended, models.SubscriptionStatusActive},
		{models.SubscriptionStatusSuspended, models.SubscriptionStatusCancelled},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.From, tr.To) {
			t.Fatalf("expected %s -> %s to be allowed", tr.From, tr.To)
		}
	}

	denied := []Transition{
		{models.SubscriptionStatusCancelled, models.SubscriptionStatusActive},
		{models.SubscriptionStatusCancelled, models.SubscriptionStatusTrial},
		{models.SubscriptionStatusCancelled, models.SubscriptionStatusPastDue},
		{models.SubscriptionStatusCancelled, models.SubscriptionStatusSuspended},
		{models.SubscriptionStatusActive, models.SubscriptionStatusTrial},
		{models.SubscriptionStatusSuspended, models.SubscriptionStatusPastDue},
	}
	for _, tr := range denied {
		if CanTransition(tr.From, tr.To) {
			t.Fatalf("expected %s -> %s to be denied", tr.From, tr.To)
		}
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	store := newFakeStore(&models.Subscription{ID: 1, Status: models.SubscriptionStatusCancelled})
	m := NewMachine(store, &fakePlans{}, fixedClock{now: time.Now()})
	ctx := context.Background()

	var invalid *apperrors.InvalidTransitionError

	_, err := m.PaymentRecovered(ctx, 1)
	require.ErrorAs(t, err, &invalid)

	_, err = m.Cancel(ctx, 1, false, models.TransitionActorCustomer, "")
	require.ErrorAs(t, err, &invalid)

	_, err = m.Suspend(ctx, 1, "unpaid")
	require.ErrorAs(t, err, &invalid)

	assert.Equal(t, models.SubscriptionStatusCancelled, store.subs[1].Status)
	assert.Empty(t, store.transitions)
}

func TestCancelAtPeriodEndKeepsStatus(t *testing.T) {
	store := newFakeStore(&models.Subscription{ID: 2, Status: models.SubscriptionStatusActive})
	m := NewMachine(store, &fakePlans{}, fixedClock{now: time.Now()})

	sub, err := m.Cancel(context.Background(), 2, true, models.TransitionActorCustomer, "downgrade next month")
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.Len(t, store.transitions, 1)
	assert.Equal(t, TriggerCancelAtPeriodEnd, store.transitions[0].Trigger)
}

func TestCancelImmediate(t *testing.T) {
	store := newFakeStore(&models.Subscription{ID: 3, Status: models.SubscriptionStatusPastDue})
	m := NewMachine(store, &fakePlans{}, fixedClock{now: time.Now()})

	sub, err := m.Cancel(context.Background(), 3, false, models.TransitionActorCustomer, "")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
}

func TestPaymentFailedAndRecovered(t *testing.T) {
	store := newFakeStore(&models.Subscription{ID: 4, Status: models.SubscriptionStatusActive})
	m := NewMachine(store, &fakePlans{}, fixedClock{now: time.Now()})
	ctx := context.Background()

	sub, err := m.PaymentFailed(ctx, 4, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)

	// A second failure while past due is a no-op transition-wise.
	sub, err = m.PaymentFailed(ctx, 4, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusPastDue, sub.Status)
	assert.Len(t, store.transitions, 1)

	sub, err = m.PaymentRecovered(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestUpgradeRecomputesPeriodFixedMonth(t *testing.T) {
	now := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	planID := uint(9)
	store := newFakeStore(&models.Subscription{ID: 5, Status: models.SubscriptionStatusActive})
	catalog := &fakePlans{byID: map[uint]*models.Plan{
		9: {ID: 9, Slug: "business", BillingInterval: models.BillingIntervalYear},
	}}
	m := NewMachine(store, catalog, fixedClock{now: now})

	effective := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	sub, err := m.Upgrade(context.Background(), 5, planID, &effective, models.TransitionActorCustomer)
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.PlanID)
	assert.Equal(t, planID, *sub.PlanID)
	assert.Equal(t, effective, sub.CurrentPeriodStart)
	// Period length is one month even for annual plans; see
	// upgradePeriodMonths.
	assert.Equal(t, effective.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
}

func TestSweepMovesExpiredTrialToFreeTier(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-48 * time.Hour)
	store := newFakeStore(&models.Subscription{ID: 6, Status: models.SubscriptionStatusTrial, TrialEnd: &past})
	catalog := &fakePlans{free: &models.Plan{ID: 1, Slug: "free"}}
	m := NewMachine(store, catalog, fixedClock{now: now})

	result, err := m.SweepExpiredTrials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Activated)
	assert.Equal(t, 0, result.Cancelled)

	sub := store.subs[6]
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.PlanID)
	assert.Equal(t, uint(1), *sub.PlanID)
	assert.Nil(t, sub.TrialEnd)
}

func TestSweepCancelsWithoutFreeTier(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	store := newFakeStore(&models.Subscription{ID: 7, Status: models.SubscriptionStatusTrial, TrialEnd: &past})
	m := NewMachine(store, &fakePlans{}, fixedClock{now: now})

	result, err := m.SweepExpiredTrials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Cancelled)
	assert.Equal(t, models.SubscriptionStatusCancelled, store.subs[7].Status)
}

func TestSweepIsReentrant(t *testing.T) {
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	store := newFakeStore(
		&models.Subscription{ID: 8, Status: models.SubscriptionStatusTrial, TrialEnd: &past},
		&models.Subscription{ID: 9, Status: models.SubscriptionStatusTrial, TrialEnd: &future},
	)
	catalog := &fakePlans{free: &models.Plan{ID: 1, Slug: "free"}}
	m := NewMachine(store, catalog, fixedClock{now: now})
	ctx := context.Background()

	first, err := m.SweepExpiredTrials(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Activated)

	// Re-running must not double-transition already-handled rows.
	second, err := m.SweepExpiredTrials(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Examined)
	assert.Len(t, store.transitions, 1)

	// Still-running trials were never touched.
	assert.Equal(t, models.SubscriptionStatusTrial, store.subs[9].Status)
}

func TestSweepStopsOnContextCancel(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	store := newFakeStore(&models.Subscription{ID: 10, Status: models.SubscriptionStatusTrial, TrialEnd: &past})
	m := NewMachine(store, &fakePlans{free: &models.Plan{ID: 1}}, fixedClock{now: now})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.SweepExpiredTrials(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}
