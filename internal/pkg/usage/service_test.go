package usage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	events    []models.UsageEvent
	states    map[string]models.TicketState
	summaries map[string]models.UsageSummary
	nextID    uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		states:    make(map[string]models.TicketState),
		summaries: make(map[string]models.UsageSummary),
	}
}

func stateKey(subID, ticketID uint) string { return fmt.Sprintf("%d:%d", subID, ticketID) }

func (r *fakeRepo) AppendEvent(event *models.UsageEvent, projectedState string) error {
	r.nextID++
	event.ID = r.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	r.events = append(r.events, *event)
	if projectedState != "" {
		r.states[stateKey(event.SubscriptionID, event.TicketID)] = models.TicketState{
			SubscriptionID: event.SubscriptionID,
			TicketID:       event.TicketID,
			State:          projectedState,
		}
	}
	return nil
}

func (r *fakeRepo) CountStates(subID uint) (StateCounts, error) {
	var out StateCounts
	for _, st := range r.states {
		if st.SubscriptionID != subID {
			continue
		}
		switch st.State {
		case models.TicketStateActive:
			out.Active++
		case models.TicketStateCompleted:
			out.Completed++
		case models.TicketStateArchived:
			out.Archived++
		case models.TicketStateDeleted:
			out.Deleted++
		}
	}
	return out, nil
}

func (r *fakeRepo) EventsBetween(subID uint, from, to time.Time) ([]models.UsageEvent, error) {
	var out []models.UsageEvent
	for _, e := range r.events {
		if e.SubscriptionID == subID && !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListEvents(subID uint) ([]models.UsageEvent, error) {
	var out []models.UsageEvent
	for _, e := range r.events {
		if e.SubscriptionID == subID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpsertSummary(s *models.UsageSummary) error {
	r.summaries[fmt.Sprintf("%d:%s", s.SubscriptionID, s.Period)] = *s
	return nil
}

func (r *fakeRepo) GetSummary(subID uint, period string) (*models.UsageSummary, error) {
	s, ok := r.summaries[fmt.Sprintf("%d:%s", subID, period)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &s, nil
}

func (r *fakeRepo) SubscriptionIDsWithEvents() ([]uint, error) {
	seen := make(map[uint]bool)
	var ids []uint
	for _, e := range r.events {
		if !seen[e.SubscriptionID] {
			seen[e.SubscriptionID] = true
			ids = append(ids, e.SubscriptionID)
		}
	}
	return ids, nil
}

func (r *fakeRepo) ReplaceProjection(subID uint, states []models.TicketState) error {
	for key, st := range r.states {
		if st.SubscriptionID == subID {
			delete(r.states, key)
		}
	}
	for _, st := range states {
		r.states[stateKey(st.SubscriptionID, st.TicketID)] = st
	}
	return nil
}

func TestCurrentUsageRoundTrip(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	const subID = uint(1)
	const n, m, k = 6, 2, 1

	for i := 1; i <= n; i++ {
		_, err := svc.Record(ctx, RecordInput{SubscriptionID: subID, TicketID: uint(i), Action: models.UsageActionCreated})
		require.NoError(t, err)
	}
	for i := 1; i <= m; i++ {
		_, err := svc.Record(ctx, RecordInput{SubscriptionID: subID, TicketID: uint(i), Action: models.UsageActionCompleted})
		require.NoError(t, err)
	}
	for i := m + 1; i <= m+k; i++ {
		_, err := svc.Record(ctx, RecordInput{SubscriptionID: subID, TicketID: uint(i), Action: models.UsageActionArchived})
		require.NoError(t, err)
	}

	stats, err := svc.CurrentUsage(ctx, subID)
	require.NoError(t, err)
	assert.Equal(t, n-m-k, stats.ActiveTickets)
	assert.Equal(t, m, stats.CompletedTickets)
	assert.Equal(t, k, stats.ArchivedTickets)
	assert.Equal(t, n, stats.TotalTickets)
}

func TestRecordRestorationReentersActiveSet(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{SubscriptionID: 1, TicketID: 7, Action: models.UsageActionCreated})
	require.NoError(t, err)
	_, err = svc.Record(ctx, RecordInput{SubscriptionID: 1, TicketID: 7, Action: models.UsageActionArchived})
	require.NoError(t, err)

	event, err := svc.RecordRestoration(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, models.UsageActionCreated, event.Action)
	assert.Contains(t, event.MetadataJSON, MetadataKeyRestoration)

	stats, err := svc.CurrentUsage(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveTickets)
	assert.Equal(t, 0, stats.ArchivedTickets)
	// History is appended, never rewritten.
	assert.Len(t, repo.events, 3)
}

func TestCurrentUsageNoSubscriptionIsZero(t *testing.T) {
	svc := NewService(newFakeRepo())

	stats, err := svc.CurrentUsage(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, stats.ActiveTickets)
	assert.Zero(t, stats.CompletedTickets)
	assert.Zero(t, stats.ArchivedTickets)
	assert.Zero(t, stats.TotalTickets)
}

func TestUsageForPeriodFiltersByEnclosingPeriod(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	january := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	february := time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)

	repo.events = append(repo.events,
		models.UsageEvent{ID: 1, SubscriptionID: 1, TicketID: 1, Action: models.UsageActionCreated, CreatedAt: january},
		models.UsageEvent{ID: 2, SubscriptionID: 1, TicketID: 2, Action: models.UsageActionCreated, CreatedAt: january},
		models.UsageEvent{ID: 3, SubscriptionID: 1, TicketID: 2, Action: models.UsageActionCompleted, CreatedAt: january.Add(time.Hour)},
		models.UsageEvent{ID: 4, SubscriptionID: 1, TicketID: 3, Action: models.UsageActionCreated, CreatedAt: february},
	)

	stats, err := svc.UsageForPeriod(ctx, 1, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveTickets)
	assert.Equal(t, 1, stats.CompletedTickets)
	assert.Equal(t, 2, stats.TotalTickets)

	stats, err = svc.UsageForPeriod(ctx, 1, "2025-02")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveTickets)
	assert.Equal(t, 1, stats.TotalTickets)
}

func TestRebuildProjectionMatchesLedger(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := svc.Record(ctx, RecordInput{SubscriptionID: 2, TicketID: uint(i), Action: models.UsageActionCreated})
		require.NoError(t, err)
	}
	_, err := svc.Record(ctx, RecordInput{SubscriptionID: 2, TicketID: 4, Action: models.UsageActionDeleted})
	require.NoError(t, err)

	before, err := svc.CurrentUsage(ctx, 2)
	require.NoError(t, err)

	// Corrupt the projection, then rebuild from the ledger.
	repo.states = make(map[string]models.TicketState)
	require.NoError(t, svc.RebuildProjection(ctx, 2))

	after, err := svc.CurrentUsage(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 3, after.TotalTickets) // deleted ticket leaves the total
}

func TestPeriodBounds(t *testing.T) {
	from, to, err := PeriodBounds("2025-06")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), to)

	_, _, err = PeriodBounds("junk")
	assert.Error(t, err)
}
