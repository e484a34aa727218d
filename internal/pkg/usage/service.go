package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/cache"
	"github.com/JanKoller/TicketHive/internal/pkg/limits"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	summaryCacheKeyFormat = "usage:summary:%d:%s"
	summaryCacheTTL       = 30 * time.Minute
)

// MetadataKeyRestoration marks synthetic created events that re-enter a
// ticket into the active set after an archive, instead of mutating history.
const MetadataKeyRestoration = "isRestoration"

// Service is the usage ledger: the append-only record of ticket lifecycle
// events and the derived consumption counters. Recording never rejects based
// on limits; enforcement is a separate, prior step.
type Service struct {
	repo  Repository
	locks keyedMutex
}

// NewService creates a usage service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a usage service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// RecordInput is one ticket lifecycle fact to append.
type RecordInput struct {
	SubscriptionID uint
	TicketID       uint
	Action         string
	PreviousStatus string
	NewStatus      string
	Metadata       map[string]any
}

// Record appends a usage event and updates the ticket-state projection.
// A caller may legitimately append an event for an already-approved action
// even if limits changed concurrently; the ledger logs, it does not judge.
func (s *Service) Record(ctx context.Context, in RecordInput) (*models.UsageEvent, error) {
	_ = ctx
	if in.SubscriptionID == 0 {
		return nil, fmt.Errorf("subscription_id is required")
	}

	metadataJSON := ""
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal usage event metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	event := &models.UsageEvent{
		SubscriptionID: in.SubscriptionID,
		TicketID:       in.TicketID,
		Action:         in.Action,
		PreviousStatus: in.PreviousStatus,
		NewStatus:      in.NewStatus,
		MetadataJSON:   metadataJSON,
	}

	s.locks.Lock(in.SubscriptionID)
	defer s.locks.Unlock(in.SubscriptionID)

	if err := s.repo.AppendEvent(event, models.TicketStateForAction(in.Action)); err != nil {
		return nil, err
	}
	return event, nil
}

// RecordRestoration appends the synthetic created event that models a
// ticket's return from archive.
func (s *Service) RecordRestoration(ctx context.Context, subscriptionID, ticketID uint) (*models.UsageEvent, error) {
	return s.Record(ctx, RecordInput{
		SubscriptionID: subscriptionID,
		TicketID:       ticketID,
		Action:         models.UsageActionCreated,
		PreviousStatus: models.TicketStateArchived,
		NewStatus:      models.TicketStateActive,
		Metadata:       map[string]any{MetadataKeyRestoration: true},
	})
}

// CurrentUsage derives all-time counts from the projection: active,
// completed and archived are the latest known state per ticket; total is
// every distinct ticket ever created minus permanently deleted ones.
// Subscription id zero means no subscription exists and yields zero usage.
func (s *Service) CurrentUsage(ctx context.Context, subscriptionID uint) (limits.UsageStats, error) {
	_ = ctx
	if subscriptionID == 0 {
		return limits.UsageStats{}, nil
	}
	counts, err := s.repo.CountStates(subscriptionID)
	if err != nil {
		return limits.UsageStats{}, err
	}
	return limits.UsageStats{
		ActiveTickets:    counts.Active,
		CompletedTickets: counts.Completed,
		ArchivedTickets:  counts.Archived,
		TotalTickets:     counts.Total(),
	}, nil
}

// UsageForPeriod replays the period's events in append order and classifies
// each ticket by its latest in-period action. Used for monthly reporting and
// billing correlation, distinct from the all-time CurrentUsage.
func (s *Service) UsageForPeriod(ctx context.Context, subscriptionID uint, period string) (limits.UsageStats, error) {
	_ = ctx
	if subscriptionID == 0 {
		return limits.UsageStats{}, nil
	}
	from, to, err := PeriodBounds(period)
	if err != nil {
		return limits.UsageStats{}, err
	}
	events, err := s.repo.EventsBetween(subscriptionID, from, to)
	if err != nil {
		return limits.UsageStats{}, err
	}
	return replay(events), nil
}

// RefreshSummary recomputes a period rollup, persists it and warms the
// cache. The summary is never authoritative.
func (s *Service) RefreshSummary(ctx context.Context, subscriptionID uint, period string) (*models.UsageSummary, error) {
	stats, err := s.UsageForPeriod(ctx, subscriptionID, period)
	if err != nil {
		return nil, err
	}

	summary := &models.UsageSummary{
		SubscriptionID:   subscriptionID,
		Period:           period,
		ActiveTickets:    stats.ActiveTickets,
		CompletedTickets: stats.CompletedTickets,
		ArchivedTickets:  stats.ArchivedTickets,
		TotalTickets:     stats.TotalTickets,
	}
	if err := s.repo.UpsertSummary(summary); err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(summary); err == nil {
		key := fmt.Sprintf(summaryCacheKeyFormat, subscriptionID, period)
		if err := cache.Set(key, string(raw), summaryCacheTTL); err != nil {
			log.Warnf("usage summary cache write failed for subscription %d: %v", subscriptionID, err)
		}
	}
	return summary, nil
}

// RefreshAllSummaries rolls the given period forward for every subscription
// that has ledger entries. Called by the background worker.
func (s *Service) RefreshAllSummaries(ctx context.Context, period string) error {
	ids, err := s.repo.SubscriptionIDsWithEvents()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.RefreshSummary(ctx, id, period); err != nil {
			log.Errorf("usage summary refresh failed for subscription %d: %v", id, err)
		}
	}
	return nil
}

// RebuildProjection replays the full ledger for one subscription and
// replaces the materialized ticket states. Safe to run at any time; the
// ledger is the source of truth.
func (s *Service) RebuildProjection(ctx context.Context, subscriptionID uint) error {
	_ = ctx
	events, err := s.repo.ListEvents(subscriptionID)
	if err != nil {
		return err
	}

	latest := make(map[uint]string)
	order := make([]uint, 0)
	for _, e := range events {
		state := models.TicketStateForAction(e.Action)
		if state == "" {
			continue
		}
		if _, seen := latest[e.TicketID]; !seen {
			order = append(order, e.TicketID)
		}
		latest[e.TicketID] = state
	}

	states := make([]models.TicketState, 0, len(latest))
	for _, ticketID := range order {
		states = append(states, models.TicketState{
			SubscriptionID: subscriptionID,
			TicketID:       ticketID,
			State:          latest[ticketID],
		})
	}

	s.locks.Lock(subscriptionID)
	defer s.locks.Unlock(subscriptionID)
	return s.repo.ReplaceProjection(subscriptionID, states)
}

// WithSubscriptionLock serializes a read-decide-write section against other
// in-process writers of the same subscription. This bounds, not eliminates,
// the concurrent-overshoot race; the limit semantic stays soft.
func (s *Service) WithSubscriptionLock(subscriptionID uint, fn func() error) error {
	s.locks.Lock(subscriptionID)
	defer s.locks.Unlock(subscriptionID)
	return fn()
}

// PeriodBounds resolves a "YYYY-MM" period key to its UTC half-open
// interval.
func PeriodBounds(period string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01", period, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid period %q: %w", period, err)
	}
	return start, start.AddDate(0, 1, 0), nil
}

// PeriodOf returns the period key enclosing the given instant.
func PeriodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func replay(events []models.UsageEvent) limits.UsageStats {
	latest := make(map[uint]string)
	seen := make(map[uint]bool)
	for _, e := range events {
		state := models.TicketStateForAction(e.Action)
		if state == "" {
			continue
		}
		seen[e.TicketID] = true
		latest[e.TicketID] = state
	}

	var stats limits.UsageStats
	for ticketID := range seen {
		switch latest[ticketID] {
		case models.TicketStateActive:
			stats.ActiveTickets++
		case models.TicketStateCompleted:
			stats.CompletedTickets++
		case models.TicketStateArchived:
			stats.ArchivedTickets++
		}
	}
	stats.TotalTickets = stats.ActiveTickets + stats.CompletedTickets + stats.ArchivedTickets
	return stats
}

// keyedMutex serializes work per subscription id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func (k *keyedMutex) Lock(id uint) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uint]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()
	l.Lock()
}

func (k *keyedMutex) Unlock(id uint) {
	k.mu.Lock()
	l := k.locks[id]
	k.mu.Unlock()
	if l != nil {
		l.Unlock()
	}
}
