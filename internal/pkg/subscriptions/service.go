package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"github.com/JanKoller/TicketHive/internal/pkg/lifecycle"
	"github.com/JanKoller/TicketHive/internal/pkg/limits"
	"github.com/JanKoller/TicketHive/internal/pkg/plans"
	"github.com/JanKoller/TicketHive/internal/pkg/usage"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Service is the subscription record store plus the enforcement entry
// points the ticket domain calls before consuming resources.
type Service struct {
	repo     Repository
	plans    plans.Repository
	usage    *usage.Service
	machine  *lifecycle.Machine
	clock    lifecycle.Clock
	validate *validator.Validate
}

// NewService wires a subscription service from injected collaborators.
// A nil clock falls back to the system clock.
func NewService(repo Repository, planRepo plans.Repository, usageSvc *usage.Service, clock lifecycle.Clock) *Service {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	return &Service{
		repo:     repo,
		plans:    planRepo,
		usage:    usageSvc,
		machine:  lifecycle.NewMachine(repo, planRepo, clock),
		clock:    clock,
		validate: validator.New(),
	}
}

// NewServiceFromDB creates a subscription service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), plans.NewRepository(db), usage.NewServiceFromDB(db), nil)
}

// Machine exposes the lifecycle state machine for collaborators that drive
// transitions directly (billing reconciliation, admin tooling).
func (s *Service) Machine() *lifecycle.Machine {
	return s.machine
}

// Usage exposes the usage ledger service.
func (s *Service) Usage() *usage.Service {
	return s.usage
}

// LimitsInput carries partial override limits. -1 lifts a cap; nil leaves
// the current source in place.
type LimitsInput struct {
	ActiveTickets    *int `json:"active_tickets" validate:"omitempty,min=-1"`
	CompletedTickets *int `json:"completed_tickets" validate:"omitempty,min=-1"`
	TotalTickets     *int `json:"total_tickets" validate:"omitempty,min=-1"`
}

// CreateCustomSubscriptionInput is the admin provisioning request for a
// subscription with bespoke limits and pricing.
type CreateCustomSubscriptionInput struct {
	UserID       uint        `json:"user_id" validate:"required"`
	CompanyID    *uint       `json:"company_id"`
	Limits       LimitsInput `json:"limits"`
	PriceCents   int64       `json:"price_cents" validate:"min=0"`
	Currency     string      `json:"currency" validate:"omitempty,len=3"`
	BillingCycle string      `json:"billing_cycle" validate:"omitempty,oneof=month year unknown"`
	TrialDays    int         `json:"trial_days" validate:"min=0,max=365"`
}

// CreateCustomSubscription provisions a plan-less subscription with its own
// limits and pricing. The create and its signup audit row land in one
// transaction; on any failure nothing is left behind.
func (s *Service) CreateCustomSubscription(ctx context.Context, in CreateCustomSubscriptionInput) (*models.Subscription, error) {
	_ = ctx
	if err := s.validate.Struct(in); err != nil {
		return nil, &apperrors.ValidationError{Message: err.Error()}
	}

	if existing, err := s.repo.GetActiveByUserID(in.UserID); err == nil && existing != nil {
		return nil, &apperrors.ValidationError{
			Field:   "user_id",
			Message: "user already has a non-cancelled subscription",
		}
	} else if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	sub := &models.Subscription{
		UserID:                   in.UserID,
		CompanyID:                in.CompanyID,
		Status:                   lifecycle.InitialStatus(in.TrialDays),
		CurrentPeriodStart:       now,
		CurrentPeriodEnd:         now.AddDate(0, 1, 0),
		OverrideActiveTickets:    in.Limits.ActiveTickets,
		OverrideCompletedTickets: in.Limits.CompletedTickets,
		OverrideTotalTickets:     in.Limits.TotalTickets,
	}
	if in.PriceCents > 0 {
		price := in.PriceCents
		sub.CustomPriceCents = &price
	}
	if in.TrialDays > 0 {
		trialStart := now
		trialEnd := now.AddDate(0, 0, in.TrialDays)
		sub.TrialStart = &trialStart
		sub.TrialEnd = &trialEnd
	}

	tr := &models.SubscriptionTransition{
		FromStatus: sub.Status,
		ToStatus:   sub.Status,
		Trigger:    lifecycle.TriggerSignup,
		Actor:      models.TransitionActorAdmin,
		Reason:     "custom subscription provisioned",
	}
	if err := s.repo.CreateWithTransition(sub, tr); err != nil {
		return nil, err
	}
	return sub, nil
}

// Signup creates a standard subscription on the given plan, honoring its
// trial length.
func (s *Service) Signup(ctx context.Context, userID uint, planSlug string) (*models.Subscription, error) {
	_ = ctx
	if userID == 0 {
		return nil, &apperrors.ValidationError{Field: "user_id", Message: "is required"}
	}
	plan, err := s.plans.GetBySlug(planSlug)
	if err != nil {
		return nil, err
	}

	if existing, err := s.repo.GetActiveByUserID(userID); err == nil && existing != nil {
		return nil, &apperrors.ValidationError{
			Field:   "user_id",
			Message: "user already has a non-cancelled subscription",
		}
	} else if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	planID := plan.ID
	sub := &models.Subscription{
		UserID:             userID,
		PlanID:             &planID,
		Status:             lifecycle.InitialStatus(plan.TrialDays),
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	if plan.TrialDays > 0 {
		trialStart := now
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		sub.TrialStart = &trialStart
		sub.TrialEnd = &trialEnd
	}

	tr := &models.SubscriptionTransition{
		FromStatus: sub.Status,
		ToStatus:   sub.Status,
		Trigger:    lifecycle.TriggerSignup,
		Actor:      models.TransitionActorCustomer,
		Reason:     "signup on plan " + plan.Slug,
	}
	if err := s.repo.CreateWithTransition(sub, tr); err != nil {
		return nil, err
	}
	return sub, nil
}

// UpdateSubscriptionLimits merges partial override limits onto a
// subscription and records who changed them and why.
func (s *Service) UpdateSubscriptionLimits(ctx context.Context, subscriptionID uint, partial LimitsInput, actor, reason string) (*models.Subscription, error) {
	_ = ctx
	if err := s.validate.Struct(partial); err != nil {
		return nil, &apperrors.ValidationError{Message: err.Error()}
	}

	sub, err := s.repo.GetSubscription(subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.IsCancelled() {
		return nil, &apperrors.InvalidTransitionError{From: sub.Status, To: sub.Status}
	}

	if partial.ActiveTickets != nil {
		sub.OverrideActiveTickets = partial.ActiveTickets
	}
	if partial.CompletedTickets != nil {
		sub.OverrideCompletedTickets = partial.CompletedTickets
	}
	if partial.TotalTickets != nil {
		sub.OverrideTotalTickets = partial.TotalTickets
	}

	tr := &models.SubscriptionTransition{
		SubscriptionID: sub.ID,
		FromStatus:     sub.Status,
		ToStatus:       sub.Status,
		Trigger:        "limits_override",
		Actor:          actor,
		Reason:         reason,
	}
	if err := s.repo.ApplyTransition(sub, tr); err != nil {
		return nil, err
	}
	return sub, nil
}

// EffectiveLimits resolves the caps that apply to a subscription.
// Precedence: subscription override > plan limit > free fallback.
func (s *Service) EffectiveLimits(sub *models.Subscription) (limits.PlanLimits, *models.Plan, error) {
	if sub == nil {
		return plans.FallbackFreeLimits, nil, nil
	}

	var plan *models.Plan
	if sub.PlanID != nil {
		p, err := s.plans.GetByID(*sub.PlanID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return limits.PlanLimits{}, nil, err
		}
		plan = p
	}

	base := plans.Limits(plan)
	merged := limits.Merge(base, sub.OverrideActiveTickets, sub.OverrideCompletedTickets, sub.OverrideTotalTickets)
	return merged, plan, nil
}

// CheckCanCreate decides whether the owner may create delta more tickets.
// Bulk imports pass their full size so the batch is approved or rejected
// atomically. A customer without any subscription is always allowed, with
// zero usage reported.
func (s *Service) CheckCanCreate(ctx context.Context, ownerID uint, delta int, mode limits.EnforcementMode) (limits.Decision, error) {
	if delta <= 0 {
		delta = 1
	}
	return s.check(ctx, ownerID, limits.Delta{Active: delta}, mode)
}

// CheckCanComplete decides whether the owner may complete delta more
// tickets.
func (s *Service) CheckCanComplete(ctx context.Context, ownerID uint, delta int, mode limits.EnforcementMode) (limits.Decision, error) {
	if delta <= 0 {
		delta = 1
	}
	return s.check(ctx, ownerID, limits.Delta{Completed: delta}, mode)
}

func (s *Service) check(ctx context.Context, ownerID uint, delta limits.Delta, mode limits.EnforcementMode) (limits.Decision, error) {
	sub, err := s.repo.GetActiveByUserID(ownerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// No billing data must never block ticket actions.
			return limits.Decision{Allowed: true}, nil
		}
		return s.failOpen(mode, err)
	}

	lims, _, err := s.EffectiveLimits(sub)
	if err != nil {
		return s.failOpen(mode, err)
	}

	// Read the freshest usage at decision time; the overshoot window is
	// bounded by the concurrency width, an accepted soft-limit semantic.
	stats, err := s.usage.CurrentUsage(ctx, sub.ID)
	if err != nil {
		return s.failOpen(mode, err)
	}

	decision := limits.Evaluate(stats, lims, delta)
	if !decision.Allowed && mode == limits.Strict {
		return decision, s.limitExceeded(sub, decision)
	}
	return decision, nil
}

func (s *Service) failOpen(mode limits.EnforcementMode, err error) (limits.Decision, error) {
	if mode == limits.Strict {
		return limits.Decision{}, err
	}
	log.Warnf("limit check failed open: %v", err)
	return limits.Decision{Allowed: true}, nil
}

func (s *Service) limitExceeded(sub *models.Subscription, decision limits.Decision) error {
	var current *models.Plan
	if sub.PlanID != nil {
		if p, err := s.plans.GetByID(*sub.PlanID); err == nil {
			current = p
		}
	}

	var suggested []models.Plan
	if all, err := s.plans.ListActive(); err == nil {
		suggested = plans.SuggestedUpgrades(all, current, decision.LimitType)
	}

	msg := fmt.Sprintf("You have reached your %s ticket limit.", decision.LimitType)
	if len(suggested) > 0 {
		msg += " Upgrade to " + suggested[0].Name + " to continue."
	}

	return &apperrors.LimitExceededError{
		LimitType:      decision.LimitType,
		Decision:       decision,
		UpgradeMessage: msg,
		SuggestedPlans: suggested,
	}
}

// OnTicketCreated is the post-enforcement hook the ticket domain calls
// after a creation went through. Missing billing data is logged and
// swallowed: ticket actions never fail because a subscription is absent.
func (s *Service) OnTicketCreated(ctx context.Context, ownerID, ticketID uint) {
	sub, err := s.repo.GetActiveByUserID(ownerID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			log.Warnf("usage recording skipped for owner %d: %v", ownerID, err)
		}
		return
	}
	if _, err := s.usage.Record(ctx, usage.RecordInput{
		SubscriptionID: sub.ID,
		TicketID:       ticketID,
		Action:         models.UsageActionCreated,
		NewStatus:      models.TicketStateActive,
	}); err != nil {
		log.Errorf("usage recording failed for subscription %d ticket %d: %v", sub.ID, ticketID, err)
	}
}

// OnTicketStatusChanged records a ticket lifecycle move. A transition out
// of archive back to an open status is modeled as a synthetic restoration
// create rather than rewriting history.
func (s *Service) OnTicketStatusChanged(ctx context.Context, ownerID, ticketID uint, fromStatus, toStatus string) {
	sub, err := s.repo.GetActiveByUserID(ownerID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			log.Warnf("usage recording skipped for owner %d: %v", ownerID, err)
		}
		return
	}

	if fromStatus == models.TicketStateArchived && toStatus == models.TicketStateActive {
		if _, err := s.usage.RecordRestoration(ctx, sub.ID, ticketID); err != nil {
			log.Errorf("restoration recording failed for subscription %d ticket %d: %v", sub.ID, ticketID, err)
		}
		return
	}

	action := actionForStatusChange(toStatus)
	if action == "" {
		return
	}
	if _, err := s.usage.Record(ctx, usage.RecordInput{
		SubscriptionID: sub.ID,
		TicketID:       ticketID,
		Action:         action,
		PreviousStatus: fromStatus,
		NewStatus:      toStatus,
	}); err != nil {
		log.Errorf("usage recording failed for subscription %d ticket %d: %v", sub.ID, ticketID, err)
	}
}

func actionForStatusChange(toStatus string) string {
	switch toStatus {
	case models.TicketStateActive:
		return models.UsageActionCreated
	case models.TicketStateCompleted:
		return models.UsageActionCompleted
	case models.TicketStateArchived:
		return models.UsageActionArchived
	case models.TicketStateDeleted:
		return models.UsageActionDeleted
	default:
		return ""
	}
}

// GetCurrentUsage reports consumption for an owner. No subscription yields
// all-zero usage.
func (s *Service) GetCurrentUsage(ctx context.Context, ownerID uint) (limits.UsageStats, error) {
	sub, err := s.repo.GetActiveByUserID(ownerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return limits.UsageStats{}, nil
		}
		return limits.UsageStats{}, err
	}
	return s.usage.CurrentUsage(ctx, sub.ID)
}

// GetUsageForPeriod reports an owner's consumption within one "YYYY-MM"
// period, derived by replaying the ledger.
func (s *Service) GetUsageForPeriod(ctx context.Context, ownerID uint, period string) (limits.UsageStats, error) {
	sub, err := s.repo.GetActiveByUserID(ownerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return limits.UsageStats{}, nil
		}
		return limits.UsageStats{}, err
	}
	return s.usage.UsageForPeriod(ctx, sub.ID, period)
}

// Cancel ends the owner's subscription through the state machine.
func (s *Service) Cancel(ctx context.Context, subscriptionID uint, atPeriodEnd bool, actor, reason string) (*models.Subscription, error) {
	return s.machine.Cancel(ctx, subscriptionID, atPeriodEnd, actor, reason)
}

// Upgrade moves the subscription to a new plan through the state machine.
func (s *Service) Upgrade(ctx context.Context, subscriptionID, newPlanID uint, effectiveDate *time.Time) (*models.Subscription, error) {
	return s.machine.Upgrade(ctx, subscriptionID, newPlanID, effectiveDate, models.TransitionActorCustomer)
}

// ApproachingLimitsEntry is one reporting row for customers nearing caps.
type ApproachingLimitsEntry struct {
	UserID         uint            `json:"user_id"`
	SubscriptionID uint            `json:"subscription_id"`
	PlanSlug       string          `json:"plan_slug,omitempty"`
	Decision       limits.Decision `json:"decision"`
}

// GetUsersApproachingLimits returns every non-cancelled subscription whose
// usage on any dimension reached thresholdPercent.
func (s *Service) GetUsersApproachingLimits(ctx context.Context, thresholdPercent float64) ([]ApproachingLimitsEntry, error) {
	subs, err := s.repo.ListNonCancelled()
	if err != nil {
		return nil, err
	}

	var out []ApproachingLimitsEntry
	for i := range subs {
		sub := &subs[i]
		if !plans.IsEntitlingStatus(sub.Status) {
			continue
		}
		lims, plan, err := s.EffectiveLimits(sub)
		if err != nil {
			log.Warnf("approaching-limits report: limits lookup failed for subscription %d: %v", sub.ID, err)
			continue
		}
		stats, err := s.usage.CurrentUsage(ctx, sub.ID)
		if err != nil {
			log.Warnf("approaching-limits report: usage lookup failed for subscription %d: %v", sub.ID, err)
			continue
		}

		d := limits.Evaluate(stats, lims, limits.Delta{})
		if maxPercent(d) < thresholdPercent {
			continue
		}
		entry := ApproachingLimitsEntry{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			Decision:       d,
		}
		if plan != nil {
			entry.PlanSlug = plan.Slug
		}
		out = append(out, entry)
	}
	return out, nil
}

func maxPercent(d limits.Decision) float64 {
	max := d.Active.PercentUsed
	if d.Completed.PercentUsed > max {
		max = d.Completed.PercentUsed
	}
	if d.Total.PercentUsed > max {
		max = d.Total.PercentUsed
	}
	return max
}
