package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"github.com/JanKoller/TicketHive/internal/pkg/cache"
	"github.com/JanKoller/TicketHive/internal/pkg/lifecycle"
	"github.com/JanKoller/TicketHive/internal/pkg/subscriptions"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	revenueCacheKeyFormat = "billing:revenue:%s"
	revenueCacheTTL       = 10 * time.Minute
)

// Service reconciles external processor state into local billing and
// subscription records. Every entry point is idempotent: the processor may
// redeliver any event at any time.
type Service struct {
	repo      Repository
	subs      subscriptions.Repository
	machine   *lifecycle.Machine
	processor ProcessorClient
	clock     lifecycle.Clock
}

// NewService wires a billing service from injected collaborators. A nil
// clock falls back to the system clock.
func NewService(repo Repository, subRepo subscriptions.Repository, machine *lifecycle.Machine, processor ProcessorClient, clock lifecycle.Clock) *Service {
	if clock == nil {
		clock = lifecycle.SystemClock{}
	}
	return &Service{
		repo:      repo,
		subs:      subRepo,
		machine:   machine,
		processor: processor,
		clock:     clock,
	}
}

// NewServiceFromDB creates a billing service from a GORM DB handle, using
// the env-configured processor client.
func NewServiceFromDB(db *gorm.DB) *Service {
	subSvc := subscriptions.NewServiceFromDB(db)
	return NewService(NewRepository(db), subscriptions.NewRepository(db), subSvc.Machine(), NewProcessorClientFromEnv(), nil)
}

// ApplyInvoiceEvent upserts the local mirror of one processor invoice.
// Applying the same event twice converges on the same row: the paid
// transition sets amount paid and paid-at exactly once, and a later
// redelivery never reopens a settled invoice.
func (s *Service) ApplyInvoiceEvent(ctx context.Context, in InvoiceEventInput) (*models.BillingRecord, error) {
	_ = ctx
	externalID := strings.TrimSpace(in.ExternalInvoiceID)
	if externalID == "" {
		return nil, &apperrors.ValidationError{Field: "external_invoice_id", Message: "is required"}
	}

	subscriptionID := in.SubscriptionID
	if subscriptionID == 0 && strings.TrimSpace(in.ExternalSubscriptionID) != "" {
		sub, err := s.subs.GetByProcessorSubscriptionID(strings.TrimSpace(in.ExternalSubscriptionID))
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		if sub != nil {
			subscriptionID = sub.ID
		}
	}

	status := MapInvoiceStatus(in.Status)

	existing, err := s.repo.GetInvoiceByExternalID(externalID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	record := &models.BillingRecord{
		SubscriptionID:    subscriptionID,
		ExternalInvoiceID: externalID,
		Status:            status,
		AmountDueCents:    in.AmountDueCents,
		AmountPaidCents:   in.AmountPaidCents,
		Currency:          normalizeCurrency(in.Currency),
		BilledAt:          in.BilledAt,
		DueAt:             in.DueAt,
		PaymentMethodRef:  strings.TrimSpace(in.PaymentMethodRef),
		FailureReason:     strings.TrimSpace(in.FailureReason),
	}
	if len(in.LineItems) > 0 {
		if raw, err := json.Marshal(in.LineItems); err == nil {
			record.LineItemsJSON = string(raw)
		}
	}

	if existing != nil {
		record.ID = existing.ID
		if existing.SubscriptionID != 0 && record.SubscriptionID == 0 {
			record.SubscriptionID = existing.SubscriptionID
		}
		// Paid is sticky: a redelivered earlier event never reopens a
		// settled invoice or moves its settlement facts.
		if existing.IsPaid() {
			record.Status = models.InvoiceStatusPaid
			record.AmountPaidCents = existing.AmountPaidCents
			record.PaidAt = existing.PaidAt
			record.PaymentMethodRef = existing.PaymentMethodRef
		}
		if existing.ClosedAt != nil {
			record.ClosedAt = existing.ClosedAt
		}
	}

	now := s.clock.Now()
	switch record.Status {
	case models.InvoiceStatusPaid:
		if record.PaidAt == nil {
			if in.PaidAt != nil {
				record.PaidAt = in.PaidAt
			} else {
				record.PaidAt = &now
			}
		}
		if record.AmountPaidCents == 0 {
			record.AmountPaidCents = record.AmountDueCents
		}
	case models.InvoiceStatusVoid, models.InvoiceStatusUncollectible:
		if record.ClosedAt == nil {
			record.ClosedAt = &now
		}
	}

	if err := s.repo.UpsertInvoice(record); err != nil {
		return nil, err
	}

	// A settled invoice recovers a past-due subscription.
	if record.Status == models.InvoiceStatusPaid && record.SubscriptionID != 0 {
		s.recoverIfPastDue(ctx, record.SubscriptionID)
	}
	return record, nil
}

// ProcessInvoicePaymentFailed records one dunning step: a failed payment
// attempt on the invoice and the subscription's move into past_due.
func (s *Service) ProcessInvoicePaymentFailed(ctx context.Context, externalInvoiceID, failureReason string) (*models.BillingRecord, error) {
	record, err := s.repo.GetInvoiceByExternalID(strings.TrimSpace(externalInvoiceID))
	if err != nil {
		return nil, err
	}
	if record.IsPaid() {
		// A stale failure notice after settlement carries no information.
		return record, nil
	}

	attempts, err := s.repo.CountPaymentAttempts(record.ID)
	if err != nil {
		return nil, err
	}
	attempt := &models.PaymentAttempt{
		BillingRecordID: record.ID,
		AttemptNumber:   int(attempts) + 1,
		Status:          models.PaymentAttemptFailed,
		FailureReason:   strings.TrimSpace(failureReason),
	}
	if err := s.repo.CreatePaymentAttempt(attempt); err != nil {
		return nil, err
	}

	record.Status = models.InvoiceStatusOpen
	record.FailureReason = strings.TrimSpace(failureReason)
	if err := s.repo.UpsertInvoice(record); err != nil {
		return nil, err
	}

	if record.SubscriptionID != 0 {
		if _, err := s.machine.PaymentFailed(ctx, record.SubscriptionID, record.FailureReason); err != nil {
			var invalid *apperrors.InvalidTransitionError
			if !errors.As(err, &invalid) {
				return nil, err
			}
			log.Warnf("payment failure on subscription %d not transitioned: %v", record.SubscriptionID, err)
		}
	}
	return record, nil
}

// RetryPayment re-invokes the processor for an open invoice. A successful
// charge flows through ApplyInvoiceEvent so the retry path and the webhook
// path converge on the identical paid state.
func (s *Service) RetryPayment(ctx context.Context, externalInvoiceID string) (*models.BillingRecord, error) {
	record, err := s.repo.GetInvoiceByExternalID(strings.TrimSpace(externalInvoiceID))
	if err != nil {
		return nil, err
	}
	if record.IsPaid() {
		return record, nil
	}

	result, err := s.processor.PayInvoice(ctx, record.ExternalInvoiceID)
	if err != nil {
		attempts, countErr := s.repo.CountPaymentAttempts(record.ID)
		if countErr != nil {
			return nil, countErr
		}
		attempt := &models.PaymentAttempt{
			BillingRecordID: record.ID,
			AttemptNumber:   int(attempts) + 1,
			Status:          models.PaymentAttemptFailed,
			FailureReason:   err.Error(),
		}
		if createErr := s.repo.CreatePaymentAttempt(attempt); createErr != nil {
			return nil, createErr
		}
		return nil, err
	}

	attempts, err := s.repo.CountPaymentAttempts(record.ID)
	if err != nil {
		return nil, err
	}
	attempt := &models.PaymentAttempt{
		BillingRecordID: record.ID,
		AttemptNumber:   int(attempts) + 1,
		Status:          models.PaymentAttemptSucceeded,
	}
	if err := s.repo.CreatePaymentAttempt(attempt); err != nil {
		return nil, err
	}

	if result.SubscriptionID == 0 {
		result.SubscriptionID = record.SubscriptionID
	}
	return s.ApplyInvoiceEvent(ctx, *result)
}

// SyncSubscriptionFromProcessor pulls the canonical subscription state and
// overwrites the local row verbatim. Once linked, the processor is the
// source of truth for status, period and trial fields; only the terminal
// cancelled state is immune to resurrection.
func (s *Service) SyncSubscriptionFromProcessor(ctx context.Context, externalSubscriptionID string) (*models.Subscription, error) {
	remote, err := s.processor.GetSubscription(ctx, externalSubscriptionID)
	if err != nil {
		return nil, err
	}

	sub, err := s.subs.GetByProcessorSubscriptionID(remote.ExternalSubscriptionID)
	if err != nil {
		return nil, err
	}

	newStatus := MapProcessorSubscriptionStatus(remote.Status)
	if sub.IsCancelled() && newStatus != models.SubscriptionStatusCancelled {
		log.Warnf("processor sync for subscription %d ignored: local state is cancelled, processor reports %q", sub.ID, remote.Status)
		return sub, nil
	}

	from := sub.Status
	sub.Status = newStatus
	if remote.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = *remote.CurrentPeriodStart
	}
	if remote.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = *remote.CurrentPeriodEnd
	}
	sub.TrialStart = remote.TrialStart
	sub.TrialEnd = remote.TrialEnd
	sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	if remote.ExternalCustomerID != "" {
		sub.ProcessorCustomerID = remote.ExternalCustomerID
	}
	sub.RawPayloadJSON = remote.RawPayloadJSON

	tr := &models.SubscriptionTransition{
		SubscriptionID: sub.ID,
		FromStatus:     from,
		ToStatus:       sub.Status,
		Trigger:        lifecycle.TriggerProcessorSync,
		Actor:          models.TransitionActorWebhook,
		Reason:         "processor reports " + remote.Status,
	}
	if err := s.subs.ApplyTransition(sub, tr); err != nil {
		return nil, err
	}
	return sub, nil
}

// RecordWebhookEvent persists webhook payloads idempotently. Events without
// a processor-assigned id are deduplicated by payload hash.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, &apperrors.ValidationError{Field: "provider", Message: "is required"}
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional
// error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return &apperrors.ValidationError{Field: "webhook_event_id", Message: "is required"}
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// ListInvoices returns the invoice mirror for one subscription.
func (s *Service) ListInvoices(ctx context.Context, subscriptionID uint) ([]models.BillingRecord, error) {
	_ = ctx
	return s.repo.ListInvoicesBySubscription(subscriptionID)
}

// GetRevenueStats aggregates settled and outstanding invoices, cached
// briefly since reporting tolerates slight staleness.
func (s *Service) GetRevenueStats(ctx context.Context, from, to *time.Time) (RevenueStats, error) {
	_ = ctx
	key := fmt.Sprintf(revenueCacheKeyFormat, revenueWindowKey(from, to))
	if raw, err := cache.Get(key); err == nil && raw != "" {
		var stats RevenueStats
		if err := json.Unmarshal([]byte(raw), &stats); err == nil {
			return stats, nil
		}
	}

	stats, err := s.repo.RevenueStats(from, to)
	if err != nil {
		return stats, err
	}
	if raw, err := json.Marshal(stats); err == nil {
		if err := cache.Set(key, string(raw), revenueCacheTTL); err != nil {
			log.Warnf("revenue stats cache write failed: %v", err)
		}
	}
	return stats, nil
}

func (s *Service) recoverIfPastDue(ctx context.Context, subscriptionID uint) {
	sub, err := s.subs.GetSubscription(subscriptionID)
	if err != nil {
		log.Warnf("payment recovery lookup failed for subscription %d: %v", subscriptionID, err)
		return
	}
	if sub.Status != models.SubscriptionStatusPastDue {
		return
	}
	if _, err := s.machine.PaymentRecovered(ctx, subscriptionID); err != nil {
		log.Warnf("payment recovery failed for subscription %d: %v", subscriptionID, err)
	}
}

func normalizeCurrency(currency string) string {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if len(c) != 3 {
		return "EUR"
	}
	return c
}

func revenueWindowKey(from, to *time.Time) string {
	f, t := "all", "all"
	if from != nil {
		f = from.UTC().Format("2006-01-02")
	}
	if to != nil {
		t = to.UTC().Format("2006-01-02")
	}
	return f + ":" + t
}
