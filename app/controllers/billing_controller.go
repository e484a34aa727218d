package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"github.com/JanKoller/TicketHive/internal/pkg/billing"
	"github.com/JanKoller/TicketHive/internal/pkg/database"
	"github.com/JanKoller/TicketHive/internal/pkg/env"
	"github.com/gofiber/fiber/v2"
)

const webhookProcessingTimeout = 15 * time.Second

// processorEvent is the envelope the payment processor posts to us.
type processorEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type processorInvoiceObject struct {
	ID             string `json:"id"`
	Subscription   string `json:"subscription"`
	Status         string `json:"status"`
	AmountDue      int64  `json:"amount_due"`
	AmountPaid     int64  `json:"amount_paid"`
	Currency       string `json:"currency"`
	Created        int64  `json:"created"`
	DueDate        int64  `json:"due_date"`
	PaidAt         int64  `json:"paid_at"`
	PaymentMethod  string `json:"payment_method"`
	LastPaymentErr string `json:"last_payment_error"`
}

type processorSubscriptionObject struct {
	ID string `json:"id"`
}

// HandleBillingWebhook receives processor events. Every payload is
// persisted before processing; redeliveries are answered from the dedup
// table without re-processing.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Processor-Signature"))
	secret := env.GetEnv("PROCESSOR_WEBHOOK_SECRET", "")

	svc := billing.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), webhookProcessingTimeout)
	defer cancel()

	var event processorEvent
	_ = json.Unmarshal(rawBody, &event)

	signatureValid := billing.VerifyWebhookSignature(rawBody, signature, secret)
	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        billing.ProviderName,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  signatureValid,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !signatureValid {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	processErr := dispatchProcessorEvent(ctx, svc, event)
	if errors.Is(processErr, errIgnoredEventType) {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	_ = svc.MarkWebhookProcessed(ctx, stored.ID, processErr)
	if processErr != nil {
		var perr *billing.PayloadError
		if errors.As(processErr, &perr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

var errIgnoredEventType = errors.New("ignored event type")

func dispatchProcessorEvent(ctx context.Context, svc *billing.Service, event processorEvent) error {
	switch strings.ToLower(strings.TrimSpace(event.Type)) {
	case "invoice.created", "invoice.finalized", "invoice.updated", "invoice.paid", "invoice.voided", "invoice.marked_uncollectible":
		in, err := invoiceEventFromPayload(event.Data.Object)
		if err != nil {
			return err
		}
		_, err = svc.ApplyInvoiceEvent(ctx, *in)
		return err

	case "invoice.payment_failed":
		in, err := invoiceEventFromPayload(event.Data.Object)
		if err != nil {
			return err
		}
		// Make sure the invoice mirror exists before the dunning step.
		if _, err := svc.ApplyInvoiceEvent(ctx, *in); err != nil {
			return err
		}
		_, err = svc.ProcessInvoicePaymentFailed(ctx, in.ExternalInvoiceID, in.FailureReason)
		return err

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var obj processorSubscriptionObject
		if err := json.Unmarshal(event.Data.Object, &obj); err != nil || strings.TrimSpace(obj.ID) == "" {
			return &billing.PayloadError{Message: "subscription payload missing id"}
		}
		_, err := svc.SyncSubscriptionFromProcessor(ctx, obj.ID)
		if errors.Is(err, apperrors.ErrNotFound) {
			// No local subscription is linked to this processor id yet.
			return errIgnoredEventType
		}
		return err

	default:
		return errIgnoredEventType
	}
}

func invoiceEventFromPayload(raw json.RawMessage) (*billing.InvoiceEventInput, error) {
	var obj processorInvoiceObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &billing.PayloadError{Message: "invalid invoice payload"}
	}
	if strings.TrimSpace(obj.ID) == "" {
		return nil, &billing.PayloadError{Message: "invoice payload missing id"}
	}

	return &billing.InvoiceEventInput{
		ExternalInvoiceID:      obj.ID,
		ExternalSubscriptionID: obj.Subscription,
		Status:                 obj.Status,
		AmountDueCents:         obj.AmountDue,
		AmountPaidCents:        obj.AmountPaid,
		Currency:               obj.Currency,
		BilledAt:               optionalUnix(obj.Created),
		DueAt:                  optionalUnix(obj.DueDate),
		PaidAt:                 optionalUnix(obj.PaidAt),
		PaymentMethodRef:       obj.PaymentMethod,
		FailureReason:          obj.LastPaymentErr,
	}, nil
}

func optionalUnix(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
