package billing

import (
	"strings"

	"github.com/JanKoller/TicketHive/app/models"
)

// MapInvoiceStatus normalizes a processor invoice status to the local
// vocabulary. The mapping is total: anything unrecognized lands on draft
// instead of erroring, so a processor rolling out new statuses never breaks
// ingestion.
func MapInvoiceStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case models.InvoiceStatusOpen, "finalized", "posted":
		return models.InvoiceStatusOpen
	case models.InvoiceStatusPaid, "succeeded":
		return models.InvoiceStatusPaid
	case models.InvoiceStatusVoid, "voided":
		return models.InvoiceStatusVoid
	case models.InvoiceStatusUncollectible, "written_off":
		return models.InvoiceStatusUncollectible
	default:
		return models.InvoiceStatusDraft
	}
}

// MapProcessorSubscriptionStatus normalizes a processor subscription status
// to the local lifecycle vocabulary. Unknown statuses map to suspended so a
// surprising processor state parks the subscription instead of granting
// service.
func MapProcessorSubscriptionStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trialing", models.SubscriptionStatusTrial:
		return models.SubscriptionStatusTrial
	case models.SubscriptionStatusActive:
		return models.SubscriptionStatusActive
	case models.SubscriptionStatusPastDue, "unpaid":
		return models.SubscriptionStatusPastDue
	case "canceled", models.SubscriptionStatusCancelled, "incomplete_expired":
		return models.SubscriptionStatusCancelled
	case "paused", models.SubscriptionStatusSuspended:
		return models.SubscriptionStatusSuspended
	default:
		return models.SubscriptionStatusSuspended
	}
}
