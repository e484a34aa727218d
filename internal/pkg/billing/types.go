package billing

import (
	"time"

	"github.com/JanKoller/TicketHive/app/models"
)

// ProviderName identifies the payment processor on stored webhook events.
// Kept as a column value so a later second processor can share the table.
const ProviderName = "payproc"

// InvoiceEventInput is the normalized invoice fact extracted from a
// processor webhook or an API pull. Redeliveries of the same external
// invoice id must be safe to apply any number of times.
type InvoiceEventInput struct {
	ExternalInvoiceID      string
	ExternalSubscriptionID string
	SubscriptionID         uint
	Status                 string
	AmountDueCents         int64
	AmountPaidCents        int64
	Currency               string
	BilledAt               *time.Time
	DueAt                  *time.Time
	PaidAt                 *time.Time
	PaymentMethodRef       string
	FailureReason          string
	LineItems              []models.InvoiceLineItem
}

// NormalizedProcessorSubscription is the provider-agnostic shape the sync
// path writes into local subscription rows. Once a subscription is linked,
// these fields overwrite local state verbatim.
type NormalizedProcessorSubscription struct {
	ExternalSubscriptionID string
	ExternalCustomerID     string
	Status                 string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	TrialStart             *time.Time
	TrialEnd               *time.Time
	CancelAtPeriodEnd      bool
	RawPayloadJSON         string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// PayloadError reports a structurally invalid webhook payload.
type PayloadError struct {
	Message string
}

func (e *PayloadError) Error() string { return e.Message }

// RevenueStats aggregates settled invoices for reporting.
type RevenueStats struct {
	Period           string `json:"period,omitempty"`
	PaidInvoices     int64  `json:"paid_invoices"`
	OpenInvoices     int64  `json:"open_invoices"`
	RevenueCents     int64  `json:"revenue_cents"`
	OutstandingCents int64  `json:"outstanding_cents"`
}
