package models

import "time"

const (
	InvoiceStatusDraft         = "draft"
	InvoiceStatusOpen          = "open"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusVoid          = "void"
	InvoiceStatusUncollectible = "uncollectible"
)

// BillingRecord mirrors one external processor invoice. Rows are created and
// updated only by billing reconciliation, idempotently keyed by the external
// invoice id.
type BillingRecord struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID    uint       `gorm:"not null;index" json:"subscription_id"`
	ExternalInvoiceID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_invoice_id"`
	Status            string     `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	AmountDueCents    int64      `gorm:"not null;default:0" json:"amount_due_cents"`
	AmountPaidCents   int64      `gorm:"not null;default:0" json:"amount_paid_cents"`
	Currency          string     `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	BilledAt          *time.Time `gorm:"type:timestamp;default:null" json:"billed_at,omitempty"`
	DueAt             *time.Time `gorm:"type:timestamp;default:null" json:"due_at,omitempty"`
	PaidAt            *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	ClosedAt          *time.Time `gorm:"type:timestamp;default:null" json:"closed_at,omitempty"`
	PaymentMethodRef  string     `gorm:"type:varchar(191);default:''" json:"payment_method_ref"`
	FailureReason     string     `gorm:"type:text" json:"failure_reason"`
	LineItemsJSON     string     `gorm:"type:longtext" json:"line_items_json"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPaid reports whether the invoice has been settled.
func (b *BillingRecord) IsPaid() bool {
	return b.Status == InvoiceStatusPaid
}

// InvoiceLineItem is one position on an invoice, serialized into
// LineItemsJSON.
type InvoiceLineItem struct {
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
	Quantity    int    `json:"quantity"`
}
