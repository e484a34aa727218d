package billing

import (
	"errors"
	"time"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	UpsertInvoice(record *models.BillingRecord) error
	GetInvoiceByExternalID(externalInvoiceID string) (*models.BillingRecord, error)
	ListInvoicesBySubscription(subscriptionID uint) ([]models.BillingRecord, error)
	CreatePaymentAttempt(attempt *models.PaymentAttempt) error
	CountPaymentAttempts(billingRecordID uint) (int64, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	RevenueStats(from, to *time.Time) (RevenueStats, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// UpsertInvoice creates or updates the local mirror of one processor
// invoice, keyed by the external invoice id. The conflict clause makes
// concurrent webhook deliveries converge on one row.
func (r *gormRepository) UpsertInvoice(record *models.BillingRecord) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "external_invoice_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subscription_id",
			"status",
			"amount_due_cents",
			"amount_paid_cents",
			"currency",
			"billed_at",
			"due_at",
			"paid_at",
			"closed_at",
			"payment_method_ref",
			"failure_reason",
			"line_items_json",
			"updated_at",
		}),
	}).Create(record).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("external_invoice_id = ?", record.ExternalInvoiceID).First(record).Error
}

func (r *gormRepository) GetInvoiceByExternalID(externalInvoiceID string) (*models.BillingRecord, error) {
	var record models.BillingRecord
	err := r.db.Where("external_invoice_id = ?", externalInvoiceID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *gormRepository) ListInvoicesBySubscription(subscriptionID uint) ([]models.BillingRecord, error) {
	var out []models.BillingRecord
	err := r.db.Where("subscription_id = ?", subscriptionID).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *gormRepository) CreatePaymentAttempt(attempt *models.PaymentAttempt) error {
	return r.db.Create(attempt).Error
}

func (r *gormRepository) CountPaymentAttempts(billingRecordID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.PaymentAttempt{}).
		Where("billing_record_id = ?", billingRecordID).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// RevenueStats aggregates invoices, optionally restricted to a billed_at
// window.
func (r *gormRepository) RevenueStats(from, to *time.Time) (RevenueStats, error) {
	var stats RevenueStats

	base := r.db.Model(&models.BillingRecord{})
	if from != nil {
		base = base.Where("billed_at >= ?", *from)
	}
	if to != nil {
		base = base.Where("billed_at < ?", *to)
	}

	type row struct {
		Status string
		Count  int64
		Due    int64
		Paid   int64
	}
	var rows []row
	err := base.
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount_due_cents),0) AS due, COALESCE(SUM(amount_paid_cents),0) AS paid").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return stats, err
	}

	for _, rw := range rows {
		switch rw.Status {
		case models.InvoiceStatusPaid:
			stats.PaidInvoices += rw.Count
			stats.RevenueCents += rw.Paid
		case models.InvoiceStatusOpen:
			stats.OpenInvoices += rw.Count
			stats.OutstandingCents += rw.Due - rw.Paid
		}
	}
	return stats, nil
}
