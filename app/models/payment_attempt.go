package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PaymentAttemptFailed    = "failed"
	PaymentAttemptSucceeded = "succeeded"
)

// PaymentAttempt records one charge attempt against an invoice, supporting
// dunning and retry tracking.
type PaymentAttempt struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UUID            string    `gorm:"type:char(36);uniqueIndex;not null" json:"uuid"`
	BillingRecordID uint      `gorm:"not null;index:idx_payment_attempts_record,priority:1" json:"billing_record_id"`
	AttemptNumber   int       `gorm:"not null;default:1" json:"attempt_number"`
	Status          string    `gorm:"type:varchar(20);not null" json:"status"`
	FailureReason   string    `gorm:"type:text" json:"failure_reason"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BeforeCreate assigns a public identifier.
func (a *PaymentAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == "" {
		a.UUID = uuid.New().String()
	}
	return nil
}
