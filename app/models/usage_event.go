package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	UsageActionCreated   = "created"
	UsageActionCompleted = "completed"
	UsageActionArchived  = "archived"
	UsageActionDeleted   = "deleted"
)

// UsageEvent is one append-only entry in the usage ledger. Events are the
// sole write path for usage facts and are never updated or deleted; they
// form the audit trail all counters derive from.
type UsageEvent struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UUID           string    `gorm:"type:char(36);uniqueIndex;not null" json:"uuid"`
	SubscriptionID uint      `gorm:"not null;index:idx_usage_events_sub_created,priority:1" json:"subscription_id"`
	TicketID       uint      `gorm:"not null;index" json:"ticket_id"`
	Action         string    `gorm:"type:varchar(20);not null;index" json:"action"`
	PreviousStatus string    `gorm:"type:varchar(32);default:''" json:"previous_status"`
	NewStatus      string    `gorm:"type:varchar(32);default:''" json:"new_status"`
	MetadataJSON   string    `gorm:"type:longtext" json:"metadata_json"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index:idx_usage_events_sub_created,priority:2" json:"created_at"`
}

// BeforeCreate assigns a public identifier.
func (e *UsageEvent) BeforeCreate(tx *gorm.DB) error {
	if e.UUID == "" {
		e.UUID = uuid.New().String()
	}
	return nil
}

// Period returns the enclosing YYYY-MM period of the event, the key used by
// period-scoped rollups.
func (e *UsageEvent) Period() string {
	return e.CreatedAt.UTC().Format("2006-01")
}
