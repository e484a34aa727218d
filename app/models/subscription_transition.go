package models

import "time"

const (
	TransitionActorSystem   = "system"
	TransitionActorCustomer = "customer"
	TransitionActorAdmin    = "admin"
	TransitionActorWebhook  = "webhook"
)

// SubscriptionTransition is the audit trail for lifecycle status changes and
// administrative limit overrides: who moved a subscription, from where to
// where, and why.
type SubscriptionTransition struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index:idx_sub_transitions_sub_created,priority:1" json:"subscription_id"`
	FromStatus     string    `gorm:"type:varchar(32);not null" json:"from_status"`
	ToStatus       string    `gorm:"type:varchar(32);not null" json:"to_status"`
	Trigger        string    `gorm:"type:varchar(50);not null" json:"trigger"`
	Actor          string    `gorm:"type:varchar(20);not null;default:'system'" json:"actor"`
	Reason         string    `gorm:"type:text" json:"reason"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index:idx_sub_transitions_sub_created,priority:2" json:"created_at"`
}
