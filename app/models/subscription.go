package models

import "time"

const (
	SubscriptionStatusTrial     = "trial"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusSuspended = "suspended"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription binds one customer to a plan (or fully custom limits) with a
// billing and trial lifecycle. Rows are never deleted; cancellation is a
// status write. At most one non-cancelled subscription exists per user,
// enforced at the service layer.
type Subscription struct {
	ID        uint  `gorm:"primaryKey" json:"id"`
	UserID    uint  `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	CompanyID *uint `gorm:"index" json:"company_id,omitempty"`
	// PlanID is nullable: fully custom subscriptions carry their own limits.
	PlanID             *uint      `gorm:"index" json:"plan_id,omitempty"`
	Status             string     `gorm:"type:varchar(32);not null;default:'trial';index:idx_subscriptions_user_status,priority:2;index" json:"status"`
	CurrentPeriodStart time.Time  `gorm:"type:timestamp;not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `gorm:"type:timestamp;not null" json:"current_period_end"`
	TrialStart         *time.Time `gorm:"type:timestamp;default:null" json:"trial_start,omitempty"`
	TrialEnd           *time.Time `gorm:"type:timestamp;default:null;index" json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`

	// External payment processor linkage. Absent for $0 plans.
	ProcessorCustomerID     string `gorm:"type:varchar(191);default:'';index" json:"processor_customer_id"`
	ProcessorSubscriptionID string `gorm:"type:varchar(191);default:'';index" json:"processor_subscription_id"`

	// Override limits take precedence over plan limits when set.
	// LimitUnlimited (-1) is a valid override value.
	OverrideActiveTickets    *int `json:"override_active_tickets,omitempty"`
	OverrideCompletedTickets *int `json:"override_completed_tickets,omitempty"`
	OverrideTotalTickets     *int `json:"override_total_tickets,omitempty"`

	CustomPriceCents *int64    `json:"custom_price_cents,omitempty"`
	RawPayloadJSON   string    `gorm:"type:longtext" json:"raw_payload_json"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCancelled reports whether the subscription reached its terminal state.
func (s *Subscription) IsCancelled() bool {
	return s.Status == SubscriptionStatusCancelled
}

// IsLinkedToProcessor reports whether an external processor subscription
// exists. Once linked, the processor is the source of truth for status,
// period and trial fields.
func (s *Subscription) IsLinkedToProcessor() bool {
	return s.ProcessorSubscriptionID != ""
}

// InTrialWindow reports whether now falls inside the trial window.
func (s *Subscription) InTrialWindow(now time.Time) bool {
	if s.TrialStart == nil || s.TrialEnd == nil {
		return false
	}
	return !now.Before(*s.TrialStart) && now.Before(*s.TrialEnd)
}

// TrialExpired reports whether the trial window ended before now.
func (s *Subscription) TrialExpired(now time.Time) bool {
	return s.TrialEnd != nil && s.TrialEnd.Before(now)
}
