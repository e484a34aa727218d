package models

import "time"

const (
	BillingIntervalMonth   = "month"
	BillingIntervalYear    = "year"
	BillingIntervalUnknown = "unknown"
)

// LimitUnlimited is the sentinel for a dimension without a cap.
const LimitUnlimited = -1

// Plan is an admin-managed service tier. Plans referenced by live
// subscriptions are never deleted, only deactivated.
type Plan struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Name                string    `gorm:"type:varchar(100);not null" json:"name"`
	Slug                string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"slug"`
	PriceCents          int64     `gorm:"not null;default:0" json:"price_cents"`
	Currency            string    `gorm:"type:varchar(3);not null;default:'EUR'" json:"currency"`
	BillingInterval     string    `gorm:"type:varchar(16);not null;default:'month'" json:"billing_interval"`
	MaxActiveTickets    int       `gorm:"not null;default:0" json:"max_active_tickets"`
	MaxCompletedTickets int       `gorm:"not null;default:0" json:"max_completed_tickets"`
	MaxTotalTickets     int       `gorm:"not null;default:0" json:"max_total_tickets"`
	TrialDays           int       `gorm:"not null;default:0" json:"trial_days"`
	IsActive            bool      `gorm:"default:true;index" json:"is_active"`
	SortRank            int       `gorm:"not null;default:0;index" json:"sort_rank"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsFree reports whether the plan costs nothing per period.
func (p *Plan) IsFree() bool {
	return p.PriceCents == 0
}

// HasTrial reports whether signups on this plan start with a trial window.
func (p *Plan) HasTrial() bool {
	return p.TrialDays > 0
}
