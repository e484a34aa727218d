package models

import "time"

// UsageSummary is a cached per-period rollup of the usage ledger, keyed by
// (subscription, "YYYY-MM"). It is refreshed by the background worker and on
// demand; it is never authoritative and is always reconstructible from
// UsageEvent rows.
type UsageSummary struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID   uint      `gorm:"not null;index:ux_usage_summaries_sub_period,unique,priority:1" json:"subscription_id"`
	Period           string    `gorm:"type:char(7);not null;index:ux_usage_summaries_sub_period,unique,priority:2" json:"period"`
	ActiveTickets    int       `gorm:"not null;default:0" json:"active_tickets"`
	CompletedTickets int       `gorm:"not null;default:0" json:"completed_tickets"`
	ArchivedTickets  int       `gorm:"not null;default:0" json:"archived_tickets"`
	TotalTickets     int       `gorm:"not null;default:0" json:"total_tickets"`
	RefreshedAt      time.Time `gorm:"autoUpdateTime" json:"refreshed_at"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}
