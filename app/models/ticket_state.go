package models

import "time"

const (
	TicketStateActive    = "active"
	TicketStateCompleted = "completed"
	TicketStateArchived  = "archived"
	TicketStateDeleted   = "deleted"
)

// TicketState is the materialized projection of the usage ledger: the latest
// known lifecycle position of each ticket per subscription. It is maintained
// transactionally with every ledger append and can be rebuilt from the event
// log at any time; the ledger stays authoritative.
type TicketState struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index:ux_ticket_states_sub_ticket,unique,priority:1;index:idx_ticket_states_sub_state,priority:1" json:"subscription_id"`
	TicketID       uint      `gorm:"not null;index:ux_ticket_states_sub_ticket,unique,priority:2" json:"ticket_id"`
	State          string    `gorm:"type:varchar(20);not null;index:idx_ticket_states_sub_state,priority:2" json:"state"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TicketStateForAction maps a ledger action to the projected state.
// Unknown actions leave the projection untouched by returning "".
func TicketStateForAction(action string) string {
	switch action {
	case UsageActionCreated:
		return TicketStateActive
	case UsageActionCompleted:
		return TicketStateCompleted
	case UsageActionArchived:
		return TicketStateArchived
	case UsageActionDeleted:
		return TicketStateDeleted
	default:
		return ""
	}
}
