package lifecycle

import (
	"slices"

	"github.com/JanKoller/TicketHive/app/models"
)

// Transition represents a valid state transition.
type Transition struct {
	From string
	To   string
}

// validTransitions defines all allowed status edges. cancelled is terminal:
// no edge leaves it.
var validTransitions = map[Transition]bool{
	{models.SubscriptionStatusTrial, models.SubscriptionStatusActive}:        true, // trial converted, or expiry onto free tier
	{models.SubscriptionStatusTrial, models.SubscriptionStatusCancelled}:     true, // trial expired with no free tier
	{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}:      true, // payment failed
	{models.SubscriptionStatusActive, models.SubscriptionStatusSuspended}:    true, // processor unpaid/paused
	{models.SubscriptionStatusActive, models.SubscriptionStatusCancelled}:    true, // immediate cancellation
	{models.SubscriptionStatusPastDue, models.SubscriptionStatusActive}:      true, // payment recovered
	{models.SubscriptionStatusPastDue, models.SubscriptionStatusSuspended}:   true, // processor unpaid/paused
	{models.SubscriptionStatusPastDue, models.SubscriptionStatusCancelled}:   true, // immediate cancellation while past due
	{models.SubscriptionStatusSuspended, models.SubscriptionStatusActive}:    true, // reinstated after recovery
	{models.SubscriptionStatusSuspended, models.SubscriptionStatusCancelled}: true, // given up on collection
}

// CanTransition checks if a transition from one status to another is valid.
// Self-transitions are permitted; they record flag changes such as
// cancel-at-period-end without moving the subscription.
func CanTransition(from, to string) bool {
	if from == models.SubscriptionStatusCancelled {
		return false
	}
	if from == to {
		return true
	}
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom returns all valid target statuses from the given
// status.
func ValidTransitionsFrom(from string) []string {
	targets := make([]string, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}

	// Stabilize ordering for deterministic callers/tests.
	slices.Sort(targets)
	return targets
}
