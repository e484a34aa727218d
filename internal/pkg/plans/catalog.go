package plans

import (
	"strings"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/limits"
)

// Well-known tier slugs. The catalog itself lives in the database; these
// cover callers that only hold a raw slug string.
const (
	SlugFree    = "free"
	SlugStarter = "starter"
	SlugTeam    = "team"
	SlugPro     = "pro"
)

// NormalizeSlug maps arbitrary input onto a known tier slug, falling back to
// the free tier.
func NormalizeSlug(slug string) string {
	switch strings.ToLower(strings.TrimSpace(slug)) {
	case SlugStarter:
		return SlugStarter
	case SlugTeam:
		return SlugTeam
	case SlugPro:
		return SlugPro
	default:
		return SlugFree
	}
}

// Rank orders the well-known tiers for upgrade comparisons. Database-backed
// plans carry their own SortRank; this covers raw slug strings.
func Rank(slug string) int {
	switch NormalizeSlug(slug) {
	case SlugPro:
		return 3
	case SlugTeam:
		return 2
	case SlugStarter:
		return 1
	default:
		return 0
	}
}

// NormalizeInterval maps processor-reported billing intervals onto the
// catalog's vocabulary.
func NormalizeInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case models.BillingIntervalMonth, models.BillingIntervalYear:
		return strings.ToLower(strings.TrimSpace(interval))
	default:
		return models.BillingIntervalUnknown
	}
}

// IsEntitlingStatus reports whether a subscription in the given status still
// entitles the customer to its plan's limits. Past-due keeps entitlements
// during dunning; suspension and cancellation end them.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusTrial, models.SubscriptionStatusActive, models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// FallbackFreeLimits is the hard-coded lowest-precedence limit source, used
// when a customer has neither a plan nor overrides.
var FallbackFreeLimits = limits.PlanLimits{
	ActiveTickets:    3,
	CompletedTickets: 10,
	TotalTickets:     25,
}

// Limits extracts the raw cap values from a plan. A nil plan yields the
// free fallback.
func Limits(p *models.Plan) limits.PlanLimits {
	if p == nil {
		return FallbackFreeLimits
	}
	return limits.PlanLimits{
		ActiveTickets:    p.MaxActiveTickets,
		CompletedTickets: p.MaxCompletedTickets,
		TotalTickets:     p.MaxTotalTickets,
	}
}

// dimension returns the cap of the given dimension for ranking upgrades.
func dimension(p *models.Plan, lt limits.LimitType) int {
	switch lt {
	case limits.LimitTypeActive:
		return p.MaxActiveTickets
	case limits.LimitTypeCompleted:
		return p.MaxCompletedTickets
	case limits.LimitTypeTotal:
		return p.MaxTotalTickets
	default:
		return 0
	}
}

// SuggestedUpgrades selects active plans that would relieve the violated
// dimension: higher-ranked tiers whose cap on that dimension is either
// unlimited or above the current plan's. The result feeds LimitExceeded
// error payloads.
func SuggestedUpgrades(all []models.Plan, current *models.Plan, lt limits.LimitType) []models.Plan {
	currentRank := 0
	currentCap := 0
	if current != nil {
		currentRank = current.SortRank
		currentCap = dimension(current, lt)
	}

	var out []models.Plan
	for _, p := range all {
		if !p.IsActive {
			continue
		}
		if current != nil && p.ID == current.ID {
			continue
		}
		if p.SortRank <= currentRank {
			continue
		}
		dim := dimension(&p, lt)
		if dim == models.LimitUnlimited || dim > currentCap {
			out = append(out, p)
		}
	}
	return out
}
