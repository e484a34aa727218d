package limits

import (
	"github.com/JanKoller/TicketHive/app/models"
)

// NearLimitThresholdPercent is the usage percentage at which customers get
// warned about an approaching cap.
const NearLimitThresholdPercent = 75.0

// LimitType identifies the dimension a decision or denial refers to.
type LimitType string

const (
	LimitTypeNone      LimitType = ""
	LimitTypeActive    LimitType = "active"
	LimitTypeCompleted LimitType = "completed"
	LimitTypeTotal     LimitType = "total"
)

// EnforcementMode controls how entry points behave when the enforcement
// subsystem itself fails. FailOpen preserves the product's availability-first
// posture: internal errors allow the action. Strict surfaces them.
type EnforcementMode int

const (
	FailOpen EnforcementMode = iota
	Strict
)

// PlanLimits are the effective caps for one subscription after merging
// overrides over plan defaults. models.LimitUnlimited (-1) lifts a
// dimension's cap; a zero value leaves the dimension unenforced.
type PlanLimits struct {
	ActiveTickets    int `json:"active_tickets"`
	CompletedTickets int `json:"completed_tickets"`
	TotalTickets     int `json:"total_tickets"`
}

// Unlimited reports whether every dimension is uncapped, which
// short-circuits evaluation to always-allow regardless of usage.
func (l PlanLimits) Unlimited() bool {
	return l.ActiveTickets == models.LimitUnlimited &&
		l.CompletedTickets == models.LimitUnlimited &&
		l.TotalTickets == models.LimitUnlimited
}

// UsageStats are derived consumption counts for one subscription.
type UsageStats struct {
	ActiveTickets    int `json:"active_tickets"`
	CompletedTickets int `json:"completed_tickets"`
	ArchivedTickets  int `json:"archived_tickets"`
	TotalTickets     int `json:"total_tickets"`
}

// Delta is the requested consumption change. Bulk operations pass their full
// size so a batch is approved or rejected atomically, never partially.
type Delta struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

// DimensionUsage reports one dimension's position against its cap.
type DimensionUsage struct {
	Current     int     `json:"current"`
	Limit       int     `json:"limit"`
	PercentUsed float64 `json:"percent_used"`
}

// Decision is the outcome of a limit evaluation. It carries enough detail
// for API responses (429 payloads) and near-limit warnings.
type Decision struct {
	Allowed     bool           `json:"allowed"`
	LimitType   LimitType      `json:"limit_type,omitempty"`
	IsNearLimit bool           `json:"is_near_limit"`
	IsAtLimit   bool           `json:"is_at_limit"`
	Active      DimensionUsage `json:"active"`
	Completed   DimensionUsage `json:"completed"`
	Total       DimensionUsage `json:"total"`
}

// PercentUsed returns min(100, current/limit*100), or 0 when the dimension
// is unlimited or unenforced.
func PercentUsed(current, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	pct := float64(current) / float64(limit) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// Evaluate is a pure decision function over the supplied snapshot. It has no
// side effects; callers must re-read usage at decision time so the
// read-then-decide-then-write window stays as small as possible.
//
// Creation checks the active dimension before total; the first violated
// dimension is reported as LimitType. Completion checks the completed
// dimension only.
func Evaluate(usage UsageStats, lim PlanLimits, delta Delta) Decision {
	d := Decision{
		Allowed:   true,
		Active:    DimensionUsage{Current: usage.ActiveTickets, Limit: lim.ActiveTickets, PercentUsed: PercentUsed(usage.ActiveTickets, lim.ActiveTickets)},
		Completed: DimensionUsage{Current: usage.CompletedTickets, Limit: lim.CompletedTickets, PercentUsed: PercentUsed(usage.CompletedTickets, lim.CompletedTickets)},
		Total:     DimensionUsage{Current: usage.TotalTickets, Limit: lim.TotalTickets, PercentUsed: PercentUsed(usage.TotalTickets, lim.TotalTickets)},
	}

	if lim.Unlimited() {
		return d
	}

	d.IsNearLimit = d.Active.PercentUsed >= NearLimitThresholdPercent ||
		d.Completed.PercentUsed >= NearLimitThresholdPercent ||
		d.Total.PercentUsed >= NearLimitThresholdPercent
	d.IsAtLimit = atLimit(usage.ActiveTickets, lim.ActiveTickets) ||
		atLimit(usage.CompletedTickets, lim.CompletedTickets) ||
		atLimit(usage.TotalTickets, lim.TotalTickets)

	if delta.Active > 0 {
		if lim.ActiveTickets > 0 && usage.ActiveTickets+delta.Active > lim.ActiveTickets {
			d.Allowed = false
			d.LimitType = LimitTypeActive
			return d
		}
		if lim.TotalTickets > 0 && usage.TotalTickets+delta.Active > lim.TotalTickets {
			d.Allowed = false
			d.LimitType = LimitTypeTotal
			return d
		}
	}

	if delta.Completed > 0 {
		if lim.CompletedTickets > 0 && usage.CompletedTickets+delta.Completed > lim.CompletedTickets {
			d.Allowed = false
			d.LimitType = LimitTypeCompleted
			return d
		}
	}

	return d
}

func atLimit(current, limit int) bool {
	return limit > 0 && current >= limit
}

// Merge applies override values over plan defaults. Precedence:
// subscription override > plan limit > free-tier fallback supplied by the
// caller. A nil override leaves the plan value in place; an explicit -1
// override lifts the cap.
func Merge(plan PlanLimits, overrideActive, overrideCompleted, overrideTotal *int) PlanLimits {
	out := plan
	if overrideActive != nil {
		out.ActiveTickets = *overrideActive
	}
	if overrideCompleted != nil {
		out.CompletedTickets = *overrideCompleted
	}
	if overrideTotal != nil {
		out.TotalTickets = *overrideTotal
	}
	return out
}
