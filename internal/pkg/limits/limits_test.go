package limits

import (
	"testing"

	"github.com/JanKoller/TicketHive/app/models"
)

func TestEvaluateUnlimitedPlanAlwaysAllows(t *testing.T) {
	lim := PlanLimits{
		ActiveTickets:    models.LimitUnlimited,
		CompletedTickets: models.LimitUnlimited,
		TotalTickets:     models.LimitUnlimited,
	}

	usages := []UsageStats{
		{},
		{ActiveTickets: 100000, CompletedTickets: 100000, TotalTickets: 100000},
	}
	for _, usage := range usages {
		d := Evaluate(usage, lim, Delta{Active: 500, Completed: 500})
		if !d.Allowed {
			t.Fatalf("expected unlimited plan to allow, got %+v", d)
		}
		if d.IsNearLimit || d.IsAtLimit {
			t.Fatalf("unlimited plan must never report near/at limit, got %+v", d)
		}
		if d.Active.PercentUsed != 0 || d.Total.PercentUsed != 0 {
			t.Fatalf("unlimited dimensions must report 0%% used, got %+v", d)
		}
	}
}

func TestEvaluateCreation(t *testing.T) {
	tests := []struct {
		name      string
		usage     UsageStats
		lim       PlanLimits
		delta     Delta
		allowed   bool
		limitType LimitType
	}{
		{
			name:      "under active limit",
			usage:     UsageStats{ActiveTickets: 2, TotalTickets: 2},
			lim:       PlanLimits{ActiveTickets: 3, TotalTickets: 10},
			delta:     Delta{Active: 1},
			allowed:   true,
			limitType: LimitTypeNone,
		},
		{
			name:      "fourth ticket on active limit 3",
			usage:     UsageStats{ActiveTickets: 3, TotalTickets: 3},
			lim:       PlanLimits{ActiveTickets: 3, TotalTickets: 10},
			delta:     Delta{Active: 1},
			allowed:   false,
			limitType: LimitTypeActive,
		},
		{
			name:      "active checked before total",
			usage:     UsageStats{ActiveTickets: 3, TotalTickets: 3},
			lim:       PlanLimits{ActiveTickets: 3, TotalTickets: 3},
			delta:     Delta{Active: 1},
			allowed:   false,
			limitType: LimitTypeActive,
		},
		{
			name:      "total limit violated",
			usage:     UsageStats{ActiveTickets: 1, TotalTickets: 9},
			lim:       PlanLimits{ActiveTickets: 5, TotalTickets: 9},
			delta:     Delta{Active: 1},
			allowed:   false,
			limitType: LimitTypeTotal,
		},
		{
			name:      "unlimited active dimension",
			usage:     UsageStats{ActiveTickets: 50, TotalTickets: 50},
			lim:       PlanLimits{ActiveTickets: models.LimitUnlimited, TotalTickets: 100},
			delta:     Delta{Active: 1},
			allowed:   true,
			limitType: LimitTypeNone,
		},
		{
			name:      "zero limit leaves dimension unenforced",
			usage:     UsageStats{ActiveTickets: 50, TotalTickets: 50},
			lim:       PlanLimits{ActiveTickets: 0, TotalTickets: 0},
			delta:     Delta{Active: 1},
			allowed:   true,
			limitType: LimitTypeNone,
		},
	}

	for _, tt := range tests {
		d := Evaluate(tt.usage, tt.lim, tt.delta)
		if d.Allowed != tt.allowed || d.LimitType != tt.limitType {
			t.Fatalf("%s: got allowed=%v limitType=%q, want allowed=%v limitType=%q",
				tt.name, d.Allowed, d.LimitType, tt.allowed, tt.limitType)
		}
	}
}

func TestEvaluateCompletion(t *testing.T) {
	lim := PlanLimits{CompletedTickets: 5}

	d := Evaluate(UsageStats{CompletedTickets: 4}, lim, Delta{Completed: 1})
	if !d.Allowed {
		t.Fatalf("expected fifth completion to be allowed, got %+v", d)
	}

	d = Evaluate(UsageStats{CompletedTickets: 5}, lim, Delta{Completed: 1})
	if d.Allowed || d.LimitType != LimitTypeCompleted {
		t.Fatalf("expected completion denial with limitType=completed, got %+v", d)
	}
}

func TestEvaluateBulkIsAtomic(t *testing.T) {
	lim := PlanLimits{ActiveTickets: 10}
	usage := UsageStats{ActiveTickets: 8, TotalTickets: 8}

	// 2 more fit, 3 do not; the batch of 3 must be rejected in full.
	if d := Evaluate(usage, lim, Delta{Active: 2}); !d.Allowed {
		t.Fatalf("expected batch of 2 to be allowed, got %+v", d)
	}
	if d := Evaluate(usage, lim, Delta{Active: 3}); d.Allowed {
		t.Fatalf("expected batch of 3 to be rejected atomically, got %+v", d)
	}
}

func TestPercentUsed(t *testing.T) {
	tests := []struct {
		current int
		limit   int
		want    float64
	}{
		{current: 0, limit: 10, want: 0},
		{current: 5, limit: 10, want: 50},
		{current: 10, limit: 10, want: 100},
		{current: 25, limit: 10, want: 100}, // capped
		{current: 5, limit: models.LimitUnlimited, want: 0},
		{current: 5, limit: 0, want: 0},
	}
	for _, tt := range tests {
		if got := PercentUsed(tt.current, tt.limit); got != tt.want {
			t.Fatalf("PercentUsed(%d, %d) = %v, want %v", tt.current, tt.limit, got, tt.want)
		}
	}
}

func TestPercentUsedMonotonic(t *testing.T) {
	prev := 0.0
	for current := 0; current <= 30; current++ {
		got := PercentUsed(current, 20)
		if got < prev {
			t.Fatalf("PercentUsed not monotonic at current=%d: %v < %v", current, got, prev)
		}
		prev = got
	}
}

func TestNearAndAtLimit(t *testing.T) {
	lim := PlanLimits{ActiveTickets: 4}

	d := Evaluate(UsageStats{ActiveTickets: 2}, lim, Delta{})
	if d.IsNearLimit || d.IsAtLimit {
		t.Fatalf("50%% usage must not be near limit, got %+v", d)
	}

	d = Evaluate(UsageStats{ActiveTickets: 3}, lim, Delta{})
	if !d.IsNearLimit || d.IsAtLimit {
		t.Fatalf("75%% usage must be near but not at limit, got %+v", d)
	}

	d = Evaluate(UsageStats{ActiveTickets: 4}, lim, Delta{})
	if !d.IsAtLimit {
		t.Fatalf("100%% usage must be at limit, got %+v", d)
	}
}

func TestMergePrecedence(t *testing.T) {
	plan := PlanLimits{ActiveTickets: 3, CompletedTickets: 10, TotalTickets: 50}

	override := 20
	unlimited := models.LimitUnlimited

	merged := Merge(plan, &override, nil, &unlimited)
	if merged.ActiveTickets != 20 {
		t.Fatalf("expected override to win for active, got %d", merged.ActiveTickets)
	}
	if merged.CompletedTickets != 10 {
		t.Fatalf("expected plan default for completed, got %d", merged.CompletedTickets)
	}
	if merged.TotalTickets != models.LimitUnlimited {
		t.Fatalf("expected explicit -1 override to lift total cap, got %d", merged.TotalTickets)
	}
}
