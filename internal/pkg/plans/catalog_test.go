package plans

import (
	"testing"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/limits"
)

func TestNormalizeSlug(t *testing.T) {
	cases := map[string]string{
		"starter":  SlugStarter,
		" Team ":   SlugTeam,
		"PRO":      SlugPro,
		"free":     SlugFree,
		"":         SlugFree,
		"whatever": SlugFree,
	}
	for in, want := range cases {
		if got := NormalizeSlug(in); got != want {
			t.Errorf("NormalizeSlug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRankOrdering(t *testing.T) {
	if !(Rank(SlugFree) < Rank(SlugStarter) && Rank(SlugStarter) < Rank(SlugTeam) && Rank(SlugTeam) < Rank(SlugPro)) {
		t.Fatalf("tier ranks are not strictly increasing: %d %d %d %d",
			Rank(SlugFree), Rank(SlugStarter), Rank(SlugTeam), Rank(SlugPro))
	}
	if Rank("unknown") != Rank(SlugFree) {
		t.Errorf("unknown slug should rank as free")
	}
}

func TestNormalizeInterval(t *testing.T) {
	cases := map[string]string{
		"month":  models.BillingIntervalMonth,
		" Year ": models.BillingIntervalYear,
		"weekly": models.BillingIntervalUnknown,
		"":       models.BillingIntervalUnknown,
	}
	for in, want := range cases {
		if got := NormalizeInterval(in); got != want {
			t.Errorf("NormalizeInterval(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsEntitlingStatus(t *testing.T) {
	entitling := []string{
		models.SubscriptionStatusTrial,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue,
	}
	for _, s := range entitling {
		if !IsEntitlingStatus(s) {
			t.Errorf("IsEntitlingStatus(%q) = false, want true", s)
		}
	}
	notEntitling := []string{
		models.SubscriptionStatusSuspended,
		models.SubscriptionStatusCancelled,
		"",
	}
	for _, s := range notEntitling {
		if IsEntitlingStatus(s) {
			t.Errorf("IsEntitlingStatus(%q) = true, want false", s)
		}
	}
}

func TestLimitsFallsBackToFreeTier(t *testing.T) {
	if got := Limits(nil); got != FallbackFreeLimits {
		t.Errorf("Limits(nil) = %+v, want free fallback %+v", got, FallbackFreeLimits)
	}
	p := &models.Plan{MaxActiveTickets: 10, MaxCompletedTickets: -1, MaxTotalTickets: 100}
	got := Limits(p)
	if got.ActiveTickets != 10 || got.CompletedTickets != models.LimitUnlimited || got.TotalTickets != 100 {
		t.Errorf("Limits(plan) = %+v", got)
	}
}

func TestSuggestedUpgrades(t *testing.T) {
	starter := models.Plan{ID: 1, Slug: SlugStarter, SortRank: 1, IsActive: true, MaxActiveTickets: 3}
	team := models.Plan{ID: 2, Slug: SlugTeam, SortRank: 2, IsActive: true, MaxActiveTickets: 25}
	pro := models.Plan{ID: 3, Slug: SlugPro, SortRank: 3, IsActive: true, MaxActiveTickets: models.LimitUnlimited}
	retired := models.Plan{ID: 4, Slug: "legacy", SortRank: 4, IsActive: false, MaxActiveTickets: 500}
	all := []models.Plan{starter, team, pro, retired}

	out := SuggestedUpgrades(all, &starter, limits.LimitTypeActive)
	if len(out) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(out))
	}
	if out[0].Slug != SlugTeam || out[1].Slug != SlugPro {
		t.Errorf("unexpected suggestion order: %s, %s", out[0].Slug, out[1].Slug)
	}

	// Without a current plan every active tier relieves the free fallback.
	out = SuggestedUpgrades(all, nil, limits.LimitTypeActive)
	if len(out) != 3 {
		t.Errorf("expected 3 suggestions for plan-less customer, got %d", len(out))
	}
}
