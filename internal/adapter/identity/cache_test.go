package identity

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/V4T54L/killwatch/internal/adapter/metrics"
	"github.com/V4T54L/killwatch/internal/domain"
	"github.com/V4T54L/killwatch/internal/domain/mocks"
)

func TestCachedResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("hits are served from cache until expiry", func(t *testing.T) {
		next := &mocks.MockIdentityResolver{
			Characters: map[int64]domain.CharacterIdentity{90000001: {CharacterID: 90000001, Name: "Pilot"}},
			Ships:      map[int64]string{587: "Rifter"},
		}
		m := metrics.NewPipelineMetrics(prometheus.NewRegistry())
		r := NewCachedResolver(next, time.Minute, m)
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		r.now = func() time.Time { return now }

		for i := 0; i < 3; i++ {
			if c, ok := r.GetCharacterIdentity(ctx, 90000001); !ok || c.Name != "Pilot" {
				t.Fatalf("GetCharacterIdentity() = %+v, %v", c, ok)
			}
			if name, ok := r.GetShipDisplayName(ctx, 587); !ok || name != "Rifter" {
				t.Fatalf("GetShipDisplayName() = %q, %v", name, ok)
			}
		}
		if got := next.CallCount("character"); got != 1 {
			t.Errorf("character lookups = %d, want 1", got)
		}
		if got := next.CallCount("ship"); got != 1 {
			t.Errorf("ship lookups = %d, want 1", got)
		}
		if got := testutil.ToFloat64(m.IdentityCacheHits); got != 4 {
			t.Errorf("cache hits = %v, want 4", got)
		}
		if got := testutil.ToFloat64(m.IdentityCacheMisses); got != 2 {
			t.Errorf("cache misses = %v, want 2", got)
		}

		now = now.Add(2 * time.Minute)
		r.GetCharacterIdentity(ctx, 90000001)
		if got := next.CallCount("character"); got != 2 {
			t.Errorf("character lookups after expiry = %d, want 2", got)
		}
	})

	t.Run("failures are not cached", func(t *testing.T) {
		next := &mocks.MockIdentityResolver{}
		r := NewCachedResolver(next, time.Minute, nil)

		if _, ok := r.GetCorporationIdentity(ctx, 98000001); ok {
			t.Fatal("expected miss")
		}
		next.Corporations = map[int64]domain.EntityIdentity{98000001: {ID: 98000001, Name: "Corp", Ticker: "CRP"}}
		c, ok := r.GetCorporationIdentity(ctx, 98000001)
		if !ok || c.Ticker != "CRP" {
			t.Fatalf("GetCorporationIdentity() = %+v, %v", c, ok)
		}
		if got := next.CallCount("corporation"); got != 2 {
			t.Errorf("corporation lookups = %d, want 2", got)
		}
	})

	t.Run("kinds are cached separately", func(t *testing.T) {
		next := &mocks.MockIdentityResolver{
			Corporations: map[int64]domain.EntityIdentity{1: {ID: 1, Name: "Corp"}},
			Alliances:    map[int64]domain.EntityIdentity{1: {ID: 1, Name: "Alliance"}},
		}
		r := NewCachedResolver(next, time.Minute, nil)
		corp, _ := r.GetCorporationIdentity(ctx, 1)
		alliance, _ := r.GetAllianceIdentity(ctx, 1)
		if corp.Name != "Corp" || alliance.Name != "Alliance" {
			t.Errorf("got corp %q alliance %q", corp.Name, alliance.Name)
		}
	})

	t.Run("standing passes through", func(t *testing.T) {
		next := &mocks.MockIdentityResolver{Standings: map[int64]domain.Standing{5: domain.StandingBad}}
		r := NewCachedResolver(next, time.Minute, nil)
		if got := r.GetStanding(ctx, nil, domain.ID(5), nil); got != domain.StandingBad {
			t.Errorf("GetStanding() = %v, want bad", got)
		}
	})

	t.Run("purge removes expired entries", func(t *testing.T) {
		next := &mocks.MockIdentityResolver{Ships: map[int64]string{587: "Rifter", 621: "Caracal"}}
		r := NewCachedResolver(next, time.Minute, nil)
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		r.now = func() time.Time { return now }
		r.GetShipDisplayName(ctx, 587)
		now = now.Add(30 * time.Second)
		r.GetShipDisplayName(ctx, 621)
		now = now.Add(45 * time.Second)

		if removed := r.Purge(); removed != 1 {
			t.Errorf("Purge() = %d, want 1", removed)
		}
		r.GetShipDisplayName(ctx, 621)
		if got := next.CallCount("ship"); got != 2 {
			t.Errorf("ship lookups = %d, want 2", got)
		}
	})
}
