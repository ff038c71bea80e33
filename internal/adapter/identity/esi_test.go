package identity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/V4T54L/killwatch/internal/domain"
)

type fixedStandings map[int64]domain.Standing

func (f fixedStandings) Level(allianceID, corporationID, characterID *int64) domain.Standing {
	for _, id := range []*int64{characterID, corporationID, allianceID} {
		if id == nil {
			continue
		}
		if s, ok := f[*id]; ok {
			return s
		}
	}
	return domain.StandingNeutral
}

func newESIServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	bodies := map[string]string{
		"/characters/90000001/":   `{"name":"Victim Pilot","corporation_id":98000001}`,
		"/characters/90000002/":   `{"name":"Lost Pilot","corporation_id":98000404}`,
		"/corporations/98000001/": `{"name":"Victim Corp","ticker":"VCORP","alliance_id":99000001}`,
		"/characters/90000003/":   `{"name":"Bluish Pilot","corporation_id":98000003,"alliance_id":99000502}`,
		"/corporations/98000003/": `{"name":"Bluish Corp","ticker":"BCORP","alliance_id":99000502}`,
		"/alliances/99000001/":    `{"name":"Victim Alliance","ticker":"VALLY"}`,
		"/universe/types/587/":    `{"name":"Rifter"}`,
		"/universe/types/666/":    `{"name":`,
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		if r.Header.Get("User-Agent") != "killwatch-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		if r.URL.Path == "/universe/types/500/" || r.URL.Path == "/alliances/99000502/" {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
}

func newTestESI(srv *httptest.Server, standings StandingSource, rps float64) *ESIResolver {
	return NewESIResolver(ESIOptions{
		BaseURL:       srv.URL + "/",
		UserAgent:     "killwatch-test",
		Timeout:       time.Second,
		RatePerSecond: rps,
		Burst:         1,
	}, standings, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestESIResolver_GetCharacterIdentity(t *testing.T) {
	srv := newESIServer(t, nil)
	defer srv.Close()
	r := newTestESI(srv, fixedStandings{99000001: domain.StandingTerrible}, 0)
	ctx := context.Background()

	c, ok := r.GetCharacterIdentity(ctx, 90000001)
	if !ok {
		t.Fatal("expected character to resolve")
	}
	if c.Name != "Victim Pilot" || c.CorporationName != "Victim Corp" || c.CorporationTicker != "VCORP" {
		t.Errorf("unexpected corporation fields: %+v", c)
	}
	if c.AllianceID == nil || *c.AllianceID != 99000001 || c.AllianceTicker != "VALLY" {
		t.Errorf("alliance should come from the corporation: %+v", c)
	}
	if c.Standing != domain.StandingTerrible {
		t.Errorf("Standing = %v, want terrible", c.Standing)
	}

	if _, ok := r.GetCharacterIdentity(ctx, 90000002); ok {
		t.Error("character with unresolvable corporation should fail")
	}
	if _, ok := r.GetCharacterIdentity(ctx, 1); ok {
		t.Error("unknown character should fail")
	}
}

func TestESIResolver_AllianceLookupFailureKeepsStanding(t *testing.T) {
	srv := newESIServer(t, nil)
	defer srv.Close()
	r := newTestESI(srv, fixedStandings{99000502: domain.StandingTerrible}, 0)

	c, ok := r.GetCharacterIdentity(context.Background(), 90000003)
	if !ok {
		t.Fatal("expected character to resolve without its alliance name")
	}
	if c.AllianceID == nil || *c.AllianceID != 99000502 {
		t.Errorf("expected alliance id 99000502, got %v", c.AllianceID)
	}
	if c.AllianceName != "" || c.AllianceTicker != "" {
		t.Errorf("expected unknown alliance name, got %q [%s]", c.AllianceName, c.AllianceTicker)
	}
	if c.Standing != domain.StandingTerrible {
		t.Errorf("expected standing from alliance %s, got %s", domain.StandingTerrible, c.Standing)
	}
}

func TestESIResolver_Lookups(t *testing.T) {
	srv := newESIServer(t, nil)
	defer srv.Close()
	r := newTestESI(srv, fixedStandings{98000001: domain.StandingGood}, 0)
	ctx := context.Background()

	if corp, ok := r.GetCorporationIdentity(ctx, 98000001); !ok || corp.ID != 98000001 || corp.Name != "Victim Corp" {
		t.Errorf("GetCorporationIdentity() = %+v, %v", corp, ok)
	}
	if a, ok := r.GetAllianceIdentity(ctx, 99000001); !ok || a.Ticker != "VALLY" {
		t.Errorf("GetAllianceIdentity() = %+v, %v", a, ok)
	}
	if _, ok := r.GetAllianceIdentity(ctx, 0); ok {
		t.Error("zero alliance id should not resolve")
	}
	if name, ok := r.GetShipDisplayName(ctx, 587); !ok || name != "Rifter" {
		t.Errorf("GetShipDisplayName() = %q, %v", name, ok)
	}
	if _, ok := r.GetShipDisplayName(ctx, 500); ok {
		t.Error("server error should not resolve")
	}
	if _, ok := r.GetShipDisplayName(ctx, 666); ok {
		t.Error("truncated body should not resolve")
	}
	if got := r.GetStanding(ctx, nil, domain.ID(98000001), domain.ID(5)); got != domain.StandingGood {
		t.Errorf("GetStanding() = %v, want good", got)
	}
}

func TestESIResolver_RateLimitHonoursContext(t *testing.T) {
	var requests atomic.Int32
	srv := newESIServer(t, &requests)
	defer srv.Close()
	r := newTestESI(srv, fixedStandings{}, 1)

	if _, ok := r.GetShipDisplayName(context.Background(), 587); !ok {
		t.Fatal("first request should pass the limiter")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, ok := r.GetShipDisplayName(ctx, 587); ok {
		t.Error("second request should be held back by the limiter")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}
