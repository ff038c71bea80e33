package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/V4T54L/killwatch/internal/domain"
)

var errNotFound = errors.New("not found")

// StandingSource rates a pilot from its alliance, corporation and character ids.
type StandingSource interface {
	Level(allianceID, corporationID, characterID *int64) domain.Standing
}

// ESIOptions configures the ESI resolver.
type ESIOptions struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// RatePerSecond and Burst bound outgoing requests. A zero rate disables limiting.
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// ESIResolver looks up characters, corporations, alliances and ship types on the
// public ESI API and rates pilots from a standings source.
type ESIResolver struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	standings StandingSource
	logger    *slog.Logger
}

// NewESIResolver creates an ESI-backed identity resolver.
func NewESIResolver(opts ESIOptions, standings StandingSource, logger *slog.Logger) *ESIResolver {
	client := opts.HTTPClient
	if client == nil {
		client = newHTTPClient(opts.Timeout)
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &ESIResolver{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		client:    client,
		limiter:   rate.NewLimiter(limit, burst),
		standings: standings,
		logger:    logger.With("component", "esi_resolver"),
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

type esiCharacter struct {
	Name          string `json:"name"`
	CorporationID int64  `json:"corporation_id"`
	AllianceID    int64  `json:"alliance_id"`
}

type esiEntity struct {
	Name       string `json:"name"`
	Ticker     string `json:"ticker"`
	AllianceID int64  `json:"alliance_id"`
}

type esiType struct {
	Name string `json:"name"`
}

// GetCharacterIdentity resolves a character together with its corporation and alliance.
// The character fails as a whole when its corporation cannot be resolved.
func (r *ESIResolver) GetCharacterIdentity(ctx context.Context, characterID int64) (domain.CharacterIdentity, bool) {
	var ch esiCharacter
	if !r.fetch(ctx, fmt.Sprintf("/characters/%d/", characterID), &ch) || ch.CorporationID <= 0 {
		return domain.CharacterIdentity{}, false
	}
	var corp esiEntity
	if !r.fetch(ctx, fmt.Sprintf("/corporations/%d/", ch.CorporationID), &corp) {
		return domain.CharacterIdentity{}, false
	}

	identity := domain.CharacterIdentity{
		CharacterID:       characterID,
		Name:              ch.Name,
		CorporationID:     ch.CorporationID,
		CorporationName:   corp.Name,
		CorporationTicker: corp.Ticker,
	}
	allianceID := ch.AllianceID
	if allianceID <= 0 {
		allianceID = corp.AllianceID
	}
	identity.AllianceID = domain.ID(allianceID)
	if alliance, ok := r.GetAllianceIdentity(ctx, allianceID); ok {
		identity.AllianceName = alliance.Name
		identity.AllianceTicker = alliance.Ticker
	}
	identity.Standing = r.standings.Level(identity.AllianceID, domain.ID(ch.CorporationID), domain.ID(characterID))
	return identity, true
}

// GetCorporationIdentity resolves a corporation's name and ticker.
func (r *ESIResolver) GetCorporationIdentity(ctx context.Context, corporationID int64) (domain.EntityIdentity, bool) {
	return r.entity(ctx, "corporations", corporationID)
}

// GetAllianceIdentity resolves an alliance's name and ticker.
func (r *ESIResolver) GetAllianceIdentity(ctx context.Context, allianceID int64) (domain.EntityIdentity, bool) {
	return r.entity(ctx, "alliances", allianceID)
}

// GetShipDisplayName resolves an inventory type id to its name.
func (r *ESIResolver) GetShipDisplayName(ctx context.Context, typeID int64) (string, bool) {
	var t esiType
	if typeID <= 0 || !r.fetch(ctx, fmt.Sprintf("/universe/types/%d/", typeID), &t) || t.Name == "" {
		return "", false
	}
	return t.Name, true
}

// GetStanding rates a pilot from the standings source. It makes no request.
func (r *ESIResolver) GetStanding(_ context.Context, allianceID, corporationID, characterID *int64) domain.Standing {
	return r.standings.Level(allianceID, corporationID, characterID)
}

func (r *ESIResolver) entity(ctx context.Context, kind string, id int64) (domain.EntityIdentity, bool) {
	var e esiEntity
	if id <= 0 || !r.fetch(ctx, fmt.Sprintf("/%s/%d/", kind, id), &e) {
		return domain.EntityIdentity{}, false
	}
	return domain.EntityIdentity{ID: id, Name: e.Name, Ticker: e.Ticker}, true
}

// fetch GETs path and decodes the JSON body into out, reporting whether it succeeded.
func (r *ESIResolver) fetch(ctx context.Context, path string, out any) bool {
	err := r.get(ctx, path, out)
	switch {
	case err == nil:
		return true
	case errors.Is(err, errNotFound):
		r.logger.Debug("ESI entity not found", "path", path)
	case ctx.Err() != nil:
		r.logger.Debug("ESI request abandoned", "path", path, "error", ctx.Err())
	default:
		r.logger.Warn("ESI request failed", "path", path, "error", err)
	}
	return false
}

func (r *ESIResolver) get(ctx context.Context, path string, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return errNotFound
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
