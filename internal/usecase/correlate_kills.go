package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/V4T54L/killwatch/internal/adapter/metrics"
	"github.com/V4T54L/killwatch/internal/domain"
)

const defaultEnrichmentTimeout = 30 * time.Second

// CorrelatorOptions holds the optional collaborators of a KillCorrelator.
type CorrelatorOptions struct {
	// EnrichmentTimeout bounds the wait for all lookups of one event. Lookups still
	// outstanding when it expires are treated as failed.
	EnrichmentTimeout time.Duration
	Journal           domain.LedgerJournal
	Metrics           *metrics.PipelineMetrics
}

// KillCorrelator deduplicates canonical kill events across providers, enriches them
// with identity data and hands one KillSummary per unique event to the sink.
type KillCorrelator struct {
	ctx        context.Context
	systems    domain.SystemResolver
	identities domain.IdentityResolver
	sink       domain.SummarySink
	ledger     *Ledger
	journal    domain.LedgerJournal
	logger     *slog.Logger
	metrics    *metrics.PipelineMetrics
	timeout    time.Duration

	wg        sync.WaitGroup
	inFlight  atomic.Int64
	compactMu sync.Mutex
}

// NewKillCorrelator creates a correlator whose tasks live as long as ctx.
func NewKillCorrelator(
	ctx context.Context,
	systems domain.SystemResolver,
	identities domain.IdentityResolver,
	sink domain.SummarySink,
	ledger *Ledger,
	logger *slog.Logger,
	opts CorrelatorOptions,
) *KillCorrelator {
	if opts.EnrichmentTimeout <= 0 {
		opts.EnrichmentTimeout = defaultEnrichmentTimeout
	}
	return &KillCorrelator{
		ctx:        ctx,
		systems:    systems,
		identities: identities,
		sink:       sink,
		ledger:     ledger,
		journal:    opts.Journal,
		logger:     logger.With("component", "kill_correlator"),
		metrics:    opts.Metrics,
		timeout:    opts.EnrichmentTimeout,
	}
}

// Submit accepts one event and processes it in the background.
// Effects are only observable through the sink.
func (c *KillCorrelator) Submit(event domain.CanonicalKillEvent) {
	c.wg.Add(1)
	c.trackInFlight(1)
	go func() {
		defer c.wg.Done()
		defer c.trackInFlight(-1)
		c.Process(c.ctx, event)
	}()
}

// Wait blocks until every submitted event has finished processing.
func (c *KillCorrelator) Wait() {
	c.wg.Wait()
}

// InFlight returns the number of submitted events still being processed.
func (c *KillCorrelator) InFlight() int64 {
	return c.inFlight.Load()
}

// LedgerSize returns the number of event ids currently remembered.
func (c *KillCorrelator) LedgerSize() int {
	return c.ledger.Len()
}

// Process runs one event through system resolution, enrichment and the dedup commit.
// It reports whether a summary was delivered to the sink.
func (c *KillCorrelator) Process(ctx context.Context, event domain.CanonicalKillEvent) bool {
	log := c.logger.With("event_id", event.EventID, "provider", event.Provider)

	systemName, ok := c.systems.ResolveSystemName(event.SystemID)
	if !ok {
		log.Debug("system not tracked, dropping kill", "system_id", event.SystemID)
		c.countOutcome("unresolved_system")
		return false
	}

	enrichCtx, cancel := context.WithTimeout(ctx, c.timeout)
	started := time.Now()
	found := c.enrich(enrichCtx, log, event)
	cancel()
	if c.metrics != nil {
		c.metrics.EnrichmentDuration.Observe(time.Since(started).Seconds())
	}
	if ctx.Err() != nil {
		log.Debug("shutting down, dropping kill before commit")
		return false
	}

	summary := assembleSummary(event, systemName, found)

	entry, created := c.ledger.CommitOnce(event.EventID, event.Provider, func() {
		c.sink.Accept(summary)
	})
	if c.metrics != nil {
		c.metrics.LedgerSize.Set(float64(c.ledger.Len()))
	}
	if !created {
		log.Debug("kill already seen, discarding", "first_provider", entry.Provider, "first_seen_at", entry.CommittedAt)
		c.countOutcome("duplicate")
		return false
	}

	c.countOutcome("delivered")
	log.Debug("kill summary delivered", "system", systemName, "attackers", len(event.Attackers))

	if c.journal != nil {
		c.journalEntry(ctx, log, entry)
	}
	return true
}

// journalEntry appends a committed entry. A full journal is compacted from the ledger,
// which already holds the entry, so nothing is written again afterwards.
func (c *KillCorrelator) journalEntry(ctx context.Context, log *slog.Logger, entry domain.LedgerEntry) {
	err := c.journal.Write(ctx, entry)
	if err == nil {
		return
	}
	if !errors.Is(err, domain.ErrJournalFull) {
		log.Warn("failed to journal ledger entry", "error", err)
		return
	}

	c.compactMu.Lock()
	defer c.compactMu.Unlock()
	kept, err := CompactJournal(ctx, c.ledger, c.journal)
	if err != nil {
		log.Error("ledger journal is full and could not be compacted", "error", err)
		return
	}
	log.Info("ledger journal was full, compacted it", "entries", kept)
}

// lookups holds the results of one event's enrichment fan-out.
type lookups struct {
	mu             sync.Mutex
	victim         *domain.CharacterIdentity
	victimCorp     *domain.EntityIdentity
	victimAlliance *domain.EntityIdentity
	victimStanding domain.Standing
	characters     map[int64]domain.CharacterIdentity
	ships          map[int64]string
}

// enrich runs every lookup for the event concurrently and joins them, giving up on
// whatever is still outstanding when ctx expires.
func (c *KillCorrelator) enrich(ctx context.Context, log *slog.Logger, event domain.CanonicalKillEvent) *lookups {
	res := &lookups{
		victimStanding: domain.StandingNeutral,
		characters:     make(map[int64]domain.CharacterIdentity),
		ships:          make(map[int64]string),
	}
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.enrichVictim(ctx, log, event.Victim, res)
	}()

	for _, id := range uniqueIDs(attackerCharacters(event.Attackers)) {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			ident, ok := c.identities.GetCharacterIdentity(ctx, id)
			if !ok {
				c.lookupFailed(log, "character", id)
				return
			}
			res.mu.Lock()
			res.characters[id] = ident
			res.mu.Unlock()
		}(id)
	}

	ships := append([]*int64{event.Victim.ShipTypeID}, attackerShips(event.Attackers)...)
	for _, id := range uniqueIDs(ships) {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			name, ok := c.identities.GetShipDisplayName(ctx, id)
			if !ok {
				c.lookupFailed(log, "ship", id)
				return
			}
			res.mu.Lock()
			res.ships[id] = name
			res.mu.Unlock()
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("enrichment did not finish in time, continuing with partial data", "error", ctx.Err())
	}
	return res.snapshot()
}

// enrichVictim resolves the victim's character. Corporation and alliance are only looked
// up directly when there is no character or the character lookup failed.
func (c *KillCorrelator) enrichVictim(ctx context.Context, log *slog.Logger, v domain.Victim, res *lookups) {
	if v.CharacterID != nil {
		ident, ok := c.identities.GetCharacterIdentity(ctx, *v.CharacterID)
		if ok {
			res.mu.Lock()
			res.victim = &ident
			res.victimStanding = ident.Standing
			res.mu.Unlock()
			return
		}
		c.lookupFailed(log, "character", *v.CharacterID)
	}

	var wg sync.WaitGroup
	if v.CorporationID != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			corp, ok := c.identities.GetCorporationIdentity(ctx, *v.CorporationID)
			if !ok {
				c.lookupFailed(log, "corporation", *v.CorporationID)
				return
			}
			res.mu.Lock()
			res.victimCorp = &corp
			res.mu.Unlock()
		}()
	}
	if v.AllianceID != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alliance, ok := c.identities.GetAllianceIdentity(ctx, *v.AllianceID)
			if !ok {
				c.lookupFailed(log, "alliance", *v.AllianceID)
				return
			}
			res.mu.Lock()
			res.victimAlliance = &alliance
			res.mu.Unlock()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		standing := c.identities.GetStanding(ctx, v.AllianceID, v.CorporationID, v.CharacterID)
		res.mu.Lock()
		res.victimStanding = standing
		res.mu.Unlock()
	}()
	wg.Wait()
}

func (c *KillCorrelator) lookupFailed(log *slog.Logger, kind string, id int64) {
	log.Info("lookup returned nothing, leaving field unknown", "lookup", kind, "id", id)
	if c.metrics != nil {
		c.metrics.EnrichmentFailures.WithLabelValues(kind).Inc()
	}
}

func (c *KillCorrelator) countOutcome(status string) {
	if c.metrics != nil {
		c.metrics.CorrelatedTotal.WithLabelValues(status).Inc()
	}
}

func (c *KillCorrelator) trackInFlight(delta int64) {
	n := c.inFlight.Add(delta)
	if c.metrics != nil {
		c.metrics.EventsInFlight.Set(float64(n))
	}
}

// snapshot copies the results so that lookups finishing after a timeout cannot
// change what has already been assembled.
func (l *lookups) snapshot() *lookups {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := &lookups{
		victim:         l.victim,
		victimCorp:     l.victimCorp,
		victimAlliance: l.victimAlliance,
		victimStanding: l.victimStanding,
		characters:     make(map[int64]domain.CharacterIdentity, len(l.characters)),
		ships:          make(map[int64]string, len(l.ships)),
	}
	for k, v := range l.characters {
		out.characters[k] = v
	}
	for k, v := range l.ships {
		out.ships[k] = v
	}
	return out
}

func attackerCharacters(attackers []domain.Attacker) []*int64 {
	ids := make([]*int64, 0, len(attackers))
	for _, a := range attackers {
		ids = append(ids, a.CharacterID)
	}
	return ids
}

func attackerShips(attackers []domain.Attacker) []*int64 {
	ids := make([]*int64, 0, len(attackers))
	for _, a := range attackers {
		ids = append(ids, a.ShipTypeID)
	}
	return ids
}

func uniqueIDs(ids []*int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == nil {
			continue
		}
		if _, ok := seen[*id]; ok {
			continue
		}
		seen[*id] = struct{}{}
		out = append(out, *id)
	}
	return out
}
