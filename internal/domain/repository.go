package domain

import (
	"context"
	"errors"
)

// ErrJournalFull is returned by a LedgerJournal that has reached its size limit.
var ErrJournalFull = errors.New("ledger journal is full")

// SystemResolver maps a solar system id to its display name.
// It reports false for systems that are unknown or of a kind this tool does not track.
type SystemResolver interface {
	ResolveSystemName(systemID int64) (string, bool)
}

// IdentityResolver fetches identity and reputation data for kill participants.
// Implementations report absence with false and never return an error to the caller;
// a failed lookup is indistinguishable from an unknown id.
type IdentityResolver interface {
	GetCharacterIdentity(ctx context.Context, characterID int64) (CharacterIdentity, bool)
	GetCorporationIdentity(ctx context.Context, corporationID int64) (EntityIdentity, bool)
	GetAllianceIdentity(ctx context.Context, allianceID int64) (EntityIdentity, bool)
	GetShipDisplayName(ctx context.Context, typeID int64) (string, bool)

	// GetStanding returns the standing of the most specific id given
	// (character, then corporation, then alliance), or Neutral.
	GetStanding(ctx context.Context, allianceID, corporationID, characterID *int64) Standing
}

// SummarySink receives at most one KillSummary per unique event.
// Accept is called from inside the correlation commit section and must return quickly;
// it must be safe for concurrent use.
type SummarySink interface {
	Accept(summary KillSummary)
}

// SummaryBuffer is a durable queue of delivered summaries consumed by the archiver.
type SummaryBuffer interface {
	// ReadSummaryBatch reads up to count summaries not yet delivered to this consumer.
	ReadSummaryBatch(ctx context.Context, group, consumer string, count int) ([]SummaryRecord, error)

	// AcknowledgeSummaries marks buffered summaries as processed.
	AcknowledgeSummaries(ctx context.Context, group string, messageIDs ...string) error

	// MoveToDLQ parks summaries that could not be archived.
	MoveToDLQ(ctx context.Context, records []SummaryRecord) error
}

// SummaryArchive is the long-term store for kill summaries. Writes are idempotent on event id.
type SummaryArchive interface {
	WriteSummaryBatch(ctx context.Context, summaries []KillSummary) error
}

// LedgerJournal persists dedup ledger commits so they survive a restart.
type LedgerJournal interface {
	// Write appends one committed entry.
	Write(ctx context.Context, entry LedgerEntry) error

	// Replay reads every journaled entry in commit order and passes it to handler.
	Replay(ctx context.Context, handler func(entry LedgerEntry) error) error

	// Truncate removes all journal segments.
	Truncate(ctx context.Context) error
}
