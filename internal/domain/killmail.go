package domain

import "time"

// Provider identifies an external kill-feed provider.
type Provider string

const (
	ProviderZKillboard Provider = "zkillboard"
	ProviderEveKill    Provider = "evekill"
)

// RawFeedMessage is a provider payload exactly as it came off the wire.
type RawFeedMessage struct {
	Provider   Provider
	Payload    []byte
	ReceivedAt time.Time
}

// CanonicalKillEvent is the provider-independent shape of a single kill.
// EventID, OccurredAt and SystemID are always set; a normalizer never builds
// an event without them.
type CanonicalKillEvent struct {
	EventID    string     `json:"event_id"`
	Provider   Provider   `json:"provider"`
	OccurredAt time.Time  `json:"occurred_at"`
	SystemID   int64      `json:"system_id"`
	SourceURL  string     `json:"source_url,omitempty"`
	Victim     Victim     `json:"victim"`
	Attackers  []Attacker `json:"attackers,omitempty"`
}

// Victim holds the optional identity of the destroyed ship's owner.
type Victim struct {
	CharacterID   *int64 `json:"character_id,omitempty"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	ShipTypeID    *int64 `json:"ship_type_id,omitempty"`
}

// Attacker is one participant on the killing side.
type Attacker struct {
	CharacterID *int64 `json:"character_id,omitempty"`
	ShipTypeID  *int64 `json:"ship_type_id,omitempty"`
}

// LedgerEntry records which provider first delivered an event and when it was committed.
type LedgerEntry struct {
	EventID     string    `json:"event_id"`
	Provider    Provider  `json:"provider"`
	CommittedAt time.Time `json:"committed_at"`
}

// ID returns a pointer to id, or nil when id is a provider "no id" sentinel (zero or negative).
func ID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
