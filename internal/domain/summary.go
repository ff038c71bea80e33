package domain

import "time"

// ShipTally counts the attackers of one kill flying the same ship at the same standing.
type ShipTally struct {
	ShipName string   `json:"ship_name"`
	Count    int      `json:"count"`
	Standing Standing `json:"standing"`
}

// PilotSummary is the enriched, display-ready view of one pilot in a kill.
// Fields are empty when the corresponding lookup did not resolve.
type PilotSummary struct {
	CharacterID       *int64   `json:"character_id,omitempty"`
	Name              string   `json:"name,omitempty"`
	CorporationName   string   `json:"corporation_name,omitempty"`
	CorporationTicker string   `json:"corporation_ticker,omitempty"`
	AllianceName      string   `json:"alliance_name,omitempty"`
	AllianceTicker    string   `json:"alliance_ticker,omitempty"`
	ShipName          string   `json:"ship_name,omitempty"`
	Standing          Standing `json:"standing"`
}

// DisplayMetadata carries what a viewer needs to render a kill line.
type DisplayMetadata struct {
	URL               string   `json:"url,omitempty"`
	ShipName          string   `json:"ship_name,omitempty"`
	TypeName          string   `json:"type_name,omitempty"`
	CorporationName   string   `json:"corporation_name,omitempty"`
	CorporationTicker string   `json:"corporation_ticker,omitempty"`
	AllianceName      string   `json:"alliance_name,omitempty"`
	AllianceTicker    string   `json:"alliance_ticker,omitempty"`
	Standing          Standing `json:"standing"`
}

// KillSummary is the unit handed to a SummarySink, one per accepted event.
// It must be treated as immutable once built.
type KillSummary struct {
	EventID     string          `json:"event_id"`
	Provider    Provider        `json:"provider"`
	SystemID    int64           `json:"system_id"`
	SystemName  string          `json:"system_name"`
	ShipTallies []ShipTally     `json:"ship_tallies"`
	Victim      *PilotSummary   `json:"victim,omitempty"`
	Attackers   []PilotSummary  `json:"attackers"`
	Display     DisplayMetadata `json:"display"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// SummaryRecord is a KillSummary read back from the summary buffer.
// An Undecodable record has an empty Summary and carries the stream entry's payload
// in RawPayload.
type SummaryRecord struct {
	Summary         KillSummary
	StreamMessageID string
	Undecodable     bool
	RawPayload      string
}
