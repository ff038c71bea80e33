package domain

// CharacterIdentity is what a character lookup yields, including the
// character's corporation and, when it has one, alliance.
type CharacterIdentity struct {
	CharacterID       int64    `json:"character_id"`
	Name              string   `json:"name"`
	CorporationID     int64    `json:"corporation_id"`
	CorporationName   string   `json:"corporation_name"`
	CorporationTicker string   `json:"corporation_ticker"`
	AllianceID        *int64   `json:"alliance_id,omitempty"`
	AllianceName      string   `json:"alliance_name,omitempty"`
	AllianceTicker    string   `json:"alliance_ticker,omitempty"`
	Standing          Standing `json:"standing"`
}

// EntityIdentity is the name and ticker of a corporation or alliance.
type EntityIdentity struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}
