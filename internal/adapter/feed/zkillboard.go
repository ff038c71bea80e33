package feed

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/V4T54L/killwatch/internal/domain"
)

// zkbKillmail is the killstream payload: an ESI killmail with a zkb block appended.
type zkbKillmail struct {
	KillmailID    int64         `json:"killmail_id"`
	KillmailTime  string        `json:"killmail_time"`
	SolarSystemID int64         `json:"solar_system_id"`
	Victim        zkbVictim     `json:"victim"`
	Attackers     []zkbAttacker `json:"attackers"`
	ZKB           zkbMeta       `json:"zkb"`
}

type zkbVictim struct {
	CharacterID   int64 `json:"character_id"`
	CorporationID int64 `json:"corporation_id"`
	AllianceID    int64 `json:"alliance_id"`
	ShipTypeID    int64 `json:"ship_type_id"`
}

type zkbAttacker struct {
	CharacterID int64 `json:"character_id"`
	ShipTypeID  int64 `json:"ship_type_id"`
}

type zkbMeta struct {
	URL string `json:"url"`
}

func decodeZKillboard(payload []byte) (domain.CanonicalKillEvent, bool, error) {
	var km zkbKillmail
	if err := json.Unmarshal(payload, &km); err != nil {
		return domain.CanonicalKillEvent{}, false, fmt.Errorf("decode zkillboard killmail: %w", err)
	}
	if km.KillmailID <= 0 || km.SolarSystemID <= 0 {
		return domain.CanonicalKillEvent{}, false, nil
	}
	occurredAt, err := parseTimeFlexible(km.KillmailTime)
	if err != nil {
		return domain.CanonicalKillEvent{}, false, nil
	}

	url := km.ZKB.URL
	if url == "" {
		url = fmt.Sprintf("https://zkillboard.com/kill/%d/", km.KillmailID)
	}
	event := domain.CanonicalKillEvent{
		EventID:    strconv.FormatInt(km.KillmailID, 10),
		OccurredAt: occurredAt,
		SystemID:   km.SolarSystemID,
		SourceURL:  url,
		Victim: domain.Victim{
			CharacterID:   domain.ID(km.Victim.CharacterID),
			CorporationID: domain.ID(km.Victim.CorporationID),
			AllianceID:    domain.ID(km.Victim.AllianceID),
			ShipTypeID:    domain.ID(km.Victim.ShipTypeID),
		},
	}
	for _, a := range km.Attackers {
		event.Attackers = append(event.Attackers, domain.Attacker{
			CharacterID: domain.ID(a.CharacterID),
			ShipTypeID:  domain.ID(a.ShipTypeID),
		})
	}
	return event, true, nil
}
