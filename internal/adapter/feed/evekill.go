package feed

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/V4T54L/killwatch/internal/domain"
)

// eveKillmail is the flat schema pushed by the eve-kill stream. Missing ids are sent as 0.
type eveKillmail struct {
	KillmailID int64           `json:"killmail_id"`
	KillTime   json.RawMessage `json:"kill_time"`
	SystemID   int64           `json:"system_id"`
	Victim     struct {
		CharacterID   int64 `json:"character_id"`
		CorporationID int64 `json:"corporation_id"`
		AllianceID    int64 `json:"alliance_id"`
		ShipID        int64 `json:"ship_id"`
	} `json:"victim"`
	Attackers []struct {
		CharacterID int64 `json:"character_id"`
		ShipID      int64 `json:"ship_id"`
	} `json:"attackers"`
}

func decodeEveKill(payload []byte) (domain.CanonicalKillEvent, bool, error) {
	var km eveKillmail
	if err := json.Unmarshal(payload, &km); err != nil {
		return domain.CanonicalKillEvent{}, false, fmt.Errorf("decode evekill killmail: %w", err)
	}
	if km.KillmailID <= 0 || km.SystemID <= 0 {
		return domain.CanonicalKillEvent{}, false, nil
	}
	occurredAt, err := parseTimeJSON(km.KillTime)
	if err != nil {
		return domain.CanonicalKillEvent{}, false, nil
	}

	event := domain.CanonicalKillEvent{
		EventID:    strconv.FormatInt(km.KillmailID, 10),
		OccurredAt: occurredAt,
		SystemID:   km.SystemID,
		SourceURL:  fmt.Sprintf("https://eve-kill.com/kill/%d", km.KillmailID),
		Victim: domain.Victim{
			CharacterID:   domain.ID(km.Victim.CharacterID),
			CorporationID: domain.ID(km.Victim.CorporationID),
			AllianceID:    domain.ID(km.Victim.AllianceID),
			ShipTypeID:    domain.ID(km.Victim.ShipID),
		},
	}
	for _, a := range km.Attackers {
		event.Attackers = append(event.Attackers, domain.Attacker{
			CharacterID: domain.ID(a.CharacterID),
			ShipTypeID:  domain.ID(a.ShipID),
		})
	}
	return event, true, nil
}
