package usecase

import "github.com/V4T54L/killwatch/internal/domain"

// Values of DisplayMetadata.TypeName: which identity the victim's display data came from.
const (
	victimTypeCharacter   = "character"
	victimTypeCorporation = "corporation"
	victimTypeAlliance    = "alliance"
	victimTypeUnknown     = "unknown"
)

func assembleSummary(event domain.CanonicalKillEvent, systemName string, found *lookups) domain.KillSummary {
	victim, display := victimSummary(event, found)

	attackers := make([]domain.PilotSummary, 0, len(event.Attackers))
	for _, a := range event.Attackers {
		attackers = append(attackers, attackerSummary(a, found))
	}

	return domain.KillSummary{
		EventID:     event.EventID,
		Provider:    event.Provider,
		SystemID:    event.SystemID,
		SystemName:  systemName,
		ShipTallies: tallyShips(attackers),
		Victim:      victim,
		Attackers:   attackers,
		Display:     display,
		OccurredAt:  event.OccurredAt,
	}
}

func victimSummary(event domain.CanonicalKillEvent, found *lookups) (*domain.PilotSummary, domain.DisplayMetadata) {
	v := event.Victim
	pilot := domain.PilotSummary{
		CharacterID: v.CharacterID,
		Standing:    found.victimStanding,
	}
	typeName := victimTypeUnknown

	if ident := found.victim; ident != nil {
		pilot.Name = ident.Name
		pilot.CorporationName = ident.CorporationName
		pilot.CorporationTicker = ident.CorporationTicker
		pilot.AllianceName = ident.AllianceName
		pilot.AllianceTicker = ident.AllianceTicker
		typeName = victimTypeCharacter
	} else {
		if found.victimCorp != nil {
			pilot.CorporationName = found.victimCorp.Name
			pilot.CorporationTicker = found.victimCorp.Ticker
			typeName = victimTypeCorporation
		}
		if found.victimAlliance != nil {
			pilot.AllianceName = found.victimAlliance.Name
			pilot.AllianceTicker = found.victimAlliance.Ticker
			if typeName == victimTypeUnknown {
				typeName = victimTypeAlliance
			}
		}
	}
	if v.ShipTypeID != nil {
		pilot.ShipName = found.ships[*v.ShipTypeID]
	}

	display := domain.DisplayMetadata{
		URL:               event.SourceURL,
		ShipName:          pilot.ShipName,
		TypeName:          typeName,
		CorporationName:   pilot.CorporationName,
		CorporationTicker: pilot.CorporationTicker,
		AllianceName:      pilot.AllianceName,
		AllianceTicker:    pilot.AllianceTicker,
		Standing:          pilot.Standing,
	}

	if v == (domain.Victim{}) {
		return nil, display
	}
	return &pilot, display
}

func attackerSummary(a domain.Attacker, found *lookups) domain.PilotSummary {
	pilot := domain.PilotSummary{
		CharacterID: a.CharacterID,
		Standing:    domain.StandingNeutral,
	}
	if a.CharacterID != nil {
		if ident, ok := found.characters[*a.CharacterID]; ok {
			pilot.Name = ident.Name
			pilot.CorporationName = ident.CorporationName
			pilot.CorporationTicker = ident.CorporationTicker
			pilot.AllianceName = ident.AllianceName
			pilot.AllianceTicker = ident.AllianceTicker
			pilot.Standing = ident.Standing
		}
	}
	if a.ShipTypeID != nil {
		pilot.ShipName = found.ships[*a.ShipTypeID]
	}
	return pilot
}

// tallyShips groups attackers by (standing, ship name) in order of first appearance.
// Attackers whose ship did not resolve are left out.
func tallyShips(attackers []domain.PilotSummary) []domain.ShipTally {
	type key struct {
		standing domain.Standing
		ship     string
	}
	index := make(map[key]int)
	tallies := make([]domain.ShipTally, 0)
	for _, a := range attackers {
		if a.ShipName == "" {
			continue
		}
		k := key{standing: a.Standing, ship: a.ShipName}
		if i, ok := index[k]; ok {
			tallies[i].Count++
			continue
		}
		index[k] = len(tallies)
		tallies = append(tallies, domain.ShipTally{ShipName: a.ShipName, Count: 1, Standing: a.Standing})
	}
	return tallies
}
