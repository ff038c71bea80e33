package domain

import (
	"fmt"
	"math"
)

// Standing classifies reputation towards a character, corporation or alliance.
// Values are ordered: Terrible < Bad < Neutral < Good < Excellent.
type Standing int

const (
	StandingTerrible Standing = iota
	StandingBad
	StandingNeutral
	StandingGood
	StandingExcellent
)

var standingNames = [...]string{
	StandingTerrible:  "terrible",
	StandingBad:       "bad",
	StandingNeutral:   "neutral",
	StandingGood:      "good",
	StandingExcellent: "excellent",
}

// StandingFromScore maps a numeric standing score to its level.
// The upper bounds are exclusive: 5.0 is Good, 5.01 is Excellent, -5.0 is Bad.
// NaN is Neutral.
func StandingFromScore(score float64) Standing {
	switch {
	case math.IsNaN(score):
		return StandingNeutral
	case score > 5:
		return StandingExcellent
	case score > 0:
		return StandingGood
	case score == 0:
		return StandingNeutral
	case score >= -5:
		return StandingBad
	default:
		return StandingTerrible
	}
}

func (s Standing) String() string {
	if s < StandingTerrible || s > StandingExcellent {
		return fmt.Sprintf("standing(%d)", int(s))
	}
	return standingNames[s]
}

// MarshalText encodes the standing by name so summaries read well in JSON.
func (s Standing) MarshalText() ([]byte, error) {
	if s < StandingTerrible || s > StandingExcellent {
		return nil, fmt.Errorf("invalid standing %d", int(s))
	}
	return []byte(standingNames[s]), nil
}

// UnmarshalText parses a standing name produced by MarshalText.
func (s *Standing) UnmarshalText(text []byte) error {
	for i, name := range standingNames {
		if name == string(text) {
			*s = Standing(i)
			return nil
		}
	}
	return fmt.Errorf("unknown standing %q", string(text))
}
