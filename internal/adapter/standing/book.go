// Package standing loads the operator's standings table and turns contact scores into
// standing levels.
package standing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/V4T54L/killwatch/internal/domain"
)

// Book holds contact scores keyed by character, corporation and alliance id.
type Book struct {
	Characters   map[int64]float64 `yaml:"characters"`
	Corporations map[int64]float64 `yaml:"corporations"`
	Alliances    map[int64]float64 `yaml:"alliances"`
}

// Load reads a standings book from a YAML file. An empty path yields an empty book,
// which rates everyone Neutral.
func Load(path string) (*Book, error) {
	if path == "" {
		return &Book{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read standings %s: %w", path, err)
	}
	var b Book
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse standings %s: %w", path, err)
	}
	return &b, nil
}

// Level returns the standing toward a pilot. The most specific contact wins: character,
// then corporation, then alliance. With no contact at all the pilot is Neutral.
func (b *Book) Level(allianceID, corporationID, characterID *int64) domain.Standing {
	if score, ok := lookup(b.Characters, characterID); ok {
		return domain.StandingFromScore(score)
	}
	if score, ok := lookup(b.Corporations, corporationID); ok {
		return domain.StandingFromScore(score)
	}
	if score, ok := lookup(b.Alliances, allianceID); ok {
		return domain.StandingFromScore(score)
	}
	return domain.StandingNeutral
}

// Len is the number of contacts in the book.
func (b *Book) Len() int {
	return len(b.Characters) + len(b.Corporations) + len(b.Alliances)
}

func lookup(scores map[int64]float64, id *int64) (float64, bool) {
	if id == nil {
		return 0, false
	}
	score, ok := scores[*id]
	return score, ok
}
