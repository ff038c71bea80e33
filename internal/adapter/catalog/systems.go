// Package catalog resolves solar system ids to display names from a static file.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Systems is an in-memory system id to name table. It is read-only after loading.
type Systems struct {
	names map[int64]string
}

type systemsFile struct {
	Systems map[int64]string `yaml:"systems"`
}

// LoadSystems reads a YAML catalog of the form
//
//	systems:
//	  30000142: Jita
func LoadSystems(path string) (*Systems, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read system catalog %s: %w", path, err)
	}
	var f systemsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse system catalog %s: %w", path, err)
	}
	return NewSystems(f.Systems), nil
}

// NewSystems builds a catalog from a map. Blank names are skipped.
func NewSystems(names map[int64]string) *Systems {
	s := &Systems{names: make(map[int64]string, len(names))}
	for id, name := range names {
		if name = strings.TrimSpace(name); name != "" && id > 0 {
			s.names[id] = name
		}
	}
	return s
}

// ResolveSystemName returns the display name for systemID.
func (s *Systems) ResolveSystemName(systemID int64) (string, bool) {
	name, ok := s.names[systemID]
	return name, ok
}

// Len is the number of known systems.
func (s *Systems) Len() int {
	return len(s.names)
}
