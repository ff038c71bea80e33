package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSystems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "systems.yaml")
	contents := "systems:\n  30000142: Jita\n  30002187: Amarr\n  30002510: \"  \"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}

	s, err := LoadSystems(path)
	if err != nil {
		t.Fatalf("LoadSystems() error = %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if name, ok := s.ResolveSystemName(30000142); !ok || name != "Jita" {
		t.Errorf("ResolveSystemName(30000142) = %q, %v", name, ok)
	}
	if _, ok := s.ResolveSystemName(30002510); ok {
		t.Error("blank name should not resolve")
	}
	if _, ok := s.ResolveSystemName(1); ok {
		t.Error("unknown system should not resolve")
	}
}

func TestLoadSystems_Errors(t *testing.T) {
	if _, err := LoadSystems(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("systems: {30000142"), 0o644)
	if _, err := LoadSystems(path); err == nil {
		t.Error("expected parse error")
	}
}
