package wal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/V4T54L/killwatch/internal/domain"
)

func setupTestJournal(t *testing.T, maxSegmentSize, maxTotalSize int64) *Journal {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j, err := NewJournal(t.TempDir(), maxSegmentSize, maxTotalSize, logger)
	if err != nil {
		t.Fatalf("failed to create Journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func entry(id string, provider domain.Provider) domain.LedgerEntry {
	return domain.LedgerEntry{
		EventID:     id,
		Provider:    provider,
		CommittedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func replayAll(t *testing.T, j *Journal) []domain.LedgerEntry {
	t.Helper()
	var replayed []domain.LedgerEntry
	err := j.Replay(context.Background(), func(e domain.LedgerEntry) error {
		replayed = append(replayed, e)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to replay journal: %v", err)
	}
	return replayed
}

func TestJournal_WriteAndReplayAfterRestart(t *testing.T) {
	j := setupTestJournal(t, 1024, 10*1024)

	entries := []domain.LedgerEntry{
		entry("1", domain.ProviderZKillboard),
		entry("2", domain.ProviderEveKill),
		entry("3", domain.ProviderZKillboard),
	}
	for _, e := range entries {
		if err := j.Write(context.Background(), e); err != nil {
			t.Fatalf("failed to write entry: %v", err)
		}
	}
	j.Close()

	// Re-open the journal to simulate a restart
	reopened, err := NewJournal(j.dir, 1024, 10*1024, j.logger)
	if err != nil {
		t.Fatalf("failed to re-open journal: %v", err)
	}
	defer reopened.Close()

	replayed := replayAll(t, reopened)
	if len(replayed) != len(entries) {
		t.Fatalf("expected %d replayed entries, got %d", len(entries), len(replayed))
	}
	for i, e := range entries {
		got := replayed[i]
		if got.EventID != e.EventID || got.Provider != e.Provider || !got.CommittedAt.Equal(e.CommittedAt) {
			t.Errorf("replayed entry mismatch at index %d: got %+v, want %+v", i, got, e)
		}
	}

	// Writes after a restart land after the existing entries.
	if err := reopened.Write(context.Background(), entry("4", domain.ProviderEveKill)); err != nil {
		t.Fatalf("failed to write entry: %v", err)
	}
	if got := replayAll(t, reopened); len(got) != 4 || got[3].EventID != "4" {
		t.Errorf("expected entry 4 last, got %+v", got)
	}
}

func TestJournal_SegmentRotationKeepsOrder(t *testing.T) {
	// Set a very small segment size to force rotation
	j := setupTestJournal(t, 100, 64*1024)

	for i := 0; i < 10; i++ {
		if err := j.Write(context.Background(), entry(fmt.Sprint(i), domain.ProviderZKillboard)); err != nil {
			t.Fatalf("failed to write entry: %v", err)
		}
	}

	segments, err := j.getSortedSegments()
	if err != nil {
		t.Fatalf("failed to get segments: %v", err)
	}
	if len(segments) < 2 {
		t.Errorf("expected at least 2 segments, got %d", len(segments))
	}

	replayed := replayAll(t, j)
	if len(replayed) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(replayed))
	}
	for i, e := range replayed {
		if e.EventID != fmt.Sprint(i) {
			t.Errorf("entry %d has id %s", i, e.EventID)
		}
	}
}

func TestJournal_SkipsUnreadableLines(t *testing.T) {
	j := setupTestJournal(t, 1024, 10*1024)
	if err := j.Write(context.Background(), entry("1", domain.ProviderZKillboard)); err != nil {
		t.Fatalf("failed to write entry: %v", err)
	}

	segments, _ := j.getSortedSegments()
	f, err := os.OpenFile(segments[len(segments)-1], os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		t.Fatalf("failed to open segment: %v", err)
	}
	_, _ = f.WriteString("{not json\n{}\n")
	f.Close()

	if err := j.Write(context.Background(), entry("2", domain.ProviderEveKill)); err != nil {
		t.Fatalf("failed to write entry: %v", err)
	}

	replayed := replayAll(t, j)
	if len(replayed) != 2 || replayed[0].EventID != "1" || replayed[1].EventID != "2" {
		t.Errorf("expected entries 1 and 2, got %+v", replayed)
	}
}

func TestJournal_Truncate(t *testing.T) {
	j := setupTestJournal(t, 1024, 1024)

	if err := j.Write(context.Background(), entry("1", domain.ProviderZKillboard)); err != nil {
		t.Fatalf("failed to write entry: %v", err)
	}
	if err := j.Truncate(context.Background()); err != nil {
		t.Fatalf("failed to truncate journal: %v", err)
	}

	segments, _ := j.getSortedSegments()
	if len(segments) != 1 { // Truncate creates a new empty segment
		t.Fatalf("expected 1 segment after truncate, got %d", len(segments))
	}
	info, _ := os.Stat(segments[0])
	if info.Size() != 0 {
		t.Errorf("expected new segment to be empty, size is %d", info.Size())
	}
	if got := replayAll(t, j); len(got) != 0 {
		t.Errorf("expected nothing to replay, got %d entries", len(got))
	}
}

func TestJournal_Compact(t *testing.T) {
	j := setupTestJournal(t, 1024, 10*1024)
	for _, id := range []string{"1", "2", "3"} {
		if err := j.Write(context.Background(), entry(id, domain.ProviderZKillboard)); err != nil {
			t.Fatalf("failed to write entry: %v", err)
		}
	}

	keep := []domain.LedgerEntry{entry("3", domain.ProviderZKillboard)}
	if err := j.Compact(context.Background(), func() []domain.LedgerEntry { return keep }); err != nil {
		t.Fatalf("failed to compact journal: %v", err)
	}

	replayed := replayAll(t, j)
	if len(replayed) != 1 || replayed[0].EventID != "3" {
		t.Errorf("expected only entry 3 after compaction, got %+v", replayed)
	}
}

func TestJournal_MaxTotalSize(t *testing.T) {
	line, _ := json.Marshal(entry("1", domain.ProviderZKillboard))
	j := setupTestJournal(t, 1024, int64(len(line)+1)*2)

	var err error
	for i := 0; i < 5; i++ { // Write until we expect an error
		if err = j.Write(context.Background(), entry("1", domain.ProviderZKillboard)); err != nil {
			break
		}
	}
	if !errors.Is(err, domain.ErrJournalFull) {
		t.Fatalf("expected ErrJournalFull when writing beyond max total size, got %v", err)
	}

	// Compaction frees the budget again.
	if err := j.Compact(context.Background(), func() []domain.LedgerEntry { return nil }); err != nil {
		t.Fatalf("failed to compact: %v", err)
	}
	if err := j.Write(context.Background(), entry("2", domain.ProviderZKillboard)); err != nil {
		t.Errorf("expected write to succeed after compaction: %v", err)
	}
}

func TestNewJournal_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	j, err := NewJournal(dir, 1024, 1024, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewJournal() error = %v", err)
	}
	defer j.Close()
	if j.totalSize != 0 {
		t.Errorf("foreign files should not count toward the journal size, got %d", j.totalSize)
	}
}
