package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/V4T54L/killwatch/internal/domain"
	"github.com/V4T54L/killwatch/internal/domain/mocks"
)

type failingJournal struct {
	mocks.MockLedgerJournal
}

func (f *failingJournal) Replay(ctx context.Context, handler func(entry domain.LedgerEntry) error) error {
	return errors.New("disk gone")
}

func TestRestoreLedger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("restores live entries and compacts the journal", func(t *testing.T) {
		journal := &mocks.MockLedgerJournal{Entries: []domain.LedgerEntry{
			{EventID: "old", Provider: domain.ProviderZKillboard, CommittedAt: now.Add(-3 * time.Hour)},
			{EventID: "1", Provider: domain.ProviderZKillboard, CommittedAt: now.Add(-time.Hour)},
			{EventID: "1", Provider: domain.ProviderEveKill, CommittedAt: now.Add(-time.Hour)},
			{EventID: "2", Provider: domain.ProviderEveKill, CommittedAt: now.Add(-time.Minute)},
		}}
		ledger := NewLedger(2*time.Hour, func() time.Time { return now })

		restored, err := RestoreLedger(context.Background(), ledger, journal, logger)
		if err != nil {
			t.Fatalf("RestoreLedger() error = %v", err)
		}
		if restored != 2 {
			t.Errorf("restored = %d, want 2", restored)
		}
		if !ledger.Seen("1") || !ledger.Seen("2") || ledger.Seen("old") {
			t.Errorf("unexpected ledger contents: %+v", ledger.Snapshot())
		}
		if journal.Truncated != 1 {
			t.Errorf("Truncated = %d, want 1", journal.Truncated)
		}
		written := journal.Written()
		if len(written) != 2 || written[0].EventID != "1" || written[0].Provider != domain.ProviderZKillboard || written[1].EventID != "2" {
			t.Errorf("journal not compacted: %+v", written)
		}
	})

	t.Run("replay failure", func(t *testing.T) {
		ledger := NewLedger(time.Hour, time.Now)
		if _, err := RestoreLedger(context.Background(), ledger, &failingJournal{}, logger); err == nil {
			t.Fatal("expected error")
		}
		if ledger.Len() != 0 {
			t.Errorf("ledger should stay empty, has %d", ledger.Len())
		}
	})
}

type compactingJournal struct {
	mocks.MockLedgerJournal
}

func (c *compactingJournal) Compact(ctx context.Context, live func() []domain.LedgerEntry) error {
	entries := live()
	if err := c.Truncate(ctx); err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.Write(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func TestCompactJournal(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	ledger := NewLedger(time.Hour, func() time.Time { return clock })
	ledger.CommitOnce("1", domain.ProviderZKillboard, nil)
	clock = now.Add(50 * time.Minute)
	ledger.CommitOnce("2", domain.ProviderEveKill, nil)

	journal := &compactingJournal{}
	for _, e := range ledger.Snapshot() {
		_ = journal.Write(context.Background(), e)
	}

	// "1" falls out of the window, "2" stays.
	clock = now.Add(90 * time.Minute)
	kept, err := CompactJournal(context.Background(), ledger, journal)
	if err != nil {
		t.Fatalf("CompactJournal() error = %v", err)
	}
	if kept != 1 {
		t.Errorf("kept = %d, want 1", kept)
	}
	written := journal.Written()
	if len(written) != 1 || written[0].EventID != "2" {
		t.Errorf("unexpected journal contents: %+v", written)
	}
}

func TestRunJournalCompaction(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ledger := NewLedger(time.Hour, func() time.Time { return now })
	ledger.CommitOnce("live", domain.ProviderZKillboard, nil)

	journal := &mocks.MockLedgerJournal{Entries: []domain.LedgerEntry{
		{EventID: "gone", Provider: domain.ProviderZKillboard, CommittedAt: now.Add(-2 * time.Hour)},
		{EventID: "live", Provider: domain.ProviderZKillboard, CommittedAt: now},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunJournalCompaction(ctx, ledger, journal, 10*time.Millisecond, logger)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for journal.TruncateCount() == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("journal was never compacted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	written := journal.Written()
	if len(written) != 1 || written[0].EventID != "live" {
		t.Errorf("expected only the live entry, got %+v", written)
	}
}
