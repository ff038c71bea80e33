package usecase

import (
	"testing"
	"time"

	"github.com/V4T54L/killwatch/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLedger_CommitOnce(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	ledger := NewLedger(time.Hour, clock.now)

	delivered := 0
	entry, created := ledger.CommitOnce("100", domain.ProviderZKillboard, func() { delivered++ })
	if !created {
		t.Fatal("expected first commit to create an entry")
	}
	if entry.Provider != domain.ProviderZKillboard || !entry.CommittedAt.Equal(clock.t) {
		t.Errorf("unexpected entry: %+v", entry)
	}

	entry, created = ledger.CommitOnce("100", domain.ProviderEveKill, func() { delivered++ })
	if created {
		t.Fatal("expected second commit of the same id to be rejected")
	}
	if entry.Provider != domain.ProviderZKillboard {
		t.Errorf("expected first provider to be reported, got %s", entry.Provider)
	}
	if delivered != 1 {
		t.Errorf("expected deliver to run once, ran %d times", delivered)
	}
}

func TestLedger_Eviction(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	ledger := NewLedger(time.Hour, clock.now)

	ledger.CommitOnce("old", domain.ProviderZKillboard, nil)
	clock.advance(30 * time.Minute)
	ledger.CommitOnce("newer", domain.ProviderZKillboard, nil)
	clock.advance(31 * time.Minute)

	// "old" is now 61 minutes old and goes on the next commit.
	ledger.CommitOnce("latest", domain.ProviderEveKill, nil)

	if ledger.Seen("old") {
		t.Error("expected entry outside the window to be evicted")
	}
	if !ledger.Seen("newer") || !ledger.Seen("latest") {
		t.Error("expected entries inside the window to be kept")
	}
	if ledger.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", ledger.Len())
	}

	if _, created := ledger.CommitOnce("old", domain.ProviderEveKill, nil); !created {
		t.Error("expected an evicted id to be accepted again")
	}
}

func TestLedger_RestoreAndSnapshot(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	ledger := NewLedger(time.Hour, clock.now)

	entries := []domain.LedgerEntry{
		{EventID: "1", Provider: domain.ProviderZKillboard, CommittedAt: clock.t.Add(-2 * time.Hour)},
		{EventID: "2", Provider: domain.ProviderEveKill, CommittedAt: clock.t.Add(-30 * time.Minute)},
		{EventID: "3", Provider: domain.ProviderZKillboard, CommittedAt: clock.t.Add(-time.Minute)},
		{EventID: "3", Provider: domain.ProviderEveKill, CommittedAt: clock.t.Add(-time.Minute)},
	}

	if n := ledger.Restore(entries); n != 2 {
		t.Fatalf("expected 2 restored entries, got %d", n)
	}
	if ledger.Seen("1") {
		t.Error("expected expired entry to be skipped on restore")
	}
	if _, created := ledger.CommitOnce("2", domain.ProviderZKillboard, nil); created {
		t.Error("expected restored id to be treated as seen")
	}

	snap := ledger.Snapshot()
	if len(snap) != 2 || snap[0].EventID != "2" || snap[1].EventID != "3" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap[1].Provider != domain.ProviderZKillboard {
		t.Errorf("expected first restored provider to win, got %s", snap[1].Provider)
	}
}

func TestLedger_NoWindowNeverEvicts(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	ledger := NewLedger(0, clock.now)

	ledger.CommitOnce("1", domain.ProviderZKillboard, nil)
	clock.advance(1000 * time.Hour)
	ledger.CommitOnce("2", domain.ProviderZKillboard, nil)

	if !ledger.Seen("1") {
		t.Error("expected entries to be kept forever without a window")
	}
}
