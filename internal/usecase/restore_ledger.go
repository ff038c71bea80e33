package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/V4T54L/killwatch/internal/domain"
)

// compacter is implemented by journals that can rewrite themselves in one step.
// live is called while the journal is locked against concurrent writes.
type compacter interface {
	Compact(ctx context.Context, live func() []domain.LedgerEntry) error
}

// RestoreLedger replays journal into ledger and then rewrites the journal so it holds
// only the entries still inside the dedup window. It returns how many were restored.
func RestoreLedger(ctx context.Context, ledger *Ledger, journal domain.LedgerJournal, logger *slog.Logger) (int, error) {
	var replayed []domain.LedgerEntry
	err := journal.Replay(ctx, func(entry domain.LedgerEntry) error {
		replayed = append(replayed, entry)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to replay ledger journal: %w", err)
	}

	restored := ledger.Restore(replayed)
	if _, err := CompactJournal(ctx, ledger, journal); err != nil {
		return restored, err
	}

	logger.Info("restored dedup ledger from journal", "replayed", len(replayed), "restored", restored, "dropped", len(replayed)-restored)
	return restored, nil
}

// CompactJournal rewrites journal to hold exactly the ledger's live entries and
// returns how many were kept.
func CompactJournal(ctx context.Context, ledger *Ledger, journal domain.LedgerJournal) (int, error) {
	if c, ok := journal.(compacter); ok {
		kept := 0
		err := c.Compact(ctx, func() []domain.LedgerEntry {
			live := ledger.Snapshot()
			kept = len(live)
			return live
		})
		if err != nil {
			return 0, fmt.Errorf("failed to compact ledger journal: %w", err)
		}
		return kept, nil
	}

	live := ledger.Snapshot()
	if err := journal.Truncate(ctx); err != nil {
		return 0, fmt.Errorf("failed to truncate ledger journal: %w", err)
	}
	for _, entry := range live {
		if err := journal.Write(ctx, entry); err != nil {
			return 0, fmt.Errorf("failed to rewrite ledger journal: %w", err)
		}
	}
	return len(live), nil
}

// RunJournalCompaction compacts journal every interval until ctx is done, so the
// journal sheds entries the ledger has already evicted.
func RunJournalCompaction(ctx context.Context, ledger *Ledger, journal domain.LedgerJournal, interval time.Duration, logger *slog.Logger) {
	logger = logger.With("component", "journal_compaction")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kept, err := CompactJournal(ctx, ledger, journal)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("periodic journal compaction failed", "error", err)
				}
				continue
			}
			logger.Debug("compacted ledger journal", "entries", kept)
		}
	}
}
