package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/V4T54L/killwatch/internal/domain"
)

const (
	summariesTableName = "kill_summaries"
	tempTableName      = "kill_summaries_temp_import"
)

const schema = `
CREATE TABLE IF NOT EXISTS kill_summaries (
	event_id        TEXT PRIMARY KEY,
	provider        TEXT NOT NULL,
	system_id       BIGINT NOT NULL,
	system_name     TEXT NOT NULL,
	occurred_at     TIMESTAMPTZ NOT NULL,
	victim_ship     TEXT NOT NULL DEFAULT '',
	victim_standing TEXT NOT NULL DEFAULT 'neutral',
	attacker_count  INTEGER NOT NULL DEFAULT 0,
	url             TEXT NOT NULL DEFAULT '',
	summary         JSONB NOT NULL,
	archived_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS kill_summaries_system_time_idx ON kill_summaries (system_id, occurred_at DESC);
`

var copyColumns = []string{
	"event_id", "provider", "system_id", "system_name", "occurred_at",
	"victim_ship", "victim_standing", "attacker_count", "url", "summary",
}

// SummaryArchive writes kill summaries to PostgreSQL.
type SummaryArchive struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSummaryArchive creates a new PostgreSQL summary archive.
func NewSummaryArchive(db *sql.DB, logger *slog.Logger) *SummaryArchive {
	return &SummaryArchive{db: db, logger: logger.With("component", "postgres_archive")}
}

// EnsureSchema creates the summaries table and its index if they are missing.
func (a *SummaryArchive) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create %s schema: %w", summariesTableName, err)
	}
	return nil
}

// WriteSummaryBatch stages the batch with COPY into a temp table and merges it into
// the summaries table. Summaries already archived under the same event id are kept
// as they are, so replaying a batch is harmless.
func (a *SummaryArchive) WriteSummaryBatch(ctx context.Context, summaries []domain.KillSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	txn, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	_, err = txn.ExecContext(ctx, `CREATE TEMP TABLE `+tempTableName+` (LIKE `+summariesTableName+` INCLUDING DEFAULTS) ON COMMIT DROP;`)
	if err != nil {
		return err
	}

	stmt, err := txn.Prepare(pq.CopyIn(tempTableName, copyColumns...))
	if err != nil {
		return err
	}

	for _, s := range summaries {
		row, err := summaryRow(s)
		if err != nil {
			_ = stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = stmt.Close()
			return err
		}
	}

	if err := stmt.Close(); err != nil {
		return err
	}

	upsertQuery := `
		INSERT INTO ` + summariesTableName + ` (event_id, provider, system_id, system_name, occurred_at, victim_ship, victim_standing, attacker_count, url, summary)
		SELECT DISTINCT ON (event_id) event_id, provider, system_id, system_name, occurred_at, victim_ship, victim_standing, attacker_count, url, summary
		FROM ` + tempTableName + `
		ON CONFLICT (event_id) DO NOTHING;
	`
	res, err := txn.ExecContext(ctx, upsertQuery)
	if err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}

	if inserted, err := res.RowsAffected(); err == nil && inserted < int64(len(summaries)) {
		a.logger.Debug("Skipped already archived summaries", "skipped", int64(len(summaries))-inserted)
	}
	return nil
}

// summaryRow flattens a summary into the COPY column order.
func summaryRow(s domain.KillSummary) ([]interface{}, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary %s: %w", s.EventID, err)
	}
	return []interface{}{
		s.EventID,
		string(s.Provider),
		s.SystemID,
		s.SystemName,
		s.OccurredAt,
		s.Display.ShipName,
		s.Display.Standing.String(),
		len(s.Attackers),
		s.Display.URL,
		string(payload),
	}, nil
}
