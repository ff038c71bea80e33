package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/killwatch/internal/domain"
)

const defaultArchiveBatchSize = 500

// ArchiveSummariesUseCase moves delivered kill summaries from the buffer into the archive.
type ArchiveSummariesUseCase struct {
	buffer       domain.SummaryBuffer
	archive      domain.SummaryArchive
	logger       *slog.Logger
	group        string
	consumer     string
	batchSize    int
	retryCount   int
	retryBackoff time.Duration
}

// NewArchiveSummariesUseCase creates a new use case for archiving summaries.
func NewArchiveSummariesUseCase(buffer domain.SummaryBuffer, archive domain.SummaryArchive, logger *slog.Logger, group, consumer string, batchSize, retryCount int, retryBackoff time.Duration) *ArchiveSummariesUseCase {
	if batchSize <= 0 {
		batchSize = defaultArchiveBatchSize
	}
	if retryCount <= 0 {
		retryCount = 1
	}
	return &ArchiveSummariesUseCase{
		buffer:       buffer,
		archive:      archive,
		logger:       logger.With("component", "summary_archiver"),
		group:        group,
		consumer:     consumer,
		batchSize:    batchSize,
		retryCount:   retryCount,
		retryBackoff: retryBackoff,
	}
}

// ArchiveBatch reads a batch of summaries, writes them to the archive with retries and
// acknowledges them. A batch that cannot be written is parked in the DLQ and still acknowledged,
// as are entries that could not be decoded.
func (uc *ArchiveSummariesUseCase) ArchiveBatch(ctx context.Context) (int, error) {
	records, err := uc.buffer.ReadSummaryBatch(ctx, uc.group, uc.consumer, uc.batchSize)
	if err != nil {
		uc.logger.Error("failed to read summary batch from buffer", "error", err)
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	uc.logger.Debug("read batch of summaries from buffer", "count", len(records))

	var valid, undecodable []domain.SummaryRecord
	for _, r := range records {
		if r.Undecodable {
			undecodable = append(undecodable, r)
		} else {
			valid = append(valid, r)
		}
	}

	var messageIDs []string
	if len(undecodable) > 0 {
		if err := uc.buffer.MoveToDLQ(ctx, undecodable); err != nil {
			// Left pending; they are parked again on the next attempt.
			uc.logger.Error("failed to move undecodable summaries to DLQ", "error", err, "count", len(undecodable))
		} else {
			uc.logger.Warn("moved undecodable summaries to DLQ", "count", len(undecodable))
			messageIDs = append(messageIDs, streamIDs(undecodable)...)
		}
	}

	var writeErr error
	if len(valid) > 0 {
		summaries := make([]domain.KillSummary, len(valid))
		for i, r := range valid {
			summaries[i] = r.Summary
		}

		writeErr = uc.writeWithRetry(ctx, summaries)
		if writeErr != nil {
			uc.logger.Error("failed to archive summary batch after retries, moving to DLQ", "error", writeErr, "count", len(valid))
			if err := uc.buffer.MoveToDLQ(ctx, valid); err != nil {
				// Not acknowledged: the batch stays pending and is read again later.
				uc.logger.Error("failed to move summaries to DLQ", "error", err)
				uc.acknowledge(ctx, messageIDs)
				return 0, err
			}
		}
		messageIDs = append(messageIDs, streamIDs(valid)...)
	}

	if err := uc.acknowledge(ctx, messageIDs); err != nil {
		return 0, err
	}

	if writeErr != nil {
		return 0, writeErr
	}
	if len(valid) > 0 {
		uc.logger.Info("archived summary batch", "count", len(valid))
	}
	return len(valid), nil
}

func (uc *ArchiveSummariesUseCase) acknowledge(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := uc.buffer.AcknowledgeSummaries(ctx, uc.group, messageIDs...); err != nil {
		// The archive upsert makes a replay of this batch harmless.
		uc.logger.Error("failed to acknowledge summaries in buffer", "error", err)
		return err
	}
	return nil
}

func streamIDs(records []domain.SummaryRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.StreamMessageID
	}
	return ids
}

func (uc *ArchiveSummariesUseCase) writeWithRetry(ctx context.Context, summaries []domain.KillSummary) error {
	var lastErr error
	for i := 0; i < uc.retryCount; i++ {
		err := uc.archive.WriteSummaryBatch(ctx, summaries)
		if err == nil {
			return nil
		}
		lastErr = err
		uc.logger.Warn("failed to write batch to archive, retrying...", "attempt", i+1, "error", err)
		if i == uc.retryCount-1 {
			break
		}
		select {
		case <-time.After(uc.retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// Run archives batches until ctx is cancelled. A full batch is followed immediately by
// the next read; otherwise the loop waits interval.
func (uc *ArchiveSummariesUseCase) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := uc.ArchiveBatch(ctx)
		if err == nil && n >= uc.batchSize && ctx.Err() == nil {
			continue
		}
		select {
		case <-ctx.Done():
			uc.logger.Info("context cancelled, stopping archive loop")
			return
		case <-ticker.C:
		}
	}
}
