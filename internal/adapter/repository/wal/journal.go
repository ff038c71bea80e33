// Package wal persists dedup ledger commits as newline-delimited JSON in rotating
// segment files.
package wal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/V4T54L/killwatch/internal/domain"
)

const (
	segmentPrefix = "ledger-"
	segmentSuffix = ".jsonl"
	filePerm      = 0644
)

// Journal is an append-only, segmented log of ledger entries.
type Journal struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger

	mu             sync.Mutex
	currentSegment *os.File
	currentSize    int64
	totalSize      int64
	lastSegmentSeq int64
}

// NewJournal opens (or creates) a journal in dir. maxSegmentSize bounds one segment
// file and maxTotalSize bounds the journal as a whole.
func NewJournal(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory %s: %w", dir, err)
	}

	j := &Journal{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "ledger_journal"),
	}

	total, err := j.calculateTotalSize()
	if err != nil {
		return nil, fmt.Errorf("failed to size journal directory: %w", err)
	}
	j.totalSize = total

	if err := j.openLatestSegment(); err != nil {
		return nil, err
	}
	return j, nil
}

// Write appends one committed entry.
func (j *Journal) Write(ctx context.Context, entry domain.LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.append(data)
}

// Replay reads every segment in order and calls handler for each entry.
// Lines that do not decode are skipped.
func (j *Journal) Replay(ctx context.Context, handler func(entry domain.LedgerEntry) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.currentSegment != nil {
		if err := j.currentSegment.Sync(); err != nil {
			j.logger.Warn("Failed to sync journal segment before replay", "error", err)
		}
	}

	segments, err := j.getSortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		j.logger.Info("Journal is empty, nothing to replay")
		return nil
	}
	j.logger.Info("Starting journal replay", "segment_count", len(segments))

	replayed := 0
	for _, segmentPath := range segments {
		n, err := j.replaySegment(ctx, segmentPath, handler)
		replayed += n
		if err != nil {
			return err
		}
	}

	j.logger.Info("Journal replay completed", "entries", replayed)
	return nil
}

func (j *Journal) replaySegment(ctx context.Context, path string, handler func(entry domain.LedgerEntry) error) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment %s for replay: %w", path, err)
	}
	defer file.Close()

	replayed := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}
		var entry domain.LedgerEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil || entry.EventID == "" {
			j.logger.Warn("Skipping unreadable journal line", "segment", filepath.Base(path), "error", err)
			continue
		}
		if err := handler(entry); err != nil {
			return replayed, fmt.Errorf("replay handler failed: %w", err)
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return replayed, fmt.Errorf("error scanning segment %s: %w", path, err)
	}
	return replayed, nil
}

// Truncate removes all segments and starts a fresh one.
func (j *Journal) Truncate(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.removeSegments(); err != nil {
		return err
	}
	j.logger.Info("Journal truncated")
	return j.rotate()
}

// Compact replaces the journal's contents with the entries returned by live, dropping
// everything else. live is called with the journal locked, so a Write that races with
// compaction lands after the rewrite.
func (j *Journal) Compact(ctx context.Context, live func() []domain.LedgerEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := live()
	if err := j.removeSegments(); err != nil {
		return err
	}
	if err := j.rotate(); err != nil {
		return err
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal ledger entry: %w", err)
		}
		if err := j.append(append(data, '\n')); err != nil {
			return err
		}
	}
	j.logger.Info("Journal compacted", "entries", len(entries))
	return nil
}

// append writes one line. The caller holds j.mu.
func (j *Journal) append(line []byte) error {
	if j.currentSegment == nil {
		if err := j.rotate(); err != nil {
			return err
		}
	}
	if j.maxTotalSize > 0 && j.totalSize+int64(len(line)) > j.maxTotalSize {
		return fmt.Errorf("%w: %d > %d bytes", domain.ErrJournalFull, j.totalSize+int64(len(line)), j.maxTotalSize)
	}

	n, err := j.currentSegment.Write(line)
	j.currentSize += int64(n)
	j.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write to journal segment: %w", err)
	}

	if j.currentSize >= j.maxSegmentSize {
		if err := j.rotate(); err != nil {
			j.logger.Error("Failed to rotate journal segment", "error", err)
		}
	}
	return nil
}

func (j *Journal) removeSegments() error {
	if j.currentSegment != nil {
		j.currentSegment.Close()
		j.currentSegment = nil
	}
	segments, err := j.getSortedSegments()
	if err != nil {
		return err
	}
	for _, segmentPath := range segments {
		if err := os.Remove(segmentPath); err != nil {
			j.logger.Error("Failed to remove journal segment", "path", segmentPath, "error", err)
		}
	}
	j.totalSize = 0
	return nil
}

func (j *Journal) rotate() error {
	if j.currentSegment != nil {
		if err := j.currentSegment.Sync(); err != nil {
			j.logger.Error("Failed to sync journal segment before rotating", "error", err)
		}
		if err := j.currentSegment.Close(); err != nil {
			j.logger.Error("Failed to close journal segment before rotating", "error", err)
		}
		j.currentSegment = nil
	}

	// Names sort lexically in creation order, even within one clock tick.
	seq := time.Now().UnixNano()
	if seq <= j.lastSegmentSeq {
		seq = j.lastSegmentSeq + 1
	}
	j.lastSegmentSeq = seq
	path := filepath.Join(j.dir, fmt.Sprintf("%s%020d%s", segmentPrefix, seq, segmentSuffix))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create journal segment %s: %w", path, err)
	}

	j.currentSegment = f
	j.currentSize = 0
	j.logger.Debug("Rotated to new journal segment", "path", path)
	return nil
}

func (j *Journal) openLatestSegment() error {
	segments, err := j.getSortedSegments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return j.rotate()
	}

	latestSegmentPath := segments[len(segments)-1]
	stat, err := os.Stat(latestSegmentPath)
	if err != nil {
		return fmt.Errorf("failed to stat latest segment %s: %w", latestSegmentPath, err)
	}
	f, err := os.OpenFile(latestSegmentPath, os.O_APPEND|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open latest segment %s: %w", latestSegmentPath, err)
	}

	var seq int64
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(latestSegmentPath), segmentPrefix), segmentSuffix)
	if _, err := fmt.Sscanf(name, "%d", &seq); err == nil {
		j.lastSegmentSeq = seq
	}

	j.currentSegment = f
	j.currentSize = stat.Size()
	j.logger.Info("Opened existing journal segment", "path", latestSegmentPath, "size", j.currentSize)

	if j.currentSize >= j.maxSegmentSize {
		return j.rotate()
	}
	return nil
}

func (j *Journal) getSortedSegments() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	var segments []string
	for _, entry := range entries {
		if isSegment(entry) {
			segments = append(segments, filepath.Join(j.dir, entry.Name()))
		}
	}
	sort.Strings(segments)
	return segments, nil
}

func (j *Journal) calculateTotalSize() (int64, error) {
	var totalSize int64
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if !isSegment(entry) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return 0, err
		}
		totalSize += info.Size()
	}
	return totalSize, nil
}

func isSegment(entry os.DirEntry) bool {
	name := entry.Name()
	return !entry.IsDir() && strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix)
}

// Close syncs and closes the current segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.currentSegment == nil {
		return nil
	}
	if err := j.currentSegment.Sync(); err != nil {
		j.logger.Warn("Failed to sync journal segment on close", "error", err)
	}
	err := j.currentSegment.Close()
	j.currentSegment = nil
	return err
}
