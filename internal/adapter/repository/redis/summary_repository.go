package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/killwatch/internal/adapter/metrics"
	"github.com/V4T54L/killwatch/internal/domain"
)

const (
	sinkName          = "redis"
	systemKeyPrefix   = "killwatch:system:"
	defaultQueueSize  = 1024
	drainTimeout      = 5 * time.Second
	defaultReadBlock  = 2 * time.Second
	defaultStreamKey  = "killwatch:summaries"
	defaultSummaryTTL = 24 * time.Hour
)

// SummaryRepositoryOptions configures a SummaryRepository.
type SummaryRepositoryOptions struct {
	StreamKey    string
	DLQStreamKey string
	// MaxLen caps the stream length approximately. Zero leaves it unbounded.
	MaxLen int64
	// SystemTTL is how long a per-system "latest kill" hash lives after its last update.
	SystemTTL time.Duration
	QueueSize int
	Metrics   *metrics.PipelineMetrics
}

// SummaryRepository buffers kill summaries in a Redis Stream and keeps a
// latest-kill hash per solar system. As a sink it never blocks: Accept only
// enqueues, and Run drains the queue into Redis.
type SummaryRepository struct {
	client       *redis.Client
	logger       *slog.Logger
	streamKey    string
	dlqStreamKey string
	maxLen       int64
	systemTTL    time.Duration
	queue        chan domain.KillSummary
	metrics      *metrics.PipelineMetrics
	isAvailable  atomic.Bool
}

// NewSummaryRepository creates a Redis-backed summary buffer.
func NewSummaryRepository(client *redis.Client, logger *slog.Logger, opts SummaryRepositoryOptions) *SummaryRepository {
	if opts.StreamKey == "" {
		opts.StreamKey = defaultStreamKey
	}
	if opts.DLQStreamKey == "" {
		opts.DLQStreamKey = opts.StreamKey + ":dlq"
	}
	if opts.SystemTTL <= 0 {
		opts.SystemTTL = defaultSummaryTTL
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	repo := &SummaryRepository{
		client:       client,
		logger:       logger.With("component", "redis_repository"),
		streamKey:    opts.StreamKey,
		dlqStreamKey: opts.DLQStreamKey,
		maxLen:       opts.MaxLen,
		systemTTL:    opts.SystemTTL,
		queue:        make(chan domain.KillSummary, opts.QueueSize),
		metrics:      opts.Metrics,
	}
	repo.isAvailable.Store(true) // Assume available initially
	return repo
}

// SetupConsumerGroup creates the stream and the consumer group if they do not exist.
func (r *SummaryRepository) SetupConsumerGroup(ctx context.Context, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, r.streamKey, group, "0").Err()
	if err != nil && !isRedisBusyGroupError(err) {
		r.isAvailable.Store(false)
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Available reports the last known Redis connectivity.
func (r *SummaryRepository) Available() bool {
	return r.isAvailable.Load()
}

// StartHealthCheck pings Redis every interval and logs connectivity changes.
func (r *SummaryRepository) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping Redis health check")
			return
		case <-ticker.C:
			if err := r.client.Ping(ctx).Err(); err != nil {
				if r.isAvailable.CompareAndSwap(true, false) {
					r.logger.Error("Redis connection lost", "error", err)
				}
			} else if r.isAvailable.CompareAndSwap(false, true) {
				r.logger.Info("Redis connection recovered")
			}
		}
	}
}

// Accept enqueues a summary for the background writer. When the queue is full the
// summary is dropped rather than stalling the caller.
func (r *SummaryRepository) Accept(summary domain.KillSummary) {
	select {
	case r.queue <- summary:
	default:
		r.logger.Warn("Summary queue is full, dropping summary", "event_id", summary.EventID)
		r.count("dropped")
	}
}

// Run writes queued summaries to Redis until ctx is cancelled, then drains what is
// left with a short grace period.
func (r *SummaryRepository) Run(ctx context.Context) {
	r.logger.Info("Starting Redis summary writer", "stream", r.streamKey)
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case summary := <-r.queue:
			r.write(ctx, summary)
		}
	}
}

func (r *SummaryRepository) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case summary := <-r.queue:
			r.write(ctx, summary)
		default:
			r.logger.Info("Redis summary writer stopped")
			return
		}
	}
}

func (r *SummaryRepository) write(ctx context.Context, summary domain.KillSummary) {
	if err := r.BufferSummary(ctx, summary); err != nil {
		if isNetworkError(err) && r.isAvailable.CompareAndSwap(true, false) {
			r.logger.Error("Redis connection lost during write", "error", err)
		}
		r.logger.Error("Failed to buffer summary", "event_id", summary.EventID, "error", err)
		r.count("error")
		return
	}
	r.count("written")
}

// BufferSummary appends a summary to the stream and refreshes its system's hash in
// one pipeline.
func (r *SummaryRepository) BufferSummary(ctx context.Context, summary domain.KillSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal kill summary: %w", err)
	}

	key := systemKey(summary.SystemID)
	pipe := r.client.Pipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamKey,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: map[string]interface{}{"payload": payload, "event_id": summary.EventID},
	})
	pipe.HSet(ctx, key, systemFields(summary))
	pipe.HIncrBy(ctx, key, "kill_count", 1)
	pipe.Expire(ctx, key, r.systemTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to buffer summary in redis: %w", err)
	}
	return nil
}

// LatestForSystem returns the latest-kill hash for a system, or nil when none is live.
func (r *SummaryRepository) LatestForSystem(ctx context.Context, systemID int64) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, systemKey(systemID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read system hash: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// ReadSummaryBatch reads a batch of summaries from the stream for a consumer group.
func (r *SummaryRepository) ReadSummaryBatch(ctx context.Context, group, consumer string, count int) ([]domain.SummaryRecord, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.streamKey, ">"},
		Count:    int64(count),
		Block:    defaultReadBlock,
	}

	streams, err := r.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	records := make([]domain.SummaryRecord, 0, len(streams[0].Messages))
	for _, msg := range streams[0].Messages {
		record, err := decodeRecord(msg)
		if err != nil {
			r.logger.Warn("Invalid summary in stream", "message_id", msg.ID, "error", err)
			raw, _ := msg.Values["payload"].(string)
			record = domain.SummaryRecord{StreamMessageID: msg.ID, Undecodable: true, RawPayload: raw}
		}
		records = append(records, record)
	}
	return records, nil
}

// AcknowledgeSummaries acknowledges processed messages in the stream.
func (r *SummaryRepository) AcknowledgeSummaries(ctx context.Context, group string, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, r.streamKey, group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK messages in redis: %w", err)
	}
	return nil
}

// MoveToDLQ copies a batch of summaries to the dead-letter stream.
func (r *SummaryRepository) MoveToDLQ(ctx context.Context, records []domain.SummaryRecord) error {
	if len(records) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, record := range records {
		payload, reason, err := dlqPayload(record)
		if err != nil {
			r.logger.Error("Failed to marshal summary for DLQ", "event_id", record.Summary.EventID, "error", err)
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.dlqStreamKey,
			Values: map[string]interface{}{
				"payload":         payload,
				"original_stream": r.streamKey,
				"original_msg_id": record.StreamMessageID,
				"reason":          reason,
				"failed_at":       time.Now().UTC().Format(time.RFC3339),
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute DLQ pipeline: %w", err)
	}
	r.logger.Warn("Moved summaries to DLQ", "count", len(records))
	return nil
}

func (r *SummaryRepository) count(status string) {
	if r.metrics != nil {
		r.metrics.SummariesBufferedTotal.WithLabelValues(sinkName, status).Inc()
	}
}

func systemKey(systemID int64) string {
	return systemKeyPrefix + strconv.FormatInt(systemID, 10)
}

func systemFields(s domain.KillSummary) map[string]interface{} {
	fields := map[string]interface{}{
		"system_name":    s.SystemName,
		"last_event_id":  s.EventID,
		"last_provider":  string(s.Provider),
		"last_kill_at":   s.OccurredAt.UTC().Format(time.RFC3339),
		"last_url":       s.Display.URL,
		"last_ship_name": s.Display.ShipName,
		"last_standing":  s.Display.Standing.String(),
		"attacker_count": len(s.Attackers),
	}
	return fields
}

func decodeRecord(msg redis.XMessage) (domain.SummaryRecord, error) {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		return domain.SummaryRecord{}, errors.New("missing payload field")
	}
	var summary domain.KillSummary
	if err := json.Unmarshal([]byte(payload), &summary); err != nil {
		return domain.SummaryRecord{}, err
	}
	return domain.SummaryRecord{Summary: summary, StreamMessageID: msg.ID}, nil
}

// dlqPayload returns what a record is parked as. Undecodable entries keep their raw payload.
func dlqPayload(record domain.SummaryRecord) (string, string, error) {
	if record.Undecodable {
		return record.RawPayload, "undecodable", nil
	}
	payload, err := json.Marshal(record.Summary)
	if err != nil {
		return "", "", err
	}
	return string(payload), "archive_failed", nil
}

func isRedisBusyGroupError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
