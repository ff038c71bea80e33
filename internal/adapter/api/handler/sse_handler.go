package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/V4T54L/killwatch/internal/adapter/metrics"
	"github.com/V4T54L/killwatch/internal/domain"
)

const (
	sseSinkName       = "sse"
	clientBufferSize  = 16
	summaryBufferSize = 256
)

// SSEMessage is one server-sent event.
type SSEMessage struct {
	Event string
	Data  []byte
}

// RateMessage is broadcast once per interval with the kill delivery rate.
type RateMessage struct {
	Rate float64 `json:"rate"`
}

// SSEBroker fans kill summaries out to connected SSE clients. It is a SummarySink:
// Accept never blocks, and slow clients miss messages rather than stall delivery.
type SSEBroker struct {
	logger       *slog.Logger
	clients      map[chan SSEMessage]struct{}
	mu           sync.RWMutex
	summaries    chan domain.KillSummary
	rateInterval time.Duration
	metrics      *metrics.PipelineMetrics
}

// NewSSEBroker creates a new SSEBroker and starts its processing loop. m may be nil.
func NewSSEBroker(ctx context.Context, logger *slog.Logger, rateInterval time.Duration, m *metrics.PipelineMetrics) *SSEBroker {
	if rateInterval <= 0 {
		rateInterval = time.Second
	}
	broker := &SSEBroker{
		logger:       logger.With("component", "sse_broker"),
		clients:      make(map[chan SSEMessage]struct{}),
		summaries:    make(chan domain.KillSummary, summaryBufferSize),
		rateInterval: rateInterval,
		metrics:      m,
	}
	go broker.run(ctx)
	return broker
}

// ServeHTTP handles new client connections for the SSE stream.
func (b *SSEBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	messageChan := make(chan SSEMessage, clientBufferSize)
	b.addClient(messageChan)
	defer b.removeClient(messageChan)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messageChan:
			if !ok {
				return // Channel was closed
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
			flusher.Flush()
		}
	}
}

// Accept queues a summary for broadcast.
func (b *SSEBroker) Accept(summary domain.KillSummary) {
	select {
	case b.summaries <- summary:
	default:
		b.logger.Warn("SSE summary channel is full, dropping summary", "event_id", summary.EventID)
		b.count("dropped")
	}
}

// ClientCount returns the number of connected clients.
func (b *SSEBroker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *SSEBroker) addClient(client chan SSEMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = struct{}{}
	b.logger.Info("SSE client connected")
}

func (b *SSEBroker) removeClient(client chan SSEMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client)
		b.logger.Info("SSE client disconnected")
	}
}

// closeClients ends every open stream.
func (b *SSEBroker) closeClients() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		delete(b.clients, client)
		close(client)
	}
}

func (b *SSEBroker) broadcast(msg SSEMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client <- msg:
		default:
			// Slow client; it misses this message.
		}
	}
}

// run is the main processing loop for the broker.
func (b *SSEBroker) run(ctx context.Context) {
	ticker := time.NewTicker(b.rateInterval)
	defer ticker.Stop()

	var currentCount int
	lastTimestamp := time.Now()

	for {
		select {
		case <-ctx.Done():
			b.closeClients()
			return
		case summary := <-b.summaries:
			data, err := json.Marshal(summary)
			if err != nil {
				b.logger.Error("Failed to marshal kill summary", "event_id", summary.EventID, "error", err)
				b.count("error")
				continue
			}
			currentCount++
			b.broadcast(SSEMessage{Event: "kill", Data: data})
			b.count("written")
		case <-ticker.C:
			now := time.Now()
			duration := now.Sub(lastTimestamp).Seconds()
			rate := 0.0
			if duration > 0 {
				rate = float64(currentCount) / duration
			}

			data, err := json.Marshal(RateMessage{Rate: rate})
			if err != nil {
				b.logger.Error("Failed to marshal SSE message", "error", err)
				continue
			}
			b.broadcast(SSEMessage{Event: "rate", Data: data})

			// Reset for the next interval
			lastTimestamp = now
			currentCount = 0
		}
	}
}

func (b *SSEBroker) count(status string) {
	if b.metrics != nil {
		b.metrics.SummariesBufferedTotal.WithLabelValues(sseSinkName, status).Inc()
	}
}
