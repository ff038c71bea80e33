package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/V4T54L/killwatch/internal/adapter/feed"
)

// FeedStatusReporter reports the state of one feed connection.
type FeedStatusReporter interface {
	Status() feed.ConnectorStatus
}

// PipelineStatusReporter reports correlation progress.
type PipelineStatusReporter interface {
	InFlight() int64
	LedgerSize() int
}

// SystemLatestReader returns the latest-kill record kept for a solar system.
type SystemLatestReader interface {
	LatestForSystem(ctx context.Context, systemID int64) (map[string]string, error)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status          string                 `json:"status"`
	Feeds           []feed.ConnectorStatus `json:"feeds"`
	LedgerSize      int                    `json:"ledger_size"`
	InFlight        int64                  `json:"in_flight"`
	SSEClients      int                    `json:"sse_clients"`
	BufferAvailable *bool                  `json:"buffer_available,omitempty"`
}

// StatusHandler serves health and pipeline status.
type StatusHandler struct {
	feeds    []FeedStatusReporter
	pipeline PipelineStatusReporter
	broker   *SSEBroker
	latest   SystemLatestReader
	buffer   func() bool
	logger   *slog.Logger
}

// NewStatusHandler creates a new StatusHandler. latest and bufferAvailable may be nil
// when no summary buffer is configured.
func NewStatusHandler(
	feeds []FeedStatusReporter,
	pipeline PipelineStatusReporter,
	broker *SSEBroker,
	latest SystemLatestReader,
	bufferAvailable func() bool,
	logger *slog.Logger,
) *StatusHandler {
	return &StatusHandler{
		feeds:    feeds,
		pipeline: pipeline,
		broker:   broker,
		latest:   latest,
		buffer:   bufferAvailable,
		logger:   logger,
	}
}

// HealthCheck is a simple health check endpoint.
func (h *StatusHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status reports per-feed connection state and correlation counters.
// GET /status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:     "ok",
		Feeds:      make([]feed.ConnectorStatus, 0, len(h.feeds)),
		LedgerSize: h.pipeline.LedgerSize(),
		InFlight:   h.pipeline.InFlight(),
	}
	connected := 0
	for _, f := range h.feeds {
		s := f.Status()
		if s.Connected {
			connected++
		}
		resp.Feeds = append(resp.Feeds, s)
	}
	if connected < len(h.feeds) {
		resp.Status = "degraded"
	}
	if h.broker != nil {
		resp.SSEClients = h.broker.ClientCount()
	}
	if h.buffer != nil {
		available := h.buffer()
		resp.BufferAvailable = &available
		if !available {
			resp.Status = "degraded"
		}
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}

// LatestForSystem returns the latest kill recorded for a system.
// GET /systems/{systemID}/latest
func (h *StatusHandler) LatestForSystem(w http.ResponseWriter, r *http.Request) {
	if h.latest == nil {
		http.Error(w, "summary buffer not configured", http.StatusNotImplemented)
		return
	}
	systemID, err := strconv.ParseInt(r.PathValue("systemID"), 10, 64)
	if err != nil || systemID <= 0 {
		http.Error(w, "invalid systemID", http.StatusBadRequest)
		return
	}

	fields, err := h.latest.LatestForSystem(r.Context(), systemID)
	if err != nil {
		h.logger.Error("failed to read latest kill for system", "system_id", systemID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if fields == nil {
		http.Error(w, "no recent kills", http.StatusNotFound)
		return
	}
	h.respondWithJSON(w, http.StatusOK, fields)
}

func (h *StatusHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
