package api

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/killwatch/internal/adapter/api/handler"
	"github.com/V4T54L/killwatch/internal/adapter/api/middleware"
)

// NewRouter creates the admin HTTP router: health, status, the live SSE stream and
// Prometheus metrics.
func NewRouter(
	logger *slog.Logger,
	statusHandler *handler.StatusHandler,
	broker *handler.SSEBroker,
	metricsHandler http.Handler,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", statusHandler.HealthCheck)
	mux.HandleFunc("GET /status", statusHandler.Status)
	mux.HandleFunc("GET /systems/{systemID}/latest", statusHandler.LatestForSystem)
	mux.Handle("GET /events", broker)
	mux.Handle("GET /metrics", metricsHandler)

	return middleware.Logging(logger)(mux)
}
