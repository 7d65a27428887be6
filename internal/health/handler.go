// Package health serves liveness, readiness and health probes.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
)

// Pinger reports store reachability. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
	StatusAlive     = "alive"
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Version       string    `json:"version"`
}

// DatabaseStatus reports the outcome of the readiness ping.
type DatabaseStatus struct {
	Status         string `json:"status"`
	ResponseTimeMS *int64 `json:"response_time_ms"`
}

// ReadinessResponse is returned by /ready.
type ReadinessResponse struct {
	Status        string         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	Database      DatabaseStatus `json:"database"`
	UptimeSeconds int64          `json:"uptime_seconds"`
}

// LivenessResponse is returned by /live.
type LivenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler serves the probes.
type Handler struct {
	logger      *slog.Logger
	db          Pinger
	version     string
	started     time.Time
	pingTimeout time.Duration
	now         func() time.Time
}

// NewHandler builds a Handler. version is reported by /health.
func NewHandler(logger *slog.Logger, db Pinger, version string) *Handler {
	return &Handler{
		logger:      logger,
		db:          db,
		version:     version,
		started:     time.Now(),
		pingTimeout: 2 * time.Second,
		now:         time.Now,
	}
}

// MountRoutes registers /health, /ready and /live.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/ready", h.ready)
	r.Get("/live", h.live)
}

func (h *Handler) uptime() int64 {
	return int64(h.now().Sub(h.started).Seconds())
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, HealthResponse{
		Status:        StatusHealthy,
		Timestamp:     h.now().UTC(),
		UptimeSeconds: h.uptime(),
		Version:       h.version,
	})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.pingTimeout)
	defer cancel()

	dbStatus := DatabaseStatus{Status: StatusHealthy}
	start := h.now()
	if err := h.db.Ping(ctx); err != nil {
		if h.logger != nil {
			h.logger.Error("readiness ping failed", slog.Any("error", err))
		}
		dbStatus.Status = StatusUnhealthy
	} else {
		elapsed := h.now().Sub(start).Milliseconds()
		dbStatus.ResponseTimeMS = &elapsed
	}

	status, code := StatusReady, http.StatusOK
	if dbStatus.Status != StatusHealthy {
		status, code = StatusNotReady, http.StatusServiceUnavailable
	}
	httpx.JSON(w, code, ReadinessResponse{
		Status:        status,
		Timestamp:     h.now().UTC(),
		Database:      dbStatus,
		UptimeSeconds: h.uptime(),
	})
}

func (h *Handler) live(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, LivenessResponse{Status: StatusAlive, Timestamp: h.now().UTC()})
}
