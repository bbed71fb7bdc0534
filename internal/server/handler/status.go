package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// MetricsSource exposes the supervisor counters.
type MetricsSource interface {
	Metrics() domain.Metrics
}

// ExecutionState exposes the engine's admission state.
type ExecutionState interface {
	InProgress() bool
	Simulation() bool
}

// StatusHandler serves the run mode and loop state.
type StatusHandler struct {
	mode    string
	metrics MetricsSource
	engine  ExecutionState
	now     func() time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, metrics MetricsSource, engine ExecutionState) *StatusHandler {
	return &StatusHandler{mode: mode, metrics: metrics, engine: engine, now: time.Now}
}

type statusResponse struct {
	Mode                string    `json:"mode"`
	Simulation          bool      `json:"simulation"`
	ExecutionInProgress bool      `json:"execution_in_progress"`
	CircuitOpen         bool      `json:"circuit_open"`
	ConsecutiveErrors   int       `json:"consecutive_errors"`
	UptimeSeconds       int64     `json:"uptime_seconds"`
	LastCycleAt         time.Time `json:"last_cycle_at"`
}

// GetStatus responds with the run mode, the admission flag and the breaker
// state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	m := h.metrics.Metrics()
	uptime := int64(h.now().Sub(m.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:                h.mode,
		Simulation:          h.engine.Simulation(),
		ExecutionInProgress: h.engine.InProgress(),
		CircuitOpen:         m.CircuitOpen,
		ConsecutiveErrors:   m.ConsecutiveErrors,
		UptimeSeconds:       uptime,
		LastCycleAt:         m.LastCycleAt,
	})
}

// GetMetrics responds with the cumulative counters.
// GET /api/metrics
func (h *StatusHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Metrics())
}
