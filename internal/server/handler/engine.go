package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// EngineView exposes the engine's in-memory opportunity ring and execution
// history.
type EngineView interface {
	RecentOpportunities() []domain.ArbitrageOpportunity
	Results() []domain.ExecutionResult
	Result(opportunityID string) (domain.ExecutionResult, error)
}

// EngineHandler serves opportunities and executions.
type EngineHandler struct {
	engine EngineView
	logger *slog.Logger
}

// NewEngineHandler creates an EngineHandler.
func NewEngineHandler(engine EngineView, logger *slog.Logger) *EngineHandler {
	return &EngineHandler{engine: engine, logger: logHandler(logger, "engine")}
}

// ListOpportunities returns the most recent evaluations, newest first.
// GET /api/opportunities?limit=20
func (h *EngineHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20, 200)
	opps := h.engine.RecentOpportunities()
	if len(opps) > limit {
		opps = opps[:limit]
	}
	if r.URL.Query().Get("profitable") == "true" {
		kept := opps[:0:0]
		for _, o := range opps {
			if o.Profitable {
				kept = append(kept, o)
			}
		}
		opps = kept
	}
	if opps == nil {
		opps = []domain.ArbitrageOpportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": opps})
}

// ListExecutions returns execution results, newest first.
// GET /api/executions?limit=50
func (h *EngineHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50, 1000)
	all := h.engine.Results()
	out := make([]domain.ExecutionResult, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": out, "total": len(all)})
}

// GetExecution returns the execution of one opportunity.
// GET /api/executions/{id}
func (h *EngineHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := h.engine.Result(id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get execution failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
