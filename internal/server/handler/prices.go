package handler

import (
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// PriceSource exposes the sampler's in-memory history.
type PriceSource interface {
	LatestAll() []domain.PriceSample
	TWAP(key string, window time.Duration) (*big.Int, error)
}

// PriceHandler serves pool prices.
type PriceHandler struct {
	prices PriceSource
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceSource, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logHandler(logger, "prices")}
}

type poolPrice struct {
	domain.PriceSample
	TWAP *big.Int `json:"twap,omitempty"`
}

// ListPrices returns the newest sample of every pool. With ?twap=<duration>
// each entry also carries the time-weighted average over that window.
// GET /api/prices?twap=5m
func (h *PriceHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if v := r.URL.Query().Get("twap"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid twap window")
			return
		}
		window = d
	}

	samples := h.prices.LatestAll()
	out := make([]poolPrice, 0, len(samples))
	for _, s := range samples {
		p := poolPrice{PriceSample: s}
		if window > 0 {
			avg, err := h.prices.TWAP(s.Key(), window)
			if err != nil {
				h.logger.DebugContext(r.Context(), "handler: twap unavailable",
					slog.String("pool", s.Key()),
					slog.String("error", err.Error()),
				)
			} else {
				p.TWAP = avg
			}
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": out})
}
