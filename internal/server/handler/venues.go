package handler

import (
	"context"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/bridgearb/internal/bridge"
	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/swap"
)

// SwapHealth exposes swap venue liveness and route scoring.
type SwapHealth interface {
	VenueHealth(ctx context.Context) []domain.VenueHealth
	RouteHealth(ctx context.Context, req domain.SwapRequest) []swap.RouteHealth
}

// BridgeSelector exposes the bridge policy table.
type BridgeSelector interface {
	Select(route domain.BridgeRoute) bridge.Selection
}

// VenueHandler serves venue and bridge-route health.
type VenueHandler struct {
	swaps   SwapHealth
	bridges BridgeSelector
	home    domain.Network
	remote  domain.Network
	probe   *big.Int
}

// NewVenueHandler creates a VenueHandler. probe is the USDC amount used to
// score swap routes.
func NewVenueHandler(swaps SwapHealth, bridges BridgeSelector, home, remote domain.Network, probe *big.Int) *VenueHandler {
	return &VenueHandler{swaps: swaps, bridges: bridges, home: home, remote: remote, probe: probe}
}

type bridgeRouteHealth struct {
	Asset     domain.Asset   `json:"asset"`
	From      domain.Network `json:"from"`
	To        domain.Network `json:"to"`
	Provider  string         `json:"provider"`
	Available bool           `json:"available"`
	Reason    string         `json:"reason,omitempty"`
}

// GetHealth reports per-venue liveness, a score for the USDC to USDT route on
// every venue, and which bridge provider each route would use.
// GET /api/venues/health
func (h *VenueHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	venues := h.swaps.VenueHealth(ctx)
	routes := h.swaps.RouteHealth(ctx, domain.SwapRequest{
		TokenIn:  domain.AssetUSDC,
		TokenOut: domain.AssetUSDT,
		AmountIn: h.probe,
	})

	var bridges []bridgeRouteHealth
	for _, asset := range []domain.Asset{domain.AssetUSDC, domain.AssetUSDT} {
		for _, pair := range [][2]domain.Network{{h.home, h.remote}, {h.remote, h.home}} {
			route := domain.BridgeRoute{Asset: asset, From: pair[0], To: pair[1]}
			sel := h.bridges.Select(route)
			bridges = append(bridges, bridgeRouteHealth{
				Asset:     asset,
				From:      route.From,
				To:        route.To,
				Provider:  sel.Provider.Name(),
				Available: sel.Available,
				Reason:    sel.Reason,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"venues":  venues,
		"routes":  routes,
		"bridges": bridges,
	})
}
