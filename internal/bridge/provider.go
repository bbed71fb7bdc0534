// Package bridge moves stable assets between the two networks through one of
// three providers and coordinates provider choice and fallback.
package bridge

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// ProviderKind is the closed set of bridge providers.
type ProviderKind string

const (
	KindDeBridge   ProviderKind = "debridge"
	KindCCIP       ProviderKind = "ccip"
	KindSimulation ProviderKind = "simulation"
)

// Provider quotes, executes and monitors transfers along supported routes.
type Provider interface {
	Name() string
	Kind() ProviderKind
	IsRouteAvailable(route domain.BridgeRoute) bool
	Quote(ctx context.Context, req domain.BridgeRequest) (domain.BridgeQuote, error)
	Execute(ctx context.Context, req domain.BridgeRequest) (domain.BridgeTransfer, error)
	// Monitor blocks until the transfer completes, fails or timeout elapses.
	Monitor(ctx context.Context, t domain.BridgeTransfer, timeout time.Duration) (Completion, error)
}

// Completion is the terminal state of a monitored transfer.
type Completion struct {
	Provider    string        `json:"provider"`
	TxRef       string        `json:"tx_ref"`
	Status      string        `json:"status"`
	AmountOut   *big.Int      `json:"amount_out"`
	Elapsed     time.Duration `json:"elapsed"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Endpoint describes one network as the bridges see it.
type Endpoint struct {
	Network domain.Network
	// ChainID is the EVM chain id, also used as the deBridge chain id.
	ChainID int64
	// CCIPSelector is the CCIP chain selector; zero when CCIP is not deployed.
	CCIPSelector uint64
	CCIPRouter   string
	Tokens       map[domain.Asset]string
}

// Token returns the token address of asset on the endpoint.
func (e Endpoint) Token(a domain.Asset) (string, bool) {
	t, ok := e.Tokens[a]
	return t, ok && t != ""
}

// Endpoints indexes endpoints by network.
type Endpoints map[domain.Network]Endpoint

func (es Endpoints) pair(route domain.BridgeRoute) (Endpoint, Endpoint, error) {
	from, ok := es[route.From]
	if !ok {
		return Endpoint{}, Endpoint{}, fmt.Errorf("unknown source network %s", route.From)
	}
	to, ok := es[route.To]
	if !ok {
		return Endpoint{}, Endpoint{}, fmt.Errorf("unknown destination network %s", route.To)
	}
	if route.From == route.To {
		return Endpoint{}, Endpoint{}, fmt.Errorf("source equals destination")
	}
	return from, to, nil
}

func routeContext(route domain.BridgeRoute) domain.Context {
	return domain.Context{
		"asset": string(route.Asset),
		"from":  string(route.From),
		"to":    string(route.To),
	}
}

func bridgeErr(provider string, kind domain.Kind, route domain.BridgeRoute, err error) error {
	return &domain.BridgeError{Kind: kind, Provider: provider, Context: routeContext(route), Err: err}
}
