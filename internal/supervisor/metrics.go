package supervisor

import (
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// Metrics owns the cumulative counters. Trade counters only move when an
// execution result exists.
type Metrics struct {
	mu sync.Mutex
	m  domain.Metrics
}

// NewMetrics starts the counters at startedAt.
func NewMetrics(startedAt time.Time) *Metrics {
	return &Metrics{m: domain.Metrics{
		TotalProfit: new(big.Int),
		TotalLoss:   new(big.Int),
		StartedAt:   startedAt,
	}}
}

func (m *Metrics) cycle(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m.Cycles++
	m.m.LastCycleAt = at
}

func (m *Metrics) opportunity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m.Opportunities++
}

func (m *Metrics) abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m.Aborts++
}

// result folds one execution result into the counters. A failed execution
// books its spent gas as a loss.
func (m *Metrics) result(r domain.ExecutionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m.Trades++
	if !r.Success {
		m.m.Failures++
		if r.TotalGasCost != nil {
			m.m.TotalLoss.Add(m.m.TotalLoss, r.TotalGasCost)
		}
		return
	}
	m.m.Successes++
	if r.NetProfit == nil {
		return
	}
	if r.NetProfit.Sign() >= 0 {
		m.m.TotalProfit.Add(m.m.TotalProfit, r.NetProfit)
	} else {
		m.m.TotalLoss.Sub(m.m.TotalLoss, r.NetProfit)
	}
}

// failure bumps the consecutive error count and returns it.
func (m *Metrics) failure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m.ConsecutiveErrors++
	return m.m.ConsecutiveErrors
}

func (m *Metrics) clean() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m.ConsecutiveErrors = 0
}

func (m *Metrics) trip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m.CircuitOpen = true
}

// Snapshot returns a copy safe to hand out.
func (m *Metrics) Snapshot() domain.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.m
	out.TotalProfit = new(big.Int).Set(m.m.TotalProfit)
	out.TotalLoss = new(big.Int).Set(m.m.TotalLoss)
	return out
}
