package supervisor

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

func TestCollectorExportsSnapshot(t *testing.T) {
	m := domain.Metrics{
		Cycles:      12,
		Successes:   3,
		Failures:    1,
		TotalProfit: big.NewInt(2_500_000),
		TotalLoss:   big.NewInt(500_000),
		CircuitOpen: true,
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(func() domain.Metrics { return m }, func() bool { return true }))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	trades := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			v := metric.GetGauge().GetValue() + metric.GetCounter().GetValue()
			if mf.GetName() == "bridgearb_trades_total" {
				trades[metric.GetLabel()[0].GetValue()] = v
				continue
			}
			values[mf.GetName()] = v
		}
	}

	assert.Equal(t, 12.0, values["bridgearb_cycles_total"])
	assert.Equal(t, 2.5, values["bridgearb_profit_usdc_total"])
	assert.Equal(t, 0.5, values["bridgearb_loss_usdc_total"])
	assert.Equal(t, 1.0, values["bridgearb_circuit_open"])
	assert.Equal(t, 1.0, values["bridgearb_execution_in_progress"])
	assert.Equal(t, map[string]float64{"success": 3, "failure": 1}, trades)
}

func TestCollectorToleratesNilValues(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(func() domain.Metrics { return domain.Metrics{} }, nil))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 9)
}
