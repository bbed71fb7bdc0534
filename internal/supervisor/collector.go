package supervisor

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

const namespace = "bridgearb"

// Collector exports the loop counters to Prometheus. Values are read from a
// snapshot on every scrape.
type Collector struct {
	metrics    func() domain.Metrics
	inProgress func() bool

	cycles        *prometheus.Desc
	opportunities *prometheus.Desc
	trades        *prometheus.Desc
	aborts        *prometheus.Desc
	profit        *prometheus.Desc
	loss          *prometheus.Desc
	consecutive   *prometheus.Desc
	circuitOpen   *prometheus.Desc
	executing     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector exports s. inProgress reports whether an execution is running
// and may be nil.
func NewCollector(s *Supervisor, inProgress func() bool) *Collector {
	return newCollector(s.Metrics, inProgress)
}

func newCollector(metrics func() domain.Metrics, inProgress func() bool) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		metrics:       metrics,
		inProgress:    inProgress,
		cycles:        desc("cycles_total", "Poll cycles run."),
		opportunities: desc("opportunities_total", "Profitable opportunities found."),
		trades:        desc("trades_total", "Executions by outcome.", "outcome"),
		aborts:        desc("aborts_total", "Executions aborted before any step because the price moved."),
		profit:        desc("profit_usdc_total", "Cumulative realized profit in USDC."),
		loss:          desc("loss_usdc_total", "Cumulative realized loss in USDC."),
		consecutive:   desc("consecutive_errors", "Current run of failed cycles."),
		circuitOpen:   desc("circuit_open", "1 once the circuit breaker has tripped."),
		executing:     desc("execution_in_progress", "1 while an execution is running."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.cycles, c.opportunities, c.trades, c.aborts, c.profit,
		c.loss, c.consecutive, c.circuitOpen, c.executing,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.metrics()
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.cycles, float64(m.Cycles))
	counter(c.opportunities, float64(m.Opportunities))
	counter(c.trades, float64(m.Successes), "success")
	counter(c.trades, float64(m.Failures), "failure")
	counter(c.aborts, float64(m.Aborts))
	counter(c.profit, usdc(m.TotalProfit))
	counter(c.loss, usdc(m.TotalLoss))
	gauge(c.consecutive, float64(m.ConsecutiveErrors))
	gauge(c.circuitOpen, boolValue(m.CircuitOpen))
	gauge(c.executing, boolValue(c.inProgress != nil && c.inProgress()))
}

// usdc converts base units (six decimals) to whole USDC.
func usdc(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v, -6).InexactFloat64()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
