// Package pricing samples pool prices on both networks, normalizes them to six
// implied decimals and keeps a bounded per-pool history for staleness and TWAP.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bridgearb/internal/chain"
	"github.com/alanyoungcy/bridgearb/internal/domain"
	"github.com/alanyoungcy/bridgearb/internal/profit"
)

// DefaultHistorySize is the per-pool history bound.
const DefaultHistorySize = 100

// Pool identifies the sampled pool on one network.
type Pool struct {
	Network domain.Network
	Address string
	// QuoteToken is the USDT address; used to orient the price.
	QuoteToken string
}

// Config tunes the sampler.
type Config struct {
	FallbackEnabled bool
	Band            Band
	StaleThreshold  time.Duration
	HistorySize     int
}

// Sampler polls pools and owns their histories.
type Sampler struct {
	clients map[domain.Network]chain.Client
	pools   map[domain.Network]Pool
	cfg     Config
	cache   domain.PriceCache
	bus     domain.Publisher
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.RWMutex
	history map[string][]domain.PriceSample
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithCache writes every sample through to c.
func WithCache(c domain.PriceCache) Option {
	return func(s *Sampler) { s.cache = c }
}

// WithBus publishes every sample on domain.ChannelPrice.
func WithBus(b domain.Publisher) Option {
	return func(s *Sampler) { s.bus = b }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// NewSampler creates a sampler for the given pools. Every pool's network must
// have a client.
func NewSampler(clients []chain.Client, pools []Pool, cfg Config, logger *slog.Logger, opts ...Option) (*Sampler, error) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Band.Min == nil && cfg.Band.Max == nil {
		cfg.Band = DefaultBand()
	}
	s := &Sampler{
		clients: make(map[domain.Network]chain.Client, len(clients)),
		pools:   make(map[domain.Network]Pool, len(pools)),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "sampler")),
		now:     time.Now,
		history: make(map[string][]domain.PriceSample),
	}
	for _, c := range clients {
		s.clients[c.Network()] = c
	}
	for _, p := range pools {
		if _, ok := s.clients[p.Network]; !ok {
			return nil, fmt.Errorf("pricing: no chain client for network %s", p.Network)
		}
		s.pools[p.Network] = p
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Pools returns the configured pools ordered by network name.
func (s *Sampler) Pools() []Pool {
	out := make([]Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Network < out[j].Network })
	return out
}

// Sample reads the pool on network, converts its price and appends the sample
// to history.
func (s *Sampler) Sample(ctx context.Context, network domain.Network) (domain.PriceSample, error) {
	pool, ok := s.pools[network]
	if !ok {
		return domain.PriceSample{}, &domain.PriceError{
			Kind:    domain.KindPoolRead,
			Network: network,
			Err:     fmt.Errorf("no pool configured"),
		}
	}
	st, err := s.clients[network].PoolState(ctx, common.HexToAddress(pool.Address))
	if err != nil {
		return domain.PriceSample{}, &domain.PriceError{
			Kind:    domain.KindPoolRead,
			Network: network,
			Context: domain.Context{"pool": pool.Address},
			Err:     err,
		}
	}

	conv := Convert(st.SqrtPriceX96, s.cfg.Band)
	if conv.Fallback && !s.cfg.FallbackEnabled {
		kind := domain.KindOutOfBand
		if conv.Primary.Sign() == 0 {
			kind = domain.KindConversion
		}
		return domain.PriceSample{}, &domain.PriceError{
			Kind:    kind,
			Network: network,
			Context: domain.Context{
				"pool":    pool.Address,
				"primary": conv.Primary.String(),
				"sqrt":    bigString(st.SqrtPriceX96),
			},
		}
	}
	if conv.Fallback {
		s.logger.WarnContext(ctx, "sampler: primary price outside sanity band, using fallback",
			slog.String("network", string(network)),
			slog.String("primary", conv.Primary.String()),
			slog.String("price", conv.Price.String()),
		)
	}

	sample := domain.PriceSample{
		Network:     network,
		Pool:        pool.Address,
		Price:       orientPrice(conv.Price, st, pool.QuoteToken),
		Liquidity:   st.Liquidity,
		BlockHeight: st.BlockHeight,
		Timestamp:   s.now(),
		Fallback:    conv.Fallback,
	}
	s.record(sample)
	s.publish(ctx, sample)
	return sample, nil
}

// SampleAll samples every configured pool concurrently. A failed read does not
// cancel the others; successful samples are recorded and returned together
// with the first failure in pool order.
func (s *Sampler) SampleAll(ctx context.Context) (map[domain.Network]domain.PriceSample, error) {
	pools := s.Pools()
	settled := make([]domain.Settled[domain.PriceSample], len(pools))
	var g errgroup.Group
	for i, p := range pools {
		g.Go(func() error {
			sample, err := s.Sample(ctx, p.Network)
			settled[i] = domain.Settled[domain.PriceSample]{Source: string(p.Network), Value: sample, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[domain.Network]domain.PriceSample, len(pools))
	for _, smp := range domain.Fulfilled(settled) {
		out[smp.Network] = smp
	}
	for _, r := range settled {
		if !r.OK() {
			return out, r.Err
		}
	}
	return out, nil
}

// Record appends an externally obtained sample to history.
func (s *Sampler) Record(sample domain.PriceSample) {
	s.record(sample)
}

func (s *Sampler) record(sample domain.PriceSample) {
	sample.Stale = false
	key := sample.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[key], sample)
	if over := len(h) - s.cfg.HistorySize; over > 0 {
		h = append(h[:0:0], h[over:]...)
	}
	s.history[key] = h
}

func (s *Sampler) publish(ctx context.Context, sample domain.PriceSample) {
	if s.cache != nil {
		if err := s.cache.SetSample(ctx, sample); err != nil {
			s.logger.WarnContext(ctx, "sampler: cache write failed", slog.String("error", err.Error()))
		}
	}
	if s.bus != nil {
		payload, err := json.Marshal(sample)
		if err == nil {
			err = s.bus.Publish(ctx, domain.ChannelPrice, payload)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "sampler: publish failed", slog.String("error", err.Error()))
		}
	}
}

// Latest returns the newest sample for key with its staleness flag computed.
func (s *Sampler) Latest(key string) (domain.PriceSample, bool) {
	s.mu.RLock()
	h := s.history[key]
	if len(h) == 0 {
		s.mu.RUnlock()
		return domain.PriceSample{}, false
	}
	sample := h[len(h)-1]
	s.mu.RUnlock()
	sample.Stale = sample.IsStale(s.now(), s.cfg.StaleThreshold)
	return sample, true
}

// LatestAll returns the newest sample of every pool.
func (s *Sampler) LatestAll() []domain.PriceSample {
	out := make([]domain.PriceSample, 0, len(s.pools))
	for _, p := range s.Pools() {
		if smp, ok := s.Latest(domain.PoolKey(p.Network, p.Address)); ok {
			out = append(out, smp)
		}
	}
	return out
}

// History returns a copy of the samples for key, oldest first. A positive
// maxAge drops older samples.
func (s *Sampler) History(key string, maxAge time.Duration) []domain.PriceSample {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[key]
	out := make([]domain.PriceSample, 0, len(h))
	for _, smp := range h {
		if maxAge > 0 && smp.Age(now) > maxAge {
			continue
		}
		out = append(out, smp)
	}
	return out
}

// TWAP returns the time-weighted average price for key over window.
func (s *Sampler) TWAP(key string, window time.Duration) (*big.Int, error) {
	h := s.History(key, 0)
	points := make([]profit.Point, len(h))
	for i, smp := range h {
		points[i] = profit.Point{Price: smp.Price, At: smp.Timestamp}
	}
	avg, ok := profit.TWAP(points, window, s.now())
	if !ok {
		return nil, &domain.PriceError{
			Kind:    domain.KindNoSamples,
			Context: domain.Context{"pool": key, "window": window.String()},
		}
	}
	return avg, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
