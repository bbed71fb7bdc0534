package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// PriceCache implements domain.PriceCache. Each pool's latest sample is stored
// as a JSON string under "price:<network>:<pool>" with an expiry, so a reader
// never sees a sample much older than the TTL.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A non-positive ttl keeps samples until
// they are overwritten.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) priceKey(key string) string {
	return pc.c.key("price", key)
}

// SetSample writes the sample under its pool key. The stale flag is a read-time
// property and is cleared before storing.
func (pc *PriceCache) SetSample(ctx context.Context, sample domain.PriceSample) error {
	sample.Stale = false
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("redis: marshal sample %s: %w", sample.Key(), err)
	}
	ttl := pc.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := pc.c.rdb.Set(ctx, pc.priceKey(sample.Key()), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set sample %s: %w", sample.Key(), err)
	}
	return nil
}

// GetSample returns the cached sample for key, or domain.ErrNotFound.
func (pc *PriceCache) GetSample(ctx context.Context, key string) (domain.PriceSample, error) {
	data, err := pc.c.rdb.Get(ctx, pc.priceKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PriceSample{}, fmt.Errorf("redis: sample %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: get sample %s: %w", key, err)
	}
	var s domain.PriceSample
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.PriceSample{}, fmt.Errorf("redis: decode sample %s: %w", key, err)
	}
	return s, nil
}

// GetSamples fetches several pool keys in one pipeline. Missing keys are
// omitted from the result.
func (pc *PriceCache) GetSamples(ctx context.Context, keys []string) (map[string]domain.PriceSample, error) {
	if len(keys) == 0 {
		return map[string]domain.PriceSample{}, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Get(ctx, pc.priceKey(k))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get samples pipeline: %w", err)
	}

	out := make(map[string]domain.PriceSample, len(keys))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var s domain.PriceSample
		if json.Unmarshal(data, &s) == nil {
			out[keys[i]] = s
		}
	}
	return out, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
