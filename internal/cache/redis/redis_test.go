package redis

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bridgearb/internal/domain"
)

// unreachable points at a closed port so every command fails fast.
func unreachable(t *testing.T, prefix string) *Client {
	t.Helper()
	c := Wrap(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	}), prefix)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestKeyPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"", []string{"price", "avalanche:0xpool"}, "price:avalanche:0xpool"},
		{"bridgearb", []string{"lock", "bridgearb:execution"}, "bridgearb:lock:bridgearb:execution"},
		{"bot1", []string{domain.ChannelPrice}, "bot1:ch:price"},
		{"bot1", nil, "bot1"},
	}
	for _, tt := range tests {
		c := &Client{prefix: tt.prefix}
		assert.Equal(t, tt.want, c.key(tt.parts...))
	}
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:*"))
	assert.True(t, hasPattern("ch:price:?"))
	assert.False(t, hasPattern(domain.ChannelExecution))
}

func TestUnreachableServerSurfacesErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c := unreachable(t, "test")

	_, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1", MaxRetries: -1})
	assert.Error(t, err)

	cache := NewPriceCache(c, time.Minute)
	err = cache.SetSample(ctx, domain.PriceSample{Network: domain.NetworkAvalanche, Pool: "0xpool", Price: big.NewInt(1_000_000)})
	assert.Error(t, err)
	_, err = cache.GetSample(ctx, "avalanche:0xpool")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	_, err = NewLockManager(c).Acquire(ctx, "execution", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrLockHeld)

	_, err = NewRateLimiter(c).Allow(ctx, "api:127.0.0.1", 10, time.Second)
	assert.Error(t, err)
}

func TestGetSamplesEmpty(t *testing.T) {
	got, err := NewPriceCache(unreachable(t, ""), 0).GetSamples(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
