package domain

import (
	"context"
	"time"
)

// PriceCache keeps the latest sample per pool outside the process.
type PriceCache interface {
	SetSample(ctx context.Context, sample PriceSample) error
	GetSample(ctx context.Context, key string) (PriceSample, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Publisher emits bot events.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// SignalBus provides pub/sub for bot events.
type SignalBus interface {
	Publisher
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Event channels published on the SignalBus.
const (
	ChannelPrice       = "ch:price"
	ChannelOpportunity = "ch:opportunity"
	ChannelExecution   = "ch:execution"
	ChannelStatus      = "ch:status"
)
