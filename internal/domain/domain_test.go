package domain

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepTransitionIsMonotonic(t *testing.T) {
	now := time.Now()
	step := ExecutionStep{Index: 0, Kind: StepSwap, Status: StepPending}

	require.NoError(t, step.Transition(StepExecuting, now))
	assert.Error(t, step.Transition(StepPending, now), "executing -> pending must be rejected")
	assert.Error(t, step.Transition(StepExecuting, now), "self transition must be rejected")
	require.NoError(t, step.Transition(StepCompleted, now))
	assert.Error(t, step.Transition(StepFailed, now), "terminal status is final")
	assert.Equal(t, StepCompleted, step.Status)
}

func TestStepCompletesOnlyAfterExecuting(t *testing.T) {
	step := ExecutionStep{Status: StepPending}
	assert.Error(t, step.Transition(StepCompleted, time.Now()))
	assert.Equal(t, StepPending, step.Status)
}

func TestStepCanFailFromPending(t *testing.T) {
	step := ExecutionStep{Status: StepPending}
	require.NoError(t, step.Transition(StepFailed, time.Now()))
	assert.True(t, step.Status.Terminal())
}

func TestKindOfReturnsOutermost(t *testing.T) {
	inner := &PriceError{Kind: KindPoolRead, Network: NetworkSonic}
	outer := &SwapError{Kind: KindQuoteFailed, Venue: "shadow", Err: inner}
	wrapped := fmt.Errorf("coordinator: %w", outer)

	assert.Equal(t, KindQuoteFailed, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))

	var pe *PriceError
	require.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, NetworkSonic, pe.Network)
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"quote failure", &SwapError{Kind: KindQuoteFailed}, false},
		{"provider execute", &BridgeError{Kind: KindExecuteFailed}, false},
		{"monitor timeout", &BridgeError{Kind: KindMonitorTimeout, Err: ErrMonitorTimeout}, true},
		{"price moved", &ExecutionError{Kind: KindPriceMoved, Err: ErrPriceMoved}, true},
		{"in progress", &ExecutionError{Kind: KindInProgress, Err: ErrExecutionInProgress}, true},
		{"foreign", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsFatal(tt.err))
		})
	}
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := &BridgeError{
		Kind:     KindMonitorTimeout,
		Provider: "debridge",
		Context:  Context{"order": "0xabc", "timeout": "5s"},
		Err:      ErrMonitorTimeout,
	}
	assert.Equal(t, "bridge debridge: monitor_timeout [order=0xabc timeout=5s]: bridge monitoring timed out", err.Error())
	assert.ErrorIs(t, err, ErrMonitorTimeout)
}

func TestSettledPartition(t *testing.T) {
	in := []Settled[int]{
		{Source: "a", Value: 1},
		{Source: "b", Err: errors.New("down")},
		{Source: "c", Value: 3},
	}
	assert.Equal(t, []int{1, 3}, Fulfilled(in))
	rejected := Rejected(in)
	require.Len(t, rejected, 1)
	assert.EqualError(t, rejected["b"], "down")
}

func TestQuoteHelpers(t *testing.T) {
	q := SwapQuote{AmountIn: big.NewInt(1_000_000), AmountOut: big.NewInt(999_500)}
	assert.Equal(t, big.NewInt(999_500), q.EffectivePrice())
	assert.Equal(t, int64(0), SwapQuote{}.EffectivePrice().Int64())

	bq := BridgeQuote{AmountIn: big.NewInt(1_000_000), AmountOut: big.NewInt(999_000), Fee: big.NewInt(250)}
	assert.Equal(t, big.NewInt(1_250), bq.EffectiveCost())
}

func TestPriceSampleStaleness(t *testing.T) {
	now := time.Now()
	s := PriceSample{Network: NetworkAvalanche, Pool: "0xABC", Timestamp: now.Add(-2 * time.Minute)}
	assert.True(t, s.IsStale(now, time.Minute))
	assert.False(t, s.IsStale(now, 5*time.Minute))
	assert.False(t, s.IsStale(now, 0))
	assert.Equal(t, "avalanche:0xabc", s.Key())
}
