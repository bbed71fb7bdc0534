package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bridgearb/internal/bridge"
	"github.com/alanyoungcy/bridgearb/internal/config"
	"github.com/alanyoungcy/bridgearb/internal/domain"
)

type recordingPublisher struct {
	channels []string
}

func (r *recordingPublisher) Publish(_ context.Context, channel string, _ []byte) error {
	r.channels = append(r.channels, channel)
	return nil
}

func TestPublisherRefDropsUntilTargetSet(t *testing.T) {
	ref := &publisherRef{}
	require.NoError(t, ref.Publish(context.Background(), domain.ChannelPrice, []byte("{}")))

	rec := &recordingPublisher{}
	ref.target = rec
	require.NoError(t, ref.Publish(context.Background(), domain.ChannelExecution, []byte("{}")))
	assert.Equal(t, []string{domain.ChannelExecution}, rec.channels)
}

func TestBridgePolicyOverlaysDefaults(t *testing.T) {
	p := bridgePolicy(map[string]string{"USDT": "debridge"})
	assert.Equal(t, bridge.KindDeBridge, p[domain.AssetUSDC])
	assert.Equal(t, bridge.KindDeBridge, p[domain.AssetUSDT])

	assert.Equal(t, bridge.DefaultPolicy(), bridgePolicy(nil))
}

func TestDeBridgeChainIDOverride(t *testing.T) {
	d := config.Defaults()
	assert.Equal(t, int64(43114), debridgeChainID(d.Networks.A))
	assert.Equal(t, int64(100000014), debridgeChainID(d.Networks.B))
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := retryPolicy(config.Defaults().Retry)
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Positive(t, p.BaseDelay)
}

type stubHeight struct{ err error }

func (s stubHeight) BlockNumber(context.Context) (uint64, error) { return 42, s.err }

func TestRPCPinger(t *testing.T) {
	assert.NoError(t, rpcPinger{c: stubHeight{}}.Ping(context.Background()))
	assert.Error(t, rpcPinger{c: stubHeight{err: errors.New("dial tcp: refused")}}.Ping(context.Background()))
}

func TestBusOrNil(t *testing.T) {
	assert.Nil(t, busOrNil(&Dependencies{}))
}

func TestRunFailsWhenRPCCannotBeDialed(t *testing.T) {
	cfg := config.Defaults()
	cfg.Networks.A.RPCURL = "unix:///nonexistent/bridgearb.ipc"
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire")
}
