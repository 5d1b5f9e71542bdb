package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
	"github.com/aegis-sign/walletbridge/internal/bridge/hostbus"
)

const origin = "https://dapp.example"

func newTestTransport(t *testing.T, bus hostbus.Bus, extID string) (*Transport, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	tr, err := New(bus, Config{Origin: origin, ExtensionID: extID, Metrics: metrics})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr, metrics
}

type envelopeSink struct {
	mu   sync.Mutex
	envs []envelope.Envelope
}

func (s *envelopeSink) handle(env envelope.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func (s *envelopeSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

func TestSendStampsAndRestrictsOrigin(t *testing.T) {
	bus := hostbus.NewMemoryBus(origin)
	t.Cleanup(bus.Close)
	tr, _ := newTestTransport(t, bus, "ext-a")

	raw := make(chan []byte, 1)
	bus.Listen(func(m hostbus.Message) { raw <- m.Data })

	env, err := envelope.New(envelope.TypeConnect, envelope.ConnectRequest{Host: "dapp.example"})
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), env))

	select {
	case data := <-raw:
		var wire map[string]any
		require.NoError(t, json.Unmarshal(data, &wire))
		require.Equal(t, "ext-a", wire["extensionId"])
		require.Equal(t, "CONNECT", wire["type"])
	case <-time.After(time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestSubscribeFiltersForeignTraffic(t *testing.T) {
	bus := hostbus.NewMemoryBus(origin)
	t.Cleanup(bus.Close)
	mine, metrics := newTestTransport(t, bus, "ext-a")
	other, _ := newTestTransport(t, bus, "ext-b")

	sink := &envelopeSink{}
	mine.Subscribe(sink.handle)

	open, err := envelope.New(envelope.TypeOpenUI, nil)
	require.NoError(t, err)
	require.NoError(t, other.Send(context.Background(), open))
	require.NoError(t, bus.Post(context.Background(), origin, []byte(`{"type":"UNKNOWN","extensionId":"ext-a"}`)))
	require.NoError(t, bus.Post(context.Background(), origin, []byte(`garbage`)))
	require.NoError(t, mine.Send(context.Background(), open))

	require.Eventually(t, func() bool {
		return sink.len() == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.dropped.WithLabelValues("foreign_source")) == 1 &&
			testutil.ToFloat64(metrics.dropped.WithLabelValues("unknown_type")) == 1 &&
			testutil.ToFloat64(metrics.dropped.WithLabelValues("malformed")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNewValidatesConfig(t *testing.T) {
	bus := hostbus.NewMemoryBus(origin)
	t.Cleanup(bus.Close)

	_, err := New(nil, Config{Origin: origin, ExtensionID: "x"})
	require.Error(t, err)
	_, err = New(bus, Config{Origin: "*", ExtensionID: "x"})
	require.Error(t, err)
	_, err = New(bus, Config{Origin: origin})
	require.Error(t, err)
}

func TestCloseDetachesSubscribers(t *testing.T) {
	bus := hostbus.NewMemoryBus(origin)
	t.Cleanup(bus.Close)
	tr, _ := newTestTransport(t, bus, "ext-a")

	sink := &envelopeSink{}
	tr.Subscribe(sink.handle)
	tr.Close()

	open, err := envelope.New(envelope.TypeOpenUI, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), open))
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, sink.len())
}
