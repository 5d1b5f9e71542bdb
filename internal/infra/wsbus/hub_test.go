package wsbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/walletbridge/internal/bridge/hostbus"
	"github.com/aegis-sign/walletbridge/internal/bridge/protocol"
	"github.com/aegis-sign/walletbridge/internal/bridge/provider"
	"github.com/aegis-sign/walletbridge/internal/bridge/transport"
	"github.com/aegis-sign/walletbridge/internal/wallet/actions"
	"github.com/aegis-sign/walletbridge/internal/wallet/store"
)

const (
	originA = "https://a.example"
	originB = "https://b.example"
)

func startHub(t *testing.T, opts ...HubOption) (*Hub, string) {
	t.Helper()
	hub := NewHub(append([]HubOption{WithHubRegisterer(prometheus.NewRegistry())}, opts...)...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/bus"
}

func dialClient(t *testing.T, endpoint, origin string) *Client {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.Endpoint = endpoint
	cfg.Origin = origin
	cfg.Backoff = BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	client, err := Dial(context.Background(), cfg, WithClientRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func collect(bus hostbus.Bus) (<-chan hostbus.Message, func()) {
	ch := make(chan hostbus.Message, 16)
	cancel := bus.Listen(func(m hostbus.Message) { ch <- m })
	return ch, cancel
}

func receive(t *testing.T, ch <-chan hostbus.Message) hostbus.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
		return hostbus.Message{}
	}
}

func TestHubScopesByOrigin(t *testing.T) {
	hub, endpoint := startHub(t)
	a := dialClient(t, endpoint, originA)
	b := dialClient(t, endpoint, originB)
	require.Eventually(t, func() bool { return hub.Peers(originA) == 1 && hub.Peers(originB) == 1 }, time.Second, 5*time.Millisecond)

	aCh, cancelA := collect(a)
	defer cancelA()
	bCh, cancelB := collect(b)
	defer cancelB()
	local, cancelLocal := collect(hub)
	defer cancelLocal()

	require.NoError(t, hub.Post(context.Background(), originA, []byte("to-a")))
	require.Equal(t, "to-a", string(receive(t, aCh).Data))
	localMsg := receive(t, local)
	require.Equal(t, originA, localMsg.Origin)

	require.NoError(t, a.Post(context.Background(), originA, []byte("from-a")))
	// 发送方也会收到自己的消息。
	require.Equal(t, "from-a", string(receive(t, aCh).Data))
	fromPeer := receive(t, local)
	require.Equal(t, originA, fromPeer.Origin)
	require.Equal(t, "from-a", string(fromPeer.Data))

	select {
	case m := <-bCh:
		t.Fatalf("origin b received %q", m.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientDropsForeignTarget(t *testing.T) {
	_, endpoint := startHub(t)
	a := dialClient(t, endpoint, originA)
	aCh, cancel := collect(a)
	defer cancel()

	require.NoError(t, a.Post(context.Background(), originB, []byte("x")))
	select {
	case m := <-aCh:
		t.Fatalf("unexpected delivery %q", m.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubRejectsDisallowedOrigin(t *testing.T) {
	_, endpoint := startHub(t, WithOrigins(originA))

	_, resp, err := websocket.DefaultDialer.Dial(endpoint, http.Header{"Origin": []string{originB}})
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(endpoint, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestClientReconnects(t *testing.T) {
	hub, endpoint := startHub(t)
	reg := prometheus.NewRegistry()
	cfg := DefaultClientConfig()
	cfg.Endpoint = endpoint
	cfg.Origin = originA
	cfg.Backoff = BackoffConfig{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	client, err := Dial(context.Background(), cfg, WithClientRegisterer(reg))
	require.NoError(t, err)
	defer client.Close()
	require.Eventually(t, func() bool { return hub.Peers(originA) == 1 }, time.Second, 5*time.Millisecond)

	hub.mu.RLock()
	for p := range hub.peers[originA] {
		_ = p.conn.Close()
	}
	hub.mu.RUnlock()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(client.metrics.reconnects) >= 1 && client.Connected() && hub.Peers(originA) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ch, cancel := collect(client)
	defer cancel()
	require.NoError(t, hub.Post(context.Background(), originA, []byte("after")))
	require.Equal(t, "after", string(receive(t, ch).Data))
}

func TestBridgeOverWebsocket(t *testing.T) {
	hub, endpoint := startHub(t)
	page := dialClient(t, endpoint, originA)
	require.Eventually(t, func() bool { return hub.Peers(originA) == 1 }, time.Second, 5*time.Millisecond)

	backendTr, err := transport.New(hub, transport.Config{Origin: originA, ExtensionID: "ext-ws"})
	require.NoError(t, err)
	defer backendTr.Close()
	st := store.NewMemoryStore()
	require.NoError(t, st.AllowHost(context.Background(), "a.example"))
	dispatcher, err := actions.NewDispatcher(backendTr, st, actions.NewDigestExecutor(nil), actions.Config{
		Account: actions.Account{Address: "0x5a", Network: "goerli-alpha"},
		Metrics: actions.NewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	defer dispatcher.Close()

	pageTr, err := transport.New(page, transport.Config{Origin: originA, ExtensionID: "ext-ws"})
	require.NoError(t, err)
	defer pageTr.Close()
	p, err := provider.New(pageTr, provider.Config{Host: "a.example", Protocol: protocol.Config{AckTimeout: time.Second}})
	require.NoError(t, err)
	defer p.Close()

	accounts, err := p.Enable(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"0x5a"}, accounts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Request(context.Background(), provider.WatchAsset{Type: provider.AssetERC20, Options: provider.AssetOptions{Address: "0x1"}})
	}()
	var hash string
	require.Eventually(t, func() bool {
		pending := dispatcher.Pending()
		if len(pending) == 1 {
			hash = pending[0].Hash
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, dispatcher.Approve(context.Background(), hash))
	require.NoError(t, <-errCh)
}

func TestResolveEndpoint(t *testing.T) {
	url, dial, err := resolveEndpoint("ws://127.0.0.1:1/bus")
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:1/bus", url)
	require.Nil(t, dial)

	url, dial, err = resolveEndpoint("unix:///tmp/bus.sock")
	require.NoError(t, err)
	require.Equal(t, "ws://unix/bus", url)
	require.NotNil(t, dial)

	_, dial, err = resolveEndpoint("vsock://3:8645")
	require.NoError(t, err)
	require.NotNil(t, dial)

	_, _, err = resolveEndpoint("vsock://3")
	require.Error(t, err)
	_, _, err = resolveEndpoint("tcp://host:1")
	require.Error(t, err)
}

func TestBackoffBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Jitter: 0.2})
	for i := 0; i < 10; i++ {
		d := b.Next()
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.LessOrEqual(t, d, 40*time.Millisecond)
	}
	require.Equal(t, 10, b.Attempts())
	b.Reset()
	require.Equal(t, 0, b.Attempts())
}

func TestLoadClientConfigFromEnv(t *testing.T) {
	t.Setenv("WALLETBRIDGE_BUS_ENDPOINT", "vsock://3:9000")
	t.Setenv("WALLETBRIDGE_BUS_ORIGIN", originB)
	t.Setenv("WALLETBRIDGE_BUS_RETRY_INITIAL", "1s")
	t.Setenv("WALLETBRIDGE_BUS_RETRY_MAX", "500ms")
	t.Setenv("WALLETBRIDGE_BUS_RETRY_JITTER", "0")
	cfg := LoadClientConfigFromEnv()
	require.Equal(t, "vsock://3:9000", cfg.Endpoint)
	require.Equal(t, originB, cfg.Origin)
	require.Equal(t, time.Second, cfg.Backoff.Initial)
	require.Equal(t, time.Second, cfg.Backoff.Max)
	require.Zero(t, cfg.Backoff.Jitter)
}
