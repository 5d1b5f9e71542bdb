package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
	"github.com/aegis-sign/walletbridge/internal/bridge/hostbus"
	"github.com/aegis-sign/walletbridge/internal/bridge/protocol"
	"github.com/aegis-sign/walletbridge/internal/bridge/transport"
	"github.com/aegis-sign/walletbridge/pkg/apierrors"
)

const (
	testOrigin  = "https://dapp.example"
	testExtID   = "ext-test"
	testAddress = "0x3a"
)

var pageTypes = map[envelope.Type]bool{
	envelope.TypeConnect:        true,
	envelope.TypeOpenUI:         true,
	envelope.TypeAddToken:       true,
	envelope.TypeAddTransaction: true,
	envelope.TypeAddSign:        true,
}

// scriptedBackend 在同一总线上扮演后台，按类型自动确认请求。
type scriptedBackend struct {
	t  *testing.T
	tr *transport.Transport

	hashSeq  atomic.Int64
	connects atomic.Int64

	mu   sync.Mutex
	seen []envelope.Envelope
}

func newScriptedBackend(t *testing.T, bus hostbus.Bus) *scriptedBackend {
	t.Helper()
	tr, err := transport.New(bus, transport.Config{Origin: testOrigin, ExtensionID: testExtID})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	b := &scriptedBackend{t: t, tr: tr}
	tr.Subscribe(b.handle)
	return b
}

func (b *scriptedBackend) handle(env envelope.Envelope) {
	if !pageTypes[env.Type] {
		return
	}
	b.mu.Lock()
	b.seen = append(b.seen, env)
	b.mu.Unlock()

	var reply envelope.Envelope
	var err error
	switch env.Type {
	case envelope.TypeConnect:
		b.connects.Add(1)
		time.Sleep(10 * time.Millisecond)
		reply, err = envelope.New(envelope.TypeConnectRes, envelope.ConnectResult{Address: testAddress, Network: "mainnet-alpha"})
	case envelope.TypeAddToken:
		reply, err = envelope.New(envelope.TypeAddTokenRes, envelope.ActionAck{ActionHash: b.nextHash()})
	case envelope.TypeAddTransaction:
		reply, err = envelope.New(envelope.TypeAddTransactionRes, envelope.ActionAck{ActionHash: b.nextHash()})
	case envelope.TypeAddSign:
		reply, err = envelope.New(envelope.TypeAddSignRes, envelope.ActionAck{ActionHash: b.nextHash()})
	default:
		return
	}
	if err != nil {
		return
	}
	reply.RequestID = env.RequestID
	_ = b.tr.Send(context.Background(), reply)
}

func (b *scriptedBackend) nextHash() string {
	return "h" + string(rune('0'+b.hashSeq.Add(1)))
}

func (b *scriptedBackend) send(typ envelope.Type, payload any) {
	env, err := envelope.New(typ, payload)
	require.NoError(b.t, err)
	require.NoError(b.t, b.tr.Send(context.Background(), env))
}

func (b *scriptedBackend) received(typ envelope.Type) []envelope.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []envelope.Envelope
	for _, env := range b.seen {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func (b *scriptedBackend) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seen)
}

func (b *scriptedBackend) awaitOpenUI(n int) {
	require.Eventually(b.t, func() bool {
		return len(b.received(envelope.TypeOpenUI)) >= n
	}, 2*time.Second, 2*time.Millisecond)
}

func newTestProvider(t *testing.T) (*Provider, *scriptedBackend) {
	t.Helper()
	bus := hostbus.NewMemoryBus(testOrigin)
	t.Cleanup(bus.Close)
	backend := newScriptedBackend(t, bus)

	tr, err := transport.New(bus, transport.Config{Origin: testOrigin, ExtensionID: testExtID})
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	p, err := New(tr, Config{
		Host: "dapp.example",
		Protocol: protocol.Config{
			AckTimeout:       200 * time.Millisecond,
			ApprovalTimeout:  2 * time.Second,
			RejectionTimeout: time.Second,
			ConnectTimeout:   time.Second,
		},
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, backend
}

func enable(t *testing.T, p *Provider) {
	t.Helper()
	accounts, err := p.Enable(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{testAddress}, accounts)
}

func TestEnableAdoptsConnection(t *testing.T) {
	p, _ := newTestProvider(t)
	require.False(t, p.IsConnected())
	_, ok := p.Signer()
	require.False(t, ok)

	enable(t, p)
	require.True(t, p.IsConnected())
	require.Equal(t, testAddress, p.SelectedAddress())
	require.Equal(t, "SN_MAIN", p.Network().ChainID)

	signer, ok := p.Signer()
	require.True(t, ok)
	require.Equal(t, testAddress, signer.Address())
	require.True(t, signer.Network().IsMainnet())
}

func TestConcurrentEnableCoalesces(t *testing.T) {
	p, backend := newTestProvider(t)
	errs := make(chan error, 5)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Enable(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, backend.connects.Load(), int64(1))
	require.LessOrEqual(t, backend.connects.Load(), int64(5))
	require.Equal(t, testAddress, p.SelectedAddress())
}

func TestWatchAssetApproved(t *testing.T) {
	p, backend := newTestProvider(t)
	decimals := 18

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Request(context.Background(), WatchAsset{
			Type:    AssetERC20,
			Options: AssetOptions{Address: "0xABC", Symbol: "TKN", Decimals: &decimals},
		})
	}()
	backend.awaitOpenUI(1)

	requests := backend.received(envelope.TypeAddToken)
	require.Len(t, requests, 1)
	var token envelope.AddTokenRequest
	require.NoError(t, requests[0].Decode(&token))
	require.Equal(t, "0xabc", token.Address)
	require.Equal(t, "18", token.Decimals)

	backend.send(envelope.TypeApproveAddToken, envelope.ActionRef{ActionHash: "h1"})
	require.NoError(t, <-errCh)
}

func TestWatchAssetRejected(t *testing.T) {
	p, backend := newTestProvider(t)
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Request(context.Background(), WatchAsset{Type: AssetERC20, Options: AssetOptions{Address: "0x1"}})
	}()
	backend.awaitOpenUI(1)
	backend.send(envelope.TypeRejectAddToken, envelope.ActionRef{ActionHash: "h1"})
	require.True(t, apierrors.Is(<-errCh, apierrors.CodeUserAbort))
}

func TestRequestUnsupportedSendsNothing(t *testing.T) {
	p, backend := newTestProvider(t)

	err := p.Request(context.Background(), RawCall{Name: "wallet_switchChain"})
	require.True(t, apierrors.Is(err, apierrors.CodeUnsupportedCapability))

	err = p.Request(context.Background(), WatchAsset{Type: "ERC721", Options: AssetOptions{Address: "0x1"}})
	require.True(t, apierrors.Is(err, apierrors.CodeUnsupportedCapability))

	err = p.Request(context.Background(), WatchAsset{Type: AssetERC20, Options: AssetOptions{Address: "nope"}})
	require.True(t, apierrors.Is(err, apierrors.CodeInvalidArgument))

	bad := 300
	err = p.Request(context.Background(), WatchAsset{Type: AssetERC20, Options: AssetOptions{Address: "0x1", Decimals: &bad}})
	require.True(t, apierrors.Is(err, apierrors.CodeInvalidArgument))

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, backend.total())
}

func TestOnOffUnknownEvent(t *testing.T) {
	p, _ := newTestProvider(t)
	l := NewAccountsListener(func([]string) {})
	require.True(t, apierrors.Is(p.On("chainChanged", l), apierrors.CodeUnknownEvent))
	require.True(t, apierrors.Is(p.Off("chainChanged", l), apierrors.CodeUnknownEvent))
	require.NoError(t, p.Off(EventAccountsChanged, l))
}

type accountsFunc func([]string)

func (f accountsFunc) AccountsChanged(accounts []string) { f(accounts) }

func TestOffWithUncomparableListenerIsNoop(t *testing.T) {
	p, backend := newTestProvider(t)
	log := &callLog{}
	kept := log.listener("kept")
	var calls atomic.Int64
	fn := accountsFunc(func([]string) { calls.Add(1) })
	require.NoError(t, p.On(EventAccountsChanged, fn))
	require.NoError(t, p.On(EventAccountsChanged, kept))

	require.NotPanics(t, func() {
		require.NoError(t, p.Off(EventAccountsChanged, fn))
		require.NoError(t, p.Off(EventAccountsChanged, kept))
		require.NoError(t, p.Off(EventAccountsChanged, accountsFunc(func([]string) {})))
	})

	enable(t, p)
	backend.send(envelope.TypeWalletConnected, envelope.WalletConnected{Address: "0x4b", Network: "goerli-alpha"})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 2*time.Millisecond)
	require.Empty(t, log.snapshot())
}

func TestListenerSignsFromOwnGoroutine(t *testing.T) {
	p, backend := newTestProvider(t)
	sigCh := make(chan []string, 1)
	require.NoError(t, p.On(EventAccountsChanged, NewAccountsListener(func([]string) {
		signer, ok := p.Signer()
		if !ok {
			return
		}
		go func() {
			sig, err := signer.SignMessage(context.Background(), envelope.TypedData{PrimaryType: "Message"})
			if err == nil {
				sigCh <- sig
			}
		}()
	})))
	enable(t, p)
	backend.send(envelope.TypeWalletConnected, envelope.WalletConnected{Address: "0x4b", Network: "goerli-alpha"})
	backend.awaitOpenUI(1)
	backend.send(envelope.TypeSuccessSign, envelope.SignatureResult{R: "0xr", S: "0xs", ActionHash: "h1"})

	select {
	case sig := <-sigCh:
		require.Equal(t, []string{"0xr", "0xs"}, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("signature not delivered")
	}
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) listener(name string) *AccountsListener {
	return NewAccountsListener(func(accounts []string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.calls = append(c.calls, name+":"+accounts[0])
	})
}

func (c *callLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func TestWalletConnectedNotifiesInOrder(t *testing.T) {
	p, backend := newTestProvider(t)
	log := &callLog{}
	first, second, removed := log.listener("first"), log.listener("second"), log.listener("removed")
	require.NoError(t, p.On(EventAccountsChanged, first))
	require.NoError(t, p.On(EventAccountsChanged, removed))
	require.NoError(t, p.On(EventAccountsChanged, second))
	require.NoError(t, p.Off(EventAccountsChanged, removed))
	require.NoError(t, p.Off(EventAccountsChanged, removed))

	backend.send(envelope.TypeWalletConnected, envelope.WalletConnected{Address: "0x99", Network: "goerli-alpha"})
	time.Sleep(30 * time.Millisecond)
	require.Empty(t, log.snapshot(), "ignored before enable")
	require.False(t, p.IsConnected())

	enable(t, p)
	backend.send(envelope.TypeWalletConnected, envelope.WalletConnected{Address: testAddress, Network: "mainnet-alpha"})
	backend.send(envelope.TypeWalletConnected, envelope.WalletConnected{Address: "0x4b", Network: "goerli-alpha"})
	require.Eventually(t, func() bool {
		return len(log.snapshot()) == 2
	}, time.Second, 2*time.Millisecond)
	require.Equal(t, []string{"first:0x4b", "second:0x4b"}, log.snapshot())
	require.Equal(t, "0x4b", p.SelectedAddress())
	require.Equal(t, "goerli-alpha", p.Network().ID)

	signer, ok := p.Signer()
	require.True(t, ok)
	require.Equal(t, "0x4b", signer.Address())

	backend.send(envelope.TypeWalletConnected, envelope.WalletConnected{Address: "0x4b", Network: "goerli-alpha"})
	time.Sleep(30 * time.Millisecond)
	require.Len(t, log.snapshot(), 2)
}

func TestSignerRejectsUnsupportedTransactions(t *testing.T) {
	p, backend := newTestProvider(t)
	enable(t, p)
	signer, ok := p.Signer()
	require.True(t, ok)

	_, err := signer.AddTransaction(context.Background(), envelope.Transaction{Type: "DEPLOY"})
	require.True(t, apierrors.Is(err, apierrors.CodeUnsupportedCapability))
	_, err = signer.AddTransaction(context.Background(), envelope.Transaction{Type: "INVOKE_FUNCTION", Signature: []string{"0x1"}})
	require.True(t, apierrors.Is(err, apierrors.CodeInvalidArgument))
	require.Empty(t, backend.received(envelope.TypeAddTransaction))
}

func TestSignerAddTransaction(t *testing.T) {
	p, backend := newTestProvider(t)
	enable(t, p)
	signer, _ := p.Signer()

	type result struct {
		res AddTransactionResponse
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		res, err := signer.AddTransaction(context.Background(), envelope.Transaction{
			Type:               "INVOKE_FUNCTION",
			ContractAddress:    "0x7",
			EntryPointSelector: "0x2",
			Calldata:           []string{"0x1"},
		})
		resCh <- result{res, err}
	}()
	backend.awaitOpenUI(1)
	backend.send(envelope.TypeSubmittedTx, envelope.SubmittedTx{TxHash: "0xfeed", ActionHash: "h1"})

	out := <-resCh
	require.NoError(t, out.err)
	require.Equal(t, AddTransactionResponse{Code: TransactionReceived, Address: "0x7", TransactionHash: "0xfeed"}, out.res)
}

func TestSignerSignMessage(t *testing.T) {
	p, backend := newTestProvider(t)
	enable(t, p)
	signer, _ := p.Signer()

	sigCh := make(chan []string, 1)
	go func() {
		sig, err := signer.SignMessage(context.Background(), envelope.TypedData{
			PrimaryType: "Message",
			Message:     map[string]any{"message": "hello"},
		})
		if err == nil {
			sigCh <- sig
		}
	}()
	backend.awaitOpenUI(1)
	backend.send(envelope.TypeSuccessSign, envelope.SignatureResult{R: "0xr", S: "0xs", ActionHash: "h1"})

	select {
	case sig := <-sigCh:
		require.Equal(t, []string{"0xr", "0xs"}, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("signature not delivered")
	}
}

func TestParseCall(t *testing.T) {
	call, err := ParseCall([]byte(`{"type":"wallet_watchAsset","params":{"type":"ERC20","options":{"address":"0x1","decimals":6}}}`))
	require.NoError(t, err)
	watch, ok := call.(WatchAsset)
	require.True(t, ok)
	require.Equal(t, AssetERC20, watch.Type)
	require.Equal(t, 6, *watch.Options.Decimals)

	call, err = ParseCall([]byte(`{"type":"wallet_addChain","params":[1]}`))
	require.NoError(t, err)
	require.Equal(t, "wallet_addChain", call.Method())
	_, ok = call.(RawCall)
	require.True(t, ok)

	_, err = ParseCall([]byte(`{"params":{}}`))
	require.True(t, apierrors.Is(err, apierrors.CodeInvalidArgument))
	_, err = ParseCall([]byte(`nope`))
	require.True(t, apierrors.Is(err, apierrors.CodeInvalidArgument))
}
