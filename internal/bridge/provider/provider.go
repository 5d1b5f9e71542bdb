// Package provider 是页面可见的钱包对象：连接、能力调用与账户变更订阅。
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/aegis-sign/walletbridge/internal/bridge/correlator"
	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
	"github.com/aegis-sign/walletbridge/internal/bridge/protocol"
	"github.com/aegis-sign/walletbridge/internal/bridge/session"
	"github.com/aegis-sign/walletbridge/internal/bridge/transport"
	"github.com/aegis-sign/walletbridge/pkg/apierrors"
	"github.com/aegis-sign/walletbridge/pkg/validator"
)

// EventAccountsChanged 是唯一支持订阅的事件。
const EventAccountsChanged = "accountsChanged"

// Listener 接收账户变更通知，按接口值比较身份；不可比较的动态类型无法被 Off 注销。
//
// 回调在总线投递 goroutine 上按注册顺序同步执行，回调返回前后续消息不会被投递。
// 需要等待后台回复的调用（如 Signer 的方法）必须另起 goroutine，否则必然确认超时。
type Listener interface {
	AccountsChanged(accounts []string)
}

// AccountsListener 将函数包装为可比较的 Listener。
type AccountsListener struct {
	fn func(accounts []string)
}

// NewAccountsListener 构造 AccountsListener。
func NewAccountsListener(fn func(accounts []string)) *AccountsListener {
	return &AccountsListener{fn: fn}
}

// AccountsChanged 实现 Listener。
func (l *AccountsListener) AccountsChanged(accounts []string) {
	if l != nil && l.fn != nil {
		l.fn(accounts)
	}
}

// Config 控制 Provider 行为。
type Config struct {
	// Host 是 CONNECT 中上报的页面 host。
	Host              string
	Protocol          protocol.Config
	CorrelatorMetrics *correlator.Metrics
	Logger            *slog.Logger
}

// Provider 持有连接状态并把能力调用委托给协议引擎。
type Provider struct {
	host   string
	logger *slog.Logger

	state  *session.State
	corr   *correlator.Correlator
	engine *protocol.Engine

	enableGroup singleflight.Group
	unsubscribe func()

	mu        sync.Mutex
	listeners []Listener
}

// New 在 transport 上挂载 Provider。
func New(t *transport.Transport, cfg Config) (*Provider, error) {
	if t == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Host == "" {
		return nil, errors.New("provider host is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Protocol.Logger == nil {
		cfg.Protocol.Logger = cfg.Logger
	}
	state := session.NewState()
	corr := correlator.New(correlator.WithMetrics(cfg.CorrelatorMetrics))
	engine, err := protocol.New(t, corr, state, cfg.Protocol)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		host:   cfg.Host,
		logger: cfg.Logger,
		state:  state,
		corr:   corr,
		engine: engine,
	}
	p.unsubscribe = t.Subscribe(p.handle)
	return p, nil
}

// Close 解除总线订阅。
func (p *Provider) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

// Engine 返回底层协议引擎。
func (p *Provider) Engine() *protocol.Engine { return p.engine }

// Enable 运行连接流程并返回选中的地址；并发调用合并为一次连接。
func (p *Provider) Enable(ctx context.Context) ([]string, error) {
	v, err, _ := p.enableGroup.Do("enable", func() (any, error) {
		res, err := p.engine.Connect(ctx, p.host)
		if err != nil {
			return nil, err
		}
		address, err := validator.NormalizeAddress(res.Address)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.CodeInvalidArgument, "backend returned an invalid address", err)
		}
		snap := p.state.Adopt(address, res.Network)
		p.logger.Info("provider connected", slog.String("address", snap.SelectedAddress), slog.String("network", snap.Network.ID))
		return snap.SelectedAddress, nil
	})
	if err != nil {
		return nil, err
	}
	return []string{v.(string)}, nil
}

// Request 分发类型化调用；不支持的调用同步失败且不发送任何消息。
func (p *Provider) Request(ctx context.Context, call Call) error {
	switch c := call.(type) {
	case WatchAsset:
		return p.watchAsset(ctx, c)
	case RawCall:
		return unsupported(c.Method())
	case nil:
		return apierrors.New(apierrors.CodeInvalidArgument, "call is required")
	default:
		return unsupported(call.Method())
	}
}

func (p *Provider) watchAsset(ctx context.Context, call WatchAsset) error {
	if call.Type != AssetERC20 {
		return unsupported(fmt.Sprintf("%s(%s)", MethodWatchAsset, call.Type))
	}
	address, err := validator.NormalizeAddress(call.Options.Address)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid token address", err)
	}
	token := envelope.AddTokenRequest{
		Address: address,
		Symbol:  call.Options.Symbol,
		Name:    call.Options.Name,
	}
	if call.Options.Decimals != nil {
		decimals, err := validator.NormalizeDecimals(strconv.Itoa(*call.Options.Decimals))
		if err != nil {
			return apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid token decimals", err)
		}
		token.Decimals = decimals
	}
	return p.engine.AddToken(ctx, token)
}

// On 注册账户变更监听者。
func (p *Provider) On(event string, l Listener) error {
	if event != EventAccountsChanged {
		return unknownEvent(event)
	}
	if l == nil {
		return apierrors.New(apierrors.CodeInvalidArgument, "listener is required")
	}
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
	return nil
}

// Off 注销监听者，未注册时无操作。
func (p *Provider) Off(event string, l Listener) error {
	if event != EventAccountsChanged {
		return unknownEvent(event)
	}
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.listeners {
		if reflect.TypeOf(existing).Comparable() && existing == l {
			p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
			return nil
		}
	}
	return nil
}

// SelectedAddress 返回当前选中地址。
func (p *Provider) SelectedAddress() string { return p.state.Snapshot().SelectedAddress }

// IsConnected 报告是否已连接。
func (p *Provider) IsConnected() bool { return p.state.Connected() }

// Network 返回当前网络。
func (p *Provider) Network() session.Network { return p.state.Snapshot().Network }

// Signer 返回当前账户的签名者，未连接时返回 false。
func (p *Provider) Signer() (*Signer, bool) {
	snap := p.state.Snapshot()
	if !snap.Connected || snap.Signer == nil {
		return nil, false
	}
	return &Signer{identity: *snap.Signer, engine: p.engine}, true
}

func (p *Provider) handle(env envelope.Envelope) {
	if env.Type == envelope.TypeWalletConnected {
		p.onWalletConnected(env)
	}
	p.corr.Dispatch(env)
}

func (p *Provider) onWalletConnected(env envelope.Envelope) {
	var msg envelope.WalletConnected
	if err := env.Decode(&msg); err != nil {
		p.logger.Warn("malformed wallet connected notification", slog.Any("err", err))
		return
	}
	address, err := validator.NormalizeAddress(msg.Address)
	if err != nil {
		p.logger.Warn("wallet connected with invalid address", slog.String("address", msg.Address))
		return
	}
	if !p.state.AdoptIfChanged(address, msg.Network) {
		return
	}
	p.mu.Lock()
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()
	p.logger.Info("selected account changed", slog.String("address", address), slog.Int("listeners", len(listeners)))
	for _, l := range listeners {
		l.AccountsChanged([]string{address})
	}
}

func unsupported(method string) error {
	return apierrors.New(apierrors.CodeUnsupportedCapability, fmt.Sprintf("not implemented: %s", method))
}

func unknownEvent(event string) error {
	return apierrors.New(apierrors.CodeUnknownEvent, fmt.Sprintf("unknown event: %s", event))
}
