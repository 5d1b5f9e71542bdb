package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
	"github.com/aegis-sign/walletbridge/internal/bridge/hostbus"
)

// Handler 处理一条已通过校验的入站消息。
type Handler func(envelope.Envelope)

// Config 控制 Transport 行为。
type Config struct {
	Origin      string
	ExtensionID string
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Transport 负责出站打标投递与入站过滤扇出，自身不含业务逻辑。
type Transport struct {
	bus     hostbus.Bus
	origin  string
	codec   envelope.Codec
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	cancel []func()
}

// New 构造 Transport。
func New(bus hostbus.Bus, cfg Config) (*Transport, error) {
	if bus == nil {
		return nil, errors.New("host bus is required")
	}
	if cfg.Origin == "" || cfg.Origin == "*" {
		return nil, errors.New("transport origin must be a concrete origin")
	}
	codec, err := envelope.NewCodec(cfg.ExtensionID)
	if err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		bus:     bus,
		origin:  cfg.Origin,
		codec:   codec,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// ExtensionID 返回本桥的来源标识。
func (t *Transport) ExtensionID() string { return t.codec.ExtensionID }

// Send 打上本桥标识后投递到当前 origin。
func (t *Transport) Send(ctx context.Context, env envelope.Envelope) error {
	raw, err := t.codec.Encode(env)
	if err != nil {
		return err
	}
	if err := t.bus.Post(ctx, t.origin, raw); err != nil {
		t.logger.Warn("bridge send failed", slog.String("type", env.Type.String()), slog.Any("err", err))
		return err
	}
	t.metrics.incSent(env.Type)
	return nil
}

// Subscribe 在总线上挂载一个监听者，将通过校验的消息转交 handler。
func (t *Transport) Subscribe(handler Handler) (unsubscribe func()) {
	cancel := t.bus.Listen(func(msg hostbus.Message) {
		if msg.Origin != t.origin {
			t.metrics.incDropped("foreign_origin")
			return
		}
		env, reason := t.codec.Inspect(msg.Data)
		if reason != envelope.DropNone {
			t.metrics.incDropped(string(reason))
			return
		}
		t.metrics.incReceived(env.Type)
		handler(env)
	})
	t.mu.Lock()
	t.cancel = append(t.cancel, cancel)
	t.mu.Unlock()
	return cancel
}

// Close 注销全部监听者。
func (t *Transport) Close() {
	t.mu.Lock()
	cancels := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
