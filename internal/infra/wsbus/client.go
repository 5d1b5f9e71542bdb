package wsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegis-sign/walletbridge/internal/bridge/hostbus"
)

// ErrBackpressure 表示发送缓冲已满。
var ErrBackpressure = errors.New("bus send buffer full")

// ClientOption 定制 Client。
type ClientOption func(*Client)

// WithClientLogger 注入 slog Logger。
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClientRegisterer 指定 Prometheus 注册器。
func WithClientRegisterer(reg prometheus.Registerer) ClientOption {
	return func(c *Client) { c.metrics = NewMetrics(reg) }
}

// Client 通过 websocket 接入 Hub 并实现 hostbus.Bus；断线后按退避策略自动重连。
type Client struct {
	cfg     ClientConfig
	url     string
	netDial func(ctx context.Context, network, addr string) (net.Conn, error)
	logger  *slog.Logger
	metrics *Metrics
	backoff *Backoff

	outbound  chan []byte
	local     *localQueue
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ hostbus.Bus = (*Client)(nil)

// Dial 建立首个连接并启动后台重连循环。
func Dial(ctx context.Context, cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	cfg = cfg.normalize()
	if cfg.Origin == "" {
		return nil, errors.New("bus origin is required")
	}
	url, netDial, err := resolveEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:      cfg,
		url:      url,
		netDial:  netDial,
		logger:   slog.Default(),
		backoff:  NewBackoff(cfg.Backoff),
		outbound: make(chan []byte, cfg.SendBuffer),
		local:    newLocalQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}
	conn, err := c.dial(ctx)
	if err != nil {
		c.local.close()
		return nil, err
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.run(conn)
	return c, nil
}

// Origin 返回客户端所属 origin。
func (c *Client) Origin() string { return c.cfg.Origin }

// Connected 报告当前是否持有活动连接。
func (c *Client) Connected() bool { return c.connected.Load() }

// Post 实现 hostbus.Bus；断线期间消息在缓冲中等待重连。
func (c *Client) Post(ctx context.Context, targetOrigin string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ctx.Err() != nil {
		return hostbus.ErrClosed
	}
	if targetOrigin != c.cfg.Origin {
		c.metrics.incDropped("foreign_origin")
		return nil
	}
	select {
	case c.outbound <- append([]byte(nil), data...):
		return nil
	default:
		c.metrics.incDropped("backpressure")
		return ErrBackpressure
	}
}

// Listen 实现 hostbus.Bus。
func (c *Client) Listen(fn hostbus.Listener) func() {
	return c.local.listen(fn)
}

// Close 关闭连接并停止重连。
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
	c.local.close()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	dialer := websocket.Dialer{
		NetDialContext:   c.netDial,
		HandshakeTimeout: c.cfg.DialTimeout,
	}
	header := http.Header{"Origin": []string{c.cfg.Origin}}
	conn, resp, err := dialer.DialContext(dialCtx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial bus %s: %w", c.cfg.Endpoint, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		err := c.serve(conn)
		c.connected.Store(false)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("bus connection lost", slog.String("endpoint", c.cfg.Endpoint), slog.Any("err", err))
		conn = c.reconnect()
		if conn == nil {
			return
		}
	}
}

func (c *Client) reconnect() *websocket.Conn {
	for {
		wait := c.backoff.Next()
		timer := time.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		c.metrics.incReconnect()
		conn, err := c.dial(c.ctx)
		if err == nil {
			c.logger.Info("bus reconnected", slog.String("endpoint", c.cfg.Endpoint), slog.Int("attempts", c.backoff.Attempts()))
			c.backoff.Reset()
			return conn
		}
		c.logger.Warn("bus reconnect failed", slog.String("endpoint", c.cfg.Endpoint), slog.Duration("wait", wait), slog.Any("err", err))
	}
}

// serve 在单个连接上收发，直到连接出错或客户端关闭。
func (c *Client) serve(conn *websocket.Conn) error {
	c.connected.Store(true)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			c.metrics.incRelayed("inbound")
			c.local.push(hostbus.Message{Origin: c.cfg.Origin, Data: data})
		}
	}()
	defer conn.Close()
	for {
		select {
		case <-c.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return c.ctx.Err()
		case err := <-readErr:
			return err
		case data := <-c.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.metrics.incDropped("write_failed")
				return err
			}
			c.metrics.incRelayed("outbound")
		}
	}
}
