// Package wsbus 用 websocket 承载宿主消息总线，让页面、钱包后台与审批界面跨进程通信。
package wsbus

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aegis-sign/walletbridge/internal/bridge/hostbus"
)

const (
	peerBuffer     = 64
	peerWriteWait  = 5 * time.Second
	peerPongWait   = 60 * time.Second
	peerPingPeriod = peerPongWait * 9 / 10
	maxMessageSize = 1 << 20
)

// HubOption 定制 Hub。
type HubOption func(*Hub)

// WithHubLogger 注入 slog Logger。
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithHubRegisterer 指定 Prometheus 注册器。
func WithHubRegisterer(reg prometheus.Registerer) HubOption {
	return func(h *Hub) { h.metrics = NewMetrics(reg) }
}

// WithOrigins 限制允许接入的 origin，为空表示不限制。
func WithOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		for _, o := range origins {
			h.allowed[strings.TrimSuffix(o, "/")] = struct{}{}
		}
	}
}

// Hub 是总线服务端：同一 origin 的 websocket 对端互相可见，进程内监听者可见全部 origin。
// Hub 本身实现 hostbus.Bus，供进程内的钱包后台使用。
type Hub struct {
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader
	allowed  map[string]struct{}

	mu     sync.RWMutex
	peers  map[string]map[*peer]struct{}
	closed bool

	local *localQueue
}

var _ hostbus.Bus = (*Hub)(nil)

type peer struct {
	conn   *websocket.Conn
	origin string
	send   chan []byte
	once   sync.Once
	done   chan struct{}
}

func (p *peer) close() {
	p.once.Do(func() { close(p.done) })
}

// NewHub 创建 Hub。
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger:  slog.Default(),
		allowed: make(map[string]struct{}),
		peers:   make(map[string]map[*peer]struct{}),
		local:   newLocalQueue(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	if len(h.allowed) == 0 {
		return true
	}
	_, ok := h.allowed[origin]
	return ok
}

// ServeHTTP 升级连接并把对端挂到其 Origin 下。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("bus upgrade failed", slog.String("origin", origin), slog.String("remote", r.RemoteAddr), slog.Any("err", err))
		return
	}
	p := &peer{conn: conn, origin: origin, send: make(chan []byte, peerBuffer), done: make(chan struct{})}
	if !h.attach(p) {
		_ = conn.Close()
		return
	}
	h.logger.Info("bus peer connected", slog.String("origin", origin), slog.String("remote", r.RemoteAddr))
	go h.writePeer(p)
	h.readPeer(p)
}

// Post 实现 hostbus.Bus：发给 targetOrigin 下的全部对端与进程内监听者，不阻塞调用方。
func (h *Hub) Post(ctx context.Context, targetOrigin string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return hostbus.ErrClosed
	}
	h.relay(targetOrigin, data, "local")
	return nil
}

// Listen 实现 hostbus.Bus。
func (h *Hub) Listen(fn hostbus.Listener) func() {
	return h.local.listen(fn)
}

// Peers 返回 origin 下的连接数。
func (h *Hub) Peers(origin string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers[origin])
}

// Close 断开全部对端并停止本地投递。
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*peer
	for _, set := range h.peers {
		for p := range set {
			all = append(all, p)
		}
	}
	h.peers = map[string]map[*peer]struct{}{}
	h.mu.Unlock()
	for _, p := range all {
		p.close()
		_ = p.conn.Close()
	}
	h.local.close()
}

func (h *Hub) attach(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set := h.peers[p.origin]
	if set == nil {
		set = make(map[*peer]struct{})
		h.peers[p.origin] = set
	}
	set[p] = struct{}{}
	h.metrics.setPeers(p.origin, len(set))
	return true
}

func (h *Hub) detach(p *peer) {
	h.mu.Lock()
	if set := h.peers[p.origin]; set != nil {
		delete(set, p)
		h.metrics.setPeers(p.origin, len(set))
		if len(set) == 0 {
			delete(h.peers, p.origin)
		}
	}
	h.mu.Unlock()
	p.close()
	_ = p.conn.Close()
}

// relay 把消息投递给同 origin 的全部对端（包括发送者自己）以及进程内监听者。
func (h *Hub) relay(origin string, data []byte, direction string) {
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.peers[origin]))
	for p := range h.peers[origin] {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	for _, p := range targets {
		select {
		case p.send <- data:
		default:
			h.metrics.incDropped("slow_peer")
			h.logger.Warn("bus peer too slow, message dropped", slog.String("origin", origin))
		}
	}
	h.local.push(hostbus.Message{Origin: origin, Data: append([]byte(nil), data...)})
	h.metrics.incRelayed(direction)
}

func (h *Hub) readPeer(p *peer) {
	defer func() {
		h.detach(p)
		h.logger.Info("bus peer disconnected", slog.String("origin", p.origin))
	}()
	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(peerPongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(peerPongWait))
	})
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug("bus peer read ended", slog.String("origin", p.origin), slog.Any("err", err))
			}
			return
		}
		h.relay(p.origin, data, "peer")
	}
}

func (h *Hub) writePeer(p *peer) {
	ticker := time.NewTicker(peerPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case data := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(peerWriteWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("bus peer write failed", slog.String("origin", p.origin), slog.Any("err", err))
				_ = p.conn.Close()
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(peerWriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = p.conn.Close()
				return
			}
		}
	}
}

// localQueue 按 FIFO 把消息异步投递给进程内监听者。
type localQueue struct {
	mu        sync.Mutex
	seq       uint64
	listeners map[uint64]hostbus.Listener
	order     []uint64
	queue     []hostbus.Message
	closed    bool
	wake      chan struct{}
	done      chan struct{}
}

func newLocalQueue() *localQueue {
	q := &localQueue{
		listeners: make(map[uint64]hostbus.Listener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *localQueue) listen(fn hostbus.Listener) func() {
	q.mu.Lock()
	q.seq++
	id := q.seq
	q.listeners[id] = fn
	q.order = append(q.order, id)
	q.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.listeners, id)
			for i, v := range q.order {
				if v == id {
					q.order = append(q.order[:i], q.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (q *localQueue) push(msg hostbus.Message) {
	q.mu.Lock()
	if q.closed || len(q.listeners) == 0 {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, msg)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *localQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.queue = nil
	close(q.done)
}

func (q *localQueue) loop() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if q.closed || len(q.queue) == 0 {
				q.mu.Unlock()
				break
			}
			msg := q.queue[0]
			q.queue[0] = hostbus.Message{}
			q.queue = q.queue[1:]
			targets := make([]hostbus.Listener, 0, len(q.order))
			for _, id := range q.order {
				targets = append(targets, q.listeners[id])
			}
			q.mu.Unlock()
			for _, fn := range targets {
				fn(msg)
			}
		}
	}
}
