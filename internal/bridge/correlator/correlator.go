// Package correlator 将入站消息按类型与谓词匹配给一次性等待者。
//
// 每个等待者在注册时同步挂载，命中、超时、取消任一结果都会将其注销；
// 消息不会被某个等待者"消费"掉，所有命中的等待者各自收到一份。
package correlator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
)

// ErrTimeout 表示等待在截止时间前未命中。
var ErrTimeout = errors.New("correlator wait timed out")

// Predicate 在类型匹配后进一步筛选消息，nil 表示总是命中。
type Predicate func(envelope.Envelope) bool

// Match 描述一个等待条件。
type Match struct {
	Type      envelope.Type
	Predicate Predicate
}

func (m Match) accepts(env envelope.Envelope) bool {
	if env.Type != m.Type {
		return false
	}
	return m.Predicate == nil || m.Predicate(env)
}

// Option 自定义 Correlator。
type Option func(*Correlator)

// WithMetrics 注入指标。
func WithMetrics(m *Metrics) Option {
	return func(c *Correlator) { c.metrics = m }
}

// Correlator 维护全部待命中的等待者。
type Correlator struct {
	mu      sync.Mutex
	seq     uint64
	waiters map[uint64]*Waiter
	metrics *Metrics
}

// New 构造 Correlator。
func New(opts ...Option) *Correlator {
	c := &Correlator{waiters: make(map[uint64]*Waiter)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Expect 同步注册一个等待者，应在发送请求之前调用。
func (c *Correlator) Expect(typ envelope.Type, pred Predicate) *Waiter {
	return c.ExpectAny(Match{Type: typ, Predicate: pred})
}

// ExpectThen 与 Expect 相同，但命中时在 Dispatch 内同步调用 then，
// then 返回后等待者才收到消息，下一条入站消息也尚未分发。
func (c *Correlator) ExpectThen(typ envelope.Type, pred Predicate, then func(envelope.Envelope)) *Waiter {
	w := c.newWaiter([]Match{{Type: typ, Predicate: pred}})
	w.then = then
	c.register(w)
	return w
}

// ExpectAny 注册一个等待者，命中任一条件即结束；多条消息先到先得。
func (c *Correlator) ExpectAny(matches ...Match) *Waiter {
	w := c.newWaiter(matches)
	c.register(w)
	return w
}

func (c *Correlator) newWaiter(matches []Match) *Waiter {
	return &Waiter{
		owner:   c,
		matches: matches,
		ch:      make(chan envelope.Envelope, 1),
	}
}

func (c *Correlator) register(w *Waiter) {
	c.mu.Lock()
	c.seq++
	w.id = c.seq
	c.waiters[w.id] = w
	n := len(c.waiters)
	c.mu.Unlock()
	c.metrics.setListeners(n)
}

// Await 注册并等待首条命中的消息。
func (c *Correlator) Await(ctx context.Context, typ envelope.Type, timeout time.Duration, pred Predicate) (envelope.Envelope, error) {
	return c.Expect(typ, pred).Wait(ctx, timeout)
}

// Dispatch 将入站消息交给全部命中的等待者，是 transport 的订阅回调。
func (c *Correlator) Dispatch(env envelope.Envelope) {
	c.mu.Lock()
	candidates := make([]*Waiter, 0, len(c.waiters))
	for _, w := range c.waiters {
		candidates = append(candidates, w)
	}
	c.mu.Unlock()
	if len(candidates) == 0 {
		c.metrics.incUnmatched()
		return
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })

	// 谓词在锁外执行，避免回调与注册互相阻塞。
	matched := 0
	for _, w := range candidates {
		if !w.accepts(env) {
			continue
		}
		if c.deliver(w, env) {
			matched++
		}
	}
	if matched == 0 {
		c.metrics.incUnmatched()
	}
}

// Pending 返回当前等待者数量。
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Correlator) deliver(w *Waiter, env envelope.Envelope) bool {
	c.mu.Lock()
	if _, ok := c.waiters[w.id]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.waiters, w.id)
	n := len(c.waiters)
	c.mu.Unlock()
	if w.then != nil {
		w.then(env)
	}
	w.ch <- env
	c.metrics.setListeners(n)
	c.metrics.incMatched()
	return true
}

func (c *Correlator) remove(w *Waiter) bool {
	c.mu.Lock()
	if _, ok := c.waiters[w.id]; !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.waiters, w.id)
	n := len(c.waiters)
	c.mu.Unlock()
	c.metrics.setListeners(n)
	return true
}

// Waiter 是一次性等待者。
type Waiter struct {
	id      uint64
	owner   *Correlator
	matches []Match
	then    func(envelope.Envelope)
	ch      chan envelope.Envelope
}

func (w *Waiter) accepts(env envelope.Envelope) bool {
	for _, m := range w.matches {
		if m.accepts(env) {
			return true
		}
	}
	return false
}

// C 返回投递通道，命中后恰好收到一条消息。
func (w *Waiter) C() <-chan envelope.Envelope { return w.ch }

// Cancel 注销等待者，若此前尚未命中则返回 true；可重复调用。
func (w *Waiter) Cancel() bool { return w.owner.remove(w) }

// Wait 阻塞直到命中、超时或 ctx 结束；任何结果下等待者都已注销。
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) (envelope.Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-w.ch:
		return env, nil
	case <-timer.C:
		if w.Cancel() {
			return envelope.Envelope{}, ErrTimeout
		}
		return <-w.ch, nil
	case <-ctx.Done():
		if w.Cancel() {
			return envelope.Envelope{}, ctx.Err()
		}
		return <-w.ch, nil
	}
}
