// Package hostbus 抽象宿主消息总线（页面 window.postMessage 语义）。
//
// 总线按 origin 隔离：发往其他 origin 的消息被丢弃而不是广播；投递异步且对每个发送方
// 保持 FIFO；每条消息投递给投递时刻已注册的全部监听者，注册本身是同步的。
package hostbus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 表示总线已关闭。
var ErrClosed = errors.New("host bus closed")

// Message 是总线上的一条原始消息。
type Message struct {
	Origin string
	Data   []byte
}

// Listener 接收总线消息。
type Listener func(Message)

// Bus 是宿主消息总线。
type Bus interface {
	// Post 将消息投递到 targetOrigin；origin 不匹配的消息被丢弃。
	Post(ctx context.Context, targetOrigin string, data []byte) error
	// Listen 同步注册监听者，返回幂等的注销函数。
	Listen(fn Listener) (cancel func())
}

// MemoryBus 是单个浏览上下文内的总线实现。
type MemoryBus struct {
	origin string

	mu        sync.Mutex
	seq       uint64
	listeners map[uint64]Listener
	order     []uint64
	queue     []Message
	closed    bool

	wake chan struct{}
	done chan struct{}
}

// NewMemoryBus 为指定 origin 创建总线并启动投递协程。
func NewMemoryBus(origin string) *MemoryBus {
	b := &MemoryBus{
		origin:    origin,
		listeners: make(map[uint64]Listener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go b.deliverLoop()
	return b
}

// Origin 返回总线所属 origin。
func (b *MemoryBus) Origin() string { return b.origin }

// Post 实现 Bus。
func (b *MemoryBus) Post(ctx context.Context, targetOrigin string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if targetOrigin != b.origin {
		b.mu.Unlock()
		return nil
	}
	b.queue = append(b.queue, Message{Origin: b.origin, Data: append([]byte(nil), data...)})
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// Listen 实现 Bus。
func (b *MemoryBus) Listen(fn Listener) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.listeners[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Close 停止投递，未投递的消息被丢弃。
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.queue = nil
	b.mu.Unlock()
	close(b.done)
}

func (b *MemoryBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[id]; !ok {
		return
	}
	delete(b.listeners, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func (b *MemoryBus) deliverLoop() {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}
		for {
			msg, targets, ok := b.next()
			if !ok {
				break
			}
			for _, fn := range targets {
				fn(msg)
			}
		}
	}
}

// next 取出队首消息以及当前已注册监听者的快照。
func (b *MemoryBus) next() (Message, []Listener, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.queue) == 0 {
		return Message{}, nil, false
	}
	msg := b.queue[0]
	b.queue[0] = Message{}
	b.queue = b.queue[1:]
	targets := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		targets = append(targets, b.listeners[id])
	}
	return msg, targets, true
}
