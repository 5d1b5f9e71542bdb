package wsbus

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff 计算重连等待时间：指数增长并带抖动，连接恢复后 Reset。
type Backoff struct {
	cfg      BackoffConfig
	mu       sync.Mutex
	attempts int
	rand     *rand.Rand
}

// NewBackoff 创建 Backoff。
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next 返回下一次等待时长，结果限制在 [Initial, Max]。
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	wait := b.cfg.Initial << b.attempts
	if wait <= 0 || wait > b.cfg.Max {
		wait = b.cfg.Max
	}
	if b.cfg.Jitter > 0 {
		factor := 1 - b.cfg.Jitter + b.rand.Float64()*2*b.cfg.Jitter
		wait = time.Duration(float64(wait) * factor)
	}
	if b.attempts < 16 {
		b.attempts++
	}
	return min(max(wait, b.cfg.Initial), b.cfg.Max)
}

// Attempts 返回自上次 Reset 以来的失败次数。
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset 清除失败历史。
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}
