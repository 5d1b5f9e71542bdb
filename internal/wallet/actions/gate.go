package actions

import (
	"sync"
	"time"
)

// executorGate 在执行器连续失败 limit 次后暂停批准 pause 时长；
// 暂停到期后放行，下一次失败立即重新暂停。
type executorGate struct {
	limit int
	pause time.Duration
	now   func() time.Time

	mu          sync.Mutex
	streak      int
	pausedUntil time.Time
	probing     bool
	closed      bool
}

func newExecutorGate(limit int, pause time.Duration) *executorGate {
	return &executorGate{limit: limit, pause: pause, now: time.Now}
}

// admit 报告是否接受批准，不接受时给出建议的重试间隔。
func (g *executorGate) admit() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return time.Second, false
	}
	if g.pausedUntil.IsZero() {
		return 0, true
	}
	if wait := g.pausedUntil.Sub(g.now()); wait > 0 {
		return wait, false
	}
	g.pausedUntil = time.Time{}
	g.probing = true
	return 0, true
}

// record 记录一次执行结果，返回本次是否触发暂停。
func (g *executorGate) record(ok bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ok {
		g.streak = 0
		g.probing = false
		return false
	}
	g.streak++
	if g.closed || !g.pausedUntil.IsZero() {
		return false
	}
	if !g.probing && g.streak < g.limit {
		return false
	}
	g.pausedUntil = g.now().Add(g.pause)
	g.probing = false
	return true
}

func (g *executorGate) shutdown() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *executorGate) status() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.closed:
		return "draining"
	case !g.pausedUntil.IsZero() && g.now().Before(g.pausedUntil):
		return "degraded"
	default:
		return "healthy"
	}
}
