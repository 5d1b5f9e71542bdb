package correlator

import (
	"context"
	"time"

	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
)

// OutcomeKind 是审批竞争的终态。
type OutcomeKind int

const (
	Approved OutcomeKind = iota + 1
	Rejected
	TimedOut
)

func (k OutcomeKind) String() string {
	switch k {
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome 是竞争结果，TimedOut 时 Envelope 为空。
type Outcome struct {
	Kind     OutcomeKind
	Envelope envelope.Envelope
}

// Race 将批准与拒绝两个等待条件合并为一次竞争。
type Race struct {
	waiter  *Waiter
	approve Match
}

// Race 注册批准/拒绝竞争，两者共用一个等待者，因此同一请求只会产生一个终态。
func (c *Correlator) Race(approve, reject Match) *Race {
	return &Race{
		waiter:  c.ExpectAny(approve, reject),
		approve: approve,
	}
}

// Settle 等待竞争结束。拒绝等待到期转换为 TimedOut 而不是错误；
// 批准等待到期同样视为 TimedOut。只有 ctx 结束才返回错误。
func (r *Race) Settle(ctx context.Context, approveTimeout, rejectTimeout time.Duration) (Outcome, error) {
	deadline := rejectTimeout
	if approveTimeout < deadline {
		deadline = approveTimeout
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case env := <-r.waiter.ch:
		return r.classify(env), nil
	case <-timer.C:
		if r.waiter.Cancel() {
			return Outcome{Kind: TimedOut}, nil
		}
		// 与截止时间同时到达的消息优先。
		return r.classify(<-r.waiter.ch), nil
	case <-ctx.Done():
		if r.waiter.Cancel() {
			return Outcome{}, ctx.Err()
		}
		return r.classify(<-r.waiter.ch), nil
	}
}

// Cancel 放弃竞争并注销等待者。
func (r *Race) Cancel() { r.waiter.Cancel() }

func (r *Race) classify(env envelope.Envelope) Outcome {
	if r.approve.accepts(env) {
		return Outcome{Kind: Approved, Envelope: env}
	}
	return Outcome{Kind: Rejected, Envelope: env}
}
