// Package protocol 驱动每种钱包能力的请求、确认、唤起审批与结果竞争流程。
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegis-sign/walletbridge/internal/bridge/correlator"
	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
)

const cleanupTimeout = 5 * time.Second

// Sender 将消息投递到宿主总线，通常由 transport.Transport 实现。
type Sender interface {
	Send(ctx context.Context, env envelope.Envelope) error
}

// StateReader 读取连接状态，由 Provider 持有的 session.State 实现。
type StateReader interface {
	Connected() bool
}

// Engine 是请求/响应协议引擎。
type Engine struct {
	cfg     Config
	sender  Sender
	corr    *correlator.Correlator
	state   StateReader
	logger  *slog.Logger
	metrics *Metrics
	clock   Clock
	tracer  trace.Tracer

	prefix string
	seq    atomic.Uint64

	mu       sync.Mutex
	inflight map[string]*ActionRequest
}

// New 构造 Engine。
func New(sender Sender, corr *correlator.Correlator, state StateReader, cfg Config) (*Engine, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if corr == nil {
		return nil, errors.New("correlator is required")
	}
	if state == nil {
		return nil, errors.New("state reader is required")
	}
	normalized := cfg.normalize()
	return &Engine{
		cfg:      normalized,
		sender:   sender,
		corr:     corr,
		state:    state,
		logger:   normalized.Logger,
		metrics:  normalized.Metrics,
		clock:    normalized.Clock,
		tracer:   normalized.Tracer,
		prefix:   uuid.NewString()[:8],
		inflight: make(map[string]*ActionRequest),
	}, nil
}

// Config 返回规范化后的配置。
func (e *Engine) Config() Config { return e.cfg }

// Inflight 返回尚未结束的请求快照，按创建时间排序。
func (e *Engine) Inflight() []ActionRequest {
	e.mu.Lock()
	out := make([]ActionRequest, 0, len(e.inflight))
	for _, req := range e.inflight {
		out = append(out, *req)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Connect 发送 CONNECT 并等待 CONNECT_RES。确认窗口内未答复时发送 OPEN_UI，
// 继续等待直到 ConnectTimeout。
func (e *Engine) Connect(ctx context.Context, host string) (envelope.ConnectResult, error) {
	env, err := envelope.New(envelope.TypeConnect, envelope.ConnectRequest{Host: host})
	if err != nil {
		return envelope.ConnectResult{}, err
	}
	req := e.begin(KindConnect, env)
	ctx, span := e.startSpan(ctx, req)
	defer span.End()
	defer e.end(req)

	waiter := e.corr.Expect(envelope.TypeConnectRes, e.ackFilter(req.RequestID))
	env.RequestID = req.RequestID
	if err := e.sender.Send(ctx, env); err != nil {
		waiter.Cancel()
		return envelope.ConnectResult{}, e.fail(req, span, "send_error", err)
	}

	reply, err := e.awaitConnect(ctx, waiter, req)
	if err != nil {
		if errors.Is(err, correlator.ErrTimeout) {
			return envelope.ConnectResult{}, e.fail(req, span, "ack_timeout", ackTimeoutError(KindConnect))
		}
		return envelope.ConnectResult{}, e.fail(req, span, "cancelled", err)
	}
	var result envelope.ConnectResult
	if err := reply.Decode(&result); err != nil {
		return envelope.ConnectResult{}, e.fail(req, span, "malformed", err)
	}
	// 连接的确认本身即终态。
	e.advance(req, StateAcknowledged)
	e.advance(req, StateAwaitingDecision)
	e.settle(req, span, StateApproved, "approved")
	return result, nil
}

func (e *Engine) awaitConnect(ctx context.Context, waiter *correlator.Waiter, req *ActionRequest) (envelope.Envelope, error) {
	timer := time.NewTimer(e.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case reply := <-waiter.C():
		return reply, nil
	case <-ctx.Done():
		if waiter.Cancel() {
			return envelope.Envelope{}, ctx.Err()
		}
		return <-waiter.C(), nil
	case <-timer.C:
	}
	e.logger.Info("connect awaiting user approval", slog.String("request_id", req.RequestID))
	e.openUI(ctx, req)
	return waiter.Wait(ctx, e.cfg.ConnectTimeout-e.cfg.AckTimeout)
}

// AddToken 请求将 ERC20 代币加入钱包。
func (e *Engine) AddToken(ctx context.Context, token envelope.AddTokenRequest) error {
	_, err := e.runAction(ctx, addTokenCapability, token)
	return err
}

// AddTransaction 请求用户批准并提交交易，需已连接。
func (e *Engine) AddTransaction(ctx context.Context, tx envelope.Transaction) (envelope.SubmittedTx, error) {
	reply, err := e.runAction(ctx, addTransactionCapability, tx)
	if err != nil {
		return envelope.SubmittedTx{}, err
	}
	var submitted envelope.SubmittedTx
	if err := reply.Decode(&submitted); err != nil {
		return envelope.SubmittedTx{}, err
	}
	return submitted, nil
}

// SignMessage 请求用户签署结构化数据，需已连接。
func (e *Engine) SignMessage(ctx context.Context, data envelope.TypedData) (envelope.SignatureResult, error) {
	reply, err := e.runAction(ctx, signMessageCapability, data)
	if err != nil {
		return envelope.SignatureResult{}, err
	}
	var sig envelope.SignatureResult
	if err := reply.Decode(&sig); err != nil {
		return envelope.SignatureResult{}, err
	}
	return sig, nil
}

// runAction 执行 提交 -> 确认 -> OPEN_UI -> 批准/拒绝竞争 -> 结果 的完整流程。
func (e *Engine) runAction(ctx context.Context, capab capability, payload any) (envelope.Envelope, error) {
	if capab.kind != KindAddToken && !e.state.Connected() {
		e.metrics.incRequest(capab.kind, "not_connected")
		return envelope.Envelope{}, notConnectedError(capab.kind)
	}
	env, err := envelope.New(capab.request, payload)
	if err != nil {
		return envelope.Envelope{}, err
	}
	req := e.begin(capab.kind, env)
	ctx, span := e.startSpan(ctx, req)
	defer span.End()
	defer e.end(req)

	// 竞争在确认分发的同一步骤内注册，紧随确认到达的终态消息不会丢失。
	var race *correlator.Race
	ackWaiter := e.corr.ExpectThen(capab.ack, e.ackFilter(req.RequestID), func(ack envelope.Envelope) {
		hash := ack.ActionHash()
		if hash == "" {
			return
		}
		byHash := func(env envelope.Envelope) bool { return env.ActionHash() == hash }
		race = e.corr.Race(
			correlator.Match{Type: capab.approve, Predicate: byHash},
			correlator.Match{Type: capab.reject, Predicate: byHash},
		)
	})
	env.RequestID = req.RequestID
	if err := e.sender.Send(ctx, env); err != nil {
		if !ackWaiter.Cancel() {
			<-ackWaiter.C()
			if race != nil {
				race.Cancel()
			}
		}
		return envelope.Envelope{}, e.fail(req, span, "send_error", err)
	}

	ack, err := ackWaiter.Wait(ctx, e.cfg.AckTimeout)
	if err != nil {
		if errors.Is(err, correlator.ErrTimeout) {
			return envelope.Envelope{}, e.fail(req, span, "ack_timeout", ackTimeoutError(capab.kind))
		}
		return envelope.Envelope{}, e.fail(req, span, "cancelled", err)
	}
	hash := ack.ActionHash()
	if hash == "" || race == nil {
		e.logger.Warn("acknowledgment without action hash", slog.String("kind", string(capab.kind)), slog.String("request_id", req.RequestID))
		return envelope.Envelope{}, e.fail(req, span, "ack_timeout", ackTimeoutError(capab.kind))
	}
	e.acknowledge(req, span, hash)
	e.openUI(ctx, req)
	e.advance(req, StateAwaitingDecision)

	outcome, err := race.Settle(ctx, e.cfg.ApprovalTimeout, e.cfg.RejectionTimeout)
	if err != nil {
		e.cleanup(ctx, capab, req)
		return envelope.Envelope{}, e.fail(req, span, "cancelled", err)
	}
	switch outcome.Kind {
	case correlator.Approved:
		e.settle(req, span, StateApproved, "approved")
		return outcome.Envelope, nil
	case correlator.Rejected:
		e.settle(req, span, StateRejected, "rejected")
		return envelope.Envelope{}, userAbortError(capab.kind)
	default:
		e.cleanup(ctx, capab, req)
		e.settle(req, span, StateTimedOut, "timed_out")
		return envelope.Envelope{}, sessionTimeoutError(capab.kind)
	}
}

// ackFilter 匹配回显了本请求 ID 的确认；未回显 ID 的后台同样被接受。
// 后者不能区分同类型的并发请求：一条不带 ID 的确认会结束该类型全部待确认的请求，
// 它们因此共用同一个 actionHash。本仓库的 Dispatcher 总是回显 ID。
func (e *Engine) ackFilter(requestID string) correlator.Predicate {
	return func(env envelope.Envelope) bool {
		return env.RequestID == "" || env.RequestID == requestID
	}
}

func (e *Engine) openUI(ctx context.Context, req *ActionRequest) {
	open, _ := envelope.New(envelope.TypeOpenUI, nil)
	open.RequestID = req.RequestID
	if err := e.sender.Send(ctx, open); err != nil {
		e.logger.Warn("open ui signal failed", slog.String("request_id", req.RequestID), slog.Any("err", err))
	}
}

// cleanup 尽力通知后台该请求已被放弃，只发送一次。
func (e *Engine) cleanup(ctx context.Context, capab capability, req *ActionRequest) {
	env, err := envelope.New(capab.cleanup, envelope.ActionRef{ActionHash: req.ActionHash})
	if err != nil {
		return
	}
	env.RequestID = req.RequestID
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := e.sender.Send(sendCtx, env); err != nil {
		e.logger.Warn("cleanup signal failed", slog.String("action_hash", req.ActionHash), slog.Any("err", err))
		return
	}
	e.logger.Info("abandoned action cleaned up", slog.String("kind", string(req.Kind)), slog.String("action_hash", req.ActionHash), slog.String("type", capab.cleanup.String()))
}

func (e *Engine) begin(kind Kind, payload envelope.Envelope) *ActionRequest {
	req := &ActionRequest{
		RequestID: fmt.Sprintf("%s-%d", e.prefix, e.seq.Add(1)),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: e.clock.Now(),
		State:     StateSubmitted,
	}
	e.mu.Lock()
	e.inflight[req.RequestID] = req
	e.mu.Unlock()
	e.metrics.incInflight(kind)
	e.logger.Debug("action submitted", slog.String("kind", string(kind)), slog.String("request_id", req.RequestID))
	return req
}

func (e *Engine) end(req *ActionRequest) {
	e.mu.Lock()
	delete(e.inflight, req.RequestID)
	e.mu.Unlock()
	e.metrics.decInflight(req.Kind)
}

func (e *Engine) startSpan(ctx context.Context, req *ActionRequest) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "bridge."+string(req.Kind), trace.WithAttributes(
		attribute.String("capability", string(req.Kind)),
		attribute.String("request_id", req.RequestID),
	))
}

func (e *Engine) acknowledge(req *ActionRequest, span trace.Span, hash string) {
	e.mu.Lock()
	req.ActionHash = hash
	e.mu.Unlock()
	span.SetAttributes(attribute.String("action_hash", hash))
	e.advance(req, StateAcknowledged)
}

func (e *Engine) advance(req *ActionRequest, to State) {
	e.mu.Lock()
	from := req.State
	err := req.transition(to)
	e.mu.Unlock()
	if err != nil {
		e.logger.Error("action state transition rejected", slog.String("request_id", req.RequestID), slog.Any("err", err))
		return
	}
	e.logger.Debug("action state changed",
		slog.String("kind", string(req.Kind)),
		slog.String("request_id", req.RequestID),
		slog.String("action_hash", req.ActionHash),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

func (e *Engine) settle(req *ActionRequest, span trace.Span, to State, outcome string) {
	e.advance(req, to)
	e.metrics.incRequest(req.Kind, outcome)
	e.metrics.observeLatency(req.Kind, float64(e.clock.Now().Sub(req.CreatedAt).Milliseconds()))
	span.SetAttributes(attribute.String("outcome", outcome))
	if to != StateApproved {
		span.SetStatus(codes.Error, outcome)
	}
	e.logger.Info("action resolved",
		slog.String("kind", string(req.Kind)),
		slog.String("request_id", req.RequestID),
		slog.String("action_hash", req.ActionHash),
		slog.String("outcome", outcome),
	)
}

func (e *Engine) fail(req *ActionRequest, span trace.Span, outcome string, err error) error {
	e.advance(req, StateFailed)
	e.metrics.incRequest(req.Kind, outcome)
	span.RecordError(err)
	span.SetAttributes(attribute.String("outcome", outcome))
	span.SetStatus(codes.Error, outcome)
	e.logger.Warn("action failed",
		slog.String("kind", string(req.Kind)),
		slog.String("request_id", req.RequestID),
		slog.String("action_hash", req.ActionHash),
		slog.String("outcome", outcome),
		slog.Any("err", err),
	)
	return err
}
