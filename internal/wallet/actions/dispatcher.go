// Package actions 是钱包后台：确认页面请求、排队等待用户决策，并回送结果。
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"golang.org/x/time/rate"

	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
	"github.com/aegis-sign/walletbridge/internal/bridge/transport"
	"github.com/aegis-sign/walletbridge/internal/wallet/store"
	"github.com/aegis-sign/walletbridge/pkg/apierrors"
	"github.com/aegis-sign/walletbridge/pkg/validator"
)

var (
	// ErrQueueFull 当执行队列无可用 slot 时返回。
	ErrQueueFull = errors.New("action executor queue full")
	// ErrRateLimited 表示新请求命中速率限制。
	ErrRateLimited = errors.New("action dispatcher rate limited")
	// ErrTooManyPending 表示待审批动作已达上限。
	ErrTooManyPending = errors.New("too many pending actions")
)

const (
	maxAttempts  = 3
	storeTimeout = 2 * time.Second
)

// Bridge 是后台侧的消息通道，由 transport.Transport 实现。
type Bridge interface {
	Send(ctx context.Context, env envelope.Envelope) error
	Subscribe(handler transport.Handler) (unsubscribe func())
}

// Dispatcher 负责接收页面请求、维护待审批队列并调度执行。
type Dispatcher struct {
	cfg      Config
	bridge   Bridge
	store    store.Store
	executor Executor

	queue   chan *job
	stopCh  chan struct{}
	metrics *Metrics
	logger  *slog.Logger
	limiter atomic.Pointer[rate.Limiter]
	gate    *executorGate

	uiFeed      event.Feed
	unsubscribe func()

	mu       sync.Mutex
	pending  map[string]*Action
	connects map[string]string
	account  Account

	wg sync.WaitGroup

	randMu sync.Mutex
	rnd    *rand.Rand
}

// job 是执行队列中的元素。
type job struct {
	action   Action
	attempts int
}

// NewDispatcher 创建 Dispatcher，订阅 bridge 并启动后台 worker。
func NewDispatcher(bridge Bridge, st store.Store, executor Executor, cfg Config) (*Dispatcher, error) {
	if bridge == nil {
		return nil, errors.New("bridge is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	normalized := cfg.normalize()
	d := &Dispatcher{
		cfg:      normalized,
		bridge:   bridge,
		store:    st,
		executor: executor,
		queue:    make(chan *job, normalized.MaxQueue),
		stopCh:   make(chan struct{}),
		metrics:  normalized.Metrics,
		logger:   normalized.Logger,
		pending:  make(map[string]*Action),
		connects: make(map[string]string),
		account:  normalized.Account,
		gate:     newExecutorGate(normalized.BreakerThreshold, normalized.BreakerCooldown),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if normalized.RateLimit > 0 {
		d.limiter.Store(rate.NewLimiter(rate.Limit(normalized.RateLimit), normalized.RateBurst))
	}
	d.start()
	d.unsubscribe = bridge.Subscribe(d.handle)
	return d, nil
}

// Close 解除订阅并停止 worker。
func (d *Dispatcher) Close() {
	d.gate.shutdown()
	d.unsubscribe()
	close(d.stopCh)
	d.wg.Wait()
}

// UpdateRateLimit 热更新速率限制。
func (d *Dispatcher) UpdateRateLimit(rateValue float64) {
	if rateValue <= 0 {
		d.limiter.Store(nil)
		return
	}
	d.limiter.Store(rate.NewLimiter(rate.Limit(rateValue), d.cfg.RateBurst))
}

// SubscribeUI 订阅审批界面事件。
func (d *Dispatcher) SubscribeUI(ch chan<- UIEvent) event.Subscription {
	return d.uiFeed.Subscribe(ch)
}

// Pending 返回待审批动作，按创建时间排序。
func (d *Dispatcher) Pending() []Action {
	d.mu.Lock()
	out := make([]Action, 0, len(d.pending))
	for _, a := range d.pending {
		out = append(out, *a)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Account 返回当前选中的账户。
func (d *Dispatcher) Account() Account {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.account
}

// SelectAccount 切换账户并向页面推送 WALLET_CONNECTED。
func (d *Dispatcher) SelectAccount(ctx context.Context, address, network string) error {
	normalized, err := validator.NormalizeAddress(address)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInvalidArgument, "invalid account address", err)
	}
	account := Account{Address: normalized, Network: network}
	d.mu.Lock()
	d.account = account
	d.mu.Unlock()

	env, err := envelope.New(envelope.TypeWalletConnected, envelope.WalletConnected{Address: account.Address, Network: account.Network})
	if err != nil {
		return err
	}
	if err := d.bridge.Send(ctx, env); err != nil {
		return err
	}
	d.logger.Info("account selected", slog.String("address", account.Address), slog.String("network", account.Network))
	d.publish(UIEvent{Type: UIAccountSelected, Account: &account})
	return nil
}

// Approve 批准动作；每个 actionHash 至多结算一次。执行器熔断期间动作保持待审批。
func (d *Dispatcher) Approve(ctx context.Context, hash string) error {
	if wait, ok := d.gate.admit(); !ok {
		return apierrors.New(apierrors.CodeRetryLater, "executor unavailable").WithRetryAfter(wait)
	}
	action, err := d.claim(ctx, hash, OutcomeApproved)
	if err != nil {
		return err
	}
	if action.Kind == KindConnect {
		return d.approveConnect(ctx, action)
	}
	j := &job{action: action}
	select {
	case d.queue <- j:
		d.metrics.incQueueDepth()
		d.logger.Info("action approved", slog.String("kind", string(action.Kind)), slog.String("action_hash", action.Hash))
		return nil
	default:
		// 已结算但无法执行，回送拒绝让页面尽快结束等待。
		d.emitReject(ctx, action)
		d.metrics.incOutcome(action.Kind, OutcomeFailed)
		return apierrors.Wrap(apierrors.CodeRetryLater, "executor queue is full", ErrQueueFull).WithRetryAfter(time.Second)
	}
}

// Reject 拒绝动作并通知页面。
func (d *Dispatcher) Reject(ctx context.Context, hash string) error {
	action, err := d.claim(ctx, hash, OutcomeRejected)
	if err != nil {
		return err
	}
	if action.Kind != KindConnect {
		d.emitReject(ctx, action)
	}
	d.metrics.incOutcome(action.Kind, OutcomeRejected)
	d.publish(UIEvent{Type: UIActionResolved, Action: &action, Outcome: OutcomeRejected})
	d.logger.Info("action rejected", slog.String("kind", string(action.Kind)), slog.String("action_hash", action.Hash))
	return nil
}

// claim 在存储中登记结算结果并移出待审批队列。
func (d *Dispatcher) claim(ctx context.Context, hash, outcome string) (Action, error) {
	d.mu.Lock()
	action, ok := d.pending[hash]
	d.mu.Unlock()
	if !ok {
		if prior, _ := d.store.Resolution(ctx, hash); prior != "" {
			return Action{}, apierrors.New(apierrors.CodeAlreadyResolved, fmt.Sprintf("action already %s", prior))
		}
		return Action{}, apierrors.New(apierrors.CodeActionNotFound, "action not found")
	}
	first, err := d.store.MarkResolved(ctx, hash, outcome, d.cfg.ResolutionTTL)
	if err != nil {
		return Action{}, fmt.Errorf("record resolution: %w", err)
	}
	if !first {
		return Action{}, apierrors.New(apierrors.CodeAlreadyResolved, "action already resolved")
	}
	d.mu.Lock()
	delete(d.pending, hash)
	if action.Kind == KindConnect && d.connects[action.Host] == hash {
		delete(d.connects, action.Host)
	}
	d.metrics.setPending(len(d.pending))
	d.mu.Unlock()
	return *action, nil
}

func (d *Dispatcher) approveConnect(ctx context.Context, action Action) error {
	if err := d.store.AllowHost(ctx, action.Host); err != nil {
		return fmt.Errorf("allow host: %w", err)
	}
	account := d.Account()
	if err := d.replyConnect(ctx, action.RequestID, account); err != nil {
		return err
	}
	d.metrics.incOutcome(KindConnect, OutcomeApproved)
	d.publish(UIEvent{Type: UIActionResolved, Action: &action, Outcome: OutcomeApproved})
	d.logger.Info("host connected", slog.String("host", action.Host), slog.String("address", account.Address))
	return nil
}

func (d *Dispatcher) replyConnect(ctx context.Context, requestID string, account Account) error {
	env, err := envelope.New(envelope.TypeConnectRes, envelope.ConnectResult{Address: account.Address, Network: account.Network})
	if err != nil {
		return err
	}
	env.RequestID = requestID
	return d.bridge.Send(ctx, env)
}

func (d *Dispatcher) emitReject(ctx context.Context, action Action) {
	env, err := envelope.New(kindEnvelopes[action.Kind].reject, envelope.ActionRef{ActionHash: action.Hash})
	if err != nil {
		return
	}
	env.RequestID = action.RequestID
	if err := d.bridge.Send(ctx, env); err != nil {
		d.logger.Warn("rejection signal failed", slog.String("action_hash", action.Hash), slog.Any("err", err))
	}
}

func (d *Dispatcher) handle(env envelope.Envelope) {
	switch {
	case env.Type == envelope.TypeConnect:
		d.handleConnect(env)
	case env.Type == envelope.TypeOpenUI:
		d.publish(UIEvent{Type: UIOpen, RequestID: env.RequestID})
	default:
		if kind, ok := requestKinds[env.Type]; ok {
			d.handleRequest(kind, env)
			return
		}
		if _, ok := cleanupKinds[env.Type]; ok {
			d.handleCleanup(env)
		}
	}
}

func (d *Dispatcher) handleConnect(env envelope.Envelope) {
	var req envelope.ConnectRequest
	if err := env.Decode(&req); err != nil || req.Host == "" {
		d.metrics.incDropped("malformed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	account := d.Account()
	allowed, err := d.store.IsHostAllowed(ctx, req.Host)
	if err != nil {
		d.logger.Warn("host lookup failed", slog.String("host", req.Host), slog.Any("err", err))
	}
	if allowed && account.Address != "" {
		if err := d.replyConnect(ctx, env.RequestID, account); err != nil {
			d.logger.Warn("connect reply failed", slog.String("host", req.Host), slog.Any("err", err))
		}
		d.metrics.incOutcome(KindConnect, OutcomeApproved)
		return
	}

	// 同一 host 的重复连接合并为一个待审批动作，回复最新的请求。
	d.mu.Lock()
	if hash, ok := d.connects[req.Host]; ok {
		if existing := d.pending[hash]; existing != nil {
			existing.RequestID = env.RequestID
			d.mu.Unlock()
			return
		}
	}
	if len(d.pending) >= d.cfg.MaxPending {
		d.mu.Unlock()
		d.metrics.incDropped("too_many_pending")
		d.logger.Warn("connect dropped", slog.String("host", req.Host), slog.Any("err", ErrTooManyPending))
		return
	}
	action := &Action{
		Hash:      actionHash(KindConnect, env.Data),
		Kind:      KindConnect,
		RequestID: env.RequestID,
		Host:      req.Host,
		Payload:   env.Data,
		CreatedAt: time.Now(),
	}
	d.pending[action.Hash] = action
	d.connects[req.Host] = action.Hash
	d.metrics.setPending(len(d.pending))
	snapshot := *action
	d.mu.Unlock()

	d.metrics.incAction(KindConnect)
	d.logger.Info("connect awaiting approval", slog.String("host", req.Host), slog.String("action_hash", snapshot.Hash))
	d.publish(UIEvent{Type: UIActionAdded, Action: &snapshot})
}

func (d *Dispatcher) handleRequest(kind Kind, env envelope.Envelope) {
	if limiter := d.limiter.Load(); limiter != nil && !limiter.Allow() {
		d.metrics.incDropped("rate_limited")
		d.logger.Warn("action dropped", slog.String("kind", string(kind)), slog.Any("err", ErrRateLimited))
		return
	}
	d.mu.Lock()
	if len(d.pending) >= d.cfg.MaxPending {
		d.mu.Unlock()
		d.metrics.incDropped("too_many_pending")
		d.logger.Warn("action dropped", slog.String("kind", string(kind)), slog.Any("err", ErrTooManyPending))
		return
	}
	action := &Action{
		Hash:      actionHash(kind, env.Data),
		Kind:      kind,
		RequestID: env.RequestID,
		Payload:   env.Data,
		CreatedAt: time.Now(),
	}
	d.pending[action.Hash] = action
	d.metrics.setPending(len(d.pending))
	snapshot := *action
	d.mu.Unlock()

	ack, err := envelope.New(kindEnvelopes[kind].ack, envelope.ActionAck{ActionHash: action.Hash})
	if err != nil {
		return
	}
	ack.RequestID = env.RequestID
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := d.bridge.Send(ctx, ack); err != nil {
		d.logger.Warn("acknowledgment failed", slog.String("action_hash", action.Hash), slog.Any("err", err))
	}
	d.metrics.incAction(kind)
	d.logger.Info("action enqueued", slog.String("kind", string(kind)), slog.String("action_hash", action.Hash), slog.String("request_id", env.RequestID))
	d.publish(UIEvent{Type: UIActionAdded, Action: &snapshot})
}

// handleCleanup 处理页面放弃请求的通知；自己发出的拒绝回环到这里时动作已不在队列中。
func (d *Dispatcher) handleCleanup(env envelope.Envelope) {
	hash := env.ActionHash()
	if hash == "" {
		return
	}
	d.mu.Lock()
	_, ok := d.pending[hash]
	d.mu.Unlock()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	action, err := d.claim(ctx, hash, OutcomeAbandoned)
	if err != nil {
		return
	}
	d.metrics.incOutcome(action.Kind, OutcomeAbandoned)
	d.logger.Info("action abandoned by page", slog.String("kind", string(action.Kind)), slog.String("action_hash", hash))
	d.publish(UIEvent{Type: UIActionResolved, Action: &action, Outcome: OutcomeAbandoned})
}

func (d *Dispatcher) publish(evt UIEvent) {
	evt.Timestamp = time.Now()
	d.uiFeed.Send(evt)
}

func (d *Dispatcher) start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.workerLoop()
	}
}

func (d *Dispatcher) workerLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case j := <-d.queue:
			if j == nil {
				continue
			}
			d.handleJob(j)
		}
	}
}

func (d *Dispatcher) handleJob(j *job) {
	j.attempts++
	start := time.Now()
	result := d.executor.Execute(context.Background(), Job{Action: j.action, Account: d.Account(), Attempt: j.attempts})
	d.metrics.observeLatency(j.action.Kind, float64(time.Since(start).Milliseconds()))

	if result.Success {
		d.metrics.decQueueDepth()
		d.gate.record(true)
		d.emitApprove(j.action, result)
		return
	}
	if j.attempts >= maxAttempts {
		d.metrics.decQueueDepth()
		d.metrics.incOutcome(j.action.Kind, OutcomeFailed)
		d.logger.Warn("action execution failed permanently", slog.String("action_hash", j.action.Hash), slog.Int("attempts", j.attempts), slog.Any("err", result.Err))
		if d.gate.record(false) {
			d.logger.Error("executor degraded, approvals paused", slog.Duration("cooldown", d.cfg.BreakerCooldown))
		}
		d.emitReject(context.Background(), j.action)
		d.publish(UIEvent{Type: UIActionResolved, Action: &j.action, Outcome: OutcomeFailed})
		return
	}

	delay := d.backoffDelay(j.attempts)
	d.metrics.incRetry(j.action.Kind)
	d.logger.Info("action retry scheduled", slog.String("action_hash", j.action.Hash), slog.Int("attempt", j.attempts+1), slog.Duration("delay", delay), slog.Any("err", result.Err))
	time.AfterFunc(delay, func() {
		select {
		case <-d.stopCh:
			return
		case d.queue <- j:
		}
	})
}

func (d *Dispatcher) emitApprove(action Action, result Result) {
	var payload any
	switch action.Kind {
	case KindTransaction:
		payload = envelope.SubmittedTx{TxHash: result.TxHash, ActionHash: action.Hash}
	case KindSign:
		payload = envelope.SignatureResult{R: result.R, S: result.S, ActionHash: action.Hash}
	default:
		payload = envelope.ActionRef{ActionHash: action.Hash}
	}
	env, err := envelope.New(kindEnvelopes[action.Kind].approve, payload)
	if err != nil {
		return
	}
	env.RequestID = action.RequestID
	if err := d.bridge.Send(context.Background(), env); err != nil {
		d.logger.Warn("approval signal failed", slog.String("action_hash", action.Hash), slog.Any("err", err))
		return
	}
	d.metrics.incOutcome(action.Kind, OutcomeApproved)
	d.publish(UIEvent{Type: UIActionResolved, Action: &action, Outcome: OutcomeApproved})
}

func (d *Dispatcher) backoffDelay(attempt int) time.Duration {
	delay := d.cfg.BackoffBase * time.Duration(1<<(attempt-1))
	if delay > d.cfg.BackoffMax {
		delay = d.cfg.BackoffMax
	}
	return d.jitter(delay, 0.2)
}

func (d *Dispatcher) jitter(dur time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return dur
	}
	maxJitter := time.Duration(float64(dur) * factor)
	if maxJitter <= 0 {
		return dur
	}
	d.randMu.Lock()
	delta := time.Duration(d.rnd.Int63n(int64(2*maxJitter+1))) - maxJitter
	d.randMu.Unlock()
	candidate := dur + delta
	if candidate < 0 {
		return 0
	}
	return candidate
}
