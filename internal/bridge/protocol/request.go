package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
)

// Kind 是钱包能力类型。
type Kind string

const (
	KindConnect        Kind = "connect"
	KindAddToken       Kind = "add_token"
	KindAddTransaction Kind = "add_transaction"
	KindSignMessage    Kind = "sign_message"
)

// State 是单个请求的生命周期状态。
type State int

const (
	StateSubmitted State = iota + 1
	StateAcknowledged
	StateAwaitingDecision
	StateApproved
	StateRejected
	StateTimedOut
	// StateFailed 表示在用户决策前失败（未确认、发送失败或调用方取消）。
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateAcknowledged:
		return "acknowledged"
	case StateAwaitingDecision:
		return "awaiting_decision"
	case StateApproved:
		return "approved"
	case StateRejected:
		return "rejected"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal 报告状态是否为终态。
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateTimedOut || s == StateFailed
}

var errInvalidTransition = errors.New("invalid action request transition")

var transitions = map[State][]State{
	StateSubmitted:        {StateAcknowledged, StateFailed},
	StateAcknowledged:     {StateAwaitingDecision, StateFailed},
	StateAwaitingDecision: {StateApproved, StateRejected, StateTimedOut, StateFailed},
}

// ActionRequest 描述一次未决的能力调用。
type ActionRequest struct {
	RequestID  string
	ActionHash string
	Kind       Kind
	Payload    envelope.Envelope
	CreatedAt  time.Time
	State      State
}

func (r *ActionRequest) transition(to State) error {
	for _, allowed := range transitions[r.State] {
		if allowed == to {
			r.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", errInvalidTransition, r.State, to)
}

// capability 描述一种能力使用的消息类型。
type capability struct {
	kind    Kind
	request envelope.Type
	ack     envelope.Type
	approve envelope.Type
	reject  envelope.Type
	cleanup envelope.Type
}

var (
	addTokenCapability = capability{
		kind:    KindAddToken,
		request: envelope.TypeAddToken,
		ack:     envelope.TypeAddTokenRes,
		approve: envelope.TypeApproveAddToken,
		reject:  envelope.TypeRejectAddToken,
		// 后台按 actionHash 清理，任何能力的放弃都使用 FAILED_* 消息。
		cleanup: envelope.TypeFailedTx,
	}
	addTransactionCapability = capability{
		kind:    KindAddTransaction,
		request: envelope.TypeAddTransaction,
		ack:     envelope.TypeAddTransactionRes,
		approve: envelope.TypeSubmittedTx,
		reject:  envelope.TypeFailedTx,
		cleanup: envelope.TypeFailedTx,
	}
	signMessageCapability = capability{
		kind:    KindSignMessage,
		request: envelope.TypeAddSign,
		ack:     envelope.TypeAddSignRes,
		approve: envelope.TypeSuccessSign,
		reject:  envelope.TypeFailedSign,
		cleanup: envelope.TypeFailedSign,
	}
)
