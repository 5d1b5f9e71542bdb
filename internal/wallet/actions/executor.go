package actions

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

// Executor 在用户批准后执行动作（提交交易或签名）。
type Executor interface {
	Execute(ctx context.Context, job Job) Result
}

// Job 传递队列上下文给 Executor。
type Job struct {
	Action  Action
	Account Account
	Attempt int
}

// Result 是执行结果，Success 为 false 时由 Err 说明原因。
type Result struct {
	Success bool
	TxHash  string
	R       string
	S       string
	Err     error
}

// DigestExecutor 是占位执行器，用确定性摘要代替真实签名与上链。
type DigestExecutor struct {
	logger *slog.Logger
}

// NewDigestExecutor 返回一个不依赖外部服务的执行器。
func NewDigestExecutor(logger *slog.Logger) DigestExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return DigestExecutor{logger: logger}
}

// Execute 根据动作类型生成交易 hash 或 (r, s)。
func (e DigestExecutor) Execute(ctx context.Context, job Job) Result {
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}
	if job.Account.Address == "" {
		return Result{Err: errors.New("no account selected")}
	}
	switch job.Action.Kind {
	case KindTransaction:
		tx := feltDigest("tx", job.Account.Address, job.Action.Hash, string(job.Action.Payload))
		e.logger.Info("digest executor submitted transaction", slog.String("action_hash", job.Action.Hash), slog.String("tx_hash", tx))
		return Result{Success: true, TxHash: tx}
	case KindSign:
		return Result{
			Success: true,
			R:       feltDigest("r", job.Account.Address, job.Action.Hash, string(job.Action.Payload)),
			S:       feltDigest("s", job.Account.Address, job.Action.Hash, string(job.Action.Payload)),
		}
	default:
		return Result{Success: true}
	}
}

// feltDigest 返回截断到 250 位的 keccak 摘要，保证落在域内。
func feltDigest(parts ...string) string {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	sum[0] &= 0x03
	return hexutil.Encode(sum)
}
