package approvalapi

import (
	"context"

	"github.com/ethereum/go-ethereum/event"

	"github.com/aegis-sign/walletbridge/internal/wallet/actions"
)

// Backend 定义审批接口依赖的业务层，由 actions.Dispatcher 实现。
type Backend interface {
	Pending() []actions.Action
	Approve(ctx context.Context, hash string) error
	Reject(ctx context.Context, hash string) error
	SelectAccount(ctx context.Context, address, network string) error
	SubscribeUI(ch chan<- actions.UIEvent) event.Subscription
}
