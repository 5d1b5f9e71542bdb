package provider

import (
	"context"

	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
	"github.com/aegis-sign/walletbridge/internal/bridge/protocol"
	"github.com/aegis-sign/walletbridge/internal/bridge/session"
	"github.com/aegis-sign/walletbridge/pkg/apierrors"
)

// TransactionReceived 是交易被后台接收时的响应码。
const TransactionReceived = "TRANSACTION_RECEIVED"

// AddTransactionResponse 是交易提交结果。
type AddTransactionResponse struct {
	Code            string `json:"code"`
	Address         string `json:"address"`
	TransactionHash string `json:"transaction_hash"`
}

// Signer 代表当前账户向后台请求交易与签名。
type Signer struct {
	identity session.SignerIdentity
	engine   *protocol.Engine
}

// Address 返回签名者地址。
func (s *Signer) Address() string { return s.identity.Address }

// Network 返回签名者所在网络。
func (s *Signer) Network() session.Network { return s.identity.Network }

// AddTransaction 请求用户批准交易。DEPLOY 交易与携带签名的交易不走审批流程。
func (s *Signer) AddTransaction(ctx context.Context, tx envelope.Transaction) (AddTransactionResponse, error) {
	if tx.Type == "DEPLOY" {
		return AddTransactionResponse{}, apierrors.New(apierrors.CodeUnsupportedCapability, "deploy transactions are sent through the network provider")
	}
	if len(tx.Signature) > 0 {
		return AddTransactionResponse{}, apierrors.New(apierrors.CodeInvalidArgument, "adding signatures to a signer transaction is not supported")
	}
	submitted, err := s.engine.AddTransaction(ctx, tx)
	if err != nil {
		return AddTransactionResponse{}, err
	}
	return AddTransactionResponse{
		Code:            TransactionReceived,
		Address:         tx.ContractAddress,
		TransactionHash: submitted.TxHash,
	}, nil
}

// SignMessage 请求用户签署结构化数据，返回 [r, s]。
func (s *Signer) SignMessage(ctx context.Context, data envelope.TypedData) ([]string, error) {
	sig, err := s.engine.SignMessage(ctx, data)
	if err != nil {
		return nil, err
	}
	return []string{sig.R, sig.S}, nil
}
