package actions

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
)

// Kind 是待审批动作的类型。
type Kind string

const (
	KindConnect     Kind = "connect"
	KindAddToken    Kind = "add_token"
	KindTransaction Kind = "transaction"
	KindSign        Kind = "sign"
)

// Outcome 是动作的结算结果，写入去重存储。
const (
	OutcomeApproved  = "approved"
	OutcomeRejected  = "rejected"
	OutcomeAbandoned = "abandoned"
	OutcomeFailed    = "failed"
)

// Account 是后台当前选中的账户。
type Account struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// Action 是等待用户处理的请求。
type Action struct {
	Hash      string          `json:"actionHash"`
	Kind      Kind            `json:"kind"`
	RequestID string          `json:"requestId,omitempty"`
	Host      string          `json:"host,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// envelopes 描述每种动作对应的确认、批准与拒绝消息。
type envelopes struct {
	ack     envelope.Type
	approve envelope.Type
	reject  envelope.Type
}

var kindEnvelopes = map[Kind]envelopes{
	KindAddToken:    {ack: envelope.TypeAddTokenRes, approve: envelope.TypeApproveAddToken, reject: envelope.TypeRejectAddToken},
	KindTransaction: {ack: envelope.TypeAddTransactionRes, approve: envelope.TypeSubmittedTx, reject: envelope.TypeFailedTx},
	KindSign:        {ack: envelope.TypeAddSignRes, approve: envelope.TypeSuccessSign, reject: envelope.TypeFailedSign},
}

var requestKinds = map[envelope.Type]Kind{
	envelope.TypeAddToken:       KindAddToken,
	envelope.TypeAddTransaction: KindTransaction,
	envelope.TypeAddSign:        KindSign,
}

// cleanupKinds 是页面放弃请求时发送的消息。
var cleanupKinds = map[envelope.Type]struct{}{
	envelope.TypeRejectAddToken: {},
	envelope.TypeFailedTx:       {},
	envelope.TypeFailedSign:     {},
}

// actionHash = keccak256(kind || 0x00 || nonce || 0x00 || payload)，nonce 保证重复提交得到新的 hash。
func actionHash(kind Kind, payload []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(uuid.NewString()))
	h.Write([]byte{0})
	h.Write(payload)
	return hexutil.Encode(h.Sum(nil))
}
