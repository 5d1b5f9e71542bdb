package envelope

// Type 是跨上下文消息的判别字段，取值集合封闭且无版本号。
type Type string

const (
	TypeConnect         Type = "CONNECT"
	TypeConnectRes      Type = "CONNECT_RES"
	TypeWalletConnected Type = "WALLET_CONNECTED"
	TypeOpenUI          Type = "OPEN_UI"

	TypeAddToken        Type = "ADD_TOKEN"
	TypeAddTokenRes     Type = "ADD_TOKEN_RES"
	TypeApproveAddToken Type = "APPROVE_ADD_TOKEN"
	TypeRejectAddToken  Type = "REJECT_ADD_TOKEN"

	TypeAddTransaction    Type = "ADD_TRANSACTION"
	TypeAddTransactionRes Type = "ADD_TRANSACTION_RES"
	TypeSubmittedTx       Type = "SUBMITTED_TX"
	TypeFailedTx          Type = "FAILED_TX"

	TypeAddSign     Type = "ADD_SIGN"
	TypeAddSignRes  Type = "ADD_SIGN_RES"
	TypeSuccessSign Type = "SUCCESS_SIGN"
	TypeFailedSign  Type = "FAILED_SIGN"
)

var knownTypes = map[Type]struct{}{
	TypeConnect:           {},
	TypeConnectRes:        {},
	TypeWalletConnected:   {},
	TypeOpenUI:            {},
	TypeAddToken:          {},
	TypeAddTokenRes:       {},
	TypeApproveAddToken:   {},
	TypeRejectAddToken:    {},
	TypeAddTransaction:    {},
	TypeAddTransactionRes: {},
	TypeSubmittedTx:       {},
	TypeFailedTx:          {},
	TypeAddSign:           {},
	TypeAddSignRes:        {},
	TypeSuccessSign:       {},
	TypeFailedSign:        {},
}

// Known 判断类型是否属于双方约定的集合。
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

func (t Type) String() string { return string(t) }

// ConnectRequest 是 CONNECT 的负载。
type ConnectRequest struct {
	Host string `json:"host"`
}

// ConnectResult 是 CONNECT_RES 的负载。
type ConnectResult struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// WalletConnected 是后台主动推送的账户切换通知。
type WalletConnected struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

// AddTokenRequest 是 ADD_TOKEN 的负载。
type AddTokenRequest struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals string `json:"decimals,omitempty"`
	Name     string `json:"name,omitempty"`
}

// ActionAck 是各类 *_RES 确认消息的负载，actionHash 由后台分配。
type ActionAck struct {
	ActionHash string `json:"actionHash"`
}

// ActionRef 只携带 actionHash，用于审批、拒绝与清理消息。
type ActionRef struct {
	ActionHash string `json:"actionHash"`
}

// Transaction 是 ADD_TRANSACTION 的负载。
type Transaction struct {
	Type               string   `json:"type"`
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector,omitempty"`
	Calldata           []string `json:"calldata,omitempty"`
	Signature          []string `json:"signature,omitempty"`
	Nonce              string   `json:"nonce,omitempty"`
}

// SubmittedTx 是 SUBMITTED_TX 的负载。
type SubmittedTx struct {
	TxHash     string `json:"txHash"`
	ActionHash string `json:"actionHash"`
}

// TypedDataField 描述结构化数据中的一个字段。
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypedData 是 ADD_SIGN 的负载。
type TypedData struct {
	Types       map[string][]TypedDataField `json:"types"`
	PrimaryType string                      `json:"primaryType"`
	Domain      map[string]any              `json:"domain"`
	Message     map[string]any              `json:"message"`
}

// SignatureResult 是 SUCCESS_SIGN 的负载。
type SignatureResult struct {
	R          string `json:"r"`
	S          string `json:"s"`
	ActionHash string `json:"actionHash"`
}
