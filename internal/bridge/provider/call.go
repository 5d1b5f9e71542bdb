package provider

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/aegis-sign/walletbridge/pkg/apierrors"
)

const (
	// MethodWatchAsset 是添加代币的调用名。
	MethodWatchAsset = "wallet_watchAsset"
	// AssetERC20 是唯一支持的资产类型。
	AssetERC20 = "ERC20"
)

// Call 是 Request 接受的封闭调用集合。
type Call interface {
	Method() string
	sealed()
}

// AssetOptions 描述待添加的代币。
type AssetOptions struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals *int   `json:"decimals,omitempty"`
	Name     string `json:"name,omitempty"`
}

// WatchAsset 请求钱包跟踪一个代币。
type WatchAsset struct {
	Type    string       `json:"type"`
	Options AssetOptions `json:"options"`
}

// Method 实现 Call。
func (WatchAsset) Method() string { return MethodWatchAsset }
func (WatchAsset) sealed()        {}

// RawCall 是无法识别的调用，原样保留以便报告。
type RawCall struct {
	Name   string
	Params json.RawMessage
}

// Method 实现 Call。
func (c RawCall) Method() string { return c.Name }
func (RawCall) sealed()          {}

// ParseCall 将 {"type":..., "params":...} 形式的调用解析为封闭变体。
func ParseCall(raw []byte) (Call, error) {
	if !gjson.ValidBytes(raw) {
		return nil, apierrors.New(apierrors.CodeInvalidArgument, "call is not valid json")
	}
	method := gjson.GetBytes(raw, "type")
	if method.Type != gjson.String || method.String() == "" {
		return nil, apierrors.New(apierrors.CodeInvalidArgument, "call type is required")
	}
	params := gjson.GetBytes(raw, "params")
	switch method.String() {
	case MethodWatchAsset:
		var call WatchAsset
		if params.Exists() {
			if err := json.Unmarshal([]byte(params.Raw), &call); err != nil {
				return nil, apierrors.Wrap(apierrors.CodeInvalidArgument, fmt.Sprintf("decode %s params", MethodWatchAsset), err)
			}
		}
		return call, nil
	default:
		return RawCall{Name: method.String(), Params: json.RawMessage(params.Raw)}, nil
	}
}
