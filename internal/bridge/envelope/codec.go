package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Envelope 是跨上下文传递的扁平消息单元。
type Envelope struct {
	Type        Type            `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
	ExtensionID string          `json:"extensionId,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
}

// New 根据类型化负载构造 Envelope，payload 为 nil 时不携带 data。
func New(typ Type, payload any) (Envelope, error) {
	env := Envelope{Type: typ}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Data = data
	return env, nil
}

// Decode 将 data 解析到 v。
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s carries no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ActionHash 提取 data.actionHash，缺失时返回空串。
func (e Envelope) ActionHash() string {
	if len(e.Data) == 0 {
		return ""
	}
	return gjson.GetBytes(e.Data, "actionHash").String()
}

var errEmptyIdentity = errors.New("codec extension id is required")

// Codec 负责对出站消息打上来源标记，并过滤不属于本桥的入站消息。
type Codec struct {
	ExtensionID string
}

// NewCodec 构造 Codec。
func NewCodec(extensionID string) (Codec, error) {
	if extensionID == "" {
		return Codec{}, errEmptyIdentity
	}
	return Codec{ExtensionID: extensionID}, nil
}

// Encode 打上来源标记并序列化。
func (c Codec) Encode(env Envelope) ([]byte, error) {
	if !env.Type.Known() {
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	env.ExtensionID = c.ExtensionID
	return json.Marshal(env)
}

// DropReason 说明入站消息被丢弃的原因。
type DropReason string

const (
	DropNone        DropReason = ""
	DropMalformed   DropReason = "malformed"
	DropUnknownType DropReason = "unknown_type"
	DropForeign     DropReason = "foreign_source"
)

// Decode 解析入站消息；无法识别或来源不符的消息被静默丢弃，从不返回错误。
func (c Codec) Decode(raw []byte) (Envelope, bool) {
	env, reason := c.Inspect(raw)
	return env, reason == DropNone
}

// Inspect 与 Decode 相同，但额外返回丢弃原因供指标使用。
func (c Codec) Inspect(raw []byte) (Envelope, DropReason) {
	if !gjson.ValidBytes(raw) {
		return Envelope{}, DropMalformed
	}
	peek := gjson.GetManyBytes(raw, "type", "extensionId")
	if peek[0].Type != gjson.String || !Type(peek[0].String()).Known() {
		return Envelope{}, DropUnknownType
	}
	if peek[1].String() != c.ExtensionID {
		return Envelope{}, DropForeign
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, DropMalformed
	}
	return env, DropNone
}
