package actions

import "time"

// UIEventType 是审批界面事件类型。
type UIEventType string

const (
	UIOpen            UIEventType = "open_ui"
	UIActionAdded     UIEventType = "action_added"
	UIActionResolved  UIEventType = "action_resolved"
	UIAccountSelected UIEventType = "account_selected"
)

// UIEvent 推送给审批界面。
type UIEvent struct {
	Type      UIEventType `json:"type"`
	Action    *Action     `json:"action,omitempty"`
	Outcome   string      `json:"outcome,omitempty"`
	Account   *Account    `json:"account,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
