package approvalapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aegis-sign/walletbridge/internal/wallet/actions"
)

const (
	uiWriteTimeout = 5 * time.Second
	uiPongWait     = 60 * time.Second
	uiPingPeriod   = uiPongWait * 9 / 10
	uiBuffer       = 32
)

// handleUIStream 把审批事件推送给界面，连接期间持有一个 feed 订阅。
func (h *HTTPHandler) handleUIStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade ui stream failed", slog.String("remote", r.RemoteAddr), slog.Any("err", err))
		return
	}
	defer conn.Close()

	events := make(chan actions.UIEvent, uiBuffer)
	sub := h.backend.SubscribeUI(events)
	defer sub.Unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(uiPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(uiPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Info("ui stream connected", slog.String("remote", r.RemoteAddr))
	ticker := time.NewTicker(uiPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			h.logger.Info("ui stream closed", slog.String("remote", r.RemoteAddr))
			return
		case err := <-sub.Err():
			if err != nil {
				h.logger.Warn("ui subscription failed", slog.Any("err", err))
			}
			return
		case evt := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(uiWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Warn("ui stream write failed", slog.String("remote", r.RemoteAddr), slog.Any("err", err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(uiWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
