// Package approvalapi 向审批界面暴露待处理动作与决策接口。
package approvalapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/aegis-sign/walletbridge/internal/wallet/actions"
	"github.com/aegis-sign/walletbridge/pkg/apierrors"
)

const codeInternal = apierrors.Code("INTERNAL_ERROR")

// HTTPHandler 实现审批界面的 HTTP/JSON 与 websocket 接口。
type HTTPHandler struct {
	backend  Backend
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// HTTPOption 定制 HTTPHandler。
type HTTPOption func(*HTTPHandler)

// WithLogger 指定日志输出。
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(h *HTTPHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithAllowedOrigins 限制 websocket 握手的 Origin，为空时只接受同源请求。
func WithAllowedOrigins(origins ...string) HTTPOption {
	return func(h *HTTPHandler) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[strings.TrimSuffix(o, "/")] = struct{}{}
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// NewHTTPHandler 构造 HTTP handler。
func NewHTTPHandler(backend Backend, opts ...HTTPOption) *HTTPHandler {
	if backend == nil {
		panic("approval backend is required")
	}
	h := &HTTPHandler{backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 将 handler 注册到 mux。
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/actions", h.handleList)
	mux.HandleFunc("/actions/approve", h.handleApprove)
	mux.HandleFunc("/actions/reject", h.handleReject)
	mux.HandleFunc("/accounts/select", h.handleSelectAccount)
	mux.HandleFunc("/ws/ui", h.handleUIStream)
}

type decisionRequestBody struct {
	ActionHash string `json:"actionHash"`
}

type selectAccountBody struct {
	Address string `json:"address"`
	Network string `json:"network"`
}

type listResponseBody struct {
	Actions []actions.Action `json:"actions"`
}

type statusResponseBody struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	RetryAfterHint string `json:"retryAfterHint,omitempty"`
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "GET required"))
		return
	}
	pending := h.backend.Pending()
	if pending == nil {
		pending = []actions.Action{}
	}
	h.writeJSON(w, http.StatusOK, listResponseBody{Actions: pending})
}

func (h *HTTPHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.decodeDecision(w, r)
	if !ok {
		return
	}
	if err := h.backend.Approve(r.Context(), hash); err != nil {
		h.writeUnknownError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponseBody{Status: actions.OutcomeApproved})
}

func (h *HTTPHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	hash, ok := h.decodeDecision(w, r)
	if !ok {
		return
	}
	if err := h.backend.Reject(r.Context(), hash); err != nil {
		h.writeUnknownError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponseBody{Status: actions.OutcomeRejected})
}

func (h *HTTPHandler) handleSelectAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "POST required"))
		return
	}
	var body selectAccountBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "invalid JSON body"))
		return
	}
	if body.Address == "" || body.Network == "" {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "address and network are required"))
		return
	}
	if err := h.backend.SelectAccount(r.Context(), body.Address, body.Network); err != nil {
		h.writeUnknownError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponseBody{Status: "selected"})
}

func (h *HTTPHandler) decodeDecision(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "POST required"))
		return "", false
	}
	var body decisionRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "invalid JSON body"))
		return "", false
	}
	if body.ActionHash == "" {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "actionHash is required"))
		return "", false
	}
	return body.ActionHash, true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *HTTPHandler) writeUnknownError(w http.ResponseWriter, err error) {
	if apiErr, ok := apierrors.FromError(err); ok {
		h.writeAPIError(w, apiErr)
		return
	}
	h.logger.Error("approval request failed", slog.Any("err", err))
	h.writeAPIError(w, apierrors.New(codeInternal, "internal error"))
}

func (h *HTTPHandler) writeAPIError(w http.ResponseWriter, apiErr *apierrors.Error) {
	if apiErr == nil {
		apiErr = apierrors.New(codeInternal, "internal error")
	}
	status := apierrors.HTTPStatus(apiErr.Code)
	if apierrors.RequiresRetryAfter(apiErr.Code) {
		if hint := apiErr.RetryAfterHint(); hint != "" {
			w.Header().Set("Retry-After", hint)
		}
	}
	resp := errorResponse{
		Code:           string(apiErr.Code),
		Message:        apiErr.Error(),
		RetryAfterHint: apiErr.RetryAfterHint(),
	}
	h.writeJSON(w, status, resp)
}
