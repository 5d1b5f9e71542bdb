package apierrors

import (
	"errors"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"
)

// Code 表示统一业务错误码。
type Code string

const (
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeRetryLater            Code = "RETRY_LATER"
	CodeAckTimeout            Code = "ACK_TIMEOUT"
	CodeUserAbort             Code = "USER_ABORT"
	CodeSessionTimeout        Code = "SESSION_TIMEOUT"
	CodeUnsupportedCapability Code = "UNSUPPORTED_CAPABILITY"
	CodeUnknownEvent          Code = "UNKNOWN_EVENT"
	CodeNotConnected          Code = "NOT_CONNECTED"
	CodeActionNotFound        Code = "ACTION_NOT_FOUND"
	CodeAlreadyResolved       Code = "ALREADY_RESOLVED"
)

var httpStatusMap = map[Code]int{
	CodeInvalidArgument:       400,
	CodeRetryLater:            429,
	CodeAckTimeout:            504,
	CodeUserAbort:             409,
	CodeSessionTimeout:        408,
	CodeUnsupportedCapability: 501,
	CodeUnknownEvent:          400,
	CodeNotConnected:          412,
	CodeActionNotFound:        404,
	CodeAlreadyResolved:       409,
}

var grpcStatusMap = map[Code]codes.Code{
	CodeInvalidArgument:       codes.InvalidArgument,
	CodeRetryLater:            codes.ResourceExhausted,
	CodeAckTimeout:            codes.DeadlineExceeded,
	CodeUserAbort:             codes.Aborted,
	CodeSessionTimeout:        codes.DeadlineExceeded,
	CodeUnsupportedCapability: codes.Unimplemented,
	CodeUnknownEvent:          codes.InvalidArgument,
	CodeNotConnected:          codes.FailedPrecondition,
	CodeActionNotFound:        codes.NotFound,
	CodeAlreadyResolved:       codes.AlreadyExists,
}

// Error 表示带统一错误码的业务错误。
type Error struct {
	Code       Code
	Message    string
	retryAfter time.Duration
	cause      error
}

// New 创建一个新的业务错误。
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap 创建携带底层原因的业务错误，errors.Is 可穿透到 cause。
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithRetryAfter 设置 Retry-After 提示，返回自身方便链式调用。
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.retryAfter = d
	return e
}

// RetryAfterHint 以秒为单位返回 Retry-After 提示文本。
func (e *Error) RetryAfterHint() string {
	if e == nil || e.retryAfter <= 0 {
		return ""
	}
	seconds := int((e.retryAfter + time.Second - 1) / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap 暴露底层原因。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// FromError 尝试从通用 error 中解析业务错误。
func FromError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Is 判断 err 链上是否存在指定错误码。
func Is(err error, code Code) bool {
	apiErr, ok := FromError(err)
	return ok && apiErr.Code == code
}

// HTTPStatus 返回对应的 HTTP 状态码，未知错误默认 500。
func HTTPStatus(code Code) int {
	if status, ok := httpStatusMap[code]; ok {
		return status
	}
	return 500
}

// GRPCStatus 返回对应的 gRPC code，未知错误默认 Internal。
func GRPCStatus(code Code) codes.Code {
	if status, ok := grpcStatusMap[code]; ok {
		return status
	}
	return codes.Internal
}

// RequiresRetryAfter 标记是否必须携带 Retry-After 头。
func RequiresRetryAfter(code Code) bool {
	return code == CodeRetryLater
}
