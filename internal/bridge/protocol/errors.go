package protocol

import (
	"errors"
	"fmt"

	"github.com/aegis-sign/walletbridge/pkg/apierrors"
)

var (
	// ErrAckTimeout 表示后台未在确认窗口内接受请求。
	ErrAckTimeout = errors.New("backend did not acknowledge the request")
	// ErrUserAbort 表示用户明确拒绝。
	ErrUserAbort = errors.New("user abort")
	// ErrSessionTimeout 表示用户未在时限内做出决定。
	ErrSessionTimeout = errors.New("user action timed out")
	// ErrNotConnected 表示调用前未完成连接。
	ErrNotConnected = errors.New("wallet not connected")
)

func ackTimeoutError(kind Kind) error {
	return apierrors.Wrap(apierrors.CodeAckTimeout, fmt.Sprintf("%s: %s", kind, ErrAckTimeout), ErrAckTimeout)
}

func userAbortError(kind Kind) error {
	return apierrors.Wrap(apierrors.CodeUserAbort, fmt.Sprintf("%s: %s", kind, ErrUserAbort), ErrUserAbort)
}

func sessionTimeoutError(kind Kind) error {
	return apierrors.Wrap(apierrors.CodeSessionTimeout, fmt.Sprintf("%s: %s", kind, ErrSessionTimeout), ErrSessionTimeout)
}

func notConnectedError(kind Kind) error {
	return apierrors.Wrap(apierrors.CodeNotConnected, fmt.Sprintf("%s: %s", kind, ErrNotConnected), ErrNotConnected)
}
