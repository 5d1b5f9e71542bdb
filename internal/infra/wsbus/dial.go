package wsbus

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

// busPath 是 unix/vsock 端点上 websocket 握手使用的路径。
const busPath = "/bus"

// resolveEndpoint 把端点拆成 websocket URL 与底层拨号函数；ws/wss 使用默认 TCP 拨号。
func resolveEndpoint(endpoint string) (string, func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		if _, err := url.Parse(endpoint); err != nil {
			return "", nil, fmt.Errorf("invalid bus endpoint: %w", err)
		}
		return endpoint, nil, nil
	case strings.HasPrefix(endpoint, "unix://"), strings.HasPrefix(endpoint, "unix:"):
		path := strings.TrimPrefix(strings.TrimPrefix(endpoint, "unix://"), "unix:")
		if path == "" {
			return "", nil, fmt.Errorf("invalid unix endpoint: %s", endpoint)
		}
		return "ws://unix" + busPath, func(ctx context.Context, _, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, "unix", path)
		}, nil
	case strings.HasPrefix(endpoint, "vsock://"), strings.HasPrefix(endpoint, "vsock:"):
		target := strings.TrimPrefix(strings.TrimPrefix(endpoint, "vsock://"), "vsock:")
		cid, port, err := parseVsock(target)
		if err != nil {
			return "", nil, err
		}
		return "ws://vsock" + busPath, func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialVsock(ctx, cid, port)
		}, nil
	default:
		return "", nil, fmt.Errorf("unsupported bus endpoint: %s", endpoint)
	}
}

func parseVsock(target string) (uint32, uint32, error) {
	parts := strings.Split(target, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid vsock endpoint: %s", target)
	}
	cid, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock cid: %w", err)
	}
	port, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock port: %w", err)
	}
	return uint32(cid), uint32(port), nil
}

func dialVsock(ctx context.Context, cid, port uint32) (net.Conn, error) {
	type dialResult struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := vsock.Dial(cid, port, nil)
		resultCh <- dialResult{conn: conn, err: err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if res := <-resultCh; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-resultCh:
		return res.conn, res.err
	}
}
