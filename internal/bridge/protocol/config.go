package protocol

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultAckTimeout       = time.Second
	DefaultApprovalTimeout  = 11 * time.Minute
	DefaultRejectionTimeout = 10 * time.Minute
	DefaultConnectTimeout   = 11 * time.Minute

	tracerName = "github.com/aegis-sign/walletbridge/internal/bridge/protocol"
)

// Clock 用于可测试的时间来源。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewRealClock 返回默认时钟实现。
func NewRealClock() Clock { return realClock{} }

// Config 控制 Engine 行为。
type Config struct {
	AckTimeout       time.Duration
	ApprovalTimeout  time.Duration
	RejectionTimeout time.Duration
	ConnectTimeout   time.Duration
	Logger           *slog.Logger
	Metrics          *Metrics
	Clock            Clock
	Tracer           trace.Tracer
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = DefaultApprovalTimeout
	}
	if cfg.RejectionTimeout <= 0 {
		cfg.RejectionTimeout = DefaultRejectionTimeout
	}
	// 拒绝等待必须先于批准等待到期，清理消息才能在请求悬空前发出。
	if cfg.RejectionTimeout >= cfg.ApprovalTimeout {
		margin := cfg.ApprovalTimeout / 11
		if margin <= 0 {
			margin = 1
		}
		cfg.RejectionTimeout = cfg.ApprovalTimeout - margin
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ConnectTimeout < cfg.AckTimeout {
		cfg.ConnectTimeout = cfg.AckTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return cfg
}
