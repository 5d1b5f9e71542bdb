package actions

import (
	"log/slog"
	"time"
)

// Config 控制 Dispatcher 行为。
type Config struct {
	MaxPending    int
	MaxQueue      int
	Workers       int
	RateLimit     float64
	RateBurst     int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	ResolutionTTL time.Duration
	// BreakerThreshold 是执行器连续失败多少个动作后暂停批准。
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// Account 是启动时选中的账户，可为空。
	Account Account
	Logger  *slog.Logger
	Metrics *Metrics
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 256
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 128
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 50 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Second
	}
	if cfg.ResolutionTTL <= 0 {
		cfg.ResolutionTTL = 30 * time.Minute
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
