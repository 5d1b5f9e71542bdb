package wsbus

import (
	"os"
	"strconv"
	"time"
)

// ClientConfig 控制总线客户端的拨号与重连。
type ClientConfig struct {
	// Endpoint 支持 ws://、wss://、unix:///path 与 vsock://cid:port。
	Endpoint     string
	Origin       string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	Backoff      BackoffConfig
}

// BackoffConfig 决定断线重连指数退避参数。
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// DefaultClientConfig 返回本地开发可用的默认值。
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Endpoint:     "ws://127.0.0.1:8645/bus",
		Origin:       "http://localhost:3000",
		DialTimeout:  2 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   256,
		Backoff: BackoffConfig{
			Initial: 100 * time.Millisecond,
			Max:     5 * time.Second,
			Jitter:  0.2,
		},
	}
}

// LoadClientConfigFromEnv 解析 WALLETBRIDGE_BUS_* 环境变量。
func LoadClientConfigFromEnv() ClientConfig {
	cfg := DefaultClientConfig()
	if v := os.Getenv("WALLETBRIDGE_BUS_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("WALLETBRIDGE_BUS_ORIGIN"); v != "" {
		cfg.Origin = v
	}
	if d := readDuration("WALLETBRIDGE_BUS_DIAL_TIMEOUT"); d > 0 {
		cfg.DialTimeout = d
	}
	if d := readDuration("WALLETBRIDGE_BUS_WRITE_TIMEOUT"); d > 0 {
		cfg.WriteTimeout = d
	}
	if v := readInt("WALLETBRIDGE_BUS_SEND_BUFFER"); v > 0 {
		cfg.SendBuffer = v
	}
	if d := readDuration("WALLETBRIDGE_BUS_RETRY_INITIAL"); d > 0 {
		cfg.Backoff.Initial = d
	}
	if d := readDuration("WALLETBRIDGE_BUS_RETRY_MAX"); d > 0 {
		cfg.Backoff.Max = d
	}
	if j := readFloat("WALLETBRIDGE_BUS_RETRY_JITTER"); j >= 0 {
		cfg.Backoff.Jitter = j
	}
	if cfg.Backoff.Max < cfg.Backoff.Initial {
		cfg.Backoff.Max = cfg.Backoff.Initial
	}
	return cfg
}

func (c ClientConfig) normalize() ClientConfig {
	def := DefaultClientConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = def.Backoff.Initial
	}
	if c.Backoff.Max < c.Backoff.Initial {
		c.Backoff.Max = c.Backoff.Initial
	}
	return c
}

func readInt(key string) int {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return v
}

func readDuration(key string) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func readFloat(key string) float64 {
	value := os.Getenv(key)
	if value == "" {
		return -1
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return -1
	}
	return v
}
