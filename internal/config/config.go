// Package config 加载 walletbridged 配置：默认值 → 配置文件（YAML 或 HuJSON）→ 环境变量。
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/aegis-sign/walletbridge/pkg/validator"
)

// Duration 支持 "5s" 形式的文本编码，可用于 YAML、JSON 与环境变量。
type Duration time.Duration

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText 实现 encoding.TextMarshaler。
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std 返回 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config 是 walletbridged 的完整配置。
type Config struct {
	HTTPAddr string `yaml:"httpAddr" json:"httpAddr" env:"WALLETBRIDGE_HTTP_ADDR"`
	GRPCAddr string `yaml:"grpcAddr" json:"grpcAddr" env:"WALLETBRIDGE_GRPC_ADDR"`
	// Origin 是钱包后台服务的页面 origin，总线只接受该 origin 的对端。
	Origin      string   `yaml:"origin" json:"origin" env:"WALLETBRIDGE_ORIGIN"`
	UIOrigins   []string `yaml:"uiOrigins" json:"uiOrigins" env:"WALLETBRIDGE_UI_ORIGINS" envSeparator:","`
	ExtensionID string   `yaml:"extensionId" json:"extensionId" env:"WALLETBRIDGE_EXTENSION_ID"`
	RedisAddr   string   `yaml:"redisAddr" json:"redisAddr" env:"WALLETBRIDGE_REDIS_ADDR"`

	Account Account `yaml:"account" json:"account"`
	Actions Actions `yaml:"actions" json:"actions"`
	Log     Log     `yaml:"log" json:"log"`
	OTel    OTel    `yaml:"otel" json:"otel"`
}

// Account 是启动时选中的钱包账户。
type Account struct {
	Address string `yaml:"address" json:"address" env:"WALLETBRIDGE_ACCOUNT_ADDRESS"`
	Network string `yaml:"network" json:"network" env:"WALLETBRIDGE_ACCOUNT_NETWORK"`
}

// Actions 控制待审批队列。
type Actions struct {
	MaxPending    int      `yaml:"maxPending" json:"maxPending" env:"WALLETBRIDGE_ACTIONS_MAX_PENDING"`
	Workers       int      `yaml:"workers" json:"workers" env:"WALLETBRIDGE_ACTIONS_WORKERS"`
	RateLimit     float64  `yaml:"rateLimit" json:"rateLimit" env:"WALLETBRIDGE_ACTIONS_RATE_LIMIT"`
	RateBurst     int      `yaml:"rateBurst" json:"rateBurst" env:"WALLETBRIDGE_ACTIONS_RATE_BURST"`
	ResolutionTTL Duration `yaml:"resolutionTTL" json:"resolutionTTL" env:"WALLETBRIDGE_ACTIONS_RESOLUTION_TTL"`
	// BreakerThreshold 与 BreakerCooldown 控制执行器熔断。
	BreakerThreshold int      `yaml:"breakerThreshold" json:"breakerThreshold" env:"WALLETBRIDGE_ACTIONS_BREAKER_THRESHOLD"`
	BreakerCooldown  Duration `yaml:"breakerCooldown" json:"breakerCooldown" env:"WALLETBRIDGE_ACTIONS_BREAKER_COOLDOWN"`
}

// Log 控制日志输出。
type Log struct {
	Level  string `yaml:"level" json:"level" env:"WALLETBRIDGE_LOG_LEVEL"`
	Format string `yaml:"format" json:"format" env:"WALLETBRIDGE_LOG_FORMAT"`
}

// OTel 控制 tracing 导出。
type OTel struct {
	Endpoint    string  `yaml:"endpoint" json:"endpoint" env:"WALLETBRIDGE_OTEL_ENDPOINT"`
	SampleRatio float64 `yaml:"sampleRatio" json:"sampleRatio" env:"WALLETBRIDGE_OTEL_SAMPLE_RATIO"`
}

// Default 返回本地开发默认值。
func Default() Config {
	return Config{
		HTTPAddr: ":8645",
		GRPCAddr: ":9645",
		Origin:   "http://localhost:3000",
		Account:  Account{Network: "goerli-alpha"},
		Actions: Actions{
			MaxPending:       256,
			Workers:          4,
			RateBurst:        1,
			ResolutionTTL:    Duration(30 * time.Minute),
			BreakerThreshold: 5,
			BreakerCooldown:  Duration(30 * time.Second),
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load 依次应用默认值、配置文件与环境变量；path 为空时跳过文件。
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeFile(path, raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", filepath.Base(path), err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, raw []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".json", ".hujson", ".jsonc":
		std, err := hujson.Standardize(raw)
		if err != nil {
			return err
		}
		dec := json.NewDecoder(bytes.NewReader(std))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	default:
		return fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
}

// Validate 校验跨字段约束并规范化账户地址。
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("httpAddr is required")
	}
	origin := strings.TrimSuffix(strings.TrimSpace(c.Origin), "/")
	if origin == "" || origin == "*" {
		return fmt.Errorf("invalid page origin %q", c.Origin)
	}
	c.Origin = origin
	if c.Account.Address != "" {
		addr, err := validator.NormalizeAddress(c.Account.Address)
		if err != nil {
			return fmt.Errorf("invalid account address: %w", err)
		}
		c.Account.Address = addr
	}
	if c.Actions.RateLimit < 0 {
		return errors.New("actions.rateLimit must not be negative")
	}
	if c.OTel.SampleRatio < 0 || c.OTel.SampleRatio > 1 {
		return errors.New("otel.sampleRatio must be within [0,1]")
	}
	return nil
}

// NewLogger 按配置构造 slog Logger。
func (l Log) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
