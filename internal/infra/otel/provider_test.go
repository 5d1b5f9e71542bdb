package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "walletbridge"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, shutdown(ctx))
}

func TestSetupNoopWhenDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "walletbridge", Endpoint: "http://localhost:4318", Disabled: true})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupCreatesProvider(t *testing.T) {
	// 不可路由地址，不会真正导出。
	shutdown, err := Setup(context.Background(), Config{ServiceName: "walletbridge", Endpoint: "http://192.0.2.1:4318", SampleRatio: 0.5})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("WALLETBRIDGE_OTEL_ENDPOINT", "http://collector:4318")
	t.Setenv("WALLETBRIDGE_OTEL_ENABLED", "FALSE")
	t.Setenv("WALLETBRIDGE_OTEL_SAMPLE_RATIO", "0.25")

	cfg := ConfigFromEnv("walletbridged")
	require.Equal(t, "walletbridged", cfg.ServiceName)
	require.Equal(t, "http://collector:4318", cfg.Endpoint)
	require.True(t, cfg.Disabled)
	require.Equal(t, 0.25, cfg.SampleRatio)
}
