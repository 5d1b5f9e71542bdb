package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8645", cfg.HTTPAddr)
	require.Equal(t, "http://localhost:3000", cfg.Origin)
	require.Equal(t, 30*time.Minute, cfg.Actions.ResolutionTTL.Std())
	require.Equal(t, 5, cfg.Actions.BreakerThreshold)
	require.Equal(t, 30*time.Second, cfg.Actions.BreakerCooldown.Std())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "walletbridge.yaml", `
httpAddr: ":9000"
origin: https://dapp.example/
account:
  address: "0x00AB"
  network: mainnet-alpha
actions:
  rateLimit: 5
  resolutionTTL: 10m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddr)
	require.Equal(t, "https://dapp.example", cfg.Origin)
	require.Equal(t, "0xab", cfg.Account.Address)
	require.Equal(t, 5.0, cfg.Actions.RateLimit)
	require.Equal(t, 10*time.Minute, cfg.Actions.ResolutionTTL.Std())
	require.Equal(t, 4, cfg.Actions.Workers)
}

func TestLoadHuJSONWithComments(t *testing.T) {
	path := writeFile(t, "walletbridge.hujson", `{
	// page origin served by the bus
	"origin": "https://dapp.example",
	"uiOrigins": ["https://wallet.example"],
	"log": {"level": "debug", "format": "json"},
}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "https://dapp.example", cfg.Origin)
	require.Equal(t, []string{"https://wallet.example"}, cfg.UIOrigins)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "httpAdr: \":1\"\n"))
	require.Error(t, err)
	_, err = Load(writeFile(t, "bad.json", `{"bogus": true}`))
	require.Error(t, err)
	_, err = Load(writeFile(t, "cfg.toml", ""))
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "walletbridge.yml", "httpAddr: \":9000\"\n")
	t.Setenv("WALLETBRIDGE_HTTP_ADDR", ":9100")
	t.Setenv("WALLETBRIDGE_UI_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("WALLETBRIDGE_ACTIONS_RESOLUTION_TTL", "90s")
	t.Setenv("WALLETBRIDGE_ACCOUNT_ADDRESS", "0x5A")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9100", cfg.HTTPAddr)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.UIOrigins)
	require.Equal(t, 90*time.Second, cfg.Actions.ResolutionTTL.Std())
	require.Equal(t, "0x5a", cfg.Account.Address)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Origin = "*"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Account.Address = "not-hex"
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.OTel.SampleRatio = 2
	require.Error(t, cfg.Validate())
}

func TestNewLogger(t *testing.T) {
	require.NotNil(t, Log{Level: "warn", Format: "json"}.NewLogger())
	require.NotNil(t, Log{Level: "bogus"}.NewLogger())
}
