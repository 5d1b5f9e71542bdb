// dapp-demo 模拟一个接入钱包的页面：连接、添加代币并签名短消息。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/aegis-sign/walletbridge/internal/bridge/envelope"
	"github.com/aegis-sign/walletbridge/internal/bridge/provider"
	"github.com/aegis-sign/walletbridge/internal/bridge/session"
	"github.com/aegis-sign/walletbridge/internal/bridge/transport"
	"github.com/aegis-sign/walletbridge/internal/infra/wsbus"
	"github.com/aegis-sign/walletbridge/pkg/validator"
)

func main() {
	token := flag.String("token", "", "ERC20 token address to add to the wallet")
	message := flag.String("message", "hello", "short string to sign")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *token, *message); err != nil {
		logger.Error("demo failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, token, message string) error {
	if !validator.IsShortString(message) {
		return errors.New("message must be a short string")
	}
	extensionID := os.Getenv("WALLETBRIDGE_EXTENSION_ID")
	if extensionID == "" {
		return errors.New("WALLETBRIDGE_EXTENSION_ID is required")
	}
	busCfg := wsbus.LoadClientConfigFromEnv()
	origin, err := url.Parse(busCfg.Origin)
	if err != nil || origin.Host == "" {
		return fmt.Errorf("invalid bus origin %q", busCfg.Origin)
	}

	bus, err := wsbus.Dial(ctx, busCfg, wsbus.WithClientLogger(logger))
	if err != nil {
		return err
	}
	defer bus.Close()
	tr, err := transport.New(bus, transport.Config{Origin: busCfg.Origin, ExtensionID: extensionID, Logger: logger})
	if err != nil {
		return err
	}
	defer tr.Close()
	p, err := provider.New(tr, provider.Config{Host: origin.Host, Logger: logger})
	if err != nil {
		return err
	}
	defer p.Close()

	_ = p.On(provider.EventAccountsChanged, provider.NewAccountsListener(func(accounts []string) {
		logger.Info("accounts changed", slog.Any("accounts", accounts))
	}))

	accounts, err := p.Enable(ctx)
	if err != nil {
		return fmt.Errorf("connect wallet: %w", err)
	}
	network := p.Network()
	logger.Info("wallet connected", slog.Any("accounts", accounts), slog.String("network", network.ID), slog.String("explorer", network.ExplorerURL))

	if token != "" {
		if err := p.Request(ctx, provider.WatchAsset{Type: provider.AssetERC20, Options: provider.AssetOptions{Address: token}}); err != nil {
			return fmt.Errorf("add token: %w", err)
		}
		logger.Info("token added", slog.String("address", token))
	}

	signer, ok := p.Signer()
	if !ok {
		return errors.New("starknet wallet not connected")
	}
	sig, err := signer.SignMessage(ctx, messageTypedData(message, network))
	if err != nil {
		return fmt.Errorf("sign message: %w", err)
	}
	logger.Info("message signed", slog.String("message", message), slog.Any("signature", sig))
	return nil
}

// messageTypedData 构造示例页面签名使用的结构化数据。
func messageTypedData(message string, network session.Network) envelope.TypedData {
	return envelope.TypedData{
		Domain: map[string]any{
			"name":    "Example DApp",
			"chainId": network.ChainID,
			"version": "0.0.1",
		},
		Types: map[string][]envelope.TypedDataField{
			"StarkNetDomain": {
				{Name: "name", Type: "felt"},
				{Name: "chainId", Type: "felt"},
				{Name: "version", Type: "felt"},
			},
			"Message": {{Name: "message", Type: "felt"}},
		},
		PrimaryType: "Message",
		Message:     map[string]any{"message": message},
	}
}
