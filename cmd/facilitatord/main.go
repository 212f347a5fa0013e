// Command facilitatord runs the x402 payment facilitator: an HTTP service
// that verifies x402 payment payloads and settles them on-chain through
// the witness-binding Permit2 proxy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	x402 "github.com/bubbletez/x402-facilitator"
	"github.com/bubbletez/x402-facilitator/compliance"
	"github.com/bubbletez/x402-facilitator/config"
	x402http "github.com/bubbletez/x402-facilitator/http"
	"github.com/bubbletez/x402-facilitator/mechanisms/evm"
	"github.com/bubbletez/x402-facilitator/mechanisms/evm/exact/facilitator"
	"github.com/bubbletez/x402-facilitator/metrics"
	signerevm "github.com/bubbletez/x402-facilitator/signers/evm"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "facilitatord: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gate, err := compliance.NewGate(cfg.Compliance.GateConfig(), logger)
	if err != nil {
		return fmt.Errorf("compliance gate: %w", err)
	}
	if gate.Enabled() {
		logger.Info("compliance screening enabled",
			zap.String("provider", cfg.Compliance.Provider))
	}

	registry := x402.NewRegistry()
	var signers []*signerevm.FacilitatorSigner
	defer func() {
		for _, s := range signers {
			s.Close()
		}
	}()

	for _, chain := range cfg.Chains {
		network := x402.Network(chain.Network)

		var signerOpts []signerevm.SignerOption
		if chain.SettlementSigner != "" {
			signerOpts = append(signerOpts, signerevm.WithSettlementAddress(chain.SettlementSigner))
		}
		if chain.MaxGasPriceGwei != "" {
			maxGasPrice, err := evm.ParseTokenAmount(chain.MaxGasPriceGwei, 9)
			if err != nil {
				return fmt.Errorf("max gas price for %s: %w", chain.Network, err)
			}
			signerOpts = append(signerOpts, signerevm.WithMaxGasPrice(maxGasPrice))
		}
		if chain.RPCRateLimit > 0 {
			signerOpts = append(signerOpts, signerevm.WithRateLimit(chain.RPCRateLimit))
		}

		dialCtx := ctx
		if chain.RPCTimeoutMs > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, time.Duration(chain.RPCTimeoutMs)*time.Millisecond)
			defer cancel()
		}
		signer, err := signerevm.NewFacilitatorSigner(dialCtx, chain.RPCURL, chain.Signers, signerOpts...)
		if err != nil {
			return fmt.Errorf("signer for %s: %w", chain.Network, err)
		}
		signers = append(signers, signer)

		chainID, err := signer.GetChainID(ctx)
		if err != nil {
			return fmt.Errorf("chain id for %s: %w", chain.Network, err)
		}
		expected, err := evm.GetEvmChainId(chain.Network)
		if err != nil {
			return fmt.Errorf("network %s: %w", chain.Network, err)
		}
		if chainID.Cmp(expected) != 0 {
			return fmt.Errorf("rpc for %s reports chain id %s, expected %s",
				chain.Network, chainID, expected)
		}

		facilitatorOpts := []facilitator.Option{
			facilitator.WithComplianceGate(gate),
			facilitator.WithLogger(logger),
		}
		if chain.ProxyAddress != "" {
			facilitatorOpts = append(facilitatorOpts, facilitator.WithProxyAddress(chain.ProxyAddress))
		}
		if len(chain.ProxyCodehashAllowlist) > 0 {
			facilitatorOpts = append(facilitatorOpts, facilitator.WithProxyCodehashAllowlist(chain.ProxyCodehashAllowlist))
		}
		mech := facilitator.NewExactPermit2Facilitator(signer, facilitatorOpts...)

		registry.Register(network, mech).
			RegisterV1(network, mech).
			AdvertiseSigners(network, signer.GetAddresses())

		logger.Info("registered settlement chain",
			zap.String("network", chain.Network),
			zap.String("chainId", chainID.String()),
			zap.Strings("signers", signer.GetAddresses()))
	}

	local := x402.NewLocalFacilitator(registry, logger)
	server := x402http.NewServer(local,
		x402http.WithLogger(logger),
		x402http.WithMetricsRecorder(metrics.NewPrometheusRecorder()),
		x402http.WithCORSOrigins(cfg.Server.CORSOrigins),
	)

	logger.Info("facilitator listening", zap.String("addr", cfg.Server.Addr()))
	return server.Serve(ctx, cfg.Server.Addr())
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}
