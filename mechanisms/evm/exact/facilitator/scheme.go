// Package facilitator implements the facilitator side of the "exact"
// payment scheme over Permit2 witness transfers. Funds move through the
// x402ExactPermit2Proxy contract, whose witness binds the destination and
// lower time bound into the payer's signature.
package facilitator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	x402 "github.com/bubbletez/x402-facilitator"
	"github.com/bubbletez/x402-facilitator/compliance"
	"github.com/bubbletez/x402-facilitator/mechanisms/evm"
)

// ExactPermit2Facilitator verifies and settles exact Permit2-witness
// payments for one chain. It is safe for concurrent use.
type ExactPermit2Facilitator struct {
	signer          evm.FacilitatorEvmSigner
	gate            *compliance.Gate
	proxyAddress    string
	proxyCodehashes map[string]struct{}
	logger          *zap.Logger
}

// Option configures an ExactPermit2Facilitator.
type Option func(*ExactPermit2Facilitator)

// WithComplianceGate screens payer and payee during verification and again
// before settlement is committed.
func WithComplianceGate(gate *compliance.Gate) Option {
	return func(f *ExactPermit2Facilitator) {
		f.gate = gate
	}
}

// WithProxyAddress overrides the default proxy deployment for chains where
// the canonical address is not available.
func WithProxyAddress(address string) Option {
	return func(f *ExactPermit2Facilitator) {
		f.proxyAddress = address
	}
}

// WithProxyCodehashAllowlist pins the proxy's deployed bytecode hash.
// When set, verification fails if the code at the proxy address hashes to
// anything else.
func WithProxyCodehashAllowlist(codehashes []string) Option {
	return func(f *ExactPermit2Facilitator) {
		f.proxyCodehashes = make(map[string]struct{}, len(codehashes))
		for _, h := range codehashes {
			f.proxyCodehashes[strings.ToLower(h)] = struct{}{}
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *ExactPermit2Facilitator) {
		f.logger = logger
	}
}

// NewExactPermit2Facilitator creates a scheme facilitator over a chain signer.
func NewExactPermit2Facilitator(signer evm.FacilitatorEvmSigner, opts ...Option) *ExactPermit2Facilitator {
	f := &ExactPermit2Facilitator{
		signer:       signer,
		gate:         compliance.Disabled(),
		proxyAddress: evm.X402ExactPermit2ProxyAddress,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Scheme returns the scheme identifier.
func (f *ExactPermit2Facilitator) Scheme() string {
	return evm.SchemeExact
}

// Verify runs the ordered verification checks without settling.
func (f *ExactPermit2Facilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	return f.verifyPermit2(ctx, payload, requirements)
}

// Settle re-verifies and submits the settlement transaction on-chain.
func (f *ExactPermit2Facilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	return f.settlePermit2(ctx, payload, requirements)
}
