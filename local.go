package x402

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultSettlementCacheTTL bounds how long terminal settlement results are
// served to retrying clients.
const DefaultSettlementCacheTTL = 10 * time.Minute

// LocalFacilitator dispatches verify and settle requests to registered
// scheme facilitators and enforces settlement idempotency on top of them.
// Verification failures are folded into responses with a specific reason
// code; the error return is reserved for infrastructure faults.
type LocalFacilitator struct {
	registry *Registry
	cache    *SettlementCache
	logger   *zap.Logger
}

// NewLocalFacilitator creates a facilitator over a populated registry.
func NewLocalFacilitator(registry *Registry, logger *zap.Logger) *LocalFacilitator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalFacilitator{
		registry: registry,
		cache:    NewSettlementCache(DefaultSettlementCacheTTL),
		logger:   logger,
	}
}

// GetSupported returns the payment kinds this facilitator can process.
func (f *LocalFacilitator) GetSupported() SupportedResponse {
	return f.registry.GetSupported()
}

// Verify runs the registered scheme's checks without touching the chain
// state. The returned response always carries either IsValid=true with the
// recovered payer, or a specific invalidReason.
func (f *LocalFacilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) *VerifyResponse {
	if err := ValidatePaymentPayload(payload); err != nil {
		return &VerifyResponse{IsValid: false, InvalidReason: err.InvalidReason}
	}

	facilitator, ok := f.registry.Lookup(payload.X402Version, payload.NetworkID(), payload.SchemeID())
	if !ok {
		f.logger.Debug("no facilitator registered",
			zap.String("scheme", payload.SchemeID()),
			zap.String("network", string(payload.NetworkID())),
			zap.Int("x402Version", payload.X402Version))
		return &VerifyResponse{IsValid: false, InvalidReason: ErrUnsupportedScheme}
	}

	response, err := facilitator.Verify(ctx, payload, requirements)
	if err != nil {
		return verifyErrorResponse(err)
	}
	return response
}

// Settle re-verifies and submits the payment on-chain. Each authorization
// nonce is settled at most once concurrently: a duplicate request while the
// first attempt is pending fails fast with settlement_in_flight, and a
// retry after a successful settlement is served the cached result.
func (f *LocalFacilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) *SettleResponse {
	network := payload.NetworkID()

	if err := ValidatePaymentPayload(payload); err != nil {
		return &SettleResponse{Success: false, ErrorReason: err.InvalidReason, Network: network}
	}

	facilitator, ok := f.registry.Lookup(payload.X402Version, network, payload.SchemeID())
	if !ok {
		return &SettleResponse{Success: false, ErrorReason: ErrUnsupportedScheme, Network: network}
	}

	key := SettlementKey(payload)
	status, cached := f.cache.CheckAndMark(key)
	switch status {
	case StatusCached:
		f.logger.Info("serving cached settlement result", zap.String("key", key))
		return cached
	case StatusInFlight:
		f.logger.Warn("duplicate settlement rejected while in flight", zap.String("key", key))
		return &SettleResponse{Success: false, ErrorReason: ErrSettlementInFlight, Network: network}
	}

	response, err := facilitator.Settle(ctx, payload, requirements)
	if err != nil {
		failure := settleErrorResponse(err, network)
		// A failure carrying a transaction hash was submitted on-chain and
		// its outcome may be unknown. Cache it so a retry is served the
		// hash instead of resubmitting a possibly spent nonce. Failures
		// that never reached the chain left the nonce unspent, so the key
		// may be retried.
		if failure.Transaction != "" {
			f.cache.Complete(key, failure)
		} else {
			f.cache.Release(key)
		}
		return failure
	}

	if response.Success || response.Transaction != "" {
		f.cache.Complete(key, response)
	} else {
		f.cache.Release(key)
	}
	return response
}

func verifyErrorResponse(err error) *VerifyResponse {
	var verifyErr *VerifyError
	if errors.As(err, &verifyErr) {
		return &VerifyResponse{
			IsValid:       false,
			InvalidReason: verifyErr.InvalidReason,
			Payer:         verifyErr.Payer,
		}
	}
	return &VerifyResponse{IsValid: false, InvalidReason: ErrRPC}
}

func settleErrorResponse(err error, network Network) *SettleResponse {
	var settleErr *SettleError
	if errors.As(err, &settleErr) {
		if settleErr.Network != "" {
			network = settleErr.Network
		}
		return &SettleResponse{
			Success:     false,
			ErrorReason: settleErr.ErrorReason,
			Payer:       settleErr.Payer,
			Transaction: settleErr.Transaction,
			Network:     network,
		}
	}
	var verifyErr *VerifyError
	if errors.As(err, &verifyErr) {
		return &SettleResponse{
			Success:     false,
			ErrorReason: verifyErr.InvalidReason,
			Payer:       verifyErr.Payer,
			Network:     network,
		}
	}
	return &SettleResponse{Success: false, ErrorReason: ErrRPC, Network: network}
}
