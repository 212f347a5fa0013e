package x402

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func validPayload(nonce string) PaymentPayload {
	payload := permit2Payload("0x7777777777777777777777777777777777777777", nonce)
	payload.Accepted = baseRequirements()
	return payload
}

func TestLocalFacilitatorVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches to registered scheme", func(t *testing.T) {
		fake := &fakeFacilitator{
			scheme:     "exact",
			verifyResp: &VerifyResponse{IsValid: true, Payer: "0x7777777777777777777777777777777777777777"},
		}
		local := NewLocalFacilitator(NewRegistry().Register("eip155:8453", fake), nil)

		resp := local.Verify(ctx, validPayload("1"), baseRequirements())
		if !resp.IsValid {
			t.Fatalf("expected valid, got %+v", resp)
		}
		if fake.verifyCalls != 1 {
			t.Errorf("expected 1 verify call, got %d", fake.verifyCalls)
		}
	})

	t.Run("malformed payload short-circuits before dispatch", func(t *testing.T) {
		fake := &fakeFacilitator{scheme: "exact"}
		local := NewLocalFacilitator(NewRegistry().Register("eip155:8453", fake), nil)

		resp := local.Verify(ctx, PaymentPayload{X402Version: 3}, baseRequirements())
		if resp.IsValid || resp.InvalidReason != MalformedReason {
			t.Errorf("expected %s, got %+v", MalformedReason, resp)
		}
		if fake.verifyCalls != 0 {
			t.Error("malformed payload must not reach the scheme")
		}
	})

	t.Run("unregistered scheme", func(t *testing.T) {
		local := NewLocalFacilitator(NewRegistry(), nil)
		resp := local.Verify(ctx, validPayload("1"), baseRequirements())
		if resp.IsValid || resp.InvalidReason != ErrUnsupportedScheme {
			t.Errorf("expected %s, got %+v", ErrUnsupportedScheme, resp)
		}
	})

	t.Run("typed errors keep their reason", func(t *testing.T) {
		fake := &fakeFacilitator{
			scheme:    "exact",
			verifyErr: NewVerifyError("invalid_signature", "0xpayer", "recovered address mismatch"),
		}
		local := NewLocalFacilitator(NewRegistry().Register("eip155:8453", fake), nil)

		resp := local.Verify(ctx, validPayload("1"), baseRequirements())
		if resp.InvalidReason != "invalid_signature" || resp.Payer != "0xpayer" {
			t.Errorf("expected typed reason to flow through, got %+v", resp)
		}
	})

	t.Run("untyped errors map to rpc_error", func(t *testing.T) {
		fake := &fakeFacilitator{scheme: "exact", verifyErr: errors.New("dial tcp: refused")}
		local := NewLocalFacilitator(NewRegistry().Register("eip155:8453", fake), nil)

		resp := local.Verify(ctx, validPayload("1"), baseRequirements())
		if resp.InvalidReason != ErrRPC {
			t.Errorf("expected %s, got %+v", ErrRPC, resp)
		}
	})
}

func TestLocalFacilitatorSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("successful settlement is cached for retries", func(t *testing.T) {
		fake := &fakeFacilitator{
			scheme: "exact",
			settleResp: &SettleResponse{
				Success:     true,
				Transaction: "0xdeadbeef",
				Network:     "eip155:8453",
			},
		}
		local := NewLocalFacilitator(NewRegistry().Register("eip155:8453", fake), nil)

		first := local.Settle(ctx, validPayload("10"), baseRequirements())
		if !first.Success {
			t.Fatalf("expected success, got %+v", first)
		}

		second := local.Settle(ctx, validPayload("10"), baseRequirements())
		if !second.Success || second.Transaction != "0xdeadbeef" {
			t.Fatalf("expected cached result, got %+v", second)
		}
		if fake.settleCalls != 1 {
			t.Errorf("retry must not resubmit, got %d settle calls", fake.settleCalls)
		}
	})

	t.Run("failed settlement releases the key for retry", func(t *testing.T) {
		fake := &fakeFacilitator{
			scheme:     "exact",
			settleResp: &SettleResponse{Success: false, ErrorReason: "insufficient_balance", Network: "eip155:8453"},
		}
		local := NewLocalFacilitator(NewRegistry().Register("eip155:8453", fake), nil)

		local.Settle(ctx, validPayload("11"), baseRequirements())
		local.Settle(ctx, validPayload("11"), baseRequirements())
		if fake.settleCalls != 2 {
			t.Errorf("expected retry after failure, got %d settle calls", fake.settleCalls)
		}
	})

	t.Run("concurrent duplicate fails fast", func(t *testing.T) {
		entered := make(chan struct{})
		release := make(chan struct{})
		blocking := &blockingFacilitator{entered: entered, release: release}
		local := NewLocalFacilitator(NewRegistry().Register("eip155:8453", blocking), nil)

		var wg sync.WaitGroup
		var firstResp *SettleResponse
		wg.Add(1)
		go func() {
			defer wg.Done()
			firstResp = local.Settle(ctx, validPayload("12"), baseRequirements())
		}()

		<-entered
		duplicate := local.Settle(ctx, validPayload("12"), baseRequirements())
		if duplicate.Success || duplicate.ErrorReason != ErrSettlementInFlight {
			t.Errorf("expected %s, got %+v", ErrSettlementInFlight, duplicate)
		}

		close(release)
		wg.Wait()
		if !firstResp.Success {
			t.Errorf("first settlement should succeed, got %+v", firstResp)
		}
	})

	t.Run("submitted transaction with unknown outcome is never resubmitted", func(t *testing.T) {
		fake := &fakeFacilitator{
			scheme:    "exact",
			settleErr: NewSettleError(ErrRPC, "0xpayer", "eip155:8453", "0xpending", "receipt timeout"),
		}
		local := NewLocalFacilitator(NewRegistry().Register("eip155:8453", fake), nil)

		resp := local.Settle(ctx, validPayload("13"), baseRequirements())
		if resp.Success || resp.ErrorReason != ErrRPC || resp.Transaction != "0xpending" {
			t.Errorf("expected rpc_error with pending tx, got %+v", resp)
		}

		// The nonce may already be spent on-chain, so a retry gets the
		// hash of the pending transaction instead of a second submission.
		retry := local.Settle(ctx, validPayload("13"), baseRequirements())
		if retry.Transaction != "0xpending" || retry.ErrorReason != ErrRPC {
			t.Errorf("expected cached pending result, got %+v", retry)
		}
		if fake.settleCalls != 1 {
			t.Errorf("retry must not resubmit an unconfirmed transaction, got %d settle calls", fake.settleCalls)
		}
	})

	t.Run("unsupported scheme settles nothing", func(t *testing.T) {
		local := NewLocalFacilitator(NewRegistry(), nil)
		resp := local.Settle(ctx, validPayload("14"), baseRequirements())
		if resp.Success || resp.ErrorReason != ErrUnsupportedScheme {
			t.Errorf("expected %s, got %+v", ErrUnsupportedScheme, resp)
		}
	})
}

// blockingFacilitator parks in Settle until released, to exercise the
// in-flight duplicate path.
type blockingFacilitator struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingFacilitator) Scheme() string { return "exact" }

func (b *blockingFacilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error) {
	return &VerifyResponse{IsValid: true}, nil
}

func (b *blockingFacilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error) {
	close(b.entered)
	<-b.release
	return &SettleResponse{Success: true, Transaction: "0xblocked", Network: "eip155:8453"}, nil
}
