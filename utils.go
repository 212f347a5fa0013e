package x402

import "fmt"

// MalformedReason is returned when a request body is structurally valid JSON
// but semantically unusable.
const MalformedReason = "malformed_payment_payload"

// ValidatePaymentPayload performs basic structural validation on a payment
// payload before scheme dispatch.
func ValidatePaymentPayload(p PaymentPayload) *VerifyError {
	if p.X402Version < 1 || p.X402Version > 2 {
		return NewVerifyError(MalformedReason, "", fmt.Sprintf("unsupported x402 version: %d", p.X402Version))
	}
	if p.SchemeID() == "" {
		return NewVerifyError(MalformedReason, "", "payment scheme is required")
	}
	if p.NetworkID() == "" {
		return NewVerifyError(MalformedReason, "", "payment network is required")
	}
	if p.Payload == nil {
		return NewVerifyError(MalformedReason, "", "payment payload is required")
	}
	return nil
}

// ValidatePaymentRequirements performs basic structural validation on
// payment requirements.
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if r.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("payment asset is required")
	}
	if r.RequiredAmount() == "" {
		return fmt.Errorf("payment amount is required")
	}
	if r.PayTo == "" {
		return fmt.Errorf("payment recipient is required")
	}
	return nil
}
