package x402

import "fmt"

// Protocol-level error reasons shared across schemes. Scheme packages define
// additional reasons in their own error files; all reasons flow to callers
// verbatim, never coerced into a generic failure.
const (
	ErrUnsupportedScheme            = "unsupported_scheme"
	ErrAcceptedRequirementsMismatch = "accepted_requirements_mismatch"
	ErrComplianceFailed             = "compliance_failed"
	ErrSettlementInFlight           = "settlement_in_flight"
	ErrRPC                          = "rpc_error"
)

// VerifyError is a typed verification failure carrying the specific reason.
type VerifyError struct {
	InvalidReason  string
	Payer          string
	InvalidMessage string
}

func (e *VerifyError) Error() string {
	if e.InvalidMessage == "" {
		return e.InvalidReason
	}
	return fmt.Sprintf("%s: %s", e.InvalidReason, e.InvalidMessage)
}

// NewVerifyError creates a typed verification failure.
func NewVerifyError(reason, payer, message string) *VerifyError {
	return &VerifyError{
		InvalidReason:  reason,
		Payer:          payer,
		InvalidMessage: message,
	}
}

// SettleError is a typed settlement failure. Transaction is set when a
// transaction was submitted before the failure surfaced (e.g. a revert),
// so callers are never left with an undiscoverable on-chain state.
type SettleError struct {
	ErrorReason  string
	Payer        string
	Network      Network
	Transaction  string
	ErrorMessage string
}

func (e *SettleError) Error() string {
	if e.ErrorMessage == "" {
		return e.ErrorReason
	}
	return fmt.Sprintf("%s: %s", e.ErrorReason, e.ErrorMessage)
}

// NewSettleError creates a typed settlement failure.
func NewSettleError(reason, payer string, network Network, transaction, message string) *SettleError {
	return &SettleError{
		ErrorReason:  reason,
		Payer:        payer,
		Network:      network,
		Transaction:  transaction,
		ErrorMessage: message,
	}
}
