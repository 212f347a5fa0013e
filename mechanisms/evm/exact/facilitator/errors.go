package facilitator

// Verification reason codes for the exact Permit2-witness scheme. Each
// check emits its own code; reasons are never collapsed into a generic
// failure.
const (
	ErrChainIDMismatch      = "chain_id_mismatch"
	ErrAssetMismatch        = "asset_mismatch"
	ErrInvalidPaymentAmount = "invalid_payment_amount"
	ErrRecipientMismatch    = "recipient_mismatch"
	ErrInvalidSpender       = "invalid_spender"
	ErrInvalidSignature     = "invalid_signature"

	ErrDeadlineExpired    = "permit2_deadline_expired"
	ErrNotYetValid        = "permit2_not_yet_valid"
	ErrDeadlineOutOfRange = "permit2_deadline_out_of_range"
	ErrAllowanceRequired  = "permit2_allowance_required"

	ErrInsufficientBalance = "insufficient_balance"
	ErrSimulationFailed    = "simulation_failed"

	// Settlement reason codes mapped from proxy and Permit2 reverts
	ErrPaymentTooEarly    = "payment_too_early"
	ErrInvalidDestination = "invalid_destination"
	ErrInvalidOwner       = "invalid_owner"
	ErrInvalidNonce       = "invalid_nonce"
	ErrTransactionFailed  = "transaction_failed"

	// EIP-2612 gas sponsoring extension codes
	ErrEip2612InvalidFormat   = "eip2612_invalid_extension_format"
	ErrEip2612FromMismatch    = "eip2612_from_mismatch"
	ErrEip2612AssetMismatch   = "eip2612_asset_mismatch"
	ErrEip2612SpenderMismatch = "eip2612_spender_not_permit2"
	ErrEip2612DeadlineExpired = "eip2612_deadline_expired"
)
