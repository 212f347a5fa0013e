package facilitator

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/bubbletez/x402-facilitator/mechanisms/evm"
)

// Eip2612ExtensionKey is the payload extensions key carrying a signed
// EIP-2612 permit that sponsors the payer's Permit2 allowance. When
// present and valid, settlement uses settleWithPermit so the allowance is
// granted and the transfer executes in a single transaction.
const Eip2612ExtensionKey = "eip2612GasSponsoring"

// Eip2612Permit is the decoded gas sponsoring extension.
type Eip2612Permit struct {
	From      string `json:"from"`
	Asset     string `json:"asset"`
	Spender   string `json:"spender"`
	Amount    string `json:"amount"`
	Deadline  string `json:"deadline"`
	Signature string `json:"signature"`
}

// extractEip2612Permit pulls the sponsoring extension out of a payload's
// extensions map. Returns nil when the extension is absent.
func extractEip2612Permit(extensions map[string]interface{}) (*Eip2612Permit, error) {
	if extensions == nil {
		return nil, nil
	}
	raw, ok := extensions[Eip2612ExtensionKey]
	if !ok {
		return nil, nil
	}
	data, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.New("extension is not an object")
	}

	permit := &Eip2612Permit{}
	fields := map[string]*string{
		"from":      &permit.From,
		"asset":     &permit.Asset,
		"spender":   &permit.Spender,
		"amount":    &permit.Amount,
		"deadline":  &permit.Deadline,
		"signature": &permit.Signature,
	}
	for name, dest := range fields {
		value, ok := data[name].(string)
		if !ok || value == "" {
			return nil, errors.New("missing or invalid field: " + name)
		}
		*dest = value
	}
	return permit, nil
}

// validateEip2612Permit checks the sponsoring permit against the payment it
// sponsors. Returns an empty string when valid, or a reason code.
func validateEip2612Permit(permit *Eip2612Permit, payer, tokenAddress string) string {
	if !strings.EqualFold(permit.From, payer) {
		return ErrEip2612FromMismatch
	}
	if !strings.EqualFold(permit.Asset, tokenAddress) {
		return ErrEip2612AssetMismatch
	}
	if !strings.EqualFold(permit.Spender, evm.PERMIT2Address) {
		return ErrEip2612SpenderMismatch
	}

	now := time.Now().Unix()
	deadline, ok := new(big.Int).SetString(permit.Deadline, 10)
	if !ok {
		return ErrEip2612InvalidFormat
	}
	// Same block propagation buffer as the Permit2 deadline check
	if deadline.Int64() < now+evm.Permit2DeadlineBuffer {
		return ErrEip2612DeadlineExpired
	}

	if _, _, _, err := splitEip2612Signature(permit.Signature); err != nil {
		return ErrEip2612InvalidFormat
	}
	return ""
}

// splitEip2612Signature splits a 65-byte hex signature into v, r, s.
func splitEip2612Signature(signature string) (uint8, [32]byte, [32]byte, error) {
	sigBytes, err := evm.HexToBytes(signature)
	if err != nil {
		return 0, [32]byte{}, [32]byte{}, err
	}
	if len(sigBytes) != 65 {
		return 0, [32]byte{}, [32]byte{}, errors.New("signature must be 65 bytes")
	}

	var r, s [32]byte
	copy(r[:], sigBytes[0:32])
	copy(s[:], sigBytes[32:64])
	v := sigBytes[64]

	return v, r, s, nil
}
