package evm

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseTokenAmount converts a human-readable decimal amount (e.g. "1.50")
// into the token's smallest unit as a big integer. Fractional remainders
// below the token's precision are rejected rather than rounded, since a
// payment amount must be exact.
func ParseTokenAmount(value string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative: %s", value)
	}

	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", value, decimals)
	}

	return shifted.BigInt(), nil
}

// FormatTokenAmount renders a smallest-unit amount as a human-readable
// decimal string.
func FormatTokenAmount(amount *big.Int, decimals int) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
