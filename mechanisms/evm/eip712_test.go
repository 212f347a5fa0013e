package evm

import (
	"bytes"
	"math/big"
	"testing"
)

func testAuthorization() Permit2Authorization {
	return Permit2Authorization{
		From: "0x7777777777777777777777777777777777777777",
		Permitted: Permit2TokenPermissions{
			Token:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Amount: "10000",
		},
		Spender:  X402ExactPermit2ProxyAddress,
		Nonce:    "123456789",
		Deadline: "1893456000",
		Witness: Permit2Witness{
			To:         "0x1111111111111111111111111111111111111111",
			ValidAfter: "0",
			Extra:      "0x",
		},
	}
}

func TestHashPermit2Authorization(t *testing.T) {
	chainID := big.NewInt(8453)

	base, err := HashPermit2Authorization(testAuthorization(), chainID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(base) != 32 {
		t.Fatalf("expected 32-byte digest, got %d", len(base))
	}

	t.Run("deterministic", func(t *testing.T) {
		again, err := HashPermit2Authorization(testAuthorization(), chainID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(base, again) {
			t.Error("expected identical input to hash identically")
		}
	})

	t.Run("case-insensitive addresses", func(t *testing.T) {
		auth := testAuthorization()
		auth.Permitted.Token = "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"
		digest, err := HashPermit2Authorization(auth, chainID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !bytes.Equal(base, digest) {
			t.Error("address casing must not change the digest")
		}
	})

	t.Run("every signed field changes the digest", func(t *testing.T) {
		mutations := map[string]func(*Permit2Authorization){
			"amount":     func(a *Permit2Authorization) { a.Permitted.Amount = "10001" },
			"token":      func(a *Permit2Authorization) { a.Permitted.Token = "0x036CbD53842c5426634e7929541eC2318f3dCF7e" },
			"spender":    func(a *Permit2Authorization) { a.Spender = "0x2222222222222222222222222222222222222222" },
			"nonce":      func(a *Permit2Authorization) { a.Nonce = "987654321" },
			"deadline":   func(a *Permit2Authorization) { a.Deadline = "1893456001" },
			"witness.to": func(a *Permit2Authorization) { a.Witness.To = "0x3333333333333333333333333333333333333333" },
			"validAfter": func(a *Permit2Authorization) { a.Witness.ValidAfter = "1" },
			"extra":      func(a *Permit2Authorization) { a.Witness.Extra = "0x01" },
		}

		for name, mutate := range mutations {
			auth := testAuthorization()
			mutate(&auth)
			digest, err := HashPermit2Authorization(auth, chainID)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", name, err)
			}
			if bytes.Equal(base, digest) {
				t.Errorf("mutating %s did not change the digest", name)
			}
		}
	})

	t.Run("chain id is part of the domain", func(t *testing.T) {
		digest, err := HashPermit2Authorization(testAuthorization(), big.NewInt(84532))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if bytes.Equal(base, digest) {
			t.Error("different chain id must produce a different digest")
		}
	})

	t.Run("malformed numeric fields are rejected", func(t *testing.T) {
		auth := testAuthorization()
		auth.Nonce = "not-a-number"
		if _, err := HashPermit2Authorization(auth, chainID); err == nil {
			t.Error("expected error for non-numeric nonce")
		}

		auth = testAuthorization()
		auth.Witness.Extra = "0xzz"
		if _, err := HashPermit2Authorization(auth, chainID); err == nil {
			t.Error("expected error for malformed extra bytes")
		}
	})
}
