package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

// stubChainSigner answers GetCode and ReadContract from canned values; the
// remaining FacilitatorEvmSigner methods are unused by signature verification.
type stubChainSigner struct {
	code         []byte
	eip1271Reply interface{}
}

func (s *stubChainSigner) GetAddresses() []string { return nil }

func (s *stubChainSigner) ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error) {
	return s.eip1271Reply, nil
}

func (s *stubChainSigner) SimulateContract(ctx context.Context, from, address string, abi []byte, functionName string, args ...interface{}) error {
	return nil
}

func (s *stubChainSigner) WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error) {
	return "", nil
}

func (s *stubChainSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error) {
	return nil, nil
}

func (s *stubChainSigner) GetBalance(ctx context.Context, address, tokenAddress string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (s *stubChainSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(8453), nil
}

func (s *stubChainSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	return s.code, nil
}

func signDigest(t *testing.T, key *ecdsa.PrivateKey, hash [32]byte) []byte {
	t.Helper()
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27
	return sig
}

func TestVerifyUniversalSignature_EOA(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	var hash [32]byte
	copy(hash[:], crypto.Keccak256([]byte("permit digest")))

	signer := &stubChainSigner{}
	ctx := context.Background()

	t.Run("valid signature recovers signer", func(t *testing.T) {
		sig := signDigest(t, key, hash)
		valid, sigType, err := VerifyUniversalSignature(ctx, signer, address, hash, sig)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !valid || sigType != SignatureTypeEOA {
			t.Errorf("expected valid EOA signature, got valid=%v type=%s", valid, sigType)
		}
	})

	t.Run("unnormalized v is accepted", func(t *testing.T) {
		sig := signDigest(t, key, hash)
		sig[64] -= 27
		valid, _, err := VerifyUniversalSignature(ctx, signer, address, hash, sig)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !valid {
			t.Error("expected v in {0,1} to verify")
		}
	})

	t.Run("wrong signer rejected", func(t *testing.T) {
		sig := signDigest(t, key, hash)
		valid, _, err := VerifyUniversalSignature(ctx, signer,
			"0x1111111111111111111111111111111111111111", hash, sig)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if valid {
			t.Error("expected mismatched signer to be rejected")
		}
	})

	t.Run("tampered digest rejected", func(t *testing.T) {
		sig := signDigest(t, key, hash)
		var other [32]byte
		copy(other[:], crypto.Keccak256([]byte("different digest")))
		valid, _, err := VerifyUniversalSignature(ctx, signer, address, other, sig)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if valid {
			t.Error("expected signature over a different digest to be rejected")
		}
	})
}

func TestVerifyUniversalSignature_EIP1271(t *testing.T) {
	var hash [32]byte
	copy(hash[:], crypto.Keccak256([]byte("contract wallet digest")))
	signature := []byte{0x01, 0x02, 0x03}
	wallet := "0x4444444444444444444444444444444444444444"
	ctx := context.Background()

	t.Run("magic value accepts", func(t *testing.T) {
		signer := &stubChainSigner{
			code:         []byte{0x60, 0x80},
			eip1271Reply: [4]byte{0x16, 0x26, 0xba, 0x7e},
		}
		valid, sigType, err := VerifyUniversalSignature(ctx, signer, wallet, hash, signature)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !valid || sigType != SignatureTypeEIP1271 {
			t.Errorf("expected valid EIP-1271 signature, got valid=%v type=%s", valid, sigType)
		}
	})

	t.Run("non-magic value rejects", func(t *testing.T) {
		signer := &stubChainSigner{
			code:         []byte{0x60, 0x80},
			eip1271Reply: [4]byte{0xff, 0xff, 0xff, 0xff},
		}
		valid, _, err := VerifyUniversalSignature(ctx, signer, wallet, hash, signature)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if valid {
			t.Error("expected non-magic reply to be rejected")
		}
	})

	t.Run("no code means plain rejection", func(t *testing.T) {
		signer := &stubChainSigner{}
		valid, sigType, err := VerifyUniversalSignature(ctx, signer, wallet, hash, signature)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if valid || sigType != SignatureTypeEOA {
			t.Errorf("expected invalid EOA result for codeless address, got valid=%v type=%s", valid, sigType)
		}
	})
}
