package evm

import (
	"bytes"
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Signature types reported by VerifyUniversalSignature.
const (
	SignatureTypeEOA     = "eoa"
	SignatureTypeEIP1271 = "eip1271"
)

// VerifyUniversalSignature verifies a signature over an EIP-712 digest for
// either an EOA or a deployed smart contract wallet. EOA recovery is tried
// first for 65-byte signatures; if the signer address has code, EIP-1271
// isValidSignature is consulted instead.
func VerifyUniversalSignature(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	signerAddress string,
	hash [32]byte,
	signature []byte,
) (bool, string, error) {
	if len(signature) == 65 {
		if recoverEOA(hash, signature, signerAddress) {
			return true, SignatureTypeEOA, nil
		}
	}

	code, err := signer.GetCode(ctx, signerAddress)
	if err != nil {
		return false, "", err
	}
	if len(code) == 0 {
		return false, SignatureTypeEOA, nil
	}

	valid, err := verifyEIP1271(ctx, signer, signerAddress, hash, signature)
	if err != nil {
		return false, SignatureTypeEIP1271, err
	}
	return valid, SignatureTypeEIP1271, nil
}

func recoverEOA(hash [32]byte, signature []byte, expected string) bool {
	sig := make([]byte, 65)
	copy(sig, signature)

	// Normalize v from 27/28 to 0/1 for go-ethereum recovery
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return false
	}

	pubKey, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return false
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	return strings.EqualFold(recovered.Hex(), expected)
}

func verifyEIP1271(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	contractAddress string,
	hash [32]byte,
	signature []byte,
) (bool, error) {
	result, err := signer.ReadContract(
		ctx,
		contractAddress,
		EIP1271IsValidSignatureABI,
		"isValidSignature",
		hash,
		signature,
	)
	if err != nil {
		return false, err
	}

	magic, err := HexToBytes(EIP1271MagicValue)
	if err != nil {
		return false, err
	}

	switch v := result.(type) {
	case [4]byte:
		return bytes.Equal(v[:], magic), nil
	case []byte:
		return len(v) >= 4 && bytes.Equal(v[:4], magic), nil
	default:
		return false, nil
	}
}
