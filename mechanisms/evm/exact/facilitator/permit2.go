package facilitator

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	x402 "github.com/bubbletez/x402-facilitator"
	"github.com/bubbletez/x402-facilitator/mechanisms/evm"
)

var zeroAddress = common.Address{}

// verifyPermit2 runs the ordered, short-circuiting verification checks.
// Each failure carries its own reason code; the first failing check wins.
func (f *ExactPermit2Facilitator) verifyPermit2(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	if !evm.IsPermit2Payload(payload.Payload) {
		return nil, x402.NewVerifyError(x402.ErrUnsupportedScheme, "", "payload does not carry a permit2 authorization")
	}

	permit2Payload, err := evm.Permit2PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewVerifyError(x402.MalformedReason, "", err.Error())
	}
	auth := permit2Payload.Permit2Authorization
	payer := auth.From

	// 1. Scheme recognized
	if payload.SchemeID() != evm.SchemeExact || requirements.Scheme != evm.SchemeExact {
		return nil, x402.NewVerifyError(x402.ErrUnsupportedScheme, payer, "scheme mismatch")
	}

	// 2. The accepted requirement must be byte-for-byte one the server
	// offered. Anything the client altered, however small, is a
	// downgrade attempt and fails here.
	if payload.X402Version >= 2 && !x402.DeepEqual(payload.Accepted, requirements) {
		return nil, x402.NewVerifyError(x402.ErrAcceptedRequirementsMismatch, payer, "accepted requirements do not match an offered requirement")
	}

	// 3. Network and chain id consistent with the connected chain
	if payload.NetworkID() != requirements.Network {
		return nil, x402.NewVerifyError(ErrChainIDMismatch, payer, "payload network does not match requirements")
	}
	chainID, err := evm.GetEvmChainId(string(requirements.Network))
	if err != nil {
		return nil, x402.NewVerifyError(ErrChainIDMismatch, payer, err.Error())
	}
	connectedChainID, err := f.signer.GetChainID(ctx)
	if err != nil {
		return nil, x402.NewVerifyError(x402.ErrRPC, payer, err.Error())
	}
	if chainID.Cmp(connectedChainID) != 0 {
		return nil, x402.NewVerifyError(ErrChainIDMismatch, payer, "requirements network does not match connected chain")
	}

	// 4. Token matches the required asset
	if !strings.EqualFold(auth.Permitted.Token, requirements.Asset) {
		return nil, x402.NewVerifyError(ErrAssetMismatch, payer, "permitted token does not match required asset")
	}

	// Off-chain mirrors of the proxy's own guards
	if common.HexToAddress(payer) == zeroAddress {
		return nil, x402.NewVerifyError(ErrInvalidOwner, payer, "owner is the zero address")
	}
	if common.HexToAddress(auth.Witness.To) == zeroAddress {
		return nil, x402.NewVerifyError(ErrInvalidDestination, payer, "witness destination is the zero address")
	}

	// 5. Exact amount
	authAmount, ok := new(big.Int).SetString(auth.Permitted.Amount, 10)
	if !ok {
		return nil, x402.NewVerifyError(x402.MalformedReason, payer, "invalid permitted amount format")
	}
	requiredAmount, ok := new(big.Int).SetString(requirements.RequiredAmount(), 10)
	if !ok || requiredAmount.Sign() <= 0 {
		return nil, x402.NewVerifyError(ErrInvalidPaymentAmount, payer, "invalid required amount")
	}
	if authAmount.Cmp(requiredAmount) != 0 {
		return nil, x402.NewVerifyError(ErrInvalidPaymentAmount, payer, "permitted amount does not equal required amount")
	}

	// 6. Witness destination matches payTo
	if !strings.EqualFold(auth.Witness.To, requirements.PayTo) {
		return nil, x402.NewVerifyError(ErrRecipientMismatch, payer, "witness destination does not match payTo")
	}

	// 7. Spender is the configured proxy
	if !strings.EqualFold(auth.Spender, f.proxyAddress) {
		return nil, x402.NewVerifyError(ErrInvalidSpender, payer, "spender is not the settlement proxy")
	}
	if len(f.proxyCodehashes) > 0 {
		if err := f.checkProxyCodehash(ctx); err != nil {
			var verifyErr *x402.VerifyError
			if errors.As(err, &verifyErr) {
				verifyErr.Payer = payer
				return nil, verifyErr
			}
			return nil, x402.NewVerifyError(x402.ErrRPC, payer, err.Error())
		}
	}

	// 8. Timing: deadline not expired (with block propagation buffer),
	// validAfter not in the future, deadline within the offered timeout
	now := time.Now().Unix()
	deadline, ok := new(big.Int).SetString(auth.Deadline, 10)
	if !ok {
		return nil, x402.NewVerifyError(x402.MalformedReason, payer, "invalid deadline format")
	}
	if deadline.Cmp(big.NewInt(now+evm.Permit2DeadlineBuffer)) < 0 {
		return nil, x402.NewVerifyError(ErrDeadlineExpired, payer, "deadline expired")
	}
	validAfter, ok := new(big.Int).SetString(auth.Witness.ValidAfter, 10)
	if !ok {
		return nil, x402.NewVerifyError(x402.MalformedReason, payer, "invalid validAfter format")
	}
	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return nil, x402.NewVerifyError(ErrNotYetValid, payer, "payment not yet valid")
	}
	if requirements.MaxTimeoutSeconds > 0 {
		limit := big.NewInt(now + int64(requirements.MaxTimeoutSeconds) + evm.Permit2DeadlineBuffer)
		if deadline.Cmp(limit) > 0 {
			return nil, x402.NewVerifyError(ErrDeadlineOutOfRange, payer, "deadline exceeds offered timeout")
		}
	}

	// 9. EIP-712 signature over the full authorization, witness included
	signatureBytes, err := evm.HexToBytes(permit2Payload.Signature)
	if err != nil {
		return nil, x402.NewVerifyError(ErrInvalidSignature, payer, "invalid signature format")
	}
	hash, err := evm.HashPermit2Authorization(auth, chainID)
	if err != nil {
		return nil, x402.NewVerifyError(x402.MalformedReason, payer, err.Error())
	}
	var hash32 [32]byte
	copy(hash32[:], hash)
	valid, _, err := evm.VerifyUniversalSignature(ctx, f.signer, payer, hash32, signatureBytes)
	if err != nil || !valid {
		return nil, x402.NewVerifyError(ErrInvalidSignature, payer, "signature does not recover to owner")
	}

	// 10. Compliance screening of both parties
	if err := f.gate.Validate(ctx, payer, requirements.PayTo); err != nil {
		return nil, x402.NewVerifyError(x402.ErrComplianceFailed, payer, err.Error())
	}

	// 11. Funds and on-chain dry-run
	sponsored, err := f.checkFunds(ctx, payload, auth, payer, requiredAmount)
	if err != nil {
		return nil, err
	}
	if !sponsored {
		if err := f.simulateSettle(ctx, permit2Payload, payer, requirements, signatureBytes); err != nil {
			return nil, err
		}
	}

	return &x402.VerifyResponse{
		IsValid: true,
		Payer:   payer,
	}, nil
}

// checkFunds verifies the payer's balance and Permit2 allowance. Returns
// true when the allowance is insufficient but a valid EIP-2612 sponsoring
// permit will grant it at settlement time.
func (f *ExactPermit2Facilitator) checkFunds(ctx context.Context, payload x402.PaymentPayload, auth evm.Permit2Authorization, payer string, requiredAmount *big.Int) (bool, error) {
	tokenAddress := evm.NormalizeAddress(auth.Permitted.Token)

	balance, err := f.signer.GetBalance(ctx, payer, tokenAddress)
	if err != nil {
		return false, x402.NewVerifyError(x402.ErrRPC, payer, "failed to read token balance")
	}
	if balance.Cmp(requiredAmount) < 0 {
		return false, x402.NewVerifyError(ErrInsufficientBalance, payer, "insufficient token balance")
	}

	allowance, err := f.signer.ReadContract(ctx, tokenAddress, evm.ERC20AllowanceABI, "allowance",
		common.HexToAddress(payer), common.HexToAddress(evm.PERMIT2Address))
	if err != nil {
		return false, x402.NewVerifyError(x402.ErrRPC, payer, "failed to read permit2 allowance")
	}
	allowanceBig, ok := allowance.(*big.Int)
	if !ok {
		return false, x402.NewVerifyError(x402.ErrRPC, payer, "unexpected allowance result type")
	}
	if allowanceBig.Cmp(requiredAmount) >= 0 {
		return false, nil
	}

	// Allowance insufficient: only acceptable with a valid sponsoring permit
	permit, extractErr := extractEip2612Permit(payload.Extensions)
	if extractErr != nil || permit == nil {
		return false, x402.NewVerifyError(ErrAllowanceRequired, payer, "permit2 allowance required")
	}
	if reason := validateEip2612Permit(permit, payer, tokenAddress); reason != "" {
		return false, x402.NewVerifyError(reason, payer, "sponsoring permit rejected")
	}
	return true, nil
}

// simulateSettle dry-runs the token transfer with Permit2 as the effective
// caller, then the proxy settle call itself, via eth_call. Nothing is
// committed; reverts surface the same reason codes a real settlement would.
func (f *ExactPermit2Facilitator) simulateSettle(ctx context.Context, permit2Payload *evm.ExactPermit2Payload, payer string, requirements x402.PaymentRequirements, signatureBytes []byte) error {
	auth := permit2Payload.Permit2Authorization
	amount, _ := new(big.Int).SetString(auth.Permitted.Amount, 10)

	err := f.signer.SimulateContract(ctx, evm.PERMIT2Address,
		evm.NormalizeAddress(auth.Permitted.Token), evm.ERC20TransferFromABI, "transferFrom",
		common.HexToAddress(payer), common.HexToAddress(requirements.PayTo), amount)
	if err != nil {
		return x402.NewVerifyError(parsePermit2Revert(err, ErrSimulationFailed), payer, err.Error())
	}

	permitStruct, witnessStruct, err := buildSettleArgs(auth)
	if err != nil {
		return x402.NewVerifyError(x402.MalformedReason, payer, err.Error())
	}

	caller := ""
	if addresses := f.signer.GetAddresses(); len(addresses) > 0 {
		caller = addresses[0]
	}
	err = f.signer.SimulateContract(ctx, caller, f.proxyAddress,
		evm.X402ExactPermit2ProxySettleABI, evm.FunctionSettle,
		permitStruct, common.HexToAddress(payer), witnessStruct, signatureBytes)
	if err != nil {
		return x402.NewVerifyError(parsePermit2Revert(err, ErrSimulationFailed), payer, err.Error())
	}
	return nil
}

// checkProxyCodehash pins the proxy deployment to an allowlisted bytecode
// hash so a compromised or substituted proxy cannot pass verification.
func (f *ExactPermit2Facilitator) checkProxyCodehash(ctx context.Context) error {
	code, err := f.signer.GetCode(ctx, f.proxyAddress)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return x402.NewVerifyError(ErrInvalidSpender, "", "no code at proxy address")
	}
	codehash := strings.ToLower(evm.BytesToHex(crypto.Keccak256(code)))
	if _, ok := f.proxyCodehashes[codehash]; !ok {
		return x402.NewVerifyError(ErrInvalidSpender, "", "proxy codehash not in allowlist")
	}
	return nil
}

// settlePermit2 re-verifies, re-screens compliance at commit time, then
// submits settle (or settleWithPermit when a sponsoring permit is present)
// and waits for the receipt.
func (f *ExactPermit2Facilitator) settlePermit2(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	network := payload.NetworkID()

	verifyResp, err := f.verifyPermit2(ctx, payload, requirements)
	if err != nil {
		var verifyErr *x402.VerifyError
		if errors.As(err, &verifyErr) {
			return nil, x402.NewSettleError(verifyErr.InvalidReason, verifyErr.Payer, network, "", verifyErr.InvalidMessage)
		}
		return nil, x402.NewSettleError(x402.ErrRPC, "", network, "", err.Error())
	}
	payer := verifyResp.Payer

	permit2Payload, err := evm.Permit2PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewSettleError(x402.MalformedReason, payer, network, "", err.Error())
	}
	auth := permit2Payload.Permit2Authorization

	// State may have changed since verification; screen again before
	// anything is submitted
	if err := f.gate.Validate(ctx, payer, requirements.PayTo); err != nil {
		f.logger.Warn("settlement blocked by compliance at commit time",
			zap.String("payer", payer),
			zap.Error(err))
		return nil, x402.NewSettleError(x402.ErrComplianceFailed, payer, network, "", err.Error())
	}

	permitStruct, witnessStruct, err := buildSettleArgs(auth)
	if err != nil {
		return nil, x402.NewSettleError(x402.MalformedReason, payer, network, "", err.Error())
	}
	signatureBytes, err := evm.HexToBytes(permit2Payload.Signature)
	if err != nil {
		return nil, x402.NewSettleError(ErrInvalidSignature, payer, network, "", "invalid signature format")
	}

	sponsorPermit, _ := extractEip2612Permit(payload.Extensions)

	var txHash string
	if sponsorPermit != nil {
		txHash, err = f.submitSettleWithPermit(ctx, sponsorPermit, permitStruct, witnessStruct, payer, signatureBytes)
	} else {
		txHash, err = f.signer.WriteContract(
			ctx,
			f.proxyAddress,
			evm.X402ExactPermit2ProxySettleABI,
			evm.FunctionSettle,
			permitStruct,
			common.HexToAddress(payer),
			witnessStruct,
			signatureBytes,
		)
	}
	if err != nil {
		reason := parsePermit2Revert(err, ErrTransactionFailed)
		f.logger.Error("settlement submission failed",
			zap.String("payer", payer),
			zap.String("reason", reason),
			zap.Error(err))
		return nil, x402.NewSettleError(reason, payer, network, "", err.Error())
	}

	f.logger.Info("settlement submitted",
		zap.String("payer", payer),
		zap.String("transaction", txHash))

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		// The transaction is on the wire with an unknown outcome. Surface
		// the hash so the caller can resolve it from the chain; never
		// resubmit.
		return nil, x402.NewSettleError(x402.ErrRPC, payer, network, txHash, err.Error())
	}
	if receipt.Status != evm.TxStatusSuccess {
		return nil, x402.NewSettleError(ErrTransactionFailed, payer, network, txHash, "transaction reverted")
	}

	value := auth.Permitted.Amount
	if assetInfo, err := evm.GetAssetInfo(string(network), auth.Permitted.Token); err == nil {
		value = evm.FormatTokenAmount(permitStruct.Permitted.Amount, assetInfo.Decimals)
	}
	f.logger.Info("settlement confirmed",
		zap.String("payer", payer),
		zap.String("transaction", txHash),
		zap.String("asset", auth.Permitted.Token),
		zap.String("value", value))

	return &x402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       payer,
	}, nil
}

type permitArg struct {
	Permitted struct {
		Token  common.Address
		Amount *big.Int
	}
	Nonce    *big.Int
	Deadline *big.Int
}

type witnessArg struct {
	To         common.Address
	ValidAfter *big.Int
	Extra      []byte
}

// buildSettleArgs converts the authorization into the tuple arguments the
// proxy settle ABI expects.
func buildSettleArgs(auth evm.Permit2Authorization) (permitArg, witnessArg, error) {
	var permit permitArg
	var witness witnessArg

	amount, ok := new(big.Int).SetString(auth.Permitted.Amount, 10)
	if !ok {
		return permit, witness, errors.New("invalid permitted amount")
	}
	nonce, ok := new(big.Int).SetString(auth.Nonce, 10)
	if !ok {
		return permit, witness, errors.New("invalid nonce")
	}
	deadline, ok := new(big.Int).SetString(auth.Deadline, 10)
	if !ok {
		return permit, witness, errors.New("invalid deadline")
	}
	validAfter, ok := new(big.Int).SetString(auth.Witness.ValidAfter, 10)
	if !ok {
		return permit, witness, errors.New("invalid validAfter")
	}
	extraBytes, err := evm.HexToBytes(auth.Witness.Extra)
	if err != nil {
		return permit, witness, errors.New("invalid witness extra")
	}

	permit.Permitted.Token = common.HexToAddress(auth.Permitted.Token)
	permit.Permitted.Amount = amount
	permit.Nonce = nonce
	permit.Deadline = deadline

	witness.To = common.HexToAddress(auth.Witness.To)
	witness.ValidAfter = validAfter
	witness.Extra = extraBytes

	return permit, witness, nil
}

func (f *ExactPermit2Facilitator) submitSettleWithPermit(ctx context.Context, sponsorPermit *Eip2612Permit, permit permitArg, witness witnessArg, payer string, signatureBytes []byte) (string, error) {
	v, r, s, err := splitEip2612Signature(sponsorPermit.Signature)
	if err != nil {
		return "", err
	}
	value, ok := new(big.Int).SetString(sponsorPermit.Amount, 10)
	if !ok {
		return "", errors.New("invalid sponsoring permit amount")
	}
	deadline, ok := new(big.Int).SetString(sponsorPermit.Deadline, 10)
	if !ok {
		return "", errors.New("invalid sponsoring permit deadline")
	}

	permit2612 := struct {
		Value    *big.Int
		Deadline *big.Int
		R        [32]byte
		S        [32]byte
		V        uint8
	}{
		Value:    value,
		Deadline: deadline,
		R:        r,
		S:        s,
		V:        v,
	}

	return f.signer.WriteContract(
		ctx,
		f.proxyAddress,
		evm.X402ExactPermit2ProxySettleWithPermitABI,
		evm.FunctionSettleWithPermit,
		permit2612,
		permit,
		common.HexToAddress(payer),
		witness,
		signatureBytes,
	)
}

// parsePermit2Revert maps proxy and Permit2 revert identifiers onto reason
// codes. Anything unrecognized gets the caller's fallback.
func parsePermit2Revert(err error, fallback string) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "PaymentTooEarly"):
		return ErrPaymentTooEarly
	case strings.Contains(msg, "InvalidDestination"):
		return ErrInvalidDestination
	case strings.Contains(msg, "InvalidOwner"):
		return ErrInvalidOwner
	case strings.Contains(msg, "InvalidNonce"):
		return ErrInvalidNonce
	case strings.Contains(msg, "InvalidSigner"),
		strings.Contains(msg, "InvalidSignature"),
		strings.Contains(msg, "SignatureExpired"):
		return ErrInvalidSignature
	case strings.Contains(msg, "TRANSFER_FROM_FAILED"),
		strings.Contains(msg, "insufficient balance"):
		return ErrInsufficientBalance
	case strings.Contains(msg, "insufficient allowance"):
		return ErrAllowanceRequired
	default:
		return fallback
	}
}
