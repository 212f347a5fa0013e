// Package evm provides concrete signers over go-ethereum's ethclient.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	x402evm "github.com/bubbletez/x402-facilitator/mechanisms/evm"
)

const defaultReceiptPollInterval = 2 * time.Second

// FacilitatorSigner implements x402evm.FacilitatorEvmSigner over a JSON-RPC
// connection. It can hold several keys for rotation, but the settlement
// identity for a chain is fixed at construction: every settlement
// transaction for that chain is sent from the same address, so clients and
// resource servers can pin the sender.
type FacilitatorSigner struct {
	ethClient *ethclient.Client
	chainID   *big.Int

	keys              map[string]*ecdsa.PrivateKey
	addresses         []string
	settlementAddress string

	// Serializes nonce allocation per signing address
	nonceMu map[string]*sync.Mutex

	receiptPollInterval time.Duration
	maxGasPrice         *big.Int
	readRetry           retryConfig

	// Serializes access to the RPC endpoint when it is rate limited
	limiter *rate.Limiter
}

// SignerOption configures a FacilitatorSigner.
type SignerOption func(*FacilitatorSigner)

// WithSettlementAddress pins which key settles. Defaults to the first key.
func WithSettlementAddress(address string) SignerOption {
	return func(s *FacilitatorSigner) {
		s.settlementAddress = strings.ToLower(address)
	}
}

// WithMaxGasPrice caps the gas price in wei. Submission fails rather than
// exceed it.
func WithMaxGasPrice(wei *big.Int) SignerOption {
	return func(s *FacilitatorSigner) {
		s.maxGasPrice = wei
	}
}

// WithReceiptPollInterval sets how often receipt polling queries the chain.
func WithReceiptPollInterval(interval time.Duration) SignerOption {
	return func(s *FacilitatorSigner) {
		s.receiptPollInterval = interval
	}
}

// WithRateLimit caps RPC calls to the endpoint at the given requests per
// second. Callers queue on the limiter rather than burst past the
// endpoint's quota.
func WithRateLimit(requestsPerSecond int) SignerOption {
	return func(s *FacilitatorSigner) {
		if requestsPerSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithReadRetry overrides retry bounds for read RPCs.
func WithReadRetry(maxAttempts int, initialDelay time.Duration) SignerOption {
	return func(s *FacilitatorSigner) {
		if maxAttempts > 0 {
			s.readRetry.MaxAttempts = maxAttempts
		}
		if initialDelay > 0 {
			s.readRetry.InitialDelay = initialDelay
			s.readRetry.MaxDelay = initialDelay * 4
		}
	}
}

// NewFacilitatorSigner connects to an RPC endpoint and loads the given
// hex-encoded private keys.
func NewFacilitatorSigner(ctx context.Context, rpcURL string, privateKeysHex []string, opts ...SignerOption) (*FacilitatorSigner, error) {
	if len(privateKeysHex) == 0 {
		return nil, fmt.Errorf("at least one private key is required")
	}

	ethClient, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}

	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}

	s := &FacilitatorSigner{
		ethClient:           ethClient,
		chainID:             chainID,
		keys:                make(map[string]*ecdsa.PrivateKey, len(privateKeysHex)),
		nonceMu:             make(map[string]*sync.Mutex, len(privateKeysHex)),
		receiptPollInterval: defaultReceiptPollInterval,
		readRetry:           defaultReadRetry(),
	}

	for _, keyHex := range privateKeysHex {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		address := crypto.PubkeyToAddress(privateKey.PublicKey)
		lower := strings.ToLower(address.Hex())
		s.keys[lower] = privateKey
		s.addresses = append(s.addresses, address.Hex())
		s.nonceMu[lower] = &sync.Mutex{}
	}
	s.settlementAddress = strings.ToLower(s.addresses[0])

	for _, opt := range opts {
		opt(s)
	}

	if _, ok := s.keys[s.settlementAddress]; !ok {
		return nil, fmt.Errorf("settlement address %s has no loaded key", s.settlementAddress)
	}

	return s, nil
}

// GetAddresses returns the signing addresses, settlement address first.
func (s *FacilitatorSigner) GetAddresses() []string {
	ordered := make([]string, 0, len(s.addresses))
	for _, addr := range s.addresses {
		if strings.ToLower(addr) == s.settlementAddress {
			ordered = append([]string{addr}, ordered...)
		} else {
			ordered = append(ordered, addr)
		}
	}
	return ordered
}

// GetChainID returns the connected chain's id.
func (s *FacilitatorSigner) GetChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.chainID), nil
}

// waitRPC blocks until the endpoint's rate limit admits another call.
func (s *FacilitatorSigner) waitRPC(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// GetCode returns the bytecode at an address.
func (s *FacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	return withRetry(ctx, s.readRetry, isTransientRPCError, func() ([]byte, error) {
		if err := s.waitRPC(ctx); err != nil {
			return nil, err
		}
		return s.ethClient.CodeAt(ctx, common.HexToAddress(address), nil)
	})
}

// GetBalance returns the ERC-20 token balance of an address, or the native
// balance when tokenAddress is empty.
func (s *FacilitatorSigner) GetBalance(ctx context.Context, address string, tokenAddress string) (*big.Int, error) {
	if tokenAddress == "" {
		return withRetry(ctx, s.readRetry, isTransientRPCError, func() (*big.Int, error) {
			if err := s.waitRPC(ctx); err != nil {
				return nil, err
			}
			return s.ethClient.BalanceAt(ctx, common.HexToAddress(address), nil)
		})
	}

	result, err := s.ReadContract(ctx, tokenAddress, x402evm.ERC20BalanceOfABI, "balanceOf", common.HexToAddress(address))
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", result)
	}
	return balance, nil
}

// ReadContract executes a view call and unpacks the result.
func (s *FacilitatorSigner) ReadContract(ctx context.Context, contractAddress string, abiBytes []byte, functionName string, args ...interface{}) (interface{}, error) {
	contractABI, data, err := packCall(abiBytes, functionName, args...)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(contractAddress)
	msg := ethereum.CallMsg{
		To:   &addr,
		Data: data,
	}

	result, err := withRetry(ctx, s.readRetry, isTransientRPCError, func() ([]byte, error) {
		if err := s.waitRPC(ctx); err != nil {
			return nil, err
		}
		return s.ethClient.CallContract(ctx, msg, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := contractABI.Unpack(functionName, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	if len(outputs) == 0 {
		return nil, nil
	}
	if len(outputs) == 1 {
		return outputs[0], nil
	}
	return outputs, nil
}

// SimulateContract dry-runs a state-changing call via eth_call with an
// explicit caller. Nothing is committed; a revert comes back as an error
// carrying the revert reason.
func (s *FacilitatorSigner) SimulateContract(ctx context.Context, from string, contractAddress string, abiBytes []byte, functionName string, args ...interface{}) error {
	_, data, err := packCall(abiBytes, functionName, args...)
	if err != nil {
		return err
	}

	addr := common.HexToAddress(contractAddress)
	msg := ethereum.CallMsg{
		From: common.HexToAddress(from),
		To:   &addr,
		Data: data,
	}

	// Transient transport failures are retried; a revert is a deterministic
	// outcome and surfaces on the first attempt.
	if _, err := withRetry(ctx, s.readRetry, isTransientRPCError, func() ([]byte, error) {
		if err := s.waitRPC(ctx); err != nil {
			return nil, err
		}
		return s.ethClient.CallContract(ctx, msg, nil)
	}); err != nil {
		return fmt.Errorf("simulation reverted: %w", err)
	}
	return nil
}

// WriteContract signs and submits a transaction from the settlement
// address. Nonce allocation is serialized per signer so concurrent
// settlements for different payments never collide on a chain nonce.
func (s *FacilitatorSigner) WriteContract(ctx context.Context, contractAddress string, abiBytes []byte, functionName string, args ...interface{}) (string, error) {
	_, data, err := packCall(abiBytes, functionName, args...)
	if err != nil {
		return "", err
	}

	privateKey := s.keys[s.settlementAddress]
	fromAddr := crypto.PubkeyToAddress(privateKey.PublicKey)
	toAddr := common.HexToAddress(contractAddress)

	mu := s.nonceMu[s.settlementAddress]
	mu.Lock()
	defer mu.Unlock()

	if err := s.waitRPC(ctx); err != nil {
		return "", err
	}
	nonce, err := s.ethClient.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	if err := s.waitRPC(ctx); err != nil {
		return "", err
	}
	gasPrice, err := s.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to suggest gas price: %w", err)
	}
	if s.maxGasPrice != nil && gasPrice.Cmp(s.maxGasPrice) > 0 {
		return "", fmt.Errorf("suggested gas price %s exceeds configured maximum %s", gasPrice, s.maxGasPrice)
	}

	if err := s.waitRPC(ctx); err != nil {
		return "", err
	}
	gasLimit, err := s.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:     fromAddr,
		To:       &toAddr,
		Data:     data,
		GasPrice: gasPrice,
	})
	if err != nil {
		return "", fmt.Errorf("gas estimation failed: %w", err)
	}

	tx := types.NewTransaction(nonce, toAddr, big.NewInt(0), gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.waitRPC(ctx); err != nil {
		return "", err
	}
	if err := s.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls until the transaction is mined or the
// context expires.
func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TransactionReceipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(s.receiptPollInterval)
	defer ticker.Stop()

	for {
		if err := s.waitRPC(ctx); err != nil {
			return nil, fmt.Errorf("timed out waiting for receipt of %s: %w", txHash, err)
		}
		receipt, err := s.ethClient.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return &x402evm.TransactionReceipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				TxHash:      receipt.TxHash.Hex(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for receipt of %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close releases the underlying RPC connection.
func (s *FacilitatorSigner) Close() {
	s.ethClient.Close()
}

func packCall(abiBytes []byte, functionName string, args ...interface{}) (*abi.ABI, []byte, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := contractABI.Pack(functionName, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to pack method call: %w", err)
	}
	return &contractABI, data, nil
}
