// Package evm provides EVM blockchain support for the x402 payment protocol.
// It implements the exact payment scheme over Permit2 witness transfers,
// settled through the x402ExactPermit2Proxy contract.
package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	x402 "github.com/bubbletez/x402-facilitator"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// HexToBytes decodes a hex string with or without the 0x prefix.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes as a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// IsValidAddress reports whether s is a well-formed EVM address.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// NormalizeAddress lowercases a well-formed address for comparisons.
// Returns the input unchanged when it is not an address.
func NormalizeAddress(address string) string {
	if !IsValidAddress(address) {
		return address
	}
	return strings.ToLower(address)
}

// GetEvmChainId derives the numeric chain ID from a CAIP-2 network
// identifier. Any eip155 reference parses, whether or not a NetworkConfigs
// entry exists for it.
func GetEvmChainId(network string) (*big.Int, error) {
	namespace, reference, err := x402.Network(network).Parse()
	if err != nil {
		return nil, err
	}
	if namespace != "eip155" {
		return nil, fmt.Errorf("not an EVM network: %s", network)
	}
	chainID, ok := new(big.Int).SetString(reference, 10)
	if !ok {
		return nil, fmt.Errorf("invalid chain reference: %s", reference)
	}
	return chainID, nil
}

// IsValidNetwork reports whether the network identifier names an EVM chain.
func IsValidNetwork(network string) bool {
	_, err := GetEvmChainId(network)
	return err == nil
}

// GetNetworkConfig returns the static configuration for a known network.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	if config, ok := NetworkConfigs[network]; ok {
		return &config, nil
	}
	return nil, fmt.Errorf("no configuration for network: %s", network)
}

// GetAssetInfo returns information about an asset on a network. An explicit
// address gets its own entry; an empty asset falls back to the network's
// default asset when one is configured.
func GetAssetInfo(network string, assetAddress string) (*AssetInfo, error) {
	if IsValidAddress(assetAddress) {
		normalized := NormalizeAddress(assetAddress)

		config, err := GetNetworkConfig(network)
		if err == nil && config.DefaultAsset.Address != "" {
			if normalized == NormalizeAddress(config.DefaultAsset.Address) {
				return &config.DefaultAsset, nil
			}
		}

		return &AssetInfo{
			Address:  normalized,
			Name:     "Unknown Token",
			Version:  "1",
			Decimals: 18,
		}, nil
	}

	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	if config.DefaultAsset.Address == "" {
		return nil, fmt.Errorf("no default asset configured for network %s", network)
	}
	return &config.DefaultAsset, nil
}
