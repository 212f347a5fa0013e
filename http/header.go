package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	x402 "github.com/bubbletez/x402-facilitator"
)

// PaymentHeader is the HTTP header resource servers read payment payloads
// from.
const PaymentHeader = "X-PAYMENT"

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// EncodePaymentHeader encodes a payment payload for the X-PAYMENT header.
func EncodePaymentHeader(payload x402.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader validates and decodes an X-PAYMENT header value.
func DecodePaymentHeader(header string) (*x402.PaymentPayload, error) {
	if header == "" {
		return nil, fmt.Errorf("payment header is empty")
	}
	if !base64Pattern.MatchString(header) {
		return nil, fmt.Errorf("invalid payment header format: not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid payment header format: base64 decoding failed: %v", err)
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("invalid payment header format: not valid JSON: %v", err)
	}
	if payload.X402Version < 1 {
		return nil, fmt.Errorf("invalid value: x402Version must be at least 1")
	}

	return &payload, nil
}
