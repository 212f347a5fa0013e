package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/bubbletez/x402-facilitator"
)

type stubScheme struct {
	verifyResp  *x402.VerifyResponse
	settleResp  *x402.SettleResponse
	settleCalls int
}

func (s *stubScheme) Scheme() string { return "exact" }

func (s *stubScheme) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	return s.verifyResp, nil
}

func (s *stubScheme) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	s.settleCalls++
	return s.settleResp, nil
}

func newTestServer(scheme *stubScheme, opts ...ServerOption) *Server {
	registry := x402.NewRegistry().
		Register("eip155:8453", scheme).
		AdvertiseSigners("eip155:8453", []string{"0x9999999999999999999999999999999999999999"})
	return NewServer(x402.NewLocalFacilitator(registry, nil), opts...)
}

func requestBody(t *testing.T, nonce string) []byte {
	t.Helper()
	requirements := x402.PaymentRequirements{
		Scheme:  "exact",
		Network: "eip155:8453",
		Asset:   "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Amount:  "10000",
		PayTo:   "0x1111111111111111111111111111111111111111",
	}
	body, err := json.Marshal(x402.VerifyRequest{
		PaymentPayload: x402.PaymentPayload{
			X402Version: 2,
			Accepted:    requirements,
			Payload: map[string]interface{}{
				"signature": "0xsig",
				"permit2Authorization": map[string]interface{}{
					"from":  "0x7777777777777777777777777777777777777777",
					"nonce": nonce,
				},
			},
		},
		PaymentRequirements: requirements,
	})
	require.NoError(t, err)
	return body
}

func doRequest(server *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&stubScheme{})

	rec := doRequest(server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSupportedEndpoint(t *testing.T) {
	server := newTestServer(&stubScheme{})

	rec := doRequest(server, http.MethodGet, "/supported", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var supported x402.SupportedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &supported))
	require.Len(t, supported.Kinds, 1)
	assert.Equal(t, "exact", supported.Kinds[0].Scheme)
	assert.Equal(t, x402.Network("eip155:8453"), supported.Kinds[0].Network)
	assert.Equal(t, 2, supported.Kinds[0].X402Version)
	assert.Len(t, supported.Signers["eip155:8453"], 1)
}

func TestVerifyEndpoint(t *testing.T) {
	t.Run("valid payment", func(t *testing.T) {
		scheme := &stubScheme{
			verifyResp: &x402.VerifyResponse{IsValid: true, Payer: "0x7777777777777777777777777777777777777777"},
		}
		server := newTestServer(scheme)

		rec := doRequest(server, http.MethodPost, "/verify", requestBody(t, "1"))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp x402.VerifyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.IsValid)
		assert.Equal(t, "0x7777777777777777777777777777777777777777", resp.Payer)
	})

	t.Run("rejection is HTTP 200 with a reason", func(t *testing.T) {
		scheme := &stubScheme{
			verifyResp: &x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"},
		}
		server := newTestServer(scheme)

		rec := doRequest(server, http.MethodPost, "/verify", requestBody(t, "2"))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp x402.VerifyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.IsValid)
		assert.Equal(t, "invalid_signature", resp.InvalidReason)
	})

	t.Run("schema violations are HTTP 400", func(t *testing.T) {
		server := newTestServer(&stubScheme{})

		bodies := map[string]string{
			"not json":              `{{`,
			"missing requirements":  `{"paymentPayload":{"x402Version":2,"payload":{}}}`,
			"bad network format":    `{"paymentPayload":{"x402Version":2,"payload":{}},"paymentRequirements":{"scheme":"exact","network":"base mainnet","asset":"0x1","payTo":"0x2"}}`,
			"non-numeric amount":    `{"paymentPayload":{"x402Version":2,"payload":{}},"paymentRequirements":{"scheme":"exact","network":"eip155:8453","asset":"0x1","payTo":"0x2","amount":"ten"}}`,
			"unsupported version":   `{"paymentPayload":{"x402Version":9,"payload":{}},"paymentRequirements":{"scheme":"exact","network":"eip155:8453","asset":"0x1","payTo":"0x2"}}`,
		}
		for name, body := range bodies {
			rec := doRequest(server, http.MethodPost, "/verify", []byte(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		}
	})
}

func TestSettleEndpoint(t *testing.T) {
	t.Run("successful settlement", func(t *testing.T) {
		scheme := &stubScheme{
			verifyResp: &x402.VerifyResponse{IsValid: true},
			settleResp: &x402.SettleResponse{
				Success:     true,
				Transaction: "0xabc123",
				Network:     "eip155:8453",
				Payer:       "0x7777777777777777777777777777777777777777",
			},
		}
		server := newTestServer(scheme)

		rec := doRequest(server, http.MethodPost, "/settle", requestBody(t, "10"))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp x402.SettleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "0xabc123", resp.Transaction)
	})

	t.Run("retry is served from the idempotency cache", func(t *testing.T) {
		scheme := &stubScheme{
			settleResp: &x402.SettleResponse{Success: true, Transaction: "0xonce", Network: "eip155:8453"},
		}
		server := newTestServer(scheme)

		first := doRequest(server, http.MethodPost, "/settle", requestBody(t, "11"))
		require.Equal(t, http.StatusOK, first.Code)
		second := doRequest(server, http.MethodPost, "/settle", requestBody(t, "11"))
		require.Equal(t, http.StatusOK, second.Code)

		assert.Equal(t, 1, scheme.settleCalls, "duplicate settle must not resubmit")
		assert.JSONEq(t, first.Body.String(), second.Body.String())
	})

	t.Run("schema violations are HTTP 400", func(t *testing.T) {
		server := newTestServer(&stubScheme{})
		rec := doRequest(server, http.MethodPost, "/settle", []byte(`{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCORSMiddleware(t *testing.T) {
	t.Run("wildcard origin", func(t *testing.T) {
		server := newTestServer(&stubScheme{}, WithCORSOrigins([]string{"*"}))

		req := httptest.NewRequest(http.MethodOptions, "/verify", nil)
		req.Header.Set("Origin", "https://example.com")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), PaymentHeader)
	})

	t.Run("allowlisted origin", func(t *testing.T) {
		server := newTestServer(&stubScheme{}, WithCORSOrigins([]string{"https://pay.example.com"}))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://pay.example.com")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)

		assert.Equal(t, "https://pay.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin gets no allow header", func(t *testing.T) {
		server := newTestServer(&stubScheme{}, WithCORSOrigins([]string{"https://pay.example.com"}))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestPaymentHeaderCodec(t *testing.T) {
	payload := x402.PaymentPayload{
		X402Version: 2,
		Accepted: x402.PaymentRequirements{
			Scheme:  "exact",
			Network: "eip155:8453",
		},
		Payload: map[string]interface{}{"signature": "0xsig"},
	}

	t.Run("round trip", func(t *testing.T) {
		encoded, err := EncodePaymentHeader(payload)
		require.NoError(t, err)

		decoded, err := DecodePaymentHeader(encoded)
		require.NoError(t, err)
		assert.Equal(t, payload.X402Version, decoded.X402Version)
		assert.Equal(t, payload.Accepted.Network, decoded.Accepted.Network)
		assert.Equal(t, "0xsig", decoded.Payload["signature"])
	})

	t.Run("rejects malformed headers", func(t *testing.T) {
		for name, header := range map[string]string{
			"empty":        "",
			"not base64":   "!!not-base64!!",
			"not json":     "bm90LWpzb24",
			"version zero": "eyJ4NDAyVmVyc2lvbiI6MH0=",
		} {
			_, err := DecodePaymentHeader(header)
			assert.Error(t, err, name)
		}
	})
}
