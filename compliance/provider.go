package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Outcome is a screening provider verdict.
type Outcome int

const (
	// OutcomeAllowed means the provider cleared the address.
	OutcomeAllowed Outcome = iota
	// OutcomeDenied means the provider flagged the address.
	OutcomeDenied
	// OutcomeUnknown means the provider could not produce a verdict; the
	// gate's failClosed policy decides what happens.
	OutcomeUnknown
)

// Provider screens a single address.
type Provider interface {
	Screen(ctx context.Context, address string) (Outcome, string, error)
}

const (
	defaultChainalysisURL = "https://public.chainalysis.com/api/v1/address"
	defaultBlockedStatus  = "BLOCKED"
	defaultTimeout        = 1500 * time.Millisecond
)

// chainalysisProvider queries a Chainalysis-style sanctions REST API:
// GET {url}/{address} with an X-API-KEY header.
type chainalysisProvider struct {
	restURL       string
	apiKey        string
	blockedStatus string
	client        *http.Client
}

func newChainalysisProvider(cfg Config) (*chainalysisProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("apiKey is required for the chainalysis provider")
	}

	restURL := cfg.ProviderURL
	if restURL == "" {
		restURL = defaultChainalysisURL
	}
	blockedStatus := cfg.BlockedStatus
	if blockedStatus == "" {
		blockedStatus = defaultBlockedStatus
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &chainalysisProvider{
		restURL:       strings.TrimRight(restURL, "/"),
		apiKey:        cfg.APIKey,
		blockedStatus: blockedStatus,
		client:        &http.Client{Timeout: timeout},
	}, nil
}

func (p *chainalysisProvider) Screen(ctx context.Context, address string) (Outcome, string, error) {
	url := p.restURL + "/" + address

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return OutcomeUnknown, "", err
	}
	req.Header.Set("X-API-KEY", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return OutcomeUnknown, "screening request failed", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return OutcomeUnknown, "failed to read screening response", err
	}

	if resp.StatusCode != http.StatusOK {
		return OutcomeUnknown, fmt.Sprintf("provider returned status %d", resp.StatusCode), nil
	}

	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return OutcomeUnknown, "empty response from provider", nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return OutcomeUnknown, "invalid JSON from provider", nil
	}

	switch extractSanctionsStatus(payload, p.blockedStatus) {
	case sanctionsBlocked:
		return OutcomeDenied, "status matches blocked policy", nil
	case sanctionsClear:
		return OutcomeAllowed, "", nil
	default:
		return OutcomeUnknown, "unrecognized provider response format", nil
	}
}

type sanctionsStatus int

const (
	sanctionsUndetermined sanctionsStatus = iota
	sanctionsClear
	sanctionsBlocked
)

// extractSanctionsStatus handles the response shapes seen across provider
// API versions: a "sanctions" or "status" string, an "is_sanctioned" bool,
// a "riskLevel" string, or an "identifications" array.
func extractSanctionsStatus(payload map[string]interface{}, blockedStatus string) sanctionsStatus {
	blocked := strings.ToLower(blockedStatus)

	for _, key := range []string{"sanctions", "status"} {
		if status, ok := payload[key].(string); ok {
			status = strings.ToLower(strings.TrimSpace(status))
			if status == blocked {
				return sanctionsBlocked
			}
			switch status {
			case "clear", "not_blocked", "allowed":
				return sanctionsClear
			}
		}
	}

	if isSanctioned, ok := payload["is_sanctioned"].(bool); ok {
		if isSanctioned {
			return sanctionsBlocked
		}
		return sanctionsClear
	}

	if riskLevel, ok := payload["riskLevel"].(string); ok {
		switch strings.ToLower(riskLevel) {
		case "high", "critical":
			return sanctionsBlocked
		case "low":
			return sanctionsClear
		}
	}

	if identifications, ok := payload["identifications"].([]interface{}); ok {
		if len(identifications) > 0 {
			return sanctionsBlocked
		}
		return sanctionsClear
	}

	return sanctionsUndetermined
}
