// Package compliance provides facilitator-side request filtering: static
// deny/allow lists plus an optional external screening provider. Decisions
// are ephemeral per request; nothing is persisted.
package compliance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider names accepted in configuration.
const (
	ProviderLists       = "lists"
	ProviderChainalysis = "chainalysis"
)

// Config controls the gate. The zero value is a disabled gate.
type Config struct {
	Enabled       bool          `json:"enabled"`
	DenyList      []string      `json:"denyList"`
	AllowList     []string      `json:"allowList"`
	Provider      string        `json:"provider" validate:"omitempty,oneof=lists chainalysis"`
	ProviderURL   string        `json:"providerUrl" validate:"omitempty,url"`
	APIKey        string        `json:"apiKey"`
	BlockedStatus string        `json:"blockedStatus"`
	Timeout       time.Duration `json:"-"`
	FailClosed    bool          `json:"failClosed"`
}

// Violation is returned when a party fails compliance screening.
type Violation struct {
	Role    string // "payer" or "payee"
	Address string
	Reason  string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s %s: %s", v.Role, v.Address, v.Reason)
}

// Gate screens payment parties against deny/allow lists and an optional
// external provider. Both parties are screened at verify time and again
// immediately before settlement is committed.
type Gate struct {
	enabled    bool
	denyList   map[string]struct{}
	allowList  map[string]struct{}
	provider   Provider
	failClosed bool
	logger     *zap.Logger
}

// Disabled returns a gate that approves everything.
func Disabled() *Gate {
	return &Gate{enabled: false, logger: zap.NewNop()}
}

// NewGate builds a gate from configuration. List entries must be
// well-formed addresses; a malformed entry is a configuration error, not
// something to silently skip.
func NewGate(cfg Config, logger *zap.Logger) (*Gate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return Disabled(), nil
	}

	denyList, err := normalizeList(cfg.DenyList)
	if err != nil {
		return nil, fmt.Errorf("denyList: %w", err)
	}
	allowList, err := normalizeList(cfg.AllowList)
	if err != nil {
		return nil, fmt.Errorf("allowList: %w", err)
	}

	gate := &Gate{
		enabled:    true,
		denyList:   denyList,
		allowList:  allowList,
		failClosed: cfg.FailClosed,
		logger:     logger,
	}

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderLists:
		// Lists only
	case ProviderChainalysis:
		provider, err := newChainalysisProvider(cfg)
		if err != nil {
			return nil, err
		}
		gate.provider = provider
	default:
		return nil, fmt.Errorf("unknown compliance provider: %s", cfg.Provider)
	}

	return gate, nil
}

// Enabled reports whether the gate screens anything.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// Validate screens the payer and payee. Empty addresses are skipped. The
// first violation short-circuits; its reason is surfaced to the caller.
func (g *Gate) Validate(ctx context.Context, payer, payee string) error {
	if !g.enabled {
		return nil
	}

	if payer != "" {
		if err := g.validateParty(ctx, "payer", payer); err != nil {
			return err
		}
	}
	if payee != "" {
		if err := g.validateParty(ctx, "payee", payee); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gate) validateParty(ctx context.Context, role, rawAddress string) error {
	address, ok := normalizeAddress(rawAddress)
	if !ok {
		return &Violation{Role: role, Address: rawAddress, Reason: "invalid address format"}
	}

	if _, denied := g.denyList[address]; denied {
		g.logger.Warn("party denied by compliance policy",
			zap.String("role", role),
			zap.String("address", address))
		return &Violation{Role: role, Address: address, Reason: "denied by compliance policy"}
	}

	if len(g.allowList) > 0 {
		if _, allowed := g.allowList[address]; !allowed {
			return &Violation{Role: role, Address: address, Reason: "not in compliance allow-list"}
		}
	}

	if g.provider == nil {
		return nil
	}

	outcome, reason, err := g.provider.Screen(ctx, address)
	if err != nil {
		outcome, reason = OutcomeUnknown, err.Error()
	}

	switch outcome {
	case OutcomeAllowed:
		return nil
	case OutcomeDenied:
		g.logger.Warn("party denied by screening provider",
			zap.String("role", role),
			zap.String("address", address),
			zap.String("reason", reason))
		return &Violation{Role: role, Address: address, Reason: "failed provider screening: " + reason}
	default:
		if g.failClosed {
			return &Violation{Role: role, Address: address, Reason: "screening unresolved: " + reason}
		}
		g.logger.Warn("screening unresolved, failing open",
			zap.String("role", role),
			zap.String("address", address),
			zap.String("reason", reason))
		return nil
	}
}

var hexAddressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// normalizeAddress lowercases and 0x-prefixes an address. Returns false for
// anything that is not 40 hex characters.
func normalizeAddress(address string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(address))
	if !strings.HasPrefix(normalized, "0x") {
		normalized = "0x" + normalized
	}
	if !hexAddressPattern.MatchString(normalized) {
		return "", false
	}
	return normalized, true
}

func normalizeList(addresses []string) (map[string]struct{}, error) {
	list := make(map[string]struct{}, len(addresses))
	for _, raw := range addresses {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		address, ok := normalizeAddress(raw)
		if !ok {
			return nil, fmt.Errorf("invalid address format: %s", raw)
		}
		list[address] = struct{}{}
	}
	return list, nil
}
