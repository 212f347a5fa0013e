// Package config loads facilitator configuration from a JSON file with
// environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bubbletez/x402-facilitator/compliance"
)

// Environment variables recognized as overrides.
const (
	EnvConfigPath = "CONFIG"
	EnvHost       = "HOST"
	EnvPort       = "PORT"
	EnvLogLevel   = "LOG_LEVEL"

	EnvComplianceEnabled       = "COMPLIANCE_SCREENING_ENABLED"
	EnvComplianceDenyList      = "COMPLIANCE_DENY_LIST"
	EnvComplianceAllowList     = "COMPLIANCE_ALLOW_LIST"
	EnvComplianceProvider      = "COMPLIANCE_PROVIDER"
	EnvComplianceBlockedStatus = "COMPLIANCE_BLOCKED_STATUS"
	EnvComplianceTimeoutMs     = "COMPLIANCE_TIMEOUT_MS"
	EnvComplianceFailClosed    = "COMPLIANCE_FAIL_CLOSED"
	EnvChainalysisAPIKey       = "CHAINALYSIS_API_KEY"
	EnvChainalysisRestURL      = "CHAINALYSIS_REST_URL"
)

const defaultConfigPath = "config.json"

// Config is the top-level facilitator configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Chains     []ChainConfig    `json:"chains" validate:"min=1,dive"`
	Compliance ComplianceConfig `json:"compliance"`
	LogLevel   string           `json:"logLevel" validate:"omitempty,oneof=debug info warn error"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port" validate:"min=1,max=65535"`
	CORSOrigins []string `json:"corsOrigins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ChainConfig describes one chain the facilitator settles on.
// RPCRateLimit caps calls to the RPC endpoint in requests per second, zero
// means unlimited. MaxGasPriceGwei is a decimal gwei amount such as "2.5".
type ChainConfig struct {
	Network                string   `json:"network" validate:"required"`
	RPCURL                 string   `json:"rpcUrl" validate:"required,url"`
	Signers                []string `json:"signers" validate:"min=1"`
	SettlementSigner       string   `json:"settlementSigner" validate:"omitempty,eth_addr"`
	ProxyAddress           string   `json:"proxyAddress" validate:"omitempty,eth_addr"`
	ProxyCodehashAllowlist []string `json:"proxyCodehashAllowlist"`
	RPCTimeoutMs           int      `json:"rpcTimeoutMs" validate:"omitempty,min=100"`
	RPCRateLimit           int      `json:"rpcRateLimit" validate:"omitempty,min=1"`
	MaxGasPriceGwei        string   `json:"maxGasPriceGwei"`
}

// ComplianceConfig mirrors compliance.Config with a JSON-friendly timeout.
type ComplianceConfig struct {
	Enabled       bool     `json:"enabled"`
	DenyList      []string `json:"denyList"`
	AllowList     []string `json:"allowList"`
	Provider      string   `json:"provider" validate:"omitempty,oneof=lists chainalysis"`
	ProviderURL   string   `json:"providerUrl" validate:"omitempty,url"`
	APIKey        string   `json:"apiKey"`
	BlockedStatus string   `json:"blockedStatus"`
	TimeoutMs     int      `json:"timeoutMs" validate:"omitempty,min=1"`
	FailClosed    *bool    `json:"failClosed"`
}

// GateConfig converts to the compliance package's configuration.
// FailClosed defaults to true when unset: an unreachable screening
// provider blocks settlement unless the operator opted out.
func (c ComplianceConfig) GateConfig() compliance.Config {
	failClosed := true
	if c.FailClosed != nil {
		failClosed = *c.FailClosed
	}
	return compliance.Config{
		Enabled:       c.Enabled,
		DenyList:      c.DenyList,
		AllowList:     c.AllowList,
		Provider:      c.Provider,
		ProviderURL:   c.ProviderURL,
		APIKey:        c.APIKey,
		BlockedStatus: c.BlockedStatus,
		Timeout:       time.Duration(c.TimeoutMs) * time.Millisecond,
		FailClosed:    failClosed,
	}
}

// Load reads the config file named by the CONFIG environment variable
// (default config.json), applies environment overrides, and validates.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = defaultConfigPath
	}
	return LoadFile(path)
}

// LoadFile reads and validates a specific config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if host := os.Getenv(EnvHost); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv(EnvPort); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.LogLevel = level
	}

	if enabled, ok := os.LookupEnv(EnvComplianceEnabled); ok {
		c.Compliance.Enabled = parseBool(enabled)
	}
	if list := os.Getenv(EnvComplianceDenyList); list != "" {
		c.Compliance.DenyList = splitList(list)
	}
	if list := os.Getenv(EnvComplianceAllowList); list != "" {
		c.Compliance.AllowList = splitList(list)
	}
	if provider := os.Getenv(EnvComplianceProvider); provider != "" {
		c.Compliance.Provider = strings.ToLower(provider)
	}
	if status := os.Getenv(EnvComplianceBlockedStatus); status != "" {
		c.Compliance.BlockedStatus = status
	}
	if timeout := os.Getenv(EnvComplianceTimeoutMs); timeout != "" {
		if ms, err := strconv.Atoi(timeout); err == nil {
			c.Compliance.TimeoutMs = ms
		}
	}
	if failClosed, ok := os.LookupEnv(EnvComplianceFailClosed); ok {
		value := parseBool(failClosed)
		c.Compliance.FailClosed = &value
	}
	if apiKey := os.Getenv(EnvChainalysisAPIKey); apiKey != "" {
		c.Compliance.APIKey = apiKey
	}
	if restURL := os.Getenv(EnvChainalysisRestURL); restURL != "" {
		c.Compliance.ProviderURL = restURL
	}
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on", "enabled":
		return true
	default:
		return false
	}
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
