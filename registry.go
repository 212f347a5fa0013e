package x402

import (
	"context"
	"sync"
)

// SchemeNetworkFacilitator verifies and settles payments for one
// (scheme, network family) combination.
type SchemeNetworkFacilitator interface {
	// Scheme returns the scheme identifier this facilitator handles (e.g. "exact")
	Scheme() string

	// Verify runs all off-chain checks without settling
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)

	// Settle re-verifies and submits the on-chain transaction
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)
}

// Registry maps (network, scheme, protocol version) to a concrete
// facilitator so that multiple wire formats and transfer mechanisms can
// coexist. Registration happens once at startup; the registry is read-only
// during request handling.
type Registry struct {
	mu sync.RWMutex

	// Separate maps for V1 and V2 (V2 uses default name, no suffix)
	schemesV1 map[Network]map[string]SchemeNetworkFacilitator
	schemes   map[Network]map[string]SchemeNetworkFacilitator
	extrasV1  map[Network]map[string]map[string]interface{}
	extras    map[Network]map[string]map[string]interface{}

	signers map[Network][]string
}

func NewRegistry() *Registry {
	return &Registry{
		schemesV1: make(map[Network]map[string]SchemeNetworkFacilitator),
		schemes:   make(map[Network]map[string]SchemeNetworkFacilitator),
		extrasV1:  make(map[Network]map[string]map[string]interface{}),
		extras:    make(map[Network]map[string]map[string]interface{}),
		signers:   make(map[Network][]string),
	}
}

// RegisterV1 registers a V1 facilitator mechanism (legacy wire format)
func (r *Registry) RegisterV1(network Network, facilitator SchemeNetworkFacilitator, extra ...map[string]interface{}) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.schemesV1[network] == nil {
		r.schemesV1[network] = make(map[string]SchemeNetworkFacilitator)
	}
	r.schemesV1[network][facilitator.Scheme()] = facilitator

	if len(extra) > 0 {
		if r.extrasV1[network] == nil {
			r.extrasV1[network] = make(map[string]map[string]interface{})
		}
		r.extrasV1[network][facilitator.Scheme()] = extra[0]
	}
	return r
}

// Register registers a facilitator mechanism (V2, default)
func (r *Registry) Register(network Network, facilitator SchemeNetworkFacilitator, extra ...map[string]interface{}) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.schemes[network] == nil {
		r.schemes[network] = make(map[string]SchemeNetworkFacilitator)
	}
	r.schemes[network][facilitator.Scheme()] = facilitator

	if len(extra) > 0 {
		if r.extras[network] == nil {
			r.extras[network] = make(map[string]map[string]interface{})
		}
		r.extras[network][facilitator.Scheme()] = extra[0]
	}
	return r
}

// advertiseSigners records the signer addresses a network settles with,
// surfaced through GetSupported for resource servers that pin senders.
func (r *Registry) AdvertiseSigners(network Network, addresses []string) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[network] = addresses
	return r
}

// Lookup resolves the facilitator for a payload's version, network and
// scheme. Wildcard network registrations ("eip155:*") match any reference
// in the same namespace.
func (r *Registry) Lookup(version int, network Network, scheme string) (SchemeNetworkFacilitator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networkMap := r.schemes
	if version == 1 {
		networkMap = r.schemesV1
	}

	schemes := findSchemesByNetwork(networkMap, network)
	if schemes == nil {
		return nil, false
	}
	facilitator, ok := schemes[scheme]
	return facilitator, ok
}

// GetSupported returns supported payment kinds across both versions.
func (r *Registry) GetSupported() SupportedResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var kinds []SupportedKind

	for network, schemeMap := range r.schemesV1 {
		for scheme := range schemeMap {
			kinds = append(kinds, SupportedKind{
				X402Version: 1,
				Scheme:      scheme,
				Network:     network,
				Extra:       r.extrasV1[network][scheme],
			})
		}
	}

	for network, schemeMap := range r.schemes {
		for scheme := range schemeMap {
			kinds = append(kinds, SupportedKind{
				X402Version: 2,
				Scheme:      scheme,
				Network:     network,
				Extra:       r.extras[network][scheme],
			})
		}
	}

	signers := make(map[Network][]string, len(r.signers))
	for network, addresses := range r.signers {
		signers[network] = addresses
	}

	return SupportedResponse{
		Kinds:   kinds,
		Signers: signers,
	}
}

// findSchemesByNetwork finds all schemes for a given network, trying an
// exact match before wildcard patterns.
func findSchemesByNetwork(networkMap map[Network]map[string]SchemeNetworkFacilitator, network Network) map[string]SchemeNetworkFacilitator {
	if schemeMap, exists := networkMap[network]; exists {
		return schemeMap
	}

	for registeredNetwork, schemeMap := range networkMap {
		if network.Match(registeredNetwork) || registeredNetwork.Match(network) {
			return schemeMap
		}
	}

	return nil
}
