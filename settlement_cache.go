package x402

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SettlementCache provides idempotency for settle operations. Terminal
// results are cached for a TTL so client retries after a timeout get the
// original outcome, and a per-authorization in-flight marker ensures the
// same nonce is never submitted twice concurrently. A duplicate arriving
// while the first attempt is pending is rejected immediately rather than
// queued: when the on-chain outcome of the first attempt is unknown, the
// safe answer is to refuse, not to resubmit.
type SettlementCache struct {
	mu       sync.Mutex
	results  map[string]*SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]struct{}
	ttl      time.Duration
}

// NewSettlementCache creates a settlement cache with the specified TTL
// for terminal results.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		results:  make(map[string]*SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]struct{}),
		ttl:      ttl,
	}
}

// SettlementKey derives the idempotency key for a payment payload.
// When the payload carries a Permit2 authorization the key is the
// (owner, nonce) pair, which is exactly the uniqueness the proxy's nonce
// bitmap enforces on-chain. Payloads without a recognizable authorization
// fall back to a hash of the full payload bytes.
func SettlementKey(payload PaymentPayload) string {
	if auth, ok := payload.Payload["permit2Authorization"].(map[string]interface{}); ok {
		owner, _ := auth["from"].(string)
		var nonce string
		switch n := auth["nonce"].(type) {
		case string:
			nonce = n
		case float64:
			nonce = fmt.Sprintf("%.0f", n)
		}
		if owner != "" && nonce != "" {
			return strings.ToLower(owner) + ":" + nonce
		}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		payloadBytes = []byte(fmt.Sprintf("%v", payload))
	}
	hash := sha256.Sum256(payloadBytes)
	return hex.EncodeToString(hash[:])
}

// SettlementStatus represents the result of checking the cache.
type SettlementStatus int

const (
	// StatusNotFound means no cached result and no in-flight attempt;
	// the caller now holds the in-flight marker and must Complete or Release.
	StatusNotFound SettlementStatus = iota
	// StatusCached means a cached terminal result was found.
	StatusCached
	// StatusInFlight means another request is currently settling this key.
	StatusInFlight
)

// CheckAndMark atomically checks the cache and claims the in-flight marker
// when the key is free.
func (c *SettlementCache) CheckAndMark(key string) (SettlementStatus, *SettleResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return StatusCached, result
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if _, exists := c.inFlight[key]; exists {
		return StatusInFlight, nil
	}

	c.inFlight[key] = struct{}{}
	return StatusNotFound, nil
}

// Get retrieves a cached settlement response if present and unexpired.
func (c *SettlementCache) Get(key string) *SettleResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists {
		return nil
	}
	if time.Now().After(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil
	}
	return c.results[key]
}

// Complete caches a terminal settlement result and releases the
// in-flight marker.
func (c *SettlementCache) Complete(key string, response *SettleResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = response
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)

	c.cleanupExpiredLocked()
}

// Release drops the in-flight marker without caching a result, so a later
// retry can attempt settlement again. Used for failures that never reached
// the chain.
func (c *SettlementCache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}

func (c *SettlementCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
