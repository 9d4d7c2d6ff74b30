package escrow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SubmissionCache guards state-changing operations against duplicate
// submission. It tracks in-flight operations per key so that concurrent
// duplicates wait for the first one, and caches confirmed results under
// caller-supplied idempotency keys so that a retried request returns the
// original result instead of submitting a second transaction.
type SubmissionCache struct {
	mu       sync.Mutex
	results  map[string]*TxResult
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewSubmissionCache creates a new submission cache with the specified TTL.
func NewSubmissionCache(ttl time.Duration) *SubmissionCache {
	return &SubmissionCache{
		results:  make(map[string]*TxResult),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// OperationKey identifies a logical operation: the same op against the same
// agreement (and requirement, for completions).
func OperationKey(agreement common.Address, op Operation, index *uint64) string {
	parts := []string{string(op), strings.ToLower(agreement.Hex())}
	if index != nil {
		parts = append(parts, strconv.FormatUint(*index, 10))
	}
	return strings.Join(parts, ":")
}

// IdempotencyKey scopes a caller-supplied key to the signing identity and
// operation, so two callers picking the same key never collide.
func IdempotencyKey(identity common.Address, op Operation, key string) string {
	hash := sha256.Sum256([]byte(strings.ToLower(identity.Hex()) + "|" + string(op) + "|" + key))
	return "idem:" + hex.EncodeToString(hash[:])
}

// SubmissionStatus represents the result of checking the cache.
type SubmissionStatus int

const (
	// StatusNotFound means no cached result and no in-flight submission.
	StatusNotFound SubmissionStatus = iota
	// StatusCached means a confirmed result was found.
	StatusCached
	// StatusInFlight means another caller is currently submitting this operation.
	StatusInFlight
)

// CheckAndMark atomically checks the cache and marks the key as in-flight if needed.
// Returns:
// - StatusCached + result if a cached result exists
// - StatusInFlight + wait channel if another caller is submitting
// - StatusNotFound + done channel if this caller should proceed (now marked in-flight)
func (c *SubmissionCache) CheckAndMark(key string) (SubmissionStatus, *TxResult, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return StatusCached, result, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, nil, done
}

// WaitForResult waits for an in-flight submission to finish, respecting context
// cancellation. Returns the cached result if one was stored, nil otherwise.
func (c *SubmissionCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*TxResult, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get retrieves a cached result if it exists and hasn't expired.
func (c *SubmissionCache) Get(key string) *TxResult {
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

// Complete caches result under key and signals any waiting goroutines.
func (c *SubmissionCache) Complete(key string, result *TxResult, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = result
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	c.cleanupExpiredLocked()
}

// Release removes the in-flight marker without caching a result. Waiters wake
// up and re-run their own checks.
func (c *SubmissionCache) Release(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

// Len returns the number of cached results, expired entries included
func (c *SubmissionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (c *SubmissionCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
