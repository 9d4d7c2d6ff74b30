package escrow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var cacheAgreement = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

func TestOperationKey(t *testing.T) {
	zero, one := uint64(0), uint64(1)

	k1 := OperationKey(cacheAgreement, OpComplete, &zero)
	k2 := OperationKey(cacheAgreement, OpComplete, &one)
	k3 := OperationKey(cacheAgreement, OpComplete, &zero)
	k4 := OperationKey(cacheAgreement, OpCancel, nil)

	if k1 != k3 {
		t.Errorf("Expected same operation to produce same key, got %s and %s", k1, k3)
	}
	if k1 == k2 {
		t.Errorf("Expected different requirement indices to produce different keys")
	}
	if k1 == k4 {
		t.Errorf("Expected different operations to produce different keys")
	}
	if want := "cancel:0x5fbdb2315678afecb367f032d93f642f64180aa3"; k4 != want {
		t.Errorf("OperationKey() = %s, want %s", k4, want)
	}
}

func TestIdempotencyKey(t *testing.T) {
	alice := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bob := common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

	k1 := IdempotencyKey(alice, OpDeposit, "req-1")
	k2 := IdempotencyKey(bob, OpDeposit, "req-1")
	k3 := IdempotencyKey(alice, OpDeposit, "req-1")

	if k1 != k3 {
		t.Errorf("Expected same inputs to produce same key")
	}
	if k1 == k2 {
		t.Errorf("Expected different identities to produce different keys")
	}
	// "idem:" + 64 hex chars
	if len(k1) != 69 {
		t.Errorf("Expected key length 69, got %d", len(k1))
	}
}

func TestSubmissionCache_CheckAndMark_Cached(t *testing.T) {
	cache := NewSubmissionCache(5 * time.Minute)
	key := "test-key"
	result := &TxResult{Operation: OpDeposit, TxHash: common.HexToHash("0x123")}

	status, cached, done := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Errorf("Expected StatusNotFound, got %v", status)
	}
	if cached != nil {
		t.Error("Expected nil result for NotFound")
	}

	cache.Complete(key, result, done)

	status, cached, _ = cache.CheckAndMark(key)
	if status != StatusCached {
		t.Errorf("Expected StatusCached, got %v", status)
	}
	if cached == nil || cached.TxHash != common.HexToHash("0x123") {
		t.Errorf("Expected cached result with transaction 0x123")
	}
}

func TestSubmissionCache_CheckAndMark_InFlight(t *testing.T) {
	cache := NewSubmissionCache(5 * time.Minute)
	key := "inflight-test"

	status1, _, done1 := cache.CheckAndMark(key)
	if status1 != StatusNotFound {
		t.Errorf("Expected StatusNotFound, got %v", status1)
	}

	status2, _, done2 := cache.CheckAndMark(key)
	if status2 != StatusInFlight {
		t.Errorf("Expected StatusInFlight, got %v", status2)
	}
	if done1 != done2 {
		t.Error("Expected same done channel for in-flight submissions")
	}
}

func TestSubmissionCache_Expiry(t *testing.T) {
	cache := NewSubmissionCache(50 * time.Millisecond)
	key := "expiry-test"

	status, _, done := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Fatalf("Expected StatusNotFound, got %v", status)
	}
	cache.Complete(key, &TxResult{Operation: OpCancel}, done)

	status, result, _ := cache.CheckAndMark(key)
	if status != StatusCached {
		t.Error("Expected StatusCached immediately after complete")
	}
	if result == nil {
		t.Error("Expected non-nil result")
	}

	time.Sleep(60 * time.Millisecond)

	status, _, done = cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Errorf("Expected StatusNotFound after expiry, got %v", status)
	}
	cache.Release(key, done)
}

func TestSubmissionCache_Release(t *testing.T) {
	cache := NewSubmissionCache(5 * time.Minute)
	key := "release-test"

	status, _, done := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Fatalf("Expected StatusNotFound, got %v", status)
	}

	cache.Release(key, done)

	// Released keys are neither cached nor in flight
	status, _, done2 := cache.CheckAndMark(key)
	if status != StatusNotFound {
		t.Errorf("Expected StatusNotFound after release, got %v", status)
	}
	cache.Release(key, done2)

	if cache.Len() != 0 {
		t.Errorf("Expected empty cache, got %d entries", cache.Len())
	}
}

func TestSubmissionCache_WaitForResult_Success(t *testing.T) {
	cache := NewSubmissionCache(5 * time.Minute)
	key := "wait-test"
	hash := common.HexToHash("0xabcdef")

	_, _, done := cache.CheckAndMark(key)

	var wg sync.WaitGroup
	var waitResult *TxResult
	var waitErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		waitResult, waitErr = cache.WaitForResult(context.Background(), key, done)
	}()

	time.Sleep(10 * time.Millisecond)
	cache.Complete(key, &TxResult{TxHash: hash}, done)
	wg.Wait()

	if waitErr != nil {
		t.Errorf("Expected no error, got %v", waitErr)
	}
	if waitResult == nil || waitResult.TxHash != hash {
		t.Errorf("Expected result with transaction %s, got %v", hash, waitResult)
	}
}

func TestSubmissionCache_WaitForResult_Released(t *testing.T) {
	cache := NewSubmissionCache(5 * time.Minute)
	key := "released-wait"

	_, _, done := cache.CheckAndMark(key)
	go func() {
		time.Sleep(10 * time.Millisecond)
		cache.Release(key, done)
	}()

	result, err := cache.WaitForResult(context.Background(), key, done)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if result != nil {
		t.Errorf("Expected nil result after release, got %v", result)
	}
}

func TestSubmissionCache_WaitForResult_ContextCancelled(t *testing.T) {
	cache := NewSubmissionCache(5 * time.Minute)
	key := "cancel-test"

	_, _, done := cache.CheckAndMark(key)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var waitErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, waitErr = cache.WaitForResult(ctx, key, done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	wg.Wait()

	if waitErr != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", waitErr)
	}

	cache.Release(key, done)
}

func TestSubmissionCache_AtomicCheckAndMark(t *testing.T) {
	cache := NewSubmissionCache(5 * time.Minute)
	key := "atomic-test"

	var wg sync.WaitGroup
	notFoundCount := 0
	inFlightCount := 0
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, _ := cache.CheckAndMark(key)
			mu.Lock()
			if status == StatusNotFound {
				notFoundCount++
			} else if status == StatusInFlight {
				inFlightCount++
			}
			mu.Unlock()
		}()
	}

	wg.Wait()

	// Exactly one caller owns the slot
	if notFoundCount != 1 {
		t.Errorf("Expected exactly 1 NotFound, got %d", notFoundCount)
	}
	if inFlightCount != 9 {
		t.Errorf("Expected 9 InFlight, got %d", inFlightCount)
	}
}
