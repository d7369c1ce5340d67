// Property-based tests for concurrent per-key balance safety.
package lock

import (
	"sync"
	"testing"

	"pgregory.net/rapid"
)

// TestConcurrentKeySafetyProperty checks that for any set of concurrent
// balance operations on the same key, the final balance matches sequential
// execution.
func TestConcurrentKeySafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := rapid.Int64Range(1000, 100_000).Draw(t, "initial")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")

		amounts := make([]int64, numOps)
		expected := initial
		for i := range amounts {
			amounts[i] = rapid.Int64Range(-500, 500).Draw(t, "amount")
			expected += amounts[i]
		}

		key := rapid.StringMatching(`account/[a-z]{1,8}`).Draw(t, "key")

		kl := NewKeyLock()
		balance := initial

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, amount := range amounts {
			go func(amount int64) {
				defer wg.Done()
				kl.Lock(key)
				defer kl.Unlock(key)
				balance += amount
			}(amount)
		}
		wg.Wait()

		if balance != expected {
			t.Fatalf("Balance mismatch with locking: expected %d, got %d (initial=%d, numOps=%d)",
				expected, balance, initial, numOps)
		}
	})
}

// TestIndependentKeysDoNotBlock checks TryLock semantics: a held key blocks
// only itself.
func TestIndependentKeysDoNotBlock(t *testing.T) {
	kl := NewKeyLock()

	kl.Lock("oracle/a")
	defer kl.Unlock("oracle/a")

	if kl.TryLock("oracle/a") {
		t.Fatal("TryLock should fail on a held key")
	}
	if !kl.TryLock("oracle/b") {
		t.Fatal("TryLock should succeed on a free key")
	}
	kl.Unlock("oracle/b")
}

// TestWithLocksOrderedAcquisition checks that WithLocks holds every key for
// the duration of fn.
func TestWithLocksOrderedAcquisition(t *testing.T) {
	kl := NewKeyLock()
	keys := []string{"account/a", "account/b", "treasury"}

	err := kl.WithLocks(keys, func() error {
		for _, k := range keys {
			if kl.TryLock(k) {
				kl.Unlock(k)
				t.Fatalf("Key %q not held inside WithLocks", k)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLocks: %v", err)
	}

	// All released afterwards.
	for _, k := range keys {
		if !kl.TryLock(k) {
			t.Fatalf("Key %q still held after WithLocks", k)
		}
		kl.Unlock(k)
	}
}
