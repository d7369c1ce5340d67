// Package lock provides per-account locking for ledger operations.
// Every mutating operation acquires the lock of each account it reads or
// writes, so no operation observes a partially-applied effect of another.
package lock

import "sync"

// accountMutex wraps a mutex with reference counting for reuse.
type accountMutex struct {
	mu       sync.Mutex
	refCount int
}

// KeyLock provides per-key locking to serialize operations against the
// same account (user, oracle, or the treasury singleton).
type KeyLock struct {
	locks sync.Map // map[string]*accountMutex
	pool  sync.Pool
}

// NewKeyLock creates a new KeyLock instance.
func NewKeyLock() *KeyLock {
	return &KeyLock{
		pool: sync.Pool{
			New: func() any {
				return &accountMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given key.
func (kl *KeyLock) getLock(key string) *accountMutex {
	if v, ok := kl.locks.Load(key); ok {
		return v.(*accountMutex)
	}

	newLock := kl.pool.Get().(*accountMutex)
	newLock.refCount = 0

	actual, loaded := kl.locks.LoadOrStore(key, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool.
		kl.pool.Put(newLock)
	}
	return actual.(*accountMutex)
}

// Lock acquires the lock for a key.
func (kl *KeyLock) Lock(key string) {
	l := kl.getLock(key)
	l.mu.Lock()
	l.refCount++
}

// Unlock releases the lock for a key.
func (kl *KeyLock) Unlock(key string) {
	if v, ok := kl.locks.Load(key); ok {
		l := v.(*accountMutex)
		l.refCount--
		l.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
func (kl *KeyLock) TryLock(key string) bool {
	l := kl.getLock(key)
	if l.mu.TryLock() {
		l.refCount++
		return true
	}
	return false
}

// WithLock executes fn while holding the key's lock.
func (kl *KeyLock) WithLock(key string, fn func() error) error {
	kl.Lock(key)
	defer kl.Unlock(key)
	return fn()
}

// WithLocks executes fn while holding every key's lock. Keys must be given
// in a globally consistent order to avoid deadlock.
func (kl *KeyLock) WithLocks(keys []string, fn func() error) error {
	for _, k := range keys {
		kl.Lock(k)
	}
	defer func() {
		for i := len(keys) - 1; i >= 0; i-- {
			kl.Unlock(keys[i])
		}
	}()
	return fn()
}
