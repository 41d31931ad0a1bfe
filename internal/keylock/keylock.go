// Package keylock serializes work per string key.
package keylock

import (
	"sync"

	"github.com/moby/locker"
)

// KeyedMutex provides one mutex per key. Entries are released once no
// goroutine holds or waits on them.
type KeyedMutex struct {
	locks *locker.Locker
}

// New creates an empty keyed mutex
func New() *KeyedMutex {
	return &KeyedMutex{locks: locker.New()}
}

// Lock blocks until key is held and returns the matching unlock func.
// Calling the unlock func more than once is a no-op.
func (k *KeyedMutex) Lock(key string) func() {
	k.locks.Lock(key)
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = k.locks.Unlock(key)
		})
	}
}
