package conversation

import (
	"sync"

	"github.com/mailtriage/pkg/models"
)

// keyLocks hands out one mutex per item key and forgets it once nobody holds
// or waits on it.
type keyLocks struct {
	mu    sync.Mutex
	locks map[models.ItemKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[models.ItemKey]*keyLock)}
}

func (k *keyLocks) lock(key models.ItemKey) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLocks) busy(key models.ItemKey) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.locks[key]
	return ok
}
