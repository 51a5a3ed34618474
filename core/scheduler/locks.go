package scheduler

import "sync"

// InstanceLocks serializes work on the same cloud resource within this
// process
type InstanceLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewInstanceLocks creates an empty lock table
func NewInstanceLocks() *InstanceLocks {
	return &InstanceLocks{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns the matching unlock func
func (l *InstanceLocks) Lock(key string) func() {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Held reports how many keys are locked or awaited
func (l *InstanceLocks) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
