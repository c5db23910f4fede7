package service

import "sync"

// userLocks serializes check-then-act sequences per user. Capacity checks and
// the writes that follow them are not atomic at the storage layer, so two
// concurrent extractions for the same user could both pass the limit check.
// The lock is keyed by user ID and never spans users. It is in-process only:
// across multiple service instances the cap stays best-effort (documented
// behavior); deployments needing a hard cap should swap in a distributed lock.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewUserLocks builds an empty per-user lock set shared across services.
func NewUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the per-user mutex and returns the unlock function.
func (l *userLocks) Lock(userID string) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
