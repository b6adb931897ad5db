package settlement

import (
	"context"
	"sync"
)

// AccountLock serializes submissions per ledger account. Ownership is handed
// directly to the oldest waiter on release, so waiters never race to re-check.
type AccountLock struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	waiters []chan struct{}
}

func NewAccountLock() *AccountLock {
	return &AccountLock{slots: make(map[string]*lockSlot)}
}

// Acquire blocks until the caller owns key. A cancelled waiter leaves the queue.
func (l *AccountLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, busy := l.slots[key]
	if !busy {
		l.slots[key] = &lockSlot{}
		l.mu.Unlock()
		return l.releaseFunc(key), nil
	}
	ch := make(chan struct{})
	slot.waiters = append(slot.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return l.releaseFunc(key), nil
	case <-ctx.Done():
		l.mu.Lock()
		defer l.mu.Unlock()
		select {
		case <-ch:
			// Ownership arrived together with the cancellation; pass it on.
			l.handOff(key)
		default:
			l.dropWaiter(key, ch)
		}
		return nil, ctx.Err()
	}
}

// TryAcquire takes key only if it is free.
func (l *AccountLock) TryAcquire(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.slots[key]; busy {
		return nil, false
	}
	l.slots[key] = &lockSlot{}
	return l.releaseFunc(key), true
}

// Busy reports whether a submission for key is in flight.
func (l *AccountLock) Busy(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.slots[key]
	return busy
}

// Waiting returns the number of callers queued on key.
func (l *AccountLock) Waiting(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot, ok := l.slots[key]; ok {
		return len(slot.waiters)
	}
	return 0
}

func (l *AccountLock) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.handOff(key)
		})
	}
}

// handOff gives key to the next waiter or frees it. Must hold mu.
func (l *AccountLock) handOff(key string) {
	slot, ok := l.slots[key]
	if !ok {
		return
	}
	if len(slot.waiters) == 0 {
		delete(l.slots, key)
		return
	}
	next := slot.waiters[0]
	slot.waiters = slot.waiters[1:]
	close(next)
}

func (l *AccountLock) dropWaiter(key string, ch chan struct{}) {
	slot, ok := l.slots[key]
	if !ok {
		return
	}
	for i, w := range slot.waiters {
		if w == ch {
			slot.waiters = append(slot.waiters[:i], slot.waiters[i+1:]...)
			return
		}
	}
}
