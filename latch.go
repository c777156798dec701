package gpiokit

import (
	"sync"
	"time"
)

// latch is a manually reset event: waiters block until it is set.
// The light/dark and capacitor-charged signals are latches that get
// cleared again; the window-full latch is set once and never cleared.
type latch struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

func (la *latch) Set() {
	la.mu.Lock()
	defer la.mu.Unlock()
	if !la.set {
		la.set = true
		close(la.ch)
	}
}

func (la *latch) Clear() {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.set {
		la.set = false
		la.ch = make(chan struct{})
	}
}

func (la *latch) IsSet() bool {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.set
}

// channel returns the channel that closes when the latch is set. A waiter
// must grab it once and select on it; grabbing it again after a Clear
// would observe the fresh channel.
func (la *latch) channel() <-chan struct{} {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.ch
}

// Wait blocks until the latch is set or timeout passes; timeout <= 0 waits
// indefinitely. Reports whether the latch was set.
func (la *latch) Wait(timeout time.Duration) bool {
	ch := la.channel()
	if timeout <= 0 {
		<-ch
		return true
	}

	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return la.IsSet()
	}
}
