package gpiokit

import (
	"sync"
	"time"
)

// loopThread runs a loop body on its own goroutine and joins it on Stop.
// The body must suspend only in waitStop (or poll stopping between steps)
// so that stop latency stays within one wait interval.
type loopThread struct {
	stop chan struct{}
	done chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

func newLoopThread() *loopThread {
	return &loopThread{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (lt *loopThread) Start(body func()) {
	lt.mu.Lock()
	if lt.started {
		lt.mu.Unlock()
		return
	}
	lt.started = true
	lt.mu.Unlock()

	go func() {
		defer close(lt.done)
		body()
	}()
}

// Stop requests cancellation and joins the loop goroutine. Idempotent and
// safe to call before Start or from multiple goroutines.
func (lt *loopThread) Stop() {
	lt.mu.Lock()
	if !lt.stopped {
		lt.stopped = true
		close(lt.stop)
	}
	started := lt.started
	lt.mu.Unlock()

	if started {
		<-lt.done
	}
}

// waitStop suspends for up to d or until Stop is called, whichever comes
// first. Reports whether the thread is stopping.
func (lt *loopThread) waitStop(d time.Duration) bool {
	if d <= 0 {
		return lt.stopping()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-lt.stop:
		return true
	case <-timer.C:
		return false
	}
}

func (lt *loopThread) stopping() bool {
	select {
	case <-lt.stop:
		return true
	default:
		return false
	}
}
