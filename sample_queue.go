package gpiokit

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrInvalidConfig marks a configuration failure: an out-of-range device
// parameter at construction or mutation. Never produced by a running
// sampling loop.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrSamplerStopped is returned by blocking reads when the sampling loop
// exited before its window ever filled, instead of leaving the caller
// blocked on a dead sampler.
var ErrSamplerStopped = errors.New("sampler stopped before window filled")

// sampleQueue is a bounded sliding window of samples with a single writer
// (the owning sampler goroutine) and any number of concurrent readers.
// Once the window has been filled the full latch stays set for the
// lifetime of the queue.
type sampleQueue struct {
	mu       sync.RWMutex
	samples  []float64
	capacity int

	full       *latch
	terminated *latch
}

func newSampleQueue(capacity int) (*sampleQueue, error) {
	if capacity < 1 {
		return nil, errors.Wrap(ErrInvalidConfig, "queue length must be at least one")
	}
	return &sampleQueue{
		samples:    make([]float64, 0, capacity),
		capacity:   capacity,
		full:       newLatch(),
		terminated: newLatch(),
	}, nil
}

// Push appends a sample, evicting the oldest when the window is at
// capacity.
func (sq *sampleQueue) Push(sample float64) {
	sq.mu.Lock()
	if len(sq.samples) == sq.capacity {
		copy(sq.samples, sq.samples[1:])
		sq.samples[sq.capacity-1] = sample
	} else {
		sq.samples = append(sq.samples, sample)
	}
	filled := len(sq.samples) == sq.capacity
	sq.mu.Unlock()

	if filled {
		sq.full.Set()
	}
}

func (sq *sampleQueue) Len() int {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	return len(sq.samples)
}

func (sq *sampleQueue) Cap() int {
	return sq.capacity
}

func (sq *sampleQueue) Full() bool {
	return sq.full.IsSet()
}

// Mean returns the arithmetic mean of the samples currently present, or
// 0.0 for an empty window.
func (sq *sampleQueue) Mean() float64 {
	sq.mu.RLock()
	defer sq.mu.RUnlock()

	if len(sq.samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range sq.samples {
		sum += sample
	}
	return sum / float64(len(sq.samples))
}

// Read returns the windowed mean and the number of samples behind it.
// With partial false it blocks the caller until the window has filled at
// least once; if the sampler dies first the caller is released with
// ErrSamplerStopped instead of waiting forever.
func (sq *sampleQueue) Read(partial bool) (mean float64, count int, err error) {
	if !partial {
		select {
		case <-sq.full.channel():
		case <-sq.terminated.channel():
			if !sq.full.IsSet() {
				err = ErrSamplerStopped
			}
		}
	}

	sq.mu.RLock()
	count = len(sq.samples)
	sq.mu.RUnlock()

	mean = sq.Mean()
	return
}

// terminate marks the owning sampler as gone, releasing blocked readers.
func (sq *sampleQueue) terminate() {
	sq.terminated.Set()
}
