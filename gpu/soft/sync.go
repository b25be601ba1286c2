package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/achilleasa/prism/gpu"
)

type fence struct {
	mu       sync.Mutex
	signaled bool
	done     chan struct{}
	err      error
	timeout  time.Duration
}

func newFence(signaled bool, timeout time.Duration) *fence {
	f := &fence{
		done:    make(chan struct{}),
		timeout: timeout,
	}
	if signaled {
		f.signaled = true
		close(f.done)
	}
	return f
}

func (f *fence) Wait() error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	if f.timeout <= 0 {
		<-done
	} else {
		select {
		case <-done:
		case <-time.After(f.timeout):
			return fmt.Errorf("soft device: fence wait exceeded %s: %w", f.timeout, gpu.ErrDeviceLost)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fence) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		return
	}
	f.signaled = false
	f.err = nil
	f.done = make(chan struct{})
}

func (f *fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *fence) signal(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		return
	}
	f.signaled = true
	f.err = err
	close(f.done)
}

// Binary semaphore.
type semaphore struct {
	ch chan struct{}
}

func newSemaphore() *semaphore {
	return &semaphore{ch: make(chan struct{}, 1)}
}

func (s *semaphore) signal() {
	s.ch <- struct{}{}
}

func (s *semaphore) wait() {
	<-s.ch
}

func (s *semaphore) Destroy() {}

type queryPool struct {
	mu      sync.Mutex
	values  []uint64
	written []bool
}

func newQueryPool(count uint32) *queryPool {
	return &queryPool{
		values:  make([]uint64, count),
		written: make([]bool, count),
	}
}

func (p *queryPool) Results(first, count uint32) ([]uint64, []bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	values := make([]uint64, count)
	available := make([]bool, count)
	for i := uint32(0); i < count && first+i < uint32(len(p.values)); i++ {
		values[i] = p.values[first+i]
		available[i] = p.written[first+i]
	}
	return values, available
}

func (p *queryPool) reset(first, count uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := first; i < first+count && i < uint32(len(p.written)); i++ {
		p.written[i] = false
	}
}

func (p *queryPool) write(index uint32, value uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index >= uint32(len(p.values)) {
		return fmt.Errorf("soft device: query index %d out of range", index)
	}
	p.values[index] = value
	p.written[index] = true
	return nil
}

func (p *queryPool) Destroy() {}
