package sentry_transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultBufferSize is the concurrency ceiling used when none is configured.
const DefaultBufferSize = 30

// RequestBuffer bounds the number of delivery operations running at once.
// Admission beyond the limit is rejected, never queued.
type RequestBuffer struct {
	limit int

	mu       sync.Mutex
	inFlight int
	idle     chan struct{} // closed while inFlight == 0
}

// NewRequestBuffer creates a buffer admitting at most limit concurrent operations.
func NewRequestBuffer(limit int) *RequestBuffer {
	if limit <= 0 {
		limit = DefaultBufferSize
	}

	idle := make(chan struct{})
	close(idle)

	return &RequestBuffer{
		limit: limit,
		idle:  idle,
	}
}

// Pending mirrors the eventual outcome of an admitted operation.
type Pending struct {
	done chan struct{}
	resp *Response
	err  error
}

// Done is closed once the operation has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the operation settles or ctx is done. Giving up on ctx
// does not stop the operation.
func (p *Pending) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Add admits fn and runs it on its own goroutine. It fails with a
// *BufferFullError when the limit is reached.
func (b *RequestBuffer) Add(fn func() (*Response, error)) (*Pending, error) {
	b.mu.Lock()
	if b.inFlight >= b.limit {
		b.mu.Unlock()
		return nil, &BufferFullError{
			PluginError: PluginError{
				Op:      "buffer_add",
				Code:    CodeBufferFull,
				Message: fmt.Sprintf("request buffer is full (%d in flight)", b.limit),
			},
			Limit: b.limit,
		}
	}
	if b.inFlight == 0 {
		b.idle = make(chan struct{})
	}
	b.inFlight++
	b.mu.Unlock()

	p := &Pending{done: make(chan struct{})}

	go func() {
		defer close(p.done)
		defer b.release()
		defer func() {
			if r := recover(); r != nil {
				p.resp, p.err = nil, fmt.Errorf("buffered operation panicked: %v", r)
			}
		}()

		p.resp, p.err = fn()
	}()

	return p, nil
}

func (b *RequestBuffer) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inFlight--
	if b.inFlight == 0 {
		close(b.idle)
	}
}

// Drain waits until nothing is in flight. With a positive timeout it gives up
// and returns false once the timeout elapses; in-flight operations keep running.
func (b *RequestBuffer) Drain(timeout time.Duration) bool {
	b.mu.Lock()
	idle := b.idle
	b.mu.Unlock()

	if timeout <= 0 {
		<-idle
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	}
}

// Len returns the number of operations currently in flight.
func (b *RequestBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// Limit returns the concurrency ceiling.
func (b *RequestBuffer) Limit() int {
	return b.limit
}
