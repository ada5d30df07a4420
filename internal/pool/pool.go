// Package pool provides a bounded slot pool for controlled concurrency.
package pool

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// RunPool bounds the number of concurrently supervised background runs.
type RunPool struct {
	slots  chan struct{}
	closed atomic.Bool

	// Stats
	acquired atomic.Int64
	rejected atomic.Int64
}

// New creates a pool with maxConcurrent slots (minimum 1).
func New(maxConcurrent int) *RunPool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &RunPool{slots: make(chan struct{}, maxConcurrent)}
}

// Acquire blocks until a slot is free or the context is done.
func (p *RunPool) Acquire(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	select {
	case p.slots <- struct{}{}:
		p.acquired.Add(1)
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

// TryAcquire grabs a slot without blocking.
func (p *RunPool) TryAcquire() error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	select {
	case p.slots <- struct{}{}:
		p.acquired.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// Release frees a slot. Must be called exactly once per successful
// acquire.
func (p *RunPool) Release() {
	select {
	case <-p.slots:
	default:
	}
}

// Active returns the number of held slots.
func (p *RunPool) Active() int { return len(p.slots) }

// Stats returns the lifetime acquire/reject counters.
func (p *RunPool) Stats() (acquired, rejected int64) {
	return p.acquired.Load(), p.rejected.Load()
}

// Close rejects future acquires. Held slots may still be released.
func (p *RunPool) Close() { p.closed.Store(true) }
