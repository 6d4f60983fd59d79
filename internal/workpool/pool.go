// Package workpool bounds CPU-bound work (extraction, embedding) so it never
// occupies more than a fixed number of goroutines at once, leaving I/O
// goroutines free to make progress.
package workpool

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	serrors "github.com/Aman-CERP/searchidx/internal/errors"
)

// Pool is a counting-semaphore gate. The zero value is not usable; use New.
type Pool struct {
	sem    *semaphore.Weighted
	size   int
	active atomic.Int64
	peak   atomic.Int64
}

// New creates a pool with size slots. size <= 0 uses runtime.NumCPU().
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return p.size }

// Peak returns the highest number of concurrently running tasks observed.
func (p *Pool) Peak() int { return int(p.peak.Load()) }

// Do runs fn while holding one slot. It returns ctx.Err() if the context
// ends before a slot frees up. A panic in fn is returned as an internal error.
func (p *Pool) Do(ctx context.Context, fn func() error) (err error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = serrors.InternalError(fmt.Sprintf("worker panic: %v", r), nil).
				WithDetail("stack", string(debug.Stack()))
		}
	}()
	return fn()
}

// Call runs fn on p and returns its value.
func Call[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
