package util

import (
	"context"
	"sync"
	"sync/atomic"
)

// ManagedBlocker is a condition a goroutine may have to sleep on.
type ManagedBlocker interface {
	// IsReleasable reports whether blocking is unnecessary.
	IsReleasable() bool
	// Block sleeps until the condition may hold or ctx is done.
	// It returns true when no further blocking is needed.
	Block(ctx context.Context) bool
}

// ManagedBlock blocks until b is releasable. If ctx belongs to a WorkerPool
// worker, the worker's slot is handed back to the pool for the duration.
// The error is ctx.Err() if the wait was abandoned.
func ManagedBlock(ctx context.Context, b ManagedBlocker) error {
	if b.IsReleasable() {
		return nil
	}
	if s, ok := ctx.Value(slotKey{}).(*slot); ok {
		s.enter()
		defer s.exit()
	}
	for {
		if b.Block(ctx) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// ChanBlocker blocks until the channel is closed.
type ChanBlocker <-chan struct{}

func (c ChanBlocker) IsReleasable() bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

func (c ChanBlocker) Block(ctx context.Context) bool {
	select {
	case <-c:
		return true
	case <-ctx.Done():
		return false
	}
}

// --------------------------------------------------------------------------
// WorkerPool
// --------------------------------------------------------------------------

// WorkerPool bounds the number of running (not blocked) workers.
type WorkerPool struct {
	sem     chan struct{}
	running atomic.Int64
	blocked atomic.Int64
}

// NewWorkerPool creates a pool admitting at most limit running workers.
func NewWorkerPool(limit int) *WorkerPool {
	if limit < 1 {
		limit = 1
	}
	return &WorkerPool{sem: make(chan struct{}, limit)}
}

// Submit waits for a free slot and runs fn on a new goroutine. The context
// passed to fn is derived from ctx and carries the worker's slot.
// Submit returns ctx.Err() if no slot became free before ctx was done.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.running.Add(1)
	s := &slot{p: p}
	go func() {
		defer p.release()
		fn(context.WithValue(ctx, slotKey{}, s))
	}()
	return nil
}

// Running returns the number of workers holding a slot.
func (p *WorkerPool) Running() int { return int(p.running.Load()) }

// Blocked returns the number of workers sleeping in ManagedBlock.
func (p *WorkerPool) Blocked() int { return int(p.blocked.Load()) }

func (p *WorkerPool) release() {
	p.running.Add(-1)
	<-p.sem
}

func (p *WorkerPool) acquire() {
	p.sem <- struct{}{}
	p.running.Add(1)
}

type slotKey struct{}

// slot is the pool membership of one worker. Goroutines that inherit the
// worker's context share it; the slot is returned while any of them blocks.
type slot struct {
	p       *WorkerPool
	mu      sync.Mutex
	waiters int
}

func (s *slot) enter() {
	s.p.blocked.Add(1)
	s.mu.Lock()
	s.waiters++
	first := s.waiters == 1
	s.mu.Unlock()
	if first {
		s.p.release()
	}
}

func (s *slot) exit() {
	s.mu.Lock()
	s.waiters--
	last := s.waiters == 0
	if last {
		s.p.acquire()
	}
	s.mu.Unlock()
	s.p.blocked.Add(-1)
}
