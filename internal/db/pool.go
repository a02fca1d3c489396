package db

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// acquirePollInterval is the sleep between acquisition attempts while the
// pool is exhausted.
const acquirePollInterval = 50 * time.Millisecond

// Factory mints a new connection.
type Factory func(ctx context.Context) (Store, error)

// Pool is a fixed-size connection pool. Each ingestion run acquires one Store
// for its whole duration; when all slots are busy, Acquire blocks until a
// slot frees up or the context is done.
type Pool struct {
	factory Factory
	max     int

	mu     sync.Mutex
	idle   []Store
	opened int
	closed bool
}

// NewPool builds a pool of at most max connections. max values below 1 are
// bumped to 1.
func NewPool(max int, factory Factory) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{factory: factory, max: max}
}

// Acquire returns an exclusively-owned connection, opening a new one while
// capacity remains and otherwise polling until a connection is released.
func (p *Pool) Acquire(ctx context.Context) (Store, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, fmt.Errorf("pool: closed")
		}
		if n := len(p.idle); n > 0 {
			s := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			return s, nil
		}
		if p.opened < p.max {
			p.opened++
			p.mu.Unlock()
			s, err := p.factory(ctx)
			if err != nil {
				p.mu.Lock()
				p.opened--
				p.mu.Unlock()
				return nil, err
			}
			return s, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(acquirePollInterval):
		}
	}
}

// Release returns a connection to the pool. Connections released after Close
// are shut down instead.
func (p *Pool) Release(ctx context.Context, s Store) {
	if s == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.opened--
		p.mu.Unlock()
		_ = s.Close(ctx)
		return
	}
	p.idle = append(p.idle, s)
	p.mu.Unlock()
}

// Discard drops a broken connection without returning it to the pool.
func (p *Pool) Discard(ctx context.Context, s Store) {
	if s == nil {
		return
	}
	p.mu.Lock()
	p.opened--
	p.mu.Unlock()
	_ = s.Close(ctx)
}

// Close shuts down all idle connections and marks the pool closed.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.opened -= len(idle)
	p.mu.Unlock()

	var firstErr error
	for _, s := range idle {
		if err := s.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
