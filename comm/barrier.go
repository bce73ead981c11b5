package comm

import (
	"context"
	"sync"
)

// barrier is a reusable rendezvous for a fixed number of ranks.
type barrier struct {
	mu    sync.Mutex
	n     int
	count int
	gen   chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, gen: make(chan struct{})}
}

func (b *barrier) wait(ctx context.Context) error {
	b.mu.Lock()
	b.count++
	if b.count == b.n {
		close(b.gen)
		b.gen = make(chan struct{})
		b.count = 0
		b.mu.Unlock()
		return nil
	}
	gen := b.gen
	b.mu.Unlock()
	select {
	case <-gen:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
