package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"
)

// pool runs background tasks with bounded concurrency.
// Submitting never blocks; tasks wait for a slot in their own goroutine.
type pool struct {
	sem    *semaphore.Weighted
	clock  clock.Clock
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func newPool(size int64, clk clock.Clock, log *slog.Logger) *pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &pool{
		sem:    semaphore.NewWeighted(size),
		clock:  clk,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go schedules fn. It returns false once the pool has been stopped.
// fn receives a context that is cancelled when Stop gives up waiting.
func (p *pool) Go(fn func(ctx context.Context)) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		fn(p.ctx)
	}()
	return true
}

// Stop refuses new tasks and waits up to grace for the running ones.
// Tasks still running after grace are cancelled and an error is returned.
func (p *pool) Stop(grace time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-p.clock.After(grace):
		p.log.Warn("Background tasks still running after grace period, cancelling", "grace", grace)
		p.cancel()
		return fmt.Errorf("failed to drain worker pool within %s", grace)
	}
}
