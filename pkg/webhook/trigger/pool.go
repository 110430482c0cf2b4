package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/owlhub/platform/pkg/config"
)

// ErrQueueFull is returned when async dispatch cannot accept more work.
var ErrQueueFull = errors.New("dispatch queue full")

// Pool runs async dispatch jobs on a fixed set of workers. Stop drains
// in-flight work up to the configured graceful shutdown timeout.
type Pool struct {
	jobs            chan func(ctx context.Context)
	workerCount     int
	shutdownTimeout time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
}

// NewPool creates a pool from the worker configuration.
func NewPool(cfg *config.WorkerConfig) *Pool {
	return &Pool{
		jobs:            make(chan func(ctx context.Context), cfg.QueueSize),
		workerCount:     cfg.WorkerCount,
		shutdownTimeout: cfg.GracefulShutdownTimeout,
	}
}

// Start spawns the worker goroutines. Safe to call once; subsequent
// calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Dispatch pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("Starting dispatch pool", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job(ctx)
			}
		}()
	}
}

// Submit enqueues a job without blocking. It fails with ErrQueueFull
// when the backlog is at capacity.
func (p *Pool) Submit(job func(ctx context.Context)) error {
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight jobs to finish, up to
// the graceful shutdown timeout.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		slog.Info("Stopping dispatch pool gracefully")
		close(p.jobs)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			slog.Info("Dispatch pool stopped")
		case <-time.After(p.shutdownTimeout):
			slog.Warn("Dispatch pool shutdown timed out with work still in flight",
				"timeout", p.shutdownTimeout)
		}
	})
}
