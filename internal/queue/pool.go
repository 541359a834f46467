package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pool is an in-process queue drained by a fixed set of workers.
type Pool struct {
	handler   Handler
	onFailure FailureFunc
	workers   int
	queue     chan Task
	log       zerolog.Logger

	mu        sync.Mutex
	stopped   bool
	stopCh    chan struct{}
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

func NewPool(workers, buffer int, h Handler, onFailure FailureFunc, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Pool{
		handler:   h,
		onFailure: onFailure,
		workers:   workers,
		queue:     make(chan Task, buffer),
		log:       log.With().Str("component", "pool").Logger(),
	}
}

// Publish enqueues without blocking. A full buffer is reported as ErrQueueFull.
func (p *Pool) Publish(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports tasks waiting for a worker.
func (p *Pool) Len() int { return len(p.queue) }

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil || p.stopped {
		return
	}
	p.stopCh = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	p.runCancel = cancel

	stopCh := p.stopCh
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		idx := i
		go func() {
			defer p.wg.Done()
			p.worker(runCtx, stopCh, idx)
		}()
	}
	p.log.Info().Int("workers", p.workers).Int("buffer", cap(p.queue)).Msg("pool started")
}

// Stop signals workers and waits for running tasks until ctx expires.
// Tasks still buffered are handed to the failure callback with ErrPoolStopped.
func (p *Pool) Stop(ctx context.Context) {
	start := time.Now()
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if p.stopCh != nil {
		close(p.stopCh)
		p.runCancel()
		p.stopCh = nil
		p.runCancel = nil
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info().Dur("took", time.Since(start)).Msg("pool stopped")
	case <-ctx.Done():
		p.log.Warn().Msg("pool stop timed out, workers still running")
	}

	if n := p.drain(context.WithoutCancel(ctx)); n > 0 {
		p.log.Warn().Int("tasks", n).Msg("reported unstarted tasks as failed")
	}
}

// drain empties the buffer. Each task is received once, by a worker or here.
func (p *Pool) drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case t := <-p.queue:
			n++
			p.log.Error().Err(ErrPoolStopped).Str("campaign_id", t.CampaignID).Msg("dispatch task never ran")
			if p.onFailure != nil {
				p.onFailure(ctx, t, ErrPoolStopped)
			}
		default:
			return n
		}
	}
}

func (p *Pool) worker(ctx context.Context, stopCh <-chan struct{}, idx int) {
	for {
		// stop wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-p.queue:
			p.run(ctx, t, idx)
		}
	}
}

func (p *Pool) run(ctx context.Context, t Task, idx int) {
	err := runHandler(ctx, p.handler, t, p.log, idx)
	if err == nil {
		return
	}
	p.log.Error().Err(err).Int("worker", idx).Str("campaign_id", t.CampaignID).Msg("dispatch task failed")
	if p.onFailure != nil {
		p.onFailure(context.WithoutCancel(ctx), t, err)
	}
}

// runHandler turns a handler panic into an error.
func runHandler(ctx context.Context, h Handler, t Task, log zerolog.Logger, idx int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int("worker", idx).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("panic in dispatch worker")
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return h(ctx, t)
}

var _ Queue = (*Pool)(nil)
