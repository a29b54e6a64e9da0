package actions

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"merchant-guard/internal/metrics"
)

// ErrPoolStopped is returned by Enqueue after Stop.
var ErrPoolStopped = errors.New("action pool stopped")

// Queue schedules one execution of an action.
type Queue interface {
	Enqueue(ctx context.Context, actionID uuid.UUID) error
}

// Handler executes one queued action.
type Handler func(ctx context.Context, actionID uuid.UUID)

// QueueFunc runs the handler synchronously on Enqueue.
type QueueFunc Handler

// Enqueue implements Queue.
func (f QueueFunc) Enqueue(ctx context.Context, actionID uuid.UUID) error {
	f(ctx, actionID)
	return nil
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers   int
	QueueSize int
	Handler   Handler
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Processed uint64
	Panics    uint64
	Queued    int
}

// Pool executes queued actions on a fixed set of workers.
type Pool struct {
	handler Handler
	jobs    chan uuid.UUID
	workers int

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	processed atomic.Uint64
	panics    atomic.Uint64

	logger zerolog.Logger
}

// NewPool creates a worker pool. Start must be called before work is processed.
func NewPool(cfg PoolConfig, logger zerolog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	metrics.WorkerQueueCapacity.Set(float64(cfg.QueueSize))
	return &Pool{
		handler: cfg.Handler,
		jobs:    make(chan uuid.UUID, cfg.QueueSize),
		workers: cfg.Workers,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With().Str("component", "action_pool").Logger(),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.logger.Info().Int("workers", p.workers).Int("queue_size", cap(p.jobs)).Msg("starting action pool")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Enqueue blocks until the action is queued, ctx is done, or the pool stops.
func (p *Pool) Enqueue(ctx context.Context, actionID uuid.UUID) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- actionID:
		metrics.WorkerQueueSize.Set(float64(len(p.jobs)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Stop refuses new work, lets workers drain the queue and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info().Msg("stopping action pool")
	p.wg.Wait()
	p.cancel()
	p.logger.Info().Uint64("processed", p.processed.Load()).Msg("action pool stopped")
}

// Stats returns the current counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Processed: p.processed.Load(),
		Panics:    p.panics.Load(),
		Queued:    len(p.jobs),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.logger.With().Int("worker_id", id).Logger()
	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	for actionID := range p.jobs {
		metrics.WorkerQueueSize.Set(float64(len(p.jobs)))
		p.handle(log, actionID)
	}
}

func (p *Pool) handle(log zerolog.Logger, actionID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			metrics.PanicsRecovered.WithLabelValues("action_pool").Inc()
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("action_id", actionID.String()).
				Msg("worker panic recovered")
		}
	}()
	p.handler(p.ctx, actionID)
	p.processed.Add(1)
}
