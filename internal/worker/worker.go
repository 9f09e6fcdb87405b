package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"airguard/internal/logger"
	"airguard/internal/metrics"
)

// Task is one unit of background work. Run receives a context bounded by
// the pool's task timeout.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Submitter accepts background tasks; *Pool satisfies it
type Submitter interface {
	Submit(task Task) bool
}

// Pool runs submitted tasks on a fixed set of workers fed by a bounded queue.
// Callers never wait for completion; a failing or panicking task does not
// affect the others.
type Pool struct {
	queue         chan Task
	workers       int
	taskTimeout   time.Duration
	submitTimeout time.Duration

	mu      sync.RWMutex
	started bool
	closed  bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Workers   int
	QueueSize int

	// TaskTimeout bounds each task's context
	TaskTimeout time.Duration

	// SubmitTimeout is how long Submit waits for room in a full queue
	// before dropping the task
	SubmitTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if cfg.SubmitTimeout < 0 {
		cfg.SubmitTimeout = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	metrics.WorkerQueueCapacity.Set(float64(cfg.QueueSize))

	return &Pool{
		queue:         make(chan Task, cfg.QueueSize),
		workers:       cfg.Workers,
		taskTimeout:   cfg.TaskTimeout,
		submitTimeout: cfg.SubmitTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("queue_size", cap(p.queue)).
		Dur("task_timeout", p.taskTimeout).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues a task. When the queue is full it waits up to the submit
// timeout and then drops the task, returning false.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	log := logger.WithComponent("worker_pool")

	if p.closed {
		log.Warn().Str("task", task.Name).Msg("pool stopped, task rejected")
		p.drop()
		return false
	}

	select {
	case p.queue <- task:
		metrics.WorkerQueueSize.Set(float64(len(p.queue)))
		return true
	default:
	}

	if p.submitTimeout > 0 {
		timer := time.NewTimer(p.submitTimeout)
		defer timer.Stop()

		select {
		case p.queue <- task:
			metrics.WorkerQueueSize.Set(float64(len(p.queue)))
			return true
		case <-timer.C:
		}
	}

	log.Error().
		Str("task", task.Name).
		Int("queue_size", len(p.queue)).
		Msg("worker queue full, task dropped")
	p.drop()
	return false
}

func (p *Pool) drop() {
	p.dropped.Add(1)
	metrics.WorkerDroppedTotal.Inc()
}

// Stop rejects new tasks, lets the workers drain the queue and waits for them
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	log := logger.WithComponent("worker_pool")
	log.Info().Int("pending", len(p.queue)).Msg("stopping worker pool")

	if started {
		p.wg.Wait()
	}
	p.cancel()
	metrics.WorkerQueueSize.Set(0)

	log.Info().Msg("worker pool stopped")
}

// worker runs tasks until the queue is closed and empty
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()
	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	for task := range p.queue {
		metrics.WorkerQueueSize.Set(float64(len(p.queue)))
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	log := logger.WithComponent("worker").With().
		Int("worker_id", id).
		Str("task", task.Name).
		Logger()

	ctx, cancel := context.WithTimeout(p.ctx, p.taskTimeout)
	defer cancel()

	start := time.Now()
	err := p.safeRun(ctx, task)
	duration := time.Since(start)

	if err != nil {
		log.Error().Err(err).Dur("duration", duration).Msg("task failed")
		p.failed.Add(1)
		metrics.WorkerFailedTotal.Inc()
		return
	}

	log.Debug().Dur("duration", duration).Msg("task completed")
	p.processed.Add(1)
	metrics.WorkerProcessedTotal.Inc()
}

// safeRun converts a panic inside the task into an error
func (p *Pool) safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log := logger.WithComponent("worker")
			log.Error().
				Str("task", task.Name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			err = fmt.Errorf("task %q panicked: %v", task.Name, r)
		}
	}()

	if task.Run == nil {
		return fmt.Errorf("task %q has no run function", task.Name)
	}
	return task.Run(ctx)
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
		Queued:    len(p.queue),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64
	Failed    uint64
	Dropped   uint64
	Queued    int
}
