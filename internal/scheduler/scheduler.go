package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"airguard/internal/logger"
	"airguard/internal/metrics"
)

var (
	ErrAlreadyRunning  = errors.New("scheduler already running")
	ErrInvalidInterval = errors.New("scheduler interval must be positive")
	ErrNoJob           = errors.New("no job registered")
)

// Trigger names what started a cycle
type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerTimer   Trigger = "timer"
	TriggerManual  Trigger = "manual"
)

// Job is one fetch cycle
type Job func(ctx context.Context) error

// Config configures the scheduler
type Config struct {
	JobID    string
	JobName  string
	Interval time.Duration
	Job      Job

	// JobTimeout bounds a single cycle; zero means the interval
	JobTimeout time.Duration

	Now func() time.Time
}

// Status is a read-only snapshot of the scheduler
type Status struct {
	Running   bool          `json:"running"`
	JobID     string        `json:"job_id"`
	JobName   string        `json:"job_name"`
	Interval  time.Duration `json:"-"`
	IntervalS float64       `json:"interval_seconds"`
	NextRunAt *time.Time    `json:"next_run_time"`
	LastRunAt *time.Time    `json:"last_run_time"`
	LastError string        `json:"last_error,omitempty"`
	InFlight  bool          `json:"in_flight"`
	Runs      uint64        `json:"runs"`
	Dropped   uint64        `json:"dropped"`
}

// Scheduler runs Job every Interval with at most one execution in flight.
// A firing that arrives while a cycle is running is dropped, not queued.
type Scheduler struct {
	cfg    Config
	flight *semaphore.Weighted

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	nextRunAt time.Time
	lastRunAt time.Time
	lastErr   error
	runs      uint64
	dropped   uint64

	inFlight atomic.Bool

	cycles sync.WaitGroup
	loop   sync.WaitGroup
}

// New creates a stopped scheduler
func New(cfg Config) *Scheduler {
	if cfg.JobID == "" {
		cfg.JobID = "fetch_aqi_data"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		cfg:    cfg,
		flight: semaphore.NewWeighted(1),
	}
}

// Start registers the recurring timer, runs one cycle synchronously as a
// warm start, and returns. The warm-start result is returned for logging
// only; the scheduler keeps running even when it fails.
func (s *Scheduler) Start(ctx context.Context) error {
	log := logger.WithComponent("scheduler")

	if s.cfg.Interval <= 0 {
		return ErrInvalidInterval
	}
	if s.cfg.Job == nil {
		return ErrNoJob
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.nextRunAt = s.cfg.Now().Add(s.cfg.Interval)
	stop := s.stop
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.Interval)
	s.loop.Add(1)
	go s.runLoop(ticker, stop)

	log.Info().
		Str("job_id", s.cfg.JobID).
		Dur("interval", s.cfg.Interval).
		Msg("scheduler started")

	log.Info().Msg("running initial fetch cycle")
	_, err := s.fire(ctx, TriggerStartup)
	return err
}

func (s *Scheduler) runLoop(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.loop.Done()
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.nextRunAt = s.cfg.Now().Add(s.cfg.Interval)
			s.mu.Unlock()

			s.cycles.Add(1)
			go func() {
				defer s.cycles.Done()
				_, _ = s.fire(context.Background(), TriggerTimer)
			}()
		}
	}
}

// TriggerNow requests an immediate out-of-band cycle. It returns false when
// the scheduler is not running. The cycle runs in the background and is
// dropped like any other firing if one is already in flight.
func (s *Scheduler) TriggerNow() bool {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if !running {
		return false
	}

	log := logger.WithComponent("scheduler")
	log.Info().Msg("manual fetch triggered")

	s.cycles.Add(1)
	go func() {
		defer s.cycles.Done()
		_, _ = s.fire(context.Background(), TriggerManual)
	}()
	return true
}

// fire runs the job unless a cycle is already in flight. ran is false when
// the firing was dropped.
func (s *Scheduler) fire(ctx context.Context, trigger Trigger) (ran bool, err error) {
	log := logger.WithComponent("scheduler")

	if !s.flight.TryAcquire(1) {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		metrics.SchedulerDroppedTotal.WithLabelValues(string(trigger)).Inc()
		log.Warn().
			Str("job_id", s.cfg.JobID).
			Str("trigger", string(trigger)).
			Msg("previous cycle still running, firing dropped")
		return false, nil
	}
	defer s.flight.Release(1)

	s.inFlight.Store(true)
	defer s.inFlight.Store(false)
	metrics.SchedulerInFlight.Inc()
	defer metrics.SchedulerInFlight.Dec()

	timeout := s.cfg.JobTimeout
	if timeout <= 0 {
		timeout = s.cfg.Interval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.cfg.Now()
	err = s.cfg.Job(ctx)

	s.mu.Lock()
	s.lastRunAt = start
	s.lastErr = err
	s.runs++
	s.mu.Unlock()

	if err != nil {
		log.Error().
			Err(err).
			Str("job_id", s.cfg.JobID).
			Str("trigger", string(trigger)).
			Msg("job failed")
	} else {
		log.Debug().
			Str("job_id", s.cfg.JobID).
			Str("trigger", string(trigger)).
			Dur("duration", s.cfg.Now().Sub(start)).
			Msg("job executed")
	}
	return true, err
}

// Stop cancels future firings. It does not interrupt a cycle that is
// already running and does not wait for it; use Wait for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.loop.Wait()
	log := logger.WithComponent("scheduler")
	log.Info().Msg("scheduler stopped")
}

// Wait blocks until every started cycle has finished or ctx is done
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.cycles.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the current state without changing it
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:   s.running,
		JobID:     s.cfg.JobID,
		JobName:   s.cfg.JobName,
		Interval:  s.cfg.Interval,
		IntervalS: s.cfg.Interval.Seconds(),
		InFlight:  s.inFlight.Load(),
		Runs:      s.runs,
		Dropped:   s.dropped,
	}
	if s.running {
		next := s.nextRunAt
		st.NextRunAt = &next
	}
	if !s.lastRunAt.IsZero() {
		last := s.lastRunAt
		st.LastRunAt = &last
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
