package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"airguard/internal/alerts"
	"airguard/internal/bus"
	"airguard/internal/config"
	"airguard/internal/events"
	"airguard/internal/fetcher"
	"airguard/internal/handlers"
	"airguard/internal/kafka"
	"airguard/internal/logger"
	"airguard/internal/metrics"
	"airguard/internal/notify"
	"airguard/internal/scheduler"
	"airguard/internal/storage"
	"airguard/internal/worker"
)

// Monitor is the high-level coordinator: it wires storage, the fetch
// scheduler, alerting, notification and the operator API.
type Monitor struct {
	cfg *config.Config

	store      storage.Store
	pool       *worker.Pool
	producer   *kafka.Producer
	emitter    *events.Emitter
	dispatcher *notify.Dispatcher
	manager    *alerts.Manager
	scheduler  *scheduler.Scheduler
	httpServer *http.Server
	listener   net.Listener

	wg sync.WaitGroup
}

// New constructs a Monitor with the given config.
func New(cfg *config.Config) *Monitor {
	return &Monitor{cfg: cfg}
}

// IsStartupError reports whether err means the scheduler never started,
// as opposed to a failed warm-start cycle.
func IsStartupError(err error) bool {
	return errors.Is(err, scheduler.ErrInvalidInterval) ||
		errors.Is(err, scheduler.ErrNoJob) ||
		errors.Is(err, scheduler.ErrAlreadyRunning)
}

// Run starts every component and blocks until ctx is cancelled. It returns
// an error only when startup fails.
func (m *Monitor) Run(ctx context.Context) error {
	log := logger.WithComponent("monitor")
	log.Info().Msg("monitor starting")

	if err := m.initStore(ctx); err != nil {
		log.Error().Err(err).Msg("failed to initialize storage")
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	m.initWorkerPool()
	m.pool.Start()

	if err := m.initEvents(); err != nil {
		log.Error().Err(err).Msg("failed to initialize event publisher")
		m.pool.Stop()
		_ = m.store.Close()
		return fmt.Errorf("failed to initialize event publisher: %w", err)
	}

	m.initAlerting()

	if err := m.initHTTPServer(); err != nil {
		log.Error().Err(err).Msg("failed to initialize HTTP server")
		m.closeBackends()
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	// Start registers the timer and runs the warm-start cycle before
	// returning. Only a registration failure is fatal.
	if err := m.scheduler.Start(ctx); err != nil {
		if IsStartupError(err) {
			log.Error().Err(err).Msg("failed to start scheduler")
			_ = m.listener.Close()
			m.closeBackends()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		log.Warn().Err(err).Msg("initial fetch cycle failed, scheduler keeps running")
	}

	// Start HTTP server in background
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		log.Info().Str("addr", m.listener.Addr().String()).Msg("starting HTTP server")
		if err := m.httpServer.Serve(m.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Stats reporting goroutine
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.reportStats(ctx)
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return m.shutdown()
}

// Addr returns the HTTP listen address once Run has started the server
func (m *Monitor) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// initStore picks Postgres when a database URL is configured, memory otherwise
func (m *Monitor) initStore(ctx context.Context) error {
	log := logger.WithComponent("monitor")

	if m.cfg.Database.URL == "" {
		m.store = storage.NewMemoryStore()
		log.Warn().Msg("no database configured, using in-memory storage")
		return nil
	}

	pg, err := storage.NewPostgres(ctx, m.cfg.Database.URL, m.cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return err
	}

	m.store = pg
	log.Info().Int32("max_conns", m.cfg.Database.MaxConns).Msg("postgres storage initialized")
	return nil
}

// initWorkerPool initializes the pool shared by notification fan-out and
// event publishing
func (m *Monitor) initWorkerPool() {
	log := logger.WithComponent("monitor")
	m.pool = worker.NewPool(worker.Config{
		Workers:       m.cfg.Notify.Workers,
		QueueSize:     m.cfg.Notify.QueueSize,
		TaskTimeout:   time.Minute,
		SubmitTimeout: m.cfg.Notify.SubmitTimeout,
	})
	log.Info().Int("workers", m.cfg.Notify.Workers).Msg("worker pool initialized")
}

// initEvents connects the configured alert event backend
func (m *Monitor) initEvents() error {
	log := logger.WithComponent("monitor")

	var publisher events.Publisher
	switch m.cfg.Events.Backend {
	case config.EventsKafka:
		producer, err := kafka.NewProducer(
			m.cfg.Events.Kafka.Brokers,
			m.cfg.Events.Kafka.Topic,
			m.cfg.Events.Kafka.Producer,
		)
		if err != nil {
			return err
		}
		m.producer = producer
		publisher = producer
		log.Info().
			Strs("brokers", m.cfg.Events.Kafka.Brokers).
			Str("topic", m.cfg.Events.Kafka.Topic).
			Msg("kafka producer initialized")

	case config.EventsNATS:
		pub, err := bus.NewPublisher(m.cfg.Events.NATS.URL, m.cfg.Events.NATS.Subject)
		if err != nil {
			return err
		}
		publisher = pub
		log.Info().
			Str("url", m.cfg.Events.NATS.URL).
			Str("subject", m.cfg.Events.NATS.Subject).
			Msg("nats publisher initialized")

	default:
		log.Info().Msg("alert event stream disabled")
		return nil
	}

	m.emitter = events.NewEmitter(publisher, m.pool, "airguard")
	return nil
}

// initAlerting builds the dispatcher, alert manager, fetch cycle and scheduler
func (m *Monitor) initAlerting() {
	log := logger.WithComponent("monitor")

	var sink notify.Sink
	if m.cfg.Notify.ServerKey != "" {
		sink = notify.NewFCMSink(notify.FCMConfig{
			Endpoint:  m.cfg.Notify.Endpoint,
			ServerKey: m.cfg.Notify.ServerKey,
			Timeout:   m.cfg.Notify.Timeout,
		})
	} else {
		log.Warn().Msg("no push server key configured, notifications will be skipped")
	}

	m.dispatcher = notify.NewDispatcher(notify.DispatcherConfig{
		Endpoints:   m.store.Endpoints(),
		Sink:        sink,
		Tasks:       m.pool,
		SendTimeout: m.cfg.Notify.Timeout,
	})

	// Already validated by config.Load
	loc, err := m.cfg.Alerts.Location()
	if err != nil {
		log.Warn().Err(err).Str("timezone", m.cfg.Alerts.Timezone).Msg("unknown timezone, using UTC")
		loc = time.UTC
	}

	alertCfg := alerts.Config{
		Thresholds:      m.cfg.Alerts.Thresholds(),
		Measurements:    m.store,
		Alerts:          m.store,
		Notifier:        m.dispatcher,
		Location:        loc,
		CityLabel:       m.cfg.Alerts.CityLabel,
		NotifyOnResolve: m.cfg.Alerts.NotifyOnResolve,
	}
	if m.emitter != nil {
		alertCfg.Events = m.emitter
	}
	m.manager = alerts.NewManager(alertCfg)

	cycle := &Cycle{
		Fetcher: fetcher.New(fetcher.Config{
			BaseURL: m.cfg.Fetcher.BaseURL,
			City:    m.cfg.Fetcher.City,
			APIKey:  m.cfg.Fetcher.APIKey,
			Timeout: m.cfg.Fetcher.Timeout,
		}),
		Measurements: m.store,
		Evaluator:    m.manager,
	}

	m.scheduler = scheduler.New(scheduler.Config{
		JobID:    m.cfg.Scheduler.JobID,
		JobName:  m.cfg.Scheduler.JobName,
		Interval: m.cfg.Scheduler.Interval(),
		Job:      cycle.Run,
	})

	t := m.cfg.Alerts.Thresholds()
	log.Info().
		Int("aqi_threshold", t.AQIThreshold).
		Int("aqi_sustained_minutes", t.AQISustainedMinutes).
		Float64("noise_threshold_db", t.NoiseThresholdDB).
		Int("quiet_hours_start", t.QuietHoursStart).
		Int("quiet_hours_end", t.QuietHoursEnd).
		Str("timezone", loc.String()).
		Msg("alerting initialized")
}

// initHTTPServer binds the listener and builds the operator API server
func (m *Monitor) initHTTPServer() error {
	api := handlers.New(handlers.Config{
		Measurements: m.store,
		Alerts:       m.manager,
		Devices:      m.dispatcher,
		Scheduler:    m.scheduler,
	})

	ln, err := net.Listen("tcp", m.cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	m.listener = ln

	m.httpServer = &http.Server{
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return nil
}

// shutdown performs graceful shutdown
func (m *Monitor) shutdown() error {
	log := logger.WithComponent("monitor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := m.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. No more firings; let an in-flight cycle finish
	m.scheduler.Stop()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if err := m.scheduler.Wait(waitCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight fetch cycle did not finish in time")
	}

	// 3. Drain notifications and event publishes, then close backends
	m.closeBackends()

	// 4. Wait for all goroutines
	m.wg.Wait()

	log.Info().Msg("monitor stopped gracefully")
	return nil
}

// closeBackends stops the pool and closes the publisher and the store
func (m *Monitor) closeBackends() {
	log := logger.WithComponent("monitor")

	done := make(chan struct{})
	go func() {
		m.pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("workers stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("worker shutdown timeout - forcing exit")
	}

	if err := m.emitter.Close(); err != nil {
		log.Error().Err(err).Msg("event publisher close error")
	}

	if err := m.store.Close(); err != nil {
		log.Error().Err(err).Msg("storage close error")
	}
}

// reportStats periodically logs statistics
func (m *Monitor) reportStats(ctx context.Context) {
	log := logger.WithComponent("monitor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poolStats := m.pool.Stats()
			status := m.scheduler.Status()

			metrics.WorkerQueueSize.Set(float64(poolStats.Queued))

			ev := log.Info().
				Uint64("worker_processed", poolStats.Processed).
				Uint64("worker_failed", poolStats.Failed).
				Uint64("worker_dropped", poolStats.Dropped).
				Int("queue_size", poolStats.Queued).
				Uint64("cycles_run", status.Runs).
				Uint64("cycles_dropped", status.Dropped)

			if m.producer != nil {
				producerStats := m.producer.Stats()
				ev = ev.
					Uint64("producer_sent", producerStats.MessagesSent).
					Uint64("producer_failed", producerStats.MessagesFailed).
					Uint64("producer_bytes", producerStats.BytesWritten)
			}
			ev.Msg("stats")
		}
	}
}
