package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"airguard/internal/logger"
	"airguard/internal/metrics"
	"airguard/internal/models"
	"airguard/internal/storage"
	"airguard/internal/worker"
)

// Result counts one fan-out. Success + Failure equals the number of active
// endpoints at the time of delivery.
type Result struct {
	Success     int `json:"success"`
	Failure     int `json:"failure"`
	Deactivated int `json:"deactivated"`
}

// DispatcherConfig holds dispatcher dependencies
type DispatcherConfig struct {
	Endpoints storage.EndpointStore

	// Sink may be nil, in which case deliveries are skipped with a warning
	Sink Sink

	// Tasks runs NotifyAll fan-outs off the caller's goroutine
	Tasks worker.Submitter

	// SendTimeout bounds each per-endpoint delivery
	SendTimeout time.Duration

	Now func() time.Time
}

// Dispatcher fans notifications out to every active endpoint
type Dispatcher struct {
	endpoints   storage.EndpointStore
	sink        Sink
	tasks       worker.Submitter
	sendTimeout time.Duration
	now         func() time.Time
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		endpoints:   cfg.Endpoints,
		sink:        cfg.Sink,
		tasks:       cfg.Tasks,
		sendTimeout: cfg.SendTimeout,
		now:         cfg.Now,
	}
}

// NotifyAll schedules delivery of msg to every active endpoint and returns
// immediately. It reports whether the delivery task was accepted.
func (d *Dispatcher) NotifyAll(msg Message) bool {
	task := worker.Task{
		Name: "notify_all",
		Run: func(ctx context.Context) error {
			_, err := d.Deliver(ctx, msg)
			return err
		},
	}

	if d.tasks == nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = task.Run(ctx)
		}()
		return true
	}
	return d.tasks.Submit(task)
}

// Deliver sends msg to every active endpoint, one at a time. A failing
// endpoint never stops delivery to the rest; permanently invalid endpoints
// are deactivated. The only error returned is failure to list endpoints.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) (Result, error) {
	log := logger.WithComponent("dispatcher")

	var res Result

	endpoints, err := d.endpoints.ListActive(ctx)
	if err != nil {
		return res, fmt.Errorf("list endpoints: %w", err)
	}

	if len(endpoints) == 0 {
		log.Info().Str("title", msg.Title).Msg("no active endpoints, nothing to notify")
		return res, nil
	}

	if d.sink == nil {
		log.Warn().
			Int("endpoints", len(endpoints)).
			Str("title", msg.Title).
			Msg("no notification sink configured, skipping delivery")
		return res, nil
	}

	for _, ep := range endpoints {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := d.sink.Send(sendCtx, ep.Token, msg)
		cancel()

		if err == nil {
			res.Success++
			metrics.NotificationsTotal.WithLabelValues("success").Inc()
			continue
		}

		res.Failure++
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()

		permanent := IsPermanent(err)
		log.Error().
			Err(err).
			Str("endpoint_id", ep.ID).
			Str("token", ep.MaskedToken()).
			Bool("permanent", permanent).
			Msg("notification delivery failed")

		if !permanent {
			continue
		}

		ok, derr := d.endpoints.Deactivate(ctx, ep.Token)
		if derr != nil {
			log.Error().Err(derr).Str("endpoint_id", ep.ID).Msg("failed to deactivate endpoint")
			continue
		}
		if ok {
			res.Deactivated++
			metrics.EndpointsDeactivated.Inc()
			log.Info().Str("endpoint_id", ep.ID).Msg("endpoint deactivated")
		}
	}

	log.Info().
		Str("title", msg.Title).
		Int("success", res.Success).
		Int("failure", res.Failure).
		Int("deactivated", res.Deactivated).
		Msg("notification fan-out complete")

	return res, nil
}

// Register adds or reactivates an endpoint token
func (d *Dispatcher) Register(ctx context.Context, token string) (*models.SubscriberEndpoint, error) {
	token = strings.TrimSpace(token)
	if len(token) < MinTokenLength {
		return nil, ErrInvalidToken
	}

	ep, err := d.endpoints.Register(ctx, token, d.now().UTC())
	if err != nil {
		return nil, err
	}

	log := logger.WithComponent("dispatcher")
	log.Info().
		Str("endpoint_id", ep.ID).
		Str("token", ep.MaskedToken()).
		Msg("endpoint registered")
	return ep, nil
}

// Unregister deactivates a token, reporting whether it was known
func (d *Dispatcher) Unregister(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, ErrInvalidToken
	}

	ok, err := d.endpoints.Deactivate(ctx, token)
	if err != nil {
		return false, err
	}
	if ok {
		log := logger.WithComponent("dispatcher")
		log.Info().
			Str("token", models.MaskToken(token)).
			Msg("endpoint unregistered")
	}
	return ok, nil
}
