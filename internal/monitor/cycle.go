package monitor

import (
	"context"
	"fmt"

	"airguard/internal/alerts"
	"airguard/internal/fetcher"
	"airguard/internal/logger"
	"airguard/internal/metrics"
	"airguard/internal/models"
	"airguard/internal/storage"
)

// Fetch cycle results, used as metric labels
const (
	ResultOK             = "ok"
	ResultFetchFailed    = "fetch_failed"
	ResultPersistFailed  = "persist_failed"
	ResultEvaluateFailed = "evaluate_failed"
)

// Fetcher returns the current reading from the upstream feed
type Fetcher interface {
	FetchCurrent(ctx context.Context) (*models.Measurement, error)
}

// Evaluator runs every alert rule once
type Evaluator interface {
	CheckAll(ctx context.Context) (alerts.Outcome, error)
}

// PersistenceError aborts a cycle when the fetched reading cannot be stored
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist measurement: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Cycle is one fetch, persist, evaluate pass
type Cycle struct {
	Fetcher      Fetcher
	Measurements storage.TimeSeriesStore
	Evaluator    Evaluator
}

// Run executes the cycle. A failed fetch skips the rest of the cycle and
// is not an error. A failed write aborts before evaluation and returns a
// *PersistenceError. Evaluation errors are returned after whatever
// transitions succeeded have been committed.
func (c *Cycle) Run(ctx context.Context) error {
	log := logger.WithComponent("monitor")

	m, err := c.Fetcher.FetchCurrent(ctx)
	if err != nil {
		metrics.FetchCyclesTotal.WithLabelValues(ResultFetchFailed).Inc()
		log.Warn().
			Err(err).
			Str("kind", string(fetcher.KindOf(err))).
			Msg("fetch failed, skipping cycle")
		return nil
	}

	if err := c.Measurements.Append(ctx, m); err != nil {
		metrics.FetchCyclesTotal.WithLabelValues(ResultPersistFailed).Inc()
		log.Error().Err(err).Int("aqi", m.AQI).Msg("failed to store measurement, cycle aborted")
		return &PersistenceError{Err: err}
	}
	metrics.MeasurementsIngested.WithLabelValues(string(m.Source)).Inc()

	outcome, err := c.Evaluator.CheckAll(ctx)
	if err != nil {
		metrics.FetchCyclesTotal.WithLabelValues(ResultEvaluateFailed).Inc()
		return fmt.Errorf("evaluate alerts: %w", err)
	}

	metrics.FetchCyclesTotal.WithLabelValues(ResultOK).Inc()
	log.Debug().
		Int64("measurement_id", m.ID).
		Int("opened", len(outcome.Opened)).
		Int("resolved", len(outcome.Resolved)).
		Msg("fetch cycle complete")
	return nil
}
