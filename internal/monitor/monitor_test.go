package monitor_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"airguard/internal/alerts"
	"airguard/internal/config"
	"airguard/internal/fetcher"
	"airguard/internal/models"
	"airguard/internal/monitor"
	"airguard/internal/scheduler"
	"airguard/internal/storage"
)

type stubFetcher struct {
	m   *models.Measurement
	err error
}

func (f *stubFetcher) FetchCurrent(ctx context.Context) (*models.Measurement, error) {
	return f.m, f.err
}

type countingEvaluator struct {
	calls int
	err   error
}

func (e *countingEvaluator) CheckAll(ctx context.Context) (alerts.Outcome, error) {
	e.calls++
	return alerts.Outcome{}, e.err
}

type failingStore struct {
	*storage.MemoryStore
}

func (s failingStore) Append(ctx context.Context, m *models.Measurement) error {
	return errors.New("disk full")
}

func reading(aqi int) *models.Measurement {
	return &models.Measurement{Timestamp: time.Now().UTC(), AQI: aqi, Source: models.SourceAPI}
}

func TestCycle_Success(t *testing.T) {
	store := storage.NewMemoryStore()
	eval := &countingEvaluator{}
	c := &monitor.Cycle{
		Fetcher:      &stubFetcher{m: reading(120)},
		Measurements: store,
		Evaluator:    eval,
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if eval.calls != 1 {
		t.Errorf("expected one evaluation, got %d", eval.calls)
	}

	latest, err := store.Latest(context.Background())
	if err != nil || latest == nil || latest.AQI != 120 {
		t.Errorf("measurement not stored: %+v (%v)", latest, err)
	}
}

func TestCycle_FetchFailureSkips(t *testing.T) {
	store := storage.NewMemoryStore()
	eval := &countingEvaluator{}
	c := &monitor.Cycle{
		Fetcher:      &stubFetcher{err: &fetcher.FetchError{Kind: fetcher.KindTimeout, Message: "deadline exceeded"}},
		Measurements: store,
		Evaluator:    eval,
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("fetch failures must not fail the cycle, got %v", err)
	}
	if eval.calls != 0 {
		t.Errorf("evaluation must be skipped, got %d calls", eval.calls)
	}
	if latest, _ := store.Latest(context.Background()); latest != nil {
		t.Errorf("nothing should be stored, got %+v", latest)
	}
}

func TestCycle_PersistenceFailureAborts(t *testing.T) {
	eval := &countingEvaluator{}
	c := &monitor.Cycle{
		Fetcher:      &stubFetcher{m: reading(200)},
		Measurements: failingStore{storage.NewMemoryStore()},
		Evaluator:    eval,
	}

	err := c.Run(context.Background())
	var pe *monitor.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if eval.calls != 0 {
		t.Errorf("evaluation must not run after a failed write, got %d calls", eval.calls)
	}
}

func TestCycle_EvaluationErrorReturned(t *testing.T) {
	eval := &countingEvaluator{err: errors.New("query failed")}
	c := &monitor.Cycle{
		Fetcher:      &stubFetcher{m: reading(90)},
		Measurements: storage.NewMemoryStore(),
		Evaluator:    eval,
	}

	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected evaluation error")
	}
}

func TestMonitorRun(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"status":"ok","data":{"aqi":80,"iaqi":{"pm25":{"v":20}},"city":{"name":"Pune"}}}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Fetcher.BaseURL = srv.URL
	cfg.Fetcher.Timeout = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := monitor.New(cfg).Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if hits.Load() < 1 {
		t.Error("expected the warm-start cycle to call the upstream feed")
	}
}

func TestMonitorRun_InvalidInterval(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Scheduler.IntervalMinutes = 0

	err := monitor.New(cfg).Run(context.Background())
	if err == nil {
		t.Fatal("expected startup error")
	}
	if !monitor.IsStartupError(err) || !errors.Is(err, scheduler.ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
}
