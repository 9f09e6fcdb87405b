package notify_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"airguard/internal/logger"
	"airguard/internal/notify"
	"airguard/internal/storage"
	"airguard/internal/worker"
)

// recordingSink fails for the tokens listed in errs and records every call
type recordingSink struct {
	mu    sync.Mutex
	sent  []string
	errs  map[string]error
	calls chan struct{}
}

func (s *recordingSink) Send(ctx context.Context, token string, msg notify.Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, token)
	s.mu.Unlock()
	if s.calls != nil {
		s.calls <- struct{}{}
	}
	return s.errs[token]
}

func seedEndpoints(t *testing.T, store storage.EndpointStore, tokens ...string) {
	t.Helper()
	for _, tok := range tokens {
		if _, err := store.Register(context.Background(), tok, time.Now()); err != nil {
			t.Fatalf("seed %q: %v", tok, err)
		}
	}
}

func TestDeliver_IsolatesFailures(t *testing.T) {
	store := storage.NewMemoryStore().Endpoints()
	seedEndpoints(t, store, "device-token-one", "device-token-two", "device-token-three")

	sink := &recordingSink{errs: map[string]error{
		"device-token-two": &notify.DeliveryError{Permanent: true, Reason: "NotRegistered"},
	}}
	d := notify.NewDispatcher(notify.DispatcherConfig{Endpoints: store, Sink: sink})

	res, err := d.Deliver(context.Background(), notify.Message{Title: "t", Body: "b"})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	if res.Success+res.Failure != 3 {
		t.Errorf("success + failure = %d, want 3", res.Success+res.Failure)
	}
	if res.Success != 2 || res.Failure != 1 || res.Deactivated != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(sink.sent) != 3 {
		t.Errorf("expected delivery attempted to all 3 endpoints, got %d", len(sink.sent))
	}

	active, _ := store.ListActive(context.Background())
	if len(active) != 2 {
		t.Fatalf("expected 2 active endpoints, got %d", len(active))
	}
	for _, ep := range active {
		if ep.Token == "device-token-two" {
			t.Error("permanently invalid endpoint is still active")
		}
	}
}

func TestDeliver_TransientFailureKeepsEndpoint(t *testing.T) {
	store := storage.NewMemoryStore().Endpoints()
	seedEndpoints(t, store, "device-token-one")

	sink := &recordingSink{errs: map[string]error{
		"device-token-one": &notify.DeliveryError{Reason: "Unavailable", Err: errors.New("503")},
	}}
	d := notify.NewDispatcher(notify.DispatcherConfig{Endpoints: store, Sink: sink})

	res, err := d.Deliver(context.Background(), notify.Message{Title: "t"})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if res.Failure != 1 || res.Deactivated != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if active, _ := store.ListActive(context.Background()); len(active) != 1 {
		t.Error("transient failure must not deactivate the endpoint")
	}
}

func TestDeliver_NoEndpoints(t *testing.T) {
	sink := &recordingSink{}
	d := notify.NewDispatcher(notify.DispatcherConfig{
		Endpoints: storage.NewMemoryStore().Endpoints(),
		Sink:      sink,
	})

	res, err := d.Deliver(context.Background(), notify.Message{Title: "t"})
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if res != (notify.Result{}) || len(sink.sent) != 0 {
		t.Errorf("expected no-op, got %+v with %d sends", res, len(sink.sent))
	}
}

func TestDeliver_NoSink(t *testing.T) {
	store := storage.NewMemoryStore().Endpoints()
	seedEndpoints(t, store, "device-token-one")
	d := notify.NewDispatcher(notify.DispatcherConfig{Endpoints: store})

	res, err := d.Deliver(context.Background(), notify.Message{Title: "t"})
	if err != nil || res != (notify.Result{}) {
		t.Errorf("Deliver() = %+v, %v; want skipped", res, err)
	}
}

func TestNotifyAll_RunsOnPool(t *testing.T) {
	store := storage.NewMemoryStore().Endpoints()
	seedEndpoints(t, store, "device-token-one", "device-token-two")

	pool := worker.NewPool(worker.Config{Workers: 1, QueueSize: 4})
	pool.Start()
	defer pool.Stop()

	sink := &recordingSink{calls: make(chan struct{}, 2)}
	d := notify.NewDispatcher(notify.DispatcherConfig{Endpoints: store, Sink: sink, Tasks: pool})

	if !d.NotifyAll(notify.Message{Title: "t", Body: "b"}) {
		t.Fatal("NotifyAll() rejected")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-sink.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i+1)
		}
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	d := notify.NewDispatcher(notify.DispatcherConfig{Endpoints: storage.NewMemoryStore().Endpoints()})
	ctx := context.Background()

	if _, err := d.Register(ctx, "short"); !errors.Is(err, notify.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}

	ep, err := d.Register(ctx, "  valid-device-token  ")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if ep.Token != "valid-device-token" || !ep.IsActive || ep.ID == "" {
		t.Errorf("unexpected endpoint: %+v", ep)
	}

	ok, err := d.Unregister(ctx, "valid-device-token")
	if err != nil || !ok {
		t.Errorf("Unregister() = %v, %v", ok, err)
	}
	ok, err = d.Unregister(ctx, "never-registered-token")
	if err != nil || ok {
		t.Errorf("Unregister(unknown) = %v, %v; want false", ok, err)
	}

	again, err := d.Register(ctx, "valid-device-token")
	if err != nil || again.ID != ep.ID || !again.IsActive {
		t.Errorf("re-register should reactivate: %+v, %v", again, err)
	}
}

func TestRegisterAndUnregister_LogsMaskedToken(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	d := notify.NewDispatcher(notify.DispatcherConfig{Endpoints: storage.NewMemoryStore().Endpoints()})
	ctx := context.Background()
	const token = "device-token-0123456789"

	if _, err := d.Register(ctx, token); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if ok, err := d.Unregister(ctx, token); err != nil || !ok {
		t.Fatalf("Unregister() = %v, %v", ok, err)
	}

	var messages []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v (%s)", err, line)
		}
		if entry["component"] != "dispatcher" {
			t.Errorf("expected component dispatcher, got %v", entry["component"])
		}
		if tok, _ := entry["token"].(string); tok == "" || tok == token {
			t.Errorf("expected a masked token, got %q", tok)
		}
		messages = append(messages, entry["message"].(string))
	}

	want := []string{"endpoint registered", "endpoint unregistered"}
	if strings.Join(messages, ",") != strings.Join(want, ",") {
		t.Errorf("messages = %v, want %v", messages, want)
	}
}
