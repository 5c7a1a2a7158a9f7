package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/voxline-ai/voxline/internal/app"
	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/observe"
	"github.com/voxline-ai/voxline/pkg/session"
	"github.com/voxline-ai/voxline/pkg/transport"
	"github.com/voxline-ai/voxline/pkg/transport/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Transport: config.TransportConfig{Provider: "mock"},
		Session: config.SessionConfig{
			FlushSettleMillis: 5,
		},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, _ := testMetricsWithReader(t)
	return m
}

func testMetricsWithReader(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterValue sums every data point of the named int64 counter.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestNew_UnknownProviderFails(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.Provider = "carrier-pigeon"
	if _, err := app.New(cfg, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestApp_ForwardsCallbacks(t *testing.T) {
	dialer := mock.NewDialer()

	var (
		mu     sync.Mutex
		states []session.State
	)
	a, err := app.New(testConfig(),
		app.WithDialer(dialer),
		app.WithMetrics(testMetrics(t)),
		app.WithCallbacks(session.Callbacks{
			OnStateChange: func(s session.State) {
				mu.Lock()
				defer mu.Unlock()
				states = append(states, s)
			},
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	if err := a.Client().Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	dialer.Transports()[0].Emit(transport.Event{Type: transport.EventSessionStarted})
	waitUntil(t, a.Client().Ready, "readiness")

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != session.StateConnecting {
		t.Errorf("states = %v, want CONNECTING then CONNECTED", states)
	}
}

func TestApp_HealthEndpointsReflectReadiness(t *testing.T) {
	dialer := mock.NewDialer()
	cfg := testConfig()
	cfg.Server.ListenAddr = ":0"

	a, err := app.New(cfg,
		app.WithDialer(dialer),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	// Exercise the handler directly; Run's listener is not needed here.
	mux := a.Handler()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz before connect = %d, want 503", rec.Code)
	}

	if err := a.Client().Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	dialer.Transports()[0].Emit(transport.Event{Type: transport.EventSessionStarted})
	waitUntil(t, a.Client().Ready, "readiness")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/readyz after readiness = %d, want 200", rec.Code)
	}

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["session"] != "ok" {
		t.Errorf("session check = %q", body.Checks["session"])
	}
}

func TestApp_ShutdownDisconnects(t *testing.T) {
	dialer := mock.NewDialer()
	a, err := app.New(testConfig(),
		app.WithDialer(dialer),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := a.Client().Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr := dialer.Transports()[0]
	tr.Emit(transport.Event{Type: transport.EventSessionStarted})
	waitUntil(t, a.Client().Ready, "readiness")

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := tr.CloseCount(); got != 1 {
		t.Errorf("transport closed %d times, want 1", got)
	}
	if got := a.Client().State(); got != session.StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", got)
	}

	// Repeated shutdowns are harmless.
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if got := tr.CloseCount(); got != 1 {
		t.Errorf("transport closed %d times after repeat, want 1", got)
	}
}

func TestApp_RecordsSendMetrics(t *testing.T) {
	dialer := mock.NewDialer()
	m, reader := testMetricsWithReader(t)
	a, err := app.New(testConfig(), app.WithDialer(dialer), app.WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	c := a.Client()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// One frame queued before readiness, flushed in a single batch.
	c.SendRealtimeMedia(transport.MediaFrame{MIMEType: "audio/pcm", Data: "chunk"})

	tr := dialer.Transports()[0]
	tr.Emit(transport.Event{Type: transport.EventSessionStarted})
	waitUntil(t, func() bool {
		media, updates := c.PendingCounts()
		return c.Ready() && media == 0 && updates == 0
	}, "queue flush")
	time.Sleep(10 * time.Millisecond)

	c.SendContextUpdate(transport.ContextUpdate{Modality: "text"})
	waitUntil(t, func() bool { return len(tr.Updates()) == 1 }, "context update send")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for name, want := range map[string]int64{
		"voxline.frames.sent":     1,
		"voxline.frames.queued":   1,
		"voxline.flush.batches":   1,
		"voxline.context.updates": 1,
	} {
		if got := counterValue(t, rm, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
}
