// Package app wires the Voxline subsystems into a runnable application.
//
// The App struct owns the full lifecycle: New creates and connects the
// session client, audio graph configuration, observability, and the local
// HTTP surface; Run executes until the context is cancelled; Shutdown tears
// everything down in order.
//
// For testing, inject a mock dialer via [WithDialer] and skip the HTTP
// listener by leaving server.listen_addr empty.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/internal/health"
	"github.com/voxline-ai/voxline/internal/observe"
	"github.com/voxline-ai/voxline/pkg/audio"
	"github.com/voxline-ai/voxline/pkg/session"
	"github.com/voxline-ai/voxline/pkg/transport"
	"github.com/voxline-ai/voxline/pkg/transport/gemini"
	"github.com/voxline-ai/voxline/pkg/transport/mock"
)

// dialers maps config provider names to transport dialer constructors.
var dialers = map[string]func() transport.Dialer{
	"gemini-live": func() transport.Dialer { return gemini.Dialer{} },
	"mock":        func() transport.Dialer { return mock.NewDialer() },
}

// App owns the session client and the local HTTP surface.
type App struct {
	cfg     *config.Config
	client  *session.Client
	metrics *observe.Metrics

	mux     *http.ServeMux
	httpSrv *http.Server

	mu          sync.Mutex
	connectedAt time.Time
	dialedAt    time.Time

	// host callbacks layered under the instrumentation wrappers.
	userCallbacks session.Callbacks

	stopOnce sync.Once
}

// optionState collects injectable construction inputs.
type optionState struct {
	dialer    transport.Dialer
	metrics   *observe.Metrics
	callbacks session.Callbacks
	graph     audio.GraphConfig
}

// New creates an App by wiring the session client, observability, and the
// local HTTP surface together from cfg.
func New(cfg *config.Config, opts ...AppOption) (*App, error) {
	st := &optionState{}
	for _, o := range opts {
		o(st)
	}

	a := &App{
		cfg:           cfg,
		userCallbacks: st.callbacks,
	}

	a.metrics = st.metrics
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	dialer := st.dialer
	if dialer == nil {
		build, ok := dialers[cfg.Transport.Provider]
		if !ok {
			return nil, fmt.Errorf("app: unknown transport provider %q", cfg.Transport.Provider)
		}
		dialer = build()
	}

	client, err := session.New(session.Config{
		APIKey:           cfg.Transport.APIKey,
		Model:            cfg.Transport.Model,
		BaseURL:          cfg.Transport.BaseURL,
		Voice:            cfg.Session.Voice,
		Locale:           cfg.Session.Locale,
		Dialer:           dialer,
		Graph:            st.graph,
		Callbacks:        a.instrumentedCallbacks(),
		Hooks:            a.sessionHooks(),
		FlushSettle:      time.Duration(cfg.Session.FlushSettleMillis) * time.Millisecond,
		FlushBatchSize:   cfg.Session.FlushBatchSize,
		FlushBatchDelay:  time.Duration(cfg.Session.FlushBatchDelayMillis) * time.Millisecond,
		HandshakeTimeout: time.Duration(cfg.Session.HandshakeTimeoutSeconds) * time.Second,
		RateLimitWindow:  time.Duration(cfg.Session.RateLimitWindowSeconds) * time.Second,
		RateLimitMax:     cfg.Session.RateLimitMax,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create session client: %w", err)
	}
	a.client = client

	if err := a.metrics.RegisterQueueDepth(func() (int64, int64) {
		media, updates := client.PendingCounts()
		return int64(media), int64(updates)
	}); err != nil {
		return nil, fmt.Errorf("app: register queue gauges: %w", err)
	}

	a.mux = a.buildMux()
	if cfg.Server.ListenAddr != "" {
		a.httpSrv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// AppOption is a functional option for [New].
type AppOption func(*optionState)

// WithDialer injects a transport dialer instead of resolving one from config.
func WithDialer(d transport.Dialer) AppOption {
	return func(st *optionState) { st.dialer = d }
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) AppOption {
	return func(st *optionState) { st.metrics = m }
}

// WithCallbacks sets the host-facing callback surface. The app layers its
// own instrumentation on top and forwards every event unchanged.
func WithCallbacks(cb session.Callbacks) AppOption {
	return func(st *optionState) { st.callbacks = cb }
}

// WithGraphConfig sets the audio graph configuration (capture source and
// playback sink factories).
func WithGraphConfig(g audio.GraphConfig) AppOption {
	return func(st *optionState) { st.graph = g }
}

// Client returns the session client for direct use by the host.
func (a *App) Client() *session.Client { return a.client }

// Handler returns the local HTTP surface (health probes and metrics). It is
// served by Run when server.listen_addr is configured; hosts embedding the
// app can also mount it themselves.
func (a *App) Handler() http.Handler { return a.mux }

// buildMux assembles the local HTTP surface: health probes and, when
// enabled, the Prometheus metrics endpoint.
func (a *App) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	h := health.New(
		health.SessionChecker("session", a.client.Ready),
	)
	h.Register(mux)

	if a.cfg.Server.Metrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

// instrumentedCallbacks wraps the host callbacks with metric recording. The
// handshake histogram measures dial-to-readiness; the session gauge tracks
// CONNECTED..DISCONNECTED lifetimes.
func (a *App) instrumentedCallbacks() session.Callbacks {
	return session.Callbacks{
		OnStateChange: func(state session.State) {
			a.recordStateChange(state)
			if cb := a.userCallbacks.OnStateChange; cb != nil {
				cb(state)
			}
		},
		OnTranscript: func(text string, input, final bool, agent string) {
			if cb := a.userCallbacks.OnTranscript; cb != nil {
				cb(text, input, final, agent)
			}
		},
		OnVolumeChange: func(in, out float64) {
			if cb := a.userCallbacks.OnVolumeChange; cb != nil {
				cb(in, out)
			}
		},
		OnToolCall: func(ctx context.Context, calls []transport.FunctionCall) ([]transport.FunctionResult, error) {
			if cb := a.userCallbacks.OnToolCall; cb != nil {
				return cb(ctx, calls)
			}
			return nil, nil
		},
	}
}

// sessionHooks feeds the client's send and flush events into the metric
// counters. Rejected context updates count twice on purpose: once in the
// per-status breakdown and once in the dedicated rate-limit counter.
func (a *App) sessionHooks() session.Hooks {
	ctx := context.Background()
	return session.Hooks{
		FrameSent: func(kind string) {
			a.metrics.RecordFrameSent(ctx, kind)
		},
		FrameQueued: func() {
			a.metrics.FramesQueued.Add(ctx, 1)
		},
		FlushBatch: func() {
			a.metrics.FlushBatches.Add(ctx, 1)
		},
		ContextUpdate: func(status string) {
			a.metrics.RecordContextUpdate(ctx, status)
			if status == "rejected" {
				a.metrics.RateLimitRejections.Add(ctx, 1)
			}
		},
		DecodeError: func() {
			a.metrics.DecodeErrors.Add(ctx, 1)
		},
	}
}

// recordStateChange updates the handshake histogram and session gauge.
func (a *App) recordStateChange(state session.State) {
	ctx := context.Background()
	a.mu.Lock()
	defer a.mu.Unlock()

	switch state {
	case session.StateConnecting:
		a.dialedAt = time.Now()
	case session.StateConnected:
		a.connectedAt = time.Now()
		if !a.dialedAt.IsZero() {
			a.metrics.HandshakeDuration.Record(ctx, time.Since(a.dialedAt).Seconds())
		}
		a.metrics.ActiveSessions.Add(ctx, 1)
	case session.StateDisconnected, session.StateError:
		if !a.connectedAt.IsZero() {
			a.metrics.ActiveSessions.Add(ctx, -1)
			a.connectedAt = time.Time{}
		}
	}
}

// Run connects the session and serves the local HTTP surface until ctx is
// cancelled. It returns the first non-shutdown error from either subsystem.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		connectCtx, span := observe.ConnectSpan(ctx, a.cfg.Transport.Provider, a.cfg.Transport.Model)
		err := a.client.Connect(connectCtx)
		if err != nil {
			span.End()
			return fmt.Errorf("app: connect session: %w", err)
		}
		observe.Logger(connectCtx).Info("session connect issued",
			"session_id", a.client.SessionID(),
			"provider", a.cfg.Transport.Provider,
		)
		span.End()
		<-ctx.Done()
		return ctx.Err()
	})

	if a.httpSrv != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.httpSrv.Addr, "metrics", a.cfg.Server.Metrics)
			if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.httpSrv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// Shutdown disconnects the session. Safe to call multiple times.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.client.Disconnect()
	})
	return nil
}
