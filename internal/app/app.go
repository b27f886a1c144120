// Package app wires the serene subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the background loops, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithIncidentStore,
// WithStorageSender, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/serene/internal/api"
	"github.com/MrWong99/serene/internal/chat"
	"github.com/MrWong99/serene/internal/config"
	"github.com/MrWong99/serene/internal/health"
	"github.com/MrWong99/serene/internal/incident"
	"github.com/MrWong99/serene/internal/observe"
	"github.com/MrWong99/serene/internal/relay"
	"github.com/MrWong99/serene/internal/resilience"
	"github.com/MrWong99/serene/internal/session"
	"github.com/MrWong99/serene/pkg/provider/llm"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers.
const readHeaderTimeout = 10 * time.Second

// Backend is one configured oracle.
type Backend struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the oracle backends built by main.go via the config
// registry. The first entry is the primary; the rest are fallbacks tried in
// order.
type Providers struct {
	Oracles []Backend
}

// App owns all subsystem lifetimes of the chat relay.
type App struct {
	cfg       *config.Config
	providers *Providers

	logLevel *slog.LevelVar
	metrics  *observe.Metrics
	watcher  *config.Watcher

	// Subsystems, initialised in New and torn down in Shutdown.
	oracle    *resilience.LLMFallback
	sessions  *session.Store
	incidents *incident.Guard
	sender    relay.Sender
	forwarder *relay.Forwarder
	chat      *chat.Service
	router    *gin.Engine
	server    *http.Server
	listener  net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithIncidentStore injects an incident store instead of opening one from
// config. The caller keeps ownership; Shutdown does not close it.
func WithIncidentStore(s incident.Store) Option {
	return func(a *App) { a.incidents = incident.NewGuard(s) }
}

// WithStorageSender injects the transport used by the storage forwarder
// instead of an HTTP client. Forwarding is enabled regardless of
// storage.base_url.
func WithStorageSender(s relay.Sender) Option {
	return func(a *App) { a.sender = s }
}

// WithMetrics injects the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the app the level variable of the process logger so
// config reloads can change verbosity.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithWatcher makes Run poll the config file through w. Reloads are applied
// with [App.ApplyConfig]; w should be created with that callback.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithListener serves on l instead of listening on server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Oracle ────────────────────────────────────────────────────────
	if err := a.initOracle(); err != nil {
		return nil, fmt.Errorf("app: init oracle: %w", err)
	}

	// ── 2. Session store ─────────────────────────────────────────────────
	a.sessions = session.NewStore(session.StoreConfig{
		TTL:             cfg.Sessions.TTL,
		MaxSessions:     cfg.Sessions.MaxSessions,
		CleanupInterval: cfg.Sessions.CleanupInterval,
		Metrics:         a.metrics,
	})

	// ── 3. Incident log ──────────────────────────────────────────────────
	if err := a.initIncidents(ctx); err != nil {
		return nil, fmt.Errorf("app: init incidents: %w", err)
	}

	// ── 4. Storage forwarder ─────────────────────────────────────────────
	sink, err := a.initRelay()
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init storage relay: %w", err)
	}

	// ── 5. Chat service ──────────────────────────────────────────────────
	a.chat, err = chat.New(chat.Config{
		Chat:      cfg.Chat,
		Safety:    cfg.Safety,
		Sessions:  a.sessions,
		Oracle:    a.oracle,
		Relay:     sink,
		Incidents: a.incidents,
		Metrics:   a.metrics,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init chat: %w", err)
	}

	// ── 6. HTTP ──────────────────────────────────────────────────────────
	checks := []health.Checker{
		health.FromHealthy("oracle", a.oracle.Healthy),
		{Name: "incidents", Check: a.incidents.Ping},
	}
	a.router = api.NewRouter(api.Config{
		Chat:           a.chat,
		Sessions:       a.sessions,
		Incidents:      a.incidents,
		Health:         health.New(checks...),
		Metrics:        a.metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AdminToken:     cfg.Server.AdminToken,
	})
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initOracle chains the configured backends behind one breaker each.
func (a *App) initOracle() error {
	if a.providers == nil || len(a.providers.Oracles) == 0 {
		return errors.New("no oracle provider configured")
	}

	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:   3,
			ResetTimeout:  30 * time.Second,
			HalfOpenMax:   1,
			OnStateChange: a.recordTransition,
		},
	}

	var fb *resilience.LLMFallback
	for i, b := range a.providers.Oracles {
		if b.Provider == nil {
			return fmt.Errorf("oracle %q (index %d) is nil", b.Name, i)
		}
		p := observe.InstrumentLLM(b.Provider, b.Name, a.metrics)
		if fb == nil {
			fb = resilience.NewLLMFallback(p, b.Name, fbCfg)
			continue
		}
		fb.AddFallback(b.Name, p)
	}
	a.oracle = fb
	slog.Info("oracle ready", "backends", fb.Backends())
	return nil
}

// initIncidents opens the configured incident store unless one was injected.
func (a *App) initIncidents(ctx context.Context) error {
	if a.incidents != nil {
		return nil
	}
	store, err := incident.Open(ctx, a.cfg.Incidents)
	if err != nil {
		return err
	}
	a.incidents = incident.NewGuard(store)
	a.closers = append(a.closers, store.Close)
	slog.Info("incident log ready", "driver", a.cfg.Incidents.Driver)
	return nil
}

// initRelay builds the storage forwarder, or a discarding sink when
// forwarding is disabled.
func (a *App) initRelay() (relay.Sink, error) {
	st := a.cfg.Storage
	if a.sender == nil {
		if !st.Enabled() {
			slog.Info("storage forwarding disabled")
			return relay.Discard{}, nil
		}
		client, err := relay.NewClient(relay.ClientConfig{
			BaseURL:      st.BaseURL,
			ServiceEmail: st.ServiceEmail,
			Timeout:      st.Timeout,
			Breaker:      relay.NewBreaker(a.recordTransition),
		})
		if err != nil {
			return nil, err
		}
		a.sender = client
		slog.Info("storage forwarding enabled", "base_url", st.BaseURL)
	}

	a.forwarder = relay.NewForwarder(a.sender, relay.ForwarderConfig{
		QueueSize:   st.QueueSize,
		Workers:     st.Workers,
		MaxAttempts: st.MaxAttempts,
		RetryBase:   st.RetryBase,
		RetryMax:    st.RetryMax,
		Metrics:     a.metrics,
	})
	a.forwarder.Start()
	return a.forwarder, nil
}

func (a *App) recordTransition(name string, _, to resilience.State) {
	a.metrics.RecordCircuitTransition(context.Background(), name, to.String())
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP handler with every route registered.
func (a *App) Handler() http.Handler { return a.router }

// Chat returns the chat service.
func (a *App) Chat() *chat.Service { return a.chat }

// Sessions returns the session store.
func (a *App) Sessions() *session.Store { return a.sessions }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change. It is
// meant as the [config.Watcher] callback. Changes that need a restart are
// logged and otherwise ignored.
func (a *App) ApplyConfig(old, updated *config.Config) {
	d := config.Diff(old, updated)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ChatChanged {
		a.chat.ApplyChat(updated.Chat)
		slog.Info("chat settings reloaded")
	}
	if d.SafetyChanged {
		if err := a.chat.ApplySafety(updated.Safety); err != nil {
			slog.Error("safety settings rejected, keeping previous detector", "err", err)
		} else {
			slog.Info("safety settings reloaded")
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and runs the session sweep and the config watcher until
// ctx is cancelled. The HTTP server is stopped gracefully before Run
// returns; call [App.Shutdown] afterwards to drain the forwarder and close
// stores.
//
// Run returns nil after a clean stop and the first error otherwise.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.stopHTTP()
	})

	g.Go(func() error {
		return a.sessions.Run(gctx)
	})

	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// stopHTTP shuts the HTTP server down within the configured timeout.
func (a *App) stopHTTP() error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains the storage forwarder and closes the stores. It respects
// the context deadline: queued records still pending when ctx expires are
// dropped. The first call does the work; later calls return nil.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		if a.forwarder != nil {
			if err := a.forwarder.Shutdown(ctx); err != nil {
				slog.Warn("storage forwarder did not drain", "err", err)
				shutdownErr = errors.Join(shutdownErr, err)
			}
		}

		a.closeAll()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers in order.
func (a *App) closeAll() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
