// Package app wires the MineStream subsystems into a running HTTP service.
//
// The App struct owns the full lifecycle: New connects the profile store and
// audio storage, seeds the designed voices, and assembles the HTTP surface;
// Run serves until the context is cancelled; Shutdown tears everything down
// in order.
//
// For testing, inject in-memory implementations via functional options
// (WithProfileStore, WithBlobs). When an option is not provided, New creates
// real implementations from the config.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/minestream/internal/api"
	"github.com/MrWong99/minestream/internal/audiostore"
	"github.com/MrWong99/minestream/internal/cloning"
	"github.com/MrWong99/minestream/internal/config"
	"github.com/MrWong99/minestream/internal/health"
	"github.com/MrWong99/minestream/internal/observe"
	"github.com/MrWong99/minestream/internal/orchestrator"
	"github.com/MrWong99/minestream/internal/transcode"
	"github.com/MrWong99/minestream/internal/voicestore"
	"github.com/MrWong99/minestream/pkg/provider/tts"
)

// readHeaderTimeout bounds slow-loris style header writes. Bodies are not
// bounded here: generate requests may legitimately wait minutes in the queue.
const readHeaderTimeout = 10 * time.Second

// pinger is implemented by backends and stores that can report reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes of the voice engine.
type App struct {
	cfg     *config.Config
	backend tts.Backend
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	profiles   voicestore.Store
	uploads    audiostore.Blobs
	outputs    audiostore.Blobs
	transcoder transcode.Transcoder
	audio      *audiostore.Store
	orch       *orchestrator.Orchestrator
	voices     *cloning.Service
	handler    http.Handler
	checkers   []health.Checker

	server   *http.Server
	listener net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProfileStore injects a profile store instead of creating one from config.
func WithProfileStore(s voicestore.Store) Option {
	return func(a *App) { a.profiles = s }
}

// WithBlobs injects the upload and output blob backends instead of creating
// them from config.
func WithBlobs(uploads, outputs audiostore.Blobs) Option {
	return func(a *App) {
		a.uploads = uploads
		a.outputs = outputs
	}
}

// WithTranscoder replaces the default upload transcoder.
func WithTranscoder(t transcode.Transcoder) Option {
	return func(a *App) { a.transcoder = t }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener serves on l instead of listening on cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App around an already loaded backend. New takes ownership
// of backend and closes it in Shutdown.
//
// New performs all initialisation synchronously: profile store connection and
// migration, storage setup, voice seeding, and HTTP handler assembly. On
// error, everything already opened is closed again.
func New(ctx context.Context, cfg *config.Config, backend tts.Backend, opts ...Option) (_ *App, err error) {
	a := &App{
		cfg:     cfg,
		backend: backend,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.closers = append(a.closers, backend.Close)
	defer func() {
		if err != nil {
			_ = a.Shutdown(context.Background())
		}
	}()

	// ── 1. Profile store ─────────────────────────────────────────────────
	if err := a.initProfiles(ctx); err != nil {
		return nil, fmt.Errorf("app: init profiles: %w", err)
	}

	// ── 2. Audio storage ─────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 3. Seed voices ───────────────────────────────────────────────────
	n, err := voicestore.Seed(ctx, a.profiles, cfg.Seeds())
	if err != nil {
		return nil, fmt.Errorf("app: seed voices: %w", err)
	}
	if n > 0 {
		slog.Info("seeded designed voices", "count", n)
	}

	// ── 4. Services and HTTP surface ─────────────────────────────────────
	a.initServices()
	return a, nil
}

// initProfiles connects to PostgreSQL when a DSN is configured and falls back
// to an in-memory store otherwise.
func (a *App) initProfiles(ctx context.Context) error {
	if a.profiles != nil {
		return nil
	}

	dsn := a.cfg.Database.DSN
	if dsn == "" {
		slog.Warn("database.dsn not set, voice profiles are kept in memory only")
		a.profiles = voicestore.NewMemStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	store := voicestore.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.profiles = store
	slog.Info("voice profile store ready", "backend", "postgres")
	return nil
}

// initStorage creates the upload and output blob backends.
func (a *App) initStorage(ctx context.Context) error {
	if a.uploads == nil || a.outputs == nil {
		st := a.cfg.Storage
		switch st.Backend {
		case config.StorageNATS:
			if err := a.initNATS(ctx, st.NATS); err != nil {
				return err
			}
		default:
			uploads, err := audiostore.NewDirBlobs(st.UploadDir)
			if err != nil {
				return err
			}
			outputs, err := audiostore.NewDirBlobs(st.OutputDir)
			if err != nil {
				return err
			}
			a.uploads, a.outputs = uploads, outputs
			slog.Info("audio storage ready", "backend", "disk",
				"upload_dir", uploads.Root(), "output_dir", outputs.Root())
		}
	}

	opts := []audiostore.Option{audiostore.WithMetrics(a.metrics)}
	if a.transcoder != nil {
		opts = append(opts, audiostore.WithTranscoder(a.transcoder))
	}
	a.audio = audiostore.New(a.uploads, a.outputs, opts...)
	return nil
}

func (a *App) initNATS(ctx context.Context, cfg config.NATSConfig) error {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("minestream"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	a.closers = append(a.closers, nc.Drain)

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}
	uploads, err := audiostore.NewNATSBlobs(ctx, js, cfg.UploadBucket)
	if err != nil {
		return err
	}
	outputs, err := audiostore.NewNATSBlobs(ctx, js, cfg.OutputBucket)
	if err != nil {
		return err
	}
	a.uploads, a.outputs = uploads, outputs
	a.checkers = append(a.checkers, health.Checker{
		Name: "storage",
		Check: func(context.Context) error {
			if s := nc.Status(); s != nats.CONNECTED {
				return fmt.Errorf("nats connection %s", s)
			}
			return nil
		},
	})
	slog.Info("audio storage ready", "backend", "nats",
		"upload_bucket", cfg.UploadBucket, "output_bucket", cfg.OutputBucket)
	return nil
}

// initServices assembles the orchestrator, the profile lifecycle service and
// the HTTP handler chain.
func (a *App) initServices() {
	m := a.cfg.Model
	orchOpts := []orchestrator.Option{
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithLanguage(m.Language),
	}
	if m.DefaultInstruction != "" {
		orchOpts = append(orchOpts, orchestrator.WithDefaultInstruction(m.DefaultInstruction))
	}
	if m.FallbackInstruction != "" {
		orchOpts = append(orchOpts, orchestrator.WithFallbackInstruction(m.FallbackInstruction))
	}
	a.orch = orchestrator.New(a.backend, a.profiles, a.audio, orchOpts...)
	a.voices = cloning.New(a.profiles, a.audio, cloning.WithMetrics(a.metrics))

	checkers := []health.Checker{{Name: "profiles", Check: a.profiles.Ping}}
	if p, ok := a.backend.(pinger); ok {
		checkers = append(checkers, health.Checker{Name: "backend", Check: p.Ping})
	}
	checkers = append(checkers, a.checkers...)

	mux := http.NewServeMux()
	api.New(a.orch, a.voices, a.audio,
		api.WithPrefix(a.cfg.Server.APIPrefix),
		api.WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes),
	).Register(mux)
	health.New(checkers...).WithDevice(a.orch.Device).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	a.handler = api.CORS(a.cfg.Server.CORSOrigins)(observe.Middleware(a.metrics)(mux))
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
// Generate requests already running on the backend finish before Run
// returns. A clean shutdown returns nil.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
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
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Model.Timeout.Std()+readHeaderTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: drain http: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Reload applies the hot-reloadable parts of a config change: seed voices
// added to the file are created at once. Other changes are logged.
func (a *App) Reload(ctx context.Context, d config.ConfigDiff) {
	if len(d.AddedVoices) > 0 {
		added := &config.Config{Voices: d.AddedVoices}
		n, err := voicestore.Seed(ctx, a.profiles, added.Seeds())
		if err != nil {
			slog.Error("config reload: seeding voices failed", "err", err)
		} else if n > 0 {
			slog.Info("config reload: seeded voices", "count", n)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes take effect after restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the backend, the profile store and the storage
// connection in that order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
