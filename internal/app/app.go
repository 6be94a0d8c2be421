// Package app wires the dectalkbot subsystems into a running bot.
//
// The App struct owns the full lifecycle: New opens storage, builds the
// speech engine, the voice session manager and the message orchestrator and
// attaches them to the Discord gateway; Run serves the gateway and the HTTP
// endpoints; Shutdown tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithGateway,
// WithSynthesizer, WithPersister). When an option is not provided, New
// creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dectalkbot/internal/config"
	"github.com/MrWong99/dectalkbot/internal/discord"
	"github.com/MrWong99/dectalkbot/internal/discord/commands"
	"github.com/MrWong99/dectalkbot/internal/health"
	"github.com/MrWong99/dectalkbot/internal/observe"
	"github.com/MrWong99/dectalkbot/internal/orchestrator"
	"github.com/MrWong99/dectalkbot/internal/resilience"
	"github.com/MrWong99/dectalkbot/internal/session"
	"github.com/MrWong99/dectalkbot/internal/store"
	"github.com/MrWong99/dectalkbot/pkg/audio"
	"github.com/MrWong99/dectalkbot/pkg/provider/tts"
	"github.com/MrWong99/dectalkbot/pkg/provider/tts/dectalk"
)

// shutdownTimeout bounds the HTTP server drain when Run returns.
const shutdownTimeout = 5 * time.Second

// Gateway is the chat platform connection. *discord.Bot implements it.
type Gateway interface {
	Platform() audio.Platform
	Roster() orchestrator.Roster
	Reactor() orchestrator.Reactor
	Router() *discord.CommandRouter
	Permissions() *discord.PermissionChecker
	Attach(messages discord.MessageHandler, voice discord.VoiceSessions)
	Ready() bool
	Run(ctx context.Context) error
	Close() error
}

var _ Gateway = (*discord.Bot)(nil)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	registry       *config.Registry
	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	persister store.Persister
	voices    *store.VoiceStore
	mutes     *store.MuteStore
	prefixes  *store.PrefixStore
	synth     tts.Provider
	guard     *resilience.TTSGuard
	gateway   Gateway
	sessions  *session.Manager
	orch      *orchestrator.Orchestrator

	checkers []health.Checker

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGateway injects a gateway instead of creating a Discord bot.
func WithGateway(g Gateway) Option {
	return func(a *App) { a.gateway = g }
}

// WithSynthesizer injects a speech engine instead of creating a DECtalk
// provider. The circuit breaker is still applied.
func WithSynthesizer(p tts.Provider) Option {
	return func(a *App) { a.synth = p }
}

// WithPersister injects the storage backend instead of opening the one
// selected by the config.
func WithPersister(p store.Persister) Option {
	return func(a *App) { a.persister = p }
}

// WithRegistry replaces the storage backend registry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads adjust the log level.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It performs all
// initialisation synchronously; the gateway is not connected until Run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		a.registry.RegisterStorage(config.StoragePostgres, openPostgres)
	}

	ok := false
	defer func() {
		if !ok {
			a.runClosers()
		}
	}()

	// ── 1. Stores ────────────────────────────────────────────────────────
	if err := a.initStores(ctx); err != nil {
		return nil, fmt.Errorf("app: init stores: %w", err)
	}

	// ── 2. Speech engine ─────────────────────────────────────────────────
	if err := a.initSynthesizer(); err != nil {
		return nil, fmt.Errorf("app: init synthesizer: %w", err)
	}

	// ── 3. Gateway ───────────────────────────────────────────────────────
	if err := a.initGateway(ctx); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 4. Sessions + orchestrator ───────────────────────────────────────
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}

	// ── 5. Slash commands ────────────────────────────────────────────────
	router := a.gateway.Router()
	commands.NewVoiceCommands(a.voices, a.guard).Register(router)
	commands.NewModerationCommands(a.gateway.Permissions(), a.mutes, a.prefixes).Register(router)

	ok = true
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStores opens the persistence backend and loads the three stores.
func (a *App) initStores(ctx context.Context) error {
	if a.persister == nil {
		p, closeFn, err := a.registry.CreateStorage(ctx, a.cfg.Storage)
		if err != nil {
			return err
		}
		a.persister = p
		a.closers = append(a.closers, func() error {
			closeFn()
			return nil
		})
		slog.Info("storage opened", "backend", a.cfg.Storage.Backend)
	}
	p := store.Metered(a.persister, a.metrics)

	def, err := tts.LookupPreset(a.cfg.TTS.DefaultPreset)
	if err != nil {
		return err
	}
	if a.voices, err = store.NewVoiceStore(ctx, p, def); err != nil {
		return err
	}
	if a.mutes, err = store.NewMuteStore(ctx, p); err != nil {
		return err
	}
	if a.prefixes, err = store.NewPrefixStore(ctx, p, a.cfg.TTS.Prefix); err != nil {
		return err
	}
	slog.Info("stores loaded", "voices", a.voices.Len())
	return nil
}

// initSynthesizer creates the DECtalk provider unless one was injected and
// wraps it in the circuit breaker.
func (a *App) initSynthesizer() error {
	if a.synth == nil {
		engine, err := dectalk.New(a.cfg.TTS.Binary,
			dectalk.WithWorkDir(a.cfg.TTS.WorkDir),
			dectalk.WithTimeout(a.cfg.TTS.Timeout),
			dectalk.WithMaxConcurrent(a.cfg.TTS.MaxConcurrent),
		)
		if err != nil {
			return err
		}
		a.synth = engine
		a.checkers = append(a.checkers, health.Checker{Name: "engine", Check: engine.Check})
	}

	a.guard = resilience.NewTTSGuard(a.synth, resilience.CircuitBreakerConfig{
		Name:         "dectalk",
		MaxFailures:  a.cfg.Resilience.MaxFailures,
		ResetTimeout: a.cfg.Resilience.ResetTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
			slog.Warn("speech engine circuit breaker changed state", "breaker", name, "from", from, "to", to)
		},
	})
	breaker := a.guard.Breaker()
	a.checkers = append(a.checkers, health.Flag("breaker",
		func() bool { return breaker.State() != resilience.StateOpen },
		"speech engine circuit breaker is open",
	))
	return nil
}

// initGateway creates the Discord bot unless one was injected.
func (a *App) initGateway(ctx context.Context) error {
	if a.gateway == nil {
		bot, err := discord.New(ctx, discord.Config{
			Token:   a.cfg.Discord.Token,
			GuildID: a.cfg.Discord.GuildID,
			Owners:  a.cfg.Discord.Owners,
		})
		if err != nil {
			return err
		}
		a.gateway = bot
	}
	a.closers = append(a.closers, a.gateway.Close)
	a.checkers = append(a.checkers, health.Flag("discord", a.gateway.Ready, "gateway not connected"))
	return nil
}

// initPipeline builds the session manager and the orchestrator and attaches
// them to the gateway.
func (a *App) initPipeline() error {
	sessions, err := session.New(session.Config{
		Platform:    a.gateway.Platform(),
		MaxPending:  a.cfg.TTS.MaxPendingPerGuild,
		JoinTimeout: a.cfg.TTS.JoinTimeout,
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}
	a.sessions = sessions
	a.closers = append(a.closers, sessions.Close)

	orch, err := orchestrator.New(orchestrator.Config{
		Prefixes:    a.prefixes,
		Mutes:       a.mutes,
		Voices:      a.voices,
		Synthesizer: a.guard,
		Sessions:    sessions,
		Roster:      a.gateway.Roster(),
		Reactor:     a.gateway.Reactor(),
		Metrics:     a.metrics,
		Settings:    settingsFrom(a.cfg),
	})
	if err != nil {
		return err
	}
	a.orch = orch

	a.gateway.Attach(orch, sessions)
	return nil
}

// openPostgres is the storage factory of the postgres backend.
func openPostgres(ctx context.Context, cfg config.StorageConfig) (store.Persister, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	p := store.NewPostgresPersister(pool)
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return p, pool.Close, nil
}

func settingsFrom(cfg *config.Config) orchestrator.Settings {
	return orchestrator.Settings{
		MaxLength:  cfg.TTS.LengthCap(),
		TargetPeak: cfg.TTS.TargetPeak,
		Privileged: slices.Clone(cfg.Discord.Owners),
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the voice session manager.
func (a *App) Sessions() *session.Manager { return a.sessions }

// Orchestrator returns the message orchestrator.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// ─── Config reload ───────────────────────────────────────────────────────────

// Watch starts watching the config file at path and applies changes with
// [App.ApplyConfig]. The watcher is stopped by Shutdown.
func (a *App) Watch(path string, opts ...config.WatcherOption) error {
	w, err := config.NewWatcher(path, a.ApplyConfig, opts...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// ApplyConfig applies the hot-reloadable part of a config change: the log
// level, the length cap, the normalisation target and the owner list.
// Everything else is logged as requiring a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.SettingsChanged {
		if err := a.orch.SetSettings(settingsFrom(new)); err != nil {
			slog.Warn("config reload: settings rejected", "err", err)
		} else {
			a.gateway.Permissions().SetOwners(new.Discord.Owners)
			slog.Info("config reload: settings applied",
				"max_length", new.TTS.MaxLength,
				"target_peak", new.TTS.TargetPeak,
				"owners", len(new.Discord.Owners),
			)
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: some changes need a restart", "fields", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving /healthz, /readyz and, when
// configured, /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.checkers...).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	return observe.Middleware(a.metrics)(mux)
}

// Run listens on the configured address and calls [App.Serve].
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the gateway and the HTTP server on ln until ctx is cancelled or
// either fails. It returns ctx.Err() after a clean stop.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.gateway.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("app running")
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order: the config
// watcher, the voice sessions, the gateway and the storage backend. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range slices.Backward(a.closers) {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
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

// runClosers releases whatever New managed to open before failing.
func (a *App) runClosers() {
	for _, closer := range slices.Backward(a.closers) {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}
