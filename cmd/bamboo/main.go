// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bigduu/Bamboo/internal/agentloop"
	"github.com/bigduu/Bamboo/internal/authn"
	"github.com/bigduu/Bamboo/internal/config"
	"github.com/bigduu/Bamboo/internal/eventbus"
	"github.com/bigduu/Bamboo/internal/gateway"
	"github.com/bigduu/Bamboo/internal/logging"
	"github.com/bigduu/Bamboo/internal/provider"
	"github.com/bigduu/Bamboo/internal/runstate"
	"github.com/bigduu/Bamboo/internal/scheduler"
	"github.com/bigduu/Bamboo/internal/server"
	"github.com/bigduu/Bamboo/internal/sessionstore"
	"github.com/bigduu/Bamboo/internal/singleton"
	"github.com/bigduu/Bamboo/internal/skills"
	"github.com/bigduu/Bamboo/internal/sleep"
	"github.com/bigduu/Bamboo/internal/store"
	"github.com/bigduu/Bamboo/internal/toolexec"
	"github.com/bigduu/Bamboo/internal/transformer"
)

var (
	configPath = flag.String("config", "", "Path to the JSON config file (default: ~/.bamboo/config.json)")
	version    = flag.Bool("version", false, "Show version information and exit")
)

const versionString = "0.1.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("bamboo version %s\n", versionString)
		os.Exit(0)
	}

	path := *configPath
	if path == "" {
		path = "~/.bamboo/config.json"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := createApp(path, flag.Args())
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}

	if err := app.Start(ctx); err != nil {
		log.Fatalf("failed to start application: %v", err)
	}

	waitForShutdown(cancel, app)
}

// Application wires every subsystem into one runnable process: the
// config store, session persistence, skill catalogue, per-provider
// LLM clients, the agent loop and its two front doors (a
// cron-triggered Runner and an event-driven Dispatcher), the
// scheduler, and the HTTP and WebSocket surfaces. Grounded on
// jolks-mcp-cron/cmd/mcp-cron/main.go's Application/createApp/
// Start/Stop/waitForShutdown shape.
type Application struct {
	live *config.Live
	log  *logging.Logger

	sqlStore *store.SQLiteStore
	sessions *sessionstore.Store
	skillMgr *skills.Manager
	toolExec *toolexec.Executor

	providers map[string]*provider.Provider
	loop      *agentloop.Loop
	runner    *agentloop.Runner

	bus    *eventbus.Bus
	router *eventbus.Router
	runs   *runstate.Registry

	sched      *scheduler.Scheduler
	gatewayH   *gateway.Handler
	httpServer *server.Server

	dispatchCancel context.CancelFunc
	watchCancel    context.CancelFunc

	gwServer *http.Server

	lock         *singleton.Lock
	sleepRelease func()
}

func createApp(path string, args []string) (*Application, error) {
	cfg, err := config.Load(path, args)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	live := config.NewLive(cfg, path, args)

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	logging.SetDefaultLogger(logger)

	sessionsRoot := config.ExpandHome(cfg.Storage.Path)
	if err := os.MkdirAll(sessionsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	dbPath := filepath.Join(sessionsRoot, "index.db")

	lock, acquired, err := singleton.TryAcquire(dbPath)
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("another bamboo instance already holds the lock for %s", sessionsRoot)
	}

	sqlStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}

	sessions := sessionstore.New(sessionsRoot, 256, sqlStore)

	skillsRoot := config.ExpandHome(filepath.Join(filepath.Dir(sessionsRoot), "skills"))
	if len(cfg.Skills.Directories) > 0 {
		skillsRoot = config.ExpandHome(cfg.Skills.Directories[0])
	}
	skillMgr := skills.NewManager(skillsRoot)
	if cfg.Skills.Enabled {
		if err := skillMgr.LoadAll(); err != nil {
			logger.Warnf("initial skill load failed: %v", err)
		}
	}

	toolExec := toolexec.New()

	providers, err := buildProviders(cfg.LLM, config.ExpandHome(filepath.Join(filepath.Dir(sessionsRoot), "auth")))
	if err != nil {
		return nil, fmt.Errorf("configure providers: %w", err)
	}
	defaultProvider, ok := providers[cfg.LLM.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("default_provider %q is not among the configured providers", cfg.LLM.DefaultProvider)
	}

	loop := agentloop.New(defaultProvider, skillMgr, toolExec, nil)
	loopOpts := agentloop.Options{
		MaxRounds:      cfg.Agent.MaxRounds,
		PerCallTimeout: time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
		SystemPrompt:   cfg.Agent.SystemPrompt,
	}
	runner := agentloop.NewRunner(loop, sessions, loopOpts)

	bus := eventbus.New(256)
	router := eventbus.NewRouter(bus)
	runs := runstate.New(runstate.CancelPrior)

	sched := scheduler.NewScheduler(&cfg.Scheduler)
	sched.SetTaskExecutor(scheduler.NewAgentRunExecutor(runner, sqlStore))
	sched.SetTaskStore(sqlStore)

	var gatewayH *gateway.Handler
	if cfg.Gateway.Enabled {
		heartbeat := time.Duration(cfg.Gateway.HeartbeatIntervalSec) * time.Second
		gatewayH = gateway.New(sessions, bus, runs, sched, heartbeat)
	}

	httpServer := server.New(sessions, bus, router, runs, loop, loopOpts, live)

	return &Application{
		live:       live,
		log:        logger,
		sqlStore:   sqlStore,
		sessions:   sessions,
		skillMgr:   skillMgr,
		toolExec:   toolExec,
		providers:  providers,
		loop:       loop,
		runner:     runner,
		bus:        bus,
		router:     router,
		runs:       runs,
		sched:      sched,
		gatewayH:   gatewayH,
		httpServer: httpServer,
		lock:       lock,
	}, nil
}

// buildProviders constructs one *provider.Provider per configured,
// enabled LLM backend, mapping each AuthConfig to an authn.Authenticator
// variant and each provider id to the transformer that speaks its
// wire format. Anthropic-shaped backends are recognized by id since
// §6.4's schema carries no separate "kind" field, mirroring how the
// teacher selected between its two hardcoded provider constructors by
// name.
func buildProviders(cfg config.LLMConfig, authCacheDir string) (map[string]*provider.Provider, error) {
	out := make(map[string]*provider.Provider, len(cfg.Providers))
	for id, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		auth, err := buildAuthenticator(id, pc.Auth, authCacheDir)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		xform := transformerFor(id)
		out[id] = provider.New(provider.Config{
			ID:             id,
			Name:           id,
			BaseURL:        pc.BaseURL,
			Headers:        pc.Headers,
			TimeoutSeconds: pc.TimeoutSeconds,
		}, xform, auth)
	}
	return out, nil
}

func transformerFor(id string) transformer.Transformer {
	if id == "anthropic" {
		return transformer.Anthropic{}
	}
	return transformer.OpenAI{}
}

func buildAuthenticator(id string, ac config.AuthConfig, cacheDir string) (authn.Authenticator, error) {
	switch ac.Type {
	case "", "none":
		return authn.None{}, nil
	case "bearer":
		return authn.StaticBearer{Token: ac.Key}, nil
	case "api_key":
		header := ac.Header
		if header == "" {
			header = "x-api-key"
		}
		return authn.StaticKey{Header: header, Prefix: ac.Prefix, Key: ac.Key}, nil
	case "device_code":
		return authn.NewDeviceCode(authn.DeviceCodeConfig{
			DeviceCodeURL: ac.DeviceCodeURL,
			TokenURL:      ac.TokenURL,
			ExchangeURL:   ac.ExchangeURL,
			ClientID:      ac.ClientID,
			Scope:         ac.Scope,
			CachePath:     filepath.Join(cacheDir, id+".json"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", ac.Type)
	}
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Level)
	if cfg.File != "" {
		return logging.FileLogger(config.ExpandHome(cfg.File), level)
	}
	return logging.New(logging.Options{Level: level}), nil
}

// Start brings up the scheduler, the skill watcher, and both network
// surfaces, then returns once each has bound successfully.
func (a *Application) Start(ctx context.Context) error {
	cfg := a.live.Current()

	if cfg.Skills.Enabled && cfg.Skills.AutoReload {
		watchCtx, cancel := context.WithCancel(ctx)
		a.watchCancel = cancel
		go func() {
			if err := a.skillMgr.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
				a.log.Warnf("skill watcher exited: %v", err)
			}
		}()
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	a.dispatchCancel = cancel
	dispatcher := agentloop.NewDispatcher(a.loop, a.sessions, a.router, a.runs, agentloop.Options{
		MaxRounds:      cfg.Agent.MaxRounds,
		PerCallTimeout: time.Duration(cfg.Agent.TimeoutSeconds) * time.Second,
		SystemPrompt:   cfg.Agent.SystemPrompt,
	})
	sub := a.bus.Subscribe()
	go dispatcher.Run(dispatchCtx, sub.Events)

	if cfg.Scheduler.Enabled {
		a.sched.Start(ctx)
		if err := a.sched.LoadTasks(); err != nil {
			a.log.Errorf("failed to load persisted tasks: %v", err)
		}
		if release, err := sleep.Prevent(); err != nil {
			a.log.Warnf("could not prevent system sleep, scheduled tasks may be delayed: %v", err)
		} else {
			a.sleepRelease = release
		}
	}

	if a.gatewayH != nil {
		mux := http.NewServeMux()
		mux.Handle("/", a.gatewayH)
		a.gwServer = &http.Server{Addr: cfg.Gateway.Bind, Handler: mux}
		go func() {
			if err := a.gwServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Errorf("gateway server error: %v", err)
			}
		}()
		a.log.Infof("gateway listening on %s", cfg.Gateway.Bind)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := a.httpServer.Start(ctx, addr); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.log.Infof("http server listening on %s", addr)

	return nil
}

// Stop tears down every subsystem in the reverse order Start brought
// them up, best-effort: it collects but does not stop on individual
// errors so shutdown always runs to completion.
func (a *Application) Stop() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.dispatchCancel != nil {
		a.dispatchCancel()
	}

	if a.gwServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		record(a.gwServer.Shutdown(shutdownCtx))
		cancel()
	}

	record(a.httpServer.Stop())

	if a.sched != nil {
		record(a.sched.Stop())
	}
	if a.sleepRelease != nil {
		a.sleepRelease()
	}

	record(a.sqlStore.Close())

	if a.lock != nil {
		record(a.lock.Release())
	}

	return firstErr
}

func waitForShutdown(cancel context.CancelFunc, app *Application) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	<-signalCh
	app.log.Infof("received termination signal, shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		if err := app.Stop(); err != nil {
			app.log.Errorf("error during shutdown: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		app.log.Infof("graceful shutdown completed")
	case <-shutdownCtx.Done():
		app.log.Warnf("shutdown timed out")
	}
}
