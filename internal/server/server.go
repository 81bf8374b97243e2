// SPDX-License-Identifier: AGPL-3.0-only

// Package server implements the HTTP surface of §6.1: chat and
// streaming endpoints, the OpenAI-compatible completions bridge, and
// masked config CRUD, all routed with chi. Grounded on
// jolks-mcp-cron/internal/server.MCPServer's http.Server lifecycle
// (Start spawns ListenAndServe in a goroutine, Stop is idempotent
// under a mutex and shuts down with a bounded timeout), generalized
// from that MCP-tool server to a plain REST+SSE one since the tool
// surface this runtime exposes to a model lives in internal/skills,
// not in the transport layer.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bigduu/Bamboo/internal/agentloop"
	"github.com/bigduu/Bamboo/internal/config"
	"github.com/bigduu/Bamboo/internal/errors"
	"github.com/bigduu/Bamboo/internal/eventbus"
	"github.com/bigduu/Bamboo/internal/logging"
	"github.com/bigduu/Bamboo/internal/runstate"
	"github.com/bigduu/Bamboo/internal/sessionstore"
)

// ConfigStore is the narrow persistence contract the config CRUD
// handlers need: read the live config, apply an update, and persist
// it. Satisfied by a thin wrapper around internal/config that the
// caller (cmd/bamboo/main.go) constructs, kept as an interface here
// so this package never has to know the config file's on-disk path.
type ConfigStore interface {
	Current() *config.Config
	Section(name string) (interface{}, error)
	Update(section string, incoming *config.Config) (*config.Config, error)
	Reload() (*config.Config, error)
}

// Server is the HTTP surface: one chi.Router, backed by the same
// session store, event bus, and run registry the WebSocket gateway
// uses, so a chat started over HTTP and one started over a socket
// share identical agent-loop semantics.
type Server struct {
	Store    *sessionstore.Store
	Bus      *eventbus.Bus
	Router   *eventbus.Router
	Runs     *runstate.Registry
	Loop     *agentloop.Loop
	LoopOpts agentloop.Options
	Config   ConfigStore

	httpServer *http.Server
	log        *logging.Logger

	shutdownMu     sync.Mutex
	isShuttingDown bool
}

// New builds a Server. It does not start listening; call Start.
func New(store *sessionstore.Store, bus *eventbus.Bus, router *eventbus.Router, runs *runstate.Registry, loop *agentloop.Loop, opts agentloop.Options, cfgStore ConfigStore) *Server {
	return &Server{
		Store:    store,
		Bus:      bus,
		Router:   router,
		Runs:     runs,
		Loop:     loop,
		LoopOpts: opts,
		Config:   cfgStore,
		log:      logging.GetDefaultLogger().WithField("component", "server"),
	}
}

func (s *Server) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.Config != nil && s.Config.Current().Server.CORS {
		r.Use(corsMiddleware)
	}

	r.Get("/health", s.getHealth)
	r.Post("/chat", s.postChat)
	r.Get("/stream/{session_id}", s.getStream)
	r.Get("/history/{session_id}", s.getHistory)
	r.Post("/stop/{session_id}", s.withAdminAuth(s.postStop))
	r.Post("/v1/chat/completions", s.postCompletions)

	r.Get("/config", s.getConfig)
	r.Post("/config", s.withAdminAuth(s.postConfig))
	r.Get("/config/{section}", s.getConfigSection)
	r.Post("/config/{section}", s.withAdminAuth(s.postConfigSection))
	r.Post("/config/reload", s.withAdminAuth(s.postConfigReload))

	return r
}

// Start binds addr and serves in the background. It returns once the
// listener goroutine has been launched, not once the server exits.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.handler()}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		if err := s.Stop(); err != nil {
			s.log.Errorf("error stopping http server: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down within a bounded window. Safe to call
// more than once.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.isShuttingDown {
		return nil
	}
	s.isShuttingDown = true

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Internal(fmt.Errorf("error shutting down http server: %w", err))
	}
	return nil
}
