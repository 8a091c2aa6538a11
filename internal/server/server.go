/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the API, the refresh loop, and their dependencies
// into one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/rerun_calendar/internal/api"
	"github.com/friendsincode/rerun_calendar/internal/cache"
	"github.com/friendsincode/rerun_calendar/internal/config"
	"github.com/friendsincode/rerun_calendar/internal/db"
	"github.com/friendsincode/rerun_calendar/internal/eventbus"
	"github.com/friendsincode/rerun_calendar/internal/events"
	"github.com/friendsincode/rerun_calendar/internal/leadership"
	"github.com/friendsincode/rerun_calendar/internal/logging"
	"github.com/friendsincode/rerun_calendar/internal/refresh"
	"github.com/friendsincode/rerun_calendar/internal/scheduler"
	"github.com/friendsincode/rerun_calendar/internal/storage"
	"github.com/friendsincode/rerun_calendar/internal/store"
	"github.com/friendsincode/rerun_calendar/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	cache     *cache.Cache
	bus       *events.Bus
	scheduler *scheduler.Service
	forwarder *eventbus.Forwarder
	refresher *refresh.Refresher
	election  *leadership.Election

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}
	for _, warn := range cfg.ProductionWarnings() {
		logger.Warn().Msg(warn)
	}

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		srv.Close()
		return nil, err
	}

	srv.router = srv.newRouter()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func (s *Server) newRouter() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logging.Component(s.logger, "http")))
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("reruncal-api"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Get("/healthz", s.handleHealthz)
	api.New([]byte(s.cfg.JWTSigningKey), s.scheduler, s.cfg.APIRatePerSec, logging.Component(s.logger, "api")).Routes(router)
	return router
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Calendar data is per-token; feeds may still be cached.
		if strings.HasPrefix(r.URL.Path, "/api/") && !strings.HasSuffix(r.URL.Path, "/ical") {
			w.Header().Set("Cache-Control", "no-store")
		}
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request through zerolog.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := `{"status":"ok"}`
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
		status = http.StatusServiceUnavailable
		body = `{"status":"degraded","database":"unreachable"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	s.scheduler = scheduler.New(store.New(database, logging.Component(s.logger, "store")), logging.Component(s.logger, "scheduler"))
	s.scheduler.SetBus(s.bus)

	if s.cfg.CacheEnabled {
		s.cache = cache.New(cache.Config{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			RunTTL:        s.cfg.CacheTTL,
		}, s.logger)
		s.DeferClose(s.cache.Close)
		s.scheduler.SetCache(s.cache)
	}

	objects, err := storage.FromConfig(context.Background(), s.cfg, logging.Component(s.logger, "storage"))
	if err != nil {
		return fmt.Errorf("init feed storage: %w", err)
	}
	if objects != nil {
		s.scheduler.SetObjectStore(objects)
	}

	if s.cfg.NATSURL != "" {
		fwd, err := eventbus.Connect(eventbus.DefaultNATSConfig(s.cfg.NATSURL), s.bus, logging.Component(s.logger, "eventbus"))
		if err != nil {
			s.logger.Warn().Err(err).Msg("nats unavailable, events stay in process")
		} else {
			s.forwarder = fwd
			s.DeferClose(fwd.Close)
		}
	}

	if s.cfg.PlansDir != "" {
		refresher, err := refresh.New(s.scheduler, refresh.Config{
			PlansDir: s.cfg.PlansDir,
			Cron:     s.cfg.RefreshCron,
			Watch:    true,
		}, logging.Component(s.logger, "refresh"))
		if err != nil {
			return err
		}
		s.refresher = refresher

		if s.cfg.LeaderElection {
			client, err := leadership.Connect(context.Background(), s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB)
			if err != nil {
				return err
			}
			s.DeferClose(client.Close)
			s.election = leadership.New(leadership.NewRedisLease(client, ""), leadership.Config{}, logging.Component(s.logger, "leadership"))
			refresher.SetGate(s.election)
		}
	}

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	if s.forwarder == nil && s.refresher == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.forwarder != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.forwarder.Run(ctx)
		}()
	}

	if s.election != nil {
		s.election.Start(ctx)
	}

	if s.refresher != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("plan refresh exited")
			}
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil

	if s.election != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.election.Stop(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("leader election stop failed")
		}
	}
}

// MetricsServer serves Prometheus metrics on its own listener.
func MetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
